package client

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/russross/gradewatch/types"
)

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("msgtemplate", func(fl validator.FieldLevel) bool {
		return types.ValidateTemplate(fl.Field().String()) == nil
	}); err != nil {
		panic(err)
	}
	return v
}

// checkRequest validates a request struct against its validate tags.
// The returned error wraps ErrInvalidRequest.
func (c *Client) checkRequest(req interface{}) error {
	err := c.validate.Struct(req)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Wrap(ErrInvalidRequest, err.Error())
	}

	var msgs []string
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "msgtemplate":
			msgs = append(msgs, types.ValidateTemplate(fmt.Sprint(fe.Value())).Error())
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s needs at least %s entries", fe.Field(), fe.Param()))
		case "gt":
			msgs = append(msgs, fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param()))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
		case "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param()))
		case "gtfield":
			msgs = append(msgs, fmt.Sprintf("%s must be after %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s fails %s %s", fe.Field(), fe.Tag(), fe.Param()))
		}
	}
	return errors.Wrap(ErrInvalidRequest, strings.Join(msgs, "; "))
}
