package client

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidRequest marks requests rejected before reaching the server.
var ErrInvalidRequest = errors.New("invalid request")

// APIError is a non-2xx response from the backend.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// ProtocolError is a response that breaks the API contract.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Msg
}

func newAPIError(method, path string, resp *http.Response, body []byte) *APIError {
	return &APIError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Detail:     parseDetail(body),
	}
}

// parseDetail pulls the human-readable message out of an error body.
// The backend answers {"detail": "..."} or, for validation errors,
// {"detail": [{"msg": "..."}, ...]}; anything else is returned as text.
func parseDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Detail) > 0 {
		var s string
		if err := json.Unmarshal(envelope.Detail, &s); err == nil {
			return s
		}
		var list []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(envelope.Detail, &list); err == nil {
			var msgs []string
			for _, elt := range list {
				if elt.Msg != "" {
					msgs = append(msgs, elt.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
		return string(envelope.Detail)
	}
	return strings.TrimSpace(string(body))
}

// IsTransient reports whether err is worth retrying on the next poll tick:
// network failures and server-side (5xx) errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsRejection reports whether the server refused the request (4xx),
// or the request never left because it was invalid.
func IsRejection(err error) bool {
	if errors.Is(err, ErrInvalidRequest) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
	}
	return false
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
