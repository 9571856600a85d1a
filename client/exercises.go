package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/pkg/errors"

	"github.com/russross/gradewatch/types"
)

// ExerciseFilter narrows ListExercises. Published filters when non-nil.
type ExerciseFilter struct {
	Published *bool
	Tags      string
}

func (c *Client) ListExercises(ctx context.Context, filter ExerciseFilter) ([]*types.Exercise, error) {
	params := make(url.Values)
	if filter.Published != nil {
		params.Set("published", strconv.FormatBool(*filter.Published))
	}
	if filter.Tags != "" {
		params.Set("tags", filter.Tags)
	}
	list := []*types.Exercise{}
	if err := c.getObject(ctx, "/exercises", params, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetExercise fetches one exercise; includeTests also loads its test cases.
func (c *Client) GetExercise(ctx context.Context, id int64, includeTests bool) (*types.Exercise, error) {
	params := make(url.Values)
	params.Set("include_tests", strconv.FormatBool(includeTests))
	exercise := new(types.Exercise)
	if err := c.getObject(ctx, idPath("/exercises/%d", id), params, exercise); err != nil {
		return nil, err
	}
	return exercise, nil
}

func (c *Client) CreateExercise(ctx context.Context, req *types.ExerciseCreate) (*types.Exercise, error) {
	if err := c.checkRequest(req); err != nil {
		return nil, err
	}
	if _, _, err := req.Weights(); err != nil {
		return nil, errors.Wrap(ErrInvalidRequest, err.Error())
	}
	exercise := new(types.Exercise)
	if err := c.postObject(ctx, "/exercises", req, exercise); err != nil {
		return nil, err
	}
	return exercise, nil
}

func (c *Client) PublishExercise(ctx context.Context, id int64, published bool) (*types.Exercise, error) {
	params := make(url.Values)
	params.Set("published", strconv.FormatBool(published))
	exercise := new(types.Exercise)
	if err := c.patchObject(ctx, idPath("/exercises/%d/publish", id), params, nil, exercise); err != nil {
		return nil, err
	}
	return exercise, nil
}

func (c *Client) AddTestCase(ctx context.Context, exerciseID int64, req *types.TestCaseCreate) (*types.TestCase, error) {
	if err := c.checkRequest(req); err != nil {
		return nil, err
	}
	tc := new(types.TestCase)
	if err := c.postObject(ctx, idPath("/exercises/%d/tests", exerciseID), req, tc); err != nil {
		return nil, err
	}
	return tc, nil
}

// ListExerciseLists returns a class's exercise lists with their exercises in order.
func (c *Client) ListExerciseLists(ctx context.Context, classID int64) ([]*types.ExerciseList, error) {
	list := []*types.ExerciseList{}
	if err := c.getObject(ctx, idPath("/exercise-lists/classes/%d/lists", classID), nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) CreateExerciseList(ctx context.Context, req *types.ExerciseListCreate) (*types.ExerciseList, error) {
	if err := c.checkRequest(req); err != nil {
		return nil, err
	}
	list := new(types.ExerciseList)
	if err := c.postObject(ctx, "/exercise-lists", req, list); err != nil {
		return nil, err
	}
	return list, nil
}

// AddListExercise places an exercise in a list and returns the updated list.
func (c *Client) AddListExercise(ctx context.Context, listID int64, req *types.ListExerciseAdd) (*types.ExerciseList, error) {
	if err := c.checkRequest(req); err != nil {
		return nil, err
	}
	list := new(types.ExerciseList)
	if err := c.postObject(ctx, idPath("/exercise-lists/%d/exercises", listID), req, list); err != nil {
		return nil, err
	}
	return list, nil
}

// RemoveListExercise takes an exercise out of a list. Without confirm the
// server refuses when the exercise already has submissions.
func (c *Client) RemoveListExercise(ctx context.Context, listID, exerciseID int64, confirm bool) error {
	params := make(url.Values)
	if confirm {
		params.Set("confirm", "true")
	}
	return c.deleteObject(ctx, fmt.Sprintf("/exercise-lists/%d/exercises/%d", listID, exerciseID), params)
}
