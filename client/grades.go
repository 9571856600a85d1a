package client

import (
	"context"
	"net/url"
	"strconv"

	"github.com/russross/gradewatch/types"
)

type GradeFilter struct {
	ClassID       int64
	ExerciseID    int64
	StudentID     int64
	PublishedOnly bool
}

func (c *Client) ListGrades(ctx context.Context, filter GradeFilter) ([]*types.GradeListItem, error) {
	params := make(url.Values)
	if filter.ClassID > 0 {
		params.Set("class_id", strconv.FormatInt(filter.ClassID, 10))
	}
	if filter.ExerciseID > 0 {
		params.Set("exercise_id", strconv.FormatInt(filter.ExerciseID, 10))
	}
	if filter.StudentID > 0 {
		params.Set("student_id", strconv.FormatInt(filter.StudentID, 10))
	}
	if filter.PublishedOnly {
		params.Set("published_only", "true")
	}
	list := []*types.GradeListItem{}
	if err := c.getObject(ctx, "/grades", params, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// MyGrades lists the grades of the authenticated student.
func (c *Client) MyGrades(ctx context.Context) ([]*types.StudentGrade, error) {
	list := []*types.StudentGrade{}
	if err := c.getObject(ctx, "/grades/me", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// PublishGrade makes a grade visible to its student.
func (c *Client) PublishGrade(ctx context.Context, gradeID int64) error {
	return c.postObject(ctx, idPath("/grades/%d/publish", gradeID), nil, nil)
}
