package client

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/russross/gradewatch/types"
)

// SubmissionFilter narrows ListSubmissions; zero fields are ignored.
type SubmissionFilter struct {
	ExerciseID int64
	StudentID  int64
}

// SubmitCode sends source code for grading. The returned submission is
// always queued or running; grading continues on the server.
func (c *Client) SubmitCode(ctx context.Context, exerciseID int64, code string) (*types.Submission, error) {
	if strings.TrimSpace(code) == "" {
		return nil, errors.Wrap(ErrInvalidRequest, "code is empty")
	}
	return c.submit(ctx, exerciseID, func(w *multipart.Writer) error {
		return w.WriteField("code", code)
	})
}

// SubmitFile uploads a file for grading.
func (c *Client) SubmitFile(ctx context.Context, exerciseID int64, name string, r io.Reader) (*types.Submission, error) {
	if name == "" {
		return nil, errors.Wrap(ErrInvalidRequest, "file name is empty")
	}
	return c.submit(ctx, exerciseID, func(w *multipart.Writer) error {
		part, err := w.CreateFormFile("file", name)
		if err != nil {
			return err
		}
		_, err = io.Copy(part, r)
		return err
	})
}

func (c *Client) submit(ctx context.Context, exerciseID int64, addPayload func(*multipart.Writer) error) (*types.Submission, error) {
	if exerciseID < 1 {
		return nil, errors.Wrapf(ErrInvalidRequest, "invalid exercise id %d", exerciseID)
	}

	buf := new(bytes.Buffer)
	w := multipart.NewWriter(buf)
	if err := w.WriteField("exercise_id", strconv.FormatInt(exerciseID, 10)); err != nil {
		return nil, errors.Wrap(err, "encoding submission")
	}
	if err := addPayload(w); err != nil {
		return nil, errors.Wrap(err, "encoding submission")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "encoding submission")
	}

	sub := new(types.Submission)
	upload := &multipartBody{contentType: w.FormDataContentType(), data: buf}
	if err := c.postObject(ctx, "/submissions", upload, sub); err != nil {
		return nil, err
	}
	if sub.ID < 1 {
		return nil, &ProtocolError{Msg: "submission response carries no id"}
	}
	if sub.Status.Terminal() || !sub.Status.Valid() {
		return nil, &ProtocolError{Msg: "new submission " + strconv.FormatInt(sub.ID, 10) + " reported status " + string(sub.Status)}
	}
	return sub, nil
}

func (c *Client) GetSubmission(ctx context.Context, id int64) (*types.Submission, error) {
	sub := new(types.Submission)
	if err := c.getObject(ctx, idPath("/submissions/%d", id), nil, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// GetSubmissionStatus reads the current grading status. It is never cached.
func (c *Client) GetSubmissionStatus(ctx context.Context, id int64) (*types.SubmissionStatusReply, error) {
	reply := new(types.SubmissionStatusReply)
	if err := c.getObject(ctx, idPath("/submissions/%d/status", id), nil, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// GetSubmissionResults fetches the graded record: tests, LLM feedback, rubric, grade.
func (c *Client) GetSubmissionResults(ctx context.Context, id int64) (*types.SubmissionDetail, error) {
	detail := new(types.SubmissionDetail)
	if err := c.getObject(ctx, idPath("/submissions/%d/results", id), nil, detail); err != nil {
		return nil, err
	}
	return detail, nil
}

func (c *Client) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]*types.SubmissionListItem, error) {
	params := make(url.Values)
	if filter.ExerciseID > 0 {
		params.Set("exercise_id", strconv.FormatInt(filter.ExerciseID, 10))
	}
	if filter.StudentID > 0 {
		params.Set("student_id", strconv.FormatInt(filter.StudentID, 10))
	}
	list := []*types.SubmissionListItem{}
	if err := c.getObject(ctx, "/submissions", params, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetSubmissionDiff returns a line diff of other's code against id's code,
// with "+", "-" and " " line prefixes. It is empty when nothing changed.
func (c *Client) GetSubmissionDiff(ctx context.Context, id, other int64) (string, error) {
	var diff string
	path := "/submissions/" + strconv.FormatInt(id, 10) + "/diff/" + strconv.FormatInt(other, 10)
	if err := c.getObject(ctx, path, nil, &diff); err != nil {
		return "", err
	}
	return diff, nil
}
