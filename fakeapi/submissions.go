package fakeapi

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-martini/martini"
	"github.com/martini-contrib/render"
	"github.com/pkg/errors"
	"github.com/russross/meddler"

	"github.com/russross/gradewatch/types"
)

const maxUpload = 10 << 20

func defaultGrade(sub *types.Submission) *Outcome {
	return &Outcome{
		Tests: []*types.TestResultDetail{
			{TestName: "test_compiles", Passed: true, Message: "ok"},
			{TestName: "test_output", Passed: true, Message: "ok"},
		},
		LLMScore: 90,
		Feedback: "Clear and correct solution.",
	}
}

// postSubmission handles POST /submissions, as multipart or JSON.
func (s *Server) postSubmission(w http.ResponseWriter, r *http.Request, tx *sql.Tx, render render.Render) {
	sub := &types.Submission{
		StudentID:   s.opts.StudentID,
		Status:      types.SubmissionQueued,
		SubmittedAt: time.Now(),
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var body struct {
			ExerciseID int64  `json:"exercise_id"`
			Code       string `json:"code"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxUpload)).Decode(&body); err != nil {
			s.loggedHTTPErrorf(w, http.StatusUnprocessableEntity, "error decoding submission: %v", err)
			return
		}
		sub.ExerciseID, sub.Code = body.ExerciseID, body.Code

	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			s.loggedHTTPErrorf(w, http.StatusUnprocessableEntity, "error parsing upload: %v", err)
			return
		}
		id, err := s.parseID(w, "exercise_id", r.FormValue("exercise_id"))
		if err != nil {
			return
		}
		sub.ExerciseID = id
		sub.Code = r.FormValue("code")

		if file, header, err := r.FormFile("file"); err == nil {
			contents, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				s.loggedHTTPErrorf(w, http.StatusBadRequest, "error reading upload: %v", err)
				return
			}
			sub.Code = string(contents)
			sub.FileName = header.Filename
			sub.FileSize = int64(len(contents))
			sub.ContentType = header.Header.Get("Content-Type")
		} else if err != http.ErrMissingFile {
			s.loggedHTTPErrorf(w, http.StatusBadRequest, "error reading upload: %v", err)
			return
		}

	default:
		s.loggedHTTPErrorf(w, http.StatusUnsupportedMediaType, "unsupported content type %q", mediaType)
		return
	}

	if strings.TrimSpace(sub.Code) == "" {
		s.loggedHTTPErrorf(w, http.StatusUnprocessableEntity, "either code or file is required")
		return
	}
	var title string
	if err := tx.QueryRow(`SELECT title FROM exercises WHERE id = ?`, sub.ExerciseID).Scan(&title); err != nil {
		s.loggedHTTPDBNotFoundError(w, "Exercise", err)
		return
	}
	if err := meddler.Insert(tx, "submissions", sub); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	s.log.WithField("submission", sub.ID).Debugf("queued submission for %q", title)
	render.JSON(http.StatusCreated, sub)
}

func (s *Server) getSubmissions(w http.ResponseWriter, r *http.Request, tx *sql.Tx, render render.Render) {
	where := ""
	args := []interface{}{}
	for _, name := range []string{"exercise_id", "student_id"} {
		if value := r.FormValue(name); value != "" {
			id, err := s.parseID(w, name, value)
			if err != nil {
				return
			}
			where, args = addWhereEq(where, args, name, id)
		}
	}

	list := []*types.SubmissionListItem{}
	if err := meddler.QueryAll(tx, &list, `SELECT id, exercise_id, student_id, status, submitted_at, file_name `+
		`FROM submissions`+where+` ORDER BY submitted_at DESC, id DESC`, args...); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, list)
}

func (s *Server) getSubmission(w http.ResponseWriter, tx *sql.Tx, params martini.Params, render render.Render) {
	id, err := s.parseID(w, "submission_id", params["submission_id"])
	if err != nil {
		return
	}
	sub := new(types.Submission)
	if err := meddler.Load(tx, "submissions", sub, id); err != nil {
		s.loggedHTTPDBNotFoundError(w, "Submission", err)
		return
	}
	render.JSON(http.StatusOK, sub)
}

// getSubmissionStatus handles GET /submissions/:submission_id/status.
// Each read moves the submission one step along queued, running, graded.
func (s *Server) getSubmissionStatus(w http.ResponseWriter, tx *sql.Tx, params martini.Params, render render.Render) {
	id, err := s.parseID(w, "submission_id", params["submission_id"])
	if err != nil {
		return
	}
	sub, err := s.advance(tx, id)
	if err != nil {
		s.loggedHTTPDBNotFoundError(w, "Submission", errors.Cause(err))
		return
	}
	render.JSON(http.StatusOK, statusReply(sub))
}

func statusReply(sub *types.Submission) *types.SubmissionStatusReply {
	return &types.SubmissionStatusReply{ID: sub.ID, Status: sub.Status, ErrorMessage: sub.ErrorMessage}
}

func (s *Server) advance(tx *sql.Tx, id int64) (*types.Submission, error) {
	sub := new(types.Submission)
	if err := meddler.Load(tx, "submissions", sub, id); err != nil {
		return nil, err
	}

	switch sub.Status {
	case types.SubmissionQueued:
		sub.Status = types.SubmissionRunning
	case types.SubmissionRunning:
		if err := s.grade(tx, sub); err != nil {
			return nil, err
		}
	default:
		return sub, nil
	}
	if err := meddler.Update(tx, "submissions", sub); err != nil {
		return nil, errors.Wrap(err, "updating submission")
	}
	return sub, nil
}

// grade records the outcome of a running submission and sets its final status.
func (s *Server) grade(tx *sql.Tx, sub *types.Submission) error {
	outcome := s.opts.Grade(sub)
	if outcome.Error != "" {
		sub.Status = types.SubmissionFailed
		sub.ErrorMessage = outcome.Error
		return nil
	}

	passed := 0
	for _, test := range outcome.Tests {
		if test.Passed {
			passed++
		}
		if _, err := tx.Exec(`INSERT INTO test_results (submission_id, test_name, passed, message, stdout, stderr) VALUES (?, ?, ?, ?, ?, ?)`,
			sub.ID, test.TestName, test.Passed, test.Message, test.Stdout, test.Stderr); err != nil {
			return errors.Wrap(err, "storing test result")
		}
	}
	if _, err := tx.Exec(`INSERT INTO llm_evaluations (submission_id, feedback, score, cached, created_at) VALUES (?, ?, ?, ?, ?)`,
		sub.ID, outcome.Feedback, outcome.LLMScore, false, time.Now().UTC()); err != nil {
		return errors.Wrap(err, "storing evaluation")
	}

	var testWeight, llmWeight float64
	if err := tx.QueryRow(`SELECT test_weight, llm_weight FROM exercises WHERE id = ?`, sub.ExerciseID).Scan(&testWeight, &llmWeight); err != nil {
		return errors.Wrap(err, "loading exercise weights")
	}

	llmScore := outcome.LLMScore
	final := llmScore
	var testScore *float64
	if len(outcome.Tests) > 0 {
		score := 100 * float64(passed) / float64(len(outcome.Tests))
		testScore = &score
		final = testWeight*score + llmWeight*llmScore
	}
	if _, err := tx.Exec(`INSERT INTO grades (submission_id, test_score, llm_score, final_score, late_penalty_applied, published) VALUES (?, ?, ?, ?, 0, 0)`,
		sub.ID, testScore, llmScore, final); err != nil {
		return errors.Wrap(err, "storing grade")
	}

	correctness := llmScore
	if testScore != nil {
		correctness = *testScore
	}
	rubric := []*types.RubricScoreDetail{
		{DimensionName: "correctness", DimensionWeight: testWeight, Score: correctness},
		{DimensionName: "style", DimensionWeight: llmWeight, Score: llmScore, Feedback: outcome.Feedback},
	}
	for _, elt := range rubric {
		if _, err := tx.Exec(`INSERT INTO rubric_scores (submission_id, dimension_name, dimension_weight, score, feedback) VALUES (?, ?, ?, ?, ?)`,
			sub.ID, elt.DimensionName, elt.DimensionWeight, elt.Score, elt.Feedback); err != nil {
			return errors.Wrap(err, "storing rubric score")
		}
	}

	sub.Status = types.SubmissionCompleted
	return nil
}

func (s *Server) getSubmissionResults(w http.ResponseWriter, tx *sql.Tx, params martini.Params, render render.Render) {
	id, err := s.parseID(w, "submission_id", params["submission_id"])
	if err != nil {
		return
	}
	detail := &types.SubmissionDetail{
		Submission:   new(types.Submission),
		TestResults:  []*types.TestResultDetail{},
		RubricScores: []*types.RubricScoreDetail{},
	}
	if err := meddler.Load(tx, "submissions", detail.Submission, id); err != nil {
		s.loggedHTTPDBNotFoundError(w, "Submission", err)
		return
	}

	if err := meddler.QueryAll(tx, &detail.TestResults, `SELECT id, test_name, passed, message, stdout, stderr `+
		`FROM test_results WHERE submission_id = ? ORDER BY id`, id); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	llm := new(types.LLMEvaluation)
	switch err := meddler.QueryRow(tx, llm, `SELECT id, feedback, score, cached, created_at `+
		`FROM llm_evaluations WHERE submission_id = ? ORDER BY id DESC LIMIT 1`, id); err {
	case nil:
		detail.LLMEvaluation = llm
	case sql.ErrNoRows:
	default:
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	grade := new(types.GradeDetail)
	switch err := meddler.QueryRow(tx, grade, `SELECT id, test_score, llm_score, final_score, late_penalty_applied, published `+
		`FROM grades WHERE submission_id = ?`, id); err {
	case nil:
		detail.Grade = grade
	case sql.ErrNoRows:
	default:
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if err := meddler.QueryAll(tx, &detail.RubricScores, `SELECT dimension_name, dimension_weight, score, feedback `+
		`FROM rubric_scores WHERE submission_id = ? ORDER BY id`, id); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	if passed, total := detail.Passed(); total > 0 {
		detail.OverallFeedback = fmt.Sprintf("Passed %d of %d tests.", passed, total)
		if detail.LLMEvaluation != nil && detail.LLMEvaluation.Feedback != "" {
			detail.OverallFeedback += " " + detail.LLMEvaluation.Feedback
		}
	}
	render.JSON(http.StatusOK, detail)
}
