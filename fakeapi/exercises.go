package fakeapi

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/go-martini/martini"
	"github.com/martini-contrib/binding"
	"github.com/martini-contrib/render"
	"github.com/pkg/errors"
	"github.com/russross/meddler"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/russross/gradewatch/types"
)

var (
	bindExerciseCreate     = binding.Json(types.ExerciseCreate{})
	bindTestCaseCreate     = binding.Json(types.TestCaseCreate{})
	bindExerciseListCreate = binding.Json(types.ExerciseListCreate{})
	bindListExerciseAdd    = binding.Json(types.ListExerciseAdd{})
)

func (s *Server) loadExercise(w http.ResponseWriter, tx *sql.Tx, value string) (*types.Exercise, error) {
	id, err := s.parseID(w, "exercise_id", value)
	if err != nil {
		return nil, err
	}
	exercise := new(types.Exercise)
	if err := meddler.Load(tx, "exercises", exercise, id); err != nil {
		s.loggedHTTPDBNotFoundError(w, "Exercise", err)
		return nil, err
	}
	return exercise, nil
}

// getExercises handles GET /exercises with optional published and tags
// filters. tags matches any exercise whose tag string contains it.
func (s *Server) getExercises(w http.ResponseWriter, r *http.Request, tx *sql.Tx, render render.Render) {
	where := ""
	args := []interface{}{}
	switch value := r.FormValue("published"); value {
	case "":
	case "true", "false":
		where, args = addWhereEq(where, args, "published", value == "true")
	default:
		s.loggedHTTPErrorf(w, http.StatusUnprocessableEntity, "invalid published %q", value)
		return
	}
	if tags := strings.TrimSpace(r.FormValue("tags")); tags != "" {
		if where == "" {
			where = " WHERE"
		} else {
			where += " AND"
		}
		where += " tags LIKE ?"
		args = append(args, "%"+tags+"%")
	}

	list := []*types.Exercise{}
	if err := meddler.QueryAll(tx, &list, `SELECT * FROM exercises`+where+` ORDER BY id`, args...); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, list)
}

func (s *Server) getExercise(w http.ResponseWriter, r *http.Request, tx *sql.Tx, params martini.Params, render render.Render) {
	exercise, err := s.loadExercise(w, tx, params["exercise_id"])
	if err != nil {
		return
	}
	if r.FormValue("include_tests") == "true" {
		exercise.TestCases = []*types.TestCase{}
		if err := meddler.QueryAll(tx, &exercise.TestCases, `SELECT * FROM test_cases WHERE exercise_id = ? ORDER BY id`, exercise.ID); err != nil {
			s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
			return
		}
	}
	render.JSON(http.StatusOK, exercise)
}

func (s *Server) postExercise(w http.ResponseWriter, tx *sql.Tx, req types.ExerciseCreate, errs binding.Errors, render render.Render) {
	if s.bindingFailed(w, errs) {
		return
	}
	testWeight, llmWeight, err := req.Weights()
	if err != nil {
		s.loggedHTTPErrorf(w, http.StatusUnprocessableEntity, "%v", err)
		return
	}
	exercise := &types.Exercise{
		Title:              strings.TrimSpace(req.Title),
		Description:        req.Description,
		TemplateCode:       req.TemplateCode,
		Language:           req.Language,
		MaxSubmissions:     req.MaxSubmissions,
		TimeoutSeconds:     req.TimeoutSeconds,
		MemoryLimitMB:      req.MemoryLimitMB,
		HasTests:           req.HasTests,
		LLMGradingEnabled:  req.LLMGradingEnabled == nil || *req.LLMGradingEnabled,
		TestWeight:         testWeight,
		LLMWeight:          llmWeight,
		LLMGradingCriteria: req.LLMGradingCriteria,
		CreatedBy:          s.opts.ProfessorID,
		Published:          req.Published,
		Tags:               req.Tags,
	}
	if exercise.Language == "" {
		exercise.Language = "python"
	}
	if exercise.TimeoutSeconds == 0 {
		exercise.TimeoutSeconds = 30
	}
	if exercise.MemoryLimitMB == 0 {
		exercise.MemoryLimitMB = 256
	}
	if err := meddler.Insert(tx, "exercises", exercise); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusCreated, exercise)
}

func (s *Server) patchExercisePublish(w http.ResponseWriter, r *http.Request, tx *sql.Tx, params martini.Params, render render.Render) {
	exercise, err := s.loadExercise(w, tx, params["exercise_id"])
	if err != nil {
		return
	}
	switch value := r.FormValue("published"); value {
	case "true", "false":
		exercise.Published = value == "true"
	default:
		s.loggedHTTPErrorf(w, http.StatusUnprocessableEntity, "invalid published %q", value)
		return
	}
	if err := meddler.Update(tx, "exercises", exercise); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, exercise)
}

func (s *Server) postTestCase(w http.ResponseWriter, tx *sql.Tx, params martini.Params, req types.TestCaseCreate, errs binding.Errors, render render.Render) {
	if s.bindingFailed(w, errs) {
		return
	}
	exercise, err := s.loadExercise(w, tx, params["exercise_id"])
	if err != nil {
		return
	}
	tc := &types.TestCase{
		ExerciseID:     exercise.ID,
		Name:           strings.TrimSpace(req.Name),
		InputData:      req.InputData,
		ExpectedOutput: req.ExpectedOutput,
		Hidden:         req.Hidden,
	}
	if err := meddler.Insert(tx, "test_cases", tc); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if _, err := tx.Exec(`UPDATE exercises SET has_tests = 1 WHERE id = ?`, exercise.ID); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusCreated, tc)
}

func listItems(tx *sql.Tx, listID int64) ([]*types.ExerciseInList, error) {
	items := []*types.ExerciseInList{}
	err := meddler.QueryAll(tx, &items, `SELECT exercise_list_items.id AS list_item_id, exercise_list_items.exercise_id AS exercise_id, `+
		`exercises.title AS exercise_title, exercise_list_items.position AS position, exercise_list_items.weight AS weight `+
		`FROM exercise_list_items JOIN exercises ON exercise_list_items.exercise_id = exercises.id `+
		`WHERE exercise_list_items.list_id = ? ORDER BY exercise_list_items.position, exercise_list_items.id`, listID)
	return items, errors.Wrap(err, "loading list exercises")
}

func (s *Server) loadList(w http.ResponseWriter, tx *sql.Tx, value string) (*types.ExerciseList, error) {
	id, err := s.parseID(w, "list_id", value)
	if err != nil {
		return nil, err
	}
	list := new(types.ExerciseList)
	if err := meddler.Load(tx, "exercise_lists", list, id); err != nil {
		s.loggedHTTPDBNotFoundError(w, "Exercise list", err)
		return nil, err
	}
	if list.Exercises, err = listItems(tx, list.ID); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return nil, err
	}
	return list, nil
}

func (s *Server) getExerciseLists(w http.ResponseWriter, tx *sql.Tx, params martini.Params, render render.Render) {
	class, err := s.loadClass(w, tx, params["class_id"])
	if err != nil {
		return
	}
	lists := []*types.ExerciseList{}
	if err := meddler.QueryAll(tx, &lists, `SELECT * FROM exercise_lists WHERE class_id = ? ORDER BY id`, class.ID); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	for _, list := range lists {
		if list.Exercises, err = listItems(tx, list.ID); err != nil {
			s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
			return
		}
	}
	render.JSON(http.StatusOK, lists)
}

// postExerciseList creates a list for a class, or for one of its groups.
func (s *Server) postExerciseList(w http.ResponseWriter, tx *sql.Tx, req types.ExerciseListCreate, errs binding.Errors, render render.Render) {
	if s.bindingFailed(w, errs) {
		return
	}
	if req.ClosesAt != 0 && req.ClosesAt <= req.OpensAt {
		s.loggedHTTPErrorf(w, http.StatusUnprocessableEntity, "closes_at must be after opens_at")
		return
	}
	class := new(types.Class)
	if err := meddler.Load(tx, "classes", class, req.ClassID); err != nil {
		s.loggedHTTPDBNotFoundError(w, "Class", err)
		return
	}
	if req.GroupID != 0 {
		group := new(types.Group)
		if err := meddler.Load(tx, "class_groups", group, req.GroupID); err != nil {
			s.loggedHTTPDBNotFoundError(w, "Group", err)
			return
		}
		if group.ClassID != class.ID {
			s.loggedHTTPErrorf(w, http.StatusBadRequest, "Group %d does not belong to class %d", group.ID, class.ID)
			return
		}
	}
	list := &types.ExerciseList{
		Title:                    strings.TrimSpace(req.Title),
		ClassID:                  class.ID,
		GroupID:                  req.GroupID,
		OpensAt:                  req.OpensAt,
		ClosesAt:                 req.ClosesAt,
		LatePenaltyPercentPerDay: req.LatePenaltyPercentPerDay,
		AutoPublishGrades:        req.AutoPublishGrades,
		RandomizeOrder:           req.RandomizeOrder,
		Exercises:                []*types.ExerciseInList{},
	}
	if err := meddler.Insert(tx, "exercise_lists", list); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusCreated, list)
}

func (s *Server) postListExercise(w http.ResponseWriter, tx *sql.Tx, params martini.Params, req types.ListExerciseAdd, errs binding.Errors, render render.Render) {
	if s.bindingFailed(w, errs) {
		return
	}
	list, err := s.loadList(w, tx, params["list_id"])
	if err != nil {
		return
	}
	var title string
	if err := tx.QueryRow(`SELECT title FROM exercises WHERE id = ?`, req.ExerciseID).Scan(&title); err != nil {
		s.loggedHTTPDBNotFoundError(w, "Exercise", err)
		return
	}
	for _, item := range list.Exercises {
		if item.ExerciseID == req.ExerciseID {
			s.loggedHTTPErrorf(w, http.StatusConflict, "Exercise %d is already in this list", req.ExerciseID)
			return
		}
	}
	weight := req.Weight
	if weight == 0 {
		weight = 1
	}
	if _, err := tx.Exec(`INSERT INTO exercise_list_items (list_id, exercise_id, position, weight) VALUES (?, ?, ?, ?)`,
		list.ID, req.ExerciseID, req.Position, weight); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if list.Exercises, err = listItems(tx, list.ID); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusCreated, list)
}

// deleteListExercise refuses to drop an exercise that already has
// submissions unless confirm=true is given.
func (s *Server) deleteListExercise(w http.ResponseWriter, r *http.Request, tx *sql.Tx, params martini.Params) {
	list, err := s.loadList(w, tx, params["list_id"])
	if err != nil {
		return
	}
	exerciseID, err := s.parseID(w, "exercise_id", params["exercise_id"])
	if err != nil {
		return
	}
	found := false
	for _, item := range list.Exercises {
		found = found || item.ExerciseID == exerciseID
	}
	if !found {
		s.loggedHTTPErrorf(w, http.StatusNotFound, "Exercise %d is not in this list", exerciseID)
		return
	}
	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM submissions WHERE exercise_id = ?`, exerciseID).Scan(&count); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if count > 0 && r.FormValue("confirm") != "true" {
		s.loggedHTTPErrorf(w, http.StatusConflict, "Exercise %d has %d submissions; pass confirm=true to remove it", exerciseID, count)
		return
	}
	if _, err := tx.Exec(`DELETE FROM exercise_list_items WHERE list_id = ? AND exercise_id = ?`, list.ID, exerciseID); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getSubmissionDiff handles GET /submissions/:submission_id/diff/:other_id,
// answering a line diff that takes other's code to this submission's code.
func (s *Server) getSubmissionDiff(w http.ResponseWriter, tx *sql.Tx, params martini.Params, render render.Render) {
	var code [2]string
	for i, name := range []string{"other_id", "submission_id"} {
		id, err := s.parseID(w, name, params[name])
		if err != nil {
			return
		}
		var text sql.NullString
		if err := tx.QueryRow(`SELECT code FROM submissions WHERE id = ?`, id).Scan(&text); err != nil {
			s.loggedHTTPDBNotFoundError(w, "Submission", err)
			return
		}
		code[i] = text.String
	}
	render.JSON(http.StatusOK, lineDiff(code[0], code[1]))
}

// lineDiff renders a diff of two texts one line at a time, each line marked
// with "+", "-" or " ". Identical texts give "".
func lineDiff(from, to string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(from, to)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out strings.Builder
	changed := false
	for _, d := range diffs {
		mark := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			mark, changed = "+", true
		case diffmatchpatch.DiffDelete:
			mark, changed = "-", true
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			out.WriteString(mark)
			out.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				out.WriteString("\n")
			}
		}
	}
	if !changed {
		return ""
	}
	return out.String()
}
