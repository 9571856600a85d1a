package fakeapi

import (
	"database/sql"
	"net/http"

	"github.com/go-martini/martini"
	"github.com/martini-contrib/render"
	"github.com/russross/meddler"

	"github.com/russross/gradewatch/types"
)

const gradeColumns = `grades.id AS grade_id, submissions.id AS submission_id, submissions.exercise_id AS exercise_id, ` +
	`grades.test_score AS test_score, grades.llm_score AS llm_score, grades.final_score AS final_score, ` +
	`grades.late_penalty_applied AS late_penalty_applied, grades.published AS published, submissions.submitted_at AS submitted_at`

func (s *Server) getGrades(w http.ResponseWriter, r *http.Request, tx *sql.Tx, render render.Render) {
	where := ""
	args := []interface{}{}
	for name, column := range map[string]string{
		"exercise_id": "submissions.exercise_id",
		"student_id":  "submissions.student_id",
	} {
		if value := r.FormValue(name); value != "" {
			id, err := s.parseID(w, name, value)
			if err != nil {
				return
			}
			where, args = addWhereEq(where, args, column, id)
		}
	}
	if value := r.FormValue("class_id"); value != "" {
		id, err := s.parseID(w, "class_id", value)
		if err != nil {
			return
		}
		if where == "" {
			where = " WHERE"
		} else {
			where += " AND"
		}
		where += " submissions.student_id IN (SELECT student_id FROM class_students WHERE class_id = ?)"
		args = append(args, id)
	}
	if r.FormValue("published_only") == "true" {
		where, args = addWhereEq(where, args, "grades.published", true)
	}

	list := []*types.GradeListItem{}
	if err := meddler.QueryAll(tx, &list, `SELECT `+gradeColumns+`, submissions.student_id AS student_id `+
		`FROM grades JOIN submissions ON grades.submission_id = submissions.id`+
		where+` ORDER BY submissions.submitted_at DESC, grades.id DESC`, args...); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, list)
}

// getMyGrades lists the published grades of the configured student.
func (s *Server) getMyGrades(w http.ResponseWriter, tx *sql.Tx, render render.Render) {
	list := []*types.StudentGrade{}
	if err := meddler.QueryAll(tx, &list, `SELECT `+gradeColumns+`, exercises.title AS exercise_title `+
		`FROM grades JOIN submissions ON grades.submission_id = submissions.id `+
		`JOIN exercises ON submissions.exercise_id = exercises.id `+
		`WHERE submissions.student_id = ? AND grades.published `+
		`ORDER BY submissions.submitted_at DESC, grades.id DESC`, s.opts.StudentID); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, list)
}

func (s *Server) postGradePublish(w http.ResponseWriter, tx *sql.Tx, params martini.Params, render render.Render) {
	id, err := s.parseID(w, "grade_id", params["grade_id"])
	if err != nil {
		return
	}
	grade := new(types.GradeDetail)
	if err := meddler.QueryRow(tx, grade, `SELECT id, test_score, llm_score, final_score, late_penalty_applied, published `+
		`FROM grades WHERE id = ?`, id); err != nil {
		s.loggedHTTPDBNotFoundError(w, "Grade", err)
		return
	}
	if _, err := tx.Exec(`UPDATE grades SET published = 1 WHERE id = ?`, id); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	grade.Published = true
	render.JSON(http.StatusOK, grade)
}
