package fakeapi

import (
	"database/sql"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-martini/martini"
	"github.com/google/uuid"
	"github.com/martini-contrib/binding"
	"github.com/martini-contrib/render"
	"github.com/pkg/errors"
	"github.com/russross/meddler"

	"github.com/russross/gradewatch/types"
)

var (
	bindClassCreate  = binding.Json(types.ClassCreate{})
	bindEnroll       = binding.Json(types.EnrollRequest{})
	bindGroupCreate  = binding.Json(types.GroupCreate{})
	bindGroupMembers = binding.Json(types.GroupMembersRequest{})
)

func (s *Server) insertClass(tx *sql.Tx, name string) (*types.Class, error) {
	code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	class := &types.Class{
		Name:        name,
		ProfessorID: s.opts.ProfessorID,
		InviteCode:  code,
		CreatedAt:   time.Now(),
	}
	if err := meddler.Insert(tx, "classes", class); err != nil {
		return nil, errors.Wrap(err, "inserting class")
	}
	return class, nil
}

func (s *Server) loadClass(w http.ResponseWriter, tx *sql.Tx, value string) (*types.Class, error) {
	id, err := s.parseID(w, "class_id", value)
	if err != nil {
		return nil, err
	}
	class := new(types.Class)
	if err := meddler.Load(tx, "classes", class, id); err != nil {
		s.loggedHTTPDBNotFoundError(w, "Class", err)
		return nil, err
	}
	return class, nil
}

func (s *Server) getClasses(w http.ResponseWriter, tx *sql.Tx, render render.Render) {
	list := []*types.Class{}
	if err := meddler.QueryAll(tx, &list, `SELECT * FROM classes ORDER BY id`); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, list)
}

func (s *Server) postClass(w http.ResponseWriter, tx *sql.Tx, req types.ClassCreate, errs binding.Errors, render render.Render) {
	if s.bindingFailed(w, errs) {
		return
	}
	class, err := s.insertClass(tx, strings.TrimSpace(req.Name))
	if err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusCreated, class)
}

// getClass handles GET /classes/:class_id with the roster and groups.
func (s *Server) getClass(w http.ResponseWriter, tx *sql.Tx, params martini.Params, render render.Render) {
	class, err := s.loadClass(w, tx, params["class_id"])
	if err != nil {
		return
	}
	detail := &types.ClassDetail{Class: *class, Students: []*types.ClassStudent{}, Groups: []*types.Group{}}
	if err := meddler.QueryAll(tx, &detail.Students, `SELECT class_students.student_id AS id, `+
		`COALESCE(students.email, '') AS email, class_students.enrolled_at AS enrolled_at `+
		`FROM class_students LEFT JOIN students ON class_students.student_id = students.id `+
		`WHERE class_students.class_id = ? ORDER BY class_students.enrolled_at, class_students.student_id`, class.ID); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if err := meddler.QueryAll(tx, &detail.Groups, `SELECT * FROM class_groups WHERE class_id = ? ORDER BY id`, class.ID); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	for _, group := range detail.Groups {
		if group.Members, err = groupMembers(tx, group.ID); err != nil {
			s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
			return
		}
	}
	render.JSON(http.StatusOK, detail)
}

func groupMembers(tx *sql.Tx, groupID int64) ([]*types.GroupMember, error) {
	members := []*types.GroupMember{}
	err := meddler.QueryAll(tx, &members, `SELECT group_members.student_id AS id, COALESCE(students.email, '') AS email `+
		`FROM group_members LEFT JOIN students ON group_members.student_id = students.id `+
		`WHERE group_members.group_id = ? ORDER BY group_members.student_id`, groupID)
	return members, err
}

func enrolled(tx *sql.Tx, classID, studentID int64) (bool, error) {
	var n int
	err := tx.QueryRow(`SELECT COUNT(*) FROM class_students WHERE class_id = ? AND student_id = ?`, classID, studentID).Scan(&n)
	return n > 0, err
}

// postEnroll handles POST /classes/:class_id/enroll for the configured student.
func (s *Server) postEnroll(w http.ResponseWriter, tx *sql.Tx, params martini.Params, req types.EnrollRequest, errs binding.Errors, render render.Render) {
	if s.bindingFailed(w, errs) {
		return
	}
	class, err := s.loadClass(w, tx, params["class_id"])
	if err != nil {
		return
	}
	if class.Archived {
		s.loggedHTTPErrorf(w, http.StatusBadRequest, "Class is archived")
		return
	}
	if !strings.EqualFold(strings.TrimSpace(req.InviteCode), class.InviteCode) {
		s.loggedHTTPErrorf(w, http.StatusForbidden, "Invalid invite code")
		return
	}
	already, err := enrolled(tx, class.ID, s.opts.StudentID)
	if err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if already {
		s.loggedHTTPErrorf(w, http.StatusConflict, "Already enrolled in this class")
		return
	}
	if _, err := tx.Exec(`INSERT INTO class_students (class_id, student_id, enrolled_at) VALUES (?, ?, ?)`,
		class.ID, s.opts.StudentID, time.Now().UTC()); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, class)
}

// deleteClassStudent also drops the student from the class's groups.
func (s *Server) deleteClassStudent(w http.ResponseWriter, tx *sql.Tx, params martini.Params) {
	class, err := s.loadClass(w, tx, params["class_id"])
	if err != nil {
		return
	}
	studentID, err := s.parseID(w, "student_id", params["student_id"])
	if err != nil {
		return
	}
	res, err := tx.Exec(`DELETE FROM class_students WHERE class_id = ? AND student_id = ?`, class.ID, studentID)
	if err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.loggedHTTPErrorf(w, http.StatusNotFound, "Student not enrolled in this class")
		return
	}
	if _, err := tx.Exec(`DELETE FROM group_members WHERE student_id = ? AND group_id IN `+
		`(SELECT id FROM class_groups WHERE class_id = ?)`, studentID, class.ID); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) patchClassArchive(w http.ResponseWriter, tx *sql.Tx, params martini.Params, render render.Render) {
	class, err := s.loadClass(w, tx, params["class_id"])
	if err != nil {
		return
	}
	class.Archived = true
	if err := meddler.Update(tx, "classes", class); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, class)
}

func (s *Server) postGroup(w http.ResponseWriter, tx *sql.Tx, params martini.Params, req types.GroupCreate, errs binding.Errors, render render.Render) {
	if s.bindingFailed(w, errs) {
		return
	}
	class, err := s.loadClass(w, tx, params["class_id"])
	if err != nil {
		return
	}
	group := &types.Group{ClassID: class.ID, Name: strings.TrimSpace(req.Name), Members: []*types.GroupMember{}}
	if err := meddler.Insert(tx, "class_groups", group); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusCreated, group)
}

// postGroupMembers adds students to a group. Every student must already be
// enrolled in the group's class; repeats are ignored.
func (s *Server) postGroupMembers(w http.ResponseWriter, tx *sql.Tx, params martini.Params, req types.GroupMembersRequest, errs binding.Errors, render render.Render) {
	if s.bindingFailed(w, errs) {
		return
	}
	id, err := s.parseID(w, "group_id", params["group_id"])
	if err != nil {
		return
	}
	group := new(types.Group)
	if err := meddler.Load(tx, "class_groups", group, id); err != nil {
		s.loggedHTTPDBNotFoundError(w, "Group", err)
		return
	}
	for _, studentID := range req.StudentIDs {
		ok, err := enrolled(tx, group.ClassID, studentID)
		if err != nil {
			s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
			return
		}
		if !ok {
			s.loggedHTTPErrorf(w, http.StatusBadRequest, "Student %d is not enrolled in class %d", studentID, group.ClassID)
			return
		}
		if _, err := tx.Exec(`INSERT OR IGNORE INTO group_members (group_id, student_id) VALUES (?, ?)`, group.ID, studentID); err != nil {
			s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
			return
		}
	}
	if group.Members, err = groupMembers(tx, group.ID); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, group)
}

type directoryRow struct {
	Name           string `meddler:"name"`
	Email          string `meddler:"email"`
	WhatsappNumber string `meddler:"whatsapp_number,zeroisnull"`
}

// getStudents handles GET /admin/students: a name or email search with
// limit and offset paging. Total counts every match, not just the page.
func (s *Server) getStudents(w http.ResponseWriter, r *http.Request, tx *sql.Tx, render render.Render) {
	limit, offset := 50, 0
	for name, dst := range map[string]*int{"limit": &limit, "offset": &offset} {
		value := r.FormValue(name)
		if value == "" {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			s.loggedHTTPErrorf(w, http.StatusUnprocessableEntity, "invalid %s %q", name, value)
			return
		}
		*dst = n
	}

	where := ""
	args := []interface{}{}
	if search := strings.TrimSpace(r.FormValue("search")); search != "" {
		where = ` WHERE name LIKE ? OR email LIKE ?`
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern)
	}

	resp := &types.StudentListResponse{Items: []*types.StudentListItem{}}
	if err := tx.QueryRow(`SELECT COUNT(*) FROM students`+where, args...).Scan(&resp.Total); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	rows := []*directoryRow{}
	if err := meddler.QueryAll(tx, &rows, `SELECT name, email, whatsapp_number FROM students`+where+
		` ORDER BY name, id LIMIT ? OFFSET ?`, append(args, limit, offset)...); err != nil {
		s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	for _, row := range rows {
		resp.Items = append(resp.Items, &types.StudentListItem{
			Email:       row.Email,
			Name:        row.Name,
			Phone:       row.WhatsappNumber,
			HasWhatsapp: row.WhatsappNumber != "",
			HasAccount:  true,
			Products:    []*types.StudentProductStatus{},
		})
	}
	render.JSON(http.StatusOK, resp)
}
