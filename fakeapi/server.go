// Package fakeapi is an in-process stand-in for the grading backend.
//
// It serves the same REST paths the client consumes, stores everything in an
// in-memory sqlite database, and moves jobs forward on a fixed script: every
// status read advances a submission one step, and every campaign read
// delivers one batch of pending messages after answering.
package fakeapi

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-martini/martini"
	"github.com/martini-contrib/binding"
	mgzip "github.com/martini-contrib/gzip"
	"github.com/martini-contrib/render"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/russross/meddler"
	"github.com/sirupsen/logrus"

	"github.com/russross/gradewatch/types"
)

// Outcome is how grading of one submission ends.
type Outcome struct {
	// Error fails the submission with this message. Tests are ignored.
	Error    string
	Tests    []*types.TestResultDetail
	LLMScore float64
	Feedback string
}

type Options struct {
	// Token, when set, must be presented as a bearer token on every request.
	Token string

	// StudentID owns new submissions, enrolls in classes, and answers
	// /grades/me. Defaults to 1.
	StudentID int64

	// ProfessorID owns new classes and exercises. Defaults to 1.
	ProfessorID int64

	// FirstSubmissionID and FirstCampaignID seed the id sequences.
	FirstSubmissionID int64
	FirstCampaignID   int64

	// CampaignBatch caps the recipients delivered per campaign read; 0 means all.
	CampaignBatch int

	// PushInterval spaces status events on the submission socket.
	PushInterval time.Duration

	// Version is served at /version; nil answers 404.
	Version *types.Version

	// Grade decides a submission's outcome. Defaults to two passing tests.
	Grade func(sub *types.Submission) *Outcome

	// Deliver sends one message. attempt counts from 1 and grows with retries.
	Deliver func(r *types.RecipientStatus, attempt int) error

	Logger *logrus.Logger
}

// Server implements http.Handler.
type Server struct {
	opts    Options
	log     *logrus.Entry
	logw    io.Closer
	db      *sql.DB
	handler http.Handler
	closed  chan struct{}

	// dbMutex serializes transactions; attempts is guarded by it as well.
	dbMutex  sync.Mutex
	attempts map[int64]int
}

func New(opts Options) (*Server, error) {
	if opts.StudentID < 1 {
		opts.StudentID = 1
	}
	if opts.ProfessorID < 1 {
		opts.ProfessorID = 1
	}
	if opts.PushInterval <= 0 {
		opts.PushInterval = 50 * time.Millisecond
	}
	if opts.Grade == nil {
		opts.Grade = defaultGrade
	}
	if opts.Deliver == nil {
		opts.Deliver = func(*types.RecipientStatus, int) error { return nil }
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	db, err := setupDB(opts)
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts:     opts,
		log:      logger.WithField("component", "fakeapi"),
		db:       db,
		closed:   make(chan struct{}),
		attempts: make(map[int64]int),
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close ends open status sockets and releases the database.
func (s *Server) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
	}
	close(s.closed)
	if s.logw != nil {
		s.logw.Close()
	}
	return s.db.Close()
}

func (s *Server) routes() http.Handler {
	r := martini.NewRouter()
	m := martini.New()
	writer := s.log.WriterLevel(logrus.DebugLevel)
	s.logw = writer
	m.Map(stdlog.New(writer, "", 0))
	m.Use(martini.Logger())
	m.Use(martini.Recovery())
	m.MapTo(r, (*martini.Routes)(nil))
	m.Action(r.Handle)

	m.Use(mgzip.All())
	m.Use(render.Renderer(render.Options{IndentJSON: false}))

	// martini service: wrap handler in a transaction
	withTx := func(c martini.Context, w http.ResponseWriter, req *http.Request) {
		s.dbMutex.Lock()
		defer s.dbMutex.Unlock()

		tx, err := s.db.Begin()
		if err != nil {
			s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error starting transaction: %v", err)
			return
		}

		c.Map(tx)
		c.Next()

		rw := w.(martini.ResponseWriter)
		if rw.Status() < http.StatusBadRequest {
			if err := tx.Commit(); err != nil {
				s.log.Errorf("db error committing transaction for %s: %v", req.RequestURI, err)
			}
		} else if err := tx.Rollback(); err != nil {
			s.log.Errorf("db error rolling back transaction for %s: %v", req.RequestURI, err)
		}
	}

	// martini service: require the configured bearer token
	auth := func(w http.ResponseWriter, req *http.Request) {
		if s.opts.Token == "" {
			return
		}
		if req.Header.Get("Authorization") != "Bearer "+s.opts.Token {
			s.loggedHTTPErrorf(w, http.StatusUnauthorized, "Not authenticated")
		}
	}

	r.Get("/version", s.getVersion)

	r.Post("/submissions", auth, withTx, s.postSubmission)
	r.Get("/submissions", auth, withTx, s.getSubmissions)
	r.Get("/submissions/:submission_id", auth, withTx, s.getSubmission)
	r.Get("/submissions/:submission_id/status", auth, withTx, s.getSubmissionStatus)
	r.Get("/submissions/:submission_id/results", auth, withTx, s.getSubmissionResults)
	r.Get("/sockets/submissions/:submission_id", auth, s.socketSubmissionStatus)

	r.Post("/messaging/send", auth, bindBulkSend, withTx, s.postBulkSend)
	r.Get("/messaging/campaigns", auth, withTx, s.getCampaigns)
	r.Get("/messaging/campaigns/:campaign_id", auth, withTx, s.getCampaign)
	r.Post("/messaging/campaigns/:campaign_id/retry", auth, withTx, s.postCampaignRetry)
	r.Get("/messaging/courses", auth, withTx, s.getCourses)
	r.Get("/messaging/recipients", auth, withTx, s.getRecipients)

	r.Get("/classes", auth, withTx, s.getClasses)
	r.Post("/classes", auth, bindClassCreate, withTx, s.postClass)
	r.Get("/classes/:class_id", auth, withTx, s.getClass)
	r.Post("/classes/:class_id/enroll", auth, bindEnroll, withTx, s.postEnroll)
	r.Delete("/classes/:class_id/students/:student_id", auth, withTx, s.deleteClassStudent)
	r.Patch("/classes/:class_id/archive", auth, withTx, s.patchClassArchive)
	r.Post("/classes/:class_id/groups", auth, bindGroupCreate, withTx, s.postGroup)
	r.Post("/groups/:group_id/members", auth, bindGroupMembers, withTx, s.postGroupMembers)
	r.Get("/admin/students", auth, withTx, s.getStudents)

	r.Get("/exercises", auth, withTx, s.getExercises)
	r.Post("/exercises", auth, bindExerciseCreate, withTx, s.postExercise)
	r.Get("/exercises/:exercise_id", auth, withTx, s.getExercise)
	r.Patch("/exercises/:exercise_id/publish", auth, withTx, s.patchExercisePublish)
	r.Post("/exercises/:exercise_id/tests", auth, bindTestCaseCreate, withTx, s.postTestCase)
	r.Get("/exercise-lists/classes/:class_id/lists", auth, withTx, s.getExerciseLists)
	r.Post("/exercise-lists", auth, bindExerciseListCreate, withTx, s.postExerciseList)
	r.Post("/exercise-lists/:list_id/exercises", auth, bindListExerciseAdd, withTx, s.postListExercise)
	r.Delete("/exercise-lists/:list_id/exercises/:exercise_id", auth, withTx, s.deleteListExercise)

	r.Get("/submissions/:submission_id/diff/:other_id", auth, withTx, s.getSubmissionDiff)

	r.Get("/grades", auth, withTx, s.getGrades)
	r.Get("/grades/me", auth, withTx, s.getMyGrades)
	r.Post("/grades/:grade_id/publish", auth, withTx, s.postGradePublish)

	r.NotFound(func(w http.ResponseWriter) {
		s.loggedHTTPErrorf(w, http.StatusNotFound, "Not Found")
	})

	return m
}

func (s *Server) getVersion(w http.ResponseWriter, render render.Render) {
	if s.opts.Version == nil {
		s.loggedHTTPErrorf(w, http.StatusNotFound, "Not Found")
		return
	}
	render.JSON(http.StatusOK, s.opts.Version)
}

// inTx runs fn in its own transaction, outside any martini request.
func (s *Server) inTx(fn func(tx *sql.Tx) error) error {
	s.dbMutex.Lock()
	defer s.dbMutex.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

const schema = `
CREATE TABLE courses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL
);
CREATE TABLE students (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	course_id INTEGER REFERENCES courses (id),
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	whatsapp_number TEXT
);
CREATE TABLE exercises (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	template_code TEXT,
	language TEXT NOT NULL DEFAULT 'python',
	max_submissions INTEGER,
	timeout_seconds INTEGER NOT NULL DEFAULT 30,
	memory_limit_mb INTEGER NOT NULL DEFAULT 256,
	has_tests BOOLEAN NOT NULL DEFAULT 0,
	llm_grading_enabled BOOLEAN NOT NULL DEFAULT 1,
	test_weight REAL NOT NULL DEFAULT 0.7,
	llm_weight REAL NOT NULL DEFAULT 0.3,
	llm_grading_criteria TEXT,
	created_by INTEGER NOT NULL DEFAULT 0,
	published BOOLEAN NOT NULL DEFAULT 1,
	tags TEXT
);
CREATE TABLE test_cases (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	exercise_id INTEGER NOT NULL REFERENCES exercises (id),
	name TEXT NOT NULL,
	input_data TEXT NOT NULL,
	expected_output TEXT NOT NULL,
	hidden BOOLEAN NOT NULL
);
CREATE TABLE classes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	professor_id INTEGER NOT NULL,
	invite_code TEXT NOT NULL UNIQUE,
	archived BOOLEAN NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE class_students (
	class_id INTEGER NOT NULL REFERENCES classes (id),
	student_id INTEGER NOT NULL,
	enrolled_at DATETIME NOT NULL,
	PRIMARY KEY (class_id, student_id)
);
CREATE TABLE class_groups (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	class_id INTEGER NOT NULL REFERENCES classes (id),
	name TEXT NOT NULL
);
CREATE TABLE group_members (
	group_id INTEGER NOT NULL REFERENCES class_groups (id),
	student_id INTEGER NOT NULL,
	PRIMARY KEY (group_id, student_id)
);
CREATE TABLE exercise_lists (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	class_id INTEGER NOT NULL REFERENCES classes (id),
	group_id INTEGER REFERENCES class_groups (id),
	opens_at INTEGER,
	closes_at INTEGER,
	late_penalty_percent_per_day REAL,
	auto_publish_grades BOOLEAN NOT NULL,
	randomize_order BOOLEAN NOT NULL
);
CREATE TABLE exercise_list_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	list_id INTEGER NOT NULL REFERENCES exercise_lists (id),
	exercise_id INTEGER NOT NULL REFERENCES exercises (id),
	position INTEGER NOT NULL,
	weight REAL NOT NULL,
	UNIQUE (list_id, exercise_id)
);
CREATE TABLE submissions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	exercise_id INTEGER NOT NULL REFERENCES exercises (id),
	student_id INTEGER NOT NULL,
	code TEXT,
	status TEXT NOT NULL,
	submitted_at DATETIME NOT NULL,
	error_message TEXT,
	file_name TEXT,
	file_size INTEGER,
	content_type TEXT
);
CREATE TABLE test_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	submission_id INTEGER NOT NULL REFERENCES submissions (id),
	test_name TEXT NOT NULL,
	passed BOOLEAN NOT NULL,
	message TEXT,
	stdout TEXT,
	stderr TEXT
);
CREATE TABLE llm_evaluations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	submission_id INTEGER NOT NULL REFERENCES submissions (id),
	feedback TEXT NOT NULL,
	score REAL NOT NULL,
	cached BOOLEAN NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE grades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	submission_id INTEGER NOT NULL UNIQUE REFERENCES submissions (id),
	test_score REAL,
	llm_score REAL,
	final_score REAL NOT NULL,
	late_penalty_applied REAL NOT NULL,
	published BOOLEAN NOT NULL
);
CREATE TABLE rubric_scores (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	submission_id INTEGER NOT NULL REFERENCES submissions (id),
	dimension_name TEXT NOT NULL,
	dimension_weight REAL NOT NULL,
	score REAL NOT NULL,
	feedback TEXT
);
CREATE TABLE campaigns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_template TEXT NOT NULL,
	course_name TEXT,
	total_recipients INTEGER NOT NULL,
	sent_count INTEGER NOT NULL,
	failed_count INTEGER NOT NULL,
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	completed_at DATETIME
);
CREATE TABLE recipients (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	campaign_id INTEGER NOT NULL REFERENCES campaigns (id),
	user_id INTEGER NOT NULL,
	name TEXT,
	phone TEXT NOT NULL,
	status TEXT NOT NULL,
	resolved_message TEXT,
	sent_at DATETIME,
	error_message TEXT
);
`

func setupDB(opts Options) (*sql.DB, error) {
	meddler.Default = meddler.SQLite

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=ON")
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating schema")
	}
	for table, first := range map[string]int64{"submissions": opts.FirstSubmissionID, "campaigns": opts.FirstCampaignID} {
		if first <= 1 {
			continue
		}
		if _, err := db.Exec(`INSERT INTO sqlite_sequence (name, seq) VALUES (?, ?)`, table, first-1); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "seeding %s ids", table)
		}
	}
	return db, nil
}

// AddCourse creates a course students can be enrolled in.
func (s *Server) AddCourse(name string) (*types.Course, error) {
	course := &types.Course{Name: name}
	err := s.inTx(func(tx *sql.Tx) error {
		return meddler.Insert(tx, "courses", course)
	})
	return course, errors.Wrap(err, "adding course")
}

// AddStudent enrolls a student. An empty whatsapp number marks the student
// as unreachable for campaigns.
func (s *Server) AddStudent(courseID int64, name, email, whatsapp string) (int64, error) {
	st := &student{CourseID: courseID, Name: name, Email: email, WhatsappNumber: whatsapp}
	err := s.inTx(func(tx *sql.Tx) error {
		return meddler.Insert(tx, "students", st)
	})
	return st.ID, errors.Wrap(err, "adding student")
}

// AddExercise registers a published exercise with default settings that
// submissions can target.
func (s *Server) AddExercise(id int64, title string) error {
	return s.inTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO exercises (id, title, created_by) VALUES (?, ?, ?)`, id, title, s.opts.ProfessorID)
		return errors.Wrapf(err, "adding exercise %d", id)
	})
}

// AddClass creates a class owned by the configured professor.
func (s *Server) AddClass(name string) (*types.Class, error) {
	var class *types.Class
	err := s.inTx(func(tx *sql.Tx) error {
		var err error
		class, err = s.insertClass(tx, name)
		return err
	})
	return class, errors.Wrap(err, "adding class")
}

// Enroll puts a student in a class without an invite code.
func (s *Server) Enroll(classID, studentID int64) error {
	return s.inTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO class_students (class_id, student_id, enrolled_at) VALUES (?, ?, ?)`,
			classID, studentID, time.Now().UTC())
		return errors.Wrapf(err, "enrolling student %d in class %d", studentID, classID)
	})
}

type student struct {
	ID             int64  `meddler:"id,pk"`
	CourseID       int64  `meddler:"course_id,zeroisnull"`
	Name           string `meddler:"name"`
	Email          string `meddler:"email"`
	WhatsappNumber string `meddler:"whatsapp_number,zeroisnull"`
}

// loggedHTTPErrorf answers with a {"detail": ...} body the way the real backend does.
func (s *Server) loggedHTTPErrorf(w http.ResponseWriter, status int, format string, params ...interface{}) error {
	msg := fmt.Sprintf(format, params...)
	if status >= http.StatusInternalServerError {
		s.log.Error(msg)
	} else {
		s.log.Debug(msg)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": msg})
	return errors.New(msg)
}

func (s *Server) loggedHTTPDBNotFoundError(w http.ResponseWriter, what string, err error) {
	if err == sql.ErrNoRows {
		s.loggedHTTPErrorf(w, http.StatusNotFound, "%s not found", what)
		return
	}
	s.loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
}

func (s *Server) parseID(w http.ResponseWriter, name, value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, s.loggedHTTPErrorf(w, http.StatusUnprocessableEntity, "error parsing %s: %v", name, err)
	}
	if id < 1 {
		return 0, s.loggedHTTPErrorf(w, http.StatusUnprocessableEntity, "invalid %s: must be 1 or greater", name)
	}
	return id, nil
}

// bindingFailed answers 422 when martini binding reported errors.
func (s *Server) bindingFailed(w http.ResponseWriter, errs binding.Errors) bool {
	if errs.Len() == 0 {
		return false
	}
	var msgs []string
	for _, elt := range errs {
		msgs = append(msgs, strings.Join(elt.FieldNames, ",")+": "+elt.Message)
	}
	s.loggedHTTPErrorf(w, http.StatusUnprocessableEntity, "%s", strings.Join(msgs, "; "))
	return true
}

func addWhereEq(where string, args []interface{}, label string, value interface{}) (string, []interface{}) {
	if where == "" {
		where = " WHERE"
	} else {
		where += " AND"
	}
	args = append(args, value)
	where += fmt.Sprintf(" %s = ?", label)
	return where, args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
