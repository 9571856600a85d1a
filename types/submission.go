package types

import (
	"fmt"
	"time"
)

// SubmissionStatus is the grading state of a single submission.
// The backend moves it forward only: queued, running, then completed or failed.
type SubmissionStatus string

const (
	SubmissionQueued    SubmissionStatus = "queued"
	SubmissionRunning   SubmissionStatus = "running"
	SubmissionCompleted SubmissionStatus = "completed"
	SubmissionFailed    SubmissionStatus = "failed"
)

func (s SubmissionStatus) Valid() bool {
	switch s {
	case SubmissionQueued, SubmissionRunning, SubmissionCompleted, SubmissionFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition can follow s.
func (s SubmissionStatus) Terminal() bool {
	return s == SubmissionCompleted || s == SubmissionFailed
}

func (s SubmissionStatus) rank() int {
	switch s {
	case SubmissionQueued:
		return 0
	case SubmissionRunning:
		return 1
	default:
		return 2
	}
}

// Submission is a student's attempt at an exercise, graded asynchronously.
type Submission struct {
	ID           int64            `json:"id" meddler:"id,pk"`
	ExerciseID   int64            `json:"exercise_id" meddler:"exercise_id"`
	StudentID    int64            `json:"student_id" meddler:"student_id"`
	Code         string           `json:"code" meddler:"code,zeroisnull"`
	Status       SubmissionStatus `json:"status" meddler:"status"`
	SubmittedAt  time.Time        `json:"submitted_at" meddler:"submitted_at,localtime"`
	ErrorMessage string           `json:"error_message" meddler:"error_message,zeroisnull"`
	FileName     string           `json:"file_name" meddler:"file_name,zeroisnull"`
	FileSize     int64            `json:"file_size" meddler:"file_size,zeroisnull"`
	ContentType  string           `json:"content_type" meddler:"content_type,zeroisnull"`
}

// SubmissionListItem is the abbreviated form returned by submission listings.
type SubmissionListItem struct {
	ID          int64            `json:"id" meddler:"id"`
	ExerciseID  int64            `json:"exercise_id" meddler:"exercise_id"`
	StudentID   int64            `json:"student_id" meddler:"student_id"`
	Status      SubmissionStatus `json:"status" meddler:"status"`
	SubmittedAt time.Time        `json:"submitted_at" meddler:"submitted_at,localtime"`
	FileName    string           `json:"file_name" meddler:"file_name,zeroisnull"`
}

// SubmissionStatusReply is the cheap status-only view polled while grading runs.
type SubmissionStatusReply struct {
	ID           int64            `json:"id"`
	Status       SubmissionStatus `json:"status"`
	ErrorMessage string           `json:"error_message"`
}

type TestResultDetail struct {
	ID       int64  `json:"id" meddler:"id,pk"`
	TestName string `json:"test_name" meddler:"test_name"`
	Passed   bool   `json:"passed" meddler:"passed"`
	Message  string `json:"message" meddler:"message,zeroisnull"`
	Stdout   string `json:"stdout" meddler:"stdout,zeroisnull"`
	Stderr   string `json:"stderr" meddler:"stderr,zeroisnull"`
}

type LLMEvaluation struct {
	ID        int64     `json:"id" meddler:"id,pk"`
	Feedback  string    `json:"feedback" meddler:"feedback"`
	Score     float64   `json:"score" meddler:"score"`
	Cached    bool      `json:"cached" meddler:"cached"`
	CreatedAt time.Time `json:"created_at" meddler:"created_at,localtime"`
}

// GradeDetail scores are nil when that part of grading did not run.
type GradeDetail struct {
	ID                 int64    `json:"id" meddler:"id,pk"`
	TestScore          *float64 `json:"test_score" meddler:"test_score"`
	LLMScore           *float64 `json:"llm_score" meddler:"llm_score"`
	FinalScore         float64  `json:"final_score" meddler:"final_score"`
	LatePenaltyApplied float64  `json:"late_penalty_applied" meddler:"late_penalty_applied"`
	Published          bool     `json:"published" meddler:"published"`
}

type RubricScoreDetail struct {
	DimensionName   string  `json:"dimension_name" meddler:"dimension_name"`
	DimensionWeight float64 `json:"dimension_weight" meddler:"dimension_weight"`
	Score           float64 `json:"score" meddler:"score"`
	Feedback        string  `json:"feedback" meddler:"feedback,zeroisnull"`
}

// SubmissionDetail is the full graded record fetched once grading finishes.
type SubmissionDetail struct {
	Submission      *Submission          `json:"submission"`
	TestResults     []*TestResultDetail  `json:"test_results"`
	LLMEvaluation   *LLMEvaluation       `json:"llm_evaluation"`
	Grade           *GradeDetail         `json:"grade"`
	RubricScores    []*RubricScoreDetail `json:"rubric_scores"`
	OverallFeedback string               `json:"overall_feedback"`
}

// Passed counts the passing test results.
func (d *SubmissionDetail) Passed() (passed, total int) {
	for _, elt := range d.TestResults {
		if elt.Passed {
			passed++
		}
	}
	return passed, len(d.TestResults)
}

// CheckSubmissionSequence verifies that statuses observed for one submission,
// in order, form a prefix of queued → running → {completed|failed}.
// Repeated observations of the same status are allowed.
func CheckSubmissionSequence(seq []SubmissionStatus) error {
	for i, s := range seq {
		if !s.Valid() {
			return fmt.Errorf("observation %d: unknown status %q", i, s)
		}
		if i == 0 {
			continue
		}
		prev := seq[i-1]
		if prev.Terminal() && s != prev {
			return fmt.Errorf("observation %d: %s after terminal %s", i, s, prev)
		}
		if s.rank() < prev.rank() {
			return fmt.Errorf("observation %d: %s regressed from %s", i, s, prev)
		}
	}
	return nil
}
