package types

import "time"

// GradeListItem is a grade as seen by instructors.
type GradeListItem struct {
	GradeID            int64     `json:"grade_id" meddler:"grade_id"`
	SubmissionID       int64     `json:"submission_id" meddler:"submission_id"`
	StudentID          int64     `json:"student_id" meddler:"student_id"`
	ExerciseID         int64     `json:"exercise_id" meddler:"exercise_id"`
	TestScore          *float64  `json:"test_score" meddler:"test_score"`
	LLMScore           *float64  `json:"llm_score" meddler:"llm_score"`
	FinalScore         float64   `json:"final_score" meddler:"final_score"`
	LatePenaltyApplied float64   `json:"late_penalty_applied" meddler:"late_penalty_applied"`
	Published          bool      `json:"published" meddler:"published"`
	SubmittedAt        time.Time `json:"submitted_at" meddler:"submitted_at,localtime"`
}

// StudentGrade is a grade as seen by the student who earned it.
type StudentGrade struct {
	GradeID            int64     `json:"grade_id" meddler:"grade_id"`
	SubmissionID       int64     `json:"submission_id" meddler:"submission_id"`
	ExerciseID         int64     `json:"exercise_id" meddler:"exercise_id"`
	ExerciseTitle      string    `json:"exercise_title" meddler:"exercise_title"`
	TestScore          *float64  `json:"test_score" meddler:"test_score"`
	LLMScore           *float64  `json:"llm_score" meddler:"llm_score"`
	FinalScore         float64   `json:"final_score" meddler:"final_score"`
	LatePenaltyApplied float64   `json:"late_penalty_applied" meddler:"late_penalty_applied"`
	Published          bool      `json:"published" meddler:"published"`
	SubmittedAt        time.Time `json:"submitted_at" meddler:"submitted_at,localtime"`
}
