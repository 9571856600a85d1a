package types

import (
	"fmt"
	"math"
)

// Default grading weights: a final score is TestWeight*tests + LLMWeight*review.
const (
	DefaultTestWeight = 0.7
	DefaultLLMWeight  = 0.3
)

type Exercise struct {
	ID                 int64       `json:"id" meddler:"id,pk"`
	Title              string      `json:"title" meddler:"title"`
	Description        string      `json:"description" meddler:"description"`
	TemplateCode       string      `json:"template_code" meddler:"template_code,zeroisnull"`
	Language           string      `json:"language" meddler:"language"`
	MaxSubmissions     int         `json:"max_submissions" meddler:"max_submissions,zeroisnull"`
	TimeoutSeconds     int         `json:"timeout_seconds" meddler:"timeout_seconds"`
	MemoryLimitMB      int         `json:"memory_limit_mb" meddler:"memory_limit_mb"`
	HasTests           bool        `json:"has_tests" meddler:"has_tests"`
	LLMGradingEnabled  bool        `json:"llm_grading_enabled" meddler:"llm_grading_enabled"`
	TestWeight         float64     `json:"test_weight" meddler:"test_weight"`
	LLMWeight          float64     `json:"llm_weight" meddler:"llm_weight"`
	LLMGradingCriteria string      `json:"llm_grading_criteria" meddler:"llm_grading_criteria,zeroisnull"`
	CreatedBy          int64       `json:"created_by" meddler:"created_by"`
	Published          bool        `json:"published" meddler:"published"`
	Tags               string      `json:"tags" meddler:"tags,zeroisnull"`
	TestCases          []*TestCase `json:"test_cases,omitempty" meddler:"-"`
}

type TestCase struct {
	ID             int64  `json:"id" meddler:"id,pk"`
	ExerciseID     int64  `json:"exercise_id" meddler:"exercise_id"`
	Name           string `json:"name" meddler:"name"`
	InputData      string `json:"input_data" meddler:"input_data"`
	ExpectedOutput string `json:"expected_output" meddler:"expected_output"`
	Hidden         bool   `json:"hidden" meddler:"hidden"`
}

// ExerciseCreate authors a new exercise. Nil weights take the defaults;
// a single weight implies the other.
type ExerciseCreate struct {
	Title              string   `json:"title" binding:"required" validate:"required"`
	Description        string   `json:"description" binding:"required" validate:"required"`
	TemplateCode       string   `json:"template_code,omitempty"`
	Language           string   `json:"language,omitempty"`
	MaxSubmissions     int      `json:"max_submissions,omitempty" validate:"gte=0"`
	TimeoutSeconds     int      `json:"timeout_seconds,omitempty" validate:"gte=0"`
	MemoryLimitMB      int      `json:"memory_limit_mb,omitempty" validate:"gte=0"`
	HasTests           bool     `json:"has_tests,omitempty"`
	LLMGradingEnabled  *bool    `json:"llm_grading_enabled,omitempty"`
	TestWeight         *float64 `json:"test_weight,omitempty" validate:"omitempty,gte=0,lte=1"`
	LLMWeight          *float64 `json:"llm_weight,omitempty" validate:"omitempty,gte=0,lte=1"`
	LLMGradingCriteria string   `json:"llm_grading_criteria,omitempty"`
	Published          bool     `json:"published,omitempty"`
	Tags               string   `json:"tags,omitempty"`
}

// Weights resolves the grading weights and checks that they add up to 1.
func (e *ExerciseCreate) Weights() (test, llm float64, err error) {
	switch {
	case e.TestWeight == nil && e.LLMWeight == nil:
		return DefaultTestWeight, DefaultLLMWeight, nil
	case e.LLMWeight == nil:
		test = *e.TestWeight
		llm = 1 - test
	case e.TestWeight == nil:
		llm = *e.LLMWeight
		test = 1 - llm
	default:
		test, llm = *e.TestWeight, *e.LLMWeight
	}
	if test < 0 || llm < 0 || math.Abs(test+llm-1) > 1e-9 {
		return 0, 0, fmt.Errorf("test_weight %g and llm_weight %g must add up to 1", test, llm)
	}
	return test, llm, nil
}

type TestCaseCreate struct {
	Name           string `json:"name" binding:"required" validate:"required"`
	InputData      string `json:"input_data"`
	ExpectedOutput string `json:"expected_output" binding:"required" validate:"required"`
	Hidden         bool   `json:"hidden"`
}

// ExerciseList is an ordered assignment of exercises to a class or group.
// OpensAt and ClosesAt are unix seconds; zero means unset.
type ExerciseList struct {
	ID                       int64             `json:"id" meddler:"id,pk"`
	Title                    string            `json:"title" meddler:"title"`
	ClassID                  int64             `json:"class_id" meddler:"class_id"`
	GroupID                  int64             `json:"group_id" meddler:"group_id,zeroisnull"`
	OpensAt                  int64             `json:"opens_at" meddler:"opens_at,zeroisnull"`
	ClosesAt                 int64             `json:"closes_at" meddler:"closes_at,zeroisnull"`
	LatePenaltyPercentPerDay float64           `json:"late_penalty_percent_per_day" meddler:"late_penalty_percent_per_day,zeroisnull"`
	AutoPublishGrades        bool              `json:"auto_publish_grades" meddler:"auto_publish_grades"`
	RandomizeOrder           bool              `json:"randomize_order" meddler:"randomize_order"`
	Exercises                []*ExerciseInList `json:"exercises" meddler:"-"`
}

type ExerciseInList struct {
	ListItemID    int64   `json:"list_item_id" meddler:"list_item_id"`
	ExerciseID    int64   `json:"exercise_id" meddler:"exercise_id"`
	ExerciseTitle string  `json:"exercise_title" meddler:"exercise_title"`
	Position      int     `json:"position" meddler:"position"`
	Weight        float64 `json:"weight" meddler:"weight"`
}

type ExerciseListCreate struct {
	Title                    string  `json:"title" binding:"required" validate:"required"`
	ClassID                  int64   `json:"class_id" binding:"required" validate:"required,gt=0"`
	GroupID                  int64   `json:"group_id,omitempty" validate:"gte=0"`
	OpensAt                  int64   `json:"opens_at,omitempty" validate:"gte=0"`
	ClosesAt                 int64   `json:"closes_at,omitempty" validate:"omitempty,gtfield=OpensAt"`
	LatePenaltyPercentPerDay float64 `json:"late_penalty_percent_per_day,omitempty" validate:"gte=0,lte=100"`
	AutoPublishGrades        bool    `json:"auto_publish_grades,omitempty"`
	RandomizeOrder           bool    `json:"randomize_order,omitempty"`
}

// ListExerciseAdd places an exercise in a list. Weight 0 means 1.
type ListExerciseAdd struct {
	ExerciseID int64   `json:"exercise_id" binding:"required" validate:"required,gt=0"`
	Position   int     `json:"position" validate:"gte=0"`
	Weight     float64 `json:"weight" validate:"gte=0"`
}
