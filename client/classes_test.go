package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/russross/gradewatch/types"
)

type recordedCall struct {
	method string
	target string
	body   map[string]interface{}
}

// recordingHandler answers every request with a canned body keyed by method
// and path, and remembers what was asked.
func recordingHandler(t *testing.T, calls *[]recordedCall, replies map[string]interface{}) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := recordedCall{method: r.Method, target: r.URL.Path + "?" + r.URL.RawQuery}
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			assert.NoError(t, json.Unmarshal(raw, &call.body))
		}
		*calls = append(*calls, call)
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		reply, ok := replies[r.Method+" "+r.URL.Path]
		if !ok {
			reply = map[string]interface{}{"id": 1}
		}
		writeJSON(w, http.StatusOK, reply)
	})
}

func TestClassRequests(t *testing.T) {
	var calls []recordedCall
	c, _ := newTestClient(t, recordingHandler(t, &calls, map[string]interface{}{
		"GET /classes":        []interface{}{},
		"GET /admin/students": map[string]interface{}{"items": []interface{}{}, "total": 0},
	}))
	ctx := context.Background()

	_, err := c.ListClasses(ctx)
	require.NoError(t, err)
	_, err = c.GetClass(ctx, 3)
	require.NoError(t, err)
	_, err = c.CreateClass(ctx, "Algoritmos 2024")
	require.NoError(t, err)
	_, err = c.EnrollInClass(ctx, 3, "AB12CD34")
	require.NoError(t, err)
	require.NoError(t, c.RemoveStudent(ctx, 3, 8))
	_, err = c.ArchiveClass(ctx, 3)
	require.NoError(t, err)
	_, err = c.CreateGroup(ctx, 3, "Turma B")
	require.NoError(t, err)
	_, err = c.AddGroupMembers(ctx, 5, []int64{8, 9})
	require.NoError(t, err)
	_, err = c.ListStudents(ctx, StudentFilter{Search: "ana", Limit: 10, Offset: 20})
	require.NoError(t, err)

	var got []string
	for _, call := range calls {
		got = append(got, call.method+" "+call.target)
	}
	assert.Equal(t, []string{
		"GET /classes?",
		"GET /classes/3?",
		"POST /classes?",
		"POST /classes/3/enroll?",
		"DELETE /classes/3/students/8?",
		"PATCH /classes/3/archive?",
		"POST /classes/3/groups?",
		"POST /groups/5/members?",
		"GET /admin/students?limit=10&offset=20&search=ana",
	}, got)
	assert.Equal(t, "Algoritmos 2024", calls[2].body["name"])
	assert.Equal(t, "AB12CD34", calls[3].body["invite_code"])
	assert.Equal(t, []interface{}{8.0, 9.0}, calls[7].body["student_ids"])
}

func TestExerciseRequests(t *testing.T) {
	var calls []recordedCall
	c, _ := newTestClient(t, recordingHandler(t, &calls, map[string]interface{}{
		"GET /exercises":                      []interface{}{},
		"GET /exercise-lists/classes/3/lists": []interface{}{},
		"GET /submissions/12/diff/11":         "-print(1)\n+print(2)\n",
	}))
	ctx := context.Background()
	no := false
	half := 0.5

	_, err := c.ListExercises(ctx, ExerciseFilter{Published: &no, Tags: "loops"})
	require.NoError(t, err)
	_, err = c.GetExercise(ctx, 7, true)
	require.NoError(t, err)
	_, err = c.CreateExercise(ctx, &types.ExerciseCreate{Title: "Soma", Description: "Some dois números", TestWeight: &half})
	require.NoError(t, err)
	_, err = c.PublishExercise(ctx, 7, true)
	require.NoError(t, err)
	_, err = c.AddTestCase(ctx, 7, &types.TestCaseCreate{Name: "basic", InputData: "1 2", ExpectedOutput: "3"})
	require.NoError(t, err)
	_, err = c.ListExerciseLists(ctx, 3)
	require.NoError(t, err)
	_, err = c.CreateExerciseList(ctx, &types.ExerciseListCreate{Title: "Lista 1", ClassID: 3, OpensAt: 100, ClosesAt: 200})
	require.NoError(t, err)
	_, err = c.AddListExercise(ctx, 4, &types.ListExerciseAdd{ExerciseID: 7, Position: 1})
	require.NoError(t, err)
	require.NoError(t, c.RemoveListExercise(ctx, 4, 7, false))
	require.NoError(t, c.RemoveListExercise(ctx, 4, 7, true))
	diff, err := c.GetSubmissionDiff(ctx, 12, 11)
	require.NoError(t, err)
	assert.Equal(t, "-print(1)\n+print(2)\n", diff)

	var got []string
	for _, call := range calls {
		got = append(got, call.method+" "+call.target)
	}
	assert.Equal(t, []string{
		"GET /exercises?published=false&tags=loops",
		"GET /exercises/7?include_tests=true",
		"POST /exercises?",
		"PATCH /exercises/7/publish?published=true",
		"POST /exercises/7/tests?",
		"GET /exercise-lists/classes/3/lists?",
		"POST /exercise-lists?",
		"POST /exercise-lists/4/exercises?",
		"DELETE /exercise-lists/4/exercises/7?",
		"DELETE /exercise-lists/4/exercises/7?confirm=true",
		"GET /submissions/12/diff/11?",
	}, got)
	assert.Equal(t, 0.5, calls[2].body["test_weight"])
	assert.NotContains(t, calls[2].body, "llm_weight")
	assert.Equal(t, 3.0, calls[6].body["class_id"])
}

func TestClassAndExerciseValidation(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusOK, map[string]interface{}{})
	}))
	ctx := context.Background()
	heavy, light := 0.8, 0.3
	tooMuch := 1.5

	checks := map[string]error{}
	_, checks["empty class name"] = c.CreateClass(ctx, "")
	_, checks["empty invite code"] = c.EnrollInClass(ctx, 1, "")
	_, checks["no group members"] = c.AddGroupMembers(ctx, 1, nil)
	_, checks["bad group member"] = c.AddGroupMembers(ctx, 1, []int64{3, 0})
	_, checks["no description"] = c.CreateExercise(ctx, &types.ExerciseCreate{Title: "Soma"})
	_, checks["weights over one"] = c.CreateExercise(ctx, &types.ExerciseCreate{Title: "Soma", Description: "x", TestWeight: &heavy, LLMWeight: &light})
	_, checks["weight out of range"] = c.CreateExercise(ctx, &types.ExerciseCreate{Title: "Soma", Description: "x", TestWeight: &tooMuch})
	_, checks["test without output"] = c.AddTestCase(ctx, 1, &types.TestCaseCreate{Name: "basic"})
	_, checks["closes before opens"] = c.CreateExerciseList(ctx, &types.ExerciseListCreate{Title: "Lista", ClassID: 1, OpensAt: 200, ClosesAt: 100})
	_, checks["list without class"] = c.CreateExerciseList(ctx, &types.ExerciseListCreate{Title: "Lista"})
	_, checks["no exercise"] = c.AddListExercise(ctx, 1, &types.ListExerciseAdd{})

	for name, err := range checks {
		assert.True(t, errors.Is(err, ErrInvalidRequest), "%s: %v", name, err)
	}
	assert.Contains(t, checks["closes before opens"].Error(), "ClosesAt must be after OpensAt")
	assert.Contains(t, checks["weights over one"].Error(), "must add up to 1")
	assert.Zero(t, atomic.LoadInt32(&calls))
}
