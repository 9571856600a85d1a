package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/russross/gradewatch/client"
	"github.com/russross/gradewatch/fakeapi"
	"github.com/russross/gradewatch/types"
)

func unsetenv(t *testing.T, keys ...string) {
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

type harness struct {
	api    *fakeapi.Server
	config string
}

func newHarness(t *testing.T, opts fakeapi.Options) *harness {
	t.Helper()
	unsetenv(t, "GRADER_URL", "GRADER_TOKEN")
	logger, _ := test.NewNullLogger()
	opts.Logger = logger
	opts.Token = "t0ken"

	api, err := fakeapi.New(opts)
	require.NoError(t, err)
	ts := httptest.NewServer(api)
	t.Cleanup(func() {
		ts.Close()
		api.Close()
	})

	config := writeFile(t, "graderc", fmt.Sprintf(
		"[server]\nurl = %s\ntoken = t0ken\n\n[watch]\nsubmissionInterval = 5ms\ncampaignInterval = 5ms\n", ts.URL))
	return &harness{api: api, config: config}
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runGrade(t, h.config, args...)
}

func runGrade(t *testing.T, config string, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out := new(bytes.Buffer)
	logger, _ := test.NewNullLogger()
	a := &app{out: out, log: logger}
	cmd := newRootCommand(a)
	cmd.SetArgs(append([]string{"--config", config}, args...))
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestLoadConfig(t *testing.T) {
	unsetenv(t, "GRADER_URL", "GRADER_TOKEN")
	path := writeFile(t, "graderc", "[server]\nurl = https://grader.example.com\ntoken = from-file\n\n[watch]\npush = true\ncampaignInterval = 250ms\n")

	cfg, err := loadConfig(path, "")
	require.NoError(t, err)
	assert.Equal(t, "https://grader.example.com", cfg.Server.URL)
	assert.Equal(t, "from-file", cfg.Server.Token)
	assert.True(t, cfg.Watch.Push)
	assert.Equal(t, 250*time.Millisecond, orDefault(cfg.campaignEvery, client.CampaignInterval))
	assert.Equal(t, client.SubmissionInterval, orDefault(cfg.submissionEvery, client.SubmissionInterval))

	env := writeFile(t, ".env", "GRADER_TOKEN=from-dotenv\n")
	t.Setenv("GRADER_URL", "http://localhost:8000")
	cfg, err = loadConfig(path, env)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000", cfg.Server.URL)
	assert.Equal(t, "from-dotenv", cfg.Server.Token)
}

func TestLoadConfigMissingFile(t *testing.T) {
	unsetenv(t, "GRADER_URL", "GRADER_TOKEN")
	home := t.TempDir()
	orig := userHomeDir
	userHomeDir = func() (string, error) { return home, nil }
	t.Cleanup(func() { userHomeDir = orig })

	cfg, err := loadConfig("", filepath.Join(home, ".env"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Server.URL)

	_, err = loadConfig(filepath.Join(home, "nope"), "")
	assert.Error(t, err)

	bad := writeFile(t, "graderc", "[watch]\nsubmissionInterval = soon\n")
	_, err = loadConfig(bad, "")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	unsetenv(t, "GRADER_URL", "GRADER_TOKEN")
	empty := writeFile(t, "graderc", "")
	out, err := runGrade(t, empty, "version")
	require.NoError(t, err)
	assert.Equal(t, "grade "+types.CurrentVersion.Version+"\n", out)

	h := newHarness(t, fakeapi.Options{Version: &types.Version{Version: "1.4.0", GradeVersionRequired: "1.0.0"}})
	out, err = h.run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "server 1.4.0 at http://")

	_, err = runGrade(t, empty, "courses")
	assert.Error(t, err, "no server configured")
}

func TestUpgradeRequired(t *testing.T) {
	h := newHarness(t, fakeapi.Options{Version: &types.Version{Version: "9.0.0", GradeVersionRequired: "9.0.0"}})
	_, err := h.run(t, "courses")
	assert.True(t, errors.Is(err, client.ErrUpgradeRequired), "got %v", err)
}

func TestSubmitAndWait(t *testing.T) {
	h := newHarness(t, fakeapi.Options{FirstSubmissionID: 501})
	require.NoError(t, h.api.AddExercise(42, "Sum two numbers"))

	out, err := h.run(t, "submit", "42", "--code", "print(1 + 2)")
	require.NoError(t, err)
	assert.Contains(t, out, "submitted 501 for exercise 42: queued")
	assert.Contains(t, out, "submission 501: running")
	assert.Contains(t, out, "submission 501: completed")
	assert.Contains(t, out, "tests: 2/2 passed")
	assert.Contains(t, out, "PASS test_output")
	assert.Contains(t, out, "[unpublished]")
	assert.True(t, strings.HasSuffix(out, "View results: grade results 501\n"), out)
	assert.Equal(t, 1, strings.Count(out, "submission 501: running"))
}

func TestSubmitPush(t *testing.T) {
	h := newHarness(t, fakeapi.Options{FirstSubmissionID: 501, PushInterval: time.Millisecond})
	require.NoError(t, h.api.AddExercise(42, "Sum two numbers"))

	out, err := h.run(t, "submit", "42", "--code", "print(3)", "--push")
	require.NoError(t, err)
	assert.Contains(t, out, "submission 501: queued")
	assert.Contains(t, out, "tests: 2/2 passed")
}

func TestSubmitFileThenWatch(t *testing.T) {
	h := newHarness(t, fakeapi.Options{FirstSubmissionID: 501})
	require.NoError(t, h.api.AddExercise(42, "Sum two numbers"))
	source := writeFile(t, "solution.py", "print(sum([1, 2]))\n")

	out, err := h.run(t, "submit", "42", source, "--no-wait")
	require.NoError(t, err)
	assert.Contains(t, out, "Check progress: grade status 501")

	out, err = h.run(t, "status", "501")
	require.NoError(t, err)
	assert.Equal(t, "submission 501: running\n", out)

	out, err = h.run(t, "watch", "501")
	require.NoError(t, err)
	assert.Contains(t, out, "file: solution.py (19 bytes)")
	assert.Contains(t, out, "View results: grade results 501")

	out, err = h.run(t, "results", "501")
	require.NoError(t, err)
	assert.Contains(t, out, "rubric:")
	assert.Contains(t, out, "correctness")

	out, err = h.run(t, "submissions", "--exercise", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "solution.py")
}

func TestSubmitRejected(t *testing.T) {
	h := newHarness(t, fakeapi.Options{})
	require.NoError(t, h.api.AddExercise(42, "Sum two numbers"))

	_, err := h.run(t, "submit", "99", "--code", "print(1)")
	assert.True(t, client.IsNotFound(err), "got %v", err)

	_, err = h.run(t, "submit", "42")
	assert.Error(t, err)

	_, err = h.run(t, "submit", "forty-two", "--code", "print(1)")
	assert.Error(t, err)

	out, err := h.run(t, "submissions")
	require.NoError(t, err)
	assert.Equal(t, "no submissions found\n", out)
}

func TestSubmitFailedGradingIsNotAnError(t *testing.T) {
	h := newHarness(t, fakeapi.Options{
		Grade: func(*types.Submission) *fakeapi.Outcome {
			return &fakeapi.Outcome{Error: "compilation error"}
		},
	})
	require.NoError(t, h.api.AddExercise(42, "Sum two numbers"))

	out, err := h.run(t, "submit", "42", "--code", "print(")
	require.NoError(t, err)
	assert.Contains(t, out, "grading failed: compilation error")
}

func enrollCourse(t *testing.T, api *fakeapi.Server, n int) (*types.Course, []int64) {
	t.Helper()
	course, err := api.AddCourse("Turma 2024")
	require.NoError(t, err)
	var ids []int64
	for i := 0; i < n; i++ {
		id, err := api.AddStudent(course.ID, fmt.Sprintf("Aluno %02d", i), fmt.Sprintf("aluno%02d@example.com", i), fmt.Sprintf("+55119000000%02d", i))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return course, ids
}

func TestSendAndRetry(t *testing.T) {
	failing := make(map[int64]bool)
	h := newHarness(t, fakeapi.Options{
		Deliver: func(r *types.RecipientStatus, attempt int) error {
			if failing[r.UserID] && attempt == 1 {
				return errors.New("gateway timeout")
			}
			return nil
		},
	})
	course, ids := enrollCourse(t, h.api, 10)
	for _, id := range ids[7:] {
		failing[id] = true
	}

	out, err := h.run(t, "send", "--course", fmt.Sprint(course.ID), "--message", "Oi {primeiro_nome}, veja a {turma}")
	require.NoError(t, err)
	assert.Contains(t, out, "campaign 1 started: 10 recipients")
	assert.Contains(t, out, "campaign 1: sending, 0/10 sent, 0 failed (0%)")
	assert.Contains(t, out, "campaign 1: partial_failure, 7/10 sent, 3 failed")
	assert.Contains(t, out, "gateway timeout")
	assert.Contains(t, out, "Resend failed messages: grade retry 1")

	out, err = h.run(t, "retry", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "retrying 3 recipients in campaign 1")
	assert.Contains(t, out, "campaign 1: sending, 7/10 sent, 0 failed (70%)")
	assert.Contains(t, out, "campaign 1: completed, 10/10 sent, 0 failed (100%)")
	assert.NotContains(t, out, "Resend failed messages")

	_, err = h.run(t, "retry", "1")
	assert.True(t, client.IsRejection(err), "got %v", err)

	out, err = h.run(t, "campaign", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "course: Turma 2024")
	assert.Contains(t, out, "message: Oi {primeiro_nome}, veja a {turma}")
	assert.Equal(t, 13, strings.Count(out, "\n"))

	out, err = h.run(t, "campaigns", "--status", "completed")
	require.NoError(t, err)
	assert.Contains(t, out, "campaign 1: completed")

	_, err = h.run(t, "campaigns", "--status", "done")
	assert.Error(t, err)
}

func TestSendNoWaitThenWatch(t *testing.T) {
	h := newHarness(t, fakeapi.Options{})
	_, ids := enrollCourse(t, h.api, 2)

	out, err := h.run(t, "send", "--user", fmt.Sprint(ids[0]), "--user", fmt.Sprint(ids[1]), "--message", "Oi {nome}", "--no-wait")
	require.NoError(t, err)
	assert.Contains(t, out, "campaign 1 started: 2 recipients")
	assert.Contains(t, out, "Check progress: grade campaign 1 --watch")

	out, err = h.run(t, "campaign", "1", "--watch")
	require.NoError(t, err)
	assert.Contains(t, out, "campaign 1: completed, 2/2 sent, 0 failed (100%)")
}

func TestSendInvalidTemplate(t *testing.T) {
	h := newHarness(t, fakeapi.Options{})
	_, ids := enrollCourse(t, h.api, 1)

	_, err := h.run(t, "send", "--user", fmt.Sprint(ids[0]), "--message", "Oi {apelido}")
	require.Error(t, err)
	assert.True(t, errors.Is(err, client.ErrInvalidRequest), "got %v", err)
	assert.Contains(t, err.Error(), "apelido")
}

func TestCoursesAndRecipients(t *testing.T) {
	h := newHarness(t, fakeapi.Options{})
	course, _ := enrollCourse(t, h.api, 2)
	_, err := h.api.AddStudent(course.ID, "Sem Telefone", "sem@example.com", "")
	require.NoError(t, err)

	out, err := h.run(t, "courses")
	require.NoError(t, err)
	assert.Contains(t, out, "Turma 2024")

	out, err = h.run(t, "recipients", fmt.Sprint(course.ID))
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "\n"))
	assert.Contains(t, out, "(no whatsapp)")

	out, err = h.run(t, "recipients", fmt.Sprint(course.ID), "--whatsapp=false")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "Sem Telefone")
}

func TestGradesCommands(t *testing.T) {
	h := newHarness(t, fakeapi.Options{})
	require.NoError(t, h.api.AddExercise(42, "Sum two numbers"))

	_, err := h.run(t, "submit", "42", "--code", "print(3)")
	require.NoError(t, err)

	out, err := h.run(t, "grades", "--exercise", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "unpublished")

	out, err = h.run(t, "grades", "me")
	require.NoError(t, err)
	assert.Equal(t, "no grades published yet\n", out)

	out, err = h.run(t, "grades", "publish", "1")
	require.NoError(t, err)
	assert.Equal(t, "grade 1 published\n", out)

	out, err = h.run(t, "grades", "me")
	require.NoError(t, err)
	assert.Contains(t, out, "Sum two numbers")
	assert.Contains(t, out, "submission 1")

	out, err = h.run(t, "grades", "--published")
	require.NoError(t, err)
	assert.Contains(t, out, "published")
	assert.NotContains(t, out, "unpublished")

	_, err = h.run(t, "grades", "publish", "7")
	assert.True(t, client.IsNotFound(err), "got %v", err)
}

func TestClassCommands(t *testing.T) {
	h := newHarness(t, fakeapi.Options{})
	_, ids := enrollCourse(t, h.api, 2)

	out, err := h.run(t, "classes", "create", "Algoritmos")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "class 1 created, invite code "), out)
	code := strings.TrimSpace(strings.TrimPrefix(out, "class 1 created, invite code "))

	_, err = h.run(t, "classes", "enroll", "1", "NOPE")
	assert.True(t, client.IsRejection(err), "got %v", err)
	out, err = h.run(t, "classes", "enroll", "1", code)
	require.NoError(t, err)
	assert.Equal(t, "enrolled in Algoritmos\n", out)
	require.NoError(t, h.api.Enroll(1, ids[1]))

	out, err = h.run(t, "classes", "group", "1", "Turma B")
	require.NoError(t, err)
	assert.Equal(t, "group 1 created\n", out)
	out, err = h.run(t, "classes", "members", "1", fmt.Sprint(ids[0]), fmt.Sprint(ids[1]))
	require.NoError(t, err)
	assert.Equal(t, "group 1 now has 2 members\n", out)

	out, err = h.run(t, "classes", "show", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "class 1: Algoritmos")
	assert.Contains(t, out, "2 students")
	assert.Contains(t, out, "aluno00@example.com")
	assert.Contains(t, out, fmt.Sprintf("group 1 Turma B: %d, %d", ids[0], ids[1]))

	out, err = h.run(t, "classes", "remove", "1", fmt.Sprint(ids[1]))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("student %d removed from class 1\n", ids[1]), out)
	out, err = h.run(t, "classes", "archive", "1")
	require.NoError(t, err)
	assert.Equal(t, "class 1 archived\n", out)

	out, err = h.run(t, "classes")
	require.NoError(t, err)
	assert.Contains(t, out, "Algoritmos")
	assert.Contains(t, out, "archived")

	out, err = h.run(t, "students", "--search", "aluno", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Aluno 00")
	assert.Contains(t, out, "1 of 2 students")
}

func TestExerciseCommands(t *testing.T) {
	h := newHarness(t, fakeapi.Options{})
	require.NoError(t, h.api.AddExercise(1, "Hello"))
	_, err := h.api.AddClass("Algoritmos")
	require.NoError(t, err)

	_, err = h.run(t, "exercises", "create", "Soma", "--description", "x", "--test-weight", "0.8", "--llm-weight", "0.3")
	assert.True(t, errors.Is(err, client.ErrInvalidRequest), "got %v", err)

	statement := writeFile(t, "soma.md", "Some dois números.")
	out, err := h.run(t, "exercises", "create", "Soma", "--description-file", statement, "--llm-weight", "0.4", "--tags", "intro")
	require.NoError(t, err)
	assert.Equal(t, "exercise 2 created (tests 0.60, review 0.40)\n", out)

	out, err = h.run(t, "exercises", "--drafts")
	require.NoError(t, err)
	assert.Contains(t, out, "Soma")
	assert.NotContains(t, out, "Hello")

	out, err = h.run(t, "exercises", "publish", "2")
	require.NoError(t, err)
	assert.Equal(t, "exercise 2 published\n", out)
	out, err = h.run(t, "exercises", "add-test", "2", "basic", "--input", "1 2", "--expected", "3", "--hidden")
	require.NoError(t, err)
	assert.Equal(t, "test case 1 added to exercise 2\n", out)

	out, err = h.run(t, "exercises", "show", "2", "--tests")
	require.NoError(t, err)
	assert.Contains(t, out, "exercise 2: Soma")
	assert.Contains(t, out, "weights: tests 0.60, review 0.40")
	assert.Contains(t, out, "Some dois números.")
	assert.Contains(t, out, "test 1 basic (hidden)")

	out, err = h.run(t, "lists", "create", "1", "Lista 1", "--opens", "2024-03-01 08:00", "--closes", "2024-03-08 23:59", "--late-penalty", "10")
	require.NoError(t, err)
	assert.Equal(t, "exercise list 1 created\n", out)
	_, err = h.run(t, "lists", "create", "1", "Lista 2", "--closes", "tomorrow")
	assert.Error(t, err)

	_, err = h.run(t, "lists", "add", "1", "2", "--position", "2")
	require.NoError(t, err)
	out, err = h.run(t, "lists", "add", "1", "1", "--position", "1", "--weight", "2")
	require.NoError(t, err)
	assert.Equal(t, "list 1 now has 2 exercises\n", out)

	out, err = h.run(t, "lists", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "list 1: Lista 1")
	assert.Contains(t, out, "closes 2024-03-08 23:59, late penalty 10.0%/day")
	assert.Less(t, strings.Index(out, "Hello"), strings.Index(out, "Soma"))

	_, err = h.run(t, "submit", "2", "--code", "print(3)", "--no-wait")
	require.NoError(t, err)
	_, err = h.run(t, "lists", "remove", "1", "2")
	assert.True(t, client.IsRejection(err), "got %v", err)
	out, err = h.run(t, "lists", "remove", "1", "2", "--confirm")
	require.NoError(t, err)
	assert.Equal(t, "exercise 2 removed from list 1\n", out)
}

func TestDiffCommand(t *testing.T) {
	h := newHarness(t, fakeapi.Options{})
	require.NoError(t, h.api.AddExercise(1, "Soma"))

	for _, code := range []string{"a = 1\nprint(a - 1)\n", "a = 1\nprint(a + 1)\n"} {
		_, err := h.run(t, "submit", "1", "--code", code, "--no-wait")
		require.NoError(t, err)
	}

	out, err := h.run(t, "diff", "2", "1")
	require.NoError(t, err)
	assert.Equal(t, " a = 1\n-print(a - 1)\n+print(a + 1)\n", out)

	out, err = h.run(t, "diff", "2", "2")
	require.NoError(t, err)
	assert.Equal(t, "(no differences)\n", out)

	_, err = h.run(t, "diff", "2", "9")
	assert.True(t, client.IsNotFound(err), "got %v", err)
}
