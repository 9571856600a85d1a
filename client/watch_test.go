package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/russross/gradewatch/fakeapi"
	"github.com/russross/gradewatch/poller"
	"github.com/russross/gradewatch/types"
)

const testInterval = 5 * time.Millisecond

// countingTransport counts requests per path.
type countingTransport struct {
	mu     sync.Mutex
	counts map[string]int
}

func (ct *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ct.mu.Lock()
	ct.counts[req.URL.Path]++
	ct.mu.Unlock()
	return http.DefaultTransport.RoundTrip(req)
}

func (ct *countingTransport) count(path string) int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.counts[path]
}

func newFakeBackend(t *testing.T, opts fakeapi.Options) (*fakeapi.Server, *Client, *countingTransport) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	opts.Logger = logger

	api, err := fakeapi.New(opts)
	require.NoError(t, err)
	ts := httptest.NewServer(api)
	t.Cleanup(func() {
		ts.Close()
		api.Close()
	})

	counter := &countingTransport{counts: make(map[string]int)}
	c, err := New(ts.URL, WithHTTPClient(&http.Client{Transport: counter}), WithLogger(logger))
	require.NoError(t, err)
	return api, c, counter
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type recorder[S any] struct {
	mu    sync.Mutex
	snaps []S
	errs  []error
}

func (r *recorder[S]) update(s S) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder[S]) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder[S]) all() []S {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]S(nil), r.snaps...)
}

func (r *recorder[S]) failures() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func statuses(snaps []*types.SubmissionStatusReply) []types.SubmissionStatus {
	var out []types.SubmissionStatus
	for _, elt := range snaps {
		out = append(out, elt.Status)
	}
	return out
}

func TestSubmissionSuccessScenario(t *testing.T) {
	api, c, counter := newFakeBackend(t, fakeapi.Options{FirstSubmissionID: 501})
	require.NoError(t, api.AddExercise(42, "Sum two numbers"))
	ctx := testContext(t)

	sub, err := c.SubmitCode(ctx, 42, "print(sum([1, 2]))")
	require.NoError(t, err)
	assert.Equal(t, int64(501), sub.ID)
	assert.Equal(t, types.SubmissionQueued, sub.Status)

	rec := new(recorder[*types.SubmissionStatusReply])
	w, err := c.SubmissionWatcher(WatchOptions[*types.SubmissionStatusReply]{Interval: testInterval, Update: rec.update})
	require.NoError(t, err)
	defer w.Stop()
	require.NoError(t, w.Start(ctx, sub.ID))

	detail, err := w.Results(ctx)
	require.NoError(t, err)
	passed, total := detail.Passed()
	assert.Equal(t, 2, passed)
	assert.Equal(t, 2, total)
	assert.Equal(t, types.SubmissionCompleted, detail.Submission.Status)
	assert.Equal(t, poller.Terminal, w.State())

	seen := statuses(rec.all())
	assert.Equal(t, []types.SubmissionStatus{types.SubmissionRunning, types.SubmissionCompleted}, seen)
	assert.NoError(t, types.CheckSubmissionSequence(append([]types.SubmissionStatus{sub.Status}, seen...)))

	polled := counter.count("/submissions/501/status")
	time.Sleep(10 * testInterval)
	assert.Equal(t, polled, counter.count("/submissions/501/status"), "polling continued after a terminal status")
	assert.Equal(t, 1, counter.count("/submissions/501/results"))

	// stopping after the job finished is harmless
	w.Stop()
	w.Stop()
	assert.Equal(t, poller.Idle, w.State())
}

func TestSubmissionPushScenario(t *testing.T) {
	api, c, counter := newFakeBackend(t, fakeapi.Options{FirstSubmissionID: 501, PushInterval: time.Millisecond})
	require.NoError(t, api.AddExercise(42, "Sum two numbers"))
	ctx := testContext(t)

	sub, err := c.SubmitCode(ctx, 42, "print(3)")
	require.NoError(t, err)

	rec := new(recorder[*types.SubmissionStatusReply])
	w, err := c.SubmissionWatcher(WatchOptions[*types.SubmissionStatusReply]{
		Interval: time.Hour,
		Update:   rec.update,
		Push:     true,
	})
	require.NoError(t, err)
	defer w.Stop()
	require.NoError(t, w.Start(ctx, sub.ID))

	detail, err := w.Results(ctx)
	require.NoError(t, err)
	passed, total := detail.Passed()
	assert.Equal(t, 2, passed)
	assert.Equal(t, 2, total)
	assert.Equal(t, []types.SubmissionStatus{types.SubmissionQueued, types.SubmissionRunning, types.SubmissionCompleted}, statuses(rec.all()))
	assert.Zero(t, counter.count("/submissions/501/status"))
}

func TestSubmissionFailureIsData(t *testing.T) {
	api, c, _ := newFakeBackend(t, fakeapi.Options{
		Grade: func(*types.Submission) *fakeapi.Outcome {
			return &fakeapi.Outcome{Error: "time limit exceeded"}
		},
	})
	require.NoError(t, api.AddExercise(8, "Slow loop"))
	ctx := testContext(t)

	sub, err := c.SubmitFile(ctx, 8, "loop.py", strings.NewReader("while True: pass"))
	require.NoError(t, err)

	w, err := c.SubmissionWatcher(WatchOptions[*types.SubmissionStatusReply]{Interval: testInterval})
	require.NoError(t, err)
	defer w.Stop()
	require.NoError(t, w.Start(ctx, sub.ID))

	detail, err := w.Results(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.SubmissionFailed, detail.Submission.Status)
	assert.Equal(t, "time limit exceeded", detail.Submission.ErrorMessage)
	assert.Equal(t, "loop.py", detail.Submission.FileName)
	assert.Empty(t, detail.TestResults)
}

func TestCampaignPartialFailureRetryScenario(t *testing.T) {
	failing := make(map[int64]bool)
	api, c, _ := newFakeBackend(t, fakeapi.Options{
		Deliver: func(r *types.RecipientStatus, attempt int) error {
			if failing[r.UserID] && attempt == 1 {
				return errors.New("number not on whatsapp")
			}
			return nil
		},
	})
	course, err := api.AddCourse("Turma 2024")
	require.NoError(t, err)
	var ids []int64
	for i := 0; i < 10; i++ {
		id, err := api.AddStudent(course.ID, "Aluna "+string(rune('A'+i)), "aluna@example.com", "+5511900000000")
		require.NoError(t, err)
		ids = append(ids, id)
		if i%3 == 0 && len(failing) < 3 {
			failing[id] = true
		}
	}
	ctx := testContext(t)

	resp, err := c.SendBulk(ctx, &types.BulkSendRequest{UserIDs: ids, MessageTemplate: "Oi {primeiro_nome}!"})
	require.NoError(t, err)
	assert.Equal(t, 10, resp.TotalRecipients)

	rec := new(recorder[*types.CampaignDetail])
	w, err := c.CampaignWatcher(WatchOptions[*types.CampaignDetail]{Interval: testInterval, Update: rec.update})
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, w.Start(ctx, resp.CampaignID))
	first, err := w.Results(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.CampaignPartialFailure, first.Status)
	assert.Equal(t, 7, first.SentCount)
	assert.Equal(t, 3, first.FailedCount)
	assert.True(t, first.Retryable())

	retry, err := c.RetryCampaign(ctx, resp.CampaignID)
	require.NoError(t, err)
	assert.Equal(t, 3, retry.Retrying)

	// retry moves the campaign back to sending; the watcher is re-armed
	require.NoError(t, w.Start(ctx, resp.CampaignID))
	second, err := w.Results(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.CampaignCompleted, second.Status)
	assert.Equal(t, 10, second.SentCount)
	assert.Zero(t, second.FailedCount)
	assert.Equal(t, 100, second.Progress())

	var seen []types.CampaignStatus
	for _, snap := range rec.all() {
		require.NoError(t, types.CheckCampaign(&snap.Campaign, snap.Recipients))
		seen = append(seen, snap.Status)
	}
	assert.Equal(t, []types.CampaignStatus{
		types.CampaignSending, types.CampaignPartialFailure,
		types.CampaignSending, types.CampaignCompleted,
	}, seen)
	assert.Zero(t, rec.all()[0].SentCount)
}

func TestWatcherGivesUpOnRejection(t *testing.T) {
	_, c, counter := newFakeBackend(t, fakeapi.Options{})
	ctx := testContext(t)

	rec := new(recorder[*types.SubmissionStatusReply])
	w, err := c.SubmissionWatcher(WatchOptions[*types.SubmissionStatusReply]{Interval: testInterval, Error: rec.fail})
	require.NoError(t, err)
	defer w.Stop()
	require.NoError(t, w.Start(ctx, 999))

	_, err = w.Results(ctx)
	require.Error(t, err)
	assert.True(t, IsNotFound(err), "got %v", err)
	assert.Len(t, rec.failures(), 1)
	assert.Equal(t, poller.Idle, w.State())
	assert.Equal(t, 1, counter.count("/submissions/999/status"))
}

func TestWatcherRetriesTransientErrors(t *testing.T) {
	var polls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/submissions/11/status":
			if atomic.AddInt32(&polls, 1) <= 2 {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "grader restarting"})
				return
			}
			writeJSON(w, http.StatusOK, &types.SubmissionStatusReply{ID: 11, Status: types.SubmissionCompleted})
		case "/submissions/11/results":
			writeJSON(w, http.StatusOK, &types.SubmissionDetail{
				Submission:  &types.Submission{ID: 11, Status: types.SubmissionCompleted},
				TestResults: []*types.TestResultDetail{{TestName: "test_one", Passed: true}},
			})
		default:
			http.NotFound(w, r)
		}
	})
	c, _ := newTestClient(t, handler)
	ctx := testContext(t)

	rec := new(recorder[*types.SubmissionStatusReply])
	w, err := c.SubmissionWatcher(WatchOptions[*types.SubmissionStatusReply]{Interval: testInterval, Error: rec.fail})
	require.NoError(t, err)
	defer w.Stop()
	require.NoError(t, w.Start(ctx, 11))

	detail, err := w.Results(ctx)
	require.NoError(t, err)
	passed, total := detail.Passed()
	assert.Equal(t, 1, passed)
	assert.Equal(t, 1, total)

	failures := rec.failures()
	require.Len(t, failures, 2)
	for _, err := range failures {
		assert.True(t, IsTransient(err))
	}
}

func TestWatcherRetriesTruncatedBody(t *testing.T) {
	var polls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/submissions/7/status":
			if atomic.AddInt32(&polls, 1) == 1 {
				conn, buf, err := w.(http.Hijacker).Hijack()
				if err != nil {
					panic(err)
				}
				fmt.Fprint(buf, "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: 200\r\n\r\n{\"id\":7,\"sta")
				buf.Flush()
				conn.Close()
				return
			}
			writeJSON(w, http.StatusOK, &types.SubmissionStatusReply{ID: 7, Status: types.SubmissionCompleted})
		case "/submissions/7/results":
			writeJSON(w, http.StatusOK, &types.SubmissionDetail{
				Submission: &types.Submission{ID: 7, Status: types.SubmissionCompleted},
			})
		default:
			http.NotFound(w, r)
		}
	})
	c, _ := newTestClient(t, handler)
	ctx := testContext(t)

	rec := new(recorder[*types.SubmissionStatusReply])
	w, err := c.SubmissionWatcher(WatchOptions[*types.SubmissionStatusReply]{Interval: testInterval, Update: rec.update, Error: rec.fail})
	require.NoError(t, err)
	defer w.Stop()
	require.NoError(t, w.Start(ctx, 7))

	detail, err := w.Results(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.SubmissionCompleted, detail.Submission.Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&polls))
	require.Len(t, rec.failures(), 1)
	assert.False(t, IsRejection(rec.failures()[0]))
	assert.Equal(t, []types.SubmissionStatus{types.SubmissionCompleted}, statuses(rec.all()))
}

func TestCampaignWatcherHasNoPush(t *testing.T) {
	c, err := New("http://localhost")
	require.NoError(t, err)
	_, err = c.CampaignWatcher(WatchOptions[*types.CampaignDetail]{Push: true})
	assert.Error(t, err)
}
