package client

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/russross/gradewatch/poller"
	"github.com/russross/gradewatch/types"
)

// WatchOptions tunes a watcher. Zero values pick the defaults.
type WatchOptions[S any] struct {
	Interval time.Duration
	Update   func(S)
	Error    func(error)

	// Push subscribes to the server's status socket before falling back to
	// interval polling. Only submissions support it.
	Push bool
}

// outcomes records the full resource fetched for each finished job.
type outcomes[T any] struct {
	mu      sync.Mutex
	results map[int64]T
	errs    map[int64]error
}

func newOutcomes[T any]() *outcomes[T] {
	return &outcomes[T]{
		results: make(map[int64]T),
		errs:    make(map[int64]error),
	}
}

func (o *outcomes[T]) set(id int64, result T, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.errs[id] = err
		return
	}
	delete(o.errs, id)
	o.results[id] = result
}

func (o *outcomes[T]) get(id int64) (T, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.errs[id]; err != nil {
		var zero T
		return zero, err
	}
	result, ok := o.results[id]
	if !ok {
		return result, errors.Errorf("no result recorded for job %d", id)
	}
	return result, nil
}

func (o *outcomes[T]) failure(id int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errs[id]
}

// errorHook gives up on rejections: a 4xx while polling means the job is
// gone or no longer ours. Anything else, including a response cut off
// mid-body, is retried on the next tick.
func errorHook[S any, T any](p **poller.Poller[S], o *outcomes[T], user func(error)) func(error) {
	return func(err error) {
		if user != nil {
			user(err)
		}
		if !IsRejection(err) {
			return
		}
		id := (*p).JobID()
		var zero T
		o.set(id, zero, err)
		(*p).Stop()
	}
}

// SubmissionWatcher polls a submission's status until grading finishes,
// then fetches the full results exactly once.
type SubmissionWatcher struct {
	*poller.Poller[*types.SubmissionStatusReply]
	out *outcomes[*types.SubmissionDetail]
}

func (c *Client) SubmissionWatcher(opts WatchOptions[*types.SubmissionStatusReply]) (*SubmissionWatcher, error) {
	if opts.Interval <= 0 {
		opts.Interval = SubmissionInterval
	}
	w := &SubmissionWatcher{out: newOutcomes[*types.SubmissionDetail]()}

	popts := poller.Options[*types.SubmissionStatusReply]{
		Name:     "submission",
		Interval: opts.Interval,
		Fetch:    c.GetSubmissionStatus,
		Terminal: func(s *types.SubmissionStatusReply) bool { return s.Status.Terminal() },
		Final: func(ctx context.Context, id int64, _ *types.SubmissionStatusReply) error {
			detail, err := c.GetSubmissionResults(ctx, id)
			w.out.set(id, detail, err)
			return err
		},
		Update: opts.Update,
		Error:  errorHook(&w.Poller, w.out, opts.Error),
		Logger: c.log,
	}
	if opts.Push {
		popts.Subscribe = c.StreamSubmission
	}

	p, err := poller.New(popts)
	if err != nil {
		return nil, err
	}
	w.Poller = p
	return w, nil
}

// Results waits for the current submission to finish and returns its
// graded record. A failed submission is not an error; check its Status.
func (w *SubmissionWatcher) Results(ctx context.Context) (*types.SubmissionDetail, error) {
	if _, err := w.Wait(ctx); err != nil {
		if failure := w.out.failure(w.JobID()); failure != nil {
			return nil, failure
		}
		return nil, err
	}
	return w.out.get(w.JobID())
}

// CampaignWatcher polls a campaign until the send worker stops, then
// fetches the campaign with all recipients once more.
type CampaignWatcher struct {
	*poller.Poller[*types.CampaignDetail]
	out *outcomes[*types.CampaignDetail]
}

func (c *Client) CampaignWatcher(opts WatchOptions[*types.CampaignDetail]) (*CampaignWatcher, error) {
	if opts.Interval <= 0 {
		opts.Interval = CampaignInterval
	}
	if opts.Push {
		return nil, errors.New("campaigns have no push channel")
	}
	w := &CampaignWatcher{out: newOutcomes[*types.CampaignDetail]()}

	p, err := poller.New(poller.Options[*types.CampaignDetail]{
		Name:     "campaign",
		Interval: opts.Interval,
		Fetch:    c.GetCampaign,
		Terminal: func(d *types.CampaignDetail) bool { return d.Status.Terminal() },
		Final: func(ctx context.Context, id int64, _ *types.CampaignDetail) error {
			detail, err := c.GetCampaign(ctx, id)
			w.out.set(id, detail, err)
			return err
		},
		Update: opts.Update,
		Error:  errorHook(&w.Poller, w.out, opts.Error),
		Logger: c.log,
	})
	if err != nil {
		return nil, err
	}
	w.Poller = p
	return w, nil
}

// Results waits for the current campaign to leave the sending state.
func (w *CampaignWatcher) Results(ctx context.Context) (*types.CampaignDetail, error) {
	if _, err := w.Wait(ctx); err != nil {
		if failure := w.out.failure(w.JobID()); failure != nil {
			return nil, failure
		}
		return nil, err
	}
	return w.out.get(w.JobID())
}
