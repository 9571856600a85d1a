// Package poller watches a server-side job until it reaches a terminal state.
//
// A Poller owns at most one ticker at a time. Each tick fetches a fresh
// snapshot of the job; the first terminal snapshot stops the ticker, triggers
// exactly one Final call, and releases the poller for the next job.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultInterval = 2 * time.Second

var (
	ErrAlreadyPolling = errors.New("poller: a job is already being watched")
	ErrNotStarted     = errors.New("poller: no job has been started")
	ErrStopped        = errors.New("poller: stopped before the job finished")
)

// State is the poller's position in the Idle → Polling → Terminal cycle.
type State int

const (
	Idle State = iota
	Polling
	Terminal
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

type ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type timeTicker struct {
	*time.Ticker
}

func (t timeTicker) Chan() <-chan time.Time {
	return t.C
}

var newTicker = func(d time.Duration) ticker { // mockable
	return timeTicker{time.NewTicker(d)}
}

// Options configures a Poller for snapshots of type S.
type Options[S any] struct {
	// Name labels log entries, e.g. "submission".
	Name string

	// Interval between status fetches. Defaults to DefaultInterval.
	Interval time.Duration

	// Fetch reads the current snapshot of job id. Required.
	Fetch func(ctx context.Context, id int64) (S, error)

	// Terminal reports whether a snapshot ends the job. Required.
	Terminal func(S) bool

	// Final runs once per terminal transition, after the ticker is stopped.
	// It usually fetches the full resource for display.
	Final func(ctx context.Context, id int64, last S) error

	// Update receives every snapshot, in order, terminal one included.
	// It must not call Start or Restart.
	Update func(S)

	// Error receives fetch failures. Polling continues regardless.
	Error func(error)

	// Subscribe optionally opens a push channel of snapshots. While it is
	// open, ticks are ignored; if it cannot be opened or closes before a
	// terminal snapshot, interval polling takes over.
	Subscribe func(ctx context.Context, id int64) (<-chan S, error)

	Logger logrus.FieldLogger
}

type run[S any] struct {
	id       int64
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	terminal bool
	final    S
}

// Poller is the Async Job Poller. The zero value is not usable; call New.
type Poller[S any] struct {
	opts Options[S]
	log  logrus.FieldLogger

	// deliver orders Update calls against Start, so a restarted poller
	// never hears from the run it replaced.
	deliver sync.Mutex

	mu        sync.Mutex
	state     State
	last      S
	current   *run[S] // the active ticker handle; nil when none
	finishing *run[S] // a terminal run whose Final call is in flight
	latest    *run[S]
}

func New[S any](opts Options[S]) (*Poller[S], error) {
	if opts.Fetch == nil {
		return nil, errors.New("poller: Fetch is required")
	}
	if opts.Terminal == nil {
		return nil, errors.New("poller: Terminal is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Name == "" {
		opts.Name = "job"
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Poller[S]{
		opts: opts,
		log:  logger.WithField("job", opts.Name),
	}, nil
}

// Start begins watching job id. It fails with ErrAlreadyPolling while another
// job's ticker is still active; call Stop or Restart first.
// Cancelling ctx has the same effect as Stop.
func (p *Poller[S]) Start(ctx context.Context, id int64) error {
	p.deliver.Lock()
	defer p.deliver.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil {
		return ErrAlreadyPolling
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run[S]{
		id:     id,
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.current = r
	p.latest = r
	p.state = Polling
	var zero S
	p.last = zero

	p.log.WithField("id", id).Debugf("polling every %v", p.opts.Interval)
	go p.loop(r)
	return nil
}

// Stop cancels the active ticker, if any, and returns the poller to Idle.
// A Final call still in flight is cancelled too.
// It is safe to call any number of times, including after a terminal state.
func (p *Poller[S]) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r := p.current; r != nil {
		p.log.WithField("id", r.id).Debug("polling stopped")
		r.cancel()
		p.current = nil
	}
	if r := p.finishing; r != nil {
		r.cancel()
		p.finishing = nil
	}
	p.state = Idle
}

// Restart stops whatever is being watched and starts watching id.
func (p *Poller[S]) Restart(ctx context.Context, id int64) error {
	p.Stop()
	return p.Start(ctx, id)
}

// Wait blocks until the most recently started job reaches a terminal state
// and its Final call has returned.
func (p *Poller[S]) Wait(ctx context.Context) (S, error) {
	var zero S

	p.mu.Lock()
	r := p.latest
	p.mu.Unlock()
	if r == nil {
		return zero, ErrNotStarted
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	if !r.terminal {
		return zero, ErrStopped
	}
	return r.final, nil
}

// Done is closed when the most recently started job finishes or is stopped.
// It returns nil before the first Start.
func (p *Poller[S]) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return nil
	}
	return p.latest.done
}

func (p *Poller[S]) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Last returns the most recent snapshot of the current job.
func (p *Poller[S]) Last() S {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// JobID returns the id of the most recently started job, or 0.
func (p *Poller[S]) JobID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return 0
	}
	return p.latest.id
}

func (p *Poller[S]) loop(r *run[S]) {
	defer close(r.done)
	defer p.release(r)
	log := p.log.WithField("id", r.id)

	var events <-chan S
	if p.opts.Subscribe != nil {
		ch, err := p.opts.Subscribe(r.ctx, r.id)
		if err != nil {
			log.Debugf("push channel unavailable, polling instead: %v", err)
		} else {
			events = ch
		}
	}

	t := newTicker(p.opts.Interval)
	defer t.Stop()

	for {
		var snap S
		select {
		case <-r.ctx.Done():
			return

		case elt, ok := <-events:
			if !ok {
				log.Debug("push channel closed, polling instead")
				events = nil
				continue
			}
			snap = elt

		case <-t.Chan():
			if events != nil {
				continue
			}
			if r.ctx.Err() != nil {
				return
			}
			elt, err := p.opts.Fetch(r.ctx, r.id)

			// ticks that fired while the fetch was in flight are dropped
			select {
			case <-t.Chan():
			default:
			}

			if err != nil {
				if r.ctx.Err() != nil {
					return
				}
				log.Debugf("status fetch failed, retrying next tick: %v", err)
				if p.opts.Error != nil {
					p.opts.Error(err)
				}
				continue
			}
			snap = elt
		}

		if p.observe(r, snap) {
			t.Stop()
			p.finish(r, snap)
			return
		}
	}
}

// observe publishes a snapshot and reports whether it was terminal.
// Snapshots arriving after Stop or Restart are discarded.
func (p *Poller[S]) observe(r *run[S], snap S) bool {
	p.deliver.Lock()
	defer p.deliver.Unlock()

	p.mu.Lock()
	if r.ctx.Err() != nil || p.current != r {
		p.mu.Unlock()
		return false
	}
	terminal := p.opts.Terminal(snap)
	p.last = snap
	if terminal {
		p.state = Terminal
		r.terminal = true
		r.final = snap
		p.current = nil
		p.finishing = r
	}
	p.mu.Unlock()

	if p.opts.Update != nil {
		p.opts.Update(snap)
	}
	return terminal
}

func (p *Poller[S]) finish(r *run[S], snap S) {
	p.log.WithField("id", r.id).Debug("terminal status observed")
	if p.opts.Final == nil {
		return
	}
	if err := p.opts.Final(r.ctx, r.id, snap); err != nil {
		p.log.WithField("id", r.id).Warnf("fetching final result: %v", err)
	}
}

// release clears the handles left by the run: the ticker handle if the loop
// exits without a terminal snapshot, e.g. when the parent context is
// cancelled, and the finishing handle once Final has returned.
func (p *Poller[S]) release(r *run[S]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == r {
		p.current = nil
		p.state = Idle
	}
	if p.finishing == r {
		p.finishing = nil
	}
	r.cancel()
}
