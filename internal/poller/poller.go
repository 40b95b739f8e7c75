// Package poller drives a bounded, cancellable polling loop for one
// evaluation job.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spboyer/querylens/internal/models"
)

const (
	DefaultInterval       = 2 * time.Second
	DefaultBudget         = 120 * time.Second
	DefaultRequestTimeout = 2 * time.Second
)

// StatusFetcher checks the evaluation status of one query log entry.
// *apiclient.Client satisfies it.
type StatusFetcher interface {
	QueryStatus(ctx context.Context, queryLogID string, timeout time.Duration) (*models.StatusResponse, error)
}

// StopReason says why a Task stopped ticking.
type StopReason string

const (
	StopTerminal        StopReason = "terminal"
	StopCanceled        StopReason = "canceled"
	StopBudgetExhausted StopReason = "budget_exhausted"
	StopRequestFailed   StopReason = "request_failed"
)

// Handlers receive a task's results. Both are called from the task's own
// goroutine and are tagged with the generation the task was started for.
type Handlers struct {
	// OnUpdate receives every successfully decoded status.
	OnUpdate func(generation uint64, status *models.StatusResponse)
	// OnStop is called exactly once when the task stops, for any reason.
	OnStop func(generation uint64, reason StopReason, err error)
}

// Options configures a Poller. Zero values select the defaults.
type Options struct {
	Interval       time.Duration
	Budget         time.Duration
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Poller starts polling tasks.
type Poller struct {
	fetcher StatusFetcher
	opts    Options
}

// New creates a Poller.
func New(fetcher StatusFetcher, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Budget <= 0 {
		opts.Budget = DefaultBudget
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Poller{fetcher: fetcher, opts: opts}
}

// Task is the handle for one running poll loop. Its owner must call Cancel
// when the session it belongs to is superseded.
type Task struct {
	jobID      string
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
	ticks      atomic.Int64

	mu     sync.Mutex
	reason StopReason
	err    error
}

// Cancel stops the task. It is safe to call more than once and from any
// goroutine; it does not wait for the loop to exit.
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed once the loop has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Ticks returns how many status requests the task has issued.
func (t *Task) Ticks() int {
	return int(t.ticks.Load())
}

// Generation returns the generation the task was started for.
func (t *Task) Generation() uint64 {
	return t.generation
}

// Result returns why the task stopped. It is only meaningful after Done is
// closed.
func (t *Task) Result() (StopReason, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason, t.err
}

// Start begins polling jobID. The first status request is issued one
// interval after Start returns. Canceling ctx has the same effect as
// Task.Cancel.
func (p *Poller) Start(ctx context.Context, jobID string, generation uint64, h Handlers) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		jobID:      jobID,
		generation: generation,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go p.run(ctx, t, h)
	return t
}

func (p *Poller) run(ctx context.Context, t *Task, h Handlers) {
	logger := p.opts.Logger.With("job_id", t.jobID, "generation", t.generation)

	reason, err := p.loop(ctx, t, h, logger)

	t.mu.Lock()
	t.reason, t.err = reason, err
	t.mu.Unlock()
	t.cancel()

	logger.Debug("polling stopped", "reason", reason, "ticks", t.Ticks(), "error", err)
	if h.OnStop != nil {
		h.OnStop(t.generation, reason, err)
	}
	close(t.done)
}

func (p *Poller) loop(ctx context.Context, t *Task, h Handlers, logger *slog.Logger) (StopReason, error) {
	timer := time.NewTimer(p.opts.Interval)
	defer timer.Stop()

	var elapsed time.Duration
	for {
		select {
		case <-ctx.Done():
			return StopCanceled, nil
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return StopCanceled, nil
		}
		if elapsed >= p.opts.Budget {
			return StopBudgetExhausted, nil
		}

		t.ticks.Add(1)
		status, err := p.fetcher.QueryStatus(ctx, t.jobID, p.opts.RequestTimeout)
		elapsed += p.opts.Interval

		if ctx.Err() != nil {
			// A response that lands after cancellation is never delivered.
			return StopCanceled, nil
		}
		if err != nil {
			return StopRequestFailed, err
		}

		logger.Debug("evaluation status", "status", status.EvaluationStatus, "tick", t.Ticks())
		if h.OnUpdate != nil {
			h.OnUpdate(t.generation, status)
		}
		if status.Terminal() {
			return StopTerminal, nil
		}
		timer.Reset(p.opts.Interval)
	}
}
