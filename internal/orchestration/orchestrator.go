// Package orchestration owns the single current query session: it submits
// queries, supersedes stale work and drives evaluation polling.
package orchestration

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spboyer/querylens/internal/apiclient"
	"github.com/spboyer/querylens/internal/models"
	"github.com/spboyer/querylens/internal/poller"
	"github.com/spboyer/querylens/internal/session"
	"github.com/spboyer/querylens/internal/utils"
)

// StallBudgetMessage is recorded when evaluation polling runs out of time.
const StallBudgetMessage = "Evaluation is taking longer than expected."

var (
	// ErrSuperseded is returned by Wait when a newer session replaced the
	// one being waited on.
	ErrSuperseded = errors.New("session superseded")
	// ErrClosed is returned by Wait after Close.
	ErrClosed = errors.New("orchestrator closed")
)

// QueryAPI is the backend surface the orchestrator drives.
// *apiclient.Client satisfies it.
type QueryAPI interface {
	SubmitQuery(ctx context.Context, query string) (*models.QueryResponse, error)
	QueryStatus(ctx context.Context, queryLogID string, timeout time.Duration) (*models.StatusResponse, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPollOptions sets the evaluation polling cadence and budget.
func WithPollOptions(opts poller.Options) Option {
	return func(o *Orchestrator) {
		o.pollOpts = opts
	}
}

// WithSessionLogger records lifecycle events.
func WithSessionLogger(l session.Logger) Option {
	return func(o *Orchestrator) {
		o.events = l
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithClock overrides the time source used for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// Orchestrator owns the current QuerySession. All state lives behind one
// mutex; every asynchronous completion carries the generation it was started
// for and is dropped when that generation is no longer current.
type Orchestrator struct {
	api      QueryAPI
	poller   *poller.Poller
	pollOpts poller.Options
	events   session.Logger
	logger   *slog.Logger
	now      func() time.Time

	// base outlives individual submissions and parents every poll task.
	base      context.Context
	stopBase  context.CancelFunc
	inFlight  sync.WaitGroup
	closeOnce sync.Once

	mu           sync.Mutex
	generation   uint64
	current      session.QuerySession
	cancelSubmit context.CancelFunc
	pollTask     *poller.Task
	changed      chan struct{}
	subs         map[int]chan session.QuerySession
	nextSub      int
	closed       bool
}

// New creates an Orchestrator with an Idle current session.
func New(api QueryAPI, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		api:     api,
		events:  session.NopLogger{},
		logger:  slog.Default(),
		now:     time.Now,
		changed: make(chan struct{}),
		subs:    map[int]chan session.QuerySession{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.pollOpts.Logger == nil {
		o.pollOpts.Logger = o.logger
	}
	o.poller = poller.New(api, o.pollOpts)
	o.base, o.stopBase = context.WithCancel(context.Background())
	o.current = session.QuerySession{Phase: session.PhaseIdle}
	return o
}

// Submit starts a new session for query and returns its generation. Any
// in-flight submission or polling for the previous session is canceled
// first. The request runs in the background; ctx cancels it.
// Submit returns 0 after Close.
func (o *Orchestrator) Submit(ctx context.Context, query string) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return 0
	}

	o.supersedeLocked()
	o.generation++
	gen := o.generation
	o.current = session.New(gen, uuid.NewString(), query, o.now())

	submitCtx, cancel := context.WithCancel(ctx)
	o.cancelSubmit = cancel
	o.inFlight.Add(1)
	go o.runSubmit(submitCtx, cancel, gen, query)

	o.logger.Debug("query submitted", "generation", gen, "session", o.current.ID)
	o.recordLocked(session.EventQuerySubmitted, session.SubmittedData(query))
	o.publishLocked()
	return gen
}

// Current returns a snapshot of the current session.
func (o *Orchestrator) Current() session.QuerySession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current.Clone()
}

// Subscribe returns a channel of session snapshots, starting with the
// current one, and a function that ends the subscription. A slow reader only
// ever sees the latest snapshot.
func (o *Orchestrator) Subscribe() (<-chan session.QuerySession, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ch := make(chan session.QuerySession, 1)
	if o.closed {
		close(ch)
		return ch, func() {}
	}
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	ch <- o.current.Clone()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if _, ok := o.subs[id]; ok {
				delete(o.subs, id)
				close(ch)
			}
		})
	}
}

// ExpireSubmission is the external submission timeout. It fails the session
// of the given generation if that session is still waiting for its results,
// and reports whether it did. Whichever of this and the request's own
// timeout fires first wins; the other is a no-op.
func (o *Orchestrator) ExpireSubmission(generation uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current.Generation != generation || o.current.Phase != session.PhaseSubmitting {
		return false
	}

	o.abortLocked()
	o.current.Fail(apiclient.TimeoutMessage, o.now())
	o.logger.Debug("submission expired", "generation", generation)
	o.recordLocked(session.EventSubmitFailed, session.SubmitFailedData(apiclient.TimeoutMessage))
	o.publishLocked()
	return true
}

// Cancel abandons the current session. In-flight work is aborted and the
// orchestrator returns to an Idle session under a new generation.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.current.Phase == session.PhaseIdle {
		return
	}
	o.supersedeLocked()
	o.generation++
	o.current = session.QuerySession{Generation: o.generation, Phase: session.PhaseIdle, UpdatedAt: o.now()}
	o.publishLocked()
}

// Wait blocks until the session of the given generation reaches a terminal
// state and returns it. It fails with ErrSuperseded if another session
// replaces it first, ErrClosed after Close, or ctx's error.
func (o *Orchestrator) Wait(ctx context.Context, generation uint64) (session.QuerySession, error) {
	for {
		o.mu.Lock()
		cur := o.current.Clone()
		changed := o.changed
		closed := o.closed
		o.mu.Unlock()

		if cur.Generation != generation {
			return cur, ErrSuperseded
		}
		if cur.State().Terminal() {
			return cur, nil
		}
		if closed {
			return cur, ErrClosed
		}

		select {
		case <-ctx.Done():
			return cur, ctx.Err()
		case <-changed:
		}
	}
}

// Close aborts all in-flight work, ends every subscription and waits for
// background goroutines to exit. It is safe to call more than once.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		task := o.pollTask
		o.abortLocked()
		o.stopBase()
		for id, ch := range o.subs {
			delete(o.subs, id)
			close(ch)
		}
		o.notifyLocked()
		o.mu.Unlock()

		if task != nil {
			<-task.Done()
		}
		o.inFlight.Wait()
	})
	return o.events.Close()
}

func (o *Orchestrator) runSubmit(ctx context.Context, cancel context.CancelFunc, gen uint64, query string) {
	defer o.inFlight.Done()
	defer cancel()

	resp, err := o.api.SubmitQuery(ctx, query)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.current.Generation != gen || o.current.Phase != session.PhaseSubmitting {
		o.logger.Debug("discarding stale submission result", "generation", gen, "current", o.current.Generation)
		return
	}
	o.cancelSubmit = nil

	now := o.now()
	if err != nil {
		msg := apiclient.UserMessage(err)
		o.logger.Debug("submission failed", "generation", gen, "error", err)
		o.current.Fail(msg, now)
		o.recordLocked(session.EventSubmitFailed, session.SubmitFailedData(msg))
		o.publishLocked()
		return
	}

	poll := o.current.ApplyResults(resp, now)
	o.recordLocked(session.EventResultsReady, session.ResultsData(o.current))
	if poll {
		o.pollTask = o.poller.Start(o.base, o.current.EvaluationJobID, gen, poller.Handlers{
			OnUpdate: o.onStatus,
			OnStop:   o.onPollStop,
		})
	}
	o.publishLocked()
}

func (o *Orchestrator) onStatus(gen uint64, status *models.StatusResponse) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current.Generation != gen {
		return
	}
	if !o.current.ApplyStatus(status, o.now()) {
		return
	}
	o.recordLocked(session.EventEvaluationUpdate, session.EvaluationData(o.current.EvaluationStatus, o.current.EvaluationScores))
	o.publishLocked()
}

func (o *Orchestrator) onPollStop(gen uint64, reason poller.StopReason, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current.Generation != gen {
		return
	}
	o.pollTask = nil

	var stall session.Stall
	switch reason {
	case poller.StopBudgetExhausted:
		stall = session.Stall{Reason: session.StallBudgetExhausted, Message: StallBudgetMessage}
	case poller.StopRequestFailed:
		stall = session.Stall{Reason: session.StallPollError, Message: apiclient.UserMessage(err)}
	default:
		return
	}
	if !o.current.MarkStalled(stall.Reason, stall.Message, o.now()) {
		return
	}
	o.logger.Warn("evaluation polling stopped", "generation", gen, "reason", stall.Reason, "error", err)
	o.recordLocked(session.EventEvaluationStalled, session.StalledData(stall, o.current.EvaluationStatus))
	o.publishLocked()
}

// supersedeLocked aborts the current session's work before it is replaced.
func (o *Orchestrator) supersedeLocked() {
	o.abortLocked()
	if o.current.Phase == session.PhaseIdle {
		return
	}
	o.recordLocked(session.EventSessionSuperseded, session.SupersededData(o.current.State(), o.generation+1))
}

// abortLocked cancels the in-flight submission and the poll task, if any.
// It never waits for them; their late results are dropped by the
// generation check.
func (o *Orchestrator) abortLocked() {
	if o.cancelSubmit != nil {
		o.cancelSubmit()
		o.cancelSubmit = nil
	}
	if o.pollTask != nil {
		o.pollTask.Cancel()
		o.pollTask = nil
	}
}

func (o *Orchestrator) recordLocked(t session.EventType, data map[string]any) {
	if err := o.events.Log(session.NewEvent(t, o.current.Generation, data)); err != nil {
		o.logger.Warn("failed to record session event", "type", t, "error", err)
	}
}

func (o *Orchestrator) publishLocked() {
	if err := o.current.Validate(); err != nil {
		o.logger.Error("session invariant violated", "generation", o.current.Generation, "error", err)
	}
	snap := o.current.Clone()
	utils.SessionToSlog(snap)

	for _, ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap.Clone()
	}
	o.notifyLocked()
}

func (o *Orchestrator) notifyLocked() {
	close(o.changed)
	o.changed = make(chan struct{})
}
