// Package session defines the QuerySession record: one submitted query's
// lifecycle from submission through results to an optional evaluation.
// It also records lifecycle events as NDJSON for later inspection.
package session

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spboyer/querylens/internal/models"
)

// Phase is the submission phase of a session.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseSubmitting   Phase = "submitting"
	PhaseResultsReady Phase = "results_ready"
	PhaseSubmitFailed Phase = "submit_failed"
)

// EvaluationNone means the backend reported no outstanding evaluation.
const EvaluationNone models.EvaluationStatus = ""

// EvaluationFailedMessage is shown when the backend reports a failed evaluation.
const EvaluationFailedMessage = "Evaluation failed."

// StallReason says why polling stopped before a terminal evaluation status.
type StallReason string

const (
	StallPollError       StallReason = "poll_error"
	StallBudgetExhausted StallReason = "budget_exhausted"
)

// Stall records that polling gave up. The evaluation status is left at its
// last observed value.
type Stall struct {
	Reason  StallReason `json:"reason"`
	Message string      `json:"message"`
}

// State is the session's position in the lifecycle state machine.
type State string

const (
	StateIdle         State = "idle"
	StateSubmitting   State = "submitting"
	StateSubmitFailed State = "submit_failed"
	StateNoEvaluation State = "no_evaluation"
	StateEvaluating   State = "evaluating"
	StateEvaluated    State = "evaluated"
	StateEvalFailed   State = "eval_failed"
	StateStalled      State = "stalled_no_update"
)

// Terminal reports whether no further transition can happen without a new
// submission.
func (s State) Terminal() bool {
	switch s {
	case StateSubmitFailed, StateNoEvaluation, StateEvaluated, StateEvalFailed, StateStalled:
		return true
	}
	return false
}

// QuerySession is one query's full lifecycle. Generation is assigned at
// creation and never changes; ID is a unique token for the same session.
type QuerySession struct {
	Generation       uint64                  `json:"generation"`
	ID               string                  `json:"id"`
	QueryText        string                  `json:"query"`
	Phase            Phase                   `json:"phase"`
	Results          []models.Row            `json:"results,omitempty"`
	GeneratedQuery   string                  `json:"generated_query,omitempty"`
	EvaluationJobID  string                  `json:"evaluation_job_id,omitempty"`
	EvaluationStatus models.EvaluationStatus `json:"evaluation_status,omitempty"`
	EvaluationScores *models.RagasScores     `json:"evaluation_scores,omitempty"`
	ErrorMessage     string                  `json:"error_message,omitempty"`
	Stall            *Stall                  `json:"stall,omitempty"`
	SubmittedAt      time.Time               `json:"submitted_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// New returns a session in the Submitting phase.
func New(generation uint64, id, query string, now time.Time) QuerySession {
	return QuerySession{
		Generation:  generation,
		ID:          id,
		QueryText:   query,
		Phase:       PhaseSubmitting,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
}

// State derives the lifecycle state from the phase and evaluation fields.
func (s QuerySession) State() State {
	switch s.Phase {
	case PhaseIdle, "":
		return StateIdle
	case PhaseSubmitting:
		return StateSubmitting
	case PhaseSubmitFailed:
		return StateSubmitFailed
	}

	switch s.EvaluationStatus {
	case EvaluationNone:
		return StateNoEvaluation
	case models.EvaluationCompleted:
		return StateEvaluated
	case models.EvaluationFailed:
		return StateEvalFailed
	}
	if s.Stall != nil {
		return StateStalled
	}
	return StateEvaluating
}

// Clone returns a copy that shares no mutable slices or pointers with s.
// Rows themselves are treated as immutable once received.
func (s QuerySession) Clone() QuerySession {
	c := s
	c.Results = slices.Clone(s.Results)
	if s.EvaluationScores != nil {
		scores := *s.EvaluationScores
		c.EvaluationScores = &scores
	}
	if s.Stall != nil {
		stall := *s.Stall
		c.Stall = &stall
	}
	return c
}

// ApplyResults moves a Submitting session to ResultsReady. It reports
// whether an evaluation job is outstanding and must be polled.
func (s *QuerySession) ApplyResults(resp *models.QueryResponse, now time.Time) (poll bool) {
	s.Phase = PhaseResultsReady
	s.Results = resp.Results
	if s.Results == nil {
		s.Results = []models.Row{}
	}
	s.GeneratedQuery = resp.GeneratedQuery()
	s.ErrorMessage = ""
	s.UpdatedAt = now

	switch {
	case resp.RagasScores != nil:
		// Inline scores need no polling. Without a log id the session's own
		// token stands in as the job id.
		s.EvaluationJobID = resp.QueryLogID
		if s.EvaluationJobID == "" {
			s.EvaluationJobID = s.ID
		}
		s.applyEvaluation(models.EvaluationCompleted, resp.RagasScores)
		return false
	case resp.EvaluationStatus.Known() && resp.QueryLogID != "":
		s.EvaluationJobID = resp.QueryLogID
		s.applyEvaluation(resp.EvaluationStatus, nil)
		return !s.evaluationSettled()
	default:
		s.EvaluationJobID = ""
		s.EvaluationStatus = EvaluationNone
		s.EvaluationScores = nil
		return false
	}
}

// Fail moves a Submitting session to SubmitFailed and clears any results.
func (s *QuerySession) Fail(message string, now time.Time) {
	s.Phase = PhaseSubmitFailed
	s.Results = nil
	s.GeneratedQuery = ""
	s.EvaluationJobID = ""
	s.EvaluationStatus = EvaluationNone
	s.EvaluationScores = nil
	s.ErrorMessage = message
	s.UpdatedAt = now
}

// ApplyStatus records one poll result. It reports whether the session
// changed. Updates are ignored once the evaluation has settled or stalled.
func (s *QuerySession) ApplyStatus(resp *models.StatusResponse, now time.Time) bool {
	if s.Phase != PhaseResultsReady || s.EvaluationStatus == EvaluationNone || s.evaluationSettled() || s.Stall != nil {
		return false
	}
	if !resp.EvaluationStatus.Known() {
		return false
	}
	before := s.EvaluationStatus
	s.applyEvaluation(resp.EvaluationStatus, resp.RagasScores)
	s.UpdatedAt = now
	return before != s.EvaluationStatus || s.EvaluationScores != nil
}

// MarkStalled records that polling stopped without a terminal status.
func (s *QuerySession) MarkStalled(reason StallReason, message string, now time.Time) bool {
	if s.State() != StateEvaluating {
		return false
	}
	s.Stall = &Stall{Reason: reason, Message: message}
	s.UpdatedAt = now
	return true
}

func (s *QuerySession) evaluationSettled() bool {
	return s.EvaluationStatus == models.EvaluationCompleted || s.EvaluationStatus == models.EvaluationFailed
}

// applyEvaluation keeps scores present iff the status is Completed. A
// completed status without scores is still being evaluated as far as the
// session is concerned.
func (s *QuerySession) applyEvaluation(status models.EvaluationStatus, scores *models.RagasScores) {
	switch status {
	case models.EvaluationCompleted:
		if scores == nil {
			s.EvaluationStatus = models.EvaluationEvaluating
			s.EvaluationScores = nil
			return
		}
		copied := *scores
		s.EvaluationStatus = models.EvaluationCompleted
		s.EvaluationScores = &copied
	case models.EvaluationFailed:
		s.EvaluationStatus = models.EvaluationFailed
		s.EvaluationScores = nil
		s.ErrorMessage = EvaluationFailedMessage
	default:
		s.EvaluationStatus = status
		s.EvaluationScores = nil
	}
}

// Validate checks the record's invariants and returns every violation.
func (s QuerySession) Validate() error {
	var errs []error
	if (s.EvaluationScores != nil) != (s.EvaluationStatus == models.EvaluationCompleted) {
		errs = append(errs, fmt.Errorf("evaluation scores present=%t with status %q", s.EvaluationScores != nil, s.EvaluationStatus))
	}
	if (s.EvaluationJobID != "") != (s.EvaluationStatus != EvaluationNone) {
		errs = append(errs, fmt.Errorf("evaluation job id %q with status %q", s.EvaluationJobID, s.EvaluationStatus))
	}
	if s.ErrorMessage != "" && s.Phase != PhaseSubmitFailed && s.EvaluationStatus != models.EvaluationFailed {
		errs = append(errs, fmt.Errorf("error message set in phase %q with status %q", s.Phase, s.EvaluationStatus))
	}
	if s.Phase != PhaseResultsReady && len(s.Results) > 0 {
		errs = append(errs, fmt.Errorf("%d results present in phase %q", len(s.Results), s.Phase))
	}
	return errors.Join(errs...)
}
