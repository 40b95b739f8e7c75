package session

import (
	"time"

	"github.com/spboyer/querylens/internal/models"
)

// EventType identifies the kind of session event.
type EventType string

const (
	EventQuerySubmitted    EventType = "query_submitted"
	EventResultsReady      EventType = "results_ready"
	EventSubmitFailed      EventType = "submit_failed"
	EventEvaluationUpdate  EventType = "evaluation_update"
	EventEvaluationStalled EventType = "evaluation_stalled"
	EventSessionSuperseded EventType = "session_superseded"
)

// Event is a single timestamped entry in a session log.
type Event struct {
	Timestamp  time.Time      `json:"timestamp"`
	Type       EventType      `json:"type"`
	Generation uint64         `json:"generation"`
	Data       map[string]any `json:"data,omitempty"`
}

// NewEvent creates an event with the current timestamp.
func NewEvent(t EventType, generation uint64, data map[string]any) Event {
	return Event{
		Timestamp:  time.Now().UTC(),
		Type:       t,
		Generation: generation,
		Data:       data,
	}
}

// SubmittedData returns event data for a new submission.
func SubmittedData(query string) map[string]any {
	return map[string]any{
		"query": query,
	}
}

// ResultsData returns event data for a submission that produced results.
func ResultsData(s QuerySession) map[string]any {
	d := map[string]any{
		"row_count":   len(s.Results),
		"duration_ms": s.UpdatedAt.Sub(s.SubmittedAt).Milliseconds(),
	}
	if s.GeneratedQuery != "" {
		d["generated_query"] = s.GeneratedQuery
	}
	if s.EvaluationStatus != EvaluationNone {
		d["evaluation_job_id"] = s.EvaluationJobID
		d["evaluation_status"] = string(s.EvaluationStatus)
	}
	return d
}

// SubmitFailedData returns event data for a failed submission.
func SubmitFailedData(message string) map[string]any {
	return map[string]any{
		"message": message,
	}
}

// EvaluationData returns event data for an evaluation status change.
func EvaluationData(status models.EvaluationStatus, scores *models.RagasScores) map[string]any {
	d := map[string]any{
		"status": string(status),
	}
	if scores != nil {
		d["faithfulness"] = scores.Faithfulness
		d["answer_relevance"] = scores.AnswerRelevance
		d["context_precision"] = scores.ContextPrecision
	}
	return d
}

// StalledData returns event data for polling that stopped early.
func StalledData(stall Stall, lastStatus models.EvaluationStatus) map[string]any {
	return map[string]any{
		"reason":      string(stall.Reason),
		"message":     stall.Message,
		"last_status": string(lastStatus),
	}
}

// SupersededData returns event data for a session replaced by a newer one.
func SupersededData(state State, by uint64) map[string]any {
	return map[string]any{
		"state":         string(state),
		"superseded_by": by,
	}
}
