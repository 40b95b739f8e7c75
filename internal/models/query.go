package models

// EvaluationStatus is the backend's view of a RAGAS evaluation job.
type EvaluationStatus string

const (
	EvaluationPending    EvaluationStatus = "pending"
	EvaluationEvaluating EvaluationStatus = "evaluating"
	EvaluationCompleted  EvaluationStatus = "completed"
	EvaluationFailed     EvaluationStatus = "failed"
)

// Known reports whether s is one of the statuses the backend documents.
func (s EvaluationStatus) Known() bool {
	switch s {
	case EvaluationPending, EvaluationEvaluating, EvaluationCompleted, EvaluationFailed:
		return true
	}
	return false
}

// ErrorType is the machine-readable failure code carried in a
// success=false envelope.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "VALIDATION_ERROR"
	ErrorTypeLLM        ErrorType = "LLM_ERROR"
	ErrorTypeDB         ErrorType = "DB_ERROR"
)

// MaxQueryLength is the longest query the backend accepts.
const MaxQueryLength = 500

// Row is a single result record. Column order is not significant on the wire.
type Row map[string]any

// RagasScores holds the three evaluation metrics, each in [0.0, 1.0].
type RagasScores struct {
	Faithfulness     float64 `json:"faithfulness"`
	AnswerRelevance  float64 `json:"answer_relevance"`
	ContextPrecision float64 `json:"context_precision"`
}

// Metrics returns the scores keyed by wire name, in display order.
func (s RagasScores) Metrics() []Metric {
	return []Metric{
		{Name: "faithfulness", Label: "Faithfulness", Value: s.Faithfulness},
		{Name: "answer_relevance", Label: "Answer Relevance", Value: s.AnswerRelevance},
		{Name: "context_precision", Label: "Context Utilization", Value: s.ContextPrecision},
	}
}

// Metric is one named score.
type Metric struct {
	Name  string
	Label string
	Value float64
}

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	Query string `json:"query"`
}

// QueryResponse is the envelope returned by POST /api/query.
type QueryResponse struct {
	Success          bool             `json:"success"`
	Query            string           `json:"query,omitempty"`
	Results          []Row            `json:"results,omitempty"`
	SQL              string           `json:"sql,omitempty"`
	GeneratedSQL     string           `json:"generated_sql,omitempty"`
	ResultCount      int              `json:"result_count,omitempty"`
	ExecutionTimeMs  int64            `json:"execution_time_ms,omitempty"`
	QueryLogID       string           `json:"query_log_id,omitempty"`
	EvaluationStatus EvaluationStatus `json:"evaluation_status,omitempty"`
	RagasScores      *RagasScores     `json:"ragas_scores,omitempty"`
	Error            string           `json:"error,omitempty"`
	ErrorType        ErrorType        `json:"error_type,omitempty"`
}

// GeneratedQuery returns the generated query text. Older backends send it as
// generated_sql instead of sql.
func (r *QueryResponse) GeneratedQuery() string {
	if r.SQL != "" {
		return r.SQL
	}
	return r.GeneratedSQL
}

// StatusResponse is returned by GET /api/query/{query_log_id}.
type StatusResponse struct {
	QueryLogID       string           `json:"query_log_id,omitempty"`
	EvaluationStatus EvaluationStatus `json:"evaluation_status"`
	RagasScores      *RagasScores     `json:"ragas_scores,omitempty"`
}

// Terminal reports whether polling can stop after this status.
// A completed status without scores is not terminal.
func (r *StatusResponse) Terminal() bool {
	switch r.EvaluationStatus {
	case EvaluationCompleted:
		return r.RagasScores != nil
	case EvaluationFailed:
		return true
	}
	return false
}
