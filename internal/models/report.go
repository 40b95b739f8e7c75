package models

// AnalysisReport is returned by GET /api/reports/analysis.
type AnalysisReport struct {
	TotalQueries      int                       `json:"total_queries"`
	AverageScores     RagasScores               `json:"average_scores"`
	QueryTypeAnalysis map[string]QueryTypeStats `json:"query_type_analysis,omitempty"`
	Recommendations   []string                  `json:"recommendations,omitempty"`
	WeakQueries       []WeakQuery               `json:"weak_queries,omitempty"`
}

// QueryTypeStats aggregates scores for one category of query
// (simple, filtered, aggregation, ...).
type QueryTypeStats struct {
	Count               int     `json:"count"`
	AvgFaithfulness     float64 `json:"avg_faithfulness"`
	AvgAnswerRelevance  float64 `json:"avg_answer_relevance"`
	AvgContextPrecision float64 `json:"avg_context_precision"`
}

// WeakQuery is a logged query with at least one score below the weak threshold.
type WeakQuery struct {
	Query  string      `json:"query"`
	SQL    string      `json:"sql"`
	Scores RagasScores `json:"scores"`
	Reason string      `json:"reason"`
}
