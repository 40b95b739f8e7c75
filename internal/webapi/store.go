package webapi

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spboyer/querylens/internal/models"
)

// ErrQueryLogNotFound is returned when an id does not match any logged query.
var ErrQueryLogNotFound = errors.New("query log not found")

// WeakThreshold is the score below which a logged query counts as weak.
const WeakThreshold = 0.7

// maxWeakQueries caps the weak queries returned by the analysis report.
const maxWeakQueries = 10

// QueryLog is one recorded query and its scripted evaluation.
type QueryLog struct {
	ID        string
	Query     string
	SQL       string
	CreatedAt time.Time

	// Steps is the evaluation sequence. The submission reports Steps[0];
	// each status request advances one step and then stays on the last.
	Steps  []models.EvaluationStatus
	Scores *models.RagasScores

	pos       int
	evaluated bool
}

func (l *QueryLog) status() models.EvaluationStatus {
	if len(l.Steps) == 0 {
		return ""
	}
	return l.Steps[l.pos]
}

// QueryStore keeps logged queries for status polling and reporting.
type QueryStore interface {
	// Record adds a query log and returns its initial evaluation status.
	Record(entry *QueryLog) models.EvaluationStatus
	// Advance moves a query log to its next evaluation step.
	Advance(id string) (*models.StatusResponse, error)
	// Analysis aggregates every evaluated query.
	Analysis() (*models.AnalysisReport, error)
}

// MemoryStore is an in-memory QueryStore. It is safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	logs  map[string]*QueryLog
	order []string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string]*QueryLog)}
}

// Record adds entry, replacing any log with the same id.
func (s *MemoryStore) Record(entry *QueryLog) models.EvaluationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.logs[entry.ID]; exists {
		s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == entry.ID })
	}
	entry.pos = 0
	entry.evaluated = entry.status() == models.EvaluationCompleted && entry.Scores != nil
	s.logs[entry.ID] = entry
	s.order = append(s.order, entry.ID)
	return entry.status()
}

// Advance returns the next evaluation step of the log with the given id.
func (s *MemoryStore) Advance(id string) (*models.StatusResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[id]
	if !ok || len(l.Steps) == 0 {
		return nil, ErrQueryLogNotFound
	}
	if l.pos < len(l.Steps)-1 {
		l.pos++
	}

	resp := &models.StatusResponse{QueryLogID: l.ID, EvaluationStatus: l.status()}
	if resp.EvaluationStatus == models.EvaluationCompleted && l.Scores != nil {
		scores := *l.Scores
		resp.RagasScores = &scores
		l.evaluated = true
	}
	return resp, nil
}

// Analysis builds the comparative report over every logged query. Scores
// only count once the client has seen them as completed.
func (s *MemoryStore) Analysis() (*models.AnalysisReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := &models.AnalysisReport{TotalQueries: len(s.order)}
	if len(s.order) == 0 {
		report.Recommendations = []string{"No queries executed yet. Run some queries to generate recommendations."}
		return report, nil
	}

	// Newest first.
	logs := make([]*QueryLog, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		logs = append(logs, s.logs[s.order[i]])
	}

	var evaluated []*QueryLog
	for _, l := range logs {
		if l.evaluated {
			evaluated = append(evaluated, l)
		}
	}

	report.AverageScores = averageScores(evaluated)
	report.QueryTypeAnalysis = queryTypeAnalysis(evaluated)

	var weak []models.WeakQuery
	for _, l := range evaluated {
		if isWeak(*l.Scores) {
			weak = append(weak, models.WeakQuery{
				Query:  l.Query,
				SQL:    l.SQL,
				Scores: *l.Scores,
				Reason: weaknessReason(*l.Scores),
			})
		}
	}
	report.Recommendations = recommendations(weak, len(logs), report.QueryTypeAnalysis)
	if len(weak) > maxWeakQueries {
		weak = weak[:maxWeakQueries]
	}
	report.WeakQueries = weak
	return report, nil
}

func averageScores(logs []*QueryLog) models.RagasScores {
	var f, a, c []float64
	for _, l := range logs {
		// Zero scores come from evaluations that never ran.
		if l.Scores.Faithfulness > 0 {
			f = append(f, l.Scores.Faithfulness)
		}
		if l.Scores.AnswerRelevance > 0 {
			a = append(a, l.Scores.AnswerRelevance)
		}
		if l.Scores.ContextPrecision > 0 {
			c = append(c, l.Scores.ContextPrecision)
		}
	}
	return models.RagasScores{
		Faithfulness:     round(mean(f), 2),
		AnswerRelevance:  round(mean(a), 2),
		ContextPrecision: round(mean(c), 2),
	}
}

// Query types, most specific first.
const (
	TypeJoin         = "join"
	TypeAggregation  = "aggregation"
	TypeDateRange    = "date_range"
	TypeWhereFilter  = "where_filter"
	TypeSimpleSelect = "simple_select"
)

// ClassifyQuery returns the query type of a generated SQL statement, or ""
// when there is no SQL.
func ClassifyQuery(sql string) string {
	if sql == "" {
		return ""
	}
	upper := strings.ToUpper(sql)
	containsAny := func(kws ...string) bool {
		return slices.ContainsFunc(kws, func(kw string) bool { return strings.Contains(upper, kw) })
	}

	switch {
	case strings.Contains(upper, "JOIN"):
		return TypeJoin
	case containsAny("DISTINCT", "GROUP BY", "COUNT(", "SUM(", "AVG(", "MAX(", "MIN("):
		return TypeAggregation
	case containsAny("INTERVAL", "DATE_SUB", "DATE_ADD", "DATE("):
		return TypeDateRange
	case strings.Contains(upper, "WHERE"):
		return TypeWhereFilter
	default:
		return TypeSimpleSelect
	}
}

func queryTypeAnalysis(logs []*QueryLog) map[string]models.QueryTypeStats {
	grouped := map[string][]*QueryLog{}
	for _, l := range logs {
		if t := ClassifyQuery(l.SQL); t != "" {
			grouped[t] = append(grouped[t], l)
		}
	}
	if len(grouped) == 0 {
		return nil
	}

	analysis := make(map[string]models.QueryTypeStats, len(grouped))
	for t, group := range grouped {
		var f, a, c []float64
		for _, l := range group {
			f = append(f, l.Scores.Faithfulness)
			a = append(a, l.Scores.AnswerRelevance)
			c = append(c, l.Scores.ContextPrecision)
		}
		analysis[t] = models.QueryTypeStats{
			Count:               len(group),
			AvgFaithfulness:     round(mean(f), 3),
			AvgAnswerRelevance:  round(mean(a), 3),
			AvgContextPrecision: round(mean(c), 3),
		}
	}
	return analysis
}

func isWeak(s models.RagasScores) bool {
	return slices.ContainsFunc(s.Metrics(), func(m models.Metric) bool {
		return m.Value > 0 && m.Value < WeakThreshold
	})
}

func weaknessReason(s models.RagasScores) string {
	switch {
	case s.Faithfulness > 0 && s.Faithfulness < WeakThreshold:
		return "Low faithfulness - SQL may not accurately reflect schema or query intent"
	case s.AnswerRelevance > 0 && s.AnswerRelevance < WeakThreshold:
		return "Low answer relevance - results may not align with user's actual question"
	case s.ContextPrecision > 0 && s.ContextPrecision < WeakThreshold:
		return "Low context precision - SQL may select unnecessary fields or lack focus"
	default:
		return "Multiple metrics below threshold"
	}
}

func recommendations(weak []models.WeakQuery, total int, analysis map[string]models.QueryTypeStats) []string {
	if len(weak) == 0 {
		return []string{"All queries performing well (scores >= 0.7). Continue monitoring."}
	}

	var recs []string
	typeAdvice := []struct {
		queryType string
		label     string
		advice    string
	}{
		{TypeAggregation, "Aggregation", "Add more aggregation query examples (DISTINCT, GROUP BY, COUNT) to LLM prompt."},
		{TypeJoin, "JOIN", "Add manager relationship JOIN examples to LLM prompt."},
		{TypeDateRange, "Date range", "Standardize INTERVAL syntax in LLM prompt examples."},
	}
	for _, ta := range typeAdvice {
		stats, ok := analysis[ta.queryType]
		if ok && stats.AvgFaithfulness < 0.80 {
			recs = append(recs, fmt.Sprintf("%s queries show low faithfulness (%.2f). %s", ta.label, stats.AvgFaithfulness, ta.advice))
		}
	}

	texts := make([]string, 0, len(weak))
	for _, w := range weak {
		texts = append(texts, strings.ToLower(w.Query))
	}
	if slices.ContainsFunc(texts, func(t string) bool {
		return strings.Contains(t, "salary") || strings.Contains(t, "pay") || strings.Contains(t, "compensation")
	}) {
		recs = append(recs, "Add few-shot examples for salary comparisons in LLM prompt (e.g., 'high earner' → salary_usd > 80000)")
	}
	if slices.ContainsFunc(texts, func(t string) bool { return len(strings.Fields(t)) < 5 }) {
		recs = append(recs, "Provide user guidance for more specific queries (e.g., 'show employees' → 'show all active employees in engineering')")
	}

	countLow := func(value func(models.RagasScores) float64) int {
		n := 0
		for _, w := range weak {
			if v := value(w.Scores); v > 0 && v < WeakThreshold {
				n++
			}
		}
		return n
	}
	half := float64(len(weak)) * 0.5
	if float64(countLow(func(s models.RagasScores) float64 { return s.Faithfulness })) > half {
		recs = append(recs, "Include database schema details in prompt context to improve SQL faithfulness")
	}
	if float64(countLow(func(s models.RagasScores) float64 { return s.ContextPrecision })) > half {
		recs = append(recs, "Refine LLM prompt to encourage selecting only necessary columns (avoid SELECT *)")
	}
	if float64(countLow(func(s models.RagasScores) float64 { return s.AnswerRelevance })) > half {
		recs = append(recs, "Add semantic validation step to ensure SQL intent matches natural language query")
	}
	if float64(len(weak)) > float64(total)*0.3 {
		recs = append(recs, "Consider A/B testing alternative LLM prompts to improve overall query quality")
	}

	if len(recs) == 0 {
		return []string{"Review weak queries manually to identify improvement opportunities"}
	}
	return recs
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Ensure MemoryStore satisfies QueryStore.
var _ QueryStore = (*MemoryStore)(nil)
