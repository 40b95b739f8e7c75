package reporting

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spboyer/querylens/internal/models"
	"github.com/spboyer/querylens/internal/scoring"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// InterpretScore returns a plain-language label for an average score (0–1).
func InterpretScore(score float64) string {
	switch r := scoring.RatingOf(score); r {
	case scoring.RatingExcellent:
		return "Excellent (≥90%)"
	case scoring.RatingGood:
		return "Good (80-90%)"
	case scoring.RatingFair:
		return "Fair (70-80%)"
	case scoring.RatingWeak:
		return "Weak (60-70%)"
	default:
		return "Poor (<60%)"
	}
}

// FormatAnalysisReport produces the plain-language view of an analysis report.
func FormatAnalysisReport(report *models.AnalysisReport) string {
	var b strings.Builder
	p := message.NewPrinter(language.English)

	b.WriteString("=== Quality Analysis ===\n\n")
	b.WriteString(p.Sprintf("Total Queries: %d\n", report.TotalQueries))

	if report.TotalQueries > 0 {
		b.WriteString("\nAverage Scores:\n")
		for _, m := range report.AverageScores.Metrics() {
			b.WriteString(fmt.Sprintf("  %s  %.2f  %s\n", padRight(m.Label, labelWidth), m.Value, InterpretScore(m.Value)))
		}
	}

	if len(report.QueryTypeAnalysis) > 0 {
		b.WriteString("\nBy Query Type:\n")
		types := make([]string, 0, len(report.QueryTypeAnalysis))
		width := 0
		for t := range report.QueryTypeAnalysis {
			types = append(types, t)
			width = max(width, len(t))
		}
		slices.Sort(types)
		for _, t := range types {
			st := report.QueryTypeAnalysis[t]
			b.WriteString(p.Sprintf("  %s  %d queries  faithfulness %.2f  relevance %.2f  precision %.2f\n",
				padRight(t, width), st.Count, st.AvgFaithfulness, st.AvgAnswerRelevance, st.AvgContextPrecision))
		}
	}

	if len(report.WeakQueries) > 0 {
		b.WriteString(fmt.Sprintf("\nWeak Queries (%d):\n", len(report.WeakQueries)))
		for _, wq := range report.WeakQueries {
			b.WriteString(fmt.Sprintf("  ✗ %q\n", wq.Query))
			if wq.SQL != "" {
				b.WriteString(fmt.Sprintf("    SQL: %s\n", wq.SQL))
			}
			b.WriteString(fmt.Sprintf("    Scores: faithfulness %.2f, relevance %.2f, precision %.2f\n",
				wq.Scores.Faithfulness, wq.Scores.AnswerRelevance, wq.Scores.ContextPrecision))
			if wq.Reason != "" {
				b.WriteString(fmt.Sprintf("    Reason: %s\n", wq.Reason))
			}
		}
	}

	if len(report.Recommendations) > 0 {
		b.WriteString("\nRecommendations:\n")
		for _, r := range report.Recommendations {
			b.WriteString(fmt.Sprintf("  • %s\n", r))
		}
	}

	return b.String()
}
