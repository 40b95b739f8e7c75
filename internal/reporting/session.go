package reporting

import (
	"fmt"
	"io"
	"strings"

	"github.com/spboyer/querylens/internal/scoring"
	"github.com/spboyer/querylens/internal/session"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultMaxRows is how many result rows RenderSession prints by default.
const DefaultMaxRows = 50

// SessionOptions controls RenderSession.
type SessionOptions struct {
	// MaxRows caps the printed rows. Zero means DefaultMaxRows; negative
	// prints every row.
	MaxRows int
	// HideResults skips the generated query and the results table.
	HideResults bool
}

// RenderSession writes a plain-text view of a query session.
func RenderSession(w io.Writer, s session.QuerySession, opts SessionOptions) {
	p := message.NewPrinter(language.English)

	switch s.State() {
	case session.StateIdle:
		fmt.Fprintln(w, "No query submitted.") //nolint:errcheck
		return
	case session.StateSubmitting:
		fmt.Fprintf(w, "Query: %s\n\nRunning query...\n", s.QueryText) //nolint:errcheck
		return
	case session.StateSubmitFailed:
		fmt.Fprintf(w, "Query: %s\n\nError: %s\n", s.QueryText, s.ErrorMessage) //nolint:errcheck
		return
	}

	fmt.Fprintf(w, "Query: %s\n", s.QueryText) //nolint:errcheck
	if !opts.HideResults {
		if s.GeneratedQuery != "" {
			fmt.Fprintf(w, "\nGenerated SQL:\n  %s\n", strings.ReplaceAll(s.GeneratedQuery, "\n", "\n  ")) //nolint:errcheck
		}
		fmt.Fprintln(w) //nolint:errcheck

		maxRows := opts.MaxRows
		if maxRows == 0 {
			maxRows = DefaultMaxRows
		}
		RenderTable(w, s.Results, maxRows)
		if len(s.Results) > 0 {
			fmt.Fprintln(w) //nolint:errcheck
			if maxRows > 0 && len(s.Results) > maxRows {
				p.Fprintf(w, "Showing %d of %d rows\n", maxRows, len(s.Results)) //nolint:errcheck
			} else if len(s.Results) == 1 {
				fmt.Fprintln(w, "1 row") //nolint:errcheck
			} else {
				p.Fprintf(w, "%d rows\n", len(s.Results)) //nolint:errcheck
			}
		}
	}

	fmt.Fprintln(w) //nolint:errcheck
	RenderEvaluation(w, s)
}

// RenderEvaluation writes the evaluation part of a session view.
func RenderEvaluation(w io.Writer, s session.QuerySession) {
	switch s.State() {
	case session.StateNoEvaluation:
		fmt.Fprintln(w, "Evaluation: not available") //nolint:errcheck
	case session.StateEvaluating:
		fmt.Fprintf(w, "Evaluation: %s...\n", s.EvaluationStatus) //nolint:errcheck
	case session.StateStalled:
		fmt.Fprintf(w, "Evaluation: no update (last status %s): %s\n", s.EvaluationStatus, s.Stall.Message) //nolint:errcheck
	case session.StateEvalFailed:
		fmt.Fprintf(w, "Evaluation: %s\n", s.ErrorMessage) //nolint:errcheck
	case session.StateEvaluated:
		fmt.Fprintln(w, "Evaluation:") //nolint:errcheck
		a := scoring.Assess(*s.EvaluationScores)
		for _, m := range a.Metrics {
			fmt.Fprintf(w, "  %s  %.2f  %s\n", padRight(m.Label, labelWidth), m.Value, m.Tier) //nolint:errcheck
		}
	}
}

// labelWidth fits the longest metric label.
const labelWidth = len("Context Utilization")
