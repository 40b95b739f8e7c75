package utils

import (
	"context"
	"log/slog"

	"github.com/spboyer/querylens/internal/session"
)

// SessionToSlog logs a session snapshot at debug level.
func SessionToSlog(s session.QuerySession) {
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	attrs := []any{
		"generation", s.Generation,
		"state", s.State(),
		"rows", len(s.Results),
	}

	attrs = addIfSet(attrs, "evaluationJobID", s.EvaluationJobID)
	attrs = addIfSet(attrs, "evaluationStatus", string(s.EvaluationStatus))
	attrs = addIfSet(attrs, "error", s.ErrorMessage)
	if s.EvaluationScores != nil {
		attrs = addIf(attrs, "faithfulness", &s.EvaluationScores.Faithfulness)
		attrs = addIf(attrs, "answerRelevance", &s.EvaluationScores.AnswerRelevance)
		attrs = addIf(attrs, "contextPrecision", &s.EvaluationScores.ContextPrecision)
	}
	if s.Stall != nil {
		attrs = addIfSet(attrs, "stall", string(s.Stall.Reason))
	}

	slog.Debug("Session updated", attrs...)
}

func addIf[T any](attrs []any, name string, v *T) []any {
	if v != nil {
		attrs = append(attrs, name)
		attrs = append(attrs, *v)
	}

	return attrs
}

func addIfSet(attrs []any, name, v string) []any {
	if v == "" {
		return attrs
	}
	return addIf(attrs, name, &v)
}
