package session

import (
	"testing"
	"time"

	"github.com/spboyer/querylens/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0         = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	goodScores = &models.RagasScores{Faithfulness: 0.85, AnswerRelevance: 0.92, ContextPrecision: 0.78}
)

func submitting() QuerySession {
	return New(1, "sess-1", "Show me employees in Engineering", t0)
}

func TestNew_IsSubmitting(t *testing.T) {
	s := submitting()
	assert.Equal(t, PhaseSubmitting, s.Phase)
	assert.Equal(t, StateSubmitting, s.State())
	assert.Equal(t, EvaluationNone, s.EvaluationStatus)
	require.NoError(t, s.Validate())
	assert.Equal(t, StateIdle, QuerySession{}.State())
}

func TestApplyResults_NoEvaluation(t *testing.T) {
	s := submitting()
	poll := s.ApplyResults(&models.QueryResponse{Success: true, Results: []models.Row{{"name": "Ada"}}}, t0)

	assert.False(t, poll)
	assert.Equal(t, StateNoEvaluation, s.State())
	assert.True(t, s.State().Terminal())
	assert.Empty(t, s.EvaluationJobID)
	require.NoError(t, s.Validate())
}

func TestApplyResults_NilResultsBecomeEmpty(t *testing.T) {
	s := submitting()
	s.ApplyResults(&models.QueryResponse{Success: true}, t0)
	assert.NotNil(t, s.Results)
	assert.Empty(t, s.Results)
}

func TestApplyResults_InlineScores(t *testing.T) {
	s := submitting()
	poll := s.ApplyResults(&models.QueryResponse{Success: true, QueryLogID: "abc", RagasScores: goodScores}, t0)

	assert.False(t, poll)
	assert.Equal(t, models.EvaluationCompleted, s.EvaluationStatus)
	assert.Equal(t, "abc", s.EvaluationJobID)
	require.NotNil(t, s.EvaluationScores)
	assert.Equal(t, *goodScores, *s.EvaluationScores)
	assert.NotSame(t, goodScores, s.EvaluationScores)
	assert.Equal(t, StateEvaluated, s.State())
	require.NoError(t, s.Validate())
}

func TestApplyResults_InlineScoresWithoutLogID(t *testing.T) {
	s := submitting()
	s.ApplyResults(&models.QueryResponse{Success: true, RagasScores: goodScores}, t0)

	assert.Equal(t, "sess-1", s.EvaluationJobID)
	require.NoError(t, s.Validate())
}

func TestApplyResults_PendingStartsPolling(t *testing.T) {
	s := submitting()
	poll := s.ApplyResults(&models.QueryResponse{
		Success:          true,
		QueryLogID:       "abc",
		EvaluationStatus: models.EvaluationPending,
	}, t0)

	assert.True(t, poll)
	assert.Equal(t, models.EvaluationPending, s.EvaluationStatus)
	assert.Equal(t, StateEvaluating, s.State())
	require.NoError(t, s.Validate())
}

func TestApplyResults_StatusWithoutLogIDIsIgnored(t *testing.T) {
	s := submitting()
	poll := s.ApplyResults(&models.QueryResponse{Success: true, EvaluationStatus: models.EvaluationPending}, t0)

	assert.False(t, poll)
	assert.Equal(t, EvaluationNone, s.EvaluationStatus)
	require.NoError(t, s.Validate())
}

func TestApplyResults_FailedEvaluation(t *testing.T) {
	s := submitting()
	poll := s.ApplyResults(&models.QueryResponse{Success: true, QueryLogID: "abc", EvaluationStatus: models.EvaluationFailed}, t0)

	assert.False(t, poll)
	assert.Equal(t, StateEvalFailed, s.State())
	assert.Equal(t, EvaluationFailedMessage, s.ErrorMessage)
	require.NoError(t, s.Validate())
}

func TestFail_ClearsResults(t *testing.T) {
	s := submitting()
	s.Results = []models.Row{{"stale": true}}
	s.Fail("Server error: 500 Internal Server Error", t0)

	assert.Equal(t, StateSubmitFailed, s.State())
	assert.Nil(t, s.Results)
	assert.Equal(t, "Server error: 500 Internal Server Error", s.ErrorMessage)
	require.NoError(t, s.Validate())
}

func TestApplyStatus_Sequence(t *testing.T) {
	s := submitting()
	s.ApplyResults(&models.QueryResponse{Success: true, QueryLogID: "abc", EvaluationStatus: models.EvaluationPending}, t0)

	assert.False(t, s.ApplyStatus(&models.StatusResponse{EvaluationStatus: models.EvaluationPending}, t0))
	assert.True(t, s.ApplyStatus(&models.StatusResponse{EvaluationStatus: models.EvaluationEvaluating}, t0))
	assert.Nil(t, s.EvaluationScores)
	require.NoError(t, s.Validate())

	assert.True(t, s.ApplyStatus(&models.StatusResponse{EvaluationStatus: models.EvaluationCompleted, RagasScores: goodScores}, t0))
	assert.Equal(t, StateEvaluated, s.State())
	require.NoError(t, s.Validate())

	// Settled evaluations are immutable.
	assert.False(t, s.ApplyStatus(&models.StatusResponse{EvaluationStatus: models.EvaluationFailed}, t0))
	assert.Equal(t, models.EvaluationCompleted, s.EvaluationStatus)
}

func TestApplyStatus_CompletedWithoutScoresKeepsEvaluating(t *testing.T) {
	s := submitting()
	s.ApplyResults(&models.QueryResponse{Success: true, QueryLogID: "abc", EvaluationStatus: models.EvaluationPending}, t0)

	s.ApplyStatus(&models.StatusResponse{EvaluationStatus: models.EvaluationCompleted}, t0)
	assert.Equal(t, models.EvaluationEvaluating, s.EvaluationStatus)
	assert.Nil(t, s.EvaluationScores)
	require.NoError(t, s.Validate())
}

func TestApplyStatus_UnknownStatusIgnored(t *testing.T) {
	s := submitting()
	s.ApplyResults(&models.QueryResponse{Success: true, QueryLogID: "abc", EvaluationStatus: models.EvaluationPending}, t0)

	assert.False(t, s.ApplyStatus(&models.StatusResponse{EvaluationStatus: "queued"}, t0))
	assert.Equal(t, models.EvaluationPending, s.EvaluationStatus)
}

func TestApplyStatus_IgnoredWithoutEvaluation(t *testing.T) {
	s := submitting()
	assert.False(t, s.ApplyStatus(&models.StatusResponse{EvaluationStatus: models.EvaluationCompleted, RagasScores: goodScores}, t0))
	assert.Equal(t, StateSubmitting, s.State())
}

func TestMarkStalled(t *testing.T) {
	s := submitting()
	s.ApplyResults(&models.QueryResponse{Success: true, QueryLogID: "abc", EvaluationStatus: models.EvaluationPending}, t0)

	require.True(t, s.MarkStalled(StallPollError, "Network error: connection refused", t0))
	assert.Equal(t, StateStalled, s.State())
	assert.True(t, s.State().Terminal())
	assert.Equal(t, models.EvaluationPending, s.EvaluationStatus, "stall preserves the last observed status")
	assert.Empty(t, s.ErrorMessage)
	require.NoError(t, s.Validate())

	assert.False(t, s.MarkStalled(StallBudgetExhausted, "again", t0))
	assert.False(t, s.ApplyStatus(&models.StatusResponse{EvaluationStatus: models.EvaluationEvaluating}, t0))
}

func TestMarkStalled_OnlyWhileEvaluating(t *testing.T) {
	s := submitting()
	assert.False(t, s.MarkStalled(StallPollError, "x", t0))
	assert.Nil(t, s.Stall)
}

func TestClone_IsIndependent(t *testing.T) {
	s := submitting()
	s.ApplyResults(&models.QueryResponse{Success: true, Results: []models.Row{{"a": 1}}, RagasScores: goodScores}, t0)

	c := s.Clone()
	c.Results[0] = models.Row{"b": 2}
	c.EvaluationScores.Faithfulness = 0.1

	assert.Equal(t, 1, s.Results[0]["a"])
	assert.Equal(t, 0.85, s.EvaluationScores.Faithfulness)
}

func TestValidate_ReportsViolations(t *testing.T) {
	s := QuerySession{
		Phase:            PhaseResultsReady,
		EvaluationStatus: models.EvaluationPending,
		EvaluationScores: goodScores,
		ErrorMessage:     "boom",
	}
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evaluation scores present=true")
	assert.Contains(t, err.Error(), "evaluation job id")
	assert.Contains(t, err.Error(), "error message set")
}
