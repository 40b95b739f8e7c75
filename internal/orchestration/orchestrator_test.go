package orchestration

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spboyer/querylens/internal/apiclient"
	"github.com/spboyer/querylens/internal/models"
	"github.com/spboyer/querylens/internal/poller"
	"github.com/spboyer/querylens/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var fastPoll = poller.Options{Interval: time.Millisecond}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func pending(id string) *models.QueryResponse {
	return &models.QueryResponse{
		Success:          true,
		Results:          []models.Row{{"name": "Ada", "department": "Engineering"}},
		SQL:              "SELECT name, department FROM employees",
		QueryLogID:       id,
		EvaluationStatus: models.EvaluationPending,
	}
}

func statusOf(s models.EvaluationStatus, scores *models.RagasScores) *models.StatusResponse {
	return &models.StatusResponse{EvaluationStatus: s, RagasScores: scores}
}

func TestOrchestrator_InitialSessionIsIdle(t *testing.T) {
	o := New(NewMockQueryAPI(gomock.NewController(t)))
	defer o.Close()

	cur := o.Current()
	assert.Equal(t, session.StateIdle, cur.State())
	assert.Zero(t, cur.Generation)
}

func TestOrchestrator_NewSubmissionSupersedesOld(t *testing.T) {
	ctx := testContext(t)
	ctrl := gomock.NewController(t)
	api := NewMockQueryAPI(ctrl)

	startedA := make(chan struct{})
	releaseA := make(chan struct{})
	var ctxErrA error
	api.EXPECT().SubmitQuery(gomock.Any(), "query A").
		DoAndReturn(func(ctx context.Context, _ string) (*models.QueryResponse, error) {
			close(startedA)
			<-releaseA
			ctxErrA = ctx.Err()
			// The late response still arrives; it must not be applied.
			return pending("old"), nil
		})
	api.EXPECT().SubmitQuery(gomock.Any(), "query B").
		Return(&models.QueryResponse{Success: true, Results: []models.Row{{"id": 2}}}, nil)

	o := New(api, WithPollOptions(fastPoll))

	genA := o.Submit(ctx, "query A")
	<-startedA
	genB := o.Submit(ctx, "query B")
	assert.Greater(t, genB, genA)

	sB, err := o.Wait(ctx, genB)
	require.NoError(t, err)
	assert.Equal(t, session.StateNoEvaluation, sB.State())

	close(releaseA)
	require.NoError(t, o.Close())

	assert.ErrorIs(t, ctxErrA, context.Canceled)
	cur := o.Current()
	assert.Equal(t, genB, cur.Generation)
	assert.Equal(t, "query B", cur.QueryText)
	assert.Equal(t, []models.Row{{"id": 2}}, cur.Results)
	assert.Equal(t, session.EvaluationNone, cur.EvaluationStatus)

	_, err = o.Wait(ctx, genA)
	assert.ErrorIs(t, err, ErrSuperseded)
}

func TestOrchestrator_SupersedeCancelsPolling(t *testing.T) {
	ctx := testContext(t)
	ctrl := gomock.NewController(t)
	api := NewMockQueryAPI(ctrl)

	polled := make(chan struct{}, 1)
	api.EXPECT().SubmitQuery(gomock.Any(), "first").Return(pending("job-1"), nil)
	api.EXPECT().QueryStatus(gomock.Any(), "job-1", gomock.Any()).
		DoAndReturn(func(context.Context, string, time.Duration) (*models.StatusResponse, error) {
			select {
			case polled <- struct{}{}:
			default:
			}
			return statusOf(models.EvaluationEvaluating, nil), nil
		}).AnyTimes()
	api.EXPECT().SubmitQuery(gomock.Any(), "second").
		Return(&models.QueryResponse{Success: true, Results: []models.Row{}}, nil)

	o := New(api, WithPollOptions(fastPoll))
	defer o.Close()

	o.Submit(ctx, "first")
	<-polled
	gen := o.Submit(ctx, "second")

	s, err := o.Wait(ctx, gen)
	require.NoError(t, err)
	assert.Equal(t, session.StateNoEvaluation, s.State())

	time.Sleep(10 * time.Millisecond)
	cur := o.Current()
	assert.Equal(t, gen, cur.Generation)
	assert.Equal(t, session.EvaluationNone, cur.EvaluationStatus)
	assert.Empty(t, cur.EvaluationJobID)
}

func TestOrchestrator_IgnoresCallbacksForOldGeneration(t *testing.T) {
	ctx := testContext(t)
	ctrl := gomock.NewController(t)
	api := NewMockQueryAPI(ctrl)

	api.EXPECT().SubmitQuery(gomock.Any(), "first").
		Return(&models.QueryResponse{Success: true, Results: []models.Row{}}, nil)
	api.EXPECT().SubmitQuery(gomock.Any(), "second").Return(pending("job-2"), nil)
	// The second job never reports back, so it stays pending.
	api.EXPECT().QueryStatus(gomock.Any(), "job-2", gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ string, _ time.Duration) (*models.StatusResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}).AnyTimes()

	o := New(api, WithPollOptions(fastPoll))
	defer o.Close()

	oldGen := o.Submit(ctx, "first")
	_, err := o.Wait(ctx, oldGen)
	require.NoError(t, err)

	gen := o.Submit(ctx, "second")
	require.Eventually(t, func() bool {
		return o.Current().State() == session.StateEvaluating
	}, time.Second, time.Millisecond)
	before := o.Current()
	require.Equal(t, gen, before.Generation)

	scores := &models.RagasScores{Faithfulness: 0.9, AnswerRelevance: 0.9, ContextPrecision: 0.9}
	o.onStatus(oldGen, statusOf(models.EvaluationCompleted, scores))
	o.onPollStop(oldGen, poller.StopBudgetExhausted, nil)

	after := o.Current()
	assert.Equal(t, before, after)
	assert.Equal(t, models.EvaluationPending, after.EvaluationStatus)
	assert.Nil(t, after.EvaluationScores)
	assert.Nil(t, after.Stall)
}

func TestOrchestrator_ExternalTimeoutWins(t *testing.T) {
	ctx := testContext(t)
	ctrl := gomock.NewController(t)
	api := NewMockQueryAPI(ctrl)

	started := make(chan struct{})
	api.EXPECT().SubmitQuery(gomock.Any(), "slow").
		DoAndReturn(func(ctx context.Context, _ string) (*models.QueryResponse, error) {
			close(started)
			<-ctx.Done()
			return nil, fmt.Errorf("POST /api/query: %w", apiclient.ErrCanceled)
		})

	o := New(api)
	gen := o.Submit(ctx, "slow")
	<-started

	assert.False(t, o.ExpireSubmission(gen+1))
	assert.True(t, o.ExpireSubmission(gen))
	assert.False(t, o.ExpireSubmission(gen))

	require.NoError(t, o.Close())

	cur := o.Current()
	assert.Equal(t, session.StateSubmitFailed, cur.State())
	assert.Equal(t, apiclient.TimeoutMessage, cur.ErrorMessage)
	assert.Nil(t, cur.Results)
}

func TestOrchestrator_RequestTimeoutWins(t *testing.T) {
	ctx := testContext(t)
	ctrl := gomock.NewController(t)
	api := NewMockQueryAPI(ctrl)
	api.EXPECT().SubmitQuery(gomock.Any(), "slow").
		Return(nil, &apiclient.TimeoutError{Method: "POST", Path: apiclient.QueryPath, Budget: 10 * time.Second})

	o := New(api)
	defer o.Close()

	gen := o.Submit(ctx, "slow")
	s, err := o.Wait(ctx, gen)
	require.NoError(t, err)
	assert.Equal(t, session.StateSubmitFailed, s.State())
	assert.Equal(t, apiclient.TimeoutMessage, s.ErrorMessage)

	assert.False(t, o.ExpireSubmission(gen))
	assert.Equal(t, s.UpdatedAt, o.Current().UpdatedAt)
}

func TestOrchestrator_SubmitFailureMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "validation",
			err:  &apiclient.ApplicationError{Kind: models.ErrorTypeValidation, Message: "only SELECT"},
			want: "Query validation failed. Only SELECT queries are permitted.",
		},
		{
			name: "server",
			err:  &apiclient.ServerError{StatusCode: 500, StatusText: "Internal Server Error"},
			want: "Server error: 500 Internal Server Error",
		},
		{
			name: "network",
			err:  &apiclient.NetworkError{Err: errors.New("connection refused")},
			want: "Network error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext(t)
			api := NewMockQueryAPI(gomock.NewController(t))
			api.EXPECT().SubmitQuery(gomock.Any(), "q").Return(nil, tt.err)

			o := New(api)
			defer o.Close()

			s, err := o.Wait(ctx, o.Submit(ctx, "q"))
			require.NoError(t, err)
			assert.Equal(t, session.StateSubmitFailed, s.State())
			assert.Equal(t, tt.want, s.ErrorMessage)
		})
	}
}

func TestOrchestrator_InlineScoresSkipPolling(t *testing.T) {
	ctx := testContext(t)
	api := NewMockQueryAPI(gomock.NewController(t))
	scores := &models.RagasScores{Faithfulness: 0.9, AnswerRelevance: 0.8, ContextPrecision: 0.7}
	api.EXPECT().SubmitQuery(gomock.Any(), "q").
		Return(&models.QueryResponse{Success: true, Results: []models.Row{}, RagasScores: scores}, nil)

	o := New(api, WithPollOptions(fastPoll))
	defer o.Close()

	s, err := o.Wait(ctx, o.Submit(ctx, "q"))
	require.NoError(t, err)
	assert.Equal(t, session.StateEvaluated, s.State())
	assert.Equal(t, scores, s.EvaluationScores)
	assert.Equal(t, s.ID, s.EvaluationJobID)
	assert.NoError(t, s.Validate())
}

func TestOrchestrator_PollsUntilCompleted(t *testing.T) {
	ctx := testContext(t)
	api := NewMockQueryAPI(gomock.NewController(t))
	scores := &models.RagasScores{Faithfulness: 0.85, AnswerRelevance: 0.92, ContextPrecision: 0.78}

	api.EXPECT().SubmitQuery(gomock.Any(), "q").Return(pending("abc"), nil)
	gomock.InOrder(
		api.EXPECT().QueryStatus(gomock.Any(), "abc", poller.DefaultRequestTimeout).Return(statusOf(models.EvaluationEvaluating, nil), nil),
		api.EXPECT().QueryStatus(gomock.Any(), "abc", poller.DefaultRequestTimeout).Return(statusOf(models.EvaluationCompleted, scores), nil),
	)

	o := New(api, WithPollOptions(fastPoll))
	defer o.Close()

	s, err := o.Wait(ctx, o.Submit(ctx, "q"))
	require.NoError(t, err)
	assert.Equal(t, session.StateEvaluated, s.State())
	assert.Equal(t, "abc", s.EvaluationJobID)
	assert.Equal(t, scores, s.EvaluationScores)
	assert.Equal(t, "SELECT name, department FROM employees", s.GeneratedQuery)
	assert.Len(t, s.Results, 1)
}

func TestOrchestrator_EvaluationFailed(t *testing.T) {
	ctx := testContext(t)
	api := NewMockQueryAPI(gomock.NewController(t))
	api.EXPECT().SubmitQuery(gomock.Any(), "q").Return(pending("abc"), nil)
	api.EXPECT().QueryStatus(gomock.Any(), "abc", gomock.Any()).Return(statusOf(models.EvaluationFailed, nil), nil)

	o := New(api, WithPollOptions(fastPoll))
	defer o.Close()

	s, err := o.Wait(ctx, o.Submit(ctx, "q"))
	require.NoError(t, err)
	assert.Equal(t, session.StateEvalFailed, s.State())
	assert.Equal(t, session.EvaluationFailedMessage, s.ErrorMessage)
	assert.Len(t, s.Results, 1)
}

func TestOrchestrator_PollErrorStalls(t *testing.T) {
	ctx := testContext(t)
	api := NewMockQueryAPI(gomock.NewController(t))
	api.EXPECT().SubmitQuery(gomock.Any(), "q").Return(pending("abc"), nil)
	gomock.InOrder(
		api.EXPECT().QueryStatus(gomock.Any(), "abc", gomock.Any()).Return(statusOf(models.EvaluationEvaluating, nil), nil),
		api.EXPECT().QueryStatus(gomock.Any(), "abc", gomock.Any()).
			Return(nil, &apiclient.ServerError{StatusCode: 502, StatusText: "Bad Gateway"}),
	)

	o := New(api, WithPollOptions(fastPoll))
	defer o.Close()

	s, err := o.Wait(ctx, o.Submit(ctx, "q"))
	require.NoError(t, err)
	assert.Equal(t, session.StateStalled, s.State())
	assert.Equal(t, models.EvaluationEvaluating, s.EvaluationStatus)
	require.NotNil(t, s.Stall)
	assert.Equal(t, session.StallPollError, s.Stall.Reason)
	assert.Equal(t, "Server error: 502 Bad Gateway", s.Stall.Message)
	assert.Empty(t, s.ErrorMessage)
	assert.NoError(t, s.Validate())
}

func TestOrchestrator_BudgetExhaustionStalls(t *testing.T) {
	ctx := testContext(t)
	api := NewMockQueryAPI(gomock.NewController(t))
	api.EXPECT().SubmitQuery(gomock.Any(), "q").Return(pending("abc"), nil)
	api.EXPECT().QueryStatus(gomock.Any(), "abc", gomock.Any()).
		Return(statusOf(models.EvaluationPending, nil), nil).Times(5)

	o := New(api, WithPollOptions(poller.Options{Interval: time.Millisecond, Budget: 5 * time.Millisecond}))
	defer o.Close()

	s, err := o.Wait(ctx, o.Submit(ctx, "q"))
	require.NoError(t, err)
	assert.Equal(t, session.StateStalled, s.State())
	assert.Equal(t, models.EvaluationPending, s.EvaluationStatus)
	require.NotNil(t, s.Stall)
	assert.Equal(t, session.StallBudgetExhausted, s.Stall.Reason)
	assert.Equal(t, StallBudgetMessage, s.Stall.Message)
}

func TestOrchestrator_Subscribe(t *testing.T) {
	ctx := testContext(t)
	api := NewMockQueryAPI(gomock.NewController(t))
	api.EXPECT().SubmitQuery(gomock.Any(), "q").
		Return(&models.QueryResponse{Success: true, Results: []models.Row{}}, nil)

	o := New(api)
	defer o.Close()

	updates, unsubscribe := o.Subscribe()
	first := <-updates
	assert.Equal(t, session.StateIdle, first.State())

	gen := o.Submit(ctx, "q")
	var last session.QuerySession
	for last.Generation != gen || !last.State().Terminal() {
		select {
		case last = <-updates:
		case <-ctx.Done():
			t.Fatal("no terminal snapshot delivered")
		}
	}
	assert.Equal(t, session.StateNoEvaluation, last.State())

	unsubscribe()
	unsubscribe()
	_, ok := <-updates
	assert.False(t, ok)
}

func TestOrchestrator_CancelAbandonsSession(t *testing.T) {
	ctx := testContext(t)
	api := NewMockQueryAPI(gomock.NewController(t))
	started := make(chan struct{})
	api.EXPECT().SubmitQuery(gomock.Any(), "q").
		DoAndReturn(func(ctx context.Context, _ string) (*models.QueryResponse, error) {
			close(started)
			<-ctx.Done()
			return nil, apiclient.ErrCanceled
		})

	o := New(api)
	gen := o.Submit(ctx, "q")
	<-started
	o.Cancel()

	_, err := o.Wait(ctx, gen)
	assert.ErrorIs(t, err, ErrSuperseded)
	require.NoError(t, o.Close())

	cur := o.Current()
	assert.Equal(t, session.StateIdle, cur.State())
	assert.Greater(t, cur.Generation, gen)
}

func TestOrchestrator_CloseStopsPolling(t *testing.T) {
	ctx := testContext(t)
	api := NewMockQueryAPI(gomock.NewController(t))
	polled := make(chan struct{}, 1)
	api.EXPECT().SubmitQuery(gomock.Any(), "q").Return(pending("abc"), nil)
	api.EXPECT().QueryStatus(gomock.Any(), "abc", gomock.Any()).
		DoAndReturn(func(context.Context, string, time.Duration) (*models.StatusResponse, error) {
			select {
			case polled <- struct{}{}:
			default:
			}
			return statusOf(models.EvaluationPending, nil), nil
		}).AnyTimes()

	o := New(api, WithPollOptions(fastPoll))
	gen := o.Submit(ctx, "q")
	<-polled

	require.NoError(t, o.Close())
	require.NoError(t, o.Close())

	s, err := o.Wait(ctx, gen)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, session.StateEvaluating, s.State())
	assert.Zero(t, o.Submit(ctx, "again"))
}

func TestOrchestrator_RecordsSessionEvents(t *testing.T) {
	ctx := testContext(t)
	api := NewMockQueryAPI(gomock.NewController(t))
	scores := &models.RagasScores{Faithfulness: 0.85, AnswerRelevance: 0.92, ContextPrecision: 0.78}
	api.EXPECT().SubmitQuery(gomock.Any(), "q").Return(pending("abc"), nil)
	api.EXPECT().QueryStatus(gomock.Any(), "abc", gomock.Any()).Return(statusOf(models.EvaluationCompleted, scores), nil)

	logger, err := session.OpenLog(t.TempDir())
	require.NoError(t, err)
	path := logger.Path()

	o := New(api, WithPollOptions(fastPoll), WithSessionLogger(logger))
	gen := o.Submit(ctx, "q")
	_, err = o.Wait(ctx, gen)
	require.NoError(t, err)
	require.NoError(t, o.Close())

	events, err := session.ReadEvents(path)
	require.NoError(t, err)
	var types []session.EventType
	for _, e := range events {
		types = append(types, e.Type)
		assert.Equal(t, gen, e.Generation)
	}
	assert.Equal(t, []session.EventType{
		session.EventQuerySubmitted,
		session.EventResultsReady,
		session.EventEvaluationUpdate,
	}, types)
	assert.Equal(t, 3, logger.Written())
}
