package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/spboyer/querylens/internal/models"
	"github.com/spboyer/querylens/internal/validation"
)

const (
	QueryPath    = "/api/query"
	AnalysisPath = "/api/reports/analysis"
	HealthPath   = "/api/health"
)

// StatusPath returns the evaluation status endpoint for a query log id.
func StatusPath(queryLogID string) string {
	return QueryPath + "/" + url.PathEscape(queryLogID)
}

// SubmitQuery posts a natural-language query under the client's default budget.
func (c *Client) SubmitQuery(ctx context.Context, query string) (*models.QueryResponse, error) {
	var resp models.QueryResponse
	err := c.Execute(ctx, Request{
		Method:   http.MethodPost,
		Path:     QueryPath,
		Body:     models.QueryRequest{Query: query},
		Envelope: validation.QueryResponse,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueryStatus fetches the evaluation status of one query log entry.
// A non-positive timeout means DefaultPollTimeout.
func (c *Client) QueryStatus(ctx context.Context, queryLogID string, timeout time.Duration) (*models.StatusResponse, error) {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	var resp models.StatusResponse
	err := c.Execute(ctx, Request{
		Method:   http.MethodGet,
		Path:     StatusPath(queryLogID),
		Timeout:  timeout,
		Envelope: validation.StatusResponse,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// AnalysisReport fetches the aggregate evaluation report.
func (c *Client) AnalysisReport(ctx context.Context) (*models.AnalysisReport, error) {
	var resp models.AnalysisReport
	err := c.Execute(ctx, Request{
		Method:   http.MethodGet,
		Path:     AnalysisPath,
		Envelope: validation.AnalysisReport,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks API and database connectivity.
func (c *Client) Health(ctx context.Context) (*models.HealthResponse, error) {
	var resp models.HealthResponse
	if err := c.Execute(ctx, Request{Method: http.MethodGet, Path: HealthPath}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
