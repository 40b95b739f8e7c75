// Package apiclient issues bounded requests against the query backend and
// classifies every outcome into success, timeout, server error, application
// error, decode error, network error or cancellation.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"github.com/spboyer/querylens/internal/models"
	"github.com/spboyer/querylens/internal/validation"
)

const (
	// DefaultTimeout bounds mutating submission calls.
	DefaultTimeout = 10 * time.Second
	// DefaultPollTimeout bounds a single evaluation status check.
	DefaultPollTimeout = 2 * time.Second

	// RequestIDHeader carries a per-request correlation id.
	RequestIDHeader = "X-Request-ID"
)

// errBudgetExceeded is the cancellation cause attached to a request's own
// timer, so a budget expiry can be told apart from a caller deadline.
var errBudgetExceeded = errors.New("request budget exceeded")

// Request describes a single bounded call.
type Request struct {
	Method string
	Path   string
	Body   any
	// Timeout overrides the client's default budget when positive.
	Timeout time.Duration
	// Envelope, when set, validates the raw body against its schema
	// before decoding.
	Envelope validation.Envelope
}

// Options configures a Client.
type Options struct {
	// BaseURL is prepended to every path. Empty keeps paths relative
	// (same-origin), which only works with an HTTPClient whose transport
	// resolves them.
	BaseURL string
	// Timeout is the default budget. Zero means DefaultTimeout.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is the bounded request client.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Client. Responses may be gzip-encoded.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Transport: gzhttp.Transport(http.DefaultTransport)}
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		timeout:    opts.Timeout,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
	}
}

// Timeout returns the client's default budget.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Execute performs req and decodes a successful body into out (which may be
// nil). ctx is the external cancellation handle; the request's own timer is
// derived from it and always released before Execute returns.
func (c *Client) Execute(ctx context.Context, req Request, out any) error {
	budget := req.Timeout
	if budget <= 0 {
		budget = c.timeout
	}

	reqCtx, cancel := context.WithTimeoutCause(ctx, budget, errBudgetExceeded)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(RequestIDHeader, requestID)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	logger := c.logger.With("method", req.Method, "path", req.Path, "request_id", requestID)
	start := time.Now()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		err = c.classifyTransportError(ctx, reqCtx, req, budget, err)
		logger.Debug("request failed", "error", err, "duration", time.Since(start))
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		err = c.classifyTransportError(ctx, reqCtx, req, budget, err)
		logger.Debug("reading response failed", "error", err, "duration", time.Since(start))
		return err
	}

	logger.Debug("request completed", "status", resp.StatusCode, "bytes", len(data), "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ServerError{
			StatusCode: resp.StatusCode,
			StatusText: statusText(resp),
		}
	}

	var envelope struct {
		Success   *bool            `json:"success"`
		Error     string           `json:"error"`
		ErrorType models.ErrorType `json:"error_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return &DecodeError{Path: req.Path, Err: err}
	}
	if envelope.Success != nil && !*envelope.Success {
		return &ApplicationError{Kind: envelope.ErrorType, Message: envelope.Error}
	}

	if req.Envelope != "" {
		if problems := validation.ValidateJSON(req.Envelope, data); len(problems) > 0 {
			return &DecodeError{Path: req.Path, Problems: problems}
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &DecodeError{Path: req.Path, Err: err}
	}
	return nil
}

// classifyTransportError decides whether a failed round trip was canceled by
// the caller, ran out of its own budget, or failed on the network.
func (c *Client) classifyTransportError(parent, reqCtx context.Context, req Request, budget time.Duration, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%w: %s %s", ErrCanceled, req.Method, req.Path)
	}
	if errors.Is(context.Cause(reqCtx), errBudgetExceeded) {
		return &TimeoutError{Method: req.Method, Path: req.Path, Budget: budget}
	}
	return &NetworkError{Err: err}
}

// statusText returns the reason phrase the server sent, falling back to the
// standard text for the code.
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
