package apiclient

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spboyer/querylens/internal/models"
)

// ErrCanceled is returned when the caller's context is canceled before the
// request completes. It is distinct from a timeout: the session that issued
// the request was superseded or abandoned.
var ErrCanceled = errors.New("request canceled")

// TimeoutMessage is shown to the user for any timed-out request.
const TimeoutMessage = "Request timed out. Please try again."

// errorMessages maps backend error codes to user-facing text.
var errorMessages = map[models.ErrorType]string{
	models.ErrorTypeValidation: "Query validation failed. Only SELECT queries are permitted.",
	models.ErrorTypeLLM:        "Unable to process query. Please try again or rephrase.",
	models.ErrorTypeDB:         "Database query failed. Please check your query and try again.",
}

// TimeoutError means the request's own budget elapsed before the transport
// completed. The underlying HTTP request has been aborted.
type TimeoutError struct {
	Method string
	Path   string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return TimeoutMessage
}

// ServerError is a response with a non-2xx status code.
type ServerError struct {
	StatusCode int
	StatusText string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("Server error: %d %s", e.StatusCode, e.StatusText)
}

// ApplicationError is a 2xx response whose body declares success=false.
type ApplicationError struct {
	Kind    models.ErrorType
	Message string
}

func (e *ApplicationError) Error() string {
	if msg, ok := errorMessages[e.Kind]; ok {
		return msg
	}
	if e.Message != "" {
		return e.Message
	}
	return "Query failed."
}

// DecodeError is a 2xx response whose body is not valid JSON or does not
// match the endpoint's schema.
type DecodeError struct {
	Path     string
	Problems []string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("Invalid response from server: %v", e.Err)
	}
	return fmt.Sprintf("Invalid response from server: %s", strings.Join(e.Problems, "; "))
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NetworkError is a transport failure that is neither a timeout nor a
// cancellation (connection refused, reset, DNS failure).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("Network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// UserMessage returns the single message to show for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrCanceled) {
		return "Request canceled."
	}

	var te *TimeoutError
	if errors.As(err, &te) {
		return te.Error()
	}
	var ae *ApplicationError
	if errors.As(err, &ae) {
		return ae.Error()
	}
	var se *ServerError
	if errors.As(err, &se) {
		return se.Error()
	}
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Error()
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Error()
	}
	return err.Error()
}
