// Package wizard collects a natural-language question from the user.
package wizard

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// DefaultMaxLength is the longest question the backend accepts.
const DefaultMaxLength = 500

// Validation errors shown to the user.
var (
	ErrEmptyQuery = errors.New("Query cannot be empty")
)

// TooLongError reports a question over the length limit.
type TooLongError struct {
	Max int
}

func (e *TooLongError) Error() string {
	return fmt.Sprintf("Query too long (max %d characters)", e.Max)
}

// ValidateQuery checks a question before it is submitted. Length is counted
// in characters after trimming surrounding whitespace. A non-positive max
// means DefaultMaxLength.
func ValidateQuery(q string, max int) error {
	if max <= 0 {
		max = DefaultMaxLength
	}
	q = strings.TrimSpace(q)
	if q == "" {
		return ErrEmptyQuery
	}
	if utf8.RuneCountInString(q) > max {
		return &TooLongError{Max: max}
	}
	return nil
}

// PromptQuery asks for a question. On a terminal it shows an interactive
// huh form that re-prompts until the input is valid; otherwise the whole of
// in is read as the question and validated once.
func PromptQuery(in io.Reader, out io.Writer, maxLength int) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return runForm(in, out, maxLength)
	}
	return ReadQuery(in, maxLength)
}

// ReadQuery reads a question from non-interactive input such as a pipe.
func ReadQuery(in io.Reader, maxLength int) (string, error) {
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("reading query: %w", err)
	}
	q := strings.TrimSpace(string(data))
	if err := ValidateQuery(q, maxLength); err != nil {
		return "", err
	}
	return q, nil
}

func runForm(in io.Reader, out io.Writer, maxLength int) (string, error) {
	var query string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewText().
				Title("Ask a question about your data").
				Description("Natural language, e.g. \"Which employees joined after 2020?\"").
				Placeholder("Show me all employees in engineering").
				CharLimit(maxLength).
				Value(&query).
				Validate(func(s string) error {
					return ValidateQuery(s, maxLength)
				}),
		),
	).
		WithInput(in).
		WithOutput(out)

	if err := form.Run(); err != nil {
		return "", fmt.Errorf("query prompt failed: %w", err)
	}
	return strings.TrimSpace(query), nil
}
