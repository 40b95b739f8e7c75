package wizard

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateQuery(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		max     int
		wantErr string
	}{
		{"simple", "Show me all employees", 0, ""},
		{"empty", "", 0, "Query cannot be empty"},
		{"whitespace only", "  \n\t ", 0, "Query cannot be empty"},
		{"exactly max", strings.Repeat("a", 500), 0, ""},
		{"over max", strings.Repeat("a", 501), 0, "Query too long (max 500 characters)"},
		{"surrounding space not counted", "  " + strings.Repeat("a", 500) + "  ", 0, ""},
		{"multibyte counted as characters", strings.Repeat("é", 500), 0, ""},
		{"custom max", "abcdef", 5, "Query too long (max 5 characters)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQuery(tt.query, tt.max)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestValidateQuery_ErrorTypes(t *testing.T) {
	assert.True(t, errors.Is(ValidateQuery("", 10), ErrEmptyQuery))

	var tooLong *TooLongError
	require.True(t, errors.As(ValidateQuery("abcdefghijk", 10), &tooLong))
	assert.Equal(t, 10, tooLong.Max)
}

func TestReadQuery(t *testing.T) {
	q, err := ReadQuery(strings.NewReader("  Which employees joined after 2020?\n"), 0)
	require.NoError(t, err)
	assert.Equal(t, "Which employees joined after 2020?", q)

	_, err = ReadQuery(strings.NewReader("\n\n"), 0)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestPromptQuery_NonTerminalReadsInput(t *testing.T) {
	out := &bytes.Buffer{}

	q, err := PromptQuery(strings.NewReader("count orders by region\n"), out, 500)
	require.NoError(t, err)
	assert.Equal(t, "count orders by region", q)
	assert.Empty(t, out.String())
}
