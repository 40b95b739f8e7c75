// Package dataset exports query result sets as CSV.
package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spboyer/querylens/internal/models"
)

// WriteCSV writes rows under a header of columns. Missing and null values
// become empty fields.
func WriteCSV(w io.Writer, columns []string, rows []models.Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}

	record := make([]string, len(columns))
	for i, row := range rows {
		for j, c := range columns {
			record[j] = field(row[c])
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("csv: write row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExportCSV writes rows to path, creating parent directories.
func ExportCSV(path string, columns []string, rows []models.Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("csv: create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("csv: create %s: %w", path, err)
	}

	if err := WriteCSV(f, columns, rows); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return f.Close()
}

func field(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}
