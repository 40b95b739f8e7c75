package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spboyer/querylens/internal/models"
)

// maxCellWidth bounds the display width of a single table cell.
const maxCellWidth = 40

// Columns returns the union of the rows' keys in sorted order.
func Columns(rows []models.Row) []string {
	seen := map[string]bool{}
	var cols []string
	for _, r := range rows {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	slices.Sort(cols)
	return cols
}

// RenderTable writes rows as an aligned text table. At most maxRows rows are
// written; maxRows <= 0 writes all of them.
func RenderTable(w io.Writer, rows []models.Row, maxRows int) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No results.") //nolint:errcheck
		return
	}
	shown := rows
	if maxRows > 0 && len(rows) > maxRows {
		shown = rows[:maxRows]
	}

	cols := Columns(rows)
	widths := make([]int, len(cols))
	cells := make([][]string, len(shown))
	for i, c := range cols {
		widths[i] = runewidth.StringWidth(c)
	}
	for r, row := range shown {
		cells[r] = make([]string, len(cols))
		for i, c := range cols {
			v, ok := row[c]
			s := ""
			if ok {
				s = FormatCell(v)
			}
			cells[r][i] = s
			widths[i] = max(widths[i], runewidth.StringWidth(s))
		}
	}

	writeRow(w, cols, widths)
	seps := make([]string, len(cols))
	for i, wd := range widths {
		seps[i] = strings.Repeat("-", wd)
	}
	writeRow(w, seps, widths)
	for _, r := range cells {
		writeRow(w, r, widths)
	}
}

func writeRow(w io.Writer, cells []string, widths []int) {
	padded := make([]string, len(cells))
	for i, c := range cells {
		if i == len(cells)-1 {
			padded[i] = c
			continue
		}
		padded[i] = padRight(c, widths[i])
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(padded, "  "), " ")) //nolint:errcheck
}

// FormatCell renders one result value for display.
func FormatCell(v any) string {
	var s string
	switch v := v.(type) {
	case nil:
		s = "NULL"
	case string:
		s = v
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(v)
	case json.Number:
		s = v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			s = fmt.Sprint(v)
		} else {
			s = string(data)
		}
	}
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, maxCellWidth, "…")
}

// padRight pads s with spaces so its terminal display width reaches width.
func padRight(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	return s + strings.Repeat(" ", width-sw)
}
