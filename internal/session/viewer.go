package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// SessionFile summarizes one session log on disk.
type SessionFile struct {
	Path    string
	Name    string
	ModTime time.Time
	// NumEvents counts the well-formed events in the file.
	NumEvents int
	// Queries counts submissions; FirstQuery is the text of the earliest.
	Queries    int
	FirstQuery string
}

// ListSessions finds session log files in dir, newest first.
func ListSessions(dir string) ([]SessionFile, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("reading session directory: %w", err)
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*"+LogSuffix))
	if err != nil {
		return nil, fmt.Errorf("reading session directory: %w", err)
	}

	files := make([]SessionFile, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		sf := SessionFile{Path: path, Name: filepath.Base(path), ModTime: info.ModTime()}
		if events, err := ReadEvents(path); err == nil {
			summarize(&sf, events)
		}
		files = append(files, sf)
	}

	slices.SortStableFunc(files, func(a, b SessionFile) int {
		return b.ModTime.Compare(a.ModTime)
	})
	return files, nil
}

func summarize(sf *SessionFile, events []Event) {
	sf.NumEvents = len(events)
	for _, ev := range events {
		if ev.Type != EventQuerySubmitted {
			continue
		}
		if sf.Queries == 0 {
			sf.FirstQuery, _ = ev.Data["query"].(string)
		}
		sf.Queries++
	}
}

// ReadEvents parses all events from a session log file, skipping
// malformed lines.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening session file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	var events []Event
	scanner := bufio.NewScanner(f)
	// Result sets can make for long lines.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	return events, nil
}

// RenderTimeline writes a human-readable session timeline to w.
//
//nolint:errcheck // display-only writes; errors are not actionable
func RenderTimeline(w io.Writer, events []Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No events found.")
		return
	}

	fmt.Fprintln(w, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(w, " QUERY TIMELINE")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(w)

	start := events[0].Timestamp
	for _, ev := range events {
		ts := formatDuration(ev.Timestamp.Sub(start))
		gen := fmt.Sprintf("#%d", ev.Generation)

		switch ev.Type {
		case EventQuerySubmitted:
			query, _ := ev.Data["query"].(string) //nolint:errcheck
			fmt.Fprintf(w, "[%s] %-4s ▶  Submitted: %s\n", ts, gen, query)

		case EventResultsReady:
			rows := jsonNumber(ev.Data["row_count"])
			dur := jsonNumber(ev.Data["duration_ms"])
			status, _ := ev.Data["evaluation_status"].(string) //nolint:errcheck
			if status == "" {
				status = "none"
			}
			fmt.Fprintf(w, "[%s] %-4s ✓  Results: %d rows (%dms)  evaluation=%s\n", ts, gen, rows, dur, status)

		case EventSubmitFailed:
			msg, _ := ev.Data["message"].(string) //nolint:errcheck
			fmt.Fprintf(w, "[%s] %-4s ❌ Failed: %s\n", ts, gen, msg)

		case EventEvaluationUpdate:
			status, _ := ev.Data["status"].(string) //nolint:errcheck
			if _, ok := ev.Data["faithfulness"]; ok {
				fmt.Fprintf(w, "[%s] %-4s 📊 Evaluation %s  faithfulness=%.2f  answer_relevance=%.2f  context_precision=%.2f\n",
					ts, gen, status,
					jsonFloat(ev.Data["faithfulness"]),
					jsonFloat(ev.Data["answer_relevance"]),
					jsonFloat(ev.Data["context_precision"]))
			} else {
				fmt.Fprintf(w, "[%s] %-4s …  Evaluation %s\n", ts, gen, status)
			}

		case EventEvaluationStalled:
			reason, _ := ev.Data["reason"].(string)    //nolint:errcheck
			msg, _ := ev.Data["message"].(string)      //nolint:errcheck
			last, _ := ev.Data["last_status"].(string) //nolint:errcheck
			fmt.Fprintf(w, "[%s] %-4s ⚠  Evaluation stalled (%s) at %s: %s\n", ts, gen, reason, last, msg)

		case EventSessionSuperseded:
			state, _ := ev.Data["state"].(string) //nolint:errcheck
			by := jsonNumber(ev.Data["superseded_by"])
			fmt.Fprintf(w, "[%s] %-4s ↷  Superseded by #%d while %s\n", ts, gen, by, state)

		default:
			fmt.Fprintf(w, "[%s] %-4s %s %v\n", ts, gen, ev.Type, ev.Data)
		}
	}
	fmt.Fprintln(w)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%6dms", d.Milliseconds())
	}
	return fmt.Sprintf("%6.1fs", d.Seconds())
}

// jsonNumber extracts a number from a JSON-decoded value.
func jsonNumber(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case uint64:
		return int(n)
	case int64:
		return int(n)
	case json.Number:
		i, _ := n.Int64() //nolint:errcheck
		return int(i)
	}
	return 0
}

func jsonFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case json.Number:
		f, _ := n.Float64() //nolint:errcheck
		return f
	}
	return 0
}
