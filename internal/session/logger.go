package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LogSuffix ends every session log file name.
const LogSuffix = "-session.jsonl"

// Logger records session events.
type Logger interface {
	Log(event Event) error
	Close() error
}

// NopLogger discards all events.
type NopLogger struct{}

func (NopLogger) Log(Event) error { return nil }

func (NopLogger) Close() error { return nil }

// JSONLogger writes events to a file, one JSON object per line. Each event
// is flushed before Log returns so a log can be viewed while the session is
// still running. It is safe for concurrent use.
type JSONLogger struct {
	path string

	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	written int
}

// OpenLog creates a new session log in dir, named after the current time.
// It never reuses an existing file.
func OpenLog(dir string) (*JSONLogger, error) {
	return openLog(LogName(time.Now()), dir)
}

// LogName returns the file name OpenLog uses for a log started at t. The
// random fragment keeps sessions started within the same second apart.
func LogName(t time.Time) string {
	id := uuid.NewString()
	return t.UTC().Format("20060102T150405Z") + "-" + id[:8] + LogSuffix
}

func openLog(name, dir string) (*JSONLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session log directory: %w", err)
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening session log: %w", err)
	}
	return &JSONLogger{path: path, file: f, buf: bufio.NewWriter(f)}, nil
}

// Log appends one event.
func (l *JSONLogger) Log(event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event.Type, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return os.ErrClosed
	}
	l.buf.Write(line)     //nolint:errcheck // surfaced by Flush
	l.buf.WriteByte('\n') //nolint:errcheck
	if err := l.buf.Flush(); err != nil {
		return fmt.Errorf("writing session log: %w", err)
	}
	l.written++
	return nil
}

// Written reports how many events have been logged.
func (l *JSONLogger) Written() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written
}

// Close flushes and closes the file. Later calls to Log fail with
// os.ErrClosed; later calls to Close do nothing.
func (l *JSONLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	ferr := l.buf.Flush()
	cerr := l.file.Close()
	l.file = nil
	if ferr != nil {
		return ferr
	}
	return cerr
}

// Path returns the file path of the session log.
func (l *JSONLogger) Path() string {
	return l.path
}
