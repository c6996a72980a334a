// Package feedback appends user votes on predictions to a CSV log.
package feedback

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TimeLayout is UTC ISO-8601 with second precision and no zone suffix.
const TimeLayout = "2006-01-02T15:04:05"

const (
	VoteCorrect   = "correct"
	VoteIncorrect = "incorrect"
)

type Entry struct {
	Timestamp time.Time
	Class     string
	Vote      string
}

type Logger struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewLogger(path string) *Logger {
	return &Logger{path: path, now: time.Now}
}

// WithClock replaces the time source, used by tests.
func (l *Logger) WithClock(now func() time.Time) *Logger {
	l.now = now
	return l
}

func (l *Logger) Path() string {
	return l.path
}

// Log appends one row (timestamp, class, vote), creating the directory if needed.
func (l *Logger) Log(class, vote string) (Entry, error) {
	entry := Entry{Timestamp: l.now().UTC().Truncate(time.Second), Class: class, Vote: vote}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return entry, fmt.Errorf("failed to create feedback directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return entry, fmt.Errorf("failed to open feedback log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{entry.Timestamp.Format(TimeLayout), class, vote}); err != nil {
		return entry, fmt.Errorf("failed to write feedback: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return entry, fmt.Errorf("failed to write feedback: %w", err)
	}
	return entry, nil
}

// Read returns every logged entry. A missing log yields no entries.
func (l *Logger) Read() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open feedback log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 3

	var entries []Entry
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return entries, fmt.Errorf("failed to read feedback log: %w", err)
		}
		ts, err := time.Parse(TimeLayout, rec[0])
		if err != nil {
			return entries, fmt.Errorf("bad timestamp %q: %w", rec[0], err)
		}
		entries = append(entries, Entry{Timestamp: ts, Class: rec[1], Vote: rec[2]})
	}
	return entries, nil
}

// Tally counts votes per class.
type Tally struct {
	Correct   int
	Incorrect int
	Other     int
}

func Summarize(entries []Entry) map[string]*Tally {
	out := make(map[string]*Tally)
	for _, e := range entries {
		t, ok := out[e.Class]
		if !ok {
			t = &Tally{}
			out[e.Class] = t
		}
		switch e.Vote {
		case VoteCorrect:
			t.Correct++
		case VoteIncorrect:
			t.Incorrect++
		default:
			t.Other++
		}
	}
	return out
}
