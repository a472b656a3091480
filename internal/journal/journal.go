package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Writer appends events to a journal file. It is safe for concurrent use.
type Writer struct {
	f   *os.File
	mu  sync.Mutex
	now func() time.Time
}

// Create opens the journal in dir for appending, creating it if needed.
func Create(dir string) (*Writer, error) {
	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Writer{f: f, now: time.Now}, nil
}

// Close closes the journal file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// Write appends ev as one line. A zero Time is stamped with the current time.
func (w *Writer) Write(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return fmt.Errorf("write event %s: journal closed", ev.Event)
	}
	if ev.Time.IsZero() {
		ev.Time = w.now()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	data = append(data, '\n')
	if _, err := w.f.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Reader reads events from a journal.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024) // 1MB max line
	return &Reader{scanner: scanner}
}

// ReadEvent reads the next event. It returns io.EOF at the end of input.
func (r *Reader) ReadEvent() (Event, error) {
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return Event{}, fmt.Errorf("unmarshal event: %w", err)
		}
		return ev, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("read event: %w", err)
	}
	return Event{}, io.EOF
}

// ReadFile returns every event in the journal of a session directory. A
// truncated last line, left by a crash mid-write, is ignored.
func ReadFile(dir string) ([]Event, error) {
	f, err := os.Open(filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var events []Event
	var pending error
	r := NewReader(f)
	for {
		ev, err := r.ReadEvent()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if pending != nil {
			return events, pending
		}
		if err != nil {
			pending = err
			continue
		}
		events = append(events, ev)
	}
}
