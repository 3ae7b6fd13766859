// Package sessionlog persists the per-session transcript as append-only JSON
// lines with crash-tolerant read-back.
//
// The log is a consistency boundary: every committed record is one complete
// JSON object on its own line, written synchronously, and the file is never
// rewritten in place. Write failures are fatal to the session. Readers
// tolerate exactly one malformed trailing line, which is what a crash during
// an append leaves behind.
package sessionlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Entry origins.
const (
	OriginVoice = "voice"
	OriginText  = "text"
)

// Entry is one committed transcript record. Commit order follows
// transcription arrival, not capture order; consumers that need capture
// order sort by StartTS.
type Entry struct {
	UserID      string  `json:"user_id"`
	DisplayName string  `json:"display_name"`
	StartTS     float64 `json:"start_ts"`
	EndTS       float64 `json:"end_ts"`
	Origin      string  `json:"origin"`
	Text        string  `json:"text"`
}

// CorruptLogError reports an unrecoverable parse failure during read-back,
// with the 1-based line number of the offending record.
type CorruptLogError struct {
	Line int
	Err  error
}

func (e *CorruptLogError) Error() string {
	return fmt.Sprintf("sessionlog: corrupt record at line %d: %v", e.Line, e.Err)
}

func (e *CorruptLogError) Unwrap() error { return e.Err }

// Writer appends entries to a session log file. One writer per session;
// Append is safe for concurrent use.
type Writer struct {
	mu sync.Mutex
	f  *os.File
}

// NewWriter opens (or creates) the log at path in append-only mode.
func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: open %s: %w", path, err)
	}
	return &Writer{f: f}, nil
}

// Append writes one entry as a compact JSON line. Any failure here means the
// log can no longer be trusted; callers treat it as fatal to the session.
func (w *Writer) Append(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("sessionlog: marshal entry: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return fmt.Errorf("sessionlog: writer closed")
	}
	if _, err := w.f.Write(data); err != nil {
		return fmt.Errorf("sessionlog: append: %w", err)
	}
	return nil
}

// Close flushes the log to stable storage and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	f := w.f
	w.f = nil
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sessionlog: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("sessionlog: close: %w", err)
	}
	return nil
}

// Read parses a session log back into entries. A single malformed final line
// is silently discarded (crash-during-append recovery); a malformed line
// anywhere else returns a [CorruptLogError]. Reading never modifies the file.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: open %s: %w", path, err)
	}
	defer f.Close()

	var (
		entries []Entry
		failed  *CorruptLogError
		lineNo  int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if failed != nil {
			// The malformed line was not the last non-blank one.
			return nil, failed
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			failed = &CorruptLogError{Line: lineNo, Err: err}
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("sessionlog: read %s: %w", path, err)
	}
	return entries, nil
}
