package sessionlog_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hwittich/scrivener/internal/sessionlog"
)

func sampleEntries() []sessionlog.Entry {
	return []sessionlog.Entry{
		{UserID: "1001", DisplayName: "ada", StartTS: 100.5, EndTS: 103.2, Origin: sessionlog.OriginVoice, Text: "hello there"},
		{UserID: "1002", DisplayName: "grace", StartTS: 104.0, EndTS: 104.0, Origin: sessionlog.OriginText, Text: "typed reply"},
		{UserID: "1001", DisplayName: "ada", StartTS: 99.0, EndTS: 101.0, Origin: sessionlog.OriginVoice, Text: "late arrival"},
	}
}

func writeLog(t *testing.T, path string, entries []sessionlog.Entry) {
	t.Helper()
	w, err := sessionlog.NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, e := range entries {
		if err := w.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	want := sampleEntries()
	writeLog(t, path, want)

	got, err := sessionlog.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("read %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestAppendSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	all := sampleEntries()
	writeLog(t, path, all[:2])
	writeLog(t, path, all[2:])

	got, err := sessionlog.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != len(all) {
		t.Fatalf("read %d entries after reopen, want %d", len(got), len(all))
	}
}

func TestReadRecoversTruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	want := sampleEntries()
	writeLog(t, path, want)

	// Simulate a crash mid-append: a partial JSON object on the last line.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := f.WriteString(`{"user_id":"1003","display_na`); err != nil {
		t.Fatalf("write partial: %v", err)
	}
	f.Close()

	got, err := sessionlog.Read(path)
	if err != nil {
		t.Fatalf("Read with truncated tail: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("read %d entries, want %d (truncated tail discarded)", len(got), len(want))
	}
}

func TestReadRejectsMidFileCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	writeLog(t, path, sampleEntries()[:1])

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := f.WriteString("garbage line\n"); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()
	writeLog(t, path, sampleEntries()[1:2])

	_, err = sessionlog.Read(path)
	var corrupt *sessionlog.CorruptLogError
	if !errors.As(err, &corrupt) {
		t.Fatalf("Read err = %v, want CorruptLogError", err)
	}
	if corrupt.Line != 2 {
		t.Errorf("corrupt line = %d, want 2", corrupt.Line)
	}
}

func TestAppendAfterCloseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	w, err := sessionlog.NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Append(sessionlog.Entry{UserID: "1"}); err == nil {
		t.Fatal("Append after Close succeeded, want error")
	}
}
