package wrapup_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hwittich/scrivener/internal/sessionlog"
	"github.com/hwittich/scrivener/internal/wrapup"
)

type stubGen struct {
	system string
	prompt string
	out    string
}

func (s *stubGen) Generate(_ context.Context, system, prompt string) (string, error) {
	s.system = system
	s.prompt = prompt
	return s.out, nil
}

func TestSummariseRendersCaptureOrder(t *testing.T) {
	t.Parallel()
	entries := []sessionlog.Entry{
		{UserID: "2", DisplayName: "grace", StartTS: 200, Origin: sessionlog.OriginVoice, Text: "second"},
		{UserID: "1", DisplayName: "ada", StartTS: 100, Origin: sessionlog.OriginVoice, Text: "first"},
	}

	gen := &stubGen{out: "## Summary"}
	got, err := wrapup.NewSummariser(gen).Summarise(context.Background(), entries)
	if err != nil {
		t.Fatalf("Summarise: %v", err)
	}
	if got != "## Summary" {
		t.Errorf("summary = %q", got)
	}
	if gen.system == "" {
		t.Error("no system prompt passed to generator")
	}
	first := strings.Index(gen.prompt, "ada: first")
	second := strings.Index(gen.prompt, "grace: second")
	if first < 0 || second < 0 || first > second {
		t.Errorf("transcript not in capture order:\n%s", gen.prompt)
	}
}

func TestSummariseEmptyLog(t *testing.T) {
	t.Parallel()
	if _, err := wrapup.NewSummariser(&stubGen{}).Summarise(context.Background(), nil); err == nil {
		t.Error("Summarise(nil) succeeded, want error")
	}
}

func TestRenderTranscriptFallsBackToUserID(t *testing.T) {
	t.Parallel()
	out := wrapup.RenderTranscript([]sessionlog.Entry{{UserID: "1001", StartTS: 1, Text: "hi"}})
	if !strings.Contains(out, "1001: hi") {
		t.Errorf("transcript = %q, want raw id fallback", out)
	}
}

func TestWriteFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := wrapup.WriteFile(dir, "# Notes\n"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "wrapup.md"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "# Notes\n" {
		t.Errorf("content = %q", data)
	}
}
