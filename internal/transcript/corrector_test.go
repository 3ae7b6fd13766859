package transcript_test

import (
	"strings"
	"testing"

	"github.com/hwittich/scrivener/internal/transcript"
)

func TestRepetitionCollapsed(t *testing.T) {
	t.Parallel()
	c := transcript.New(transcript.WithMaxRepeats(3), transcript.WithKeepRepeatedOnly())

	got, keep := c.Correct(strings.TrimSpace(strings.Repeat("you ", 20)))
	if !keep {
		t.Fatal("segment dropped despite WithKeepRepeatedOnly")
	}
	if got != "you you you" {
		t.Errorf("collapsed = %q, want %q", got, "you you you")
	}
}

func TestRepeatedOnlySegmentDropped(t *testing.T) {
	t.Parallel()
	c := transcript.New(transcript.WithMaxRepeats(3))

	if _, keep := c.Correct(strings.TrimSpace(strings.Repeat("echo ", 15))); keep {
		t.Error("repeated-only segment was kept")
	}

	// Mixed content must survive even when one run collapses.
	got, keep := c.Correct("so " + strings.TrimSpace(strings.Repeat("very ", 10)) + " loud")
	if !keep {
		t.Fatal("mixed segment dropped")
	}
	if got != "so very very very loud" {
		t.Errorf("collapsed = %q, want %q", got, "so very very very loud")
	}
}

func TestShortRunsUntouched(t *testing.T) {
	t.Parallel()
	c := transcript.New()

	in := "no no never gonna happen"
	got, keep := c.Correct(in)
	if !keep || got != in {
		t.Errorf("Correct(%q) = %q, %v; want unchanged", in, got, keep)
	}
}

func TestGlossaryCorrection(t *testing.T) {
	t.Parallel()
	c := transcript.New(transcript.WithGlossary([]string{"Eldrinax", "Thornwood"}))

	got, keep := c.Correct("we travelled to elder nacks through the thornwould.")
	if !keep {
		t.Fatal("segment dropped")
	}
	if !strings.Contains(got, "Thornwood") {
		t.Errorf("corrected = %q, want Thornwood substitution", got)
	}
	if !strings.HasSuffix(got, ".") {
		t.Errorf("corrected = %q, trailing punctuation lost", got)
	}
}

func TestGlossaryLeavesUnrelatedWords(t *testing.T) {
	t.Parallel()
	c := transcript.New(transcript.WithGlossary([]string{"Eldrinax"}))

	in := "the weather is lovely today"
	got, keep := c.Correct(in)
	if !keep || got != in {
		t.Errorf("Correct(%q) = %q, %v; want unchanged", in, got, keep)
	}
}

func TestEmptyInputDropped(t *testing.T) {
	t.Parallel()
	c := transcript.New()
	if _, keep := c.Correct("   "); keep {
		t.Error("blank transcription was kept")
	}
}
