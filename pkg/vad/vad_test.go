package vad_test

import (
	"errors"
	"math"
	"testing"

	"github.com/hwittich/scrivener/pkg/audio"
	"github.com/hwittich/scrivener/pkg/vad"
)

// countingStage records how often the confirmation stage runs and answers
// with a fixed verdict.
type countingStage struct {
	calls  int
	active bool
	err    error
}

func (s *countingStage) Classify(frame []byte, sampleRate int) (bool, error) {
	s.calls++
	return s.active, s.err
}

func frame16k30ms(amp float64) []byte {
	pcm := make([]int16, 480)
	for i := range pcm {
		pcm[i] = int16(amp * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return audio.Int16sToBytes(pcm)
}

func newGate(t *testing.T, confirm vad.Classifier) *vad.Gate {
	t.Helper()
	g, err := vad.NewGate(vad.Config{SampleRate: 16000, FrameMs: 30, EnergyThresholdDB: -45}, confirm)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	return g
}

func TestParseMode(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want vad.Mode
	}{
		{"", vad.ModeAggressive},
		{"aggressive", vad.ModeAggressive},
		{"normal", vad.ModeNormal},
		{"low_bitrate", vad.ModeLowBitrate},
		{"very_aggressive", vad.ModeVeryAggressive},
	}
	for _, tc := range cases {
		got, err := vad.ParseMode(tc.in)
		if err != nil {
			t.Errorf("ParseMode(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if _, err := vad.ParseMode("shouty"); err == nil {
		t.Error("unknown mode accepted")
	}
}

func TestRMSdBFS(t *testing.T) {
	t.Parallel()
	if db := vad.RMSdBFS(frame16k30ms(0)); db > -100 {
		t.Errorf("digital silence = %.1f dBFS, want well below -100", db)
	}
	// A full-scale sine sits at -3 dBFS.
	if db := vad.RMSdBFS(frame16k30ms(32767)); math.Abs(db-(-3.01)) > 0.2 {
		t.Errorf("full-scale sine = %.2f dBFS, want ≈ -3.01", db)
	}
	loud, quiet := vad.RMSdBFS(frame16k30ms(8000)), vad.RMSdBFS(frame16k30ms(80))
	if loud <= quiet {
		t.Errorf("louder frame measured quieter: %.1f vs %.1f", loud, quiet)
	}
}

func TestGateSkipsStageTwoForQuietFrames(t *testing.T) {
	t.Parallel()
	stage := &countingStage{active: true}
	g := newGate(t, stage)

	active, err := g.Classify(frame16k30ms(50), 16000) // ≈ -59 dBFS
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if active {
		t.Error("quiet frame classified active")
	}
	if stage.calls != 0 {
		t.Errorf("confirmation stage ran %d times for a quiet frame", stage.calls)
	}
}

func TestGateConsultsStageTwoForLoudFrames(t *testing.T) {
	t.Parallel()
	for _, verdict := range []bool{true, false} {
		stage := &countingStage{active: verdict}
		g := newGate(t, stage)

		active, err := g.Classify(frame16k30ms(8000), 16000)
		if err != nil {
			t.Fatalf("classify: %v", err)
		}
		if active != verdict {
			t.Errorf("gate verdict = %v, want stage-two verdict %v", active, verdict)
		}
		if stage.calls != 1 {
			t.Errorf("confirmation stage ran %d times, want 1", stage.calls)
		}
	}
}

func TestGateRejectsMismatchedFrames(t *testing.T) {
	t.Parallel()
	g := newGate(t, &countingStage{})

	if _, err := g.Classify(frame16k30ms(8000), 48000); !errors.Is(err, vad.ErrInvalidFrame) {
		t.Errorf("wrong rate: err = %v, want ErrInvalidFrame", err)
	}
	if _, err := g.Classify(make([]byte, 100), 16000); !errors.Is(err, vad.ErrInvalidFrame) {
		t.Errorf("wrong length: err = %v, want ErrInvalidFrame", err)
	}
}

func TestGatePropagatesStageErrors(t *testing.T) {
	t.Parallel()
	stageErr := errors.New("model exploded")
	g := newGate(t, &countingStage{err: stageErr})

	if _, err := g.Classify(frame16k30ms(8000), 16000); !errors.Is(err, stageErr) {
		t.Errorf("err = %v, want stage error", err)
	}
}

func TestNewGateValidation(t *testing.T) {
	t.Parallel()
	if _, err := vad.NewGate(vad.Config{SampleRate: 0, FrameMs: 30}, &countingStage{}); err == nil {
		t.Error("zero sample rate accepted")
	}
	if _, err := vad.NewGate(vad.Config{SampleRate: 16000, FrameMs: 30}, nil); err == nil {
		t.Error("nil confirmation stage accepted")
	}
}
