// Package vad implements the two-stage voice activity gate that decides,
// frame by frame, whether a participant is speaking.
//
// Stage one is a cheap energy prefilter: frames whose RMS level falls below a
// configurable dBFS threshold are declared inactive without consulting the
// model stage at all. Stage two is a WebRTC-style classifier (see the webrtc
// subpackage) running in aggressive mode by default.
//
// A gate carries per-stream adaptive state, so create one per participant.
// A single gate must not be shared across goroutines.
package vad

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidFrame is returned when a caller supplies a frame whose length or
// sample rate does not match the gate configuration. This indicates a wiring
// error upstream, not bad audio; sessions abort on it.
var ErrInvalidFrame = errors.New("vad: invalid frame")

// Mode selects how strict the second-stage classifier is. Higher modes
// declare fewer frames active.
type Mode int

const (
	ModeNormal Mode = iota
	ModeLowBitrate
	ModeAggressive
	ModeVeryAggressive
)

// ParseMode maps a configuration string to a [Mode].
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "aggressive":
		return ModeAggressive, nil
	case "normal":
		return ModeNormal, nil
	case "low_bitrate":
		return ModeLowBitrate, nil
	case "very_aggressive":
		return ModeVeryAggressive, nil
	}
	return 0, fmt.Errorf("vad: unknown mode %q", s)
}

// Classifier decides whether a single PCM frame contains speech. The frame is
// little-endian int16 mono PCM at sampleRate. Implementations may carry
// per-stream adaptive state and are not required to be safe for concurrent use.
type Classifier interface {
	Classify(frame []byte, sampleRate int) (bool, error)
}

// Config holds the parameters for a [Gate].
type Config struct {
	// SampleRate is the PCM sample rate in Hz. The pipeline always runs the
	// gate at 16000.
	SampleRate int

	// FrameMs is the fixed frame duration in milliseconds. Frames of any
	// other length are rejected with ErrInvalidFrame.
	FrameMs int

	// EnergyThresholdDB is the stage-one RMS threshold in dBFS. Frames
	// quieter than this never reach stage two. Typical: -45.
	EnergyThresholdDB float64
}

// Gate is the default two-stage [Classifier]: energy prefilter, then a
// model-backed confirmation stage. The confirmation stage is only consulted
// for frames that pass the energy filter.
type Gate struct {
	cfg          Config
	frameSamples int
	confirm      Classifier
}

var _ Classifier = (*Gate)(nil)

// NewGate creates a gate with the given confirmation stage. confirm is
// typically a webrtc.Classifier; tests inject deterministic stubs.
func NewGate(cfg Config, confirm Classifier) (*Gate, error) {
	if cfg.SampleRate <= 0 || cfg.FrameMs <= 0 {
		return nil, fmt.Errorf("vad: sample rate %d and frame %dms must be positive", cfg.SampleRate, cfg.FrameMs)
	}
	if confirm == nil {
		return nil, errors.New("vad: confirmation classifier must not be nil")
	}
	return &Gate{
		cfg:          cfg,
		frameSamples: cfg.SampleRate * cfg.FrameMs / 1000,
		confirm:      confirm,
	}, nil
}

// Classify implements [Classifier]. The frame must contain exactly
// SampleRate*FrameMs/1000 samples at the configured rate.
func (g *Gate) Classify(frame []byte, sampleRate int) (bool, error) {
	if sampleRate != g.cfg.SampleRate {
		return false, fmt.Errorf("%w: sample rate %d, want %d", ErrInvalidFrame, sampleRate, g.cfg.SampleRate)
	}
	if len(frame) != g.frameSamples*2 {
		return false, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidFrame, len(frame), g.frameSamples*2)
	}

	if RMSdBFS(frame) < g.cfg.EnergyThresholdDB {
		return false, nil
	}
	return g.confirm.Classify(frame, sampleRate)
}

// RMSdBFS computes the root-mean-square level of a little-endian int16 PCM
// frame in dB relative to full scale. Digital silence floors at -180 dBFS.
func RMSdBFS(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 20 * math.Log10(1e-9)
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(frame[i*2])|int16(frame[i*2+1])<<8) / 32768.0
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(n))
	if rms < 1e-9 {
		rms = 1e-9
	}
	return 20 * math.Log10(rms)
}
