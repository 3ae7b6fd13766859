// Package webrtc wraps the WebRTC voice activity detector (via the
// go-webrtcvad CGO binding) as a [vad.Classifier] second stage.
//
// The WebRTC VAD carries adaptive noise-floor state, so create one Classifier
// per participant stream and do not share it across goroutines.
package webrtc

import (
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/hwittich/scrivener/pkg/vad"
)

// Compile-time interface assertion.
var _ vad.Classifier = (*Classifier)(nil)

// Classifier is a per-stream WebRTC VAD session.
type Classifier struct {
	inst *webrtcvad.VAD
}

// New creates a WebRTC VAD classifier in the given mode. Modes map directly
// onto the WebRTC aggressiveness levels 0–3.
func New(mode vad.Mode) (*Classifier, error) {
	inst, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: create: %w", err)
	}
	if err := inst.SetMode(int(mode)); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode %d: %w", mode, err)
	}
	return &Classifier{inst: inst}, nil
}

// Classify implements [vad.Classifier]. The WebRTC detector accepts 10, 20,
// or 30 ms frames at 8/16/32/48 kHz; anything else is an invalid frame.
func (c *Classifier) Classify(frame []byte, sampleRate int) (bool, error) {
	if !c.inst.ValidRateAndFrameLength(sampleRate, len(frame)/2) {
		return false, fmt.Errorf("%w: %d bytes at %d Hz", vad.ErrInvalidFrame, len(frame), sampleRate)
	}
	active, err := c.inst.Process(sampleRate, frame)
	if err != nil {
		return false, fmt.Errorf("webrtc vad: process: %w", err)
	}
	return active, nil
}
