// Package audio provides the PCM primitives for the transcription pipeline:
// interleaved int16 little-endian byte conversion, stereo downmix, and linear
// resampling. The canonical internal format downstream of [NormalizeStereo48]
// is mono 16 kHz 16-bit PCM.
package audio

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Canonical rates for the capture platform and the recognizer.
const (
	// CaptureRate is the sample rate delivered by the voice platform.
	CaptureRate = 48000

	// TargetRate is the canonical pipeline sample rate expected by the VAD
	// and the speech recognizer.
	TargetRate = 16000
)

// ErrInvalidChannels is returned when a downmix is requested for a channel
// layout the pipeline does not support. This is a configuration error; the
// capture platform always delivers mono or stereo.
var ErrInvalidChannels = errors.New("audio: unsupported channel count")

// Frame represents a block of PCM audio flowing through the pipeline.
type Frame struct {
	// Data is interleaved little-endian int16 PCM.
	Data []byte

	// SampleRate in Hz (48000 at capture, 16000 after normalization).
	SampleRate int

	// Channels: 2 at capture, 1 after normalization.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// BytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
// A trailing odd byte is ignored.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// Int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// Downmix reduces interleaved multi-channel samples to mono. Stereo pairs are
// averaged with a saturating clamp to the int16 range; mono input is returned
// unchanged. Any other channel count returns [ErrInvalidChannels].
func Downmix(samples []int16, channels int) ([]int16, error) {
	switch channels {
	case 1:
		return samples, nil
	case 2:
		frames := len(samples) / 2
		out := make([]int16, frames)
		for i := range frames {
			avg := (int32(samples[i*2]) + int32(samples[i*2+1])) / 2
			if avg > 32767 {
				avg = 32767
			} else if avg < -32768 {
				avg = -32768
			}
			out[i] = int16(avg)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannels, channels)
	}
}

// Resample converts mono int16 samples from fromHz to toHz using linear
// interpolation. The output length is round(len*to/from), minimum 1. Linear
// is adequate here: Opus delivers band-limited content, so no anti-aliasing
// filter is needed for the 48 kHz → 16 kHz speech path.
func Resample(mono []int16, fromHz, toHz int) []int16 {
	if len(mono) == 0 || fromHz <= 0 || toHz <= 0 {
		return nil
	}
	if fromHz == toHz {
		return mono
	}

	n := len(mono)
	outLen := int(math.Round(float64(n) * float64(toHz) / float64(fromHz)))
	if outLen < 1 {
		outLen = 1
	}

	out := make([]int16, outLen)
	ratio := float64(fromHz) / float64(toHz)
	for i := range outLen {
		pos := float64(i) * ratio
		i0 := int(pos)
		if i0 > n-1 {
			i0 = n - 1
		}
		i1 := i0 + 1
		if i1 > n-1 {
			i1 = n - 1
		}
		t := pos - float64(i0)
		out[i] = int16(math.Round(float64(mono[i0])*(1-t) + float64(mono[i1])*t))
	}
	return out
}

// NormalizeStereo48 converts interleaved stereo 48 kHz int16 PCM bytes to the
// canonical mono 16 kHz format: downmix first, then resample. A trailing
// partial sample pair is dropped.
func NormalizeStereo48(pcm []byte) ([]byte, error) {
	samples := BytesToInt16s(pcm)
	if len(samples)%2 != 0 {
		samples = samples[:len(samples)-1]
	}
	mono, err := Downmix(samples, 2)
	if err != nil {
		return nil, err
	}
	return Int16sToBytes(Resample(mono, CaptureRate, TargetRate)), nil
}
