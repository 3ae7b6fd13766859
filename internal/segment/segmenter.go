// Package segment turns a participant's normalized PCM stream into finalized
// utterance segments.
//
// The segmenter frames incoming audio into fixed VAD windows, tracks
// speech/silence transitions, stitches short silences back into the segment
// when speech resumes, and finalizes on a silence gap or on the maximum
// segment length. Finalized segments always end on an active frame; trailing
// silence is never emitted.
package segment

import (
	"sync"
	"time"

	"github.com/hwittich/scrivener/pkg/vad"
)

// Segment is an immutable finalized utterance for one participant.
type Segment struct {
	// ParticipantID is the opaque id assigned by the capture platform.
	ParticipantID string

	// Index is the per-participant monotone counter, starting at 0.
	Index uint32

	// StartedTS is the wall-clock epoch seconds of the first active sample.
	StartedTS float64

	// CapturedTS is the wall-clock epoch seconds of the last active sample.
	CapturedTS float64

	// DurationMS is the segment length in milliseconds.
	DurationMS uint32

	// PCM is mono 16 kHz little-endian int16 samples, trailing silence trimmed.
	PCM []byte

	// Prompt is an optional contextual hint for the recognizer, assigned by
	// the coordinator when the segment is emitted.
	Prompt string
}

// Config holds the segmentation tunables.
type Config struct {
	// SampleRate of the incoming PCM in Hz. The pipeline always feeds 16000.
	SampleRate int

	// FrameMs is the VAD frame duration in milliseconds.
	FrameMs int

	// SilenceGapMs is the contiguous silence that finalizes an active segment.
	SilenceGapMs int

	// MinSegmentMs: segments with less accumulated audio are dropped.
	MinSegmentMs int

	// MaxSegmentMs: segments are finalized at this length without waiting
	// for silence.
	MaxSegmentMs int
}

// DefaultConfig returns the production tunables.
func DefaultConfig() Config {
	return Config{
		SampleRate:   16000,
		FrameMs:      30,
		SilenceGapMs: 1250,
		MinSegmentMs: 200,
		MaxSegmentMs: 30000,
	}
}

// Segmenter accumulates one participant's audio and emits segments through a
// callback. Feed and Flush are safe for concurrent use; overlapping flushes
// coalesce into a single pass.
type Segmenter struct {
	id       string
	cfg      Config
	classify vad.Classifier
	emit     func(Segment)
	now      func() float64

	frameBytes int

	mu           sync.Mutex
	flushing     bool
	pendingFlush bool

	inQueue []byte
	carry   []byte
	outbox  []Segment

	inSpeech       bool
	frames         []byte
	pendingSilence []byte
	startedTS      float64
	silenceSamples int
	lastActiveAt   float64
	nextIndex      uint32
}

// New creates a segmenter for one participant. emit is invoked synchronously
// from the flushing goroutine with each finalized segment.
func New(id string, cfg Config, classify vad.Classifier, emit func(Segment)) *Segmenter {
	return &Segmenter{
		id:         id,
		cfg:        cfg,
		classify:   classify,
		emit:       emit,
		now:        func() float64 { return float64(time.Now().UnixNano()) / float64(time.Second) },
		frameBytes: cfg.SampleRate * cfg.FrameMs / 1000 * 2,
	}
}

// SetClock overrides the wall clock. Tests use this to drive the silence-gap
// fallback deterministically.
func (s *Segmenter) SetClock(now func() float64) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// NextIndex returns the index the next emitted segment will carry.
func (s *Segmenter) NextIndex() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextIndex
}

// Feed queues normalized mono PCM bytes for the next flush pass.
func (s *Segmenter) Feed(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	s.mu.Lock()
	s.inQueue = append(s.inQueue, pcm...)
	s.mu.Unlock()
}

// Flush runs one segmentation pass over the queued audio and applies
// time-based finalization. If a flush is already running the call returns
// immediately and the running flush repeats its pass, so no queued audio is
// left behind. Finalized segments are delivered to the emit callback with no
// internal lock held, so the callback may call back into the segmenter. The
// only possible error is a classifier failure, which the session treats as
// fatal.
func (s *Segmenter) Flush() error {
	s.mu.Lock()
	if s.flushing {
		s.pendingFlush = true
		s.mu.Unlock()
		return nil
	}
	s.flushing = true
	for {
		err := s.flushLocked()
		again := err == nil && s.pendingFlush
		s.pendingFlush = false
		if !again {
			s.flushing = false
		}
		out := s.outbox
		s.outbox = nil
		s.mu.Unlock()

		for _, seg := range out {
			if s.emit != nil {
				s.emit(seg)
			}
		}
		if !again {
			return err
		}
		s.mu.Lock()
	}
}

// flushLocked performs one pass. Caller holds s.mu.
func (s *Segmenter) flushLocked() error {
	work := s.carry
	if len(s.inQueue) > 0 {
		work = append(work, s.inQueue...)
		s.inQueue = nil
	}

	processed := 0
	for len(work)-processed >= s.frameBytes {
		frame := work[processed : processed+s.frameBytes]
		processed += s.frameBytes

		active, err := s.classify.Classify(frame, s.cfg.SampleRate)
		if err != nil {
			s.carry = append([]byte(nil), work[processed:]...)
			return err
		}
		if active {
			s.lastActiveAt = s.now()
		}

		switch {
		case active && !s.inSpeech:
			s.inSpeech = true
			s.startedTS = s.now()
			s.frames = append(s.frames, frame...)
		case active && s.inSpeech:
			if len(s.pendingSilence) > 0 {
				if s.durationMs()+s.silentMs()+s.cfg.FrameMs > s.cfg.MaxSegmentMs {
					// Stitching the buffered silence would blow the length
					// cap: close the segment on its last active frame and
					// open a new one with this frame.
					s.finalize()
					s.inSpeech = true
					s.startedTS = s.now()
				} else {
					s.frames = append(s.frames, s.pendingSilence...)
				}
				s.pendingSilence = s.pendingSilence[:0]
			}
			s.silenceSamples = 0
			s.frames = append(s.frames, frame...)
		case !active && s.inSpeech:
			s.pendingSilence = append(s.pendingSilence, frame...)
			s.silenceSamples += s.frameBytes / 2
		default:
			// Silence outside a segment: drop.
		}

		if s.inSpeech {
			s.maybeFinalize(s.silentMs(), s.durationMs())
		}
	}

	// Unprocessed tail becomes the new carry.
	s.carry = append([]byte(nil), work[processed:]...)

	// Time-based finalization: if no audio arrived this pass the platform has
	// stopped delivering packets, so fall back to the wall clock, measured
	// from the last active frame so processed trailing silence still counts.
	if s.inSpeech {
		silentMs := s.silentMs()
		if processed == 0 {
			if wall := int((s.now() - s.lastActiveAt) * 1000); wall > silentMs {
				silentMs = wall
			}
		}
		s.maybeFinalize(silentMs, s.durationMs())
	}
	return nil
}

func (s *Segmenter) durationMs() int {
	return len(s.frames) / 2 * 1000 / s.cfg.SampleRate
}

func (s *Segmenter) silentMs() int {
	return s.silenceSamples * 1000 / s.cfg.SampleRate
}

// maybeFinalize applies the finalization rules: the length cap always
// finalizes, a silence gap finalizes once the minimum length is met, and a
// silence gap under the minimum length drops the segment entirely.
func (s *Segmenter) maybeFinalize(silentMs, durMs int) {
	switch {
	case durMs >= s.cfg.MaxSegmentMs:
		s.finalize()
	case silentMs >= s.cfg.SilenceGapMs:
		if durMs >= s.cfg.MinSegmentMs {
			s.finalize()
		} else {
			s.resetSpeech()
		}
	}
}

// finalize queues the accumulated segment for delivery. The accumulator ends
// on an active frame by construction (buffered silence is only stitched in
// when speech resumes), so no trailing trim is needed beyond discarding
// pendingSilence.
func (s *Segmenter) finalize() {
	samples := len(s.frames) / 2
	s.outbox = append(s.outbox, Segment{
		ParticipantID: s.id,
		Index:         s.nextIndex,
		StartedTS:     s.startedTS,
		CapturedTS:    s.startedTS + float64(samples)/float64(s.cfg.SampleRate),
		DurationMS:    uint32(samples * 1000 / s.cfg.SampleRate),
		PCM:           append([]byte(nil), s.frames...),
	})
	s.nextIndex++
	s.resetSpeech()
}

// resetSpeech clears all speech state but retains carry and nextIndex.
func (s *Segmenter) resetSpeech() {
	s.inSpeech = false
	s.frames = nil
	s.pendingSilence = nil
	s.startedTS = 0
	s.silenceSamples = 0
}
