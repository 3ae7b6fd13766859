// Package worker implements the reference speech-recognition worker: a
// WebSocket server speaking the pipeline's job protocol, backed by a
// pluggable transcription engine (whisper.cpp in production).
package worker

import "context"

// Engine transcribes one finalized segment of mono 16 kHz 16-bit LE PCM.
// prompt is an optional decoding hint. Implementations must be safe for
// concurrent use across connections.
type Engine interface {
	Transcribe(ctx context.Context, pcm []byte, prompt string) (string, error)
}
