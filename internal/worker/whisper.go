// This file contains the Engine implementation backed by the whisper.cpp
// CGO bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

const defaultLanguage = "en"

// Compile-time assertion that WhisperEngine satisfies Engine.
var _ Engine = (*WhisperEngine)(nil)

// WhisperEngine runs whisper.cpp inference. The model is loaded once and
// shared; each job gets a fresh context, since contexts are not thread-safe
// but the model is.
type WhisperEngine struct {
	model    whisperlib.Model
	language string
}

// WhisperOption is a functional option for configuring a [WhisperEngine].
type WhisperOption func(*WhisperEngine)

// WithLanguage sets the BCP-47 language code for transcription. Defaults to
// "en".
func WithLanguage(lang string) WhisperOption {
	return func(e *WhisperEngine) { e.language = lang }
}

// NewWhisper loads the whisper.cpp model from modelPath. Call
// [WhisperEngine.Close] when the engine is no longer needed.
func NewWhisper(modelPath string, opts ...WhisperOption) (*WhisperEngine, error) {
	if modelPath == "" {
		return nil, errors.New("worker: model path must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("worker: load model %q: %w", modelPath, err)
	}
	e := &WhisperEngine{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Close releases the model.
func (e *WhisperEngine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Transcribe implements [Engine].
func (e *WhisperEngine) Transcribe(ctx context.Context, pcm []byte, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("worker: create whisper context: %w", err)
	}
	if err := wctx.SetLanguage(e.language); err != nil {
		slog.Warn("worker: failed to set language, using default", "language", e.language, "error", err)
	}
	if prompt != "" {
		wctx.SetInitialPrompt(prompt)
	}

	if err := wctx.Process(pcmToFloat32(pcm), nil, nil, nil); err != nil {
		return "", fmt.Errorf("worker: process audio: %w", err)
	}

	var parts []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("worker: read segment: %w", err)
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// pcmToFloat32 converts little-endian int16 PCM to the normalized float32
// samples whisper.cpp consumes. A trailing odd byte is ignored.
func pcmToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}
