// Package asr implements the client side of the speech-recognition worker
// protocol: the wire message types and a reconnecting WebSocket transport.
//
// The protocol is versioned JSON text frames. The pipeline submits
// "audio.segment" messages and the worker answers with "transcription" or
// "error" messages, preserving FIFO order per participant id.
package asr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtoVersion is the protocol version carried in every message.
const ProtoVersion = 1

// Message type discriminators.
const (
	TypeSegment       = "audio.segment"
	TypeTranscription = "transcription"
	TypeError         = "error"
)

// ErrProtocolViolation is returned when an inbound frame does not parse into
// a known message. The transport reacts by closing and reopening the
// connection; no data is committed.
var ErrProtocolViolation = errors.New("asr: protocol violation")

// PCMFormat describes the raw audio encoding of a submitted segment.
type PCMFormat struct {
	SampleRate  int `json:"sr"`
	Channels    int `json:"channels"`
	SampleWidth int `json:"sample_width"`
}

// SegmentMessage is the outbound "audio.segment" job. DataB64 carries the
// segment PCM as standard base64.
type SegmentMessage struct {
	V         int       `json:"v"`
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Index     uint32    `json:"index"`
	PCMFormat PCMFormat `json:"pcm_format"`
	StartedTS float64   `json:"started_ts"`
	CaptureTS float64   `json:"capture_ts"`
	DataB64   string    `json:"data_b64"`
	Prompt    string    `json:"prompt,omitempty"`
}

// Transcription is the worker's answer for a submitted segment. Correlation
// is by ID with per-ID FIFO arrival order.
type Transcription struct {
	V         int     `json:"v"`
	Type      string  `json:"type"`
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	CaptureTS float64 `json:"capture_ts"`
	EndTS     float64 `json:"end_ts"`
}

// WorkerError is a non-fatal per-job failure reported by the worker. It is
// surfaced to the session and logged; the connection stays open.
type WorkerError struct {
	V       int            `json:"v"`
	Type    string         `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface so worker errors can be logged and
// wrapped like any other failure.
func (e WorkerError) Error() string {
	return fmt.Sprintf("asr worker: %s: %s", e.Code, e.Message)
}

// envelope is the discriminator prefix every inbound frame must carry.
type envelope struct {
	V    int    `json:"v"`
	Type string `json:"type"`
}

// DecodeInbound parses one inbound frame into either a [Transcription] or a
// [WorkerError]. Unknown types, version mismatches, and malformed JSON all
// return [ErrProtocolViolation].
func DecodeInbound(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	if env.V != ProtoVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrProtocolViolation, env.V, ProtoVersion)
	}
	switch env.Type {
	case TypeTranscription:
		var msg Transcription
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: transcription: %v", ErrProtocolViolation, err)
		}
		return msg, nil
	case TypeError:
		var msg WorkerError
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: error message: %v", ErrProtocolViolation, err)
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrProtocolViolation, env.Type)
	}
}
