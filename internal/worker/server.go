package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hwittich/scrivener/internal/asr"
	"github.com/hwittich/scrivener/internal/observe"
)

// Server accepts pipeline connections and answers segment jobs. Jobs on one
// connection are processed sequentially, which guarantees the per-participant
// FIFO ordering the protocol requires.
type Server struct {
	engine Engine
}

// NewServer wraps an engine.
func NewServer(engine Engine) *Server {
	return &Server{engine: engine}
}

// ServeHTTP upgrades the request to a WebSocket and serves jobs until the
// peer disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("worker: accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "serve loop exited")

	slog.Info("worker: client connected", "remote", r.RemoteAddr)
	s.serve(r.Context(), conn)
	slog.Info("worker: client disconnected", "remote", r.RemoteAddr)
}

func (s *Server) serve(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg asr.SegmentMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != asr.TypeSegment || msg.V != asr.ProtoVersion {
			s.reply(ctx, conn, errorMessage("bad_request", "expected an audio.segment message", nil))
			continue
		}

		pcm, err := base64.StdEncoding.DecodeString(msg.DataB64)
		if err != nil {
			s.reply(ctx, conn, errorMessage("bad_request", "data_b64 is not valid base64", details(msg)))
			continue
		}

		s.transcribe(ctx, conn, msg, pcm)
	}
}

// transcribe runs one job under its own span and writes the reply.
func (s *Server) transcribe(ctx context.Context, conn *websocket.Conn, msg asr.SegmentMessage, pcm []byte) {
	jobCtx, span := observe.StartSpan(ctx, "worker.transcribe", trace.WithAttributes(
		attribute.String("segment.id", msg.ID),
		attribute.Int("segment.index", int(msg.Index)),
		attribute.Int("segment.pcm_bytes", len(pcm)),
	))
	defer span.End()

	text, err := s.engine.Transcribe(jobCtx, pcm, msg.Prompt)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		observe.Logger(jobCtx).Warn("worker: transcription failed", "id", msg.ID, "index", msg.Index, "error", err)
		s.reply(ctx, conn, errorMessage("transcription_failed", err.Error(), details(msg)))
		return
	}

	s.reply(ctx, conn, asr.Transcription{
		V:         asr.ProtoVersion,
		Type:      asr.TypeTranscription,
		ID:        msg.ID,
		Text:      text,
		CaptureTS: msg.CaptureTS,
		EndTS:     float64(time.Now().UnixNano()) / float64(time.Second),
	})
}

func (s *Server) reply(ctx context.Context, conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("worker: marshal reply", "error", err)
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Warn("worker: write reply failed", "error", err)
	}
}

func errorMessage(code, message string, details map[string]any) asr.WorkerError {
	return asr.WorkerError{
		V:       asr.ProtoVersion,
		Type:    asr.TypeError,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func details(msg asr.SegmentMessage) map[string]any {
	return map[string]any{"id": msg.ID, "index": msg.Index}
}
