package worker_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/hwittich/scrivener/internal/asr"
	"github.com/hwittich/scrivener/internal/worker"
)

// echoEngine labels each job with its byte count so tests can correlate.
type echoEngine struct{}

func (echoEngine) Transcribe(_ context.Context, pcm []byte, prompt string) (string, error) {
	if len(pcm) == 0 {
		return "", fmt.Errorf("empty audio")
	}
	return fmt.Sprintf("heard %d bytes prompt=%q", len(pcm), prompt), nil
}

func dialWorker(t *testing.T, engine worker.Engine) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(worker.NewServer(engine))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func sendJob(t *testing.T, conn *websocket.Conn, msg asr.SegmentMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(msg)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readReply(t *testing.T, conn *websocket.Conn) any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := asr.DecodeInbound(data)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return msg
}

func segJob(id string, index uint32, pcm []byte, prompt string) asr.SegmentMessage {
	return asr.SegmentMessage{
		V:         asr.ProtoVersion,
		Type:      asr.TypeSegment,
		ID:        id,
		Index:     index,
		PCMFormat: asr.PCMFormat{SampleRate: 16000, Channels: 1, SampleWidth: 2},
		CaptureTS: 100,
		DataB64:   base64.StdEncoding.EncodeToString(pcm),
		Prompt:    prompt,
	}
}

func TestServerTranscribesJobs(t *testing.T) {
	conn := dialWorker(t, echoEngine{})

	sendJob(t, conn, segJob("u1", 0, []byte{1, 0, 2, 0}, "hint"))
	tr, ok := readReply(t, conn).(asr.Transcription)
	if !ok {
		t.Fatal("reply is not a transcription")
	}
	if tr.ID != "u1" || tr.CaptureTS != 100 {
		t.Errorf("correlation fields = (%q, %v)", tr.ID, tr.CaptureTS)
	}
	if tr.Text != `heard 4 bytes prompt="hint"` {
		t.Errorf("text = %q", tr.Text)
	}
	if tr.EndTS <= tr.CaptureTS {
		t.Errorf("end_ts %v not after capture_ts %v", tr.EndTS, tr.CaptureTS)
	}
}

func TestServerPreservesFIFO(t *testing.T) {
	conn := dialWorker(t, echoEngine{})

	for i := range 5 {
		sendJob(t, conn, segJob("u1", uint32(i), []byte{byte(i + 1), 0}, ""))
	}
	for range 5 {
		tr, ok := readReply(t, conn).(asr.Transcription)
		if !ok {
			t.Fatal("reply is not a transcription")
		}
		if tr.ID != "u1" {
			t.Errorf("id = %q", tr.ID)
		}
	}
}

func TestServerReportsEngineFailure(t *testing.T) {
	conn := dialWorker(t, echoEngine{})

	sendJob(t, conn, segJob("u1", 0, nil, ""))
	we, ok := readReply(t, conn).(asr.WorkerError)
	if !ok {
		t.Fatal("reply is not a worker error")
	}
	if we.Code != "transcription_failed" {
		t.Errorf("code = %q", we.Code)
	}
	if we.Details["id"] != "u1" {
		t.Errorf("details = %v", we.Details)
	}
}

func TestServerRejectsMalformedJobs(t *testing.T) {
	conn := dialWorker(t, echoEngine{})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"v":1,"type":"nonsense"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	we, ok := readReply(t, conn).(asr.WorkerError)
	if !ok {
		t.Fatal("reply is not a worker error")
	}
	if we.Code != "bad_request" {
		t.Errorf("code = %q", we.Code)
	}

	// The connection survives a bad job.
	sendJob(t, conn, segJob("u1", 1, []byte{1, 0}, ""))
	if _, ok := readReply(t, conn).(asr.Transcription); !ok {
		t.Error("connection did not recover after malformed job")
	}
}
