package asr

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// Default transport parameters.
const (
	defaultQueueSize      = 64
	defaultReconnectDelay = 3 * time.Second
)

// ClientConfig configures a [Client].
type ClientConfig struct {
	// URL is the worker WebSocket endpoint.
	URL string

	// QueueSize bounds the outbound queue. When full, new segments are
	// dropped with a warning. Defaults to 64 if zero.
	QueueSize int

	// ReconnectDelay is the fixed backoff between reconnection attempts.
	// Defaults to 3s if zero.
	ReconnectDelay time.Duration

	// OnTranscription is called from the receive loop for each transcription.
	OnTranscription func(Transcription)

	// OnWorkerError is called for each non-fatal worker error. May be nil.
	OnWorkerError func(WorkerError)

	// OnDrop is called whenever an outbound segment is discarded (queue full
	// or transport down). May be nil; used for metrics.
	OnDrop func()
}

// Client is a reconnecting message transport to one ASR worker endpoint.
//
// The client maintains exactly one logical connection. On disconnect it
// retries with a fixed backoff while the session is active; segments queued
// or in flight at disconnect time are dropped, never resubmitted. Missing
// transcriptions show up as index gaps in the session log, which downstream
// consumers tolerate.
type Client struct {
	cfg       ClientConfig
	sendCh    chan SegmentMessage
	done      chan struct{}
	stopOnce  sync.Once
	connected atomic.Bool

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient creates a transport for the given worker endpoint. Call
// [Client.Start] to begin connecting.
func NewClient(cfg ClientConfig) *Client {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	return &Client{
		cfg:    cfg,
		sendCh: make(chan SegmentMessage, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// Start launches the connection loop in a background goroutine. The loop
// runs until [Client.Stop] is called or ctx is cancelled.
func (c *Client) Start(ctx context.Context) {
	go c.run(ctx)
}

// Send enqueues a segment for transmission. Best effort: when the transport
// is down or the queue is full the segment is dropped with a warning. The
// session log stays consistent either way; the transcription simply never
// arrives.
func (c *Client) Send(msg SegmentMessage) {
	if !c.connected.Load() {
		slog.Warn("asr: transport down, dropping segment", "id", msg.ID, "index", msg.Index)
		c.noteDrop()
		return
	}
	select {
	case c.sendCh <- msg:
	default:
		slog.Warn("asr: outbound queue full, dropping segment", "id", msg.ID, "index", msg.Index)
		c.noteDrop()
	}
}

// Stop closes the transport. Queued and in-flight segments are dropped.
// Safe to call multiple times.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close(websocket.StatusNormalClosure, "session stopped")
		}
		c.mu.Unlock()
	})
}

func (c *Client) noteDrop() {
	if c.cfg.OnDrop != nil {
		c.cfg.OnDrop()
	}
}

// run dials, serves, and redials until stopped. Each failed connection
// cycle drains the outbound queue so stale segments are not replayed onto a
// fresh connection.
func (c *Client) run(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
		if err != nil {
			slog.Warn("asr: dial failed, retrying", "url", c.cfg.URL, "error", err)
			c.drainQueue()
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.connected.Store(true)
		slog.Info("asr: connected", "url", c.cfg.URL)

		err = c.serve(ctx, conn)
		c.connected.Store(false)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		c.drainQueue()

		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}
		slog.Warn("asr: disconnected, reconnecting", "error", err)
		if !c.sleep(ctx) {
			return
		}
	}
}

// serve runs one connection: a write pump goroutine plus the inline read
// loop. Returns when either side fails or the client stops.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeErr := make(chan error, 1)
	go func() {
		for {
			select {
			case <-connCtx.Done():
				return
			case <-c.done:
				cancel()
				return
			case msg := <-c.sendCh:
				data, err := json.Marshal(msg)
				if err != nil {
					writeErr <- err
					cancel()
					return
				}
				if err := conn.Write(connCtx, websocket.MessageText, data); err != nil {
					writeErr <- err
					cancel()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.Read(connCtx)
		if err != nil {
			select {
			case werr := <-writeErr:
				return werr
			default:
			}
			return err
		}

		msg, err := DecodeInbound(data)
		if err != nil {
			if errors.Is(err, ErrProtocolViolation) {
				slog.Warn("asr: protocol violation, cycling connection", "error", err)
				conn.Close(websocket.StatusProtocolError, "protocol violation")
				return err
			}
			return err
		}

		switch m := msg.(type) {
		case Transcription:
			if c.cfg.OnTranscription != nil {
				c.cfg.OnTranscription(m)
			}
		case WorkerError:
			slog.Warn("asr: worker reported job failure", "code", m.Code, "message", m.Message)
			if c.cfg.OnWorkerError != nil {
				c.cfg.OnWorkerError(m)
			}
		}
	}
}

// drainQueue discards everything queued while the transport was down.
func (c *Client) drainQueue() {
	for {
		select {
		case msg := <-c.sendCh:
			slog.Warn("asr: dropping queued segment after disconnect", "id", msg.ID, "index", msg.Index)
			c.noteDrop()
		default:
			return
		}
	}
}

// sleep waits one reconnect delay. Returns false if the client stopped.
func (c *Client) sleep(ctx context.Context) bool {
	t := time.NewTimer(c.cfg.ReconnectDelay)
	defer t.Stop()
	select {
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
