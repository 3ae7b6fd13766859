// Package session wires the capture source to the transcription pipeline:
// normalization, per-participant segmentation, transport, display-name
// resolution, the rolling prompt context, and the session log.
package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hwittich/scrivener/internal/asr"
	"github.com/hwittich/scrivener/internal/observe"
	"github.com/hwittich/scrivener/internal/segment"
	"github.com/hwittich/scrivener/internal/sessionlog"
	"github.com/hwittich/scrivener/internal/transcript"
	"github.com/hwittich/scrivener/pkg/audio"
	"github.com/hwittich/scrivener/pkg/vad"
)

const defaultFlushInterval = time.Second

// Transport ships finalized segments to the recognition worker. The
// production implementation is [asr.Client].
type Transport interface {
	Start(ctx context.Context)
	Send(asr.SegmentMessage)
	Stop()
}

// Archiver mirrors committed entries into external storage. Best-effort;
// failures never affect the session log.
type Archiver interface {
	WriteEntry(ctx context.Context, sessionName string, e sessionlog.Entry) error
}

// Config holds the per-session settings.
type Config struct {
	// Name identifies the session; its data lives in DataDir/Name/.
	Name string

	// DataDir is the root directory for session data.
	DataDir string

	// BasePrompt is prepended to every outbound segment prompt.
	BasePrompt string

	// ContextWords caps the rolling prompt context. Default: 40.
	ContextWords int

	// FlushInterval drives the background segmenter flush. Default: 1s.
	FlushInterval time.Duration

	// Segmenter holds the segmentation tunables shared by all participants.
	Segmenter segment.Config
}

// Deps are the coordinator's collaborators.
type Deps struct {
	// Transport is required.
	Transport Transport

	// NewClassifier builds a fresh voice classifier per participant (the
	// WebRTC stage carries adaptive state). Required.
	NewClassifier func() (vad.Classifier, error)

	// Directory resolves display names. May be nil.
	Directory Directory

	// Corrector post-processes transcriptions. May be nil.
	Corrector *transcript.Corrector

	// Archive mirrors entries to external storage. May be nil.
	Archive Archiver

	// Metrics records pipeline instruments. May be nil.
	Metrics *observe.Metrics

	// OnFatal is invoked for unrecoverable failures (log write errors,
	// classifier wiring errors). When nil, the process exits: the session
	// log is a consistency boundary and must not silently diverge.
	OnFatal func(error)
}

// Coordinator owns one session's pipeline state. All exported methods are
// safe for concurrent use.
type Coordinator struct {
	cfg  Config
	deps Deps

	names  *NameCache
	prompt *PromptContext
	writer *sessionlog.Writer

	mu         sync.Mutex
	segmenters map[string]*segment.Segmenter

	ctx      context.Context
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a coordinator. Call [Coordinator.Start] before ingesting audio.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("session: name must not be empty")
	}
	if deps.Transport == nil {
		return nil, fmt.Errorf("session: transport must not be nil")
	}
	if deps.NewClassifier == nil {
		return nil, fmt.Errorf("session: classifier factory must not be nil")
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.Segmenter.SampleRate == 0 {
		cfg.Segmenter = segment.DefaultConfig()
	}
	return &Coordinator{
		cfg:        cfg,
		deps:       deps,
		names:      NewNameCache(deps.Directory),
		prompt:     NewPromptContext(cfg.ContextWords),
		segmenters: make(map[string]*segment.Segmenter),
		ctx:        context.Background(),
		done:       make(chan struct{}),
	}, nil
}

// LogPath returns the session log file path.
func (c *Coordinator) LogPath() string {
	return filepath.Join(c.Dir(), "log.jsonl")
}

// Dir returns the session data directory.
func (c *Coordinator) Dir() string {
	return filepath.Join(c.cfg.DataDir, c.cfg.Name)
}

// Start opens the session log, starts the transport, and launches the
// background flusher.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := os.MkdirAll(c.Dir(), 0o755); err != nil {
		return fmt.Errorf("session: create data dir: %w", err)
	}
	w, err := sessionlog.NewWriter(c.LogPath())
	if err != nil {
		return fmt.Errorf("session: open log: %w", err)
	}
	c.writer = w
	c.ctx = ctx

	c.deps.Transport.Start(ctx)
	go c.flushLoop(ctx)

	slog.Info("session: started", "name", c.cfg.Name, "dir", c.Dir())
	return nil
}

// IngestStereo48 accepts interleaved stereo 48 kHz 16-bit LE samples for one
// participant, normalizes them, and runs a segmentation pass. It also kicks
// off an asynchronous display-name resolution for the participant.
func (c *Coordinator) IngestStereo48(participantID string, pcm []byte) {
	c.names.Prefetch(c.ctx, participantID)

	mono, err := audio.NormalizeStereo48(pcm)
	if err != nil {
		c.fatal(fmt.Errorf("session: normalize audio for %s: %w", participantID, err))
		return
	}

	seg := c.segmenter(participantID)
	if seg == nil {
		return
	}
	seg.Feed(mono)
	if err := seg.Flush(); err != nil {
		c.fatal(fmt.Errorf("session: segment %s: %w", participantID, err))
	}
}

// FlushAll runs a segmentation pass for every participant. Idempotent; the
// capture platform invokes it on speaking-stopped signals.
func (c *Coordinator) FlushAll() {
	c.mu.Lock()
	segs := make([]*segment.Segmenter, 0, len(c.segmenters))
	for _, s := range c.segmenters {
		segs = append(segs, s)
	}
	c.mu.Unlock()

	for _, s := range segs {
		if err := s.Flush(); err != nil {
			c.fatal(fmt.Errorf("session: flush: %w", err))
			return
		}
	}
}

// HandleTranscription commits a worker transcription to the session log.
// Wire it to the transport's OnTranscription callback.
func (c *Coordinator) HandleTranscription(tr asr.Transcription) {
	select {
	case <-c.done:
		// Session stopped; late arrivals are discarded.
		return
	default:
	}

	text := tr.Text
	if c.deps.Corrector != nil {
		cleaned, keep := c.deps.Corrector.Correct(text)
		if !keep {
			slog.Debug("session: transcription discarded by corrector", "id", tr.ID)
			return
		}
		text = cleaned
	}
	if strings.TrimSpace(text) == "" {
		return
	}

	entry := sessionlog.Entry{
		UserID:      tr.ID,
		DisplayName: c.names.Resolve(tr.ID),
		StartTS:     tr.CaptureTS,
		EndTS:       tr.EndTS,
		Origin:      sessionlog.OriginVoice,
		Text:        text,
	}
	c.commit(entry)
	c.prompt.Push(text)

	if c.deps.Metrics != nil {
		latency := float64(time.Now().UnixNano())/float64(time.Second) - tr.CaptureTS
		if latency > 0 {
			c.deps.Metrics.TranscriptionLatency.Record(c.ctx, latency)
		}
	}
}

// HandleWorkerError is wired to the transport's OnWorkerError callback. The
// affected segment simply never reaches the log; its index stays as a gap.
func (c *Coordinator) HandleWorkerError(we asr.WorkerError) {
	slog.Debug("session: worker error acknowledged", "code", we.Code)
}

// LogText commits a chat message to the session log and feeds the prompt
// context.
func (c *Coordinator) LogText(userID, displayName string, createdTS float64, text string) {
	select {
	case <-c.done:
		return
	default:
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	c.commit(sessionlog.Entry{
		UserID:      userID,
		DisplayName: displayName,
		StartTS:     createdTS,
		EndTS:       createdTS,
		Origin:      sessionlog.OriginText,
		Text:        text,
	})
	c.prompt.Push(text)
}

// Stop finalizes remaining audio, stops the transport, and closes the log.
// Safe to call multiple times.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.FlushAll()
		close(c.done)
		c.deps.Transport.Stop()
		if c.writer != nil {
			if err := c.writer.Close(); err != nil {
				slog.Error("session: close log", "error", err)
			}
		}
		slog.Info("session: stopped", "name", c.cfg.Name)
	})
}

// commit appends one entry; any write failure is fatal to the session.
func (c *Coordinator) commit(entry sessionlog.Entry) {
	if c.writer == nil {
		c.fatal(fmt.Errorf("session: entry for %s before Start", entry.UserID))
		return
	}
	if err := c.writer.Append(entry); err != nil {
		c.fatal(err)
		return
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordLogEntry(c.ctx, entry.Origin)
	}
	if c.deps.Archive != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.deps.Archive.WriteEntry(ctx, c.cfg.Name, entry); err != nil {
				slog.Warn("session: archive write failed", "error", err)
			}
		}()
	}
}

// segmenter returns the per-participant segmenter, creating it on first use.
func (c *Coordinator) segmenter(id string) *segment.Segmenter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.segmenters[id]; ok {
		return s
	}
	cls, err := c.deps.NewClassifier()
	if err != nil {
		c.fatal(fmt.Errorf("session: create classifier for %s: %w", id, err))
		return nil
	}
	s := segment.New(id, c.cfg.Segmenter, cls, c.onSegment)
	c.segmenters[id] = s
	if c.deps.Metrics != nil {
		c.deps.Metrics.ActiveParticipants.Add(c.ctx, 1)
	}
	slog.Info("session: participant joined pipeline", "id", id)
	return s
}

// onSegment snapshots the prompt onto the finalized segment and hands it to
// the transport.
func (c *Coordinator) onSegment(seg segment.Segment) {
	seg.Prompt = c.promptForNextSegment()

	if c.deps.Metrics != nil {
		c.deps.Metrics.SegmentsEmitted.Add(c.ctx, 1)
	}
	c.deps.Transport.Send(asr.SegmentMessage{
		V:     asr.ProtoVersion,
		Type:  asr.TypeSegment,
		ID:    seg.ParticipantID,
		Index: seg.Index,
		PCMFormat: asr.PCMFormat{
			SampleRate:  audio.TargetRate,
			Channels:    1,
			SampleWidth: 2,
		},
		StartedTS: seg.StartedTS,
		CaptureTS: seg.CapturedTS,
		DataB64:   base64.StdEncoding.EncodeToString(seg.PCM),
		Prompt:    seg.Prompt,
	})
}

// promptForNextSegment composes the configured base prompt with the rolling
// context window.
func (c *Coordinator) promptForNextSegment() string {
	ctxWords := c.prompt.Snapshot()
	switch {
	case c.cfg.BasePrompt == "":
		return ctxWords
	case ctxWords == "":
		return c.cfg.BasePrompt
	default:
		return c.cfg.BasePrompt + " " + ctxWords
	}
}

func (c *Coordinator) flushLoop(ctx context.Context) {
	t := time.NewTicker(c.cfg.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			c.FlushAll()
		}
	}
}

// fatal escalates an unrecoverable failure. Without an OnFatal hook the
// process exits: continuing would let the log silently diverge from the
// audio that produced it.
func (c *Coordinator) fatal(err error) {
	if c.deps.OnFatal != nil {
		c.deps.OnFatal(err)
		return
	}
	slog.Error("session: fatal", "error", err)
	os.Exit(1)
}
