// Command scrivener is the Discord recording bot: it captures a voice
// channel, segments speech per participant, streams segments to the
// transcription worker, and writes the session log.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hwittich/scrivener/internal/archive"
	"github.com/hwittich/scrivener/internal/asr"
	"github.com/hwittich/scrivener/internal/config"
	discordbot "github.com/hwittich/scrivener/internal/discord"
	"github.com/hwittich/scrivener/internal/observe"
	"github.com/hwittich/scrivener/internal/session"
	"github.com/hwittich/scrivener/internal/sessionlog"
	"github.com/hwittich/scrivener/internal/transcript"
	"github.com/hwittich/scrivener/internal/wrapup"
	"github.com/hwittich/scrivener/pkg/vad"
	webrtcvad "github.com/hwittich/scrivener/pkg/vad/webrtc"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

// pipelineHandle lets the Discord adapter be constructed before the
// coordinator it feeds: the bot provides the name directory the coordinator
// needs, and the coordinator provides the pipeline the bot needs.
type pipelineHandle struct {
	coord *session.Coordinator
}

func (h *pipelineHandle) IngestStereo48(id string, pcm []byte) { h.coord.IngestStereo48(id, pcm) }
func (h *pipelineHandle) FlushAll()                            { h.coord.FlushAll() }
func (h *pipelineHandle) LogText(userID, displayName string, createdTS float64, text string) {
	h.coord.LogText(userID, displayName, createdTS, text)
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "scrivener: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "scrivener: %v\n", err)
		}
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel.SlogLevel()}))
	slog.SetDefault(logger)

	slog.Info("scrivener starting",
		"version", version,
		"config", *configPath,
		"session", cfg.Session.Name,
		"log_level", cfg.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "scrivener",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				slog.Warn("metrics listener stopped", "err", err)
			}
		}()
	}

	// ── Discord adapter ───────────────────────────────────────────────────────
	handle := &pipelineHandle{}
	bot, err := discordbot.New(discordbot.Config{
		Token:          cfg.Discord.Token,
		GuildID:        cfg.Discord.GuildID,
		VoiceChannelID: cfg.Discord.VoiceChannelID,
		TextChannelID:  cfg.Discord.TextChannelID,
	}, handle)
	if err != nil {
		slog.Error("failed to create Discord bot", "err", err)
		return 1
	}

	// ── Worker transport ──────────────────────────────────────────────────────
	client := asr.NewClient(asr.ClientConfig{
		URL:             cfg.ASR.ServiceURL,
		OnTranscription: func(tr asr.Transcription) { handle.coord.HandleTranscription(tr) },
		OnWorkerError:   func(we asr.WorkerError) { handle.coord.HandleWorkerError(we) },
		OnDrop:          func() { metrics.DroppedSends.Add(ctx, 1) },
	})

	// ── Optional archive ──────────────────────────────────────────────────────
	var archiver session.Archiver
	if cfg.Archive.PostgresDSN != "" {
		pg, err := archive.New(ctx, cfg.Archive.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect transcript archive", "err", err)
			return 1
		}
		defer pg.Close()
		archiver = pg
		slog.Info("transcript archive connected")
	}

	// ── Transcript correction ─────────────────────────────────────────────────
	correctorOpts := []transcript.Option{
		transcript.WithGlossary(cfg.Transcript.Glossary),
		transcript.WithMaxRepeats(cfg.Transcript.MaxSingleWordRepeats),
	}
	if !*cfg.Transcript.DropRepeatedOnly {
		correctorOpts = append(correctorOpts, transcript.WithKeepRepeatedOnly())
	}

	// ── Session coordinator ───────────────────────────────────────────────────
	mode, _ := vad.ParseMode(cfg.Audio.WebRTCVADMode)
	vadCfg := cfg.VADConfig()
	coord, err := session.New(session.Config{
		Name:          cfg.Session.Name,
		DataDir:       cfg.Session.DataDir,
		BasePrompt:    cfg.ASR.Prompt,
		ContextWords:  cfg.ASR.ContextWords,
		FlushInterval: config.FlushInterval,
		Segmenter:     cfg.SegmenterConfig(),
	}, session.Deps{
		Transport: client,
		NewClassifier: func() (vad.Classifier, error) {
			confirm, err := webrtcvad.New(mode)
			if err != nil {
				return nil, err
			}
			return vad.NewGate(vadCfg, confirm)
		},
		Directory: bot.Directory(),
		Corrector: transcript.New(correctorOpts...),
		Archive:   archiver,
		Metrics:   metrics,
		OnFatal: func(err error) {
			slog.Error("unrecoverable session error", "err", err)
			stop()
		},
	})
	if err != nil {
		slog.Error("failed to initialise session", "err", err)
		return 1
	}
	handle.coord = coord

	if err := coord.Start(ctx); err != nil {
		slog.Error("failed to start session", "err", err)
		return 1
	}

	slog.Info("session recording", "dir", coord.Dir(), "worker", cfg.ASR.ServiceURL)

	// ── Capture until shutdown ────────────────────────────────────────────────
	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("discord bot error", "err", err)
	}

	slog.Info("shutdown signal received, stopping…")

	// Flush trailing audio, then give in-flight transcriptions a moment to
	// land before the transport closes.
	coord.FlushAll()
	time.Sleep(2 * time.Second)
	coord.Stop()

	// ── Wrap-up summary ───────────────────────────────────────────────────────
	if cfg.Wrapup.Provider != "" {
		if err := writeWrapup(cfg, coord.LogPath(), coord.Dir()); err != nil {
			slog.Error("wrap-up generation failed", "err", err)
			return 1
		}
	}

	slog.Info("goodbye")
	return 0
}

// writeWrapup summarises the finished session log into wrapup.md.
func writeWrapup(cfg *config.Config, logPath, dir string) error {
	entries, err := sessionlog.Read(logPath)
	if err != nil {
		return fmt.Errorf("read session log: %w", err)
	}
	if len(entries) == 0 {
		slog.Info("session log is empty; skipping wrap-up")
		return nil
	}

	gen, err := wrapup.NewAnyLLM(cfg.Wrapup.Provider, cfg.Wrapup.Model)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	md, err := wrapup.NewSummariser(gen).Summarise(ctx, entries)
	if err != nil {
		return err
	}
	if err := wrapup.WriteFile(dir, md); err != nil {
		return err
	}
	slog.Info("wrap-up written", "provider", cfg.Wrapup.Provider, "model", cfg.Wrapup.Model, "entries", len(entries))
	return nil
}
