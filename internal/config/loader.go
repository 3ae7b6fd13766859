package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hwittich/scrivener/pkg/vad"
)

// Load reads the YAML configuration file at path, applies defaults, and
// returns a validated [Config]. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.Session.Name == "" {
		errs = append(errs, errors.New("session.name is required"))
	} else if strings.ContainsAny(cfg.Session.Name, `/\`) {
		errs = append(errs, fmt.Errorf("session.name %q must not contain path separators", cfg.Session.Name))
	}

	if _, err := vad.ParseMode(cfg.Audio.WebRTCVADMode); err != nil {
		errs = append(errs, fmt.Errorf("audio.webrtc_vad_mode: %w", err))
	}
	if cfg.Audio.VADThresholdDB > 0 {
		errs = append(errs, fmt.Errorf("audio.vad_db_threshold %.1f must be negative (dBFS)", cfg.Audio.VADThresholdDB))
	}
	if cfg.Audio.VADFrameMs != 10 && cfg.Audio.VADFrameMs != 20 && cfg.Audio.VADFrameMs != 30 {
		errs = append(errs, fmt.Errorf("audio.vad_frame_ms %d is invalid; valid values: 10, 20, 30", cfg.Audio.VADFrameMs))
	}
	if cfg.Audio.MinSegmentMs > cfg.Audio.MaxSegmentMs {
		errs = append(errs, fmt.Errorf("audio.min_segment_ms %d exceeds audio.max_segment_ms %d", cfg.Audio.MinSegmentMs, cfg.Audio.MaxSegmentMs))
	}
	if cfg.Audio.SilenceGapMs < cfg.Audio.VADFrameMs {
		errs = append(errs, fmt.Errorf("audio.silence_gap_ms %d is shorter than one frame (%d ms)", cfg.Audio.SilenceGapMs, cfg.Audio.VADFrameMs))
	}

	if cfg.ASR.ServiceURL == "" {
		errs = append(errs, errors.New("asr.ai_service_url is required"))
	} else if !strings.HasPrefix(cfg.ASR.ServiceURL, "ws://") && !strings.HasPrefix(cfg.ASR.ServiceURL, "wss://") {
		errs = append(errs, fmt.Errorf("asr.ai_service_url %q must be a ws:// or wss:// URL", cfg.ASR.ServiceURL))
	}
	if cfg.ASR.ContextWords < 0 {
		errs = append(errs, fmt.Errorf("asr.asr_context_words %d must not be negative", cfg.ASR.ContextWords))
	}

	if cfg.Transcript.MaxSingleWordRepeats < 0 {
		errs = append(errs, fmt.Errorf("transcript.max_single_word_repeats %d must not be negative", cfg.Transcript.MaxSingleWordRepeats))
	}

	switch cfg.Wrapup.Provider {
	case "", "openai", "anthropic", "gemini", "ollama":
	default:
		errs = append(errs, fmt.Errorf("wrapup.provider %q is invalid; valid values: openai, anthropic, gemini, ollama", cfg.Wrapup.Provider))
	}
	if cfg.Wrapup.Provider != "" && cfg.Wrapup.Model == "" {
		errs = append(errs, fmt.Errorf("wrapup.model is required when wrapup.provider is set"))
	}

	// Discord bindings are checked here only loosely: the worker process
	// shares the config file and never touches the gateway.
	if cfg.Discord.Token == "" {
		slog.Warn("discord.token is empty; the bot process will refuse to start")
	}

	// Soft issues the operator should know about but that do not stop startup.
	if cfg.Archive.PostgresDSN == "" {
		slog.Info("archive.postgres_dsn is empty; transcripts will only be kept in the session log")
	}
	if cfg.Wrapup.Provider == "" {
		slog.Info("wrapup.provider is empty; no end-of-session summary will be generated")
	}

	return errors.Join(errs...)
}
