package config_test

import (
	"strings"
	"testing"

	"github.com/hwittich/scrivener/internal/config"
)

const minimalYAML = `
session:
  name: campaign-12
asr:
  ai_service_url: ws://localhost:8126
`

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.LogLevel != config.LogInfo {
		t.Errorf("log level = %q, want info", cfg.LogLevel)
	}
	if cfg.Session.DataDir != "data" {
		t.Errorf("data dir = %q, want data", cfg.Session.DataDir)
	}
	if cfg.Audio.VADThresholdDB != -45 {
		t.Errorf("vad threshold = %v, want -45", cfg.Audio.VADThresholdDB)
	}
	if cfg.Audio.SilenceGapMs != 1250 || cfg.Audio.MinSegmentMs != 200 || cfg.Audio.MaxSegmentMs != 30000 {
		t.Errorf("segment defaults = %d/%d/%d", cfg.Audio.SilenceGapMs, cfg.Audio.MinSegmentMs, cfg.Audio.MaxSegmentMs)
	}
	if cfg.ASR.ContextWords != 40 {
		t.Errorf("context words = %d, want 40", cfg.ASR.ContextWords)
	}
	if cfg.Transcript.MaxSingleWordRepeats != 4 {
		t.Errorf("max repeats = %d, want 4", cfg.Transcript.MaxSingleWordRepeats)
	}
	if cfg.Transcript.DropRepeatedOnly == nil || !*cfg.Transcript.DropRepeatedOnly {
		t.Error("drop_repeated_only should default to true")
	}
	if cfg.Worker.ListenAddr != ":8126" || cfg.Worker.Language != "en" {
		t.Errorf("worker defaults = %q/%q", cfg.Worker.ListenAddr, cfg.Worker.Language)
	}
}

func TestLoadFullConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(`
log_level: debug
session:
  name: campaign-12
  data_dir: /var/lib/scrivener
discord:
  token: abc
  guild_id: "123"
  voice_channel_id: "456"
  text_channel_id: "789"
audio:
  vad_db_threshold: -40
  webrtc_vad_mode: very_aggressive
  silence_gap_ms: 900
asr:
  ai_service_url: wss://asr.internal:9000
  asr_prompt: "Dungeons and Dragons session"
  asr_context_words: 25
transcript:
  glossary: [Thornwood, Eldrinax]
  max_single_word_repeats: 3
  drop_repeated_only: false
wrapup:
  provider: anthropic
  model: claude-sonnet-4-5
archive:
  postgres_dsn: postgres://localhost/scrivener
worker:
  listen_addr: ":9100"
  model_path: models/ggml-base.en.bin
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Audio.VADThresholdDB != -40 || cfg.Audio.SilenceGapMs != 900 {
		t.Errorf("audio overrides not applied: %+v", cfg.Audio)
	}
	if cfg.Audio.MinSegmentMs != 200 {
		t.Errorf("unset audio field lost its default: %d", cfg.Audio.MinSegmentMs)
	}
	if *cfg.Transcript.DropRepeatedOnly {
		t.Error("drop_repeated_only=false was overridden by the default")
	}
	if len(cfg.Transcript.Glossary) != 2 {
		t.Errorf("glossary = %v", cfg.Transcript.Glossary)
	}
	seg := cfg.SegmenterConfig()
	if seg.SampleRate != 16000 || seg.SilenceGapMs != 900 || seg.FrameMs != 30 {
		t.Errorf("segmenter config = %+v", seg)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + "\nsilence_gap_ms: 500\n"))
	if err == nil {
		t.Fatal("misplaced field accepted")
	}
}

func TestValidateCollectsAllFailures(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
log_level: loud
session:
  name: "a/b"
audio:
  vad_db_threshold: 10
  webrtc_vad_mode: shouty
asr:
  ai_service_url: http://not-a-websocket
wrapup:
  provider: anthropic
`))
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	for _, want := range []string{
		"log_level",
		"path separators",
		"vad_db_threshold",
		"webrtc_vad_mode",
		"ws:// or wss://",
		"wrapup.model",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestValidateSegmentBounds(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + `
audio:
  min_segment_ms: 5000
  max_segment_ms: 1000
`))
	if err == nil || !strings.Contains(err.Error(), "exceeds audio.max_segment_ms") {
		t.Errorf("err = %v, want min/max bound failure", err)
	}
}
