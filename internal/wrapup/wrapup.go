// Package wrapup renders a finished session log into a Markdown summary via
// an LLM. The generator is a collaborator behind a small interface; the
// production implementation wraps github.com/mozilla-ai/any-llm-go so any of
// its supported providers can serve the summary.
package wrapup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/hwittich/scrivener/internal/sessionlog"
)

const systemPrompt = "You summarize voice-session transcripts. Produce a concise " +
	"Markdown outline of the discussion: main topics, decisions, and open points. " +
	"Attribute noteworthy statements to their speaker."

// Generator produces a completion for a prompt. Implementations must be safe
// for concurrent use.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// AnyLLM is the production [Generator] backed by any-llm-go.
type AnyLLM struct {
	backend anyllmlib.Provider
	model   string
}

var _ Generator = (*AnyLLM)(nil)

// NewAnyLLM creates a generator for the named provider. providerName is one
// of "openai", "anthropic", "gemini", or "ollama"; API keys fall back to the
// provider's usual environment variable when no option supplies one.
func NewAnyLLM(providerName, model string, opts ...anyllmlib.Option) (*AnyLLM, error) {
	if model == "" {
		return nil, fmt.Errorf("wrapup: model must not be empty")
	}
	var (
		backend anyllmlib.Provider
		err     error
	)
	switch strings.ToLower(providerName) {
	case "openai":
		backend, err = anyllmoai.New(opts...)
	case "anthropic":
		backend, err = anthropic.New(opts...)
	case "gemini":
		backend, err = gemini.New(opts...)
	case "ollama":
		backend, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("wrapup: unsupported provider %q; supported: openai, anthropic, gemini, ollama", providerName)
	}
	if err != nil {
		return nil, fmt.Errorf("wrapup: create %q backend: %w", providerName, err)
	}
	return &AnyLLM{backend: backend, model: model}, nil
}

// Generate implements [Generator].
func (a *AnyLLM) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := a.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model: a.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: system},
			{Role: anyllmlib.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("wrapup: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("wrapup: empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}

// Summariser turns committed log entries into a Markdown wrap-up.
type Summariser struct {
	gen Generator
}

// NewSummariser wraps a generator.
func NewSummariser(gen Generator) *Summariser {
	return &Summariser{gen: gen}
}

// Summarise renders the entries into a speaker-attributed transcript (sorted
// by capture time, since commit order lags inference) and asks the generator
// for a Markdown outline.
func (s *Summariser) Summarise(ctx context.Context, entries []sessionlog.Entry) (string, error) {
	if len(entries) == 0 {
		return "", fmt.Errorf("wrapup: no entries to summarise")
	}
	return s.gen.Generate(ctx, systemPrompt, RenderTranscript(entries))
}

// RenderTranscript formats entries as one "[HH:MM:SS] name: text" line each,
// in capture order.
func RenderTranscript(entries []sessionlog.Entry) string {
	sorted := append([]sessionlog.Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartTS < sorted[j].StartTS })

	var b strings.Builder
	for _, e := range sorted {
		ts := time.Unix(int64(e.StartTS), 0).UTC().Format("15:04:05")
		name := e.DisplayName
		if name == "" {
			name = e.UserID
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", ts, name, e.Text)
	}
	return b.String()
}

// WriteFile persists the summary as wrapup.md inside the session directory.
func WriteFile(sessionDir, markdown string) error {
	path := filepath.Join(sessionDir, "wrapup.md")
	if err := os.WriteFile(path, []byte(markdown), 0o644); err != nil {
		return fmt.Errorf("wrapup: write %s: %w", path, err)
	}
	return nil
}
