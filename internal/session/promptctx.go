package session

import (
	"strings"
	"sync"
)

// DefaultContextWords caps the rolling prompt context.
const DefaultContextWords = 40

// PromptContext is a bounded FIFO window of recent words, fed by committed
// transcriptions and text messages and snapshotted onto outbound segments as
// a decoding hint for the recognizer.
type PromptContext struct {
	mu    sync.Mutex
	limit int
	words []string
}

// NewPromptContext creates a window holding at most limit words.
// Non-positive limits fall back to [DefaultContextWords].
func NewPromptContext(limit int) *PromptContext {
	if limit <= 0 {
		limit = DefaultContextWords
	}
	return &PromptContext{limit: limit}
}

// Push appends the words of text, evicting the oldest words beyond the cap.
func (p *PromptContext) Push(text string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}
	p.mu.Lock()
	p.words = append(p.words, fields...)
	if n := len(p.words) - p.limit; n > 0 {
		p.words = append(p.words[:0:0], p.words[n:]...)
	}
	p.mu.Unlock()
}

// Snapshot returns the current window as a space-separated string.
func (p *PromptContext) Snapshot() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.words, " ")
}
