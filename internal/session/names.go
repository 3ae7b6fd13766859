package session

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Directory resolves participant ids to display names. The Discord adapter
// provides the production implementation; lookups may hit the network.
type Directory interface {
	Lookup(ctx context.Context, userID string) (string, error)
}

// NameCache is a read-mostly display-name cache in front of a [Directory].
// Resolution is best-effort: a miss returns the raw id and failures are
// swallowed, so a log entry is never blocked on the directory.
type NameCache struct {
	dir Directory

	mu    sync.RWMutex
	names map[string]string

	group singleflight.Group
}

// NewNameCache wraps a directory. dir may be nil, in which case every
// resolution returns the raw id.
func NewNameCache(dir Directory) *NameCache {
	return &NameCache{
		dir:   dir,
		names: make(map[string]string),
	}
}

// Resolve returns the cached display name for userID, or userID itself on a
// miss. Never blocks.
func (c *NameCache) Resolve(userID string) string {
	c.mu.RLock()
	name, ok := c.names[userID]
	c.mu.RUnlock()
	if ok {
		return name
	}
	return userID
}

// Prefetch starts an asynchronous directory lookup for userID unless one is
// cached. Concurrent prefetches of the same id share one lookup.
func (c *NameCache) Prefetch(ctx context.Context, userID string) {
	if c.dir == nil {
		return
	}
	c.mu.RLock()
	_, cached := c.names[userID]
	c.mu.RUnlock()
	if cached {
		return
	}

	go func() {
		v, err, _ := c.group.Do(userID, func() (any, error) {
			return c.dir.Lookup(ctx, userID)
		})
		if err != nil {
			slog.Debug("session: display name lookup failed", "user_id", userID, "error", err)
			return
		}
		if name, _ := v.(string); name != "" {
			c.mu.Lock()
			c.names[userID] = name
			c.mu.Unlock()
		}
	}()
}
