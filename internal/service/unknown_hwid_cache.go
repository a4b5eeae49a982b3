package service

import (
	"context"
	"sync"
	"time"
)

// UnknownHWIDCache short-circuits repeated /check lookups for hwids that do
// not exist. Any issuance flushes the cache, since a previously unknown hwid
// may now be live. Only the "invalid" outcome is ever cached.
type UnknownHWIDCache interface {
	Seen(ctx context.Context, hwid string) (bool, error)
	Remember(ctx context.Context, hwid string, ttl time.Duration) error
	Flush(ctx context.Context) error
}

type NoopUnknownHWIDCache struct{}

func NewNoopUnknownHWIDCache() *NoopUnknownHWIDCache { return &NoopUnknownHWIDCache{} }

func (*NoopUnknownHWIDCache) Seen(context.Context, string) (bool, error) { return false, nil }

func (*NoopUnknownHWIDCache) Remember(context.Context, string, time.Duration) error { return nil }

func (*NoopUnknownHWIDCache) Flush(context.Context) error { return nil }

type InMemoryUnknownHWIDCache struct {
	mu    sync.RWMutex
	store map[string]time.Time
}

func NewInMemoryUnknownHWIDCache() *InMemoryUnknownHWIDCache {
	return &InMemoryUnknownHWIDCache{store: make(map[string]time.Time)}
}

func (c *InMemoryUnknownHWIDCache) Seen(_ context.Context, hwid string) (bool, error) {
	now := time.Now().UTC()
	c.mu.RLock()
	expiresAt, ok := c.store[hwid]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if now.After(expiresAt) {
		c.mu.Lock()
		delete(c.store, hwid)
		c.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (c *InMemoryUnknownHWIDCache) Remember(_ context.Context, hwid string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	c.store[hwid] = time.Now().UTC().Add(ttl)
	c.mu.Unlock()
	return nil
}

func (c *InMemoryUnknownHWIDCache) Flush(context.Context) error {
	c.mu.Lock()
	c.store = make(map[string]time.Time)
	c.mu.Unlock()
	return nil
}
