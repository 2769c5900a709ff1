package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

type memEntry struct {
	value   string
	count   int64
	expires time.Time
}

// MemoryCache is an in-process Cache for tests and single-replica local runs.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*memEntry), now: time.Now}
}

func (c *MemoryCache) Ping(context.Context) error { return nil }

// live returns the entry for key, dropping it if expired. Callers hold mu.
func (c *MemoryCache) live(key string) *memEntry {
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil
	}
	return e
}

func (c *MemoryCache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

func (c *MemoryCache) SetJobStatus(_ context.Context, jobID uuid.UUID, status models.JobStatus, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[JobStatusKey(jobID)] = &memEntry{value: string(status), expires: c.expiry(ttl)}
	return nil
}

func (c *MemoryCache) GetJobStatus(_ context.Context, jobID uuid.UUID) (models.JobStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.live(JobStatusKey(jobID))
	if e == nil {
		return "", false, nil
	}
	return models.JobStatus(e.value), true, nil
}

func (c *MemoryCache) MarkWebhookSeen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := WebhookDedupeKey(key)
	if c.live(k) != nil {
		return false, nil
	}
	c.entries[k] = &memEntry{value: "1", expires: c.expiry(ttl)}
	return true, nil
}

func (c *MemoryCache) ForgetWebhook(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, WebhookDedupeKey(key))
	return nil
}

func (c *MemoryCache) AcquireLock(_ context.Context, name string, ttl time.Duration) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := LockKey(name)
	if c.live(k) != nil {
		return "", false, nil
	}
	token := uuid.NewString()
	c.entries[k] = &memEntry{value: token, expires: c.expiry(ttl)}
	return token, true, nil
}

func (c *MemoryCache) ReleaseLock(_ context.Context, name, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := LockKey(name)
	if e := c.live(k); e != nil && e.value == token {
		delete(c.entries, k)
	}
	return nil
}

func (c *MemoryCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.live(key)
	if e == nil {
		e = &memEntry{}
		c.entries[key] = e
	}
	e.count++
	e.expires = c.expiry(expiry)
	return e.count, nil
}

var _ Cache = (*MemoryCache)(nil)
