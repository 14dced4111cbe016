package registration

import (
	"context"
	"errors"
	"sync"
	"time"

	"skyportal/pkg/cache"
)

// Journal remembers the last outcome per draft so a resubmission can resume
// instead of repeating identity creation. Load returns nil, nil when there
// is no record.
type Journal interface {
	Load(ctx context.Context, draftID string) (*Outcome, error)
	Save(ctx context.Context, o *Outcome) error
}

// MemoryJournal keeps outcomes in process memory.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries map[string]*Outcome
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[string]*Outcome)}
}

func (j *MemoryJournal) Load(ctx context.Context, draftID string) (*Outcome, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.entries[draftID].Clone(), nil
}

func (j *MemoryJournal) Save(ctx context.Context, o *Outcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[o.DraftID] = o.Clone()
	return nil
}

// RedisJournal stores outcomes as JSON with a TTL, shared across instances.
type RedisJournal struct {
	cache *cache.RedisCache
	ttl   time.Duration
}

func NewRedisJournal(c *cache.RedisCache, ttl time.Duration) *RedisJournal {
	return &RedisJournal{cache: c, ttl: ttl}
}

func (j *RedisJournal) Load(ctx context.Context, draftID string) (*Outcome, error) {
	var o Outcome
	err := j.cache.Get(ctx, "journal:"+draftID, &o)
	if errors.Is(err, cache.ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (j *RedisJournal) Save(ctx context.Context, o *Outcome) error {
	return j.cache.Set(ctx, "journal:"+o.DraftID, o, j.ttl)
}
