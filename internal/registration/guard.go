package registration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"skyportal/pkg/cache"
	apperrors "skyportal/pkg/errors"
	"skyportal/pkg/logger"

	"github.com/google/uuid"
)

// Guard admits one submission per key at a time. Acquire fails with
// ErrAlreadyInFlight when the key is held; release is safe to call once.
type Guard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// MemoryGuard is a per-process key set.
type MemoryGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: make(map[string]struct{})}
}

func (g *MemoryGuard) Acquire(ctx context.Context, key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.held[key]; busy {
		return nil, apperrors.ErrAlreadyInFlight
	}
	g.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, nil
}

// RedisGuard holds a SET NX PX lock on the draft id. Drafts are pinned to
// one instance, so in steady state the draft lock already serialises
// submits; the Redis lock still holds while an old and a new process overlap
// during a restart. The TTL bounds how long a crashed holder blocks the key.
type RedisGuard struct {
	cache  *cache.RedisCache
	ttl    time.Duration
	logger logger.Logger
}

func NewRedisGuard(c *cache.RedisCache, ttl time.Duration, log logger.Logger) *RedisGuard {
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisGuard{cache: c, ttl: ttl, logger: log}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	lockKey := "lock:" + key

	ok, err := g.cache.SetNX(ctx, lockKey, token, g.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire submission lock: %w", err)
	}
	if !ok {
		return nil, apperrors.ErrAlreadyInFlight
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller may already be cancelled; release regardless.
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := g.cache.DeleteIfEquals(rctx, lockKey, token); err != nil {
				g.logger.Warn("Failed to release submission lock", map[string]interface{}{
					"key":   key,
					"error": err,
				})
			}
		})
	}, nil
}
