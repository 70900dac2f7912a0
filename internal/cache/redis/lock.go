package redis

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

var (
	//go:embed scripts/unlock.lua
	unlockLua string
	//go:embed scripts/extend.lua
	extendLua string

	unlockScript = redis.NewScript(unlockLua)
	extendScript = redis.NewScript(extendLua)
)

// LockManager implements domain.LockManager. The executor holds
// "capital:<start asset>" for the whole of a run. While held, the lock's TTL
// is renewed every third of the TTL, so a run slowed by order timeouts keeps
// its capital; the TTL only matters when the process dies.
type LockManager struct {
	c      *Client
	logger *slog.Logger
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{c: c, logger: slog.Default().With(slog.String("component", "redis_lock"))}
}

// Acquire takes the lock for key or returns domain.ErrLockHeld. The returned
// release func stops renewal and deletes the key if this holder still owns
// it; calling it again does nothing.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	k := lm.c.key("lock", key)
	token := uuid.NewString()

	ok, err := lm.c.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	stop := make(chan struct{})
	renewed := make(chan struct{})
	go lm.renew(k, token, ttl, stop, renewed)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-renewed
			// The caller's ctx may be done by now.
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := unlockScript.Run(relCtx, lm.c.rdb, []string{k}, token).Err(); err != nil {
				lm.logger.Warn("lock release failed", slog.String("key", key), slog.String("error", err.Error()))
			}
		})
	}, nil
}

// renew extends the TTL until stop closes or the lock is lost.
func (lm *LockManager) renew(k, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(max(ttl/3, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ttl/3+time.Second)
			held, err := extendScript.Run(ctx, lm.c.rdb, []string{k}, token, ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				lm.logger.Warn("lock renewal failed", slog.String("key", k), slog.String("error", err.Error()))
				continue
			}
			if held == 0 {
				lm.logger.Error("lock lost before release", slog.String("key", k))
				return
			}
		}
	}
}

var _ domain.LockManager = (*LockManager)(nil)
