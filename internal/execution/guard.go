package execution

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Locker is a cross-process mutual exclusion service keyed by string.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, err error)
}

// busySet guards (agent, asset) pairs so that at most one execution per pair
// is in flight. A Locker extends the guard across processes sharing wallets.
type busySet struct {
	mu     sync.Mutex
	keys   map[string]struct{}
	locker Locker
	ttl    time.Duration
	logger *slog.Logger
}

func newBusySet(locker Locker, ttl time.Duration, logger *slog.Logger) *busySet {
	return &busySet{keys: map[string]struct{}{}, locker: locker, ttl: ttl, logger: logger}
}

func busyKey(agent, asset string) string { return agent + ":" + asset }

// acquire returns a release func, or false when the pair is already busy.
func (b *busySet) acquire(ctx context.Context, agent, asset string) (func(), bool) {
	key := busyKey(agent, asset)

	b.mu.Lock()
	if _, held := b.keys[key]; held {
		b.mu.Unlock()
		return nil, false
	}
	b.keys[key] = struct{}{}
	b.mu.Unlock()

	releaseLocal := func() {
		b.mu.Lock()
		delete(b.keys, key)
		b.mu.Unlock()
	}
	if b.locker == nil {
		return releaseLocal, true
	}

	unlock, err := b.locker.TryLock(ctx, "trade:"+key, b.ttl)
	if err != nil {
		b.logger.Debug("distributed lock not acquired", slog.String("key", key), slog.Any("error", err))
		releaseLocal()
		return nil, false
	}
	return func() {
		uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := unlock(uctx); err != nil {
			b.logger.Warn("distributed unlock failed", slog.String("key", key), slog.Any("error", err))
		}
		releaseLocal()
	}, true
}

func (b *busySet) held(agent, asset string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.keys[busyKey(agent, asset)]
	return ok
}
