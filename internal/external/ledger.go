package external

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// BalanceSource is the batch native-balance call of the chain client.
type BalanceSource interface {
	NativeBalances(ctx context.Context, owners []string) (map[string]float64, map[string]error, error)
	NativeBalance(ctx context.Context, owner string) (float64, error)
}

// Ledger caches native balances per owner so a tick over many agents costs
// one batched RPC instead of one call per agent. Run keeps the tracked owners
// fresh in the background; readers on the driver goroutine use Cached.
type Ledger struct {
	src    BalanceSource
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	cache   map[string]cachedBalance
	tracked []string
	nudge   chan struct{}
}

type cachedBalance struct {
	value float64
	at    time.Time
}

func NewLedger(src BalanceSource, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Ledger{
		src:    src,
		ttl:    ttl,
		now:    time.Now,
		logger: slog.Default().With(slog.String("component", "balances")),
		cache:  map[string]cachedBalance{},
		nudge:  make(chan struct{}, 1),
	}
}

// Track adds owners to the set Run refreshes.
func (l *Ledger) Track(owners ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, o := range owners {
		if o != "" && !slices.Contains(l.tracked, o) {
			l.tracked = append(l.tracked, o)
		}
	}
}

// Run refreshes the tracked owners every TTL, and soon after Invalidate,
// until ctx ends.
func (l *Ledger) Run(ctx context.Context) {
	ticker := time.NewTicker(l.ttl)
	defer ticker.Stop()
	for {
		l.mu.Lock()
		owners := append([]string(nil), l.tracked...)
		l.mu.Unlock()
		rctx, cancel := context.WithTimeout(ctx, l.ttl)
		if err := l.Refresh(rctx, owners); err != nil && ctx.Err() == nil {
			l.logger.Warn("balance refresh failed", slog.Any("error", err))
		}
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-l.nudge:
		}
	}
}

// Cached returns the last refreshed balance without touching the chain.
func (l *Ledger) Cached(owner string) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.cache[owner]
	return c.value, ok
}

// Refresh loads balances for owners in one batch. Owners whose lookup failed
// keep their previous cached value.
func (l *Ledger) Refresh(ctx context.Context, owners []string) error {
	if len(owners) == 0 {
		return nil
	}
	got, _, err := l.src.NativeBalances(ctx, owners)
	if err != nil {
		return err
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for owner, v := range got {
		l.cache[owner] = cachedBalance{value: v, at: now}
	}
	return nil
}

// NativeBalance serves a cached value younger than the TTL, else asks the chain.
func (l *Ledger) NativeBalance(ctx context.Context, owner string) (float64, error) {
	l.mu.Lock()
	c, ok := l.cache[owner]
	l.mu.Unlock()
	if ok && l.now().Sub(c.at) < l.ttl {
		return c.value, nil
	}
	v, err := l.src.NativeBalance(ctx, owner)
	if err != nil {
		return 0, err
	}
	l.mu.Lock()
	l.cache[owner] = cachedBalance{value: v, at: l.now()}
	l.mu.Unlock()
	return v, nil
}

// Invalidate drops owner's cached balance after a trade and asks Run for an
// early refresh.
func (l *Ledger) Invalidate(owner string) {
	l.mu.Lock()
	delete(l.cache, owner)
	l.mu.Unlock()
	select {
	case l.nudge <- struct{}{}:
	default:
	}
}
