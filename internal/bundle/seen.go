package bundle

import (
	"context"
	"log/slog"
	"sync"
)

// SeenSet remembers which assets have already been sniped.
type SeenSet interface {
	// MarkSeen records asset and reports whether this was the first time.
	MarkSeen(ctx context.Context, asset string) bool
}

// SharedSeenSet is a seen-set shared across processes. Errors leave the
// decision to the local set.
type SharedSeenSet interface {
	MarkSeen(ctx context.Context, asset string) (bool, error)
}

type localSeen struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewLocalSeen() SeenSet { return &localSeen{seen: map[string]struct{}{}} }

func (l *localSeen) MarkSeen(_ context.Context, asset string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[asset]; ok {
		return false
	}
	l.seen[asset] = struct{}{}
	return true
}

type layeredSeen struct {
	local  SeenSet
	shared SharedSeenSet
	logger *slog.Logger
}

// Layered checks the local set first and then the shared one.
func Layered(shared SharedSeenSet, logger *slog.Logger) SeenSet {
	return &layeredSeen{local: NewLocalSeen(), shared: shared, logger: logger}
}

func (l *layeredSeen) MarkSeen(ctx context.Context, asset string) bool {
	if !l.local.MarkSeen(ctx, asset) {
		return false
	}
	first, err := l.shared.MarkSeen(ctx, asset)
	if err != nil {
		if l.logger != nil {
			l.logger.Warn("shared seen-set unavailable", slog.String("asset", asset), slog.Any("error", err))
		}
		return true
	}
	return first
}
