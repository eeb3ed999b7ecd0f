package redis

import (
	"context"
	"fmt"
	"time"
)

// SeenSet records snipe signals across processes so each asset is bundled once.
type SeenSet struct {
	c   *Client
	ttl time.Duration
}

// NewSeenSet keeps marks for ttl; zero means 24h.
func NewSeenSet(c *Client, ttl time.Duration) *SeenSet {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SeenSet{c: c, ttl: ttl}
}

// MarkSeen reports whether asset was new and marks it.
func (s *SeenSet) MarkSeen(ctx context.Context, asset string) (bool, error) {
	ok, err := s.c.rdb.SetNX(ctx, s.c.key("seen", asset), time.Now().Unix(), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: mark seen %s: %w", asset, err)
	}
	return ok, nil
}
