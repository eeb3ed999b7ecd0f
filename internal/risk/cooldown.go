package risk

import (
	"sync"
	"time"
)

// Cooldown spaces strategy trades per agent.
type Cooldown struct {
	period time.Duration
	mu     sync.Mutex
	last   map[string]time.Time
}

func NewCooldown(period time.Duration) *Cooldown {
	return &Cooldown{period: period, last: map[string]time.Time{}}
}

// Ready reports whether agent may trade at now.
func (c *Cooldown) Ready(agent string, now time.Time) bool {
	return c.Remaining(agent, now) == 0
}

func (c *Cooldown) Remaining(agent string, now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.last[agent]
	if !ok {
		return 0
	}
	if left := c.period - now.Sub(last); left > 0 {
		return left
	}
	return 0
}

// Mark records a trade for agent.
func (c *Cooldown) Mark(agent string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[agent] = now
}

// Last returns agent's most recent trade time.
func (c *Cooldown) Last(agent string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.last[agent]
	return t, ok
}
