package risk

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DailyTradeCounter abstracts the trade-counting dependency so Gate
// can be tested without a real database.
type DailyTradeCounter interface {
	CountToday(ctx context.Context) (int, error)
}

// OpenPositions reports how many positions are open across all agents.
type OpenPositions interface {
	OpenCount() int
}

// SellHistory returns realized PnL of recent sells, newest first.
type SellHistory interface {
	RecentSells(n int) []float64
}

// Limits holds the snipe admission thresholds from config.
// A zero value for any field means that check is disabled.
type Limits struct {
	MaxOpenPositions int
	MinFundedAgents  int
	MinInterval      time.Duration
	MaxDailyTrades   int
	// WinRateFloor applies to the last WinRateWindow sells, and only once
	// at least MinSamples of them exist.
	WinRateFloor  float64
	WinRateWindow int
	MinSamples    int
}

// Gate decides whether a new snipe may start.
type Gate struct {
	limits    Limits
	positions OpenPositions
	sells     SellHistory
	counter   DailyTradeCounter
	now       func() time.Time

	mu        sync.Mutex
	lastSnipe time.Time
}

func NewGate(limits Limits, positions OpenPositions, sells SellHistory, counter DailyTradeCounter) *Gate {
	if limits.WinRateWindow <= 0 {
		limits.WinRateWindow = 10
	}
	return &Gate{limits: limits, positions: positions, sells: sells, counter: counter, now: time.Now}
}

// Admit runs every check and, when they all pass, stamps the snipe time so a
// concurrent trigger sees the interval. Returns nil if the snipe is allowed,
// a descriptive error if blocked.
func (g *Gate) Admit(ctx context.Context, fundedAgents int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.limits.MaxOpenPositions > 0 && g.positions != nil {
		if open := g.positions.OpenCount(); open >= g.limits.MaxOpenPositions {
			return fmt.Errorf("snipe blocked: %d open positions (max %d)", open, g.limits.MaxOpenPositions)
		}
	}

	if g.limits.MinFundedAgents > 0 && fundedAgents < g.limits.MinFundedAgents {
		return fmt.Errorf("snipe blocked: %d funded agents (need %d)", fundedAgents, g.limits.MinFundedAgents)
	}

	now := g.now()
	if g.limits.MinInterval > 0 && !g.lastSnipe.IsZero() {
		if since := now.Sub(g.lastSnipe); since < g.limits.MinInterval {
			return fmt.Errorf("snipe blocked: last snipe %s ago (min %s)",
				since.Round(time.Second), g.limits.MinInterval)
		}
	}

	if g.limits.WinRateFloor > 0 && g.sells != nil {
		recent := g.sells.RecentSells(g.limits.WinRateWindow)
		if len(recent) >= g.limits.MinSamples && len(recent) > 0 {
			if rate := WinRate(recent); rate < g.limits.WinRateFloor {
				return fmt.Errorf("snipe blocked: win rate %.0f%% over last %d sells (floor %.0f%%)",
					rate*100, len(recent), g.limits.WinRateFloor*100)
			}
		}
	}

	if g.limits.MaxDailyTrades > 0 && g.counter != nil {
		count, err := g.counter.CountToday(ctx)
		if err != nil {
			return fmt.Errorf("snipe blocked: unable to verify daily trade count: %w", err)
		}
		if count >= g.limits.MaxDailyTrades {
			return fmt.Errorf("snipe blocked: daily limit of %d trades reached (%d executed today)",
				g.limits.MaxDailyTrades, count)
		}
	}

	g.lastSnipe = now
	return nil
}

// LastSnipe returns when the gate last admitted a snipe.
func (g *Gate) LastSnipe() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastSnipe
}

// WinRate is the fraction of strictly positive PnL values.
func WinRate(pnls []float64) float64 {
	if len(pnls) == 0 {
		return 0
	}
	wins := 0
	for _, p := range pnls {
		if p > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(pnls))
}
