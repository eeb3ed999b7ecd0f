package risk

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type mockCounter struct {
	count int
	err   error
}

func (m *mockCounter) CountToday(_ context.Context) (int, error) {
	return m.count, m.err
}

type mockPositions int

func (m mockPositions) OpenCount() int { return int(m) }

type mockSells []float64

func (m mockSells) RecentSells(n int) []float64 {
	if n > len(m) {
		n = len(m)
	}
	return m[:n]
}

// --- Admit ---

func TestAdmit_OpenPositions_Blocked(t *testing.T) {
	g := NewGate(Limits{MaxOpenPositions: 3}, mockPositions(3), nil, nil)
	err := g.Admit(context.Background(), 10)
	if err == nil {
		t.Fatal("expected snipe to be blocked at 3/3 open positions")
	}
	if !g.LastSnipe().IsZero() {
		t.Fatal("blocked snipe must not stamp the interval clock")
	}
	t.Logf("Correctly blocked: %v", err)
}

func TestAdmit_OpenPositions_Allowed(t *testing.T) {
	g := NewGate(Limits{MaxOpenPositions: 3}, mockPositions(2), nil, nil)
	if err := g.Admit(context.Background(), 10); err != nil {
		t.Fatalf("expected snipe to be allowed (2/3), got: %v", err)
	}
}

func TestAdmit_FundedAgents_Blocked(t *testing.T) {
	g := NewGate(Limits{MinFundedAgents: 5}, nil, nil, nil)
	err := g.Admit(context.Background(), 4)
	if err == nil {
		t.Fatal("expected snipe to be blocked with 4 funded agents")
	}
	t.Logf("Correctly blocked: %v", err)
}

func TestAdmit_MinInterval(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := NewGate(Limits{MinInterval: 5 * time.Minute}, nil, nil, nil)
	g.now = func() time.Time { return now }

	if err := g.Admit(context.Background(), 1); err != nil {
		t.Fatalf("first snipe should pass, got: %v", err)
	}
	now = now.Add(4 * time.Minute)
	if err := g.Admit(context.Background(), 1); err == nil {
		t.Fatal("expected second snipe within 5m to be blocked")
	}
	now = now.Add(time.Minute)
	if err := g.Admit(context.Background(), 1); err != nil {
		t.Fatalf("snipe at exactly 5m should pass, got: %v", err)
	}
}

func TestAdmit_WinRate_Blocked(t *testing.T) {
	sells := mockSells{-0.01, -0.02, 0.03, -0.01, -0.05}
	g := NewGate(Limits{WinRateFloor: 0.3, WinRateWindow: 5, MinSamples: 5}, nil, sells, nil)
	err := g.Admit(context.Background(), 1)
	if err == nil {
		t.Fatal("expected snipe to be blocked at 20% win rate")
	}
	t.Logf("Correctly blocked: %v", err)
}

func TestAdmit_WinRate_IgnoredBelowMinSamples(t *testing.T) {
	sells := mockSells{-0.01, -0.02}
	g := NewGate(Limits{WinRateFloor: 0.3, WinRateWindow: 5, MinSamples: 5}, nil, sells, nil)
	if err := g.Admit(context.Background(), 1); err != nil {
		t.Fatalf("win rate should not apply with 2 samples, got: %v", err)
	}
}

func TestAdmit_DailyTrades_Blocked(t *testing.T) {
	g := NewGate(Limits{MaxDailyTrades: 50}, nil, nil, &mockCounter{count: 50})
	if err := g.Admit(context.Background(), 1); err == nil {
		t.Fatal("expected snipe to be blocked (50/50)")
	}
}

func TestAdmit_DailyTrades_CounterError(t *testing.T) {
	g := NewGate(Limits{MaxDailyTrades: 50}, nil, nil, &mockCounter{err: fmt.Errorf("db down")})
	err := g.Admit(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error when counter fails")
	}
	t.Logf("Correctly blocked on counter error: %v", err)
}

func TestAdmit_AllDisabled(t *testing.T) {
	g := NewGate(Limits{}, mockPositions(9999), mockSells{-1, -1, -1}, &mockCounter{count: 9999})
	if err := g.Admit(context.Background(), 0); err != nil {
		t.Fatalf("all-zero limits should allow everything, got: %v", err)
	}
}

// --- Thresholds ---

func TestThresholds_ExactBoundaries(t *testing.T) {
	th := Thresholds{TakeProfit: 0.5, StopLoss: -0.3}
	if got := th.Check(0.5); got != ReasonTakeProfit {
		t.Fatalf("expected take-profit at exactly +50%%, got %q", got)
	}
	if got := th.Check(-0.3); got != ReasonStopLoss {
		t.Fatalf("expected stop-loss at exactly -30%%, got %q", got)
	}
	if got := th.Check(0.4999); got != "" {
		t.Fatalf("expected no trigger at +49.99%%, got %q", got)
	}
	if got := th.Check(-0.2999); got != "" {
		t.Fatalf("expected no trigger at -29.99%%, got %q", got)
	}
}

func TestThresholds_Disabled(t *testing.T) {
	var th Thresholds
	if got := th.Check(-99); got != "" {
		t.Fatalf("zero thresholds should disable all checks, got %q", got)
	}
	if got := th.Check(99); got != "" {
		t.Fatalf("zero thresholds should disable all checks, got %q", got)
	}
}

// --- Cooldown ---

func TestCooldown(t *testing.T) {
	c := NewCooldown(2 * time.Minute)
	now := time.Now()
	if !c.Ready("alpha", now) {
		t.Fatal("agent with no trades should be ready")
	}
	c.Mark("alpha", now)
	if c.Ready("alpha", now.Add(119*time.Second)) {
		t.Fatal("agent should still be cooling down at 119s")
	}
	if left := c.Remaining("alpha", now.Add(60*time.Second)); left != time.Minute {
		t.Fatalf("expected 1m remaining, got %s", left)
	}
	if !c.Ready("alpha", now.Add(2*time.Minute)) {
		t.Fatal("agent should be ready after the cooldown")
	}
	if !c.Ready("beta", now) {
		t.Fatal("cooldown must be per agent")
	}
	if last, ok := c.Last("alpha"); !ok || !last.Equal(now) {
		t.Fatalf("Last: got %v %v", last, ok)
	}
	if _, ok := c.Last("beta"); ok {
		t.Fatal("beta never traded")
	}
}
