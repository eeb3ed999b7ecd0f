package strategy

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kjannette/trahn-swarm/internal/models"
)

func TestDefaultRules(t *testing.T) {
	r := DefaultRules()

	cases := []struct {
		name   string
		s      models.Sensors
		action models.Direction
		frac   float64
		reason string
	}{
		{"take profit at 2x", models.Sensors{Price: 4, AvgPrice: 2, HasPosition: true, Tokens: 10, Change5m: 1}, models.Sell, 0.5, "TP@2.0x"},
		{"dip buy", models.Sensors{Change5m: -3.2}, models.Buy, 0.3, "dip buy 5m=-3.2%"},
		{"dip buy in downtrend", models.Sensors{Change5m: -1.6, Trend: "down"}, models.Buy, 0.3, "dip buy 5m=-1.6%"},
		{"rip sell", models.Sensors{Change5m: 5, HasPosition: true, Tokens: 10, AvgPrice: 1, Price: 1}, models.Sell, 0.5, "rip sell 5m=5.0%"},
		{"rip sell in uptrend", models.Sensors{Change5m: 3.5, Trend: "up", HasPosition: true, Tokens: 10, AvgPrice: 1, Price: 1}, models.Sell, 0.5, "rip sell 5m=3.5%"},
		{"rip without position holds", models.Sensors{Change5m: 6}, models.Hold, 0, "no signal"},
		{"big hourly dip", models.Sensors{Change5m: 0.5, Change1h: -12}, models.Buy, 0.4, "big dip 1h=-12.0%"},
		{"nibble flat", models.Sensors{Change5m: 0}, models.Buy, 0.2, "nibble flat market"},
		{"holding in flat market", models.Sensors{Change5m: 0, HasPosition: true, Tokens: 1, AvgPrice: 1, Price: 1}, models.Hold, 0, "no signal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := r.Decide(tc.s)
			if d.Action != tc.action || d.Fraction != tc.frac || d.Reason != tc.reason {
				t.Fatalf("got %+v, want %s %.1f %q", d, tc.action, tc.frac, tc.reason)
			}
		})
	}
}

func TestParseRulesRejectsBadInput(t *testing.T) {
	bad := []string{
		"rules: []",
		"rules:\n  - name: x\n    action: moon\n    fraction: 0.5",
		"rules:\n  - name: x\n    action: buy\n    fraction: 1.5",
		"rules:\n  - name: x\n    action: buy\n    fraction: 0.5\n    all:\n      - {field: vibes, op: '>', value: 1}",
		"rules:\n  - name: x\n    action: buy\n    fraction: 0.5\n    all:\n      - {field: trend, op: '<', text: up}",
		"rules: [",
	}
	for _, raw := range bad {
		if _, err := ParseRules([]byte(raw)); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

type panicky struct{}

func (panicky) Decide(models.Sensors) models.Decision { panic("boom") }

type fixed models.Decision

func (f fixed) Decide(models.Sensors) models.Decision { return models.Decision(f) }

func TestHolderNormalizesAndRecovers(t *testing.T) {
	h := NewHolder(fixed{Action: "BUY", Fraction: 3})
	d := h.Decide(models.Sensors{})
	if d.Action != models.Buy || d.Fraction != 1 {
		t.Fatalf("expected normalized buy 1.0, got %+v", d)
	}

	h.Swap(panicky{})
	if d := h.Decide(models.Sensors{}); d.Action != models.Hold {
		t.Fatalf("panicking strategy should hold, got %+v", d)
	}

	if d := NewHolder(nil).Decide(models.Sensors{}); d.Action != models.Hold {
		t.Fatalf("empty holder should hold, got %+v", d)
	}
}

func TestReloaderSwapsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	write := func(body string, mtime time.Time) {
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
	base := time.Now().Add(-time.Hour)
	write("name: always-buy\nrules:\n  - name: buy\n    action: buy\n    fraction: 0.25\n    reason: go", base)

	h := NewHolder(DefaultRules())
	r := NewReloader(path, h, time.Minute, nil)
	changed, err := r.Check()
	if err != nil || !changed {
		t.Fatalf("expected initial load, changed=%v err=%v", changed, err)
	}
	if d := h.Decide(models.Sensors{HasPosition: true}); d.Action != models.Buy || d.Fraction != 0.25 {
		t.Fatalf("expected loaded rules, got %+v", d)
	}

	if changed, _ := r.Check(); changed {
		t.Fatal("unchanged file must not reload")
	}

	write("rules: [", base.Add(time.Minute))
	if _, err := r.Check(); err == nil {
		t.Fatal("expected parse error")
	}
	if d := h.Decide(models.Sensors{}); d.Reason != "go" {
		t.Fatalf("broken file must keep previous rules, got %+v", d)
	}

	start := time.Now()
	write("rules:\n  - name: hold\n    action: hold\n    reason: wait", base.Add(2*time.Minute))
	r.Tick(start)
	if d := h.Decide(models.Sensors{}); d.Reason != "wait" {
		t.Fatalf("tick should reload, got %+v", d)
	}
	write("rules:\n  - name: sell\n    action: sell\n    fraction: 1\n    reason: out", base.Add(3*time.Minute))
	r.Tick(start.Add(30 * time.Second))
	if d := h.Decide(models.Sensors{}); d.Reason != "wait" {
		t.Fatalf("tick within interval must not reload, got %+v", d)
	}
}

func TestBuildSensors(t *testing.T) {
	now := time.Now()
	hist := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 2, 4, 6}
	s := BuildSensors(SensorInput{
		Snapshot:      models.PriceSnapshot{Asset: "A", PriceUSD: 3, Change5m: -1, Trend: "down", History: hist},
		Position:      models.Position{Tokens: 500, AvgPrice: 2},
		HasPosition:   true,
		NativeBalance: 0.4,
		LastTrade:     now.Add(-90 * time.Second),
		TotalTrades:   7,
		Now:           now,
	})
	if len(s.PriceHistory) != HistoryLen || s.PriceHistory[HistoryLen-1] != 6 {
		t.Fatalf("expected last %d prices, got %v", HistoryLen, s.PriceHistory)
	}
	if !s.HasPosition || s.Tokens != 500 || s.UnrealizedPnLPct != 50 {
		t.Fatalf("unexpected position sensors: %+v", s)
	}
	if math.Abs(s.MinutesSinceLastTrade-1.5) > 1e-9 {
		t.Fatalf("expected 1.5 minutes since last trade, got %f", s.MinutesSinceLastTrade)
	}
	if s.Volatility <= 0 {
		t.Fatalf("expected positive volatility, got %f", s.Volatility)
	}

	fresh := BuildSensors(SensorInput{Snapshot: models.PriceSnapshot{PriceUSD: 1}})
	if fresh.MinutesSinceLastTrade != NeverTraded || fresh.HasPosition {
		t.Fatalf("unexpected sensors for new agent: %+v", fresh)
	}
}

func TestVolatility(t *testing.T) {
	if v := Volatility([]float64{1, 2}); v != 0 {
		t.Fatalf("fewer than 3 prices should be 0, got %f", v)
	}
	if v := Volatility([]float64{5, 5, 5}); v != 0 {
		t.Fatalf("flat prices should be 0, got %f", v)
	}
	// mean 2, sample stdev 1
	if v := Volatility([]float64{1, 2, 3}); math.Abs(v-0.5) > 1e-12 {
		t.Fatalf("expected 0.5, got %f", v)
	}
}
