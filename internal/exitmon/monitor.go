// Package exitmon closes positions: take-profit, stop-loss, max-hold timeout,
// and cleanup of positions that can no longer be sold.
package exitmon

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kjannette/trahn-swarm/internal/models"
	"github.com/kjannette/trahn-swarm/internal/position"
	"github.com/kjannette/trahn-swarm/internal/risk"
	"github.com/kjannette/trahn-swarm/internal/strategy"
)

// Seller is the slice of the execution engine the monitor needs.
type Seller interface {
	SubmitSell(agent, asset string, tokens int64, reason string) <-chan models.Outcome
	IsBlacklisted(asset string) bool
	IsBusy(agent, asset string) bool
	Owner(agent string) (string, bool)
}

type Balances interface {
	NativeBalance(ctx context.Context, owner string) (float64, error)
	TokenBalance(ctx context.Context, owner, mint string) (int64, error)
}

type Prices interface {
	Price(asset string) (models.PriceSnapshot, bool)
}

type Journal interface {
	Append(e models.JournalEntry) models.JournalEntry
	CountForAgent(agent string) int
}

const ReasonStale = "STALE_FORCE_CLOSE"

type Config struct {
	EveryTicks int
	MaxHold    time.Duration
	Thresholds risk.Thresholds
	// PriceMaxAge bounds how old an oracle price may be; 0 accepts any age.
	PriceMaxAge     time.Duration
	CooldownBase    time.Duration
	CooldownPenalty time.Duration
	CooldownCap     time.Duration
	UrgentFloor     time.Duration
	StaleFailures   int
	StaleAgeFactor  int
	FeeBuffer       float64
	HoldOnlyAsset   string
	BalanceTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		EveryTicks:      8,
		MaxHold:         60 * time.Minute,
		Thresholds:      risk.Thresholds{TakeProfit: 0.5, StopLoss: -0.3},
		PriceMaxAge:     2 * time.Minute,
		CooldownBase:    30 * time.Second,
		CooldownPenalty: 30 * time.Second,
		CooldownCap:     10 * time.Minute,
		UrgentFloor:     10 * time.Second,
		StaleFailures:   5,
		StaleAgeFactor:  3,
		FeeBuffer:       0.005,
		BalanceTimeout:  10 * time.Second,
	}
}

type Monitor struct {
	cfg      Config
	store    *position.Store
	seller   Seller
	balances Balances
	prices   Prices
	strategy strategy.Engine
	journal  Journal
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	ticks   int
	running bool
	lastPnL map[string]float64
	exited  map[string]bool

	wg sync.WaitGroup
}

type Option func(*Monitor)

func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

func New(cfg Config, store *position.Store, seller Seller, balances Balances, prices Prices, strat strategy.Engine, journal Journal, logger *slog.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EveryTicks <= 0 {
		cfg.EveryTicks = 1
	}
	if cfg.StaleAgeFactor <= 0 {
		cfg.StaleAgeFactor = 3
	}
	if cfg.BalanceTimeout <= 0 {
		cfg.BalanceTimeout = 10 * time.Second
	}
	m := &Monitor{
		cfg:      cfg,
		store:    store,
		seller:   seller,
		balances: balances,
		prices:   prices,
		strategy: strat,
		journal:  journal,
		logger:   logger.With(slog.String("component", "exitmon")),
		now:      time.Now,
		lastPnL:  map[string]float64{},
		exited:   map[string]bool{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func key(agent, asset string) string { return agent + "/" + asset }

// Tick is called by the driver on every tick and never blocks on the chain.
// Every EveryTicks ticks it starts an evaluation pass in the background; a due
// tick is dropped while the previous pass is still running.
func (m *Monitor) Tick(ctx context.Context) {
	m.mu.Lock()
	m.ticks++
	due := m.ticks%m.cfg.EveryTicks == 0
	if !due || m.running {
		m.mu.Unlock()
		if due {
			m.logger.Debug("exit pass still running, tick dropped")
		}
		return
	}
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("exit pass panicked", slog.Any("panic", r))
			}
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
		}()
		m.Evaluate(ctx)
	}()
}

// Wait blocks until the background pass started by Tick finishes or ctx ends.
func (m *Monitor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NoteStrategyExit tells the monitor the strategy already sold this pair in
// the current cycle, so take-profit and stop-loss stand down.
func (m *Monitor) NoteStrategyExit(agent, asset string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exited[key(agent, asset)] = true
}

// LastPnL returns the last computed PnL fraction for a position.
func (m *Monitor) LastPnL(agent, asset string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.lastPnL[key(agent, asset)]
	return v, ok
}

// Evaluate runs one pass over every open position.
func (m *Monitor) Evaluate(ctx context.Context) {
	now := m.now()
	book := m.store.Snapshot()

	m.mu.Lock()
	exited := m.exited
	m.exited = map[string]bool{}
	m.mu.Unlock()

	agents := make([]string, 0, len(book))
	for a := range book {
		agents = append(agents, a)
	}
	sort.Strings(agents)
	for _, agent := range agents {
		assets := make([]string, 0, len(book[agent]))
		for a := range book[agent] {
			assets = append(assets, a)
		}
		sort.Strings(assets)
		for _, asset := range assets {
			if ctx.Err() != nil {
				return
			}
			m.evaluate(ctx, now, agent, asset, book[agent][asset], exited[key(agent, asset)])
		}
	}
}

func (m *Monitor) evaluate(ctx context.Context, now time.Time, agent, asset string, p models.Position, strategyExited bool) {
	if p.Tokens <= 0 || m.seller.IsBlacklisted(asset) || m.seller.IsBusy(agent, asset) {
		return
	}
	log := m.logger.With(slog.String("agent", agent), slog.String("asset", asset))

	if m.staleCandidate(now, p) {
		m.cleanupStale(ctx, agent, asset, p, log)
		return
	}

	if asset != m.cfg.HoldOnlyAsset {
		if cd := m.cooldown(now, p); !p.LastSellAttempt.IsZero() && now.Sub(p.LastSellAttempt) < cd {
			return
		}
	}

	snap, ok := m.prices.Price(asset)
	if !ok || !snap.Fresh(now, m.cfg.PriceMaxAge) {
		if p.EntryTime.IsZero() {
			m.store.BackfillEntryTime(agent, asset)
		}
		return
	}
	pnl := p.PnLPct(snap.PriceUSD)
	m.mu.Lock()
	m.lastPnL[key(agent, asset)] = pnl
	m.mu.Unlock()

	if asset == m.cfg.HoldOnlyAsset {
		return
	}

	if m.cfg.MaxHold > 0 && !p.EntryTime.IsZero() && p.Age(now) >= m.cfg.MaxHold {
		if m.strategy != nil {
			d := m.strategy.Decide(m.sensors(ctx, now, agent, p, snap)).Normalize()
			if d.Action == models.Sell {
				m.sell(agent, asset, p, d.Fraction, d.Reason, log)
				return
			}
		}
		m.sell(agent, asset, p, 1, risk.ReasonTimeout, log)
		return
	}

	if strategyExited {
		return
	}
	if reason := m.cfg.Thresholds.Check(pnl); reason != "" {
		log.Info("exit triggered", slog.String("reason", reason), slog.Float64("pnl_pct", pnl*100))
		m.sell(agent, asset, p, 1, reason, log)
	}
}

// cooldown is the wait after a failed sell attempt. Overdue positions get a
// shorter wait that shrinks the longer they are overdue.
func (m *Monitor) cooldown(now time.Time, p models.Position) time.Duration {
	if m.cfg.MaxHold > 0 && !p.EntryTime.IsZero() {
		if overdue := p.Age(now) - m.cfg.MaxHold; overdue >= 0 {
			urgent := time.Duration(float64(m.cfg.CooldownBase) / (1 + float64(overdue)/float64(m.cfg.MaxHold)))
			return max(urgent, m.cfg.UrgentFloor)
		}
	}
	cd := m.cfg.CooldownBase + time.Duration(p.ConsecutiveSellFailures)*m.cfg.CooldownPenalty
	if m.cfg.CooldownCap > 0 {
		cd = min(cd, m.cfg.CooldownCap)
	}
	return cd
}

func (m *Monitor) staleCandidate(now time.Time, p models.Position) bool {
	if m.cfg.StaleFailures <= 0 || p.ConsecutiveSellFailures < m.cfg.StaleFailures {
		return false
	}
	if m.cfg.MaxHold <= 0 || p.EntryTime.IsZero() {
		return false
	}
	return p.Age(now) >= time.Duration(m.cfg.StaleAgeFactor)*m.cfg.MaxHold
}

// cleanupStale drops a position that keeps failing to sell once the chain
// confirms nothing is left to sell.
func (m *Monitor) cleanupStale(ctx context.Context, agent, asset string, p models.Position, log *slog.Logger) {
	owner, ok := m.seller.Owner(agent)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.BalanceTimeout)
	defer cancel()

	native, err := m.balances.NativeBalance(ctx, owner)
	if err != nil {
		log.Warn("stale check: native balance unavailable", slog.Any("error", err))
		return
	}
	if native >= m.cfg.FeeBuffer {
		return
	}
	onChain, err := m.balances.TokenBalance(ctx, owner, asset)
	if err != nil {
		log.Warn("stale check: token balance unavailable", slog.Any("error", err))
		return
	}
	if onChain != 0 {
		log.Warn("stale position still holds tokens but agent cannot pay fees",
			slog.Int64("tokens", onChain), slog.Float64("native", native), slog.Int("failures", p.ConsecutiveSellFailures))
		return
	}
	if m.store.Delete(agent, asset) {
		m.journal.Append(models.JournalEntry{
			Agent: agent, Asset: asset, Action: models.ActionStaleCleanup, Tokens: p.Tokens,
			Reason: fmt.Sprintf("%s: %d failed sells, on-chain balance 0", ReasonStale, p.ConsecutiveSellFailures),
		})
		log.Info("stale position removed", slog.Int("failures", p.ConsecutiveSellFailures))
	}
}

func (m *Monitor) sell(agent, asset string, p models.Position, fraction float64, reason string, log *slog.Logger) {
	tokens := int64(float64(p.Tokens) * fraction)
	if fraction >= 1 || tokens > p.Tokens {
		tokens = p.Tokens
	}
	if tokens <= 0 {
		log.Debug("exit fraction rounds to zero tokens, skipped", slog.String("reason", reason), slog.Float64("fraction", fraction))
		return
	}
	log.Info("submitting exit", slog.String("reason", reason), slog.Int64("tokens", tokens), slog.Float64("fraction", fraction))
	m.seller.SubmitSell(agent, asset, tokens, reason)
}

func (m *Monitor) sensors(ctx context.Context, now time.Time, agent string, p models.Position, snap models.PriceSnapshot) models.Sensors {
	in := strategy.SensorInput{Snapshot: snap, Position: p, HasPosition: true, Now: now}
	if m.journal != nil {
		in.TotalTrades = m.journal.CountForAgent(agent)
	}
	if owner, ok := m.seller.Owner(agent); ok {
		bctx, cancel := context.WithTimeout(ctx, m.cfg.BalanceTimeout)
		if n, err := m.balances.NativeBalance(bctx, owner); err == nil {
			in.NativeBalance = n
		}
		cancel()
	}
	return strategy.BuildSensors(in)
}
