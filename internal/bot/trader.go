package bot

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/kjannette/trahn-swarm/internal/execution"
	"github.com/kjannette/trahn-swarm/internal/exitmon"
	"github.com/kjannette/trahn-swarm/internal/journal"
	"github.com/kjannette/trahn-swarm/internal/models"
	"github.com/kjannette/trahn-swarm/internal/position"
	"github.com/kjannette/trahn-swarm/internal/risk"
	"github.com/kjannette/trahn-swarm/internal/strategy"
)

const (
	signalsPerTick       = 4
	initialBagStagger    = 2 * time.Second
	statusReportInterval = time.Hour
	maxReasonLen         = 16
)

// PriceSource is the oracle as the trader sees it.
type PriceSource interface {
	Price(asset string) (models.PriceSnapshot, bool)
	Track(assets ...string)
}

// Balances serves native balances from a cache refreshed off the driver
// goroutine.
type Balances interface {
	Cached(owner string) (float64, bool)
	Invalidate(owner string)
}

type TokenBalances interface {
	TokenBalance(ctx context.Context, owner, mint string) (int64, error)
}

type SignalSource interface {
	Poll(limit int) []models.Signal
}

type Sniper interface {
	TriggerOpportunity(ctx context.Context, sig models.Signal)
	Wait(ctx context.Context) error
}

// Notifier receives operator-facing status lines.
type Notifier interface {
	Post(msg string)
}

type TraderConfig struct {
	TickInterval     time.Duration
	TradeAmount      float64
	InitialBagAmount float64
	TradeCooldown    time.Duration
	ApprovedAssets   []string
	HoldOnlyAsset    string
	Paper            bool
}

// Deps are the collaborators a Trader drives. Sniper, Signals, Reloader and
// Notify are optional.
type Deps struct {
	Engine   *execution.Engine
	Store    *position.Store
	Journal  *journal.Journal
	Exits    *exitmon.Monitor
	Strategy *strategy.Holder
	Reloader *strategy.Reloader
	Prices   PriceSource
	Balances Balances
	Tokens   TokenBalances
	Signals  SignalSource
	Sniper   Sniper
	Notify   Notifier
}

// Trader is the single driver loop: each tick advances the exit monitor,
// hands new signals to the sniper, checks for a new strategy file, and lets
// the strategy trade every agent that is off cooldown.
type Trader struct {
	cfg TraderConfig
	Deps
	cooldown *risk.Cooldown
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	ticks      int
	lastStatus time.Time
	running    bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

func NewTrader(cfg TraderConfig, deps Deps, logger *slog.Logger) *Trader {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 15 * time.Second
	}
	if cfg.TradeCooldown <= 0 {
		cfg.TradeCooldown = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Trader{
		cfg:      cfg,
		Deps:     deps,
		cooldown: risk.NewCooldown(cfg.TradeCooldown),
		logger:   logger.With(slog.String("component", "trader")),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// agents returns signing agents in stable order.
func (t *Trader) agents() []string {
	a := t.Engine.Agents()
	slices.Sort(a)
	return a
}

// Owners lists the agents' public keys in agent order.
func (t *Trader) Owners() []string {
	var out []string
	for _, a := range t.agents() {
		if o, ok := t.Engine.Owner(a); ok {
			out = append(out, o)
		}
	}
	return out
}

// trackAssets registers approved, hold-only and held assets with the oracle.
func (t *Trader) trackAssets() {
	assets := append([]string(nil), t.cfg.ApprovedAssets...)
	if t.cfg.HoldOnlyAsset != "" {
		assets = append(assets, t.cfg.HoldOnlyAsset)
	}
	for _, held := range t.Store.Snapshot() {
		for asset := range held {
			assets = append(assets, asset)
		}
	}
	t.Prices.Track(assets...)
}

// Run ticks until ctx ends or Stop is called.
func (t *Trader) Run(ctx context.Context) {
	t.mu.Lock()
	t.running = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
	}()

	t.logger.Info("trader started",
		slog.Int("agents", len(t.Engine.Agents())),
		slog.Int("approved_assets", len(t.cfg.ApprovedAssets)),
		slog.Duration("tick", t.cfg.TickInterval))
	t.trackAssets()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.BuyInitialBags(ctx)
	}()

	ticker := time.NewTicker(t.cfg.TickInterval)
	defer ticker.Stop()

	t.Tick(ctx)
	for {
		select {
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Tick runs one driver step. Trades it starts run in the engine's goroutines.
func (t *Trader) Tick(ctx context.Context) {
	t.mu.Lock()
	t.ticks++
	t.mu.Unlock()
	now := t.now()

	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("tick panicked", slog.Any("panic", r))
		}
	}()

	if t.Reloader != nil {
		t.Reloader.Tick(now)
	}
	t.Exits.Tick(ctx)

	if t.Signals != nil && t.Sniper != nil {
		for _, sig := range t.Signals.Poll(signalsPerTick) {
			t.Prices.Track(sig.Asset)
			t.Sniper.TriggerOpportunity(ctx, sig)
		}
	}

	for _, agent := range t.agents() {
		for _, asset := range t.cfg.ApprovedAssets {
			if t.decideAndTrade(ctx, agent, asset, now) {
				break
			}
		}
	}

	t.maybeReportStatus(now)
}

// decideAndTrade asks the strategy about one agent and asset and submits the
// resulting trade. It reports whether a trade was started.
func (t *Trader) decideAndTrade(ctx context.Context, agent, asset string, now time.Time) bool {
	if !t.cooldown.Ready(agent, now) {
		return false
	}
	if !slices.Contains(t.cfg.ApprovedAssets, asset) {
		return false
	}
	if t.Engine.IsBlacklisted(asset) || t.Engine.IsBusy(agent, asset) {
		return false
	}
	snap, ok := t.Prices.Price(asset)
	if !ok || snap.PriceUSD <= 0 {
		return false
	}
	owner, ok := t.Engine.Owner(agent)
	if !ok {
		return false
	}
	native, ok := t.Balances.Cached(owner)
	if !ok {
		t.logger.Debug("no cached balance for agent", slog.String("agent", agent))
		return false
	}

	pos, held := t.Store.Get(agent, asset)
	last, _ := t.cooldown.Last(agent)
	sensors := strategy.BuildSensors(strategy.SensorInput{
		Snapshot:      snap,
		Position:      pos,
		HasPosition:   held,
		NativeBalance: native,
		LastTrade:     last,
		TotalTrades:   t.Journal.CountForAgent(agent),
		Now:           now,
	})
	d := t.Strategy.Decide(sensors)
	log := t.logger.With(slog.String("agent", agent), slog.String("asset", asset))

	switch d.Action {
	case models.Buy:
		amount := t.cfg.TradeAmount * d.Fraction
		if amount <= 0 {
			return false
		}
		log.Info("strategy buy", slog.Float64("native", amount), slog.String("reason", d.Reason))
		t.cooldown.Mark(agent, now)
		t.Balances.Invalidate(owner)
		t.Engine.SubmitBuy(agent, asset, snap.PriceUSD, amount)
		return true
	case models.Sell:
		if !held || pos.Tokens <= 0 || asset == t.cfg.HoldOnlyAsset {
			return false
		}
		tokens := int64(float64(pos.Tokens) * d.Fraction)
		if tokens <= 0 {
			return false
		}
		log.Info("strategy sell", slog.Int64("tokens", tokens), slog.String("reason", d.Reason))
		t.cooldown.Mark(agent, now)
		t.Exits.NoteStrategyExit(agent, asset)
		t.Balances.Invalidate(owner)
		t.Engine.SubmitSell(agent, asset, tokens, truncate(d.Reason, maxReasonLen))
		return true
	}
	log.Debug("strategy hold", slog.String("reason", d.Reason))
	return false
}

// BuyInitialBags gives every agent without an on-chain balance of the first
// approved asset a starting bag. Requests are staggered.
func (t *Trader) BuyInitialBags(ctx context.Context) int {
	if t.cfg.InitialBagAmount <= 0 || len(t.cfg.ApprovedAssets) == 0 {
		return 0
	}
	asset := t.cfg.ApprovedAssets[0]
	snap, ok := t.Prices.Price(asset)
	if !ok || snap.PriceUSD <= 0 {
		t.logger.Info("no price yet, skipping initial bags", slog.String("asset", asset))
		return 0
	}

	started := 0
	for _, agent := range t.agents() {
		owner, _ := t.Engine.Owner(agent)
		onChain, err := t.Tokens.TokenBalance(ctx, owner, asset)
		if err != nil {
			t.logger.Warn("initial bag balance check failed", slog.String("agent", agent), slog.Any("error", err))
			continue
		}
		if onChain > 0 {
			continue
		}
		if started > 0 {
			select {
			case <-ctx.Done():
				return started
			case <-t.stopCh:
				return started
			case <-time.After(initialBagStagger):
			}
		}
		t.Engine.SubmitBuy(agent, asset, snap.PriceUSD, t.cfg.InitialBagAmount)
		t.cooldown.Mark(agent, t.now())
		started++
	}
	if started > 0 {
		t.logger.Info("initial bags submitted", slog.Int("agents", started), slog.String("asset", asset))
	}
	return started
}

func (t *Trader) maybeReportStatus(now time.Time) {
	if t.Notify == nil {
		return
	}
	t.mu.Lock()
	if !t.lastStatus.IsZero() && now.Sub(t.lastStatus) < statusReportInterval {
		t.mu.Unlock()
		return
	}
	t.lastStatus = now
	ticks := t.ticks
	t.mu.Unlock()

	prefix := ""
	if t.cfg.Paper {
		prefix = "[PAPER] "
	}
	trades := 0
	for _, a := range t.agents() {
		trades += t.Journal.CountForAgent(a)
	}
	t.Notify.Post(fmt.Sprintf("%sStatus: %d agents | %d open positions | %d trades | ticks %d",
		prefix, len(t.Engine.Agents()), t.Store.OpenCount(), trades, ticks))
}

// Stop ends Run and waits for the initial bag loop. In-flight trades are left
// to the engine.
func (t *Trader) Stop() {
	t.mu.Lock()
	select {
	case <-t.stopCh:
	default:
		close(t.stopCh)
	}
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *Trader) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Trader) Ticks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticks
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
