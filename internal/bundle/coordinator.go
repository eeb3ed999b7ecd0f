// Package bundle buys a freshly discovered asset with many agents at once:
// atomic bundles first, then per-agent execution for whatever did not land.
package bundle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kjannette/trahn-swarm/internal/execution"
	"github.com/kjannette/trahn-swarm/internal/models"
	"github.com/kjannette/trahn-swarm/internal/position"
	"github.com/kjannette/trahn-swarm/internal/risk"
	"github.com/kjannette/trahn-swarm/internal/solana"
	"github.com/kjannette/trahn-swarm/internal/venue"
)

// Buyer is the per-agent execution path. Bundle members are reserved with
// Reserve for the whole opportunity, so their fallbacks go through
// ExecuteReservedBuy.
type Buyer interface {
	Reserve(ctx context.Context, agent, asset string) (release func(), ok bool)
	ExecuteReservedBuy(ctx context.Context, agent, asset string, referencePrice, nativeAmount float64) models.Outcome
	IsBlacklisted(asset string) bool
	IsBusy(agent, asset string) bool
}

type Chain interface {
	NativeBalances(ctx context.Context, owners []string) (map[string]float64, map[string]error, error)
	TokenBalance(ctx context.Context, owner, mint string) (int64, error)
	SignatureStatuses(ctx context.Context, sigs ...string) ([]*solana.SignatureStatus, error)
}

type Sender interface {
	SendBundle(ctx context.Context, signed [][]byte) (string, error)
}

type Prices interface {
	Price(asset string) (models.PriceSnapshot, bool)
}

type Recorder interface {
	Append(e models.JournalEntry) models.JournalEntry
}

type Config struct {
	SnipeAmount     float64
	FeeBuffer       float64
	Freshness       time.Duration
	BundleSize      int
	SlippageBps     int
	PriorityFee     float64
	FallbackSpacing time.Duration
	ConfirmTimeout  time.Duration
	PollInterval    time.Duration
	// An agent whose last BenchAfter buys all failed sits out for BenchFor.
	BenchAfter int
	BenchFor   time.Duration
}

func (c Config) withDefaults() Config {
	if c.BundleSize <= 0 || c.BundleSize > solana.MaxBundleSize {
		c.BundleSize = solana.MaxBundleSize
	}
	if c.Freshness <= 0 {
		c.Freshness = 2 * time.Minute
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 45 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BenchAfter <= 0 {
		c.BenchAfter = 3
	}
	if c.BenchFor <= 0 {
		c.BenchFor = 30 * time.Minute
	}
	return c
}

// Result summarizes one opportunity.
type Result struct {
	Approved bool
	Reason   string
	Bundled  []string // agents filled through a bundle
	Fallback []string // agents filled through per-agent execution
	Failed   []string
}

type Coordinator struct {
	cfg     Config
	buyer   Buyer
	chain   Chain
	builder venue.BundleBuilder
	sender  Sender
	keys    execution.Keyring
	store   *position.Store
	gate    *risk.Gate
	prices  Prices
	journal Recorder
	seen    SeenSet
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	history map[string][]bool
	benched map[string]time.Time

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

type Option func(*Coordinator)

// WithBundles enables the atomic bundle path.
func WithBundles(b venue.BundleBuilder, s Sender) Option {
	return func(c *Coordinator) { c.builder, c.sender = b, s }
}

func WithSeenSet(s SeenSet) Option { return func(c *Coordinator) { c.seen = s } }

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

func New(cfg Config, buyer Buyer, chain Chain, keys execution.Keyring, store *position.Store, gate *risk.Gate, prices Prices, journal Recorder, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		cfg:     cfg.withDefaults(),
		buyer:   buyer,
		chain:   chain,
		keys:    keys,
		store:   store,
		gate:    gate,
		prices:  prices,
		journal: journal,
		logger:  logger.With(slog.String("component", "bundle")),
		now:     time.Now,
		history: map[string][]bool{},
		benched: map[string]time.Time{},
	}
	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())
	for _, o := range opts {
		o(c)
	}
	if c.seen == nil {
		c.seen = NewLocalSeen()
	}
	return c
}

// TriggerOpportunity handles sig in the background. The work outlives ctx
// and is only cancelled by Wait.
func (c *Coordinator) TriggerOpportunity(ctx context.Context, sig models.Signal) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("opportunity panicked", slog.String("asset", sig.Asset), slog.Any("panic", r))
			}
		}()
		octx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(c.bgCtx, cancel)
		defer stop()
		c.Execute(octx, sig)
	}()
}

// Wait blocks until background opportunities finish. If ctx ends first they
// are cancelled and given execution.DrainGrace to settle.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}
	c.bgCancel()
	select {
	case <-done:
	case <-time.After(execution.DrainGrace):
		c.logger.Error("opportunities still running after cancel", slog.Duration("grace", execution.DrainGrace))
	}
	return ctx.Err()
}

// Execute runs one opportunity to completion.
func (c *Coordinator) Execute(ctx context.Context, sig models.Signal) Result {
	log := c.logger.With(slog.String("asset", sig.Asset), slog.String("ticker", sig.Ticker))
	now := c.now()

	if !sig.DiscoveredAt.IsZero() && now.Sub(sig.DiscoveredAt) > c.cfg.Freshness {
		log.Debug("signal ignored: stale", slog.Duration("age", now.Sub(sig.DiscoveredAt)))
		return Result{Reason: "stale"}
	}
	if first := c.seen.MarkSeen(ctx, sig.Asset); !first {
		log.Debug("signal ignored: already seen")
		return Result{Reason: "seen"}
	}

	if c.buyer.IsBlacklisted(sig.Asset) {
		return c.blocked(sig, "snipe blocked: asset is blacklisted")
	}
	agents := c.fundedAgents(ctx, sig.Asset, now, log)
	defer func() {
		for _, m := range agents {
			m.release()
		}
	}()
	// An empty roster must not reach the gate: Admit stamps the snipe time.
	if len(agents) == 0 {
		return c.blocked(sig, "snipe blocked: no funded agents")
	}
	if c.gate != nil {
		if err := c.gate.Admit(ctx, len(agents)); err != nil {
			return c.blocked(sig, err.Error())
		}
	}
	c.journal.Append(models.JournalEntry{
		Asset: sig.Asset, Ticker: sig.Ticker, Action: models.ActionGateApproved,
		Reason: fmt.Sprintf("%d agents x %.4f", len(agents), c.cfg.SnipeAmount), NativeAmount: c.cfg.SnipeAmount,
	})
	log.Info("snipe approved", slog.Int("agents", len(agents)), slog.Float64("score", sig.Score))

	ref := 0.0
	if snap, ok := c.prices.Price(sig.Asset); ok {
		ref = snap.PriceUSD
	}

	res := Result{Approved: true}
	for start := 0; start < len(agents); start += c.cfg.BundleSize {
		group := agents[start:min(start+c.cfg.BundleSize, len(agents))]
		c.runGroup(ctx, sig, ref, group, &res, log)
	}
	for _, a := range res.Bundled {
		c.recordResult(a, true)
	}
	for _, a := range res.Fallback {
		c.recordResult(a, true)
	}
	for _, a := range res.Failed {
		c.recordResult(a, false)
	}
	log.Info("snipe finished", slog.Int("bundled", len(res.Bundled)), slog.Int("fallback", len(res.Fallback)), slog.Int("failed", len(res.Failed)))
	return res
}

func (c *Coordinator) blocked(sig models.Signal, reason string) Result {
	c.journal.Append(models.JournalEntry{Asset: sig.Asset, Ticker: sig.Ticker, Action: models.ActionGateBlocked, Reason: reason})
	c.logger.Info("snipe blocked", slog.String("asset", sig.Asset), slog.String("reason", reason))
	return Result{Reason: reason}
}

type member struct {
	agent   string
	kp      *solana.Keypair
	pre     int64
	release func()
}

// fundedAgents returns agents that can pay for the snipe, sorted by name.
// Each returned member holds the pair's reservation until released.
func (c *Coordinator) fundedAgents(ctx context.Context, asset string, now time.Time, log *slog.Logger) []member {
	names := make([]string, 0, len(c.keys))
	owners := make([]string, 0, len(c.keys))
	for name := range c.keys {
		if c.isBenched(name, now) || c.buyer.IsBusy(name, asset) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, n := range names {
		owners = append(owners, c.keys[n].PublicKey())
	}
	if len(owners) == 0 {
		return nil
	}

	bctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	balances, errs, err := c.chain.NativeBalances(bctx, owners)
	if err != nil {
		log.Warn("balance batch failed", slog.Any("error", err))
		return nil
	}
	need := c.cfg.SnipeAmount + c.cfg.FeeBuffer
	var out []member
	for i, n := range names {
		if e := errs[owners[i]]; e != nil {
			continue
		}
		if balances[owners[i]] < need {
			continue
		}
		release, ok := c.buyer.Reserve(ctx, n, asset)
		if !ok {
			log.Debug("agent busy on asset, left out", slog.String("agent", n))
			continue
		}
		out = append(out, member{agent: n, kp: c.keys[n], release: release})
	}
	return out
}

func (c *Coordinator) runGroup(ctx context.Context, sig models.Signal, ref float64, group []member, res *Result, log *slog.Logger) {
	for i := range group {
		bctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		n, err := c.chain.TokenBalance(bctx, group[i].kp.PublicKey(), sig.Asset)
		cancel()
		if err == nil {
			group[i].pre = n
		}
	}

	sigs, bundleID, err := c.sendBundle(ctx, sig.Asset, group)
	if err != nil {
		log.Warn("bundle unavailable, buying sequentially", slog.Int("agents", len(group)), slog.Any("error", err))
		c.sequential(ctx, sig.Asset, ref, group, res)
		return
	}
	c.journal.Append(models.JournalEntry{
		Asset: sig.Asset, Ticker: sig.Ticker, Action: models.ActionBundle, TxRef: bundleID,
		NativeAmount: c.cfg.SnipeAmount * float64(len(group)), Reason: fmt.Sprintf("%d agents", len(group)),
	})

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range group {
		g.Go(func() error {
			filled, via := c.settle(gctx, sig.Asset, ref, m, sigs[i], bundleID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case !filled:
				res.Failed = append(res.Failed, m.agent)
			case via == "bundle":
				res.Bundled = append(res.Bundled, m.agent)
			default:
				res.Fallback = append(res.Fallback, m.agent)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// sendBundle builds, signs, and submits one bundle for the group. It returns
// each member's signature in group order.
func (c *Coordinator) sendBundle(ctx context.Context, asset string, group []member) ([]string, string, error) {
	if c.builder == nil || c.sender == nil {
		return nil, "", fmt.Errorf("bundle path not configured")
	}
	reqs := make([]venue.Request, len(group))
	for i, m := range group {
		reqs[i] = venue.Request{
			Owner: m.kp.PublicKey(), Side: venue.Buy, Asset: asset,
			NativeAmount: c.cfg.SnipeAmount, SlippageBps: c.cfg.SlippageBps, PriorityFee: c.cfg.PriorityFee,
		}
	}
	bctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	raws, err := c.builder.BuildBundle(bctx, reqs)
	if err != nil {
		return nil, "", err
	}
	if len(raws) != len(group) {
		return nil, "", fmt.Errorf("bundle: venue returned %d txs for %d agents", len(raws), len(group))
	}
	signed := make([][]byte, len(raws))
	sigs := make([]string, len(raws))
	for i, raw := range raws {
		signed[i], sigs[i], err = solana.SignTransaction(raw, group[i].kp)
		if err != nil {
			return nil, "", fmt.Errorf("bundle: sign for %s: %w", group[i].agent, err)
		}
	}
	id, err := c.sender.SendBundle(bctx, signed)
	if err != nil {
		return nil, "", err
	}
	if id == "" {
		id = uuid.NewString()
	}
	return sigs, id, nil
}

// settle waits for one member's bundle transaction and reconciles it, falling
// back to a single-agent buy when nothing landed.
func (c *Coordinator) settle(ctx context.Context, asset string, ref float64, m member, sig, bundleID string) (bool, string) {
	c.waitSignature(ctx, sig)

	bctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	post, err := c.chain.TokenBalance(bctx, m.kp.PublicKey(), asset)
	cancel()
	if err == nil && post > m.pre {
		c.store.ReconcileBuy(m.agent, asset, ref, c.cfg.SnipeAmount, post)
		c.journal.Append(models.JournalEntry{
			Agent: m.agent, Asset: asset, Action: models.ActionBuy, Reason: "bundle",
			TxRef: sig, Venue: "bundle:" + bundleID, NativeAmount: c.cfg.SnipeAmount, Tokens: post - m.pre,
		})
		return true, "bundle"
	}
	if err != nil {
		// Unknown balance: buying again could double the position.
		c.logger.Warn("bundle member unverifiable, not retrying", slog.String("agent", m.agent), slog.Any("error", err))
		return false, ""
	}
	out := c.buyer.ExecuteReservedBuy(ctx, m.agent, asset, ref, c.cfg.SnipeAmount)
	return out.OK(), "fallback"
}

func (c *Coordinator) waitSignature(ctx context.Context, sig string) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		st, err := c.chain.SignatureStatuses(ctx, sig)
		if err == nil && len(st) > 0 && st[0] != nil && (st[0].Landed() || st[0].Failed()) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) sequential(ctx context.Context, asset string, ref float64, group []member, res *Result) {
	var limiter *rate.Limiter
	if c.cfg.FallbackSpacing > 0 {
		limiter = rate.NewLimiter(rate.Every(c.cfg.FallbackSpacing), 1)
	}
	for _, m := range group {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				res.Failed = append(res.Failed, m.agent)
				continue
			}
		}
		if c.buyer.ExecuteReservedBuy(ctx, m.agent, asset, ref, c.cfg.SnipeAmount).OK() {
			res.Fallback = append(res.Fallback, m.agent)
		} else {
			res.Failed = append(res.Failed, m.agent)
		}
	}
}

func (c *Coordinator) recordResult(agent string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := append(c.history[agent], ok)
	if len(h) > c.cfg.BenchAfter {
		h = h[len(h)-c.cfg.BenchAfter:]
	}
	c.history[agent] = h
	if len(h) < c.cfg.BenchAfter {
		return
	}
	for _, v := range h {
		if v {
			return
		}
	}
	c.benched[agent] = c.now().Add(c.cfg.BenchFor)
	c.history[agent] = nil
	c.logger.Warn("agent benched", slog.String("agent", agent), slog.Duration("for", c.cfg.BenchFor))
}

func (c *Coordinator) isBenched(agent string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.benched[agent]
	if !ok {
		return false
	}
	if now.After(until) {
		delete(c.benched, agent)
		return false
	}
	return true
}

// Benched lists agents currently sitting out.
func (c *Coordinator) Benched() []string {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for a, until := range c.benched {
		if now.Before(until) {
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}
