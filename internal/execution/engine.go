// Package execution turns trade decisions into confirmed on-chain trades:
// venue fallback, escalating priority fees, confirmation polling, and
// balance-based reconciliation into the position ledger.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kjannette/trahn-swarm/internal/models"
	"github.com/kjannette/trahn-swarm/internal/position"
	"github.com/kjannette/trahn-swarm/internal/solana"
	"github.com/kjannette/trahn-swarm/internal/venue"
)

var (
	ErrBusy              = errors.New("execution: trade already in flight")
	ErrBlocked           = errors.New("execution: asset is blacklisted")
	ErrInsufficientFunds = errors.New("execution: insufficient native balance")
	ErrNoVenue           = errors.New("execution: no venue could build the trade")
	ErrInvalidAmount     = errors.New("execution: amount must be positive")

	errNoEligible = fmt.Errorf("%w: asset not eligible on any venue", ErrNoVenue)
)

// Chain is the on-chain surface the engine reads and broadcasts through.
type Chain interface {
	NativeBalance(ctx context.Context, owner string) (float64, error)
	TokenBalance(ctx context.Context, owner, mint string) (int64, error)
	SendTransaction(ctx context.Context, signed []byte) (string, error)
	SignatureStatuses(ctx context.Context, sigs ...string) ([]*solana.SignatureStatus, error)
}

// Recorder appends journal entries.
type Recorder interface {
	Append(e models.JournalEntry) models.JournalEntry
}

// Keyring maps agent names to signing keys.
type Keyring map[string]*solana.Keypair

type Config struct {
	FeeBuffer       float64
	SlippageBps     int
	ExitSlippageBps int
	Blacklist       []string
	Retry           RetryPolicy
	// BroadcastRate caps sendTransaction calls per second across all agents.
	BroadcastRate  float64
	BroadcastBurst int
	LockTTL        time.Duration
}

type Engine struct {
	cfg     Config
	retry   RetryPolicy
	chain   Chain
	venues  []venue.Venue
	keys    Keyring
	store   *position.Store
	journal Recorder
	limiter *rate.Limiter
	busy    *busySet
	block   map[string]bool
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

type Option func(*Engine)

func WithLocker(l Locker) Option { return func(e *Engine) { e.busy.locker = l } }

// WithSleep replaces the backoff sleeper. Tests use it to skip real waits.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

// New builds an engine. Venues are tried in the given order.
func New(cfg Config, chain Chain, venues []venue.Venue, keys Keyring, store *position.Store, journal Recorder, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "execution"))
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 3 * time.Minute
	}
	limit := rate.Inf
	if cfg.BroadcastRate > 0 {
		limit = rate.Limit(cfg.BroadcastRate)
	}
	burst := cfg.BroadcastBurst
	if burst <= 0 {
		burst = 1
	}
	block := make(map[string]bool, len(cfg.Blacklist))
	for _, a := range cfg.Blacklist {
		block[a] = true
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		retry:    cfg.Retry.withDefaults(),
		chain:    chain,
		venues:   venues,
		keys:     keys,
		store:    store,
		journal:  journal,
		limiter:  rate.NewLimiter(limit, burst),
		busy:     newBusySet(nil, cfg.LockTTL, logger),
		block:    block,
		logger:   logger,
		sleep:    sleepCtx,
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) IsBlacklisted(asset string) bool { return e.block[asset] }

// IsBusy reports whether a trade for the pair is in flight in this process.
func (e *Engine) IsBusy(agent, asset string) bool { return e.busy.held(agent, asset) }

func (e *Engine) FeeBuffer() float64 { return e.cfg.FeeBuffer }

// Owner returns the agent's public key.
func (e *Engine) Owner(agent string) (string, bool) {
	kp, ok := e.keys[agent]
	if !ok {
		return "", false
	}
	return kp.PublicKey(), true
}

// Agents lists the agents the engine can sign for.
func (e *Engine) Agents() []string {
	out := make([]string, 0, len(e.keys))
	for n := range e.keys {
		out = append(out, n)
	}
	return out
}

// SubmitBuy runs ExecuteBuy in the background. The returned channel receives
// the outcome once.
func (e *Engine) SubmitBuy(agent, asset string, referencePrice, nativeAmount float64) <-chan models.Outcome {
	return e.spawn(agent, asset, "buy", func(ctx context.Context) models.Outcome {
		return e.ExecuteBuy(ctx, agent, asset, referencePrice, nativeAmount)
	})
}

// SubmitSell runs ExecuteSell in the background.
func (e *Engine) SubmitSell(agent, asset string, tokens int64, reason string) <-chan models.Outcome {
	return e.spawn(agent, asset, "sell", func(ctx context.Context) models.Outcome {
		return e.ExecuteSell(ctx, agent, asset, tokens, reason)
	})
}

func (e *Engine) spawn(agent, asset, side string, fn func(context.Context) models.Outcome) <-chan models.Outcome {
	out := make(chan models.Outcome, 1)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("trade panicked", slog.String("agent", agent), slog.String("asset", asset), slog.Any("panic", r))
				action := models.ActionBuyFail
				if side == "sell" {
					action = models.ActionSellFail
				}
				e.journal.Append(models.JournalEntry{Agent: agent, Asset: asset, Action: action, Reason: fmt.Sprintf("panic: %v", r)})
				out <- models.Outcome{Kind: models.Failed}
			}
			close(out)
		}()
		out <- fn(e.bgCtx)
	}()
	return out
}

// Wait blocks until in-flight trades finish. If ctx ends first, whatever is
// still running is cancelled and Wait gives it DrainGrace to reconcile
// before returning ctx.Err().
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}
	e.bgCancel()
	select {
	case <-done:
	case <-time.After(DrainGrace):
		e.logger.Error("trades still running after cancel", slog.Duration("grace", DrainGrace))
	}
	return ctx.Err()
}

// DrainGrace bounds how long Wait waits for cancelled trades to unwind.
var DrainGrace = 5 * time.Second

// trade is the state of one execution.
type trade struct {
	side      venue.Side
	agent     string
	asset     string
	kp        *solana.Keypair
	refPrice  float64
	native    float64 // buy: native to spend
	tokens    int64   // sell: tokens to sell
	reason    string
	preTokens int64
	preNative float64
	havePre   bool
}

func (t *trade) failAction() models.Action {
	if t.side == venue.Buy {
		return models.ActionBuyFail
	}
	return models.ActionSellFail
}

// ExecuteBuy spends nativeAmount on asset for agent.
func (e *Engine) ExecuteBuy(ctx context.Context, agent, asset string, referencePrice, nativeAmount float64) models.Outcome {
	log := e.logger.With(slog.String("agent", agent), slog.String("asset", asset), slog.String("side", "buy"))

	if nativeAmount <= 0 || math.IsNaN(nativeAmount) || math.IsInf(nativeAmount, 0) {
		log.Warn("buy rejected", slog.Any("error", ErrInvalidAmount), slog.Float64("amount", nativeAmount))
		return models.Outcome{Kind: models.Failed, Fail: models.FailInvalidAmount}
	}
	if e.block[asset] {
		e.journal.Append(models.JournalEntry{Agent: agent, Asset: asset, Action: models.ActionBuyFail, Reason: "blacklisted", NativeAmount: nativeAmount})
		return models.Outcome{Kind: models.Failed, Fail: models.FailBlocked}
	}
	kp, ok := e.keys[agent]
	if !ok {
		log.Warn("buy rejected: no keypair for agent")
		return models.Outcome{Kind: models.Failed, Fail: models.FailNoVenue}
	}

	release, ok := e.busy.acquire(ctx, agent, asset)
	if !ok {
		log.Debug("buy skipped: busy")
		return models.Outcome{Kind: models.Failed, Fail: models.FailBusy}
	}
	defer release()
	return e.buy(ctx, kp, agent, asset, referencePrice, nativeAmount, log)
}

// Reserve takes the busy key for (agent, asset) on behalf of a caller that
// runs its own transaction for the pair, such as a bundle leg. While held,
// ExecuteBuy and ExecuteSell for the pair are refused. The holder may buy
// through ExecuteReservedBuy.
func (e *Engine) Reserve(ctx context.Context, agent, asset string) (release func(), ok bool) {
	if _, known := e.keys[agent]; !known {
		return nil, false
	}
	return e.busy.acquire(ctx, agent, asset)
}

// ExecuteReservedBuy is ExecuteBuy for a caller already holding the pair's
// reservation.
func (e *Engine) ExecuteReservedBuy(ctx context.Context, agent, asset string, referencePrice, nativeAmount float64) models.Outcome {
	log := e.logger.With(slog.String("agent", agent), slog.String("asset", asset), slog.String("side", "buy"))
	if nativeAmount <= 0 || math.IsNaN(nativeAmount) || math.IsInf(nativeAmount, 0) {
		log.Warn("buy rejected", slog.Any("error", ErrInvalidAmount), slog.Float64("amount", nativeAmount))
		return models.Outcome{Kind: models.Failed, Fail: models.FailInvalidAmount}
	}
	if e.block[asset] {
		e.journal.Append(models.JournalEntry{Agent: agent, Asset: asset, Action: models.ActionBuyFail, Reason: "blacklisted", NativeAmount: nativeAmount})
		return models.Outcome{Kind: models.Failed, Fail: models.FailBlocked}
	}
	kp, ok := e.keys[agent]
	if !ok {
		return models.Outcome{Kind: models.Failed, Fail: models.FailNoVenue}
	}
	if !e.busy.held(agent, asset) {
		log.Warn("reserved buy without a reservation")
		return models.Outcome{Kind: models.Failed, Fail: models.FailBusy}
	}
	return e.buy(ctx, kp, agent, asset, referencePrice, nativeAmount, log)
}

// buy runs a buy with the busy key already held.
func (e *Engine) buy(ctx context.Context, kp *solana.Keypair, agent, asset string, referencePrice, nativeAmount float64, log *slog.Logger) models.Outcome {
	native, err := e.chain.NativeBalance(ctx, kp.PublicKey())
	if err != nil {
		e.journal.Append(models.JournalEntry{Agent: agent, Asset: asset, Action: models.ActionSkip, Reason: "balance unavailable", NativeAmount: nativeAmount})
		log.Warn("buy skipped: balance unavailable", slog.Any("error", err))
		return models.Outcome{Kind: models.Skipped, Fail: models.FailInsufficientFunds}
	}
	if native <= nativeAmount+e.cfg.FeeBuffer {
		e.journal.Append(models.JournalEntry{
			Agent: agent, Asset: asset, Action: models.ActionSkip, NativeAmount: nativeAmount,
			Reason: fmt.Sprintf("insufficient funds: have %.6f need %.6f", native, nativeAmount+e.cfg.FeeBuffer),
		})
		return models.Outcome{Kind: models.Skipped, Fail: models.FailInsufficientFunds}
	}

	t := &trade{side: venue.Buy, agent: agent, asset: asset, kp: kp, refPrice: referencePrice, native: nativeAmount, preNative: native}
	t.preTokens, t.havePre = e.readTokens(ctx, t)
	return e.run(ctx, t, log)
}

// ExecuteSell sells tokens of asset for agent. reason tags the journal entry.
func (e *Engine) ExecuteSell(ctx context.Context, agent, asset string, tokens int64, reason string) models.Outcome {
	log := e.logger.With(slog.String("agent", agent), slog.String("asset", asset), slog.String("side", "sell"))
	if reason == "" {
		reason = "SELL"
	}

	if tokens <= 0 {
		log.Warn("sell rejected", slog.Any("error", ErrInvalidAmount), slog.Int64("tokens", tokens))
		return models.Outcome{Kind: models.Failed, Fail: models.FailInvalidAmount}
	}
	if e.block[asset] {
		e.journal.Append(models.JournalEntry{Agent: agent, Asset: asset, Action: models.ActionSellFail, Reason: "blacklisted", Tokens: tokens})
		return models.Outcome{Kind: models.Failed, Fail: models.FailBlocked}
	}
	kp, ok := e.keys[agent]
	if !ok {
		log.Warn("sell rejected: no keypair for agent")
		return models.Outcome{Kind: models.Failed, Fail: models.FailNoVenue}
	}

	release, ok := e.busy.acquire(ctx, agent, asset)
	if !ok {
		log.Debug("sell skipped: busy")
		return models.Outcome{Kind: models.Failed, Fail: models.FailBusy}
	}
	defer release()

	e.store.MarkSellAttempt(agent, asset, time.Now())

	t := &trade{side: venue.Sell, agent: agent, asset: asset, kp: kp, tokens: tokens, reason: reason}
	t.preTokens, t.havePre = e.readTokens(ctx, t)
	if t.havePre {
		if t.preTokens == 0 {
			e.journal.Append(models.JournalEntry{Agent: agent, Asset: asset, Action: models.ActionSkip, Reason: "no on-chain balance", Tokens: tokens})
			return models.Outcome{Kind: models.Skipped}
		}
		if t.tokens > t.preTokens {
			t.tokens = t.preTokens
		}
	}
	if n, err := e.chain.NativeBalance(ctx, kp.PublicKey()); err == nil {
		t.preNative = n
	} else {
		t.preNative = math.NaN()
	}
	return e.run(ctx, t, log)
}

// run drives the retry ladder for one trade.
func (e *Engine) run(ctx context.Context, t *trade, log *slog.Logger) models.Outcome {
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			break
		}
		fee := e.retry.Fee(attempt)
		sub, err := e.submit(ctx, t, fee)
		if err != nil {
			e.journal.Append(models.JournalEntry{
				Agent: t.agent, Asset: t.asset, Action: t.failAction(), Attempt: attempt,
				Reason: shortErr(err), NativeAmount: t.native, Tokens: t.tokens,
			})
			log.Warn("attempt failed", slog.Int("attempt", attempt), slog.Float64("priority_fee", fee), slog.Any("error", err))
			if errors.Is(err, errNoEligible) {
				// More fee tiers won't make a venue eligible.
				return e.finish(ctx, t, attempt, log, models.FailNoVenue)
			}
			if sub != nil && sub.sent {
				// Broadcast outcome unknown; let the chain decide before retrying.
				if out, ok := e.reconcile(ctx, t, sub, attempt, log); ok {
					return out
				}
			}
			if err := e.sleep(ctx, e.retry.Pause(attempt)); err != nil {
				break
			}
			continue
		}

		status := e.confirm(ctx, sub.ref)
		switch status {
		case statusLanded:
			if out, ok := e.reconcile(ctx, t, sub, attempt, log); ok {
				return out
			}
			// Landed but nothing moved: retrying could double-spend.
			e.journal.Append(models.JournalEntry{
				Agent: t.agent, Asset: t.asset, Action: t.failAction(), Attempt: attempt, Venue: sub.venue,
				TxRef: sub.ref, Reason: "landed, balance unchanged", NativeAmount: t.native, Tokens: t.tokens,
			})
			return e.inconclusive(t, attempt, log)
		case statusFailed:
			e.journal.Append(models.JournalEntry{
				Agent: t.agent, Asset: t.asset, Action: t.failAction(), Attempt: attempt, Venue: sub.venue,
				TxRef: sub.ref, Reason: "on-chain error", NativeAmount: t.native, Tokens: t.tokens,
			})
		default:
			if out, ok := e.reconcile(ctx, t, sub, attempt, log); ok {
				return out
			}
			e.journal.Append(models.JournalEntry{
				Agent: t.agent, Asset: t.asset, Action: t.failAction(), Attempt: attempt, Venue: sub.venue,
				TxRef: sub.ref, Reason: "unconfirmed, balance unchanged", NativeAmount: t.native, Tokens: t.tokens,
			})
		}
		if attempt < e.retry.MaxAttempts {
			if err := e.sleep(ctx, e.retry.Pause(attempt)); err != nil {
				break
			}
		}
	}
	return e.finish(ctx, t, e.retry.MaxAttempts, log, models.FailExhausted)
}

// finish does the last reconciliation after the ladder is exhausted.
func (e *Engine) finish(ctx context.Context, t *trade, attempts int, log *slog.Logger, fail models.FailKind) models.Outcome {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.retry.AttemptTimeout)
	defer cancel()
	if out, ok := e.reconcile(rctx, t, &submission{}, attempts, log); ok {
		return out
	}
	if fail == models.FailNoVenue {
		return models.Outcome{Kind: models.Failed, Fail: models.FailNoVenue, Attempts: attempts}
	}
	return e.inconclusive(t, attempts, log)
}

func (e *Engine) inconclusive(t *trade, attempts int, log *slog.Logger) models.Outcome {
	n := e.recordFailure(t)
	log.Warn("trade inconclusive", slog.Int("attempts", attempts), slog.Int("consecutive_failures", n))
	return models.Outcome{Kind: models.Inconclusive, Fail: models.FailExhausted, Attempts: attempts}
}

// recordFailure bumps the sell failure counter once per execution.
func (e *Engine) recordFailure(t *trade) int {
	if t.side != venue.Sell {
		return 0
	}
	return e.store.RecordSellFailure(t.agent, t.asset)
}

type submission struct {
	ref      string
	venue    string
	expected float64
	sent     bool
}

// submit builds, signs and broadcasts through the first venue that works.
// A non-nil submission with sent=true and an error means the broadcast
// outcome is unknown.
func (e *Engine) submit(ctx context.Context, t *trade, fee float64) (*submission, error) {
	req := venue.Request{
		Owner:        t.kp.PublicKey(),
		Side:         t.side,
		Asset:        t.asset,
		NativeAmount: t.native,
		Tokens:       t.tokens,
		SlippageBps:  e.cfg.SlippageBps,
		PriorityFee:  fee,
	}
	if t.side == venue.Sell && e.cfg.ExitSlippageBps > 0 {
		req.SlippageBps = e.cfg.ExitSlippageBps
	}

	var errs []error
	tried := 0
	for _, v := range e.venues {
		if !v.Eligible(t.asset) {
			continue
		}
		tried++
		actx, cancel := context.WithTimeout(ctx, e.retry.AttemptTimeout)
		tx, err := v.Build(actx, req)
		cancel()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		signed, sig, err := solana.SignTransaction(tx.Raw, t.kp)
		if err != nil {
			errs = append(errs, fmt.Errorf("venue: %s: sign: %w", v.Name(), err))
			continue
		}

		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		sctx, cancel := context.WithTimeout(ctx, e.retry.AttemptTimeout)
		ref, err := e.chain.SendTransaction(sctx, signed)
		cancel()
		sub := &submission{ref: sig, venue: v.Name(), expected: tx.ExpectedOut, sent: true}
		if err != nil {
			return sub, fmt.Errorf("broadcast via %s: %w", v.Name(), err)
		}
		if ref != "" {
			sub.ref = ref
		}
		return sub, nil
	}
	if tried == 0 {
		return nil, errNoEligible
	}
	return nil, fmt.Errorf("all venues failed: %w", errors.Join(errs...))
}

type confirmStatus int

const (
	statusTimeout confirmStatus = iota
	statusLanded
	statusFailed
)

// confirm polls the signature status until it lands, fails, or times out.
func (e *Engine) confirm(ctx context.Context, ref string) confirmStatus {
	ctx, cancel := context.WithTimeout(ctx, e.retry.ConfirmTimeout)
	defer cancel()
	ticker := time.NewTicker(e.retry.PollInterval)
	defer ticker.Stop()

	for {
		statuses, err := e.chain.SignatureStatuses(ctx, ref)
		if err == nil && len(statuses) > 0 && statuses[0] != nil {
			switch {
			case statuses[0].Failed():
				return statusFailed
			case statuses[0].Landed():
				return statusLanded
			}
		}
		select {
		case <-ctx.Done():
			return statusTimeout
		case <-ticker.C:
		}
	}
}

// readTokens reads the on-chain token balance, falling back to the ledger.
func (e *Engine) readTokens(ctx context.Context, t *trade) (int64, bool) {
	rctx, cancel := context.WithTimeout(ctx, e.retry.AttemptTimeout)
	defer cancel()
	n, err := e.chain.TokenBalance(rctx, t.kp.PublicKey(), t.asset)
	if err == nil {
		return n, true
	}
	if p, ok := e.store.Get(t.agent, t.asset); ok {
		return p.Tokens, true
	}
	return 0, false
}

// reconcile compares the on-chain balance with the pre-trade balance and, if
// it moved in the trade's direction, updates the ledger and journal.
func (e *Engine) reconcile(ctx context.Context, t *trade, sub *submission, attempt int, log *slog.Logger) (models.Outcome, bool) {
	rctx, cancel := context.WithTimeout(ctx, e.retry.AttemptTimeout)
	defer cancel()
	post, err := e.chain.TokenBalance(rctx, t.kp.PublicKey(), t.asset)
	if err != nil {
		log.Warn("reconcile: balance unavailable", slog.Any("error", err))
		return models.Outcome{}, false
	}

	if t.side == venue.Buy {
		if post <= t.preTokens {
			return models.Outcome{}, false
		}
		got := post - t.preTokens
		p := e.store.ReconcileBuy(t.agent, t.asset, t.refPrice, t.native, post)
		e.journal.Append(models.JournalEntry{
			Agent: t.agent, Asset: t.asset, Action: models.ActionBuy, Attempt: attempt, Venue: sub.venue,
			TxRef: sub.ref, NativeAmount: t.native, Tokens: got,
		})
		log.Info("buy confirmed", slog.Int64("tokens", got), slog.Int64("position_tokens", p.Tokens), slog.Int("attempt", attempt))
		return models.Outcome{Kind: models.Confirmed, Received: float64(got), TxRef: sub.ref, Attempts: attempt}, true
	}

	if post >= t.preTokens {
		return models.Outcome{}, false
	}
	sold := t.preTokens - post
	received := e.nativeReceived(rctx, t, sub, sold)
	var consumed float64
	if post == 0 {
		consumed = e.store.ReconcileSellFull(t.agent, t.asset, received)
	} else {
		consumed = e.store.ReconcileSellObserved(t.agent, t.asset, received, sold, post)
	}
	pnl := received - consumed
	e.journal.Append(models.JournalEntry{
		Agent: t.agent, Asset: t.asset, Action: models.ActionSell, Reason: t.reason, Attempt: attempt, Venue: sub.venue,
		TxRef: sub.ref, NativeAmount: received, Tokens: sold, RealizedPnL: &pnl,
	})
	log.Info("sell confirmed", slog.Int64("tokens", sold), slog.Float64("received", received), slog.Float64("pnl", pnl), slog.Int("attempt", attempt))
	return models.Outcome{Kind: models.Confirmed, Received: received, TxRef: sub.ref, Attempts: attempt, RealizedPnL: pnl}, true
}

// nativeReceived prefers the measured native delta and falls back to the
// venue quote scaled to what actually sold.
func (e *Engine) nativeReceived(ctx context.Context, t *trade, sub *submission, sold int64) float64 {
	if !math.IsNaN(t.preNative) {
		if after, err := e.chain.NativeBalance(ctx, t.kp.PublicKey()); err == nil && after > t.preNative {
			return after - t.preNative
		}
	}
	if sub.expected > 0 && t.tokens > 0 {
		return sub.expected * float64(sold) / float64(t.tokens)
	}
	return 0
}

// OutcomeError maps an outcome's failure kind to a sentinel error.
func OutcomeError(o models.Outcome) error {
	switch o.Fail {
	case models.FailBusy:
		return ErrBusy
	case models.FailBlocked:
		return ErrBlocked
	case models.FailInsufficientFunds:
		return ErrInsufficientFunds
	case models.FailNoVenue:
		return ErrNoVenue
	case models.FailInvalidAmount:
		return ErrInvalidAmount
	}
	return nil
}

func shortErr(err error) string {
	s := err.Error()
	if len(s) > 160 {
		s = s[:160]
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
