package bundle

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/trahn-swarm/internal/execution"
	"github.com/kjannette/trahn-swarm/internal/journal"
	"github.com/kjannette/trahn-swarm/internal/models"
	"github.com/kjannette/trahn-swarm/internal/paper"
	"github.com/kjannette/trahn-swarm/internal/position"
	"github.com/kjannette/trahn-swarm/internal/risk"
	"github.com/kjannette/trahn-swarm/internal/solana"
	"github.com/kjannette/trahn-swarm/internal/venue"
)

const mint = "Fresh111111111111111111111111111111111pump"

type staticPrices map[string]models.PriceSnapshot

func (p staticPrices) Price(a string) (models.PriceSnapshot, bool) {
	s, ok := p[a]
	return s, ok
}

type countingBuilder struct {
	inner venue.BundleBuilder
	calls atomic.Int32
}

func (b *countingBuilder) BuildBundle(ctx context.Context, reqs []venue.Request) ([][]byte, error) {
	b.calls.Add(1)
	return b.inner.BuildBundle(ctx, reqs)
}

type rejectingSender struct{ calls atomic.Int32 }

func (s *rejectingSender) SendBundle(context.Context, [][]byte) (string, error) {
	s.calls.Add(1)
	return "", errors.New("bundle rejected: tip too low")
}

type env struct {
	coord   *Coordinator
	chain   *paper.Chain
	store   *position.Store
	journal *journal.Journal
	builder *countingBuilder
	engine  *execution.Engine
	keys    execution.Keyring
}

func newEnv(t *testing.T, agents int, limits risk.Limits, sender func(*paper.Chain) Sender) *env {
	t.Helper()
	prices := staticPrices{mint: {Asset: mint, PriceUSD: 0.1, Native: 0.001, UpdatedAt: time.Now()}}
	chain := paper.NewChain(prices, nil, paper.WithNetworkFee(0))
	pv := paper.NewVenue(prices)

	keys := execution.Keyring{}
	for i := range agents {
		seed := make([]byte, ed25519.SeedSize)
		seed[0] = byte(i + 1)
		kp := solana.NewKeypairFromSeed(seed)
		keys[fmt.Sprintf("agent-%02d", i)] = kp
		chain.Fund(kp.PublicKey(), 1)
	}

	store := position.NewStore(filepath.Join(t.TempDir(), "positions.json"), nil)
	t.Cleanup(func() { store.Close() })
	j, err := journal.Open("", nil)
	require.NoError(t, err)

	engine := execution.New(
		execution.Config{FeeBuffer: 0.005, Retry: execution.RetryPolicy{FeeLadder: []float64{0}, PollInterval: 5 * time.Millisecond}},
		chain, []venue.Venue{pv}, keys, store, j, nil,
		execution.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
	builder := &countingBuilder{inner: pv}
	gate := risk.NewGate(limits, store, j, nil)
	var s Sender = chain
	if sender != nil {
		s = sender(chain)
	}
	coord := New(Config{
		SnipeAmount:    0.05,
		FeeBuffer:      0.005,
		PollInterval:   5 * time.Millisecond,
		ConfirmTimeout: 500 * time.Millisecond,
	}, engine, chain, keys, store, gate, prices, j, nil, WithBundles(builder, s))
	return &env{coord: coord, chain: chain, store: store, journal: j, builder: builder, engine: engine, keys: keys}
}

func count(entries []models.JournalEntry, a models.Action) int {
	n := 0
	for _, e := range entries {
		if e.Action == a {
			n++
		}
	}
	return n
}

func signal() models.Signal {
	return models.Signal{Asset: mint, Ticker: "FRESH", Score: 0.9, DiscoveredAt: time.Now()}
}

func TestBundlesFillEveryAgent(t *testing.T) {
	e := newEnv(t, 7, risk.Limits{}, nil)

	res := e.coord.Execute(context.Background(), signal())
	require.True(t, res.Approved)
	assert.Len(t, res.Bundled, 7)
	assert.Empty(t, res.Fallback)
	assert.Empty(t, res.Failed)
	assert.Equal(t, int32(2), e.builder.calls.Load(), "7 agents split into groups of 5 and 2")

	for name := range e.keys {
		p, ok := e.store.Get(name, mint)
		require.True(t, ok, name)
		assert.InDelta(t, 50_000_000, p.Tokens, 1) // 0.05 / 0.001 = 50 tokens at 6 decimals
		assert.InDelta(t, 0.05, p.CostBasis, 1e-12)
		assert.Equal(t, 0.1, p.AvgPrice)
	}

	tail := e.journal.Tail()
	assert.Equal(t, 1, count(tail, models.ActionGateApproved))
	assert.Equal(t, 2, count(tail, models.ActionBundle))
	assert.Equal(t, 7, count(tail, models.ActionBuy))
}

func TestGateAtCapMakesNoVenueCalls(t *testing.T) {
	e := newEnv(t, 3, risk.Limits{MaxOpenPositions: 2}, nil)
	e.store.ReconcileBuy("agent-00", "OtherA", 1, 0.01, 10)
	e.store.ReconcileBuy("agent-01", "OtherB", 1, 0.01, 10)

	res := e.coord.Execute(context.Background(), signal())
	assert.False(t, res.Approved)
	assert.Contains(t, res.Reason, "open positions")
	assert.Zero(t, e.builder.calls.Load())
	assert.Empty(t, e.chain.Trades())

	tail := e.journal.Tail()
	require.Len(t, tail, 1)
	assert.Equal(t, models.ActionGateBlocked, tail[0].Action)
	assert.Equal(t, mint, tail[0].Asset)
}

func TestSeenAndStaleSignalsAreIgnored(t *testing.T) {
	e := newEnv(t, 2, risk.Limits{}, nil)

	stale := signal()
	stale.DiscoveredAt = time.Now().Add(-time.Hour)
	assert.Equal(t, "stale", e.coord.Execute(context.Background(), stale).Reason)

	require.True(t, e.coord.Execute(context.Background(), signal()).Approved)
	again := e.coord.Execute(context.Background(), signal())
	assert.False(t, again.Approved)
	assert.Equal(t, "seen", again.Reason)
	assert.Equal(t, 1, count(e.journal.Tail(), models.ActionGateApproved))
}

func TestRejectedBundleFallsBackSequentially(t *testing.T) {
	rs := &rejectingSender{}
	e := newEnv(t, 3, risk.Limits{}, func(*paper.Chain) Sender { return rs })

	res := e.coord.Execute(context.Background(), signal())
	require.True(t, res.Approved)
	assert.Empty(t, res.Bundled)
	assert.Len(t, res.Fallback, 3)
	assert.Equal(t, int32(1), rs.calls.Load())
	assert.Equal(t, 3, e.store.OpenCount())
	assert.Zero(t, count(e.journal.Tail(), models.ActionBundle))
	assert.Equal(t, 3, count(e.journal.Tail(), models.ActionBuy))
}

func TestUnfundedAgentsAreLeftOut(t *testing.T) {
	e := newEnv(t, 2, risk.Limits{MinFundedAgents: 2}, nil)
	poor := solana.NewKeypairFromSeed(make([]byte, ed25519.SeedSize))
	e.keys["poor"] = poor
	e.chain.Fund(poor.PublicKey(), 0.01)

	res := e.coord.Execute(context.Background(), signal())
	require.True(t, res.Approved)
	assert.ElementsMatch(t, []string{"agent-00", "agent-01"}, res.Bundled)
	_, held := e.store.Get("poor", mint)
	assert.False(t, held)
}

func TestBlacklistedAssetIsBlocked(t *testing.T) {
	e := newEnv(t, 1, risk.Limits{}, nil)
	e.coord.buyer = blacklisting{e.coord.buyer}
	res := e.coord.Execute(context.Background(), signal())
	assert.False(t, res.Approved)
	assert.Equal(t, models.ActionGateBlocked, e.journal.Tail()[0].Action)
}

type blacklisting struct{ Buyer }

func (blacklisting) IsBlacklisted(string) bool { return true }

func TestBenching(t *testing.T) {
	now := time.Now()
	c := &Coordinator{
		cfg:     Config{}.withDefaults(),
		history: map[string][]bool{},
		benched: map[string]time.Time{},
		logger:  slog.Default(),
		now:     func() time.Time { return now },
	}

	c.recordResult("a", false)
	c.recordResult("a", false)
	assert.False(t, c.isBenched("a", now))
	c.recordResult("a", true)
	c.recordResult("a", false)
	c.recordResult("a", false)
	assert.False(t, c.isBenched("a", now), "a success inside the window resets the streak")
	c.recordResult("a", false)
	assert.True(t, c.isBenched("a", now))
	assert.Equal(t, []string{"a"}, c.Benched())
	assert.False(t, c.isBenched("a", now.Add(31*time.Minute)))
}

type flakyShared struct{ err error }

func (f flakyShared) MarkSeen(context.Context, string) (bool, error) { return false, f.err }

func TestLayeredSeen(t *testing.T) {
	ctx := context.Background()
	down := Layered(flakyShared{err: errors.New("redis down")}, nil)
	assert.True(t, down.MarkSeen(ctx, "x"), "shared outage falls back to local")
	assert.False(t, down.MarkSeen(ctx, "x"))

	taken := Layered(flakyShared{}, nil)
	assert.False(t, taken.MarkSeen(ctx, "y"), "another process already sniped it")
}

func TestTriggerOpportunityRunsInBackground(t *testing.T) {
	e := newEnv(t, 2, risk.Limits{}, nil)
	e.coord.TriggerOpportunity(context.Background(), signal())
	require.NoError(t, e.coord.Wait(context.Background()))
	assert.Equal(t, 2, e.store.OpenCount())
}

// partialSender applies every bundle transaction except the one at skip.
type partialSender struct {
	chain *paper.Chain
	skip  int
}

func (s partialSender) SendBundle(ctx context.Context, signed [][]byte) (string, error) {
	for i, tx := range signed {
		if i == s.skip {
			continue
		}
		if _, err := s.chain.SendTransaction(ctx, tx); err != nil {
			return "", err
		}
	}
	return "partial-bundle", nil
}

func TestPartiallyLandedBundleFallsBackForMissingMemberOnly(t *testing.T) {
	e := newEnv(t, 3, risk.Limits{}, func(c *paper.Chain) Sender { return partialSender{chain: c, skip: 1} })

	res := e.coord.Execute(context.Background(), signal())
	require.True(t, res.Approved)
	assert.ElementsMatch(t, []string{"agent-00", "agent-02"}, res.Bundled)
	assert.Equal(t, []string{"agent-01"}, res.Fallback)
	assert.Empty(t, res.Failed)

	for name := range e.keys {
		p, ok := e.store.Get(name, mint)
		require.True(t, ok, name)
		assert.InDelta(t, 50_000_000, p.Tokens, 1, "%s bought exactly once", name)
		assert.InDelta(t, 0.05, p.CostBasis, 1e-12, name)
	}
	assert.Len(t, e.chain.Trades(), 3)

	tail := e.journal.Tail()
	assert.Equal(t, 3, count(tail, models.ActionBuy))
	for _, entry := range tail {
		if entry.Action == models.ActionBuy && entry.Agent == "agent-01" {
			assert.NotEqual(t, "bundle", entry.Reason)
		}
	}
	assert.False(t, e.engine.IsBusy("agent-01", mint), "reservations are released")
}

// blindChain cannot read token balances for one owner.
type blindChain struct {
	*paper.Chain
	owner string
}

func (c blindChain) TokenBalance(ctx context.Context, owner, asset string) (int64, error) {
	if owner == c.owner {
		return 0, errors.New("rpc: node behind")
	}
	return c.Chain.TokenBalance(ctx, owner, asset)
}

func TestUnverifiableMemberIsNotRebought(t *testing.T) {
	e := newEnv(t, 2, risk.Limits{}, nil)
	e.coord.chain = blindChain{Chain: e.chain, owner: e.keys["agent-01"].PublicKey()}

	res := e.coord.Execute(context.Background(), signal())
	require.True(t, res.Approved)
	assert.Equal(t, []string{"agent-00"}, res.Bundled)
	assert.Empty(t, res.Fallback)
	assert.Equal(t, []string{"agent-01"}, res.Failed)

	assert.Len(t, e.chain.Trades(), 2, "the bundle landed for both; no second buy")
	tokens, err := e.chain.TokenBalance(context.Background(), e.keys["agent-01"].PublicKey(), mint)
	require.NoError(t, err)
	assert.InDelta(t, 50_000_000, tokens, 1)
	_, held := e.store.Get("agent-01", mint)
	assert.False(t, held, "unverified fills are left to reconciliation")
	assert.Equal(t, 1, count(e.journal.Tail(), models.ActionBuy))
}

// gatedSender holds SendBundle until release is closed.
type gatedSender struct {
	inner   Sender
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedSender) SendBundle(ctx context.Context, signed [][]byte) (string, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.inner.SendBundle(ctx, signed)
}

func TestBundleMembersAreReservedAgainstDirectBuys(t *testing.T) {
	gs := &gatedSender{entered: make(chan struct{}), release: make(chan struct{})}
	e := newEnv(t, 2, risk.Limits{}, func(c *paper.Chain) Sender {
		gs.inner = c
		return gs
	})

	done := make(chan Result, 1)
	go func() { done <- e.coord.Execute(context.Background(), signal()) }()
	<-gs.entered

	assert.True(t, e.engine.IsBusy("agent-00", mint))
	out := e.engine.ExecuteBuy(context.Background(), "agent-00", mint, 0.1, 0.05)
	assert.Equal(t, models.FailBusy, out.Fail)
	close(gs.release)

	res := <-done
	assert.Len(t, res.Bundled, 2)
	p, ok := e.store.Get("agent-00", mint)
	require.True(t, ok)
	assert.InDelta(t, 50_000_000, p.Tokens, 1)
	assert.InDelta(t, 0.05, p.CostBasis, 1e-12)
	assert.Len(t, e.chain.Trades(), 2)
	assert.False(t, e.engine.IsBusy("agent-00", mint))
}

func TestBusyAgentIsLeftOutOfBundle(t *testing.T) {
	e := newEnv(t, 2, risk.Limits{}, nil)
	release, ok := e.engine.Reserve(context.Background(), "agent-01", mint)
	require.True(t, ok)
	defer release()

	res := e.coord.Execute(context.Background(), signal())
	require.True(t, res.Approved)
	assert.Equal(t, []string{"agent-00"}, res.Bundled)
	_, held := e.store.Get("agent-01", mint)
	assert.False(t, held)
}

func TestNoFundedAgentsDoesNotConsumeSnipeInterval(t *testing.T) {
	e := newEnv(t, 1, risk.Limits{MinInterval: time.Hour}, nil)
	broke := signal()
	broke.Asset = "Broke111111111111111111111111111111111pump"
	for _, kp := range e.keys {
		e.chain.Fund(kp.PublicKey(), -1)
	}

	res := e.coord.Execute(context.Background(), broke)
	assert.False(t, res.Approved)
	assert.Equal(t, "snipe blocked: no funded agents", res.Reason)
	assert.True(t, e.coord.gate.LastSnipe().IsZero())

	for _, kp := range e.keys {
		e.chain.Fund(kp.PublicKey(), 1)
	}
	assert.True(t, e.coord.Execute(context.Background(), signal()).Approved)
}

// stallingSender accepts the bundle but nothing ever lands.
type stallingSender struct{}

func (stallingSender) SendBundle(context.Context, [][]byte) (string, error) { return "stalled", nil }

func TestWaitCancelsBackgroundOpportunities(t *testing.T) {
	e := newEnv(t, 1, risk.Limits{}, func(*paper.Chain) Sender { return stallingSender{} })
	e.coord.cfg.ConfirmTimeout = time.Hour

	e.coord.TriggerOpportunity(context.Background(), signal())
	require.Eventually(t, func() bool { return count(e.journal.Tail(), models.ActionBundle) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	assert.ErrorIs(t, e.coord.Wait(ctx), context.DeadlineExceeded)
	assert.Less(t, time.Since(start), execution.DrainGrace)
	assert.False(t, e.engine.IsBusy("agent-00", mint), "cancelled opportunity released its reservation")
}
