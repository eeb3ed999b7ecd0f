// Package paper simulates the chain and a swap venue so the whole engine can
// run without sending real transactions.
package paper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"github.com/kjannette/trahn-swarm/internal/models"
	"github.com/kjannette/trahn-swarm/internal/solana"
)

// Pricer returns the latest price snapshot for an asset.
type Pricer interface {
	Price(asset string) (models.PriceSnapshot, bool)
}

// instruction is what the paper venue encodes into a transaction.
type instruction struct {
	Side        string  `json:"side"`
	Mint        string  `json:"mint"`
	Native      float64 `json:"native,omitempty"`
	Tokens      int64   `json:"tokens,omitempty"`
	PriorityFee float64 `json:"priorityFee"`
}

type Trade struct {
	Signature   string    `json:"signature"`
	Timestamp   time.Time `json:"timestamp"`
	Owner       string    `json:"owner"`
	Side        string    `json:"side"`
	Mint        string    `json:"mint"`
	Native      float64   `json:"native"`
	Tokens      int64     `json:"tokens"`
	Price       float64   `json:"price"`
	SlippagePct float64   `json:"slippagePercent"`
	Fee         float64   `json:"fee"`
}

type Stats struct {
	Owner         string  `json:"owner"`
	InitialNative float64 `json:"initialNative"`
	CurrentNative float64 `json:"currentNative"`
	HoldingsValue float64 `json:"holdingsValue"`
	PnL           float64 `json:"pnl"`
	PnLPct        float64 `json:"pnlPct"`
	Buys          int     `json:"buys"`
	Sells         int     `json:"sells"`
	FeesSpent     float64 `json:"feesSpent"`
}

// Chain is an in-memory ledger that executes paper-venue transactions
// immediately on broadcast.
type Chain struct {
	mu       sync.Mutex
	native   map[string]float64
	initial  map[string]float64
	tokens   map[string]map[string]int64
	statuses map[string]*solana.SignatureStatus
	trades   []Trade
	slot     uint64

	pricer     Pricer
	decimals   int
	maxSlipPct float64
	networkFee float64
	logger     *slog.Logger
}

type Option func(*Chain)

// WithSlippage applies uniform random slippage up to maxPct percent.
func WithSlippage(maxPct float64) Option { return func(c *Chain) { c.maxSlipPct = maxPct } }

func WithNetworkFee(fee float64) Option { return func(c *Chain) { c.networkFee = fee } }

func WithDecimals(d int) Option { return func(c *Chain) { c.decimals = d } }

func NewChain(pricer Pricer, logger *slog.Logger, opts ...Option) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Chain{
		native:     map[string]float64{},
		initial:    map[string]float64{},
		tokens:     map[string]map[string]int64{},
		statuses:   map[string]*solana.SignatureStatus{},
		pricer:     pricer,
		decimals:   6,
		networkFee: 0.000005,
		logger:     logger.With(slog.String("component", "paper")),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fund credits native balance to owner.
func (c *Chain) Fund(owner string, native float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.native[owner] += native
	c.initial[owner] += native
}

// SetTokens overwrites owner's token balance.
func (c *Chain) SetTokens(owner, mint string, tokens int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens[owner] == nil {
		c.tokens[owner] = map[string]int64{}
	}
	c.tokens[owner][mint] = tokens
}

func (c *Chain) NativeBalance(_ context.Context, owner string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.native[owner], nil
}

func (c *Chain) TokenBalance(_ context.Context, owner, mint string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens[owner][mint], nil
}

func (c *Chain) SendTransaction(_ context.Context, signed []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyLocked(signed)
}

// SendBundle applies every transaction or none of them.
func (c *Chain) SendBundle(_ context.Context, signed [][]byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nativeBak := cloneFloat(c.native)
	tokensBak := make(map[string]map[string]int64, len(c.tokens))
	for o, m := range c.tokens {
		tokensBak[o] = cloneInt(m)
	}
	tradesLen := len(c.trades)

	var sigs []string
	for i, tx := range signed {
		sig, err := c.applyLocked(tx)
		if err != nil {
			c.native, c.tokens, c.trades = nativeBak, tokensBak, c.trades[:tradesLen]
			for _, s := range sigs {
				delete(c.statuses, s)
			}
			return "", fmt.Errorf("paper: bundle tx %d: %w", i, err)
		}
		sigs = append(sigs, sig)
	}
	return fmt.Sprintf("paper-bundle-%d", c.slot), nil
}

func (c *Chain) SignatureStatuses(_ context.Context, sigs ...string) ([]*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*solana.SignatureStatus, len(sigs))
	for i, s := range sigs {
		if st, ok := c.statuses[s]; ok {
			cp := *st
			out[i] = &cp
		}
	}
	return out, nil
}

// NativeBalances mirrors the RPC client's batch call.
func (c *Chain) NativeBalances(_ context.Context, owners []string) (map[string]float64, map[string]error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(owners))
	for _, o := range owners {
		out[o] = c.native[o]
	}
	return out, nil, nil
}

func (c *Chain) applyLocked(signed []byte) (string, error) {
	if len(signed) < 65 {
		return "", errors.New("paper: transaction too short")
	}
	sig := base58.Encode(signed[1:65])
	msg := signed[65:]
	owner, err := solana.FeePayer(msg)
	if err != nil {
		return "", err
	}
	// Paper messages: header(3) + count(1) + key(32) + blockhash(32) + ixcount(1) + memo.
	const memoAt = 3 + 1 + 32 + 32 + 1
	if len(msg) <= memoAt {
		return "", errors.New("paper: transaction has no instruction")
	}
	var ix instruction
	if err := json.Unmarshal(msg[memoAt:], &ix); err != nil {
		return "", fmt.Errorf("paper: decode instruction: %w", err)
	}

	snap, ok := c.pricer.Price(ix.Mint)
	if !ok || snap.Native <= 0 {
		return "", fmt.Errorf("paper: no price for %s", ix.Mint)
	}
	slip := randomSlippage(c.maxSlipPct)
	unit := math.Pow10(c.decimals)
	fee := ix.PriorityFee + c.networkFee

	c.slot++
	status := &solana.SignatureStatus{Slot: c.slot, ConfirmationStatus: "confirmed"}
	t := Trade{Signature: sig, Timestamp: time.Now().UTC(), Owner: owner, Side: ix.Side, Mint: ix.Mint, Price: snap.Native, SlippagePct: slip * 100, Fee: fee}

	switch ix.Side {
	case "buy":
		if c.native[owner] < ix.Native+fee {
			status.Err = map[string]string{"paper": "insufficient lamports"}
			c.statuses[sig] = status
			return sig, nil
		}
		got := int64(ix.Native / snap.Native * (1 - slip) * unit)
		c.native[owner] -= ix.Native + fee
		if c.tokens[owner] == nil {
			c.tokens[owner] = map[string]int64{}
		}
		c.tokens[owner][ix.Mint] += got
		t.Native, t.Tokens = ix.Native, got
	case "sell":
		held := c.tokens[owner][ix.Mint]
		if held < ix.Tokens || ix.Tokens <= 0 {
			status.Err = map[string]string{"paper": "insufficient tokens"}
			c.statuses[sig] = status
			return sig, nil
		}
		out := float64(ix.Tokens) / unit * snap.Native * (1 - slip)
		c.tokens[owner][ix.Mint] = held - ix.Tokens
		c.native[owner] += out - fee
		t.Native, t.Tokens = out, ix.Tokens
	default:
		return "", fmt.Errorf("paper: unknown side %q", ix.Side)
	}
	c.statuses[sig] = status
	c.trades = append(c.trades, t)
	c.logger.Debug("paper trade", slog.String("owner", owner), slog.String("side", ix.Side),
		slog.Float64("native", t.Native), slog.Int64("tokens", t.Tokens), slog.Float64("slippage_pct", t.SlippagePct))
	return sig, nil
}

// Trades returns the executed paper trades, oldest first.
func (c *Chain) Trades() []Trade {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Trade(nil), c.trades...)
}

// Stats values every funded owner's holdings at the current paper price.
func (c *Chain) Stats() []Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	unit := math.Pow10(c.decimals)
	var out []Stats
	for owner, initial := range c.initial {
		s := Stats{Owner: owner, InitialNative: initial, CurrentNative: c.native[owner]}
		for mint, n := range c.tokens[owner] {
			if snap, ok := c.pricer.Price(mint); ok {
				s.HoldingsValue += float64(n) / unit * snap.Native
			}
		}
		for _, t := range c.trades {
			if t.Owner != owner {
				continue
			}
			if t.Side == "buy" {
				s.Buys++
			} else {
				s.Sells++
			}
			s.FeesSpent += t.Fee
		}
		s.PnL = s.CurrentNative + s.HoldingsValue - initial
		if initial > 0 {
			s.PnLPct = s.PnL / initial * 100
		}
		out = append(out, s)
	}
	return out
}

func randomSlippage(maxPct float64) float64 {
	if maxPct <= 0 {
		return 0
	}
	return rand.Float64() * maxPct / 100
}

func cloneFloat(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneInt(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
