// Package venue builds unsigned swap transactions through external routing
// services. A venue never signs or broadcasts; callers do that.
package venue

import (
	"context"
	"errors"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// NativeMint is the wrapped-SOL mint used as the quote side of every swap.
const NativeMint = "So11111111111111111111111111111111111111112"

// Request describes one swap for one agent.
type Request struct {
	Owner        string // agent public key, also fee payer
	Side         Side
	Asset        string
	NativeAmount float64 // buys: native to spend
	Tokens       int64   // sells: smallest-unit tokens to sell
	SlippageBps  int
	PriorityFee  float64 // native units
}

// Tx is an unsigned transaction built by a venue.
type Tx struct {
	Raw   []byte
	Venue string
	// ExpectedOut is the venue's quoted output (tokens for buys, native for
	// sells). Zero when the venue does not quote.
	ExpectedOut float64
}

type Venue interface {
	Name() string
	Eligible(asset string) bool
	Build(ctx context.Context, req Request) (*Tx, error)
}

// BundleBuilder is implemented by venues that can build one transaction per
// agent for atomic bundle submission.
type BundleBuilder interface {
	BuildBundle(ctx context.Context, reqs []Request) ([][]byte, error)
}

var (
	ErrUnavailable = errors.New("venue unavailable")
	ErrBadResponse = errors.New("venue returned malformed response")
	ErrBadRequest  = errors.New("invalid venue request")
)
