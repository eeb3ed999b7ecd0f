package paper

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/kjannette/trahn-swarm/internal/solana"
	"github.com/kjannette/trahn-swarm/internal/venue"
)

// Venue builds paper transactions the paper Chain knows how to execute.
type Venue struct {
	pricer   Pricer
	decimals int
}

func NewVenue(pricer Pricer) *Venue { return &Venue{pricer: pricer, decimals: 6} }

func (v *Venue) Name() string { return "paper" }

func (v *Venue) Eligible(asset string) bool {
	snap, ok := v.pricer.Price(asset)
	return ok && snap.Native > 0
}

func (v *Venue) Build(_ context.Context, req venue.Request) (*venue.Tx, error) {
	raw, err := v.encode(req)
	if err != nil {
		return nil, err
	}
	tx := &venue.Tx{Raw: raw, Venue: v.Name()}
	if snap, ok := v.pricer.Price(req.Asset); ok && snap.Native > 0 {
		unit := math.Pow10(v.decimals)
		if req.Side == venue.Buy {
			tx.ExpectedOut = math.Floor(req.NativeAmount / snap.Native * unit)
		} else {
			tx.ExpectedOut = float64(req.Tokens) / unit * snap.Native
		}
	}
	return tx, nil
}

func (v *Venue) BuildBundle(_ context.Context, reqs []venue.Request) ([][]byte, error) {
	out := make([][]byte, len(reqs))
	for i, r := range reqs {
		raw, err := v.encode(r)
		if err != nil {
			return nil, err
		}
		out[i] = raw
	}
	return out, nil
}

func (v *Venue) encode(req venue.Request) ([]byte, error) {
	if req.Side == venue.Buy && req.NativeAmount <= 0 || req.Side == venue.Sell && req.Tokens <= 0 {
		return nil, fmt.Errorf("venue: paper: %w", venue.ErrBadRequest)
	}
	memo, err := json.Marshal(instruction{
		Side:        string(req.Side),
		Mint:        req.Asset,
		Native:      req.NativeAmount,
		Tokens:      req.Tokens,
		PriorityFee: req.PriorityFee,
	})
	if err != nil {
		return nil, err
	}
	return solana.BuildUnsignedTx(req.Owner, memo)
}
