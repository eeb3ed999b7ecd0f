package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mr-tron/base58"

	"github.com/kjannette/trahn-swarm/internal/httputil"
)

// PrimaryConfig configures the trade-local venue.
type PrimaryConfig struct {
	TradeURL  string
	BundleURL string
	Pool      string
	// MintSuffixes restricts eligibility to assets whose id ends with one of
	// these suffixes. Empty means every asset is eligible.
	MintSuffixes  []string
	TokenDecimals int
	Timeout       time.Duration
}

// Primary is a trade-local API: one POST returns a ready-to-sign transaction.
type Primary struct {
	cfg    PrimaryConfig
	client *http.Client
}

func NewPrimary(cfg PrimaryConfig) *Primary {
	if cfg.Pool == "" {
		cfg.Pool = "auto"
	}
	if cfg.TokenDecimals == 0 {
		cfg.TokenDecimals = 6
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Primary{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (p *Primary) Name() string { return "primary" }

func (p *Primary) Eligible(asset string) bool {
	if p.cfg.TradeURL == "" {
		return false
	}
	if len(p.cfg.MintSuffixes) == 0 {
		return true
	}
	for _, s := range p.cfg.MintSuffixes {
		if strings.HasSuffix(asset, s) {
			return true
		}
	}
	return false
}

type tradeLocalRequest struct {
	PublicKey        string  `json:"publicKey"`
	Action           string  `json:"action"`
	Mint             string  `json:"mint"`
	DenominatedInSol string  `json:"denominatedInSol"`
	Amount           float64 `json:"amount"`
	Slippage         float64 `json:"slippage"`
	PriorityFee      float64 `json:"priorityFee"`
	Pool             string  `json:"pool"`
}

func (p *Primary) payload(req Request) tradeLocalRequest {
	out := tradeLocalRequest{
		PublicKey:   req.Owner,
		Action:      string(req.Side),
		Mint:        req.Asset,
		Slippage:    float64(req.SlippageBps) / 100,
		PriorityFee: req.PriorityFee,
		Pool:        p.cfg.Pool,
	}
	if req.Side == Buy {
		out.DenominatedInSol = "true"
		out.Amount = req.NativeAmount
	} else {
		out.DenominatedInSol = "false"
		out.Amount = float64(req.Tokens) / math.Pow10(p.cfg.TokenDecimals)
	}
	return out
}

func (p *Primary) Build(ctx context.Context, req Request) (*Tx, error) {
	if err := validate(req); err != nil {
		return nil, fmt.Errorf("venue: primary: %w", err)
	}
	body, err := httputil.PostJSON(ctx, p.client, httputil.NoRetry, p.cfg.TradeURL, nil, p.payload(req))
	if err != nil {
		return nil, fmt.Errorf("venue: primary: build: %w: %w", ErrUnavailable, err)
	}
	if len(body) == 0 || body[0] == '{' {
		// Errors come back as JSON objects with a 200 status.
		return nil, fmt.Errorf("venue: primary: build: %w: %s", ErrBadResponse, truncate(body))
	}
	return &Tx{Raw: body, Venue: p.Name()}, nil
}

// BuildBundle requests one transaction per request. The response is a JSON
// array of base58 transactions in request order.
func (p *Primary) BuildBundle(ctx context.Context, reqs []Request) ([][]byte, error) {
	if p.cfg.BundleURL == "" {
		return nil, fmt.Errorf("venue: primary: bundle: %w: not configured", ErrUnavailable)
	}
	payload := make([]tradeLocalRequest, len(reqs))
	for i, r := range reqs {
		if err := validate(r); err != nil {
			return nil, fmt.Errorf("venue: primary: bundle: %w", err)
		}
		payload[i] = p.payload(r)
	}
	body, err := httputil.PostJSON(ctx, p.client, httputil.NoRetry, p.cfg.BundleURL, nil, payload)
	if err != nil {
		return nil, fmt.Errorf("venue: primary: bundle: %w: %w", ErrUnavailable, err)
	}
	var encoded []string
	if err := json.Unmarshal(body, &encoded); err != nil {
		return nil, fmt.Errorf("venue: primary: bundle: %w: %v", ErrBadResponse, err)
	}
	if len(encoded) != len(reqs) {
		return nil, fmt.Errorf("venue: primary: bundle: %w: got %d txs for %d requests", ErrBadResponse, len(encoded), len(reqs))
	}
	out := make([][]byte, len(encoded))
	for i, s := range encoded {
		raw, err := base58.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("venue: primary: bundle tx %d: %w: %v", i, ErrBadResponse, err)
		}
		out[i] = raw
	}
	return out, nil
}

func validate(req Request) error {
	if req.Owner == "" || req.Asset == "" {
		return fmt.Errorf("%w: owner and asset required", ErrBadRequest)
	}
	switch req.Side {
	case Buy:
		if req.NativeAmount <= 0 || math.IsNaN(req.NativeAmount) {
			return fmt.Errorf("%w: buy amount %v", ErrBadRequest, req.NativeAmount)
		}
	case Sell:
		if req.Tokens <= 0 {
			return fmt.Errorf("%w: sell amount %d", ErrBadRequest, req.Tokens)
		}
	default:
		return fmt.Errorf("%w: side %q", ErrBadRequest, req.Side)
	}
	return nil
}

func truncate(b []byte) string {
	if len(b) > 200 {
		b = b[:200]
	}
	return strconv.Quote(string(b))
}
