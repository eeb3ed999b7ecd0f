package venue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kjannette/trahn-swarm/internal/httputil"
	"github.com/kjannette/trahn-swarm/internal/solana"
)

type SecondaryConfig struct {
	QuoteURL string
	SwapURL  string
	APIKey   string
	Timeout  time.Duration
}

// Secondary is a quote-then-swap aggregator. It routes any asset.
type Secondary struct {
	cfg    SecondaryConfig
	client *http.Client
}

func NewSecondary(cfg SecondaryConfig) *Secondary {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Secondary{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (s *Secondary) Name() string { return "secondary" }

func (s *Secondary) Eligible(string) bool { return s.cfg.QuoteURL != "" && s.cfg.SwapURL != "" }

func (s *Secondary) headers() http.Header {
	h := http.Header{}
	if s.cfg.APIKey != "" {
		h.Set("x-api-key", s.cfg.APIKey)
	}
	return h
}

// Quote fetches a route. The raw quote is returned so it can be handed back
// to the swap endpoint verbatim.
func (s *Secondary) Quote(ctx context.Context, req Request) (json.RawMessage, int64, error) {
	q := url.Values{}
	if req.Side == Buy {
		q.Set("inputMint", NativeMint)
		q.Set("outputMint", req.Asset)
		q.Set("amount", strconv.FormatInt(int64(math.Round(req.NativeAmount*solana.LamportsPerSOL)), 10))
	} else {
		q.Set("inputMint", req.Asset)
		q.Set("outputMint", NativeMint)
		q.Set("amount", strconv.FormatInt(req.Tokens, 10))
	}
	q.Set("slippageBps", strconv.Itoa(req.SlippageBps))

	var raw json.RawMessage
	if err := httputil.GetJSON(ctx, s.client, httputil.NoRetry, s.cfg.QuoteURL+"?"+q.Encode(), s.headers(), &raw); err != nil {
		return nil, 0, err
	}
	var parsed struct {
		OutAmount string `json:"outAmount"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, 0, fmt.Errorf("%w: quote: %v", ErrBadResponse, err)
	}
	out, err := strconv.ParseInt(parsed.OutAmount, 10, 64)
	if err != nil || out <= 0 {
		return nil, 0, fmt.Errorf("%w: quote outAmount %q", ErrBadResponse, parsed.OutAmount)
	}
	return raw, out, nil
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	PrioritizationFeeLamports int64           `json:"prioritizationFeeLamports,omitempty"`
}

func (s *Secondary) Build(ctx context.Context, req Request) (*Tx, error) {
	if err := validate(req); err != nil {
		return nil, fmt.Errorf("venue: secondary: %w", err)
	}
	quote, out, err := s.Quote(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("venue: secondary: quote: %w: %w", ErrUnavailable, err)
	}

	body, err := httputil.PostJSON(ctx, s.client, httputil.NoRetry, s.cfg.SwapURL, s.headers(), swapRequest{
		QuoteResponse:             quote,
		UserPublicKey:             req.Owner,
		WrapAndUnwrapSol:          true,
		PrioritizationFeeLamports: int64(math.Round(req.PriorityFee * solana.LamportsPerSOL)),
	})
	if err != nil {
		return nil, fmt.Errorf("venue: secondary: swap: %w: %w", ErrUnavailable, err)
	}
	var resp struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.SwapTransaction == "" {
		return nil, fmt.Errorf("venue: secondary: swap: %w: no swap transaction", ErrBadResponse)
	}
	raw, err := base64.StdEncoding.DecodeString(resp.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("venue: secondary: swap: %w: %v", ErrBadResponse, err)
	}

	expected := float64(out)
	if req.Side == Sell {
		expected /= solana.LamportsPerSOL
	}
	return &Tx{Raw: raw, Venue: s.Name(), ExpectedOut: expected}, nil
}
