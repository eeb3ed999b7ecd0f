package external

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kjannette/trahn-swarm/internal/httputil"
	"github.com/kjannette/trahn-swarm/internal/models"
)

const (
	DefaultDexScreenerURL = "https://api.dexscreener.com/latest/dex/tokens/"
	// dexScreenerBatch is the API's limit on addresses per request.
	dexScreenerBatch = 30
	historyStep      = 5 * time.Minute
	historyLen       = 12
)

type OracleOptions struct {
	BaseURL  string
	Interval time.Duration
	Timeout  time.Duration
}

// Oracle polls DexScreener for every tracked asset and serves the latest
// snapshot from memory.
type Oracle struct {
	baseURL    string
	interval   time.Duration
	httpClient *http.Client
	retry      httputil.RetryConfig
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.RWMutex
	tracked map[string]struct{}
	snaps   map[string]*models.PriceSnapshot
	lastAt  map[string]time.Time // last history sample per asset
}

func NewOracle(opts OracleOptions, logger *slog.Logger) *Oracle {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultDexScreenerURL
	}
	if !strings.HasSuffix(opts.BaseURL, "/") {
		opts.BaseURL += "/"
	}
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Oracle{
		baseURL:    opts.BaseURL,
		interval:   opts.Interval,
		httpClient: &http.Client{Timeout: opts.Timeout},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxDelay:    10 * time.Second,
			Logger:      logger,
		},
		logger:  logger.With(slog.String("component", "oracle")),
		now:     time.Now,
		tracked: map[string]struct{}{},
		snaps:   map[string]*models.PriceSnapshot{},
		lastAt:  map[string]time.Time{},
	}
}

// Track adds assets to the poll set.
func (o *Oracle) Track(assets ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, a := range assets {
		if a != "" {
			o.tracked[a] = struct{}{}
		}
	}
}

// Price returns a copy of the latest snapshot for asset.
func (o *Oracle) Price(asset string) (models.PriceSnapshot, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.snaps[asset]
	if !ok {
		return models.PriceSnapshot{}, false
	}
	out := *s
	out.History = append([]float64(nil), s.History...)
	return out, true
}

type dexPair struct {
	BaseToken struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUSD    string `json:"priceUsd"`
	PriceNative string `json:"priceNative"`
	PriceChange struct {
		M5 float64 `json:"m5"`
		H1 float64 `json:"h1"`
	} `json:"priceChange"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
}

// Refresh polls every tracked asset once.
func (o *Oracle) Refresh(ctx context.Context) error {
	o.mu.RLock()
	assets := make([]string, 0, len(o.tracked))
	for a := range o.tracked {
		assets = append(assets, a)
	}
	o.mu.RUnlock()

	var firstErr error
	for start := 0; start < len(assets); start += dexScreenerBatch {
		batch := assets[start:min(start+dexScreenerBatch, len(assets))]
		if err := o.fetch(ctx, batch); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (o *Oracle) fetch(ctx context.Context, assets []string) error {
	var data struct {
		Pairs []dexPair `json:"pairs"`
	}
	url := o.baseURL + strings.Join(assets, ",")
	if err := httputil.GetJSON(ctx, o.httpClient, o.retry, url, http.Header{"User-Agent": {"trahn-swarm/1.0"}}, &data); err != nil {
		return fmt.Errorf("dexscreener fetch: %w", err)
	}

	// Several pairs can quote the same token; keep the most liquid.
	best := map[string]dexPair{}
	for _, p := range data.Pairs {
		cur, ok := best[p.BaseToken.Address]
		if !ok || p.Liquidity.USD > cur.Liquidity.USD {
			best[p.BaseToken.Address] = p
		}
	}

	now := o.now()
	o.mu.Lock()
	defer o.mu.Unlock()
	for addr, p := range best {
		usd, _ := strconv.ParseFloat(p.PriceUSD, 64)
		if usd <= 0 {
			continue
		}
		native, _ := strconv.ParseFloat(p.PriceNative, 64)
		o.apply(addr, usd, native, p.PriceChange.M5, p.PriceChange.H1, now)
	}
	return nil
}

// apply updates one snapshot. Caller holds mu.
func (o *Oracle) apply(asset string, usd, native, m5, h1 float64, now time.Time) {
	s, ok := o.snaps[asset]
	if !ok {
		s = &models.PriceSnapshot{Asset: asset}
		o.snaps[asset] = s
	}
	if s.PriceUSD > 0 {
		switch {
		case usd > s.PriceUSD:
			s.Trend = "up"
		case usd < s.PriceUSD:
			s.Trend = "down"
		}
	}
	s.PriceUSD = usd
	s.Native = native
	s.Change5m = m5
	s.Change1h = h1
	s.UpdatedAt = now

	if last := o.lastAt[asset]; last.IsZero() || now.Sub(last) >= historyStep {
		s.History = append(s.History, usd)
		if len(s.History) > historyLen {
			s.History = s.History[len(s.History)-historyLen:]
		}
		o.lastAt[asset] = now
	}
}

// Run refreshes on the configured interval until ctx ends.
func (o *Oracle) Run(ctx context.Context) {
	if err := o.Refresh(ctx); err != nil {
		o.logger.Warn("price refresh failed", slog.Any("error", err))
	}
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.Refresh(ctx); err != nil {
				o.logger.Warn("price refresh failed", slog.Any("error", err))
			}
		}
	}
}
