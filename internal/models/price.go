package models

import "time"

// PriceSnapshot is the oracle's latest view of one asset.
type PriceSnapshot struct {
	Asset     string    `json:"asset"`
	PriceUSD  float64   `json:"priceUsd"`
	Native    float64   `json:"priceNative"`
	Change5m  float64   `json:"change5m"`
	Change1h  float64   `json:"change1h"`
	Trend     string    `json:"trend"`
	History   []float64 `json:"history,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Fresh reports whether the snapshot carries a usable price no older than maxAge.
func (p PriceSnapshot) Fresh(now time.Time, maxAge time.Duration) bool {
	if p.PriceUSD <= 0 {
		return false
	}
	return maxAge <= 0 || now.Sub(p.UpdatedAt) <= maxAge
}

// Sensors is the read-only input handed to a strategy for one agent/asset pair.
type Sensors struct {
	Asset                 string    `json:"asset"`
	Price                 float64   `json:"price_usd"`
	Change5m              float64   `json:"change_5m"`
	Change1h              float64   `json:"change_1h"`
	Trend                 string    `json:"trend"`
	HasPosition           bool      `json:"has_position"`
	Tokens                int64     `json:"tokens"`
	AvgPrice              float64   `json:"avg_price"`
	UnrealizedPnLPct      float64   `json:"unrealized_pnl_pct"`
	PriceHistory          []float64 `json:"price_history_5m"`
	Volatility            float64   `json:"volatility"`
	NativeBalance         float64   `json:"sol_balance"`
	MinutesSinceLastTrade float64   `json:"minutes_since_last_trade"`
	TotalTrades           int       `json:"total_trades"`
}
