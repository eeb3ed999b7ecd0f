package models

import "time"

// Position is one agent's holding of one asset. Tokens are in the asset's
// smallest unit; CostBasis is the native amount paid for the tokens still held.
type Position struct {
	Tokens                  int64     `json:"tokens"`
	CostBasis               float64   `json:"costBasis"`
	AvgPrice                float64   `json:"avgPrice"`
	EntryTime               time.Time `json:"entryTime"`
	ConsecutiveSellFailures int       `json:"consecutiveSellFailures"`
	LastSellAttempt         time.Time `json:"lastSellAttempt"`
}

// PnLPct returns the unrealized return at price relative to AvgPrice.
func (p Position) PnLPct(price float64) float64 {
	if p.AvgPrice <= 0 {
		return 0
	}
	return (price - p.AvgPrice) / p.AvgPrice
}

// Age reports how long the position has been held. Zero when EntryTime is unknown.
func (p Position) Age(now time.Time) time.Duration {
	if p.EntryTime.IsZero() {
		return 0
	}
	return now.Sub(p.EntryTime)
}

// PositionBook is the persisted document: agent -> asset -> position.
type PositionBook map[string]map[string]Position
