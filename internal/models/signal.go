package models

import "time"

// Signal announces a newly discovered asset worth sniping.
type Signal struct {
	Asset        string    `json:"mint"`
	Ticker       string    `json:"symbol"`
	Score        float64   `json:"score"`
	DiscoveredAt time.Time `json:"discoveredAt"`
}
