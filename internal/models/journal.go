package models

import "time"

type Action string

const (
	ActionBuy          Action = "BUY"
	ActionSell         Action = "SELL"
	ActionBuyFail      Action = "BUY_FAIL"
	ActionSellFail     Action = "SELL_FAIL"
	ActionSkip         Action = "SKIP"
	ActionGateApproved Action = "GATE_APPROVED"
	ActionGateBlocked  Action = "GATE_BLOCKED"
	ActionBundle       Action = "BUNDLE"
	ActionStaleCleanup Action = "STALE_CLEANUP"
)

// IsTrade reports whether the action is a confirmed buy or sell.
func (a Action) IsTrade() bool {
	return a == ActionBuy || a == ActionSell
}

// JournalEntry is one immutable record in the trade journal.
type JournalEntry struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	TradingDay   string    `json:"tradingDay"`
	Agent        string    `json:"agent"`
	Asset        string    `json:"asset"`
	Ticker       string    `json:"ticker,omitempty"`
	Action       Action    `json:"action"`
	Reason       string    `json:"reason,omitempty"`
	NativeAmount float64   `json:"nativeAmount"`
	Tokens       int64     `json:"tokens"`
	TxRef        string    `json:"txRef,omitempty"`
	Venue        string    `json:"venue,omitempty"`
	Attempt      int       `json:"attempt,omitempty"`
	RealizedPnL  *float64  `json:"realizedPnl,omitempty"`
	Paper        bool      `json:"paper,omitempty"`
}

// JournalFilter narrows Entries queries. Zero values match everything.
type JournalFilter struct {
	Agent  string
	Asset  string
	Action Action
	Since  time.Time
	Limit  int
}

func (f JournalFilter) Match(e JournalEntry) bool {
	if f.Agent != "" && e.Agent != f.Agent {
		return false
	}
	if f.Asset != "" && e.Asset != f.Asset {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

type JournalStats struct {
	TotalEntries int64      `json:"totalEntries"`
	BuyCount     int64      `json:"buyCount"`
	SellCount    int64      `json:"sellCount"`
	FailCount    int64      `json:"failCount"`
	NativeVolume float64    `json:"nativeVolume"`
	RealizedPnL  float64    `json:"realizedPnl"`
	FirstEntry   *time.Time `json:"firstEntry"`
	LastEntry    *time.Time `json:"lastEntry"`
}
