package models

import "strings"

type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
	Hold Direction = "hold"
)

// Decision is what a strategy wants done with one asset.
type Decision struct {
	Action   Direction `json:"action" yaml:"action"`
	Fraction float64   `json:"fraction" yaml:"fraction"`
	Reason   string    `json:"reason" yaml:"reason"`
}

// Normalize clamps Fraction into [0,1] and maps unknown actions to hold.
func (d Decision) Normalize() Decision {
	switch Direction(strings.ToLower(string(d.Action))) {
	case Buy:
		d.Action = Buy
	case Sell:
		d.Action = Sell
	default:
		d.Action = Hold
	}
	if d.Fraction < 0 || d.Fraction != d.Fraction {
		d.Fraction = 0
	}
	if d.Fraction > 1 {
		d.Fraction = 1
	}
	if d.Action != Hold && d.Fraction == 0 {
		d.Action = Hold
	}
	return d
}

func HoldDecision(reason string) Decision {
	return Decision{Action: Hold, Reason: reason}
}
