package risk

// Exit reasons tagged on sell journal entries.
const (
	ReasonTakeProfit = "TAKE_PROFIT"
	ReasonStopLoss   = "STOP_LOSS"
	ReasonTimeout    = "TIMEOUT"
)

// Thresholds are per-position exit triggers as fractions of cost
// (0.5 = +50%). A zero value disables that trigger.
type Thresholds struct {
	TakeProfit float64
	StopLoss   float64 // negative, e.g. -0.3
}

// Check returns the exit reason for a position's PnL fraction, or "" when the
// position should stay open.
func (t Thresholds) Check(pnl float64) string {
	if t.TakeProfit > 0 && pnl >= t.TakeProfit {
		return ReasonTakeProfit
	}
	if t.StopLoss < 0 && pnl <= t.StopLoss {
		return ReasonStopLoss
	}
	return ""
}
