package models

type OutcomeKind string

const (
	Confirmed    OutcomeKind = "confirmed"
	Failed       OutcomeKind = "failed"
	Inconclusive OutcomeKind = "inconclusive"
	Skipped      OutcomeKind = "skipped"
)

type FailKind string

const (
	FailNone              FailKind = ""
	FailBlocked           FailKind = "blocked"
	FailBusy              FailKind = "busy"
	FailInsufficientFunds FailKind = "insufficient_funds"
	FailInvalidAmount     FailKind = "invalid_amount"
	FailNoVenue           FailKind = "no_venue"
	FailExhausted         FailKind = "exhausted"
)

// Outcome is the result of one execute-buy or execute-sell.
// Received is tokens for buys and native for sells.
type Outcome struct {
	Kind        OutcomeKind `json:"kind"`
	Fail        FailKind    `json:"fail,omitempty"`
	Received    float64     `json:"received"`
	TxRef       string      `json:"txRef,omitempty"`
	Attempts    int         `json:"attempts"`
	RealizedPnL float64     `json:"realizedPnl,omitempty"`
}

func (o Outcome) OK() bool { return o.Kind == Confirmed }
