package execution

import "time"

// RetryPolicy is shared by the buy and sell paths.
type RetryPolicy struct {
	MaxAttempts int
	// FeeLadder is the priority fee (native units) for attempt i, clamped to the last rung.
	FeeLadder []float64
	// Backoff is the pause after failed attempt i, clamped to the last rung.
	Backoff        []time.Duration
	AttemptTimeout time.Duration
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		FeeLadder:      []float64{0.0001, 0.0005, 0.001, 0.003, 0.005},
		Backoff:        []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second},
		AttemptTimeout: 15 * time.Second,
		ConfirmTimeout: 45 * time.Second,
		PollInterval:   2 * time.Second,
	}
}

// Fee returns the priority fee for a 1-based attempt number.
func (p RetryPolicy) Fee(attempt int) float64 {
	if len(p.FeeLadder) == 0 {
		return 0
	}
	return p.FeeLadder[clampIndex(attempt-1, len(p.FeeLadder))]
}

// Pause returns the backoff after a failed 1-based attempt.
func (p RetryPolicy) Pause(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	return p.Backoff[clampIndex(attempt-1, len(p.Backoff))]
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.FeeLadder == nil {
		p.FeeLadder = d.FeeLadder
	}
	if p.Backoff == nil {
		p.Backoff = d.Backoff
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}
	if p.ConfirmTimeout <= 0 {
		p.ConfirmTimeout = d.ConfirmTimeout
	}
	if p.PollInterval <= 0 {
		p.PollInterval = d.PollInterval
	}
	return p
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
