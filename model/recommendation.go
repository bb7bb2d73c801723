package model

import "time"

type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// rank orders signals for upgrade/downgrade comparisons.
func (s Signal) rank() int {
	switch s {
	case SignalSell:
		return -1
	case SignalBuy:
		return 1
	}
	return 0
}

// Upgrades reports whether s is a more bullish call than prev.
func (s Signal) Upgrades(prev Signal) bool { return s.rank() > prev.rank() }

// Downgrades reports whether s is a more bearish call than prev.
func (s Signal) Downgrades(prev Signal) bool { return s.rank() < prev.rank() }

type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

type Horizon string

const (
	HorizonShort  Horizon = "SHORT"
	HorizonMedium Horizon = "MEDIUM"
	HorizonLong   Horizon = "LONG"
)

// Recommendation is one expert's directional call plus confidence, profit
// and risk metadata at a point in time. It is immutable once created; the
// engine reads it as evaluation context and never writes it back.
type Recommendation struct {
	ID     string
	Symbol string
	Signal Signal

	Confidence        float64 // 0..100
	ExpectedProfitPct float64
	Risk              RiskLevel
	Horizon           Horizon

	// PriceAtDate is the instrument price the expert saw when it made
	// the call. Expert target prices are derived from it.
	PriceAtDate float64

	ExpertID  string
	Processed bool
	CreatedAt time.Time
}

// TargetPrice returns the price implied by the recommendation:
// PriceAtDate moved by ExpectedProfitPct in the direction of the signal.
// Returns false when the recommendation carries no usable reference price.
func (r *Recommendation) TargetPrice() (float64, bool) {
	if r.PriceAtDate <= 0 {
		return 0, false
	}
	move := r.ExpectedProfitPct / 100
	if r.Signal == SignalSell {
		move = -move
	}
	return r.PriceAtDate * (1 + move), true
}
