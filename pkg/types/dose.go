package types

import "time"

// Dose is a single recorded intake of caffeine.
type Dose struct {
	// AmountMg is the caffeine amount in milligrams. Never negative.
	AmountMg float64 `json:"amount_mg"`

	// OccurredAt is when the dose was taken.
	OccurredAt time.Time `json:"occurred_at"`
}
