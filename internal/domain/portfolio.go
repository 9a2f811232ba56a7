package domain

import "time"

// RebalancePolicy selects how a portfolio reacts to allocation drift.
type RebalancePolicy string

const (
	// PolicyThreshold trades only assets whose deviation exceeds the
	// portfolio tolerance.
	PolicyThreshold RebalancePolicy = "threshold"
	// PolicyStrictPeriodic trades every drifted asset back toward its exact
	// target on every cycle, regardless of tolerance.
	PolicyStrictPeriodic RebalancePolicy = "strict_periodic"
)

// Valid reports whether p is a known policy.
func (p RebalancePolicy) Valid() bool {
	return p == PolicyThreshold || p == PolicyStrictPeriodic
}

// Portfolio is a monitored multi-asset wallet with target allocations.
// Soft-deleted via IsActive; a fatal execution error also flips IsActive off
// until an operator re-enables monitoring.
type Portfolio struct {
	ID            string
	OwnerAddress  string
	Name          string
	IsActive      bool
	Policy        RebalancePolicy
	Threshold     float64 // tolerance fraction, only meaningful under PolicyThreshold
	Interval      time.Duration
	TotalValueUSD float64
	SigningKeyRef string // reference to the encrypted executing key

	// LastObservedAt is bumped on every balance refresh; LastRebalanceAt only
	// when a cycle completes with all swaps confirmed.
	LastObservedAt  *time.Time
	LastRebalanceAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
