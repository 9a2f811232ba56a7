package domain

import (
	"fmt"
	"math"
	"time"
)

// TargetSumEpsilon is the tolerance for the 100%-allocation-sum invariant.
const TargetSumEpsilon = 1e-3

// Allocation binds a portfolio to an asset with a target fraction. Current
// balance/value/percentage are caches refreshed each monitoring cycle.
type Allocation struct {
	ID          string
	PortfolioID string
	AssetID     string

	TargetPercentage float64 // 0..1

	// Derived, refreshed by the balance aggregator.
	CurrentPercentage float64
	CurrentValueUSD   float64
	CurrentBalance    string // raw integer-unit balance as a decimal string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateTargetSum enforces the allocation-sum invariant at create/update
// time: targets must sum to 1 within TargetSumEpsilon. It is never re-checked
// during a monitoring cycle.
func ValidateTargetSum(targets []float64) error {
	var sum float64
	for _, t := range targets {
		if t < 0 || t > 1 {
			return fmt.Errorf("target %v out of range [0,1]: %w", t, ErrAllocationSum)
		}
		sum += t
	}
	if math.Abs(sum-1) >= TargetSumEpsilon {
		return fmt.Errorf("targets sum to %v: %w", sum, ErrAllocationSum)
	}
	return nil
}
