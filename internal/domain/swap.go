package domain

import (
	"fmt"
	"time"
)

// USDEpsilon is the "close enough to skip" tolerance for USD comparisons.
const USDEpsilon = 1e-2

// SwapOperation is one planned trade from an over-allocated asset to an
// under-allocated one. Consumed by the executor within the same cycle; only
// the RebalanceJob snapshot outlives it.
type SwapOperation struct {
	FromAssetID string
	ToAssetID   string
	FromSymbol  string
	ToSymbol    string

	AmountUSD    float64 // traded notional
	AmountTokens float64 // source tokens, floored to the source asset's decimals

	ExpectedOut  float64 // destination tokens at the quoted price
	MinAmountOut float64 // slippage floor

	// Priority orders execution: largest combined imbalance first.
	Priority float64
}

// Validate rejects swaps that should never reach the venue: dust notionals
// and self-swaps. Dropped swaps are not a cycle failure.
func (s SwapOperation) Validate(dustFloorUSD float64) error {
	if s.FromAssetID == s.ToAssetID {
		return fmt.Errorf("%s -> %s is a self swap: %w", s.FromSymbol, s.ToSymbol, ErrInvalidSwap)
	}
	if s.AmountUSD < dustFloorUSD {
		return fmt.Errorf("%s -> %s notional $%.4f below dust floor: %w",
			s.FromSymbol, s.ToSymbol, s.AmountUSD, ErrInvalidSwap)
	}
	if s.AmountTokens <= 0 {
		return fmt.Errorf("%s -> %s has no token amount: %w", s.FromSymbol, s.ToSymbol, ErrInvalidSwap)
	}
	return nil
}

// RebalancePlan is the ordered output of the planner for one cycle.
type RebalancePlan struct {
	PortfolioID   string
	Policy        RebalancePolicy
	TotalValueUSD float64
	MaxDeviation  float64
	Swaps         []SwapOperation
	CreatedAt     time.Time
}

// Empty reports whether the plan has nothing to execute.
func (p RebalancePlan) Empty() bool { return len(p.Swaps) == 0 }
