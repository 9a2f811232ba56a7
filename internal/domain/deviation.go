package domain

// DeviationResult is the per-asset drift snapshot computed once per cycle
// from the persisted output of the balance aggregator. It is never stored.
type DeviationResult struct {
	AssetID  string
	Symbol   string
	Decimals int
	PriceUSD float64 // oracle price at observation time, used for USD<->token conversion

	TargetPercentage  float64
	CurrentPercentage float64
	Deviation         float64 // abs(current - target)

	// NeedsRebalance is the strictly-greater threshold test. It only gates
	// participation under PolicyThreshold; strict-periodic planning ignores it.
	NeedsRebalance bool

	CurrentValueUSD float64
	TargetValueUSD  float64
}

// MaxDeviation returns the largest absolute deviation in the set, or 0 for an
// empty set.
func MaxDeviation(devs []DeviationResult) float64 {
	var max float64
	for _, d := range devs {
		if d.Deviation > max {
			max = d.Deviation
		}
	}
	return max
}
