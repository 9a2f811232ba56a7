package domain

import "time"

// JobStatus tracks the rebalance audit record lifecycle. Progression is
// pending -> executing -> (completed | failed); cancelled is operator-driven.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusExecuting JobStatus = "executing"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// SwapRecord is the persisted snapshot of one planned swap and its outcome.
type SwapRecord struct {
	FromAsset    string  `json:"from_asset"`
	ToAsset      string  `json:"to_asset"`
	AmountUSD    float64 `json:"amount_usd"`
	AmountTokens float64 `json:"amount_tokens"`
	ExpectedOut  float64 `json:"expected_out"`
	MinAmountOut float64 `json:"min_amount_out"`
	TxHash       string  `json:"tx_hash,omitempty"`
}

// RebalanceJob is the audit artifact written when a rebalance begins
// executing. It is always persisted, whether or not every swap confirmed.
type RebalanceJob struct {
	ID           string
	PortfolioID  string
	Status       JobStatus
	Policy       RebalancePolicy
	MaxDeviation float64
	Swaps        []SwapRecord
	TxHashes     []string
	Error        string
	StartedAt    time.Time
	CompletedAt  *time.Time
}
