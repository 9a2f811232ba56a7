package domain

import (
	"context"
	"time"
)

// PriceQuote is one oracle observation.
type PriceQuote struct {
	Price      float64
	Confidence float64
	Timestamp  time.Time
}

// PriceOracle supplies USD prices for asset symbols. Implementations own
// their connection lifecycle (Start/Stop) and are injected into the core;
// the core never reaches into global state for prices.
type PriceOracle interface {
	// GetPrice returns ErrPriceUnavailable when the oracle has no usable
	// quote for the symbol.
	GetPrice(ctx context.Context, symbol string) (PriceQuote, error)
}

// TokenBalance is a raw on-chain balance plus its decimal-adjusted value.
type TokenBalance struct {
	Raw       string // integer units as a decimal string
	Formatted float64
}

// ChainReader reads live token balances. A zero/empty asset address means the
// chain's native coin.
type ChainReader interface {
	GetTokenBalance(ctx context.Context, owner, assetAddress string, decimals int) (TokenBalance, error)
}

// SwapRequest describes one swap to quote or execute against the venue.
// Owner holds the balances being traded; Signer is the executing wallet
// that submits the transaction and may be empty in observe-only setups.
type SwapRequest struct {
	Owner        string
	Signer       string
	FromAddress  string
	ToAddress    string
	AmountTokens float64
	MinAmountOut float64
}

// SwapQuote is the venue's precheck result.
type SwapQuote struct {
	ExpectedOut float64
	PriceImpact float64
}

// SwapVenue wraps the external approval/swap execution primitives. Both flows
// follow the venue's precheck-then-execute contract.
type SwapVenue interface {
	// HasApproval reports whether the owner's allowance for token already
	// covers amount.
	HasApproval(ctx context.Context, owner, token string, amount float64) (bool, error)
	// Approve submits an allowance transaction and returns its hash.
	Approve(ctx context.Context, owner, token string, amount float64) (string, error)
	// QuoteSwap prechecks the swap and returns the expected output.
	QuoteSwap(ctx context.Context, req SwapRequest) (SwapQuote, error)
	// ExecuteSwap submits the swap and returns its transaction hash.
	ExecuteSwap(ctx context.Context, req SwapRequest) (string, error)
}

// TxConfirmer blocks until a transaction is confirmed on-chain or the wait
// budget is exhausted (ErrConfirmTimeout).
type TxConfirmer interface {
	WaitConfirmed(ctx context.Context, txHash string, timeout, poll time.Duration) error
}
