package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInactivePortfolio = errors.New("portfolio inactive")
	ErrInvalidSwap       = errors.New("invalid swap parameters")
	ErrAllocationSum     = errors.New("allocation targets do not sum to 1")
	ErrPriceUnavailable  = errors.New("price unavailable")
	ErrLockHeld          = errors.New("lock already held")
	ErrConfirmTimeout    = errors.New("transaction confirmation timed out")
)

// ChainReadError marks a per-asset balance or price read failure. The
// aggregator degrades the affected asset's value to zero for the cycle
// instead of aborting the refresh.
type ChainReadError struct {
	Symbol string
	Err    error
}

func (e *ChainReadError) Error() string {
	return fmt.Sprintf("chain read for %s: %v", e.Symbol, e.Err)
}

func (e *ChainReadError) Unwrap() error { return e.Err }

// SwapExecutionError reports the first swap that failed during sequential
// execution. Index is the position in the priority-ordered plan; swaps after
// it were never submitted.
type SwapExecutionError struct {
	Index int
	From  string
	To    string
	Err   error
}

func (e *SwapExecutionError) Error() string {
	return fmt.Sprintf("swap %d (%s->%s) failed: %v", e.Index, e.From, e.To, e.Err)
}

func (e *SwapExecutionError) Unwrap() error { return e.Err }

// fatalPatterns are error-message fragments that indicate an unrecoverable
// resource problem. Retrying the cycle cannot fix these; the portfolio is
// taken out of scheduling until an operator re-enables it.
var fatalPatterns = []string{
	"insufficient funds",
	"insufficient balance",
	"insufficient gas",
	"intrinsic gas too low",
	"out of gas",
	"gas required exceeds allowance",
}

// IsFatalResource reports whether err belongs to the unrecoverable
// insufficient-balance/gas class.
func IsFatalResource(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range fatalPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
