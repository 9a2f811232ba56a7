package rebalance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
)

var execTestAssets = []domain.Asset{
	{ID: "asset-WETH", Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18, IsActive: true},
	{ID: "asset-USDC", Symbol: "USDC", Address: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", Decimals: 6, IsActive: true},
	{ID: "asset-ETH", Symbol: "ETH", Address: domain.ZeroAddress, Decimals: 18, IsActive: true},
}

func testExecutor(t *testing.T, venue *fakeVenue, confirmer *fakeConfirmer, jobs *memJobStore) *Executor {
	t.Helper()
	cfg := ExecConfig{DustFloorUSD: 0.01, ConfirmTimeout: time.Second, ConfirmPoll: time.Millisecond}
	return NewExecutor(venue, confirmer, jobs, newMemAssetStore(execTestAssets...), cfg, nil, discardLogger())
}

func swapOp(from, to string, amountUSD, tokens, priority float64) domain.SwapOperation {
	return domain.SwapOperation{
		FromAssetID:  "asset-" + from,
		ToAssetID:    "asset-" + to,
		FromSymbol:   from,
		ToSymbol:     to,
		AmountUSD:    amountUSD,
		AmountTokens: tokens,
		ExpectedOut:  amountUSD,
		MinAmountOut: amountUSD * 0.995,
		Priority:     priority,
	}
}

func testPortfolio() domain.Portfolio {
	return domain.Portfolio{
		ID:           "pf-1",
		OwnerAddress: "0xowner",
		Name:         "main",
		IsActive:     true,
		Policy:       domain.PolicyThreshold,
		Threshold:    0.05,
	}
}

func TestExecuteRunsInPriorityOrder(t *testing.T) {
	venue := newFakeVenue()
	jobs := newMemJobStore()
	exec := testExecutor(t, venue, &fakeConfirmer{}, jobs)

	plan := domain.RebalancePlan{
		PortfolioID: "pf-1",
		Policy:      domain.PolicyThreshold,
		Swaps: []domain.SwapOperation{
			swapOp("USDC", "WETH", 10, 10, 20),
			swapOp("WETH", "USDC", 100, 0.05, 200),
		},
	}

	hashes, err := exec.Execute(context.Background(), plan, testPortfolio())
	require.NoError(t, err)
	require.Len(t, hashes, 2)

	// Highest priority dispatched first.
	require.Len(t, venue.executed, 2)
	assert.Equal(t, "0x4200000000000000000000000000000000000006", venue.executed[0].FromAddress)

	job, ok := jobs.single()
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, hashes, job.TxHashes)
	assert.Len(t, job.Swaps, 2)
	require.NotNil(t, job.CompletedAt)
}

func TestExecuteStampsSignerOnVenueRequests(t *testing.T) {
	venue := newFakeVenue()
	jobs := newMemJobStore()
	exec := testExecutor(t, venue, &fakeConfirmer{}, jobs)
	exec.SetSigner("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	plan := domain.RebalancePlan{
		PortfolioID: "pf-1",
		Swaps: []domain.SwapOperation{
			swapOp("WETH", "USDC", 100, 0.05, 200),
			swapOp("USDC", "WETH", 10, 10, 20),
		},
	}

	_, err := exec.Execute(context.Background(), plan, testPortfolio())
	require.NoError(t, err)

	require.Len(t, venue.executed, 2)
	for _, req := range venue.executed {
		assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", req.Signer)
		assert.Equal(t, "0xowner", req.Owner)
	}
}

func TestExecuteAbortsOnFirstFailure(t *testing.T) {
	venue := newFakeVenue()
	venue.failAtIndex = 1
	venue.failErr = errors.New("execution reverted")
	jobs := newMemJobStore()
	exec := testExecutor(t, venue, &fakeConfirmer{}, jobs)

	plan := domain.RebalancePlan{
		PortfolioID: "pf-1",
		Swaps: []domain.SwapOperation{
			swapOp("WETH", "USDC", 100, 0.05, 200),
			swapOp("USDC", "WETH", 50, 50, 100),
			swapOp("WETH", "USDC", 10, 0.005, 20),
		},
	}

	hashes, err := exec.Execute(context.Background(), plan, testPortfolio())
	require.Error(t, err)

	var execErr *domain.SwapExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 1, execErr.Index)
	assert.Equal(t, "USDC", execErr.From)

	// Only the swap before the failure confirmed; the queue stopped there.
	assert.Len(t, hashes, 1)
	assert.Len(t, venue.executed, 1)

	job, ok := jobs.single()
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "swap 1")
	assert.Equal(t, hashes, job.TxHashes)
}

func TestExecuteSubmitsApprovalWhenMissing(t *testing.T) {
	venue := newFakeVenue()
	jobs := newMemJobStore()
	exec := testExecutor(t, venue, &fakeConfirmer{}, jobs)

	plan := domain.RebalancePlan{
		PortfolioID: "pf-1",
		Swaps:       []domain.SwapOperation{swapOp("WETH", "USDC", 100, 0.05, 200)},
	}

	_, err := exec.Execute(context.Background(), plan, testPortfolio())
	require.NoError(t, err)
	assert.True(t, venue.approved["0x4200000000000000000000000000000000000006"])
}

func TestExecuteSkipsApprovalForNativeAsset(t *testing.T) {
	venue := newFakeVenue()
	jobs := newMemJobStore()
	exec := testExecutor(t, venue, &fakeConfirmer{}, jobs)

	plan := domain.RebalancePlan{
		PortfolioID: "pf-1",
		Swaps:       []domain.SwapOperation{swapOp("ETH", "USDC", 100, 0.05, 200)},
	}

	_, err := exec.Execute(context.Background(), plan, testPortfolio())
	require.NoError(t, err)
	assert.Empty(t, venue.approved)
}

func TestExecuteDropsInvalidSwaps(t *testing.T) {
	venue := newFakeVenue()
	jobs := newMemJobStore()
	exec := testExecutor(t, venue, &fakeConfirmer{}, jobs)

	plan := domain.RebalancePlan{
		PortfolioID: "pf-1",
		Swaps: []domain.SwapOperation{
			swapOp("WETH", "WETH", 100, 0.05, 300), // self swap
			swapOp("WETH", "USDC", 0.001, 0.0000005, 250), // dust
			swapOp("WETH", "USDC", 100, 0.05, 200),
		},
	}

	hashes, err := exec.Execute(context.Background(), plan, testPortfolio())
	require.NoError(t, err)
	assert.Len(t, hashes, 1)

	job, ok := jobs.single()
	require.True(t, ok)
	assert.Len(t, job.Swaps, 1)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
}

func TestExecuteFailsOnConfirmTimeout(t *testing.T) {
	venue := newFakeVenue()
	confirmer := &fakeConfirmer{failHashes: map[string]error{"0xswap-0": domain.ErrConfirmTimeout}}
	jobs := newMemJobStore()
	exec := testExecutor(t, venue, confirmer, jobs)

	plan := domain.RebalancePlan{
		PortfolioID: "pf-1",
		Swaps: []domain.SwapOperation{
			swapOp("WETH", "USDC", 100, 0.05, 200),
			swapOp("USDC", "WETH", 50, 50, 100),
		},
	}

	hashes, err := exec.Execute(context.Background(), plan, testPortfolio())
	require.ErrorIs(t, err, domain.ErrConfirmTimeout)
	assert.Empty(t, hashes)

	// The second swap was never submitted.
	assert.Len(t, venue.executed, 1)
}
