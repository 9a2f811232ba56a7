package rebalance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
	"github.com/alanyoungcy/rebalancerbot/internal/telemetry"
)

// ExecConfig carries the executor's wait policy and dust floor.
type ExecConfig struct {
	DustFloorUSD   float64
	ConfirmTimeout time.Duration
	ConfirmPoll    time.Duration
}

// JobArchiver uploads finished job reports to cold storage. Satisfied by the
// S3 archiver.
type JobArchiver interface {
	ArchiveJob(ctx context.Context, job domain.RebalanceJob) (string, error)
}

// Executor runs a plan's swaps strictly sequentially in descending priority
// order, confirming each transaction before submitting the next. The first
// failure aborts the remaining queue; an audit RebalanceJob is written
// regardless of outcome.
type Executor struct {
	venue     domain.SwapVenue
	confirmer domain.TxConfirmer
	jobs      domain.RebalanceJobStore
	assets    domain.AssetStore
	archiver  JobArchiver
	signer    string
	cfg       ExecConfig
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// NewExecutor wires the executor.
func NewExecutor(
	venue domain.SwapVenue,
	confirmer domain.TxConfirmer,
	jobs domain.RebalanceJobStore,
	assets domain.AssetStore,
	cfg ExecConfig,
	metrics *telemetry.Metrics,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		venue:     venue,
		confirmer: confirmer,
		jobs:      jobs,
		assets:    assets,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With(slog.String("component", "executor")),
	}
}

// SetArchiver turns on cold-storage upload of finished job reports.
func (e *Executor) SetArchiver(a JobArchiver) { e.archiver = a }

// SetSigner sets the executing wallet address stamped on every venue
// request so the venue submits transactions from the resolved identity.
func (e *Executor) SetSigner(address string) { e.signer = address }

// Execute runs every swap of the plan for the given portfolio. It returns
// the confirmed transaction hashes for swaps that completed before any
// failure; the error carries the index and reason of the first failing swap.
func (e *Executor) Execute(ctx context.Context, plan domain.RebalancePlan, portfolio domain.Portfolio) ([]string, error) {
	swaps := make([]domain.SwapOperation, 0, len(plan.Swaps))
	for _, op := range plan.Swaps {
		if err := op.Validate(e.cfg.DustFloorUSD); err != nil {
			e.logger.Warn("swap dropped before dispatch",
				slog.String("from", op.FromSymbol),
				slog.String("to", op.ToSymbol),
				slog.Float64("amount_usd", op.AmountUSD),
				slog.Any("error", err))
			continue
		}
		swaps = append(swaps, op)
	}
	sort.SliceStable(swaps, func(i, j int) bool { return swaps[i].Priority > swaps[j].Priority })

	job := domain.RebalanceJob{
		ID:           uuid.New().String(),
		PortfolioID:  portfolio.ID,
		Status:       domain.JobStatusExecuting,
		Policy:       plan.Policy,
		MaxDeviation: plan.MaxDeviation,
		Swaps:        toRecords(swaps),
		StartedAt:    time.Now().UTC(),
	}
	if err := e.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("rebalance: create job: %w", err)
	}

	txHashes := make([]string, 0, len(swaps))
	for i, op := range swaps {
		hash, err := e.runSwap(ctx, portfolio, op)
		if err != nil {
			e.countSwap("failed")
			execErr := &domain.SwapExecutionError{Index: i, From: op.FromSymbol, To: op.ToSymbol, Err: err}
			e.finishJob(ctx, job.ID, domain.JobStatusFailed, execErr.Error(), txHashes)
			return txHashes, execErr
		}
		e.countSwap("confirmed")
		txHashes = append(txHashes, hash)
		e.logger.Info("swap confirmed",
			slog.String("job_id", job.ID),
			slog.Int("index", i),
			slog.String("from", op.FromSymbol),
			slog.String("to", op.ToSymbol),
			slog.Float64("amount_usd", op.AmountUSD),
			slog.String("tx_hash", hash))
	}

	e.finishJob(ctx, job.ID, domain.JobStatusCompleted, "", txHashes)
	return txHashes, nil
}

// runSwap drives one swap through the approve/quote/execute/confirm sequence.
func (e *Executor) runSwap(ctx context.Context, portfolio domain.Portfolio, op domain.SwapOperation) (string, error) {
	from, err := e.assets.GetByID(ctx, op.FromAssetID)
	if err != nil {
		return "", fmt.Errorf("resolve source asset: %w", err)
	}
	to, err := e.assets.GetByID(ctx, op.ToAssetID)
	if err != nil {
		return "", fmt.Errorf("resolve destination asset: %w", err)
	}

	// The native coin needs no allowance.
	if !from.IsNative() {
		if err := e.ensureApproval(ctx, portfolio.OwnerAddress, from.Address, op.AmountTokens); err != nil {
			return "", err
		}
	}

	req := domain.SwapRequest{
		Owner:        portfolio.OwnerAddress,
		Signer:       e.signer,
		FromAddress:  from.Address,
		ToAddress:    to.Address,
		AmountTokens: op.AmountTokens,
		MinAmountOut: op.MinAmountOut,
	}

	quote, err := e.venue.QuoteSwap(ctx, req)
	if err != nil {
		return "", fmt.Errorf("quote swap: %w", err)
	}
	if quote.ExpectedOut < op.MinAmountOut {
		return "", fmt.Errorf("quote below slippage floor: expected %.8f, floor %.8f", quote.ExpectedOut, op.MinAmountOut)
	}

	hash, err := e.venue.ExecuteSwap(ctx, req)
	if err != nil {
		return "", fmt.Errorf("execute swap: %w", err)
	}
	if err := e.waitConfirmed(ctx, hash); err != nil {
		return "", fmt.Errorf("confirm swap %s: %w", hash, err)
	}
	return hash, nil
}

func (e *Executor) ensureApproval(ctx context.Context, owner, token string, amount float64) error {
	ok, err := e.venue.HasApproval(ctx, owner, token, amount)
	if err != nil {
		return fmt.Errorf("check approval: %w", err)
	}
	if ok {
		return nil
	}
	hash, err := e.venue.Approve(ctx, owner, token, amount)
	if err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	e.logger.Info("approval submitted", slog.String("token", token), slog.String("tx_hash", hash))
	if err := e.waitConfirmed(ctx, hash); err != nil {
		return fmt.Errorf("confirm approval %s: %w", hash, err)
	}
	return nil
}

func (e *Executor) waitConfirmed(ctx context.Context, hash string) error {
	start := time.Now()
	err := e.confirmer.WaitConfirmed(ctx, hash, e.cfg.ConfirmTimeout, e.cfg.ConfirmPoll)
	if e.metrics != nil {
		e.metrics.ConfirmWaitSecs.Observe(time.Since(start).Seconds())
	}
	return err
}

// finishJob records the terminal job state. A persistence failure here is
// logged, not returned; the execution outcome already happened on-chain.
func (e *Executor) finishJob(ctx context.Context, jobID string, status domain.JobStatus, errMsg string, txHashes []string) {
	now := time.Now().UTC()
	if err := e.jobs.UpdateStatus(ctx, jobID, status, errMsg, txHashes, &now); err != nil {
		e.logger.Error("failed to persist job status",
			slog.String("job_id", jobID),
			slog.String("status", string(status)),
			slog.Any("error", err))
	}

	if e.archiver != nil {
		job, err := e.jobs.GetByID(ctx, jobID)
		if err == nil {
			_, err = e.archiver.ArchiveJob(ctx, job)
		}
		if err != nil {
			e.logger.Warn("job report archival failed",
				slog.String("job_id", jobID),
				slog.Any("error", err))
		}
	}
}

func (e *Executor) countSwap(outcome string) {
	if e.metrics != nil {
		e.metrics.SwapsTotal.WithLabelValues(outcome).Inc()
	}
}

func toRecords(swaps []domain.SwapOperation) []domain.SwapRecord {
	records := make([]domain.SwapRecord, len(swaps))
	for i, op := range swaps {
		records[i] = domain.SwapRecord{
			FromAsset:    op.FromSymbol,
			ToAsset:      op.ToSymbol,
			AmountUSD:    op.AmountUSD,
			AmountTokens: op.AmountTokens,
			ExpectedOut:  op.ExpectedOut,
			MinAmountOut: op.MinAmountOut,
		}
	}
	return records
}
