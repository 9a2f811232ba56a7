// Package chain reads live token balances from an EVM chain and waits for
// transaction confirmations. It is a leaf: nothing here depends on the
// planner or executor.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
)

// balanceOfSelector is the 4-byte selector of ERC-20 balanceOf(address).
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// Reader implements domain.ChainReader and domain.TxConfirmer over a JSON-RPC
// endpoint. All RPC calls share one rate limiter.
type Reader struct {
	client  *ethclient.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Config holds Reader parameters.
type Config struct {
	RPCURL         string
	RequestsPerSec float64
}

// NewReader dials the RPC endpoint and returns a Reader.
func NewReader(cfg Config, logger *slog.Logger) (*Reader, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 10
	}
	return &Reader{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)),
		logger:  logger.With(slog.String("component", "chain_reader")),
	}, nil
}

// NewReaderFromClient wraps an existing ethclient, used by tests and tools
// that manage the connection themselves.
func NewReaderFromClient(client *ethclient.Client, logger *slog.Logger) *Reader {
	return &Reader{
		client:  client,
		limiter: rate.NewLimiter(10, 10),
		logger:  logger.With(slog.String("component", "chain_reader")),
	}
}

// Close releases the underlying RPC connection.
func (r *Reader) Close() {
	r.client.Close()
}

// GetTokenBalance returns the owner's balance of the given asset. An empty or
// zero asset address reads the native coin balance; anything else is treated
// as an ERC-20 contract.
func (r *Reader) GetTokenBalance(ctx context.Context, owner, assetAddress string, decimals int) (domain.TokenBalance, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return domain.TokenBalance{}, err
	}

	ownerAddr := common.HexToAddress(owner)

	var raw *big.Int
	var err error
	if assetAddress == "" || assetAddress == domain.ZeroAddress {
		raw, err = r.client.BalanceAt(ctx, ownerAddr, nil)
		if err != nil {
			return domain.TokenBalance{}, fmt.Errorf("chain: native balance of %s: %w", owner, err)
		}
	} else {
		raw, err = r.erc20BalanceOf(ctx, common.HexToAddress(assetAddress), ownerAddr)
		if err != nil {
			return domain.TokenBalance{}, fmt.Errorf("chain: balanceOf %s for %s: %w", assetAddress, owner, err)
		}
	}

	return domain.TokenBalance{
		Raw:       raw.String(),
		Formatted: FormatUnits(raw, decimals),
	}, nil
}

// erc20BalanceOf performs an eth_call of balanceOf(owner) against the token
// contract.
func (r *Reader) erc20BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)

	msg := ethereum.CallMsg{To: &token, Data: data}
	out, err := r.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return big.NewInt(0), nil
	}
	return new(big.Int).SetBytes(out), nil
}

// WaitConfirmed polls for the transaction receipt until it lands or the
// timeout elapses. A receipt with a failed status is an error, not a timeout.
func (r *Reader) WaitConfirmed(ctx context.Context, txHash string, timeout, poll time.Duration) error {
	hash := common.HexToHash(txHash)
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		receipt, err := r.client.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status == 0 {
				return fmt.Errorf("chain: tx %s reverted", txHash)
			}
			return nil
		}
		if err != ethereum.NotFound {
			r.logger.Warn("receipt poll failed",
				slog.String("tx", txHash),
				slog.String("error", err.Error()),
			)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("chain: tx %s: %w", txHash, domain.ErrConfirmTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// FormatUnits converts a raw integer-unit amount to its decimal value.
func FormatUnits(raw *big.Int, decimals int) float64 {
	if raw == nil || raw.Sign() == 0 {
		return 0
	}
	f := new(big.Float).SetInt(raw)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(f, scale).Float64()
	return out
}

// Compile-time interface checks.
var (
	_ domain.ChainReader = (*Reader)(nil)
	_ domain.TxConfirmer = (*Reader)(nil)
)
