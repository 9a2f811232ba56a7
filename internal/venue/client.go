// Package venue wraps the external swap venue's precheck/execute API for
// ERC-20 approvals and swaps. It is a leaf dependency of the executor.
package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
)

// Config holds venue API parameters.
type Config struct {
	BaseURL    string
	APIKey     string
	MaxRetries int
}

// Client implements domain.SwapVenue against the venue's REST API. Every
// operation follows the venue's {success, result} envelope; a response with
// success=false is surfaced as an error carrying the venue's message, so
// fatal-resource classification can inspect it.
type Client struct {
	baseURL string
	apiKey  string
	http    *retryablehttp.Client
	logger  *slog.Logger
}

// NewClient creates a venue Client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = cfg.MaxRetries
	c.RetryWaitMin = 250 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.HTTPClient.Timeout = 30 * time.Second
	c.Logger = nil
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    c,
		logger:  logger.With(slog.String("component", "venue")),
	}
}

// envelope is the venue's uniform response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// txResult is the execute-flow payload.
type txResult struct {
	TxHash string `json:"tx_hash"`
}

// allowanceResult is the approval-precheck payload.
type allowanceResult struct {
	Allowance float64 `json:"allowance"`
}

// quoteResult is the swap-precheck payload.
type quoteResult struct {
	ExpectedOut float64 `json:"expected_out"`
	PriceImpact float64 `json:"price_impact"`
}

// HasApproval prechecks whether owner's allowance for token covers amount.
func (c *Client) HasApproval(ctx context.Context, owner, token string, amount float64) (bool, error) {
	body := map[string]any{"owner": owner, "token": token}
	var res allowanceResult
	if err := c.post(ctx, "/v1/approval/precheck", body, &res); err != nil {
		return false, fmt.Errorf("venue: approval precheck: %w", err)
	}
	return res.Allowance >= amount, nil
}

// Approve submits an allowance transaction and returns its hash.
func (c *Client) Approve(ctx context.Context, owner, token string, amount float64) (string, error) {
	body := map[string]any{"owner": owner, "token": token, "amount": amount}
	var res txResult
	if err := c.post(ctx, "/v1/approval/execute", body, &res); err != nil {
		return "", fmt.Errorf("venue: approve %s: %w", token, err)
	}
	return res.TxHash, nil
}

// QuoteSwap prechecks the swap and returns the expected output.
func (c *Client) QuoteSwap(ctx context.Context, req domain.SwapRequest) (domain.SwapQuote, error) {
	var res quoteResult
	if err := c.post(ctx, "/v1/swap/precheck", swapBody(req), &res); err != nil {
		return domain.SwapQuote{}, fmt.Errorf("venue: quote swap: %w", err)
	}
	return domain.SwapQuote{ExpectedOut: res.ExpectedOut, PriceImpact: res.PriceImpact}, nil
}

// ExecuteSwap submits the swap and returns its transaction hash.
func (c *Client) ExecuteSwap(ctx context.Context, req domain.SwapRequest) (string, error) {
	var res txResult
	if err := c.post(ctx, "/v1/swap/execute", swapBody(req), &res); err != nil {
		return "", fmt.Errorf("venue: execute swap: %w", err)
	}
	return res.TxHash, nil
}

func swapBody(req domain.SwapRequest) map[string]any {
	body := map[string]any{
		"owner":          req.Owner,
		"from_token":     req.FromAddress,
		"to_token":       req.ToAddress,
		"amount":         req.AmountTokens,
		"min_amount_out": req.MinAmountOut,
	}
	if req.Signer != "" {
		body["signer"] = req.Signer
	}
	return body
}

// post sends a JSON request and decodes the {success, result} envelope into
// out.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("venue rejected: %s", env.Error)
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// Compile-time interface check.
var _ domain.SwapVenue = (*Client)(nil)
