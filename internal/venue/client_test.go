package venue

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
)

func newTestVenue(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewClient(Config{BaseURL: srv.URL}, logger)
}

func TestHasApproval(t *testing.T) {
	c := newTestVenue(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/approval/precheck", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"result":  map[string]any{"allowance": 100.0},
		})
	})

	ok, err := c.HasApproval(context.Background(), "0xowner", "0xtoken", 50)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.HasApproval(context.Background(), "0xowner", "0xtoken", 150)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExecuteSwapReturnsHash(t *testing.T) {
	c := newTestVenue(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/swap/execute", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0xfrom", body["from_token"])
		assert.Equal(t, 0.5, body["amount"])
		assert.Equal(t, "0xsigner", body["signer"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"result":  map[string]any{"tx_hash": "0xdeadbeef"},
		})
	})

	hash, err := c.ExecuteSwap(context.Background(), domain.SwapRequest{
		Owner: "0xowner", Signer: "0xsigner", FromAddress: "0xfrom", ToAddress: "0xto",
		AmountTokens: 0.5, MinAmountOut: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", hash)
}

func TestVenueRejectionSurfacesMessage(t *testing.T) {
	c := newTestVenue(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   "insufficient balance for swap",
		})
	})

	_, err := c.ExecuteSwap(context.Background(), domain.SwapRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient balance")
	// The message must remain classifiable as a fatal resource error.
	assert.True(t, domain.IsFatalResource(err))
}

func TestQuoteSwap(t *testing.T) {
	c := newTestVenue(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/swap/precheck", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"result":  map[string]any{"expected_out": 0.0312, "price_impact": 0.001},
		})
	})

	q, err := c.QuoteSwap(context.Background(), domain.SwapRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0.0312, q.ExpectedOut)
	assert.Equal(t, 0.001, q.PriceImpact)
}
