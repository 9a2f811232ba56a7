package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
	"github.com/alanyoungcy/rebalancerbot/internal/service"
)

// AssetHandler serves the asset catalog endpoints.
type AssetHandler struct {
	svc    *service.PortfolioService
	assets domain.AssetStore
	logger *slog.Logger
}

// NewAssetHandler creates an AssetHandler.
func NewAssetHandler(svc *service.PortfolioService, assets domain.AssetStore, logger *slog.Logger) *AssetHandler {
	return &AssetHandler{svc: svc, assets: assets, logger: logger.With(slog.String("handler", "asset"))}
}

type registerAssetPayload struct {
	Symbol      string `json:"symbol"`
	Address     string `json:"address"`
	Decimals    int    `json:"decimals"`
	PriceFeedID string `json:"price_feed_id"`
}

// ListAssets returns the active asset catalog.
// GET /api/assets
func (h *AssetHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.assets.ListActive(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list assets failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list assets")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": assets})
}

// RegisterAsset adds a tradable asset to the catalog.
// POST /api/assets
func (h *AssetHandler) RegisterAsset(w http.ResponseWriter, r *http.Request) {
	var payload registerAssetPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	asset, err := h.svc.RegisterAsset(r.Context(), domain.Asset{
		Symbol:      strings.ToUpper(strings.TrimSpace(payload.Symbol)),
		Address:     payload.Address,
		Decimals:    payload.Decimals,
		PriceFeedID: payload.PriceFeedID,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "register asset failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to register asset")
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}
