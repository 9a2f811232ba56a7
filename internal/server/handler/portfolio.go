package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
	"github.com/alanyoungcy/rebalancerbot/internal/service"
)

// PortfolioHandler serves portfolio management endpoints on top of the
// portfolio service.
type PortfolioHandler struct {
	svc    *service.PortfolioService
	logger *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler.
func NewPortfolioHandler(svc *service.PortfolioService, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{svc: svc, logger: logger.With(slog.String("handler", "portfolio"))}
}

type targetPayload struct {
	AssetID          string  `json:"asset_id"`
	TargetPercentage float64 `json:"target_percentage"`
}

type createPortfolioPayload struct {
	OwnerAddress string          `json:"owner_address"`
	Name         string          `json:"name"`
	Policy       string          `json:"policy"`
	Threshold    float64         `json:"threshold"`
	Interval     string          `json:"interval"` // Go duration string, e.g. "1h"
	Targets      []targetPayload `json:"targets"`
}

type portfolioView struct {
	domain.Portfolio
	Allocations []domain.Allocation `json:"allocations,omitempty"`
}

// ListPortfolios returns the active portfolios.
// GET /api/portfolios
func (h *PortfolioHandler) ListPortfolios(w http.ResponseWriter, r *http.Request) {
	portfolios, err := h.svc.ListActive(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list portfolios failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list portfolios")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"portfolios": portfolios})
}

// GetPortfolio returns one portfolio with its allocations.
// GET /api/portfolios/{id}
func (h *PortfolioHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, allocs, err := h.svc.GetPortfolio(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "portfolio not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get portfolio failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to load portfolio")
		return
	}
	writeJSON(w, http.StatusOK, portfolioView{Portfolio: p, Allocations: allocs})
}

// CreatePortfolio registers a portfolio with its target allocations.
// POST /api/portfolios
func (h *PortfolioHandler) CreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var payload createPortfolioPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var interval time.Duration
	if payload.Interval != "" {
		var err error
		interval, err = time.ParseDuration(payload.Interval)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid interval, expected a duration like \"1h\"")
			return
		}
	}

	targets := make([]service.TargetAllocation, len(payload.Targets))
	for i, t := range payload.Targets {
		targets[i] = service.TargetAllocation{AssetID: t.AssetID, TargetPercentage: t.TargetPercentage}
	}

	p, err := h.svc.CreatePortfolio(r.Context(), domain.Portfolio{
		OwnerAddress: payload.OwnerAddress,
		Name:         payload.Name,
		Policy:       domain.RebalancePolicy(payload.Policy),
		Threshold:    payload.Threshold,
		Interval:     interval,
	}, targets)
	if err != nil {
		if errors.Is(err, domain.ErrAllocationSum) || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "create portfolio failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to create portfolio")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// UpdateTargets replaces the portfolio's target set.
// PUT /api/portfolios/{id}/targets
func (h *PortfolioHandler) UpdateTargets(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var payload struct {
		Targets []targetPayload `json:"targets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	targets := make([]service.TargetAllocation, len(payload.Targets))
	for i, t := range payload.Targets {
		targets[i] = service.TargetAllocation{AssetID: t.AssetID, TargetPercentage: t.TargetPercentage}
	}

	err := h.svc.UpdateTargets(r.Context(), id, targets)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "portfolio not found")
		return
	}
	if errors.Is(err, domain.ErrAllocationSum) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "update targets failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to update targets")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// SetActive enables or disables monitoring for the portfolio.
// PUT /api/portfolios/{id}/active
func (h *PortfolioHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var payload struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := h.svc.SetActive(r.Context(), id, payload.Active)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "portfolio not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "set active failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to update portfolio")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "active": payload.Active})
}

// ListJobs returns the portfolio's rebalance audit trail.
// GET /api/portfolios/{id}/jobs
func (h *PortfolioHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	jobs, err := h.svc.ListJobs(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list jobs failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}
