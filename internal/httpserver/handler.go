package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/davidbz/embermeter/internal/domain"
	"github.com/davidbz/embermeter/internal/observability"
	"github.com/davidbz/embermeter/internal/run"
)

// Handler handles HTTP requests.
type Handler struct {
	runs *run.Manager
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(runs *run.Manager) *Handler {
	return &Handler{
		runs: runs,
	}
}

// CreateRunRequest is the body of POST /v1/runs.
type CreateRunRequest struct {
	MaxBudgetUSD float64                        `json:"max_budget_usd"`
	Overrides    map[string]domain.ModelPricing `json:"overrides,omitempty"`
}

// CreateRunResponse is the body returned for a created run.
type CreateRunResponse struct {
	RunID  string              `json:"run_id"`
	Status domain.BudgetStatus `json:"status"`
}

// StepResponse is returned after a step is ingested.
type StepResponse struct {
	Status     domain.BudgetStatus `json:"status"`
	ShouldStop bool                `json:"should_stop"`
}

// HandleCreateRun starts a new budget run.
func (h *Handler) HandleCreateRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)

	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	runID, tracker, err := h.runs.Create(ctx, req.MaxBudgetUSD, req.Overrides)
	if err != nil {
		var invalid *domain.InvalidConfigurationError
		if errors.As(err, &invalid) {
			http.Error(w, invalid.Error(), http.StatusBadRequest)
			return
		}
		logger.Error("run creation failed", observability.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(ctx, w, http.StatusCreated, CreateRunResponse{
		RunID:  runID,
		Status: tracker.Status(),
	})
}

// HandleStepFinish ingests one completed step for a run.
func (h *Handler) HandleStepFinish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	runID := r.PathValue("id")
	ctx = observability.WithRunID(ctx, runID)

	tracker, err := h.runs.Get(runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	var step domain.StepRecord
	if err := json.NewDecoder(r.Body).Decode(&step); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if step.ModelID != "" {
		ctx = observability.WithModel(ctx, step.ModelID)
	}

	tracker.OnStepFinish(ctx, step)

	status := tracker.Status()
	observability.FromContext(ctx).Info("step recorded",
		observability.Int64("input_tokens", step.Usage.InputTokens),
		observability.Int64("output_tokens", step.Usage.OutputTokens),
		observability.Float64("total_cost_usd", status.TotalCostUSD),
		observability.Bool("exceeded", status.Exceeded),
	)

	writeJSON(ctx, w, http.StatusOK, StepResponse{
		Status:     status,
		ShouldStop: tracker.ShouldStop(),
	})
}

// HandleBudgetStatus returns the current budget snapshot for a run.
func (h *Handler) HandleBudgetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tracker, err := h.runs.Get(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	writeJSON(ctx, w, http.StatusOK, tracker.Status())
}

// HandleDeleteRun removes a finished run.
func (h *Handler) HandleDeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	if _, err := h.runs.Get(runID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	h.runs.Delete(runID)
	w.WriteHeader(http.StatusNoContent)
}

// HandleHealth handles health check requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	}); err != nil {
		// Already written status, can't change it, just log.
		return
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		observability.FromContext(ctx).Error("failed to encode response", observability.Error(err))
	}
}
