package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"stockwatch/internal/analysis"
	id "stockwatch/pkg/domain"
	dErrors "stockwatch/pkg/domain-errors"
	"stockwatch/pkg/platform/httputil"
)

type Service interface {
	RunAnalysis(ctx context.Context, orgID id.OrganizationID) (*analysis.Result, error)
}

type Handler struct {
	analysis   Service
	maxTimeout time.Duration
	logger     *slog.Logger
}

// New creates the analysis handler. Callers may shorten the run with
// ?timeout= up to maxTimeout.
func New(svc Service, maxTimeout time.Duration, logger *slog.Logger) *Handler {
	return &Handler{analysis: svc, maxTimeout: maxTimeout, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/organizations/{orgID}/analysis", h.handleRunAnalysis)
}

type AnalysisResponse struct {
	Success  bool   `json:"success"`
	Status   string `json:"status"`
	Analysis string `json:"analysis,omitempty"`
}

func (h *Handler) handleRunAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, err := id.ParseOrganizationID(chi.URLParam(r, "orgID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if raw := r.URL.Query().Get("timeout"); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil || timeout <= 0 || (h.maxTimeout > 0 && timeout > h.maxTimeout) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "timeout must be a positive duration not above "+h.maxTimeout.String()))
			return
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := h.analysis.RunAnalysis(ctx, orgID)
	if err != nil {
		h.logger.ErrorContext(ctx, "analysis failed",
			"organization_id", orgID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, AnalysisResponse{
		Success:  true,
		Status:   string(result.Status),
		Analysis: result.Analysis,
	})
}
