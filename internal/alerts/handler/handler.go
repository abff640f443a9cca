// Package handler exposes alerts over HTTP: listing, dismissal and a
// server-sent event stream backed by a monitoring session.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"stockwatch/internal/alerts/models"
	"stockwatch/internal/monitor"
	"stockwatch/internal/platform/metrics"
	id "stockwatch/pkg/domain"
	dErrors "stockwatch/pkg/domain-errors"
	"stockwatch/pkg/platform/httputil"
)

const keepAliveInterval = 15 * time.Second

// Service defines the alert operations the handler needs.
type Service interface {
	ListOpen(ctx context.Context, orgID id.OrganizationID) ([]*models.Alert, error)
	List(ctx context.Context, orgID id.OrganizationID) ([]*models.Alert, error)
	Dismiss(ctx context.Context, orgID id.OrganizationID, alertID id.AlertID) (*models.Alert, error)
}

// StreamSession is the slice of *monitor.Session a stream drives.
type StreamSession interface {
	Start(ctx context.Context) error
	Stop() error
	Observe(fn monitor.Observer) (cancel func())
}

// SessionFactory opens an idle session for one organization.
type SessionFactory func(orgID id.OrganizationID) StreamSession

type Handler struct {
	alerts   Service
	sessions SessionFactory
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func New(alerts Service, sessions SessionFactory, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{alerts: alerts, sessions: sessions, logger: logger, metrics: m}
}

// Register mounts the alert routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/organizations/{orgID}/alerts", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/stream", h.handleStream)
		r.Post("/{alertID}/dismiss", h.handleDismiss)
	})
}

type AlertsResponse struct {
	Alerts []*models.Alert `json:"alerts"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, err := id.ParseOrganizationID(chi.URLParam(r, "orgID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var alerts []*models.Alert
	switch status := r.URL.Query().Get("status"); status {
	case "", string(models.StatusNew), "open":
		alerts, err = h.alerts.ListOpen(ctx, orgID)
	case "all":
		alerts, err = h.alerts.List(ctx, orgID)
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "status must be open or all"))
		return
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list alerts",
			"organization_id", orgID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	httputil.WriteJSON(w, http.StatusOK, AlertsResponse{Alerts: alerts})
}

func (h *Handler) handleDismiss(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, err := id.ParseOrganizationID(chi.URLParam(r, "orgID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	alertID, err := id.ParseAlertID(chi.URLParam(r, "alertID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	alert, err := h.alerts.Dismiss(ctx, orgID, alertID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidStateTransition) {
			h.logger.WarnContext(ctx, "dismiss rejected",
				"organization_id", orgID,
				"alert_id", alertID,
			)
		} else {
			h.logger.ErrorContext(ctx, "failed to dismiss alert",
				"organization_id", orgID,
				"alert_id", alertID,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, alert)
}

// handleStream owns a monitoring session for the lifetime of the request and
// writes the open set as an "alerts" event after every pass or dismissal.
// Only the newest open set is kept when the client reads slowly.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, err := id.ParseOrganizationID(chi.URLParam(r, "orgID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "streaming unsupported"))
		return
	}

	latest := make(chan []*models.Alert, 1)
	session := h.sessions(orgID)
	cancelObserve := session.Observe(func(_ context.Context, n monitor.Notification) {
		for {
			select {
			case latest <- n.Open:
				return
			default:
			}
			select {
			case <-latest:
			default:
			}
		}
	})
	defer cancelObserve()

	if err := session.Start(ctx); err != nil {
		h.logger.ErrorContext(ctx, "failed to start monitoring session",
			"organization_id", orgID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	defer func() {
		if err := session.Stop(); err != nil {
			h.logger.WarnContext(ctx, "failed to stop monitoring session",
				"organization_id", orgID,
				"error", err,
			)
		}
	}()

	h.metrics.StreamOpened()
	defer h.metrics.StreamClosed()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case open := <-latest:
			if err := writeEvent(w, "alerts", open); err != nil {
				h.logger.WarnContext(ctx, "alert stream write failed",
					"organization_id", orgID,
					"error", err,
				)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, open []*models.Alert) error {
	if open == nil {
		open = []*models.Alert{}
	}
	data, err := json.Marshal(open)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
