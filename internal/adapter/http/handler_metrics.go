package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/deskora/deskora/internal/cache"
	"github.com/deskora/deskora/internal/domain"
	apperr "github.com/deskora/deskora/pkg/error"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// MetricsService is what the handlers need from the metrics core.
type MetricsService interface {
	GetSnapshot(ctx context.Context, window string) (domain.MetricsSnapshot, error)
	GetRanking(ctx context.Context, level domain.TechLevel, window string) ([]domain.RankingEntry, error)
	Technicians(ctx context.Context) ([]domain.Technician, error)
	InvalidateTickets(ctx context.Context) error
	InvalidateTechnicians(ctx context.Context) error
	CacheStats() cache.Stats
}

// MetricsHandler handles HTTP requests for service-desk metrics
type MetricsHandler struct {
	service MetricsService
	logger  *logrus.Logger
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(service MetricsService, logger *logrus.Logger) *MetricsHandler {
	return &MetricsHandler{service: service, logger: logger}
}

// RegisterRoutes registers metrics routes
func (h *MetricsHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/metrics", h.GetMetrics).Methods("GET")
	router.HandleFunc("/api/v1/ranking", h.GetRanking).Methods("GET")
	router.HandleFunc("/api/v1/technicians", h.GetTechnicians).Methods("GET")
	router.HandleFunc("/api/v1/cache/invalidate", h.InvalidateCache).Methods("POST")
}

// GetMetrics returns the metrics snapshot for a reporting window
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	window := r.URL.Query().Get("window")

	snapshot, err := h.service.GetSnapshot(r.Context(), window)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, snapshot)
}

// GetRanking returns the technician ranking, optionally filtered by level
func (h *MetricsHandler) GetRanking(w http.ResponseWriter, r *http.Request) {
	window := r.URL.Query().Get("window")
	level := domain.TechLevel(r.URL.Query().Get("level"))

	ranking, err := h.service.GetRanking(r.Context(), level, window)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"ranking": ranking,
	})
}

// GetTechnicians returns the technician directory
func (h *MetricsHandler) GetTechnicians(w http.ResponseWriter, r *http.Request) {
	technicians, err := h.service.Technicians(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"technicians": technicians,
	})
}

// InvalidateCache drops cached results for one dependency tag
func (h *MetricsHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tag string `json:"tag"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperr.NewBadRequest("invalid request body"))
		return
	}

	var err error
	switch req.Tag {
	case cache.TagTickets:
		err = h.service.InvalidateTickets(r.Context())
	case cache.TagTechnicians:
		err = h.service.InvalidateTechnicians(r.Context())
	default:
		h.respondError(w, r, apperr.NewBadRequest("unknown cache tag: "+req.Tag))
		return
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "tag": req.Tag})
}

func (h *MetricsHandler) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WithError(err).Error("Response encoding failed")
	}
}

func (h *MetricsHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.MapError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
	} else {
		h.logger.WithError(err).WithField("path", r.URL.Path).Warn("Request rejected")
	}
	h.respondJSON(w, appErr.Status, appErr)
}
