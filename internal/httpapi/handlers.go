package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/zzkt/aqi/internal/client"
	"github.com/zzkt/aqi/internal/health"
	"github.com/zzkt/aqi/internal/models"
	"github.com/zzkt/aqi/internal/observability"
	"github.com/zzkt/aqi/internal/report"
	"github.com/zzkt/aqi/internal/service"
	"github.com/zzkt/aqi/internal/validation"
)

// HealthConfig holds the thresholds the health handler evaluates.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// StorePing, when set, is called to check store reachability. Used
	// when the backend is memcached or redis.
	StorePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	formatter        *report.Formatter
	pipeline         *service.Pipeline
	client           client.FeedClient
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	formatter *report.Formatter,
	pipeline *service.Pipeline,
	feedClient client.FeedClient,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		formatter:    formatter,
		pipeline:     pipeline,
		client:       feedClient,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// GetReport handles GET /report/{place}?type=brief|full. The rendered
// report is plain text; errors use the JSON envelope.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	place, err := validation.ValidatePlace(mux.Vars(r)["place"], 1, 100)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PLACE", err.Error())
		return
	}
	observability.RecordPlaceQuery(place)

	kind := r.URL.Query().Get("type")
	text, err := h.formatter.Report(r.Context(), place, kind)
	if err != nil {
		health.RecordError()
		if errors.Is(err, service.ErrMissingField) {
			writeError(w, r, http.StatusBadGateway, "MALFORMED_READING", "upstream reading is missing required fields")
			return
		}
		writeServiceError(w, r, err)
		return
	}
	health.RecordSuccess()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text+"\n")
}

// feedResponse is the JSON projection of a resolved entry.
type feedResponse struct {
	Place   string          `json:"place"`
	Cached  bool            `json:"cached"`
	Reading *models.Reading `json:"reading,omitempty"`
	Fault   string          `json:"fault,omitempty"`
}

// GetFeed handles GET /feed/{place}, returning the structured entry.
func (h *Handler) GetFeed(w http.ResponseWriter, r *http.Request) {
	place, err := validation.ValidatePlace(mux.Vars(r)["place"], 1, 100)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PLACE", err.Error())
		return
	}
	observability.RecordPlaceQuery(place)

	entry, ok, err := h.pipeline.Resolve(r.Context(), place)
	if err != nil && !ok {
		health.RecordError()
		writeServiceError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "no entry for place")
		return
	}
	if err != nil {
		// Upstream failed but a prior entry exists; serve it and let the
		// health window see the failure.
		health.RecordError()
	} else {
		health.RecordSuccess()
	}

	writeJSON(w, http.StatusOK, feedResponse{
		Place:   models.NormalizePlace(place),
		Cached:  h.pipeline.CacheEnabled(),
		Reading: entry.Reading,
		Fault:   entry.Fault,
	})
}

// GetSearch handles GET /search?keyword=. Results pass through from the
// upstream and are never cached.
func (h *Handler) GetSearch(w http.ResponseWriter, r *http.Request) {
	keyword := strings.TrimSpace(r.URL.Query().Get("keyword"))
	if keyword == "" {
		writeError(w, r, http.StatusBadRequest, "MISSING_KEYWORD", "keyword query parameter is required")
		return
	}

	stations, err := h.client.Search(r.Context(), keyword)
	if err != nil {
		health.RecordError()
		if errors.Is(err, client.ErrOverQuota) {
			writeError(w, r, http.StatusTooManyRequests, "OVER_QUOTA", "upstream request quota exceeded")
			return
		}
		writeServiceError(w, r, err)
		return
	}
	health.RecordSuccess()

	if stations == nil {
		stations = []models.Station{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"keyword":  keyword,
		"stations": stations,
	})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.status == "degraded" {
		checks["feedApi"] = "unhealthy"
	} else {
		checks["feedApi"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.StorePing != nil {
		if h.healthConfig.StorePing() == nil {
			checks["store"] = "healthy"
		} else {
			checks["store"] = "unhealthy"
		}
	}

	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "aqi",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates health conditions in priority order:
// shutting-down > token invalid > error-rate breach > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if health.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if err := h.client.ValidateToken(ctx); err != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "token_invalid"}
	}
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errors, total := health.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errors) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope with code, message, and
// requestId (correlation ID) if present in the request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeServiceError writes a 503 for upstream failures, logging the
// underlying error at DEBUG through the request-scoped logger.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "unable to fetch air quality data")
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("upstream error", zap.Error(err))
	}
}
