package handler

import (
	"net/http"

	"github.com/Meirlen/Tabys-sub000/internal/queue"
)

// MetricsHandler serves a human-readable JSON queue snapshot.
// Raw Prometheus metrics (counters, histograms) are available at /metrics
// via promhttp.Handler and are separate from this endpoint.
type MetricsHandler struct {
	q *queue.DrainQueue
}

func NewMetricsHandler(q *queue.DrainQueue) *MetricsHandler {
	return &MetricsHandler{q: q}
}

// GetMetrics handles GET /api/v1/metrics
//
// @Summary  Real-time drain queue depth snapshot
// @Tags     metrics
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/metrics [get]
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	urgent, normal := h.q.Depths()
	respondJSON(w, http.StatusOK, map[string]any{
		"queue_depth": map[string]int{
			"urgent": urgent,
			"normal": normal,
			"total":  urgent + normal,
		},
	})
}
