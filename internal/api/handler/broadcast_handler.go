package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/Meirlen/Tabys-sub000/internal/api/middleware"
	"github.com/Meirlen/Tabys-sub000/internal/domain"
	"github.com/Meirlen/Tabys-sub000/internal/service"
)

// BroadcastHandler handles broadcast CRUD and lifecycle endpoints.
type BroadcastHandler struct {
	svc    *service.BroadcastService
	logger *zap.Logger
}

func NewBroadcastHandler(svc *service.BroadcastService, logger *zap.Logger) *BroadcastHandler {
	return &BroadcastHandler{svc: svc, logger: logger}
}

// Create handles POST /api/v1/broadcasts
//
// @Summary     Create a broadcast draft
// @Tags        broadcasts
// @Accept      json
// @Produce     json
// @Param       body  body      domain.CreateBroadcastRequest  true  "Broadcast payload"
// @Success     201   {object}  domain.Broadcast
// @Failure     422   {object}  map[string]string
// @Router      /api/v1/broadcasts [post]
func (h *BroadcastHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateBroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	b, err := h.svc.Create(r.Context(), apimw.GetActor(r.Context()), req)
	if err != nil {
		h.logger.Warn("create broadcast failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, b)
}

// GetByID handles GET /api/v1/broadcasts/{id}
//
// @Summary  Get a broadcast by ID
// @Tags     broadcasts
// @Produce  json
// @Param    id   path      string  true  "Broadcast UUID"
// @Success  200  {object}  domain.Broadcast
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/broadcasts/{id} [get]
func (h *BroadcastHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.GetByID(r.Context(), apimw.GetActor(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

// List handles GET /api/v1/broadcasts
//
// @Summary  List broadcasts with filtering and pagination
// @Tags     broadcasts
// @Produce  json
// @Param    status  query     string  false  "Filter by status"
// @Param    page    query     int     false  "Page number (default 1)"
// @Param    limit   query     int     false  "Items per page (default 20, max 100)"
// @Success  200     {object}  map[string]any
// @Router   /api/v1/broadcasts [get]
func (h *BroadcastHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseBroadcastFilter(r)
	if err != nil {
		mapError(w, err)
		return
	}
	broadcasts, total, err := h.svc.List(r.Context(), apimw.GetActor(r.Context()), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list broadcasts")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":  broadcasts,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

// Update handles PATCH /api/v1/broadcasts/{id}
//
// @Summary  Update a broadcast that has not started sending
// @Tags     broadcasts
// @Accept   json
// @Produce  json
// @Param    id    path      string                         true  "Broadcast UUID"
// @Param    body  body      domain.UpdateBroadcastRequest  true  "Fields to patch"
// @Success  200   {object}  domain.Broadcast
// @Failure  409   {object}  map[string]string
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/broadcasts/{id} [patch]
func (h *BroadcastHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch domain.UpdateBroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	b, err := h.svc.Update(r.Context(), apimw.GetActor(r.Context()), chi.URLParam(r, "id"), patch)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

// Send handles POST /api/v1/broadcasts/{id}/send
//
// @Summary  Start delivering a broadcast to its resolved audience
// @Tags     broadcasts
// @Produce  json
// @Param    id   path      string  true  "Broadcast UUID"
// @Success  202  {object}  domain.Broadcast
// @Failure  409  {object}  map[string]string
// @Failure  422  {object}  map[string]string
// @Router   /api/v1/broadcasts/{id}/send [post]
func (h *BroadcastHandler) Send(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := h.svc.Send(r.Context(), apimw.GetActor(r.Context()), id)
	if err != nil {
		h.logger.Warn("send broadcast failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.String("broadcast_id", id),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, b)
}

// Retry handles POST /api/v1/broadcasts/{id}/retry
//
// @Summary  Re-queue a broadcast drain for its remaining pending deliveries
// @Tags     broadcasts
// @Produce  json
// @Param    id   path      string  true  "Broadcast UUID"
// @Success  202  {object}  domain.Broadcast
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/broadcasts/{id}/retry [post]
func (h *BroadcastHandler) Retry(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Retry(r.Context(), apimw.GetActor(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, b)
}

// Cancel handles POST /api/v1/broadcasts/{id}/cancel
//
// @Summary  Cancel a broadcast; remaining deliveries are not sent
// @Tags     broadcasts
// @Param    id   path  string  true  "Broadcast UUID"
// @Success  204
// @Failure  409  {object}  map[string]string
// @Router   /api/v1/broadcasts/{id}/cancel [post]
func (h *BroadcastHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cancel(r.Context(), apimw.GetActor(r.Context()), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/v1/broadcasts/{id}
//
// @Summary  Delete a broadcast and its delivery records
// @Tags     broadcasts
// @Param    id   path  string  true  "Broadcast UUID"
// @Success  204
// @Failure  409  {object}  map[string]string
// @Router   /api/v1/broadcasts/{id} [delete]
func (h *BroadcastHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), apimw.GetActor(r.Context()), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /api/v1/broadcasts/{id}/stats
//
// @Summary  Aggregate delivery counters for a broadcast
// @Tags     broadcasts
// @Produce  json
// @Param    id   path      string  true  "Broadcast UUID"
// @Success  200  {object}  domain.BroadcastStats
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/broadcasts/{id}/stats [get]
func (h *BroadcastHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context(), apimw.GetActor(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func parseBroadcastFilter(r *http.Request) (domain.BroadcastListFilter, error) {
	q := r.URL.Query()
	filter := domain.BroadcastListFilter{Page: 1, Limit: 20}

	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		filter.Limit = l
	}
	if s := q.Get("status"); s != "" {
		st := domain.BroadcastStatus(s)
		if !st.IsValid() {
			return filter, domain.ErrInvalidStatus
		}
		filter.Status = &st
	}
	return filter, nil
}
