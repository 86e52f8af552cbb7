package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rasuna-dev/backend-antar/internal/common"
)

// AdminHandler exposes management endpoints for webhook configuration and
// delivery monitoring.
type AdminHandler struct {
	Store    Store
	Enqueuer *Enqueuer
	Replay   ReplayProtector
}

type endpointRequest struct {
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Active *bool    `json:"active"`
	Topics []string `json:"topics"`
}

func (req endpointRequest) validate() error {
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.URL) == "" || strings.TrimSpace(req.Secret) == "" {
		return errors.New("name, url and secret are required")
	}
	return validateURL(req.URL)
}

func (req endpointRequest) toEndpoint(id uuid.UUID) Endpoint {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return Endpoint{
		ID:     id,
		Name:   strings.TrimSpace(req.Name),
		URL:    strings.TrimSpace(req.URL),
		Secret: req.Secret,
		Active: active,
		Topics: normaliseTopics(req.Topics),
	}
}

// CreateEndpoint handles POST /api/v1/admin/webhooks.
func (h *AdminHandler) CreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := req.validate(); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	endpoint, err := h.Store.CreateEndpoint(r.Context(), req.toEndpoint(uuid.Nil))
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not create endpoint", nil)
		return
	}
	common.JSONData(w, http.StatusCreated, endpoint)
}

// UpdateEndpoint handles PUT /api/v1/admin/webhooks/{id}.
func (h *AdminHandler) UpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := idFromPath(w, r)
	if !ok {
		return
	}
	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := req.validate(); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	endpoint, err := h.Store.UpdateEndpoint(r.Context(), req.toEndpoint(id))
	if err != nil {
		writeEndpointError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, endpoint)
}

// ListEndpoints handles GET /api/v1/admin/webhooks.
func (h *AdminHandler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 50)
	endpoints, err := h.Store.ListEndpoints(r.Context(), perPage, (page-1)*perPage)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not list endpoints", nil)
		return
	}
	common.JSONData(w, http.StatusOK, endpoints)
}

// DeleteEndpoint handles DELETE /api/v1/admin/webhooks/{id}.
func (h *AdminHandler) DeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := idFromPath(w, r)
	if !ok {
		return
	}
	if err := h.Store.DeleteEndpoint(r.Context(), id); err != nil {
		writeEndpointError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListDeliveries handles GET /api/v1/admin/webhooks/deliveries with optional
// endpointId, eventId and status query filters.
func (h *AdminHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	var filter DeliveryFilter
	if raw := strings.TrimSpace(r.URL.Query().Get("endpointId")); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid endpoint id", nil)
			return
		}
		filter.EndpointID = &parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("eventId")); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid event id", nil)
			return
		}
		filter.EventID = &parsed
	}
	filter.Status = strings.TrimSpace(r.URL.Query().Get("status"))

	page, perPage := common.ParsePagination(r, 50)
	rows, total, err := h.Store.ListDeliveries(r.Context(), filter, perPage, (page-1)*perPage)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not list deliveries", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       rows,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: int(total)},
	})
}

// ReplayDelivery handles POST /api/v1/admin/webhooks/deliveries/{id}/replay.
// It resets the delivery row, clears the replay guard and queues the task
// again.
func (h *AdminHandler) ReplayDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := idFromPath(w, r)
	if !ok {
		return
	}
	delivery, err := h.Store.ResetForReplay(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrDeliveryNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "delivery not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not reset delivery", nil)
		return
	}
	if h.Replay != nil {
		_ = h.Replay.Release(r.Context(), replayKey(delivery.EndpointID, delivery.EventID))
	}
	if h.Enqueuer != nil {
		if err := h.Enqueuer.Replay(r.Context(), delivery.ID); err != nil {
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not requeue delivery", nil)
			return
		}
	}
	common.JSONData(w, http.StatusOK, delivery)
}

func idFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func writeEndpointError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrEndpointNotFound) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "endpoint not found", nil)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}

func normaliseTopics(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	result := make([]string, 0, len(topics))
	for _, topic := range topics {
		trimmed := strings.TrimSpace(strings.ToLower(topic))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	if len(result) == 0 {
		return []string{}
	}
	return result
}
