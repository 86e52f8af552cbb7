package delivery

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/rasuna-dev/backend-antar/internal/common"
)

// Handler exposes the delivery workflow over HTTP.
type Handler struct {
	Service  *Service
	Validate *validator.Validate
}

type updateStatusRequest struct {
	Status    string `json:"status" validate:"required"`
	Confirmed bool   `json:"confirmed"`
	Note      string `json:"note" validate:"omitempty,max=500"`
}

// UpdateStatus handles PATCH /api/v1/drivers/me/deliveries/{deliveryID}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	driverID, ok := driverFromContext(w, r)
	if !ok {
		return
	}
	deliveryID, ok := deliveryIDFromPath(w, r)
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request payload", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "status is required", nil)
			return
		}
	}
	next, err := ParseStatus(req.Status)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_STATUS", "unknown status value", map[string]any{"status": req.Status})
		return
	}

	updated, err := h.Service.AdvanceStatus(r.Context(), deliveryID, driverID, next, req.Confirmed, req.Note)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, deliveryResponse(updated))
}

// List handles GET /api/v1/drivers/me/deliveries.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	driverID, ok := driverFromContext(w, r)
	if !ok {
		return
	}
	var status Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, err := ParseStatus(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "INVALID_STATUS", "unknown status value", map[string]any{"status": raw})
			return
		}
		status = parsed
	}
	page, perPage := common.ParsePagination(r, 20)

	items, total, err := h.Service.List(r.Context(), driverID, status, page, perPage)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(items))
	for _, d := range items {
		views = append(views, deliveryResponse(d))
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       views,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: int(total)},
	})
}

// Detail handles GET /api/v1/drivers/me/deliveries/{deliveryID}.
func (h *Handler) Detail(w http.ResponseWriter, r *http.Request) {
	driverID, ok := driverFromContext(w, r)
	if !ok {
		return
	}
	deliveryID, ok := deliveryIDFromPath(w, r)
	if !ok {
		return
	}
	d, err := h.Service.Get(r.Context(), deliveryID, driverID)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, deliveryResponse(d))
}

// Timeline handles GET /api/v1/drivers/me/deliveries/{deliveryID}/timeline.
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	driverID, ok := driverFromContext(w, r)
	if !ok {
		return
	}
	deliveryID, ok := deliveryIDFromPath(w, r)
	if !ok {
		return
	}
	events, err := h.Service.Timeline(r.Context(), deliveryID, driverID)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, events)
}

// Earnings handles GET /api/v1/drivers/me/earnings.
func (h *Handler) Earnings(w http.ResponseWriter, r *http.Request) {
	driverID, ok := driverFromContext(w, r)
	if !ok {
		return
	}
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -7)
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "from must be RFC3339", nil)
			return
		}
		from = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "to must be RFC3339", nil)
			return
		}
		to = parsed
	}

	summary, err := h.Service.Earnings(r.Context(), driverID, from, to)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, summary)
}

// PublicProgression handles GET /api/v1/deliveries/{deliveryID}/progression —
// the customer tracking page polls this without authentication.
func (h *Handler) PublicProgression(w http.ResponseWriter, r *http.Request) {
	deliveryID, ok := deliveryIDFromPath(w, r)
	if !ok {
		return
	}
	view, err := h.Service.Progression(r.Context(), deliveryID)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, view)
}

// AdminAssign handles POST /api/v1/admin/deliveries.
func (h *Handler) AdminAssign(w http.ResponseWriter, r *http.Request) {
	var params AssignParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request payload", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(params); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "missing required fields", nil)
			return
		}
	}
	created, err := h.Service.Assign(r.Context(), params)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	common.JSONData(w, http.StatusCreated, deliveryResponse(created))
}

type cancelRequest struct {
	Note string `json:"note" validate:"omitempty,max=500"`
}

// AdminCancel handles POST /api/v1/admin/deliveries/{deliveryID}/cancel.
func (h *Handler) AdminCancel(w http.ResponseWriter, r *http.Request) {
	deliveryID, ok := deliveryIDFromPath(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	updated, err := h.Service.Cancel(r.Context(), deliveryID, req.Note)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, deliveryResponse(updated))
}

func deliveryResponse(d Delivery) map[string]any {
	resp := map[string]any{
		"id":              d.ID,
		"orderRef":        d.OrderRef,
		"driverId":        d.DriverID,
		"vendorName":      d.VendorName,
		"vendorAddress":   d.VendorAddress,
		"customerName":    d.CustomerName,
		"customerAddress": d.CustomerAddress,
		"fee":             d.Fee,
		"currency":        d.Currency,
		"status":          d.Status.Wire(),
		"statusLabel":     d.Status.Description(),
		"progression":     d.Status.Progression(),
		"createdAt":       d.CreatedAt,
		"updatedAt":       d.UpdatedAt,
	}
	if d.DeliveredAt != nil {
		resp["deliveredAt"] = d.DeliveredAt
	}
	return resp
}

func driverFromContext(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw, ok := common.DriverID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
		return uuid.Nil, false
	}
	return id, true
}

func deliveryIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "deliveryID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid delivery id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func writeWorkflowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "delivery not found", nil)
	case errors.Is(err, ErrNotOwned):
		common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "delivery belongs to another driver", nil)
	case errors.Is(err, ErrTerminal):
		common.JSONError(w, http.StatusConflict, "DELIVERY_TERMINAL", "delivery is already in a terminal status", nil)
	case errors.Is(err, ErrInvalidTransition):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_TRANSITION", "status is not reachable from the current one", nil)
	case errors.Is(err, ErrConfirmationRequired):
		common.JSONError(w, http.StatusUnprocessableEntity, "CONFIRMATION_REQUIRED", "this status requires confirmed=true", nil)
	case errors.Is(err, ErrStaleStatus):
		common.JSONError(w, http.StatusConflict, "CONFLICT", "delivery status changed, refresh and retry", nil)
	case errors.Is(err, ErrInvalidStatus):
		common.JSONError(w, http.StatusBadRequest, "INVALID_STATUS", "unknown status value", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
