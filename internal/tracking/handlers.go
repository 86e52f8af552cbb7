package tracking

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/rasuna-dev/backend-antar/internal/battery"
	"github.com/rasuna-dev/backend-antar/internal/common"
)

// Handler exposes location ingestion and tracking reads over HTTP.
type Handler struct {
	Service  *Service
	Validate *validator.Validate
}

type locationRequest struct {
	DeliveryID *uuid.UUID `json:"deliveryId"`
	Lat        float64    `json:"lat" validate:"gte=-90,lte=90"`
	Lng        float64    `json:"lng" validate:"gte=-180,lte=180"`
	SpeedKph   float64    `json:"speedKph" validate:"gte=0"`
	Heading    float64    `json:"heading" validate:"gte=0,lt=360"`
	AccuracyM  float64    `json:"accuracyM" validate:"gte=0"`
	BatteryPct int        `json:"batteryPct" validate:"gte=0,lte=100"`
	Charging   bool       `json:"charging"`
	RecordedAt time.Time  `json:"recordedAt"`
}

// Ingest handles POST /api/v1/drivers/me/location.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	driverID, ok := driverFromContext(w, r)
	if !ok {
		return
	}
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request payload", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "coordinates out of range", nil)
			return
		}
	}

	pos := Position{
		DriverID:   driverID,
		DeliveryID: req.DeliveryID,
		Lat:        req.Lat,
		Lng:        req.Lng,
		SpeedKph:   req.SpeedKph,
		Heading:    req.Heading,
		AccuracyM:  req.AccuracyM,
		BatteryPct: req.BatteryPct,
		Charging:   req.Charging,
		RecordedAt: req.RecordedAt,
	}
	if err := h.Service.Record(r.Context(), pos); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not record location", nil)
		return
	}
	common.JSONData(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

// Policy handles GET /api/v1/drivers/me/tracking-policy. The app reports its
// battery state as query parameters and receives the sampling settings to use.
func (h *Handler) Policy(w http.ResponseWriter, r *http.Request) {
	if _, ok := driverFromContext(w, r); !ok {
		return
	}
	q := r.URL.Query()
	percent := common.AtoiDefault(q.Get("battery"), 100)
	if percent < 0 || percent > 100 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "battery must be between 0 and 100", nil)
		return
	}
	charging := false
	if raw := strings.TrimSpace(q.Get("charging")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "charging must be a boolean", nil)
			return
		}
		charging = parsed
	}
	state := battery.State{
		Percent:  percent,
		Charging: charging,
		Tier:     battery.ParseTier(q.Get("tier")),
	}
	common.JSONData(w, http.StatusOK, h.Service.Policy(state))
}

// AdminLatest handles GET /api/v1/admin/drivers/{driverID}/position.
func (h *Handler) AdminLatest(w http.ResponseWriter, r *http.Request) {
	driverID, ok := driverIDFromPath(w, r)
	if !ok {
		return
	}
	pos, err := h.Service.Latest(r.Context(), driverID)
	if err != nil {
		if errors.Is(err, ErrNoPosition) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "no position recorded for driver", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	common.JSONData(w, http.StatusOK, pos)
}

// AdminHistory handles GET /api/v1/admin/drivers/{driverID}/locations.
func (h *Handler) AdminHistory(w http.ResponseWriter, r *http.Request) {
	driverID, ok := driverIDFromPath(w, r)
	if !ok {
		return
	}
	var deliveryID *uuid.UUID
	if raw := strings.TrimSpace(r.URL.Query().Get("deliveryId")); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid delivery id", nil)
			return
		}
		deliveryID = &parsed
	}
	page, perPage := common.ParsePagination(r, 50)

	items, total, err := h.Service.History(r.Context(), driverID, deliveryID, page, perPage)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	if items == nil {
		items = []Position{}
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       items,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: int(total)},
	})
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

func driverIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "driverID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid driver id", nil)
		return uuid.Nil, false
	}
	return id, true
}
