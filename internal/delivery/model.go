package delivery

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Delivery is one courier job from vendor pickup to customer drop-off.
type Delivery struct {
	ID              uuid.UUID       `json:"id"`
	OrderRef        string          `json:"orderRef"`
	DriverID        uuid.UUID       `json:"driverId"`
	VendorName      string          `json:"vendorName"`
	VendorAddress   string          `json:"vendorAddress"`
	CustomerName    string          `json:"customerName"`
	CustomerAddress string          `json:"customerAddress"`
	Fee             decimal.Decimal `json:"fee"`
	Currency        string          `json:"currency"`
	Status          Status          `json:"status"`
	DeliveredAt     *time.Time      `json:"deliveredAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// StatusEvent is one row of a delivery's status timeline. From is empty for
// the initial assignment event.
type StatusEvent struct {
	DeliveryID uuid.UUID `json:"deliveryId"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to"`
	Note       string    `json:"note,omitempty"`
	Confirmed  bool      `json:"confirmed"`
	RecordedAt time.Time `json:"recordedAt"`
}

// ProgressionView is the progress-bar payload for a delivery.
type ProgressionView struct {
	DeliveryID  uuid.UUID   `json:"deliveryId"`
	Status      string      `json:"status"`
	Description string      `json:"description"`
	Progression Progression `json:"progression"`
}

// EarningsSummary aggregates delivered-job fees for a driver over a window.
type EarningsSummary struct {
	DriverID       uuid.UUID       `json:"driverId"`
	From           time.Time       `json:"from"`
	To             time.Time       `json:"to"`
	DeliveredCount int64           `json:"deliveredCount"`
	TotalFees      decimal.Decimal `json:"totalFees"`
	Currency       string          `json:"currency"`
}
