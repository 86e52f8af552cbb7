package tracking

import (
	"time"

	"github.com/google/uuid"
)

// Position is one driver location fix. DeliveryID is set while the driver is
// working a job so the fix can be fanned out to that delivery's subscribers.
type Position struct {
	DriverID   uuid.UUID  `json:"driverId"`
	DeliveryID *uuid.UUID `json:"deliveryId,omitempty"`
	Lat        float64    `json:"lat" validate:"gte=-90,lte=90"`
	Lng        float64    `json:"lng" validate:"gte=-180,lte=180"`
	SpeedKph   float64    `json:"speedKph" validate:"gte=0"`
	Heading    float64    `json:"heading" validate:"gte=0,lt=360"`
	AccuracyM  float64    `json:"accuracyM" validate:"gte=0"`
	BatteryPct int        `json:"batteryPct" validate:"gte=0,lte=100"`
	Charging   bool       `json:"charging"`
	RecordedAt time.Time  `json:"recordedAt"`
}
