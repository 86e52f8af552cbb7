package delivery

import (
	"errors"
	"fmt"
	"strings"
)

// Status identifies where a delivery sits in its lifecycle. The value doubles
// as the wire form stored in Postgres and exchanged with partner feeds.
type Status string

// Canonical statuses. The first seven form the ordered happy path; cancelled
// and failed are terminal exceptions reachable from any non-terminal state and
// hold no position in the ordering.
const (
	StatusAssigned          Status = "assigned"
	StatusOnRouteToVendor   Status = "on_route_to_vendor"
	StatusArrivedAtVendor   Status = "arrived_at_vendor"
	StatusPickedUp          Status = "picked_up"
	StatusOnRouteToCustomer Status = "on_route_to_customer"
	StatusArrivedAtCustomer Status = "arrived_at_customer"
	StatusDelivered         Status = "delivered"
	StatusCancelled         Status = "cancelled"
	StatusFailed            Status = "failed"
)

// ErrInvalidStatus is returned when a wire value matches no canonical status,
// alias, or tolerated spelling. Unknown values are never coerced to a default;
// a silently-wrong status would misrepresent delivery progress.
var ErrInvalidStatus = errors.New("invalid delivery status")

var orderedStatuses = [...]Status{
	StatusAssigned,
	StatusOnRouteToVendor,
	StatusArrivedAtVendor,
	StatusPickedUp,
	StatusOnRouteToCustomer,
	StatusArrivedAtCustomer,
	StatusDelivered,
}

// legacyStatusAliases maps retired wire values still present in old rows and
// partner feeds. The combined "out_for_delivery" and "en_route" values predate
// the split of the customer leg into discrete route/arrive states and resolve
// to on_route_to_customer. "ready" and "preparing" are kitchen phases reported
// before a courier run exists, so both collapse to assigned. Kept separate
// from the canonical switch so the tolerant parse direction and the total wire
// direction stay independently auditable.
var legacyStatusAliases = map[string]Status{
	"out_for_delivery": StatusOnRouteToCustomer,
	"en_route":         StatusOnRouteToCustomer,
	"ready":            StatusAssigned,
	"preparing":        StatusAssigned,
}

// ParseStatus resolves a wire value to a canonical status. Input is trimmed
// and lowercased before matching against the canonical snake_case vocabulary,
// the legacy alias table, and the flattened camelCase spellings of the ordered
// states.
func ParseStatus(value string) (Status, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidStatus)
	}
	if alias, ok := legacyStatusAliases[normalized]; ok {
		return alias, nil
	}
	switch normalized {
	case "assigned":
		return StatusAssigned, nil
	case "on_route_to_vendor", "onroutetovendor":
		return StatusOnRouteToVendor, nil
	case "arrived_at_vendor", "arrivedatvendor":
		return StatusArrivedAtVendor, nil
	case "picked_up", "pickedup":
		return StatusPickedUp, nil
	case "on_route_to_customer", "onroutetocustomer":
		return StatusOnRouteToCustomer, nil
	case "arrived_at_customer", "arrivedatcustomer":
		return StatusArrivedAtCustomer, nil
	case "delivered":
		return StatusDelivered, nil
	case "cancelled":
		return StatusCancelled, nil
	case "failed":
		return StatusFailed, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
}

// MustParseStatus is ParseStatus for values known at compile time or already
// validated upstream. It panics on invalid input.
func MustParseStatus(value string) Status {
	status, err := ParseStatus(value)
	if err != nil {
		panic(err)
	}
	return status
}

// IsValidWireStatus reports whether ParseStatus would accept the value.
func IsValidWireStatus(value string) bool {
	_, err := ParseStatus(value)
	return err == nil
}

// Wire returns the canonical snake_case wire form.
func (s Status) Wire() string { return string(s) }

func (s Status) String() string { return string(s) }

// Valid reports membership in the canonical nine-value set. Useful for values
// loaded from storage that bypass ParseStatus.
func (s Status) Valid() bool {
	switch s {
	case StatusAssigned, StatusOnRouteToVendor, StatusArrivedAtVendor,
		StatusPickedUp, StatusOnRouteToCustomer, StatusArrivedAtCustomer,
		StatusDelivered, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the delivery can no longer change state.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusFailed
}

// step returns the 1-based position within the ordered happy path, or 0 for
// the terminal exceptions and unknown values.
func (s Status) step() int {
	for i, status := range orderedStatuses {
		if status == s {
			return i + 1
		}
	}
	return 0
}

// Next returns the following status on the ordered happy path. The second
// return is false for delivered, the terminal exceptions, and unknown values.
func (s Status) Next() (Status, bool) {
	step := s.step()
	if step == 0 || step >= len(orderedStatuses) {
		return "", false
	}
	return orderedStatuses[step], true
}

// CanTransition reports whether a delivery currently at from may move to next.
// Forward movement is single-step along the ordered happy path; cancelled and
// failed are reachable from any non-terminal state. Nothing leaves a terminal
// state and re-asserting the current status is rejected.
func CanTransition(from, next Status) bool {
	if from.IsTerminal() {
		return false
	}
	if next == StatusCancelled || next == StatusFailed {
		return true
	}
	following, ok := from.Next()
	return ok && next == following
}

// RequiresConfirmation reports whether the driver must explicitly confirm the
// transition into this status before it is accepted. Pickup and hand-over are
// the two moments where custody changes, so both demand confirmation.
func (s Status) RequiresConfirmation() bool {
	return s == StatusPickedUp || s == StatusDelivered
}

var statusDescriptions = map[Status]string{
	StatusAssigned:          "Driver assigned to the order",
	StatusOnRouteToVendor:   "Driver heading to the restaurant",
	StatusArrivedAtVendor:   "Driver arrived at the restaurant",
	StatusPickedUp:          "Order picked up by the driver",
	StatusOnRouteToCustomer: "Driver heading to the customer",
	StatusArrivedAtCustomer: "Driver arrived at the delivery address",
	StatusDelivered:         "Order delivered",
	StatusCancelled:         "Delivery cancelled",
	StatusFailed:            "Delivery failed",
}

// Description returns the fixed human-readable sentence for the status.
func (s Status) Description() string {
	return statusDescriptions[s]
}

// Progression describes how far a delivery has moved along the seven ordered
// states. Terminal exceptions report step 0 with zero progress.
type Progression struct {
	CurrentStep int     `json:"currentStep"`
	TotalSteps  int     `json:"totalSteps"`
	Percent     float64 `json:"progressPercentage"`
	Terminal    bool    `json:"isTerminal"`
}

// Progression returns progress metadata for the status.
func (s Status) Progression() Progression {
	total := len(orderedStatuses)
	if s == StatusCancelled || s == StatusFailed {
		return Progression{CurrentStep: 0, TotalSteps: total, Percent: 0, Terminal: true}
	}
	step := s.step()
	return Progression{
		CurrentStep: step,
		TotalSteps:  total,
		Percent:     float64(step) / float64(total) * 100,
		Terminal:    s == StatusDelivered,
	}
}

// Statuses returns the canonical set in lifecycle order with the terminal
// exceptions last.
func Statuses() []Status {
	out := make([]Status, 0, len(orderedStatuses)+2)
	out = append(out, orderedStatuses[:]...)
	out = append(out, StatusCancelled, StatusFailed)
	return out
}
