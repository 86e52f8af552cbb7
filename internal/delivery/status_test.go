package delivery

import (
	"errors"
	"testing"
)

func TestParseStatusRoundTrip(t *testing.T) {
	for _, status := range Statuses() {
		parsed, err := ParseStatus(status.Wire())
		if err != nil {
			t.Fatalf("parse %q: %v", status.Wire(), err)
		}
		if parsed != status {
			t.Fatalf("round trip %q: got %q", status, parsed)
		}
	}
}

func TestParseStatusLegacyAliases(t *testing.T) {
	cases := map[string]Status{
		"out_for_delivery": StatusOnRouteToCustomer,
		"en_route":         StatusOnRouteToCustomer,
		"ready":            StatusAssigned,
		"preparing":        StatusAssigned,
	}
	for input, want := range cases {
		got, err := ParseStatus(input)
		if err != nil {
			t.Fatalf("parse alias %q: %v", input, err)
		}
		if got != want {
			t.Fatalf("alias %q: got %q want %q", input, got, want)
		}
	}
}

func TestParseStatusTolerance(t *testing.T) {
	cases := map[string]Status{
		"ASSIGNED":            StatusAssigned,
		"  delivered  ":       StatusDelivered,
		"onroutetovendor":     StatusOnRouteToVendor,
		"onRouteToCustomer":   StatusOnRouteToCustomer,
		"arrivedAtVendor":     StatusArrivedAtVendor,
		"pickedUp":            StatusPickedUp,
		"arrived_at_customer": StatusArrivedAtCustomer,
		"Out_For_Delivery":    StatusOnRouteToCustomer,
	}
	for input, want := range cases {
		got, err := ParseStatus(input)
		if err != nil {
			t.Fatalf("parse %q: %v", input, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %q want %q", input, got, want)
		}
	}
}

func TestParseStatusRejectsUnknown(t *testing.T) {
	for _, input := range []string{"", "   ", "unknown", "on route to vendor", "delivered!", "assigned2", "0"} {
		if _, err := ParseStatus(input); !errors.Is(err, ErrInvalidStatus) {
			t.Fatalf("parse %q: expected ErrInvalidStatus, got %v", input, err)
		}
		if IsValidWireStatus(input) {
			t.Fatalf("IsValidWireStatus(%q) should be false", input)
		}
	}
}

func TestIsValidWireStatusMatchesParse(t *testing.T) {
	inputs := []string{"assigned", "READY", "pickedup", "garbage", "en_route", "", "failed"}
	for _, input := range inputs {
		_, err := ParseStatus(input)
		if IsValidWireStatus(input) != (err == nil) {
			t.Fatalf("IsValidWireStatus(%q) disagrees with ParseStatus", input)
		}
	}
}

func TestMustParseStatusPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for invalid status")
		}
	}()
	MustParseStatus("not-a-status")
}

func TestProgressionMonotonic(t *testing.T) {
	ordered := []Status{
		StatusAssigned,
		StatusOnRouteToVendor,
		StatusArrivedAtVendor,
		StatusPickedUp,
		StatusOnRouteToCustomer,
		StatusArrivedAtCustomer,
		StatusDelivered,
	}
	prevStep := 0
	prevPercent := -1.0
	for _, status := range ordered {
		info := status.Progression()
		if info.TotalSteps != 7 {
			t.Fatalf("%s: total steps %d", status, info.TotalSteps)
		}
		if info.CurrentStep <= prevStep {
			t.Fatalf("%s: step %d not increasing past %d", status, info.CurrentStep, prevStep)
		}
		if info.Percent <= prevPercent {
			t.Fatalf("%s: percent %f not increasing past %f", status, info.Percent, prevPercent)
		}
		prevStep = info.CurrentStep
		prevPercent = info.Percent
	}
	final := StatusDelivered.Progression()
	if final.Percent != 100.0 {
		t.Fatalf("delivered percent: got %f want 100", final.Percent)
	}
	if !final.Terminal {
		t.Fatal("delivered must be terminal")
	}
	if first := StatusAssigned.Progression(); first.CurrentStep != 1 {
		t.Fatalf("assigned step: got %d want 1", first.CurrentStep)
	}
}

func TestProgressionTerminalExceptions(t *testing.T) {
	for _, status := range []Status{StatusCancelled, StatusFailed} {
		info := status.Progression()
		if !info.Terminal {
			t.Fatalf("%s must be terminal", status)
		}
		if info.CurrentStep != 0 {
			t.Fatalf("%s step: got %d want 0", status, info.CurrentStep)
		}
		if info.Percent != 0 {
			t.Fatalf("%s percent: got %f want 0", status, info.Percent)
		}
	}
}

func TestRequiresConfirmation(t *testing.T) {
	confirm := map[Status]bool{StatusPickedUp: true, StatusDelivered: true}
	for _, status := range Statuses() {
		if got := status.RequiresConfirmation(); got != confirm[status] {
			t.Fatalf("%s: confirmation %v", status, got)
		}
	}
}

func TestDescriptionsPresent(t *testing.T) {
	for _, status := range Statuses() {
		if status.Description() == "" {
			t.Fatalf("%s: missing description", status)
		}
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, next Status
		want       bool
	}{
		{StatusAssigned, StatusOnRouteToVendor, true},
		{StatusOnRouteToVendor, StatusArrivedAtVendor, true},
		{StatusArrivedAtVendor, StatusPickedUp, true},
		{StatusPickedUp, StatusOnRouteToCustomer, true},
		{StatusOnRouteToCustomer, StatusArrivedAtCustomer, true},
		{StatusArrivedAtCustomer, StatusDelivered, true},
		{StatusAssigned, StatusPickedUp, false},
		{StatusAssigned, StatusDelivered, false},
		{StatusPickedUp, StatusArrivedAtVendor, false},
		{StatusAssigned, StatusAssigned, false},
		{StatusAssigned, StatusCancelled, true},
		{StatusArrivedAtCustomer, StatusFailed, true},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusAssigned, false},
		{StatusFailed, StatusFailed, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.next); got != tc.want {
			t.Fatalf("transition %s -> %s: got %v want %v", tc.from, tc.next, got, tc.want)
		}
	}
}

func TestNextFollowsOrderedFlow(t *testing.T) {
	current := StatusAssigned
	steps := 0
	for {
		next, ok := current.Next()
		if !ok {
			break
		}
		steps++
		current = next
	}
	if current != StatusDelivered {
		t.Fatalf("flow ends at %s", current)
	}
	if steps != 6 {
		t.Fatalf("expected 6 forward steps, got %d", steps)
	}
	if _, ok := StatusCancelled.Next(); ok {
		t.Fatal("cancelled has no next status")
	}
}
