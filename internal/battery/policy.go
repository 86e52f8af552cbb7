package battery

import "time"

// Accuracy enumerates the positioning accuracy tiers a location source can be
// asked for.
type Accuracy string

const (
	AccuracyLowest Accuracy = "lowest"
	AccuracyMedium Accuracy = "medium"
	AccuracyHigh   Accuracy = "high"
	AccuracyBest   Accuracy = "best"
)

// Battery bands shared by Recommend and RecommendInterval. The two policies
// are computed separately but must agree on these thresholds.
const (
	criticalBatteryPercent = 10
	lowBatteryPercent      = 20
)

// State is a snapshot of the device power situation plus the one-shot tier
// classification.
type State struct {
	Percent  int        `json:"percent"`
	Charging bool       `json:"charging"`
	Tier     DeviceTier `json:"tier"`
}

// Settings captures the sampling configuration handed to a location source.
// DistanceFilter is the minimum movement in meters before a new fix is
// reported; TimeLimit bounds a single fix acquisition.
type Settings struct {
	Accuracy       Accuracy      `json:"accuracy"`
	DistanceFilter int           `json:"distanceFilter"`
	TimeLimit      time.Duration `json:"timeLimit"`
}

// DefaultSettings returns the sampling configuration used when no power or
// device constraint applies.
func DefaultSettings() Settings {
	return Settings{Accuracy: AccuracyHigh, DistanceFilter: 10, TimeLimit: 30 * time.Second}
}

// Recommend derives sampling settings from the current power state. The checks
// run in a fixed order: critical band, low band, charging, low-end device,
// caller defaults. Battery bands are evaluated before the charger, so a device
// charging at a critically low level keeps the power-saving settings until it
// climbs out of the band. That ordering guards against sudden power loss on a
// flaky charger and must not be reordered.
func Recommend(s State, defaults Settings) Settings {
	switch {
	case s.Percent <= criticalBatteryPercent:
		return Settings{Accuracy: AccuracyLowest, DistanceFilter: 50, TimeLimit: 10 * time.Second}
	case s.Percent <= lowBatteryPercent:
		return Settings{Accuracy: AccuracyMedium, DistanceFilter: 25, TimeLimit: 20 * time.Second}
	case s.Charging:
		return Settings{Accuracy: AccuracyBest, DistanceFilter: 5, TimeLimit: defaults.TimeLimit}
	case s.Tier == TierLow:
		return Settings{Accuracy: AccuracyMedium, DistanceFilter: 15, TimeLimit: 30 * time.Second}
	default:
		return defaults
	}
}

// RecommendInterval scales the sampling interval for the current power state:
// 4x in the critical band, 2x in the low band, 0.75x rounded to whole seconds
// while charging, otherwise unchanged.
func RecommendInterval(s State, defaultInterval time.Duration) time.Duration {
	switch {
	case s.Percent <= criticalBatteryPercent && !s.Charging:
		return defaultInterval * 4
	case s.Percent <= lowBatteryPercent && !s.Charging:
		return defaultInterval * 2
	case s.Charging:
		return (defaultInterval * 3 / 4).Round(time.Second)
	default:
		return defaultInterval
	}
}
