package battery

import (
	"strconv"
	"strings"
)

// DeviceTier buckets hardware capability. Only the low tier changes behavior;
// anything unrecognized stays high so capable devices keep full accuracy.
type DeviceTier string

const (
	TierHigh DeviceTier = "high"
	TierLow  DeviceTier = "low"
)

// ParseTier resolves a reported tier string, defaulting to high.
func ParseTier(value string) DeviceTier {
	if strings.EqualFold(strings.TrimSpace(value), string(TierLow)) {
		return TierLow
	}
	return TierHigh
}

// DeviceProfile carries the platform identity used for the one-shot tier
// classification.
type DeviceProfile struct {
	Platform  string
	Model     string
	OSVersion string
}

// Android releases below this major version run on hardware old enough to
// warrant conservative sampling defaults.
const minAndroidMajorForHighTier = 9

// ClassifyTier classifies a device once per process. Devices are high-end by
// default and downgraded only on the explicit old-Android signal.
func ClassifyTier(p DeviceProfile) DeviceTier {
	if !strings.EqualFold(strings.TrimSpace(p.Platform), "android") {
		return TierHigh
	}
	major, ok := majorVersion(p.OSVersion)
	if ok && major > 0 && major < minAndroidMajorForHighTier {
		return TierLow
	}
	return TierHigh
}

func majorVersion(version string) (int, bool) {
	trimmed := strings.TrimSpace(version)
	if trimmed == "" {
		return 0, false
	}
	head := trimmed
	if idx := strings.IndexAny(trimmed, ". -"); idx >= 0 {
		head = trimmed[:idx]
	}
	major, err := strconv.Atoi(head)
	if err != nil {
		return 0, false
	}
	return major, true
}
