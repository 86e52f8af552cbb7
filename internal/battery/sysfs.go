package battery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const defaultPowerSupplyDir = "/sys/class/power_supply/BAT0"

// SysfsSource reads power state from the Linux power_supply class, the
// platform API available on in-vehicle tracking units. The kernel exposes no
// push notification here, so Events adapts a short file watch into a stream
// that surfaces charger transitions between the monitor's own polls.
type SysfsSource struct {
	Dir           string
	WatchInterval time.Duration
}

// Read parses the capacity and status attributes.
func (s SysfsSource) Read(_ context.Context) (Sample, error) {
	dir := strings.TrimSpace(s.Dir)
	if dir == "" {
		dir = defaultPowerSupplyDir
	}
	rawCapacity, err := os.ReadFile(filepath.Join(dir, "capacity"))
	if err != nil {
		return Sample{}, fmt.Errorf("battery: read capacity: %w", err)
	}
	percent, err := strconv.Atoi(strings.TrimSpace(string(rawCapacity)))
	if err != nil {
		return Sample{}, fmt.Errorf("battery: parse capacity: %w", err)
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	rawStatus, err := os.ReadFile(filepath.Join(dir, "status"))
	if err != nil {
		return Sample{}, fmt.Errorf("battery: read status: %w", err)
	}
	return Sample{
		Percent:  percent,
		Charging: chargingFromStatus(strings.TrimSpace(string(rawStatus))),
	}, nil
}

// Events watches the supply attributes and emits a sample whenever the
// reading changes. The channel closes when the context is cancelled.
func (s SysfsSource) Events(ctx context.Context) (<-chan Sample, error) {
	interval := s.WatchInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ch := make(chan Sample, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var last *Sample
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sample, err := s.Read(ctx)
				if err != nil {
					continue
				}
				if last != nil && sample == *last {
					continue
				}
				current := sample
				last = &current
				select {
				case ch <- sample:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

// chargingFromStatus maps kernel power_supply status strings. "Full" reports
// a plugged-in battery held at capacity, so it counts as charging.
func chargingFromStatus(status string) bool {
	switch strings.ToLower(status) {
	case "charging", "full":
		return true
	}
	return false
}

// FixedSource serves a constant sample. Used by the agent's simulation mode
// on hosts without a battery.
type FixedSource struct {
	Sample Sample
}

func (f FixedSource) Read(context.Context) (Sample, error) { return f.Sample, nil }

func (f FixedSource) Events(context.Context) (<-chan Sample, error) {
	return nil, ErrEventsUnsupported
}
