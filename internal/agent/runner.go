package agent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rasuna-dev/backend-antar/internal/battery"
)

// Poster submits pings to the API. *Client satisfies it; tests swap it out.
type Poster interface {
	PostLocation(ctx context.Context, ping Ping) error
}

// Runner drives the agent loop: read the battery policy, sample a fix, post
// it. The posting cadence follows the battery monitor every cycle, so a drain
// into the low band stretches the interval without a restart.
type Runner struct {
	Poster     Poster
	Source     LocationSource
	Monitor    *battery.Monitor
	Defaults   battery.Settings
	Interval   time.Duration // base cadence before battery scaling
	DeliveryID *uuid.UUID    // optional delivery the pings belong to
	Logger     *zerolog.Logger

	lastLat float64
	lastLng float64
	hasLast bool
	now     func() time.Time
}

// Run loops until the context is cancelled or the route is exhausted.
func (r *Runner) Run(ctx context.Context) error {
	if r.Poster == nil || r.Source == nil || r.Monitor == nil {
		return errors.New("agent: poster, source and monitor are required")
	}
	interval := r.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	defaults := r.Defaults
	if defaults == (battery.Settings{}) {
		defaults = battery.DefaultSettings()
	}

	// First cycle fires immediately; the battery-scaled wait applies after.
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		if err := r.Cycle(ctx, defaults); err != nil {
			if errors.Is(err, ErrRouteDone) {
				r.logger().Info().Msg("route complete, stopping")
				return nil
			}
			r.logger().Warn().Err(err).Msg("agent cycle")
		}
		timer.Reset(r.Monitor.RecommendedInterval(interval))
	}
}

// Cycle performs one sample-and-post pass. Exposed for tests and for one-shot
// invocations.
func (r *Runner) Cycle(ctx context.Context, defaults battery.Settings) error {
	settings := r.Monitor.Recommended(defaults)

	fixCtx := ctx
	if settings.TimeLimit > 0 {
		var cancel context.CancelFunc
		fixCtx, cancel = context.WithTimeout(ctx, settings.TimeLimit)
		defer cancel()
	}
	fix, err := r.Source.Next(fixCtx, settings)
	if err != nil {
		return err
	}

	if r.hasLast {
		moved := distanceMeters(r.lastLat, r.lastLng, fix.Lat, fix.Lng)
		if moved < float64(settings.DistanceFilter) {
			r.logger().Debug().
				Float64("moved_m", moved).
				Int("filter_m", settings.DistanceFilter).
				Msg("fix under distance filter, skipped")
			return nil
		}
	}

	state := r.Monitor.State()
	ping := Ping{
		DeliveryID: r.DeliveryID,
		Lat:        fix.Lat,
		Lng:        fix.Lng,
		SpeedKph:   fix.SpeedKph,
		Heading:    fix.Heading,
		AccuracyM:  fix.AccuracyM,
		BatteryPct: state.Percent,
		Charging:   state.Charging,
		RecordedAt: r.timeNow().UTC(),
	}
	if err := r.Poster.PostLocation(ctx, ping); err != nil {
		return err
	}
	r.lastLat, r.lastLng = fix.Lat, fix.Lng
	r.hasLast = true
	return nil
}

func (r *Runner) timeNow() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

func (r *Runner) logger() *zerolog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
