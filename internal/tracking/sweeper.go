package tracking

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rasuna-dev/backend-antar/internal/events"
	"github.com/rasuna-dev/backend-antar/internal/obs"
)

// Sweeper marks drivers offline when their last ping is older than StaleAfter
// and clears their cached positions. Run it from the worker process.
type Sweeper struct {
	Store      Store
	Redis      *redis.Client
	Bus        *events.Bus
	StaleAfter time.Duration
	Interval   time.Duration
	Logger     *zerolog.Logger
}

type offlinePayload struct {
	DriverID string    `json:"driverId"`
	StaleAt  time.Time `json:"staleAt"`
}

// Run sweeps on a ticker until the context is cancelled.
func (s Sweeper) Run(ctx context.Context) error {
	if s.Store == nil {
		return errors.New("tracking: sweeper store not configured")
	}
	staleAfter := s.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 3 * time.Minute
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.SweepOnce(ctx, staleAfter); err != nil {
				s.logger().Warn().Err(err).Msg("presence sweep")
			}
		}
	}
}

// SweepOnce performs a single pass and is exposed for the worker's startup
// sweep and for tests.
func (s Sweeper) SweepOnce(ctx context.Context, staleAfter time.Duration) error {
	cutoff := time.Now().UTC().Add(-staleAfter)
	ids, err := s.Store.MarkStaleOffline(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if s.Redis != nil {
			if err := s.Redis.Del(ctx, positionKey(id)).Err(); err != nil {
				s.logger().Warn().Err(err).Str("driver_id", id.String()).Msg("clear cached position")
			}
		}
		if s.Bus != nil {
			payload := offlinePayload{DriverID: id.String(), StaleAt: cutoff}
			if _, err := s.Bus.Emit(ctx, events.TopicDriverOffline, id, payload); err != nil {
				s.logger().Warn().Err(err).Str("driver_id", id.String()).Msg("emit driver offline")
			}
		}
		if obs.DriversMarkedOffline != nil {
			obs.DriversMarkedOffline.Inc()
		}
		s.logger().Info().Str("driver_id", id.String()).Time("cutoff", cutoff).Msg("driver_marked_offline")
	}
	return nil
}

func (s Sweeper) logger() *zerolog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
