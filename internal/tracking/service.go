package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rasuna-dev/backend-antar/internal/battery"
	"github.com/rasuna-dev/backend-antar/internal/obs"
)

const positionKeyPrefix = "antar:driver:pos:"

const defaultLatestTTL = 5 * time.Minute

// Broadcaster fans a location fix out to live subscribers of a delivery.
type Broadcaster interface {
	Broadcast(room uuid.UUID, event string, payload any)
}

// Service ingests driver location pings and serves latest/history reads.
type Service struct {
	store           Store
	rdb             *redis.Client
	hub             Broadcaster
	latestTTL       time.Duration
	defaultInterval time.Duration
	log             zerolog.Logger
	now             func() time.Time
}

// ServiceConfig wires the tracking service dependencies.
type ServiceConfig struct {
	Store           Store
	Redis           *redis.Client
	Hub             Broadcaster
	LatestTTL       time.Duration
	DefaultInterval time.Duration
	Logger          zerolog.Logger
}

// NewService constructs a tracking Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("tracking: store is required")
	}
	if cfg.Redis == nil {
		return nil, errors.New("tracking: redis client is required")
	}
	ttl := cfg.LatestTTL
	if ttl <= 0 {
		ttl = defaultLatestTTL
	}
	interval := cfg.DefaultInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Service{
		store:           cfg.Store,
		rdb:             cfg.Redis,
		hub:             cfg.Hub,
		latestTTL:       ttl,
		defaultInterval: interval,
		log:             cfg.Logger.With().Str("component", "tracking").Logger(),
		now:             time.Now,
	}, nil
}

func positionKey(driverID uuid.UUID) string {
	return positionKeyPrefix + driverID.String()
}

// Record stores a ping: latest position to redis, history row to Postgres,
// presence touch, and a broadcast to the delivery's live subscribers.
func (s *Service) Record(ctx context.Context, p Position) error {
	if p.DriverID == uuid.Nil {
		return errors.New("tracking: driver id is required")
	}
	if p.RecordedAt.IsZero() {
		p.RecordedAt = s.now().UTC()
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode position: %w", err)
	}
	// Latest-position cache is best effort; the history row is the durable record.
	if err := s.rdb.Set(ctx, positionKey(p.DriverID), payload, s.latestTTL).Err(); err != nil {
		s.log.Warn().Err(err).Str("driver_id", p.DriverID.String()).Msg("cache latest position")
	}

	if err := s.store.InsertPosition(ctx, p); err != nil {
		s.countPing("error")
		return err
	}
	if err := s.store.TouchPresence(ctx, p.DriverID, p.RecordedAt); err != nil {
		s.log.Warn().Err(err).Str("driver_id", p.DriverID.String()).Msg("touch presence")
	}

	if s.hub != nil && p.DeliveryID != nil {
		s.hub.Broadcast(*p.DeliveryID, "location_updated", p)
	}
	s.countPing("accepted")
	return nil
}

// Latest returns the most recent position for the driver, preferring the
// redis cache and falling back to the history table.
func (s *Service) Latest(ctx context.Context, driverID uuid.UUID) (Position, error) {
	raw, err := s.rdb.Get(ctx, positionKey(driverID)).Bytes()
	if err == nil {
		var p Position
		if unmarshalErr := json.Unmarshal(raw, &p); unmarshalErr == nil {
			return p, nil
		}
		// Corrupt cache entry; fall through to the durable record.
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("driver_id", driverID.String()).Msg("read latest position cache")
	}
	return s.store.LatestPosition(ctx, driverID)
}

// History returns recorded positions for the driver, newest first.
func (s *Service) History(ctx context.Context, driverID uuid.UUID, deliveryID *uuid.UUID, page, perPage int) ([]Position, int64, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 50
	}
	return s.store.ListPositions(ctx, driverID, deliveryID, perPage, (page-1)*perPage)
}

// PolicyView is the sampling policy returned to clients that report their own
// battery state. Durations are flattened to whole seconds for the wire.
type PolicyView struct {
	Accuracy        battery.Accuracy   `json:"accuracy"`
	DistanceFilterM int                `json:"distanceFilterM"`
	TimeLimitSec    int                `json:"timeLimitSeconds"`
	IntervalSec     int                `json:"intervalSeconds"`
	Tier            battery.DeviceTier `json:"tier"`
}

// Policy evaluates the battery sampling policy for the reported state.
func (s *Service) Policy(state battery.State) PolicyView {
	defaults := battery.DefaultSettings()
	settings := battery.Recommend(state, defaults)
	interval := battery.RecommendInterval(state, s.defaultInterval)
	return PolicyView{
		Accuracy:        settings.Accuracy,
		DistanceFilterM: settings.DistanceFilter,
		TimeLimitSec:    int(settings.TimeLimit / time.Second),
		IntervalSec:     int(interval / time.Second),
		Tier:            state.Tier,
	}
}

func (s *Service) countPing(result string) {
	if obs.LocationPingsTotal != nil {
		obs.LocationPingsTotal.WithLabelValues(result).Inc()
	}
}
