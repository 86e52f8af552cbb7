package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rasuna-dev/backend-antar/internal/events"
	"github.com/rasuna-dev/backend-antar/internal/lock"
	"github.com/rasuna-dev/backend-antar/internal/obs"
)

var (
	// ErrNotFound indicates the delivery does not exist.
	ErrNotFound = errors.New("delivery: not found")
	// ErrNotOwned indicates the delivery belongs to a different driver.
	ErrNotOwned = errors.New("delivery: not assigned to this driver")
	// ErrTerminal indicates the delivery already reached a terminal status.
	ErrTerminal = errors.New("delivery: already in a terminal status")
	// ErrInvalidTransition indicates the requested status is not reachable from the current one.
	ErrInvalidTransition = errors.New("delivery: invalid status transition")
	// ErrConfirmationRequired indicates a custody-changing status was sent without confirmed=true.
	ErrConfirmationRequired = errors.New("delivery: explicit confirmation required")
	// ErrStaleStatus indicates a concurrent update won the compare-and-set.
	ErrStaleStatus = errors.New("delivery: status changed concurrently")
)

const defaultLockTTL = 10 * time.Second

// Service owns the delivery workflow: assignment, the forward-only status
// machine, timelines, and driver earnings.
type Service struct {
	store   Store
	bus     *events.Bus
	locker  lock.Locker
	lockTTL time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

// ServiceConfig wires the delivery service dependencies.
type ServiceConfig struct {
	Store   Store
	Bus     *events.Bus
	Locker  lock.Locker
	LockTTL time.Duration
	Logger  zerolog.Logger
}

// NewService constructs a delivery Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("delivery: store is required")
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Service{
		store:   cfg.Store,
		bus:     cfg.Bus,
		locker:  cfg.Locker,
		lockTTL: ttl,
		log:     cfg.Logger.With().Str("component", "delivery").Logger(),
		now:     time.Now,
	}, nil
}

// WithNow allows tests to override the time provider.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// AssignParams describes a new delivery handed to a driver.
type AssignParams struct {
	OrderRef        string          `json:"orderRef" validate:"required"`
	DriverID        uuid.UUID       `json:"driverId" validate:"required"`
	VendorName      string          `json:"vendorName" validate:"required"`
	VendorAddress   string          `json:"vendorAddress" validate:"required"`
	CustomerName    string          `json:"customerName" validate:"required"`
	CustomerAddress string          `json:"customerAddress" validate:"required"`
	Fee             decimal.Decimal `json:"fee"`
	Currency        string          `json:"currency"`
}

// Assign creates a delivery in the assigned status and announces it.
func (s *Service) Assign(ctx context.Context, params AssignParams) (Delivery, error) {
	if strings.TrimSpace(params.OrderRef) == "" {
		return Delivery{}, errors.New("delivery: order ref is required")
	}
	if params.DriverID == uuid.Nil {
		return Delivery{}, errors.New("delivery: driver id is required")
	}
	if params.Fee.IsNegative() {
		return Delivery{}, errors.New("delivery: fee must not be negative")
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "IDR"
	}

	created, err := s.store.CreateDelivery(ctx, Delivery{
		OrderRef:        strings.TrimSpace(params.OrderRef),
		DriverID:        params.DriverID,
		VendorName:      strings.TrimSpace(params.VendorName),
		VendorAddress:   strings.TrimSpace(params.VendorAddress),
		CustomerName:    strings.TrimSpace(params.CustomerName),
		CustomerAddress: strings.TrimSpace(params.CustomerAddress),
		Fee:             params.Fee,
		Currency:        currency,
		Status:          StatusAssigned,
	})
	if err != nil {
		return Delivery{}, fmt.Errorf("create delivery: %w", err)
	}

	if err := s.store.InsertStatusEvent(ctx, StatusEvent{
		DeliveryID: created.ID,
		To:         StatusAssigned.Wire(),
	}); err != nil {
		s.log.Error().Err(err).Str("delivery_id", created.ID.String()).Msg("record assignment event")
	}

	if obs.DeliveriesAssignedTotal != nil {
		obs.DeliveriesAssignedTotal.Inc()
	}
	s.emit(ctx, events.TopicDeliveryAssigned, created, statusChangePayload{
		DeliveryID: created.ID,
		OrderRef:   created.OrderRef,
		DriverID:   created.DriverID,
		To:         StatusAssigned.Wire(),
	})

	s.log.Info().
		Str("delivery_id", created.ID.String()).
		Str("driver_id", created.DriverID.String()).
		Str("order_ref", created.OrderRef).
		Msg("delivery_assigned")
	return created, nil
}

// AdvanceStatus moves a delivery one step forward (or to a terminal
// exception) on behalf of the owning driver. Custody-changing statuses
// require confirmed=true. Concurrent updates for the same delivery are
// serialized by a redis lock and a compare-and-set on the status column.
func (s *Service) AdvanceStatus(ctx context.Context, deliveryID, driverID uuid.UUID, next Status, confirmed bool, note string) (Delivery, error) {
	var updated Delivery
	err := s.withLock(ctx, deliveryID, func(ctx context.Context) error {
		current, err := s.store.GetDelivery(ctx, deliveryID)
		if err != nil {
			return err
		}
		if current.DriverID != driverID {
			return ErrNotOwned
		}
		from := current.Status
		switch {
		case from.IsTerminal():
			s.countTransition(from, next, "terminal")
			return ErrTerminal
		case !CanTransition(from, next):
			s.countTransition(from, next, "invalid")
			return ErrInvalidTransition
		case next.RequiresConfirmation() && !confirmed:
			s.countTransition(from, next, "unconfirmed")
			return ErrConfirmationRequired
		}

		var deliveredAt *time.Time
		if next == StatusDelivered {
			t := s.now().UTC()
			deliveredAt = &t
		}
		updated, err = s.store.UpdateStatusIfCurrent(ctx, deliveryID, from, next, deliveredAt)
		if err != nil {
			s.countTransition(from, next, "conflict")
			return err
		}
		if err := s.store.InsertStatusEvent(ctx, StatusEvent{
			DeliveryID: deliveryID,
			From:       from.Wire(),
			To:         next.Wire(),
			Note:       strings.TrimSpace(note),
			Confirmed:  confirmed,
		}); err != nil {
			s.log.Error().Err(err).Str("delivery_id", deliveryID.String()).Msg("record status event")
		}
		s.countTransition(from, next, "ok")

		payload := statusChangePayload{
			DeliveryID: updated.ID,
			OrderRef:   updated.OrderRef,
			DriverID:   updated.DriverID,
			From:       from.Wire(),
			To:         next.Wire(),
			Note:       strings.TrimSpace(note),
			Confirmed:  confirmed,
		}
		s.emit(ctx, events.TopicDeliveryStatusChanged, updated, payload)
		if topic := terminalTopic(next); topic != "" {
			s.emit(ctx, topic, updated, payload)
		}

		s.log.Info().
			Str("delivery_id", updated.ID.String()).
			Str("driver_id", updated.DriverID.String()).
			Str("from", from.Wire()).
			Str("to", next.Wire()).
			Msg("delivery_status_changed")
		return nil
	})
	return updated, err
}

// Cancel terminates a delivery from dispatch, bypassing driver ownership.
func (s *Service) Cancel(ctx context.Context, deliveryID uuid.UUID, note string) (Delivery, error) {
	var updated Delivery
	err := s.withLock(ctx, deliveryID, func(ctx context.Context) error {
		current, err := s.store.GetDelivery(ctx, deliveryID)
		if err != nil {
			return err
		}
		from := current.Status
		if from.IsTerminal() {
			s.countTransition(from, StatusCancelled, "terminal")
			return ErrTerminal
		}
		updated, err = s.store.UpdateStatusIfCurrent(ctx, deliveryID, from, StatusCancelled, nil)
		if err != nil {
			s.countTransition(from, StatusCancelled, "conflict")
			return err
		}
		if err := s.store.InsertStatusEvent(ctx, StatusEvent{
			DeliveryID: deliveryID,
			From:       from.Wire(),
			To:         StatusCancelled.Wire(),
			Note:       strings.TrimSpace(note),
		}); err != nil {
			s.log.Error().Err(err).Str("delivery_id", deliveryID.String()).Msg("record cancel event")
		}
		s.countTransition(from, StatusCancelled, "ok")

		payload := statusChangePayload{
			DeliveryID: updated.ID,
			OrderRef:   updated.OrderRef,
			DriverID:   updated.DriverID,
			From:       from.Wire(),
			To:         StatusCancelled.Wire(),
			Note:       strings.TrimSpace(note),
		}
		s.emit(ctx, events.TopicDeliveryStatusChanged, updated, payload)
		s.emit(ctx, events.TopicDeliveryCancelled, updated, payload)
		return nil
	})
	return updated, err
}

// Get returns a delivery visible to the owning driver.
func (s *Service) Get(ctx context.Context, deliveryID, driverID uuid.UUID) (Delivery, error) {
	d, err := s.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return Delivery{}, err
	}
	if d.DriverID != driverID {
		return Delivery{}, ErrNotOwned
	}
	return d, nil
}

// List returns the driver's deliveries, optionally filtered by status.
func (s *Service) List(ctx context.Context, driverID uuid.UUID, status Status, page, perPage int) ([]Delivery, int64, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	return s.store.ListByDriver(ctx, driverID, status, perPage, (page-1)*perPage)
}

// Progression returns the progress-bar view for a delivery.
func (s *Service) Progression(ctx context.Context, deliveryID uuid.UUID) (ProgressionView, error) {
	d, err := s.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return ProgressionView{}, err
	}
	return ProgressionView{
		DeliveryID:  d.ID,
		Status:      d.Status.Wire(),
		Description: d.Status.Description(),
		Progression: d.Status.Progression(),
	}, nil
}

// Timeline returns the status history for a delivery owned by the driver.
func (s *Service) Timeline(ctx context.Context, deliveryID, driverID uuid.UUID) ([]StatusEvent, error) {
	if _, err := s.Get(ctx, deliveryID, driverID); err != nil {
		return nil, err
	}
	return s.store.ListStatusEvents(ctx, deliveryID)
}

// Earnings sums delivered-job fees for the driver over [from, to).
func (s *Service) Earnings(ctx context.Context, driverID uuid.UUID, from, to time.Time) (EarningsSummary, error) {
	if !to.After(from) {
		return EarningsSummary{}, errors.New("delivery: earnings window is empty")
	}
	total, count, err := s.store.SumEarnings(ctx, driverID, from, to)
	if err != nil {
		return EarningsSummary{}, err
	}
	return EarningsSummary{
		DriverID:       driverID,
		From:           from,
		To:             to,
		DeliveredCount: count,
		TotalFees:      total,
		Currency:       "IDR",
	}, nil
}

type statusChangePayload struct {
	DeliveryID uuid.UUID `json:"deliveryId"`
	OrderRef   string    `json:"orderRef"`
	DriverID   uuid.UUID `json:"driverId"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to"`
	Note       string    `json:"note,omitempty"`
	Confirmed  bool      `json:"confirmed,omitempty"`
}

func terminalTopic(s Status) string {
	switch s {
	case StatusDelivered:
		return events.TopicDeliveryDelivered
	case StatusCancelled:
		return events.TopicDeliveryCancelled
	case StatusFailed:
		return events.TopicDeliveryFailed
	default:
		return ""
	}
}

func (s *Service) withLock(ctx context.Context, deliveryID uuid.UUID, fn func(context.Context) error) error {
	if s.locker.R == nil {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, lock.Key("delivery", deliveryID.String()), s.lockTTL, fn)
}

func (s *Service) emit(ctx context.Context, topic string, d Delivery, payload statusChangePayload) {
	if s.bus == nil {
		return
	}
	if _, err := s.bus.Emit(ctx, topic, d.ID, payload); err != nil {
		s.log.Error().Err(err).Str("topic", topic).Str("delivery_id", d.ID.String()).Msg("emit delivery event")
	}
}

func (s *Service) countTransition(from, to Status, result string) {
	if obs.DeliveryTransitionsTotal != nil {
		obs.DeliveryTransitionsTotal.WithLabelValues(from.Wire(), to.Wire(), result).Inc()
	}
}
