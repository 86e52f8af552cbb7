package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rasuna-dev/backend-antar/internal/events"
)

type memStore struct {
	mu         sync.Mutex
	deliveries map[uuid.UUID]Delivery
	events     []StatusEvent
}

func newMemStore() *memStore {
	return &memStore{deliveries: make(map[uuid.UUID]Delivery)}
}

func (m *memStore) CreateDelivery(_ context.Context, d Delivery) (Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = uuid.New()
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	m.deliveries[d.ID] = d
	return d, nil
}

func (m *memStore) GetDelivery(_ context.Context, id uuid.UUID) (Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return Delivery{}, ErrNotFound
	}
	return d, nil
}

func (m *memStore) ListByDriver(_ context.Context, driverID uuid.UUID, status Status, limit, offset int) ([]Delivery, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Delivery
	for _, d := range m.deliveries {
		if d.DriverID != driverID {
			continue
		}
		if status != "" && d.Status != status {
			continue
		}
		out = append(out, d)
	}
	return out, int64(len(out)), nil
}

func (m *memStore) UpdateStatusIfCurrent(_ context.Context, id uuid.UUID, from, to Status, deliveredAt *time.Time) (Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return Delivery{}, ErrNotFound
	}
	if d.Status != from {
		return Delivery{}, ErrStaleStatus
	}
	d.Status = to
	if deliveredAt != nil {
		d.DeliveredAt = deliveredAt
	}
	d.UpdatedAt = time.Now().UTC()
	m.deliveries[id] = d
	return d, nil
}

func (m *memStore) InsertStatusEvent(_ context.Context, ev StatusEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.RecordedAt = time.Now().UTC()
	m.events = append(m.events, ev)
	return nil
}

func (m *memStore) ListStatusEvents(_ context.Context, deliveryID uuid.UUID) ([]StatusEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StatusEvent
	for _, ev := range m.events {
		if ev.DeliveryID == deliveryID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memStore) SumEarnings(_ context.Context, driverID uuid.UUID, from, to time.Time) (decimal.Decimal, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	var count int64
	for _, d := range m.deliveries {
		if d.DriverID != driverID || d.Status != StatusDelivered || d.DeliveredAt == nil {
			continue
		}
		if d.DeliveredAt.Before(from) || !d.DeliveredAt.Before(to) {
			continue
		}
		total = total.Add(d.Fee)
		count++
	}
	return total, count, nil
}

type memEventStore struct {
	mu     sync.Mutex
	topics []string
}

func (m *memEventStore) InsertEvent(_ context.Context, topic string, aggregateID uuid.UUID, payload []byte) (events.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics = append(m.topics, topic)
	return events.Event{
		ID:          uuid.New(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     payload,
		OccurredAt:  time.Now().UTC(),
	}, nil
}

func (m *memEventStore) emitted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.topics...)
}
