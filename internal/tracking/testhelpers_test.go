package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rasuna-dev/backend-antar/internal/events"
)

type memStore struct {
	mu        sync.Mutex
	positions []Position
	presence  map[uuid.UUID]time.Time
	online    map[uuid.UUID]bool
	insertErr error
}

func newMemStore() *memStore {
	return &memStore{
		presence: make(map[uuid.UUID]time.Time),
		online:   make(map[uuid.UUID]bool),
	}
}

func (m *memStore) InsertPosition(_ context.Context, p Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.positions = append(m.positions, p)
	return nil
}

func (m *memStore) LatestPosition(_ context.Context, driverID uuid.UUID) (Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Position
	for i := range m.positions {
		p := m.positions[i]
		if p.DriverID != driverID {
			continue
		}
		if latest == nil || p.RecordedAt.After(latest.RecordedAt) {
			latest = &p
		}
	}
	if latest == nil {
		return Position{}, ErrNoPosition
	}
	return *latest, nil
}

func (m *memStore) ListPositions(_ context.Context, driverID uuid.UUID, deliveryID *uuid.UUID, limit, offset int) ([]Position, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := make([]Position, 0)
	for i := len(m.positions) - 1; i >= 0; i-- {
		p := m.positions[i]
		if p.DriverID != driverID {
			continue
		}
		if deliveryID != nil && (p.DeliveryID == nil || *p.DeliveryID != *deliveryID) {
			continue
		}
		matched = append(matched, p)
	}
	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (m *memStore) TouchPresence(_ context.Context, driverID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presence[driverID] = at
	m.online[driverID] = true
	return nil
}

func (m *memStore) MarkStaleOffline(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id, on := range m.online {
		if !on {
			continue
		}
		if seen, ok := m.presence[id]; !ok || seen.Before(cutoff) {
			m.online[id] = false
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type stubEventStore struct {
	mu     sync.Mutex
	topics []string
}

func (s *stubEventStore) InsertEvent(_ context.Context, topic string, aggregateID uuid.UUID, payload []byte) (events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = append(s.topics, topic)
	return events.Event{ID: uuid.New(), Topic: topic, AggregateID: aggregateID, Payload: payload, OccurredAt: time.Now()}, nil
}

func (s *stubEventStore) emitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.topics...)
}

type captureHub struct {
	mu     sync.Mutex
	rooms  []uuid.UUID
	events []string
}

func (c *captureHub) Broadcast(room uuid.UUID, event string, _ any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms = append(c.rooms, room)
	c.events = append(c.events, event)
}
