package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rasuna-dev/backend-antar/internal/events"
)

// Store is the persistence surface for webhook endpoints and deliveries.
type Store interface {
	CreateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error)
	GetEndpoint(ctx context.Context, id uuid.UUID) (Endpoint, error)
	ListEndpoints(ctx context.Context, limit, offset int) ([]Endpoint, error)
	DeleteEndpoint(ctx context.Context, id uuid.UUID) error
	ListActiveEndpointsForTopic(ctx context.Context, topic string) ([]Endpoint, error)

	ScheduleDelivery(ctx context.Context, endpointID, eventID uuid.UUID, maxAttempt int) (Delivery, error)
	GetDelivery(ctx context.Context, id uuid.UUID) (Delivery, error)
	MarkDelivering(ctx context.Context, id uuid.UUID) error
	MarkDelivered(ctx context.Context, id uuid.UUID, responseStatus int, responseBody string) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
	MoveToDLQ(ctx context.Context, id uuid.UUID, lastError string) error
	ResetForReplay(ctx context.Context, id uuid.UUID) (Delivery, error)
	ListDeliveries(ctx context.Context, filter DeliveryFilter, limit, offset int) ([]Delivery, int64, error)

	GetEvent(ctx context.Context, id uuid.UUID) (events.Event, error)
}

// PGStore implements Store against Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
}

const endpointColumns = `id, name, url, secret, active, topics, created_at, updated_at`

const deliveryColumns = `id, endpoint_id, event_id, status, attempt, max_attempt,
	COALESCE(last_error, ''), COALESCE(response_status, 0), COALESCE(response_body, ''),
	delivered_at, created_at, updated_at`

func (s *PGStore) CreateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error) {
	const q = `
		INSERT INTO webhook_endpoints (name, url, secret, active, topics)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + endpointColumns
	return scanEndpoint(s.Pool.QueryRow(ctx, q, ep.Name, ep.URL, ep.Secret, ep.Active, ep.Topics))
}

func (s *PGStore) UpdateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error) {
	const q = `
		UPDATE webhook_endpoints
		SET name = $2, url = $3, secret = $4, active = $5, topics = $6, updated_at = now()
		WHERE id = $1
		RETURNING ` + endpointColumns
	return scanEndpoint(s.Pool.QueryRow(ctx, q, ep.ID, ep.Name, ep.URL, ep.Secret, ep.Active, ep.Topics))
}

func (s *PGStore) GetEndpoint(ctx context.Context, id uuid.UUID) (Endpoint, error) {
	q := `SELECT ` + endpointColumns + ` FROM webhook_endpoints WHERE id = $1`
	return scanEndpoint(s.Pool.QueryRow(ctx, q, id))
}

func (s *PGStore) ListEndpoints(ctx context.Context, limit, offset int) ([]Endpoint, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	q := `SELECT ` + endpointColumns + ` FROM webhook_endpoints ORDER BY created_at DESC` +
		fmt.Sprintf(` LIMIT %d OFFSET %d`, limit, offset)
	rows, err := s.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (s *PGStore) DeleteEndpoint(ctx context.Context, id uuid.UUID) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM webhook_endpoints WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

// ListActiveEndpointsForTopic returns active endpoints subscribed to the
// topic. An endpoint with an empty topics array receives everything.
func (s *PGStore) ListActiveEndpointsForTopic(ctx context.Context, topic string) ([]Endpoint, error) {
	q := `SELECT ` + endpointColumns + `
		FROM webhook_endpoints
		WHERE active AND (cardinality(topics) = 0 OR $1 = ANY(topics))
		ORDER BY created_at`
	rows, err := s.Pool.Query(ctx, q, topic)
	if err != nil {
		return nil, fmt.Errorf("list endpoints for topic: %w", err)
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// ScheduleDelivery creates the delivery row for the endpoint/event pair. The
// unique index on (endpoint_id, event_id) makes re-emits idempotent.
func (s *PGStore) ScheduleDelivery(ctx context.Context, endpointID, eventID uuid.UUID, maxAttempt int) (Delivery, error) {
	if maxAttempt <= 0 {
		maxAttempt = 6
	}
	const q = `
		INSERT INTO webhook_deliveries (endpoint_id, event_id, status, max_attempt)
		VALUES ($1, $2, 'pending', $3)
		RETURNING ` + deliveryColumns
	del, err := scanWebhookDelivery(s.Pool.QueryRow(ctx, q, endpointID, eventID, maxAttempt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return Delivery{}, ErrAlreadyScheduled
		}
		return Delivery{}, err
	}
	return del, nil
}

func (s *PGStore) GetDelivery(ctx context.Context, id uuid.UUID) (Delivery, error) {
	q := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = $1`
	return scanWebhookDelivery(s.Pool.QueryRow(ctx, q, id))
}

func (s *PGStore) MarkDelivering(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE webhook_deliveries SET status = 'delivering', updated_at = now() WHERE id = $1`
	return s.exec(ctx, q, id)
}

func (s *PGStore) MarkDelivered(ctx context.Context, id uuid.UUID, responseStatus int, responseBody string) error {
	const q = `
		UPDATE webhook_deliveries
		SET status = 'delivered', attempt = attempt + 1,
			response_status = NULLIF($2, 0), response_body = NULLIF($3, ''),
			delivered_at = now(), updated_at = now()
		WHERE id = $1`
	return s.exec(ctx, q, id, responseStatus, responseBody)
}

func (s *PGStore) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	const q = `
		UPDATE webhook_deliveries
		SET status = 'failed', attempt = attempt + 1, last_error = NULLIF($2, ''), updated_at = now()
		WHERE id = $1`
	return s.exec(ctx, q, id, lastError)
}

func (s *PGStore) MoveToDLQ(ctx context.Context, id uuid.UUID, lastError string) error {
	const q = `
		UPDATE webhook_deliveries
		SET status = 'dlq', attempt = attempt + 1, last_error = NULLIF($2, ''), updated_at = now()
		WHERE id = $1`
	return s.exec(ctx, q, id, lastError)
}

func (s *PGStore) ResetForReplay(ctx context.Context, id uuid.UUID) (Delivery, error) {
	const q = `
		UPDATE webhook_deliveries
		SET status = 'pending', attempt = 0, last_error = NULL, updated_at = now()
		WHERE id = $1
		RETURNING ` + deliveryColumns
	return scanWebhookDelivery(s.Pool.QueryRow(ctx, q, id))
}

func (s *PGStore) ListDeliveries(ctx context.Context, filter DeliveryFilter, limit, offset int) ([]Delivery, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	where := " WHERE 1=1"
	args := []any{}
	if filter.EndpointID != nil {
		args = append(args, *filter.EndpointID)
		where += fmt.Sprintf(" AND endpoint_id = $%d", len(args))
	}
	if filter.EventID != nil {
		args = append(args, *filter.EventID)
		where += fmt.Sprintf(" AND event_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int64
	if err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_deliveries`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count deliveries: %w", err)
	}

	listQ := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)
	rows, err := s.Pool.Query(ctx, listQ, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		del, err := scanWebhookDelivery(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, del)
	}
	return out, total, rows.Err()
}

func (s *PGStore) GetEvent(ctx context.Context, id uuid.UUID) (events.Event, error) {
	const q = `SELECT id, topic, aggregate_id, payload, occurred_at FROM domain_events WHERE id = $1`
	var ev events.Event
	err := s.Pool.QueryRow(ctx, q, id).Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt)
	if err != nil {
		return events.Event{}, fmt.Errorf("get domain event: %w", err)
	}
	return ev, nil
}

func (s *PGStore) exec(ctx context.Context, q string, args ...any) error {
	tag, err := s.Pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

func scanEndpoint(row pgx.Row) (Endpoint, error) {
	var ep Endpoint
	err := row.Scan(&ep.ID, &ep.Name, &ep.URL, &ep.Secret, &ep.Active, &ep.Topics, &ep.CreatedAt, &ep.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Endpoint{}, ErrEndpointNotFound
	}
	if err != nil {
		return Endpoint{}, fmt.Errorf("scan endpoint: %w", err)
	}
	return ep, nil
}

func scanWebhookDelivery(row pgx.Row) (Delivery, error) {
	var del Delivery
	var deliveredAt pgtype.Timestamptz
	err := row.Scan(&del.ID, &del.EndpointID, &del.EventID, &del.Status, &del.Attempt, &del.MaxAttempt,
		&del.LastError, &del.ResponseStatus, &del.ResponseBody, &deliveredAt, &del.CreatedAt, &del.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Delivery{}, ErrDeliveryNotFound
	}
	if err != nil {
		return Delivery{}, fmt.Errorf("scan delivery: %w", err)
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		del.DeliveredAt = &t
	}
	return del, nil
}
