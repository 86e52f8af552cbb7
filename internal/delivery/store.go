package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store is the persistence surface for deliveries and their timelines.
type Store interface {
	CreateDelivery(ctx context.Context, d Delivery) (Delivery, error)
	GetDelivery(ctx context.Context, id uuid.UUID) (Delivery, error)
	ListByDriver(ctx context.Context, driverID uuid.UUID, status Status, limit, offset int) ([]Delivery, int64, error)
	UpdateStatusIfCurrent(ctx context.Context, id uuid.UUID, from, to Status, deliveredAt *time.Time) (Delivery, error)
	InsertStatusEvent(ctx context.Context, ev StatusEvent) error
	ListStatusEvents(ctx context.Context, deliveryID uuid.UUID) ([]StatusEvent, error)
	SumEarnings(ctx context.Context, driverID uuid.UUID, from, to time.Time) (decimal.Decimal, int64, error)
}

// PGStore implements Store against Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
}

const deliveryColumns = `id, order_ref, driver_id, vendor_name, vendor_address,
	customer_name, customer_address, fee, currency, status, delivered_at, created_at, updated_at`

func (s *PGStore) CreateDelivery(ctx context.Context, d Delivery) (Delivery, error) {
	const q = `
		INSERT INTO deliveries (order_ref, driver_id, vendor_name, vendor_address,
			customer_name, customer_address, fee, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + deliveryColumns

	row := s.Pool.QueryRow(ctx, q,
		d.OrderRef, d.DriverID, d.VendorName, d.VendorAddress,
		d.CustomerName, d.CustomerAddress, d.Fee, d.Currency, d.Status.Wire())
	return scanDelivery(row)
}

func (s *PGStore) GetDelivery(ctx context.Context, id uuid.UUID) (Delivery, error) {
	q := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE id = $1`
	return scanDelivery(s.Pool.QueryRow(ctx, q, id))
}

func (s *PGStore) ListByDriver(ctx context.Context, driverID uuid.UUID, status Status, limit, offset int) ([]Delivery, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	filter := ""
	args := []any{driverID}
	if status != "" {
		filter = " AND status = $2"
		args = append(args, status.Wire())
	}

	var total int64
	countQ := `SELECT COUNT(*) FROM deliveries WHERE driver_id = $1` + filter
	if err := s.Pool.QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count deliveries: %w", err)
	}

	listQ := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE driver_id = $1` + filter +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)
	rows, err := s.Pool.Query(ctx, listQ, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// UpdateStatusIfCurrent performs a compare-and-set on the status column so a
// concurrent update between read and write loses cleanly instead of clobbering.
func (s *PGStore) UpdateStatusIfCurrent(ctx context.Context, id uuid.UUID, from, to Status, deliveredAt *time.Time) (Delivery, error) {
	const q = `
		UPDATE deliveries
		SET status = $3, delivered_at = COALESCE($4, delivered_at), updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING ` + deliveryColumns

	var ts pgtype.Timestamptz
	if deliveredAt != nil {
		ts = pgtype.Timestamptz{Time: *deliveredAt, Valid: true}
	}
	d, err := scanDelivery(s.Pool.QueryRow(ctx, q, id, from.Wire(), to.Wire(), ts))
	if errors.Is(err, ErrNotFound) {
		return Delivery{}, ErrStaleStatus
	}
	return d, err
}

func (s *PGStore) InsertStatusEvent(ctx context.Context, ev StatusEvent) error {
	const q = `
		INSERT INTO delivery_events (delivery_id, from_status, to_status, note, confirmed)
		VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), $5)`
	if _, err := s.Pool.Exec(ctx, q, ev.DeliveryID, ev.From, ev.To, ev.Note, ev.Confirmed); err != nil {
		return fmt.Errorf("insert delivery event: %w", err)
	}
	return nil
}

func (s *PGStore) ListStatusEvents(ctx context.Context, deliveryID uuid.UUID) ([]StatusEvent, error) {
	const q = `
		SELECT delivery_id, COALESCE(from_status, ''), to_status, COALESCE(note, ''), confirmed, recorded_at
		FROM delivery_events
		WHERE delivery_id = $1
		ORDER BY recorded_at ASC, id ASC`
	rows, err := s.Pool.Query(ctx, q, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("list delivery events: %w", err)
	}
	defer rows.Close()

	var out []StatusEvent
	for rows.Next() {
		var ev StatusEvent
		if err := rows.Scan(&ev.DeliveryID, &ev.From, &ev.To, &ev.Note, &ev.Confirmed, &ev.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan delivery event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PGStore) SumEarnings(ctx context.Context, driverID uuid.UUID, from, to time.Time) (decimal.Decimal, int64, error) {
	const q = `
		SELECT COALESCE(SUM(fee), 0), COUNT(*)
		FROM deliveries
		WHERE driver_id = $1 AND status = $2 AND delivered_at >= $3 AND delivered_at < $4`
	var total decimal.Decimal
	var count int64
	err := s.Pool.QueryRow(ctx, q, driverID, StatusDelivered.Wire(), from, to).Scan(&total, &count)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("sum earnings: %w", err)
	}
	return total, count, nil
}

func scanDelivery(row pgx.Row) (Delivery, error) {
	var d Delivery
	var status string
	var deliveredAt pgtype.Timestamptz
	err := row.Scan(&d.ID, &d.OrderRef, &d.DriverID, &d.VendorName, &d.VendorAddress,
		&d.CustomerName, &d.CustomerAddress, &d.Fee, &d.Currency, &status, &deliveredAt,
		&d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Delivery{}, ErrNotFound
	}
	if err != nil {
		return Delivery{}, fmt.Errorf("scan delivery: %w", err)
	}
	d.Status, err = ParseStatus(status)
	if err != nil {
		return Delivery{}, fmt.Errorf("stored status: %w", err)
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		d.DeliveredAt = &t
	}
	return d, nil
}
