package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoPosition indicates no location has been recorded for the driver.
var ErrNoPosition = errors.New("tracking: no position recorded")

// Store persists location history and driver presence in Postgres.
type Store interface {
	InsertPosition(ctx context.Context, p Position) error
	LatestPosition(ctx context.Context, driverID uuid.UUID) (Position, error)
	ListPositions(ctx context.Context, driverID uuid.UUID, deliveryID *uuid.UUID, limit, offset int) ([]Position, int64, error)
	TouchPresence(ctx context.Context, driverID uuid.UUID, at time.Time) error
	MarkStaleOffline(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// PGStore implements Store against Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
}

const positionColumns = `driver_id, delivery_id, lat, lng, speed_kph, heading, accuracy_m,
	battery_pct, charging, recorded_at`

func (s *PGStore) InsertPosition(ctx context.Context, p Position) error {
	const q = `
		INSERT INTO driver_locations (driver_id, delivery_id, lat, lng, speed_kph, heading,
			accuracy_m, battery_pct, charging, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	var deliveryID pgtype.UUID
	if p.DeliveryID != nil {
		deliveryID = pgtype.UUID{Bytes: *p.DeliveryID, Valid: true}
	}
	_, err := s.Pool.Exec(ctx, q, p.DriverID, deliveryID, p.Lat, p.Lng, p.SpeedKph,
		p.Heading, p.AccuracyM, p.BatteryPct, p.Charging, p.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

func (s *PGStore) LatestPosition(ctx context.Context, driverID uuid.UUID) (Position, error) {
	q := `SELECT ` + positionColumns + `
		FROM driver_locations WHERE driver_id = $1
		ORDER BY recorded_at DESC LIMIT 1`
	return scanPosition(s.Pool.QueryRow(ctx, q, driverID))
}

func (s *PGStore) ListPositions(ctx context.Context, driverID uuid.UUID, deliveryID *uuid.UUID, limit, offset int) ([]Position, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	filter := ""
	args := []any{driverID}
	if deliveryID != nil {
		filter = " AND delivery_id = $2"
		args = append(args, *deliveryID)
	}

	var total int64
	countQ := `SELECT COUNT(*) FROM driver_locations WHERE driver_id = $1` + filter
	if err := s.Pool.QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count positions: %w", err)
	}

	listQ := `SELECT ` + positionColumns + ` FROM driver_locations WHERE driver_id = $1` + filter +
		fmt.Sprintf(` ORDER BY recorded_at DESC LIMIT %d OFFSET %d`, limit, offset)
	rows, err := s.Pool.Query(ctx, listQ, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (s *PGStore) TouchPresence(ctx context.Context, driverID uuid.UUID, at time.Time) error {
	const q = `UPDATE drivers SET online = true, last_seen_at = $2 WHERE id = $1`
	if _, err := s.Pool.Exec(ctx, q, driverID, at); err != nil {
		return fmt.Errorf("touch presence: %w", err)
	}
	return nil
}

func (s *PGStore) MarkStaleOffline(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	const q = `
		UPDATE drivers SET online = false
		WHERE online = true AND (last_seen_at IS NULL OR last_seen_at < $1)
		RETURNING id`
	rows, err := s.Pool.Query(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("mark stale offline: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale driver: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanPosition(row pgx.Row) (Position, error) {
	var p Position
	var deliveryID pgtype.UUID
	err := row.Scan(&p.DriverID, &deliveryID, &p.Lat, &p.Lng, &p.SpeedKph, &p.Heading,
		&p.AccuracyM, &p.BatteryPct, &p.Charging, &p.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Position{}, ErrNoPosition
	}
	if err != nil {
		return Position{}, fmt.Errorf("scan position: %w", err)
	}
	if deliveryID.Valid {
		id := uuid.UUID(deliveryID.Bytes)
		p.DeliveryID = &id
	}
	return p, nil
}
