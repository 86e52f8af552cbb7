package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDriverNotFound indicates the driver does not exist.
var ErrDriverNotFound = errors.New("auth: driver not found")

// Driver is the courier account stored in Postgres.
type Driver struct {
	ID           uuid.UUID
	Name         string
	Phone        string
	VehiclePlate string
	Role         string
	PINHash      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store loads driver accounts for authentication.
type Store interface {
	GetDriverByPhone(ctx context.Context, phone string) (Driver, error)
	GetDriverByID(ctx context.Context, id uuid.UUID) (Driver, error)
}

// PGStore implements Store against Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
}

const driverColumns = `id, name, phone, vehicle_plate, role, pin_hash, created_at, updated_at`

func parseDriverID(value string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil, fmt.Errorf("auth: invalid driver id: %w", err)
	}
	return id, nil
}

func (s *PGStore) GetDriverByPhone(ctx context.Context, phone string) (Driver, error) {
	q := `SELECT ` + driverColumns + ` FROM drivers WHERE phone = $1`
	return s.scanDriver(s.Pool.QueryRow(ctx, q, phone))
}

func (s *PGStore) GetDriverByID(ctx context.Context, id uuid.UUID) (Driver, error) {
	q := `SELECT ` + driverColumns + ` FROM drivers WHERE id = $1`
	return s.scanDriver(s.Pool.QueryRow(ctx, q, id))
}

func (s *PGStore) scanDriver(row pgx.Row) (Driver, error) {
	var d Driver
	err := row.Scan(&d.ID, &d.Name, &d.Phone, &d.VehiclePlate, &d.Role, &d.PINHash, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Driver{}, ErrDriverNotFound
	}
	if err != nil {
		return Driver{}, fmt.Errorf("scan driver: %w", err)
	}
	return d, nil
}
