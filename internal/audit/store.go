package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements Store against Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
}

const entryColumns = `id, actor_kind, actor_driver_id, action, resource_type,
	COALESCE(resource_id, ''), method, path, COALESCE(route, ''), status,
	COALESCE(ip, ''), COALESCE(user_agent, ''), COALESCE(request_id, ''),
	metadata, recorded_at`

func (s *PGStore) InsertEntry(ctx context.Context, entry Entry) error {
	const q = `
		INSERT INTO audit_logs (
			actor_kind, actor_driver_id, action, resource_type, resource_id,
			method, path, route, status, ip, user_agent, request_id, metadata
		)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, NULLIF($8, ''), $9,
			NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''), $13)`
	_, err := s.Pool.Exec(ctx, q,
		entry.ActorKind, nullableUUID(entry.ActorDriverID), entry.Action, entry.ResourceType,
		entry.ResourceID, entry.Method, entry.Path, entry.Route, entry.Status,
		entry.IP, entry.UserAgent, entry.RequestID, []byte(entry.Metadata),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *PGStore) ListEntries(ctx context.Context, limit, offset int) ([]Entry, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	q := `SELECT ` + entryColumns + ` FROM audit_logs` +
		fmt.Sprintf(` ORDER BY recorded_at DESC, id DESC LIMIT %d OFFSET %d`, limit, offset)
	rows, err := s.Pool.Query(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var entry Entry
		var actorID pgtype.UUID
		var metadata []byte
		if err := rows.Scan(&entry.ID, &entry.ActorKind, &actorID, &entry.Action, &entry.ResourceType,
			&entry.ResourceID, &entry.Method, &entry.Path, &entry.Route, &entry.Status,
			&entry.IP, &entry.UserAgent, &entry.RequestID, &metadata, &entry.RecordedAt); err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		if actorID.Valid {
			id := uuid.UUID(actorID.Bytes)
			entry.ActorDriverID = &id
		}
		entry.Metadata = metadata
		out = append(out, entry)
	}
	return out, total, rows.Err()
}

func nullableUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}
