package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateSyncLog inserts a pending/in-progress sync-log row.
func (s *Postgres) CreateSyncLog(ctx context.Context, entry *SyncLogEntry) error {
	query := `
		INSERT INTO sync_log (id, sync_type, entity_scope, operation, status, error_message,
			started_at, completed_at, records_processed, practitioner_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := s.db.Exec(ctx, query,
		entry.ID,
		entry.SyncType,
		entry.EntityScope,
		entry.Operation,
		entry.Status,
		entry.ErrorMessage,
		entry.StartedAt,
		entry.CompletedAt,
		entry.RecordsProcessed,
		entry.PractitionerID,
	); err != nil {
		return fmt.Errorf("store: insert sync log: %w", err)
	}
	return nil
}

// CompleteSyncLog marks a sync-log row finished with its final status. The
// practitioner reference is written here too because a full sync may only
// learn the local practitioner id partway through the run.
func (s *Postgres) CompleteSyncLog(ctx context.Context, entry *SyncLogEntry) error {
	query := `
		UPDATE sync_log
		SET status = $2, error_message = $3, records_processed = $4, completed_at = $5, practitioner_id = $6
		WHERE id = $1
	`
	if _, err := s.db.Exec(ctx, query,
		entry.ID,
		entry.Status,
		entry.ErrorMessage,
		entry.RecordsProcessed,
		entry.CompletedAt,
		entry.PractitionerID,
	); err != nil {
		return fmt.Errorf("store: complete sync log: %w", err)
	}
	return nil
}

const syncLogColumns = `id, sync_type, entity_scope, operation, status, error_message,
	started_at, completed_at, records_processed, practitioner_id`

func scanSyncLog(row pgx.Row) (*SyncLogEntry, error) {
	var e SyncLogEntry
	err := row.Scan(
		&e.ID,
		&e.SyncType,
		&e.EntityScope,
		&e.Operation,
		&e.Status,
		&e.ErrorMessage,
		&e.StartedAt,
		&e.CompletedAt,
		&e.RecordsProcessed,
		&e.PractitionerID,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// LatestSyncLog returns the most recent successfully completed entry of the
// given types for a practitioner, or (nil, nil) when none exists.
func (s *Postgres) LatestSyncLog(ctx context.Context, practitionerID uuid.UUID, types []SyncType) (*SyncLogEntry, error) {
	query := `
		SELECT ` + syncLogColumns + `
		FROM sync_log
		WHERE practitioner_id = $1 AND sync_type = ANY($2)
			AND status = 'success' AND completed_at IS NOT NULL
		ORDER BY completed_at DESC
		LIMIT 1
	`
	e, err := scanSyncLog(s.db.QueryRow(ctx, query, practitionerID, types))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest sync log: %w", err)
	}
	return e, nil
}

// LatestSyncError returns the most recent error-status entry for a
// practitioner, or (nil, nil) when none exists.
func (s *Postgres) LatestSyncError(ctx context.Context, practitionerID uuid.UUID) (*SyncLogEntry, error) {
	query := `
		SELECT ` + syncLogColumns + `
		FROM sync_log
		WHERE practitioner_id = $1 AND status = 'error'
		ORDER BY started_at DESC
		LIMIT 1
	`
	e, err := scanSyncLog(s.db.QueryRow(ctx, query, practitionerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest sync error: %w", err)
	}
	return e, nil
}
