package sync

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ashgrovepsych/practice-sync/internal/store"
)

// staleAfter is how old the last full-scope sync may be before the
// practitioner's sync health degrades to stale.
const staleAfter = time.Hour

// Health buckets reported per practitioner.
const (
	HealthHealthy = "healthy"
	HealthStale   = "stale"
	HealthError   = "error"
)

var fullScopeTypes = []store.SyncType{store.SyncFull, store.SyncManual}
var incrementalTypes = []store.SyncType{store.SyncIncremental, store.SyncWebhook}

// SyncStatus is the per-practitioner sync health summary shown on the
// dashboard and returned by the status endpoint.
type SyncStatus struct {
	Health               string     `json:"health"`
	LastFullSyncAt       *time.Time `json:"last_full_sync_at,omitempty"`
	LastIncrementalAt    *time.Time `json:"last_incremental_at,omitempty"`
	LastErrorAt          *time.Time `json:"last_error_at,omitempty"`
	LastErrorMessage     string     `json:"last_error_message,omitempty"`
	LastErrorOperation   string     `json:"last_error_operation,omitempty"`
	LastRecordsProcessed int        `json:"last_records_processed"`
}

// StatusStore is the sync-log slice the reporter reads.
type StatusStore interface {
	LatestSyncLog(ctx context.Context, practitionerID uuid.UUID, types []store.SyncType) (*store.SyncLogEntry, error)
	LatestSyncError(ctx context.Context, practitionerID uuid.UUID) (*store.SyncLogEntry, error)
}

// StatusReporter derives sync health from the sync log.
type StatusReporter struct {
	store StatusStore
	clock func() time.Time
}

func NewStatusReporter(st StatusStore) *StatusReporter {
	return &StatusReporter{store: st, clock: time.Now}
}

// GetSyncStatus reports one practitioner's sync health. Precedence: a
// latest-run error wins, then a missing or hour-old full sync means stale,
// otherwise healthy.
func (r *StatusReporter) GetSyncStatus(ctx context.Context, practitionerID uuid.UUID) (*SyncStatus, error) {
	status := &SyncStatus{Health: HealthHealthy}

	full, err := r.store.LatestSyncLog(ctx, practitionerID, fullScopeTypes)
	if err != nil {
		return nil, err
	}
	if full != nil {
		status.LastFullSyncAt = full.CompletedAt
		status.LastRecordsProcessed = full.RecordsProcessed
	}

	incremental, err := r.store.LatestSyncLog(ctx, practitionerID, incrementalTypes)
	if err != nil {
		return nil, err
	}
	if incremental != nil {
		status.LastIncrementalAt = incremental.CompletedAt
	}

	lastError, err := r.store.LatestSyncError(ctx, practitionerID)
	if err != nil {
		return nil, err
	}
	if lastError != nil {
		status.LastErrorAt = &lastError.StartedAt
		status.LastErrorMessage = lastError.ErrorMessage
		status.LastErrorOperation = lastError.Operation
	}

	switch {
	case latestRunFailed(full, lastError):
		status.Health = HealthError
	case full == nil || full.CompletedAt == nil || r.clock().Sub(*full.CompletedAt) > staleAfter:
		status.Health = HealthStale
	}
	return status, nil
}

// latestRunFailed reports whether an error is outstanding. Only a full
// sync completing after the error clears the condition; a later webhook
// succeeding does not prove the backlog is healthy again.
func latestRunFailed(full, lastError *store.SyncLogEntry) bool {
	if lastError == nil {
		return false
	}
	if full == nil || full.CompletedAt == nil {
		return true
	}
	return lastError.StartedAt.After(*full.CompletedAt)
}
