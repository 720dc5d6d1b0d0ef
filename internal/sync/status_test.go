package sync

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashgrovepsych/practice-sync/internal/store"
)

func logEntry(practitionerID uuid.UUID, syncType store.SyncType, status store.SyncLogStatus, started time.Time) *store.SyncLogEntry {
	completed := started.Add(time.Second)
	return &store.SyncLogEntry{
		ID:             uuid.New(),
		SyncType:       syncType,
		Status:         status,
		StartedAt:      started,
		CompletedAt:    &completed,
		PractitionerID: &practitionerID,
	}
}

func newStatusReporter(st *fakeStore, now time.Time) *StatusReporter {
	r := NewStatusReporter(st)
	r.clock = func() time.Time { return now }
	return r
}

func TestGetSyncStatusHealthy(t *testing.T) {
	now := time.Now()
	pid := uuid.New()
	st := newFakeStore()
	st.logs = append(st.logs,
		logEntry(pid, store.SyncFull, store.SyncSuccess, now.Add(-20*time.Minute)),
		logEntry(pid, store.SyncWebhook, store.SyncSuccess, now.Add(-time.Minute)),
	)

	status, err := newStatusReporter(st, now).GetSyncStatus(context.Background(), pid)
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, status.Health)
	require.NotNil(t, status.LastFullSyncAt)
	require.NotNil(t, status.LastIncrementalAt)
	assert.Nil(t, status.LastErrorAt)
}

func TestGetSyncStatusStaleWhenFullSyncOld(t *testing.T) {
	now := time.Now()
	pid := uuid.New()
	st := newFakeStore()
	st.logs = append(st.logs,
		logEntry(pid, store.SyncFull, store.SyncSuccess, now.Add(-3*time.Hour)),
		logEntry(pid, store.SyncIncremental, store.SyncSuccess, now.Add(-time.Minute)),
	)

	status, err := newStatusReporter(st, now).GetSyncStatus(context.Background(), pid)
	require.NoError(t, err)
	assert.Equal(t, HealthStale, status.Health, "recent incrementals do not refresh fullness")
}

func TestGetSyncStatusStaleWhenNeverSynced(t *testing.T) {
	st := newFakeStore()
	status, err := newStatusReporter(st, time.Now()).GetSyncStatus(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, HealthStale, status.Health)
	assert.Nil(t, status.LastFullSyncAt)
}

func TestGetSyncStatusIgnoresOtherPractitioners(t *testing.T) {
	now := time.Now()
	pid := uuid.New()
	st := newFakeStore()
	st.logs = append(st.logs,
		logEntry(uuid.New(), store.SyncFull, store.SyncSuccess, now.Add(-5*time.Minute)),
	)

	status, err := newStatusReporter(st, now).GetSyncStatus(context.Background(), pid)
	require.NoError(t, err)
	assert.Equal(t, HealthStale, status.Health)
	assert.Nil(t, status.LastFullSyncAt)
}

func TestGetSyncStatusErrorWinsOverStale(t *testing.T) {
	now := time.Now()
	pid := uuid.New()
	st := newFakeStore()
	failed := logEntry(pid, store.SyncFull, store.SyncError, now.Add(-5*time.Minute))
	failed.ErrorMessage = "remote unreachable"
	failed.Operation = "full_sync"
	st.logs = append(st.logs,
		logEntry(pid, store.SyncFull, store.SyncSuccess, now.Add(-4*time.Hour)),
		failed,
	)

	status, err := newStatusReporter(st, now).GetSyncStatus(context.Background(), pid)
	require.NoError(t, err)
	assert.Equal(t, HealthError, status.Health)
	assert.Equal(t, "remote unreachable", status.LastErrorMessage)
	assert.Equal(t, "full_sync", status.LastErrorOperation)
}

func TestGetSyncStatusErrorSurvivesLaterWebhookSuccess(t *testing.T) {
	now := time.Now()
	pid := uuid.New()
	st := newFakeStore()
	st.logs = append(st.logs,
		logEntry(pid, store.SyncFull, store.SyncSuccess, now.Add(-40*time.Minute)),
		logEntry(pid, store.SyncWebhook, store.SyncError, now.Add(-20*time.Minute)),
		logEntry(pid, store.SyncWebhook, store.SyncSuccess, now.Add(-time.Minute)),
	)

	status, err := newStatusReporter(st, now).GetSyncStatus(context.Background(), pid)
	require.NoError(t, err)
	assert.Equal(t, HealthError, status.Health, "only a full sync clears an outstanding error")
}

func TestGetSyncStatusRecoversAfterError(t *testing.T) {
	now := time.Now()
	pid := uuid.New()
	st := newFakeStore()
	st.logs = append(st.logs,
		logEntry(pid, store.SyncFull, store.SyncError, now.Add(-30*time.Minute)),
		logEntry(pid, store.SyncFull, store.SyncSuccess, now.Add(-10*time.Minute)),
	)

	status, err := newStatusReporter(st, now).GetSyncStatus(context.Background(), pid)
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, status.Health, "a full sync after the error clears the error state")
	require.NotNil(t, status.LastErrorAt)
}
