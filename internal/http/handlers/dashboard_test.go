package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashgrovepsych/practice-sync/internal/store"
	syncsvc "github.com/ashgrovepsych/practice-sync/internal/sync"
)

type stubDashboardStore struct {
	practitioner *store.Practitioner
	sessions     int
	clients      int
	nearQuota    []store.QuotaClient
}

func (s *stubDashboardStore) GetPractitionerByRemoteID(_ context.Context, remoteID string) (*store.Practitioner, error) {
	if s.practitioner != nil && s.practitioner.RemoteID == remoteID {
		return s.practitioner, nil
	}
	return nil, nil
}

func (s *stubDashboardStore) CountSessionsBetween(_ context.Context, _ uuid.UUID, _, _ time.Time) (int, error) {
	return s.sessions, nil
}

func (s *stubDashboardStore) CountActiveClients(_ context.Context, _ uuid.UUID) (int, error) {
	return s.clients, nil
}

func (s *stubDashboardStore) ListClientsNearQuota(_ context.Context, _ uuid.UUID, _ int) ([]store.QuotaClient, error) {
	return s.nearQuota, nil
}

type stubStatusProvider struct {
	status *syncsvc.SyncStatus
}

func (s *stubStatusProvider) GetSyncStatus(_ context.Context, _ uuid.UUID) (*syncsvc.SyncStatus, error) {
	return s.status, nil
}

func dashboardRouter(h *DashboardHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/admin/dashboard/{remoteID}", h.Overview)
	r.Get("/admin/sync/status/{remoteID}", h.SyncStatus)
	return r
}

func TestDashboardOverview(t *testing.T) {
	st := &stubDashboardStore{
		practitioner: &store.Practitioner{ID: uuid.New(), RemoteID: "prac-1", DisplayName: "Dr Adaeze Okafor"},
		sessions:     12,
		clients:      34,
		nearQuota: []store.QuotaClient{
			{Initials: "MR", Used: 9, Total: 10, Remaining: 1},
		},
	}
	h := NewDashboardHandler(st, &stubStatusProvider{status: &syncsvc.SyncStatus{Health: syncsvc.HealthHealthy}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard/prac-1", nil)
	rec := httptest.NewRecorder()
	dashboardRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp DashboardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Dr Adaeze Okafor", resp.Practitioner)
	assert.Equal(t, 12, resp.SessionsThisWeek)
	assert.Equal(t, 34, resp.ActiveClients)
	require.Len(t, resp.ClientsNearQuota, 1)
	assert.Equal(t, "MR", resp.ClientsNearQuota[0].Initials)
	require.NotNil(t, resp.SyncStatus)
	assert.Equal(t, syncsvc.HealthHealthy, resp.SyncStatus.Health)
}

func TestDashboardUnknownPractitioner(t *testing.T) {
	h := NewDashboardHandler(&stubDashboardStore{}, &stubStatusProvider{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard/prac-404", nil)
	rec := httptest.NewRecorder()
	dashboardRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncStatusEndpoint(t *testing.T) {
	st := &stubDashboardStore{
		practitioner: &store.Practitioner{ID: uuid.New(), RemoteID: "prac-1"},
	}
	h := NewDashboardHandler(st, &stubStatusProvider{status: &syncsvc.SyncStatus{Health: syncsvc.HealthStale}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/sync/status/prac-1", nil)
	rec := httptest.NewRecorder()
	dashboardRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var status syncsvc.SyncStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, syncsvc.HealthStale, status.Health)
}

func TestStartOfWeek(t *testing.T) {
	// A Saturday maps back to the preceding Monday.
	sat := time.Date(2026, 8, 29, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), startOfWeek(sat))

	// Monday is its own week start.
	mon := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), startOfWeek(mon))
}
