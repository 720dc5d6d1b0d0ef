package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ashgrovepsych/practice-sync/internal/store"
	syncsvc "github.com/ashgrovepsych/practice-sync/internal/sync"
	"github.com/ashgrovepsych/practice-sync/pkg/logging"
)

// quotaAlertThreshold marks clients with this many or fewer MHCP sessions
// remaining.
const quotaAlertThreshold = 2

// DashboardStore is the read-side slice the dashboard queries. All numbers
// come from the local store; the remote system is never called here.
type DashboardStore interface {
	GetPractitionerByRemoteID(ctx context.Context, remoteID string) (*store.Practitioner, error)
	CountSessionsBetween(ctx context.Context, practitionerID uuid.UUID, start, end time.Time) (int, error)
	CountActiveClients(ctx context.Context, practitionerID uuid.UUID) (int, error)
	ListClientsNearQuota(ctx context.Context, practitionerID uuid.UUID, remaining int) ([]store.QuotaClient, error)
}

// StatusProvider reports per-practitioner sync health.
type StatusProvider interface {
	GetSyncStatus(ctx context.Context, practitionerID uuid.UUID) (*syncsvc.SyncStatus, error)
}

// DashboardHandler serves the practitioner overview for the admin UI.
type DashboardHandler struct {
	store  DashboardStore
	status StatusProvider
	logger *logging.Logger
	clock  func() time.Time
}

func NewDashboardHandler(st DashboardStore, status StatusProvider, logger *logging.Logger) *DashboardHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &DashboardHandler{
		store:  st,
		status: status,
		logger: logger,
		clock:  time.Now,
	}
}

// DashboardResponse is the practitioner overview payload.
type DashboardResponse struct {
	Practitioner     string              `json:"practitioner"`
	SessionsThisWeek int                 `json:"sessions_this_week"`
	ActiveClients    int                 `json:"active_clients"`
	ClientsNearQuota []store.QuotaClient `json:"clients_near_quota"`
	SyncStatus       *syncsvc.SyncStatus `json:"sync_status"`
}

// Overview handles GET /admin/dashboard/{remoteID}.
func (h *DashboardHandler) Overview(w http.ResponseWriter, r *http.Request) {
	remoteID := chi.URLParam(r, "remoteID")
	practitioner, err := h.store.GetPractitionerByRemoteID(r.Context(), remoteID)
	if err != nil {
		h.logger.Error("practitioner lookup failed", "remote_id", remoteID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if practitioner == nil {
		http.Error(w, "practitioner not found", http.StatusNotFound)
		return
	}

	weekStart := startOfWeek(h.clock())
	sessions, err := h.store.CountSessionsBetween(r.Context(), practitioner.ID, weekStart, weekStart.AddDate(0, 0, 7))
	if err != nil {
		h.logger.Error("session count failed", "remote_id", remoteID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	activeClients, err := h.store.CountActiveClients(r.Context(), practitioner.ID)
	if err != nil {
		h.logger.Error("client count failed", "remote_id", remoteID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	nearQuota, err := h.store.ListClientsNearQuota(r.Context(), practitioner.ID, quotaAlertThreshold)
	if err != nil {
		h.logger.Error("quota listing failed", "remote_id", remoteID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	status, err := h.status.GetSyncStatus(r.Context(), practitioner.ID)
	if err != nil {
		h.logger.Error("sync status lookup failed", "remote_id", remoteID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	response := DashboardResponse{
		Practitioner:     practitioner.DisplayName,
		SessionsThisWeek: sessions,
		ActiveClients:    activeClients,
		ClientsNearQuota: nearQuota,
		SyncStatus:       status,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("response encoding failed", "error", err)
	}
}

// SyncStatus handles GET /admin/sync/status/{remoteID}.
func (h *DashboardHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	remoteID := chi.URLParam(r, "remoteID")
	practitioner, err := h.store.GetPractitionerByRemoteID(r.Context(), remoteID)
	if err != nil {
		h.logger.Error("practitioner lookup failed", "remote_id", remoteID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if practitioner == nil {
		http.Error(w, "practitioner not found", http.StatusNotFound)
		return
	}

	status, err := h.status.GetSyncStatus(r.Context(), practitioner.ID)
	if err != nil {
		h.logger.Error("sync status lookup failed", "remote_id", remoteID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		h.logger.Error("response encoding failed", "error", err)
	}
}

// startOfWeek returns midnight Monday of the week containing t.
func startOfWeek(t time.Time) time.Time {
	t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}
