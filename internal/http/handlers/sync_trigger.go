package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashgrovepsych/practice-sync/internal/config"
	"github.com/ashgrovepsych/practice-sync/internal/pms"
	"github.com/ashgrovepsych/practice-sync/internal/store"
	syncsvc "github.com/ashgrovepsych/practice-sync/internal/sync"
	"github.com/ashgrovepsych/practice-sync/pkg/logging"
)

// SyncRunner runs a full sync for one practitioner.
type SyncRunner interface {
	FullSync(ctx context.Context, practitionerRemoteID string) (*syncsvc.SyncResult, error)
}

// PractitionerLister lists locally known practitioners.
type PractitionerLister interface {
	ListActivePractitioners(ctx context.Context) ([]store.Practitioner, error)
}

// SyncTriggerHandler exposes the manual sync endpoints for the admin UI.
type SyncTriggerHandler struct {
	runner     SyncRunner
	store      PractitionerLister
	configured error // nil when PM system credentials are present
	logger     *logging.Logger
}

// NewSyncTriggerHandler creates the manual sync handler. configured carries
// the result of config.ValidatePMS so the handler can answer 503 without
// touching the remote system.
func NewSyncTriggerHandler(runner SyncRunner, st PractitionerLister, configured error, logger *logging.Logger) *SyncTriggerHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SyncTriggerHandler{
		runner:     runner,
		store:      st,
		configured: configured,
		logger:     logger,
	}
}

// PractitionerSyncResult is one practitioner's slice of a manual sync run.
type PractitionerSyncResult struct {
	PractitionerRemoteID string              `json:"practitioner_remote_id"`
	Result               *syncsvc.SyncResult `json:"result,omitempty"`
	Error                string              `json:"error,omitempty"`
}

// SyncTriggerResponse is the manual sync endpoint response.
type SyncTriggerResponse struct {
	StartedAt     time.Time                `json:"started_at"`
	Practitioners []PractitionerSyncResult `json:"practitioners"`
}

// SyncOne handles POST /admin/sync/{remoteID}.
func (h *SyncTriggerHandler) SyncOne(w http.ResponseWriter, r *http.Request) {
	if h.configured != nil {
		http.Error(w, "PM system not configured", http.StatusServiceUnavailable)
		return
	}
	remoteID := chi.URLParam(r, "remoteID")
	if remoteID == "" {
		http.Error(w, "missing practitioner id", http.StatusBadRequest)
		return
	}

	response := SyncTriggerResponse{StartedAt: time.Now()}
	result, err := h.runOne(r.Context(), remoteID)
	response.Practitioners = append(response.Practitioners, result)

	h.write(w, response, []error{err})
}

// SyncAll handles POST /admin/sync: a full sync of every locally known
// active practitioner, run sequentially.
func (h *SyncTriggerHandler) SyncAll(w http.ResponseWriter, r *http.Request) {
	if h.configured != nil {
		http.Error(w, "PM system not configured", http.StatusServiceUnavailable)
		return
	}

	practitioners, err := h.store.ListActivePractitioners(r.Context())
	if err != nil {
		h.logger.Error("practitioner listing failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if len(practitioners) == 0 {
		http.Error(w, "no practitioners synced yet, sync one by id first", http.StatusNotFound)
		return
	}

	response := SyncTriggerResponse{StartedAt: time.Now()}
	var errs []error
	for _, p := range practitioners {
		result, err := h.runOne(r.Context(), p.RemoteID)
		response.Practitioners = append(response.Practitioners, result)
		errs = append(errs, err)
	}

	h.write(w, response, errs)
}

func (h *SyncTriggerHandler) runOne(ctx context.Context, remoteID string) (PractitionerSyncResult, error) {
	out := PractitionerSyncResult{PractitionerRemoteID: remoteID}
	result, err := h.runner.FullSync(ctx, remoteID)
	out.Result = result
	if err != nil {
		out.Error = err.Error()
	}
	return out, err
}

// write answers 200 when any practitioner synced or failed on local state,
// 503 only when every run failed against the remote system itself.
func (h *SyncTriggerHandler) write(w http.ResponseWriter, response SyncTriggerResponse, errs []error) {
	status := http.StatusOK
	if allRemoteFailures(errs) {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("response encoding failed", "error", err)
	}
}

func allRemoteFailures(errs []error) bool {
	if len(errs) == 0 {
		return false
	}
	for _, err := range errs {
		if err == nil || !isRemoteError(err) {
			return false
		}
	}
	return true
}

// isRemoteError reports whether an error came from the PM system rather
// than local state.
func isRemoteError(err error) bool {
	var apiErr *pms.APIError
	var authErr *pms.AuthError
	return errors.As(err, &apiErr) || errors.As(err, &authErr) || errors.Is(err, config.ErrNotConfigured)
}
