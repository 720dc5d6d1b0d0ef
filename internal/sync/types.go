package sync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ashgrovepsych/practice-sync/internal/pms"
	"github.com/ashgrovepsych/practice-sync/internal/store"
)

// Webhook event kinds the incremental path understands.
const (
	EventAppointmentCreated   = "appointment.created"
	EventAppointmentUpdated   = "appointment.updated"
	EventAppointmentCancelled = "appointment.cancelled"
	EventAppointmentDeleted   = "appointment.deleted"
	EventPatientCreated       = "patient.created"
	EventPatientUpdated       = "patient.updated"
	EventPatientDeleted       = "patient.deleted"
	EventPractitionerUpdated  = "practitioner.updated"
)

// ErrPractitionerUnresolved is returned when an incremental event references
// a practitioner the remote system no longer knows. The caller decides
// whether to fall back to a full sync.
var ErrPractitionerUnresolved = errors.New("sync: practitioner could not be resolved")

// SyncResult summarizes one sync run. A run with soft errors still reports
// Success=true; Errors carries what was skipped.
type SyncResult struct {
	Success          bool          `json:"success"`
	NotConfigured    bool          `json:"not_configured,omitempty"`
	RecordsProcessed int           `json:"records_processed"`
	RecordsCreated   int           `json:"records_created"`
	RecordsUpdated   int           `json:"records_updated"`
	RecordsDeleted   int           `json:"records_deleted"`
	Errors           []string      `json:"errors,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// Event is one incremental change notification from the remote system.
type Event struct {
	Kind           string
	RemoteID       string
	PractitionerID string
	Timestamp      time.Time
}

// RemoteClient is the slice of the remote API the sync service consumes.
type RemoteClient interface {
	GetPractitioner(ctx context.Context, remoteID string) (*pms.Practitioner, error)
	GetPractitionerRole(ctx context.Context, practitionerID string) (*pms.PractitionerRole, error)
	GetPatient(ctx context.Context, remoteID string) (*pms.Patient, error)
	GetPatientsByPractitioner(ctx context.Context, practitionerID string) ([]pms.Patient, error)
	GetAppointmentsByPractitioner(ctx context.Context, practitionerID string, start, end time.Time) ([]pms.Appointment, error)
}

// Store is the slice of persistence the sync service consumes.
type Store interface {
	GetPractitionerByRemoteID(ctx context.Context, remoteID string) (*store.Practitioner, error)
	InsertPractitioner(ctx context.Context, p *store.Practitioner) error
	UpdatePractitioner(ctx context.Context, p *store.Practitioner) error

	GetClientByRemoteID(ctx context.Context, remoteID string) (*store.Client, error)
	InsertClient(ctx context.Context, c *store.Client) error
	UpdateClient(ctx context.Context, c *store.Client) error
	ListClientsByPractitioner(ctx context.Context, practitionerID uuid.UUID) ([]store.Client, error)
	UpdateClientUsedSessions(ctx context.Context, clientID uuid.UUID, used int) error
	DeactivateClientByRemoteID(ctx context.Context, remoteID string) error

	GetSessionByRemoteID(ctx context.Context, remoteID string) (*store.Session, error)
	InsertSession(ctx context.Context, sess *store.Session) error
	UpdateSession(ctx context.Context, sess *store.Session) error
	CountCompletedSessions(ctx context.Context, clientID, practitionerID uuid.UUID) (int, error)
	CancelSessionByRemoteID(ctx context.Context, remoteID string, now time.Time) error

	CreateSyncLog(ctx context.Context, entry *store.SyncLogEntry) error
	CompleteSyncLog(ctx context.Context, entry *store.SyncLogEntry) error
	LatestSyncLog(ctx context.Context, practitionerID uuid.UUID, types []store.SyncType) (*store.SyncLogEntry, error)
	LatestSyncError(ctx context.Context, practitionerID uuid.UUID) (*store.SyncLogEntry, error)
}
