package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ashgrovepsych/practice-sync/internal/observability/metrics"
	"github.com/ashgrovepsych/practice-sync/internal/pms"
	"github.com/ashgrovepsych/practice-sync/internal/store"
	"github.com/ashgrovepsych/practice-sync/pkg/logging"
)

var tracer = otel.Tracer("sync")

// Service pulls entities from the PM system and reconciles them into the
// local store. One instance serves all practitioners.
type Service struct {
	remote  RemoteClient
	store   Store
	logger  *logging.Logger
	metrics *metrics.SyncMetrics

	windowPast   time.Duration
	windowFuture time.Duration
	clock        func() time.Time
}

// NewService wires a sync service. Metrics may be nil.
func NewService(remote RemoteClient, st Store, logger *logging.Logger, m *metrics.SyncMetrics, windowPastDays, windowFutureDays int) *Service {
	return &Service{
		remote:       remote,
		store:        st,
		logger:       logger,
		metrics:      m,
		windowPast:   time.Duration(windowPastDays) * 24 * time.Hour,
		windowFuture: time.Duration(windowFutureDays) * 24 * time.Hour,
		clock:        time.Now,
	}
}

// FullSync reconciles one practitioner end to end: the practitioner record
// itself, then their client roster, then their appointments inside the sync
// window. A practitioner failure aborts the run; client and session failures
// are recorded and skipped so one bad record cannot block the rest.
func (s *Service) FullSync(ctx context.Context, practitionerRemoteID string) (*SyncResult, error) {
	ctx, span := tracer.Start(ctx, "sync.FullSync")
	defer span.End()
	span.SetAttributes(attribute.String("practitioner.remote_id", practitionerRemoteID))

	started := s.clock()
	result := &SyncResult{}
	entry := &store.SyncLogEntry{
		ID:          uuid.New(),
		SyncType:    store.SyncFull,
		EntityScope: store.ScopeAll,
		Operation:   "full_sync",
		Status:      store.SyncInProgress,
		StartedAt:   started,
	}
	s.auditLog(func() error { return s.store.CreateSyncLog(ctx, entry) })

	finish := func(err error) (*SyncResult, error) {
		result.Duration = s.clock().Sub(started)
		result.Success = err == nil
		entry.Status = store.SyncSuccess
		if err != nil {
			entry.Status = store.SyncError
			entry.ErrorMessage = err.Error()
		} else if len(result.Errors) > 0 {
			entry.ErrorMessage = fmt.Sprintf("completed with %d soft errors", len(result.Errors))
		}
		completed := s.clock()
		entry.CompletedAt = &completed
		entry.RecordsProcessed = result.RecordsProcessed
		s.auditLog(func() error { return s.store.CompleteSyncLog(ctx, entry) })
		s.metrics.ObserveRun(string(store.SyncFull), err == nil, result.Duration.Seconds())
		return result, err
	}

	local, err := s.syncPractitioner(ctx, practitionerRemoteID, result)
	if err != nil {
		s.logger.Error("practitioner sync failed", "remote_id", practitionerRemoteID, "error", err)
		return finish(fmt.Errorf("sync practitioner %s: %w", practitionerRemoteID, err))
	}
	entry.PractitionerID = &local.ID

	s.syncClients(ctx, local, result)
	s.syncSessions(ctx, practitionerRemoteID, local, result)
	s.recomputeUsedSessions(ctx, local, result)

	s.logger.Info("full sync complete",
		"practitioner", practitionerRemoteID,
		"processed", result.RecordsProcessed,
		"created", result.RecordsCreated,
		"updated", result.RecordsUpdated,
		"soft_errors", len(result.Errors))
	return finish(nil)
}

func (s *Service) syncPractitioner(ctx context.Context, remoteID string, result *SyncResult) (*store.Practitioner, error) {
	remote, err := s.remote.GetPractitioner(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	if remote == nil {
		return nil, fmt.Errorf("practitioner %s not found in remote system", remoteID)
	}

	// Role lookup is enrichment, not a prerequisite.
	role, err := s.remote.GetPractitionerRole(ctx, remoteID)
	if err != nil {
		s.logger.Warn("practitioner role lookup failed", "remote_id", remoteID, "error", err)
		role = nil
	}

	existing, err := s.store.GetPractitionerByRemoteID(ctx, remoteID)
	if err != nil {
		return nil, err
	}

	local := PractitionerFromRemote(remote, role, existing, s.clock())
	if existing == nil {
		err = s.store.InsertPractitioner(ctx, &local)
	} else {
		err = s.store.UpdatePractitioner(ctx, &local)
	}
	if err != nil {
		return nil, err
	}
	if existing == nil {
		result.RecordsCreated++
	} else {
		result.RecordsUpdated++
	}
	result.RecordsProcessed++
	s.metrics.ObserveRecords("practitioner", 1)
	return &local, nil
}

func (s *Service) syncClients(ctx context.Context, practitioner *store.Practitioner, result *SyncResult) {
	patients, err := s.remote.GetPatientsByPractitioner(ctx, practitioner.RemoteID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list patients: %v", err))
		return
	}

	processed := 0
	for i := range patients {
		patient := &patients[i]
		existing, err := s.store.GetClientByRemoteID(ctx, patient.ID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("client %s: %v", patient.ID, err))
			continue
		}
		local := ClientFromRemote(patient, practitioner.ID, existing, s.clock())
		if existing == nil {
			err = s.store.InsertClient(ctx, &local)
		} else {
			err = s.store.UpdateClient(ctx, &local)
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("client %s: %v", patient.ID, err))
			continue
		}
		if existing == nil {
			result.RecordsCreated++
		} else {
			result.RecordsUpdated++
		}
		processed++
		result.RecordsProcessed++
	}
	s.metrics.ObserveRecords("client", processed)
}

func (s *Service) syncSessions(ctx context.Context, remoteID string, practitioner *store.Practitioner, result *SyncResult) {
	now := s.clock()
	appointments, err := s.remote.GetAppointmentsByPractitioner(ctx, remoteID, now.Add(-s.windowPast), now.Add(s.windowFuture))
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list appointments: %v", err))
		return
	}

	// Per-client counters are seeded lazily from completed-session history
	// so numbering continues where it left off.
	counters := make(map[uuid.UUID]int)
	processed := 0
	for i := range appointments {
		appt := &appointments[i]
		patientRef := appointmentPatientRef(appt)
		if patientRef == "" {
			s.logger.Warn("appointment has no patient participant, skipping", "remote_id", appt.ID)
			result.Errors = append(result.Errors, fmt.Sprintf("appointment %s: no patient participant", appt.ID))
			continue
		}
		client, err := s.store.GetClientByRemoteID(ctx, patientRef)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("appointment %s: %v", appt.ID, err))
			continue
		}
		if client == nil {
			s.logger.Warn("appointment references unknown client, skipping", "remote_id", appt.ID, "patient", patientRef)
			result.Errors = append(result.Errors, fmt.Sprintf("appointment %s: unknown client %s", appt.ID, patientRef))
			continue
		}

		if _, ok := counters[client.ID]; !ok {
			completed, err := s.store.CountCompletedSessions(ctx, client.ID, practitioner.ID)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("appointment %s: %v", appt.ID, err))
				continue
			}
			counters[client.ID] = completed
		}
		counters[client.ID]++

		existing, err := s.store.GetSessionByRemoteID(ctx, appt.ID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("appointment %s: %v", appt.ID, err))
			continue
		}
		sess := SessionFromRemote(appt, practitioner.ID, client.ID, counters[client.ID], existing, s.clock())
		if existing == nil {
			err = s.store.InsertSession(ctx, &sess)
		} else {
			err = s.store.UpdateSession(ctx, &sess)
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("appointment %s: %v", appt.ID, err))
			continue
		}
		if existing == nil {
			result.RecordsCreated++
		} else {
			result.RecordsUpdated++
		}
		processed++
		result.RecordsProcessed++
	}
	s.metrics.ObserveRecords("session", processed)
}

// recomputeUsedSessions refreshes each client's MHCP used-session count from
// completed-session history. Remote quota counts are never trusted.
func (s *Service) recomputeUsedSessions(ctx context.Context, practitioner *store.Practitioner, result *SyncResult) {
	clients, err := s.store.ListClientsByPractitioner(ctx, practitioner.ID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list clients for quota recount: %v", err))
		return
	}
	for i := range clients {
		client := &clients[i]
		used, err := s.store.CountCompletedSessions(ctx, client.ID, practitioner.ID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("quota recount %s: %v", client.RemoteID, err))
			continue
		}
		if used == client.MHCPUsedSessions {
			continue
		}
		if err := s.store.UpdateClientUsedSessions(ctx, client.ID, used); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("quota recount %s: %v", client.RemoteID, err))
		}
	}
}

// IncrementalSync applies a single change event. Unknown referenced entities
// are fetched on demand; a practitioner that cannot be resolved surfaces
// ErrPractitionerUnresolved so the caller can escalate to a full sync.
func (s *Service) IncrementalSync(ctx context.Context, event Event) (*SyncResult, error) {
	ctx, span := tracer.Start(ctx, "sync.IncrementalSync")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.kind", event.Kind),
		attribute.String("event.remote_id", event.RemoteID),
	)

	started := s.clock()
	result := &SyncResult{}

	// Each arm reports the local practitioner it acted for, so the audit
	// entry stays attributable and visible to the status reporter.
	var practitionerID *uuid.UUID
	var err error
	switch event.Kind {
	case EventAppointmentCreated, EventAppointmentUpdated:
		practitionerID, err = s.applyAppointment(ctx, event, result)
	case EventAppointmentCancelled, EventAppointmentDeleted:
		practitionerID, err = s.cancelSession(ctx, event, result)
	case EventPatientCreated, EventPatientUpdated:
		practitionerID, err = s.applyPatient(ctx, event, result)
	case EventPatientDeleted:
		practitionerID, err = s.deactivateClient(ctx, event, result)
	case EventPractitionerUpdated:
		var practitioner *store.Practitioner
		practitioner, err = s.syncPractitioner(ctx, event.RemoteID, result)
		if practitioner != nil {
			practitionerID = &practitioner.ID
		}
	default:
		err = fmt.Errorf("sync: unknown event kind %q", event.Kind)
	}

	result.Duration = s.clock().Sub(started)
	result.Success = err == nil

	entry := &store.SyncLogEntry{
		ID:               uuid.New(),
		SyncType:         store.SyncWebhook,
		EntityScope:      scopeForEvent(event.Kind),
		Operation:        event.Kind,
		Status:           store.SyncSuccess,
		StartedAt:        started,
		PractitionerID:   practitionerID,
		RecordsProcessed: result.RecordsProcessed,
	}
	if err != nil {
		entry.Status = store.SyncError
		entry.ErrorMessage = err.Error()
	}
	completed := s.clock()
	entry.CompletedAt = &completed
	s.auditLog(func() error { return s.store.CreateSyncLog(ctx, entry) })
	s.metrics.ObserveRun(string(store.SyncWebhook), err == nil, result.Duration.Seconds())

	return result, err
}

// cancelSession flips a session to cancelled in place. The row is read
// first so the audit entry can name its practitioner.
func (s *Service) cancelSession(ctx context.Context, event Event, result *SyncResult) (*uuid.UUID, error) {
	sess, err := s.store.GetSessionByRemoteID(ctx, event.RemoteID)
	if err != nil {
		return nil, err
	}
	var practitionerID *uuid.UUID
	if sess != nil {
		practitionerID = &sess.PractitionerID
	}
	if err := s.store.CancelSessionByRemoteID(ctx, event.RemoteID, s.clock()); err != nil {
		return practitionerID, err
	}
	result.RecordsUpdated++
	result.RecordsProcessed++
	return practitionerID, nil
}

// deactivateClient soft-deletes a client, never removing the row.
func (s *Service) deactivateClient(ctx context.Context, event Event, result *SyncResult) (*uuid.UUID, error) {
	client, err := s.store.GetClientByRemoteID(ctx, event.RemoteID)
	if err != nil {
		return nil, err
	}
	var practitionerID *uuid.UUID
	if client != nil {
		practitionerID = &client.PractitionerID
	}
	if err := s.store.DeactivateClientByRemoteID(ctx, event.RemoteID); err != nil {
		return practitionerID, err
	}
	result.RecordsDeleted++
	result.RecordsProcessed++
	return practitionerID, nil
}

func (s *Service) applyAppointment(ctx context.Context, event Event, result *SyncResult) (*uuid.UUID, error) {
	remote, err := s.fetchAppointment(ctx, event)
	if err != nil {
		return nil, err
	}
	if remote == nil {
		return nil, fmt.Errorf("appointment %s not found in remote system", event.RemoteID)
	}

	practitionerRef := appointmentPractitionerRef(remote)
	if practitionerRef == "" {
		practitionerRef = event.PractitionerID
	}
	practitioner, err := s.resolvePractitioner(ctx, practitionerRef, result)
	if err != nil {
		return nil, err
	}
	pid := &practitioner.ID

	patientRef := appointmentPatientRef(remote)
	if patientRef == "" {
		return pid, fmt.Errorf("appointment %s: no patient participant", remote.ID)
	}
	client, err := s.resolveClient(ctx, patientRef, practitioner, result)
	if err != nil {
		return pid, err
	}

	existing, err := s.store.GetSessionByRemoteID(ctx, remote.ID)
	if err != nil {
		return pid, err
	}
	number := 0
	if existing == nil {
		completed, err := s.store.CountCompletedSessions(ctx, client.ID, practitioner.ID)
		if err != nil {
			return pid, err
		}
		number = completed + 1
	}
	sess := SessionFromRemote(remote, practitioner.ID, client.ID, number, existing, s.clock())
	if existing == nil {
		err = s.store.InsertSession(ctx, &sess)
	} else {
		err = s.store.UpdateSession(ctx, &sess)
	}
	if err != nil {
		return pid, err
	}
	if existing == nil {
		result.RecordsCreated++
	} else {
		result.RecordsUpdated++
	}
	result.RecordsProcessed++

	if sess.Status == store.SessionCompleted {
		used, err := s.store.CountCompletedSessions(ctx, client.ID, practitioner.ID)
		if err == nil {
			err = s.store.UpdateClientUsedSessions(ctx, client.ID, used)
		}
		if err != nil {
			s.logger.Warn("quota recount failed", "client", client.RemoteID, "error", err)
		}
	}
	s.metrics.ObserveRecords("session", 1)
	return pid, nil
}

// fetchAppointment pulls the full appointment by listing the practitioner's
// window around the event timestamp; the remote API has no single-appointment
// read.
func (s *Service) fetchAppointment(ctx context.Context, event Event) (*pms.Appointment, error) {
	if event.PractitionerID == "" {
		return nil, fmt.Errorf("appointment event %s: missing practitioner reference", event.RemoteID)
	}
	at := event.Timestamp
	if at.IsZero() {
		at = s.clock()
	}
	appointments, err := s.remote.GetAppointmentsByPractitioner(ctx, event.PractitionerID, at.Add(-s.windowPast), at.Add(s.windowFuture))
	if err != nil {
		return nil, err
	}
	for i := range appointments {
		if appointments[i].ID == event.RemoteID {
			return &appointments[i], nil
		}
	}
	return nil, nil
}

func (s *Service) applyPatient(ctx context.Context, event Event, result *SyncResult) (*uuid.UUID, error) {
	remote, err := s.remote.GetPatient(ctx, event.RemoteID)
	if err != nil {
		return nil, err
	}
	if remote == nil {
		return nil, fmt.Errorf("patient %s not found in remote system", event.RemoteID)
	}

	existing, err := s.store.GetClientByRemoteID(ctx, remote.ID)
	if err != nil {
		return nil, err
	}

	// A client we already track keeps its owner. Only new clients fall
	// back to the payload's generalPractitioner reference.
	var practitionerID uuid.UUID
	if existing != nil {
		practitionerID = existing.PractitionerID
	} else {
		practitionerRef := event.PractitionerID
		if len(remote.GeneralPractitioner) > 0 {
			practitionerRef = pms.ExtractIDFromReference(remote.GeneralPractitioner[0].Reference)
		}
		practitioner, err := s.resolvePractitioner(ctx, practitionerRef, result)
		if err != nil {
			return nil, err
		}
		practitionerID = practitioner.ID
	}

	local := ClientFromRemote(remote, practitionerID, existing, s.clock())
	if existing == nil {
		err = s.store.InsertClient(ctx, &local)
	} else {
		err = s.store.UpdateClient(ctx, &local)
	}
	if err != nil {
		return &practitionerID, err
	}
	if existing == nil {
		result.RecordsCreated++
	} else {
		result.RecordsUpdated++
	}
	result.RecordsProcessed++
	s.metrics.ObserveRecords("client", 1)
	return &practitionerID, nil
}

// resolvePractitioner returns the local practitioner row, syncing it from
// the remote system when not yet known locally.
func (s *Service) resolvePractitioner(ctx context.Context, remoteID string, result *SyncResult) (*store.Practitioner, error) {
	if remoteID == "" {
		return nil, ErrPractitionerUnresolved
	}
	local, err := s.store.GetPractitionerByRemoteID(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	if local != nil {
		return local, nil
	}
	local, err = s.syncPractitioner(ctx, remoteID, result)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPractitionerUnresolved, remoteID, err)
	}
	return local, nil
}

// resolveClient returns the local client row, syncing it from the remote
// system when not yet known locally.
func (s *Service) resolveClient(ctx context.Context, remoteID string, practitioner *store.Practitioner, result *SyncResult) (*store.Client, error) {
	local, err := s.store.GetClientByRemoteID(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	if local != nil {
		return local, nil
	}

	remote, err := s.remote.GetPatient(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	if remote == nil {
		return nil, fmt.Errorf("patient %s not found in remote system", remoteID)
	}
	fresh := ClientFromRemote(remote, practitioner.ID, nil, s.clock())
	if err := s.store.InsertClient(ctx, &fresh); err != nil {
		return nil, err
	}
	result.RecordsCreated++
	result.RecordsProcessed++
	return &fresh, nil
}

// auditLog runs a sync-log write and swallows its error. Audit persistence
// must never abort the sync it describes.
func (s *Service) auditLog(write func() error) {
	if err := write(); err != nil {
		s.logger.Warn("sync log write failed", "error", err)
	}
}

func appointmentPatientRef(appt *pms.Appointment) string {
	for _, p := range appt.Participant {
		if strings.HasPrefix(p.Actor.Reference, "Patient/") {
			return pms.ExtractIDFromReference(p.Actor.Reference)
		}
	}
	return ""
}

func appointmentPractitionerRef(appt *pms.Appointment) string {
	for _, p := range appt.Participant {
		if strings.HasPrefix(p.Actor.Reference, "Practitioner/") {
			return pms.ExtractIDFromReference(p.Actor.Reference)
		}
	}
	return ""
}

func scopeForEvent(kind string) store.EntityScope {
	switch kind {
	case EventAppointmentCreated, EventAppointmentUpdated, EventAppointmentCancelled, EventAppointmentDeleted:
		return store.ScopeSession
	case EventPatientCreated, EventPatientUpdated, EventPatientDeleted:
		return store.ScopeClient
	case EventPractitionerUpdated:
		return store.ScopePractitioner
	default:
		return store.ScopeAll
	}
}
