package store

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the local session status enumeration.
type SessionStatus string

const (
	SessionScheduled  SessionStatus = "scheduled"
	SessionConfirmed  SessionStatus = "confirmed"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionCancelled  SessionStatus = "cancelled"
	SessionNoShow     SessionStatus = "no_show"
)

// SyncType identifies what kind of run produced a sync-log entry.
type SyncType string

const (
	SyncFull        SyncType = "full"
	SyncIncremental SyncType = "incremental"
	SyncWebhook     SyncType = "webhook"
	SyncManual      SyncType = "manual"
)

// EntityScope identifies which entity a sync-log entry covers.
type EntityScope string

const (
	ScopePractitioner EntityScope = "practitioner"
	ScopeClient       EntityScope = "client"
	ScopeSession      EntityScope = "session"
	ScopeAll          EntityScope = "all"
)

// SyncLogStatus is the lifecycle state of a sync-log entry.
type SyncLogStatus string

const (
	SyncPending    SyncLogStatus = "pending"
	SyncInProgress SyncLogStatus = "in_progress"
	SyncSuccess    SyncLogStatus = "success"
	SyncError      SyncLogStatus = "error"
)

// Practitioner is the local row for a remote practitioner. Never
// hard-deleted; deactivation is a status flip.
type Practitioner struct {
	ID             uuid.UUID
	RemoteID       string
	RemoteRoleID   string
	FirstName      string
	LastName       string
	DisplayName    string
	Email          string // non-null; placeholder synthesized when remote has none
	Phone          string
	Qualifications string
	Specialty      string
	Active         bool
	LastSyncedAt   time.Time
}

// Client is the local row for a remote patient.
type Client struct {
	ID                uuid.UUID
	RemoteID          string
	PractitionerID    uuid.UUID
	FirstName         string
	LastName          string
	Initials          string
	Email             string
	Phone             string
	DateOfBirth       *time.Time
	MHCPTotalSessions int
	MHCPUsedSessions  int // recomputed from completed sessions, never trusted from remote
	MHCPStartDate     *time.Time
	MHCPExpiryDate    *time.Time
	PresentingIssues  string
	Active            bool
	LastSyncedAt      time.Time
}

// Session is the local row for a remote appointment.
type Session struct {
	ID             uuid.UUID
	RemoteID       string
	PractitionerID uuid.UUID
	ClientID       uuid.UUID
	ScheduledStart time.Time
	ScheduledEnd   time.Time
	ActualStart    *time.Time
	ActualEnd      *time.Time
	SessionNumber  int // assigned once at first sync, never reassigned
	Status         SessionStatus
	SessionType    string // "telehealth" or "in_person"
	Notes          string
	FeeAmount      *float64
	FeeCurrency    string
	Paid           bool
	LastSyncedAt   time.Time
}

// SyncLogEntry records one sync attempt. Writes are best-effort audit:
// failure to persist a log entry never aborts the underlying sync.
type SyncLogEntry struct {
	ID               uuid.UUID
	SyncType         SyncType
	EntityScope      EntityScope
	Operation        string
	Status           SyncLogStatus
	ErrorMessage     string
	StartedAt        time.Time
	CompletedAt      *time.Time
	RecordsProcessed int
	PractitionerID   *uuid.UUID
}
