package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool the repositories use; pgxmock satisfies
// it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores practitioners, clients, sessions and the sync log in the
// relational database.
type Postgres struct {
	db DB
}

// NewPostgres initializes a store backed by pgxpool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	if pool == nil {
		panic("store: pgx pool required")
	}
	return &Postgres{db: pool}
}

// NewPostgresWithDB allows injecting mocks for tests.
func NewPostgresWithDB(db DB) *Postgres {
	if db == nil {
		panic("store: db required")
	}
	return &Postgres{db: db}
}

const practitionerColumns = `id, remote_id, remote_role_id, first_name, last_name, display_name,
	email, phone, qualifications, specialty, active, last_synced_at`

func scanPractitioner(row pgx.Row) (*Practitioner, error) {
	var p Practitioner
	err := row.Scan(
		&p.ID,
		&p.RemoteID,
		&p.RemoteRoleID,
		&p.FirstName,
		&p.LastName,
		&p.DisplayName,
		&p.Email,
		&p.Phone,
		&p.Qualifications,
		&p.Specialty,
		&p.Active,
		&p.LastSyncedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPractitionerByRemoteID fetches a practitioner by its remote key, or
// (nil, nil) when no row exists.
func (s *Postgres) GetPractitionerByRemoteID(ctx context.Context, remoteID string) (*Practitioner, error) {
	query := `SELECT ` + practitionerColumns + ` FROM practitioners WHERE remote_id = $1`
	p, err := scanPractitioner(s.db.QueryRow(ctx, query, remoteID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: select practitioner: %w", err)
	}
	return p, nil
}

// InsertPractitioner inserts a new row.
func (s *Postgres) InsertPractitioner(ctx context.Context, p *Practitioner) error {
	query := `
		INSERT INTO practitioners (` + practitionerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	if _, err := s.db.Exec(ctx, query,
		p.ID,
		p.RemoteID,
		p.RemoteRoleID,
		p.FirstName,
		p.LastName,
		p.DisplayName,
		p.Email,
		p.Phone,
		p.Qualifications,
		p.Specialty,
		p.Active,
		p.LastSyncedAt,
	); err != nil {
		return fmt.Errorf("store: insert practitioner: %w", err)
	}
	return nil
}

// UpdatePractitioner updates the mutable fields of an existing row.
func (s *Postgres) UpdatePractitioner(ctx context.Context, p *Practitioner) error {
	query := `
		UPDATE practitioners
		SET remote_role_id = $2, first_name = $3, last_name = $4, display_name = $5,
			email = $6, phone = $7, qualifications = $8, specialty = $9,
			active = $10, last_synced_at = $11
		WHERE id = $1
	`
	if _, err := s.db.Exec(ctx, query,
		p.ID,
		p.RemoteRoleID,
		p.FirstName,
		p.LastName,
		p.DisplayName,
		p.Email,
		p.Phone,
		p.Qualifications,
		p.Specialty,
		p.Active,
		p.LastSyncedAt,
	); err != nil {
		return fmt.Errorf("store: update practitioner: %w", err)
	}
	return nil
}

// ListActivePractitioners returns every active practitioner, oldest-synced first.
func (s *Postgres) ListActivePractitioners(ctx context.Context) ([]Practitioner, error) {
	query := `SELECT ` + practitionerColumns + ` FROM practitioners WHERE active ORDER BY last_synced_at`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list practitioners: %w", err)
	}
	defer rows.Close()

	var out []Practitioner
	for rows.Next() {
		p, err := scanPractitioner(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan practitioner: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

const clientColumns = `id, remote_id, practitioner_id, first_name, last_name, initials,
	email, phone, date_of_birth, mhcp_total_sessions, mhcp_used_sessions,
	mhcp_start_date, mhcp_expiry_date, presenting_issues, active, last_synced_at`

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	err := row.Scan(
		&c.ID,
		&c.RemoteID,
		&c.PractitionerID,
		&c.FirstName,
		&c.LastName,
		&c.Initials,
		&c.Email,
		&c.Phone,
		&c.DateOfBirth,
		&c.MHCPTotalSessions,
		&c.MHCPUsedSessions,
		&c.MHCPStartDate,
		&c.MHCPExpiryDate,
		&c.PresentingIssues,
		&c.Active,
		&c.LastSyncedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetClientByRemoteID fetches a client by its remote key, or (nil, nil)
// when no row exists.
func (s *Postgres) GetClientByRemoteID(ctx context.Context, remoteID string) (*Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE remote_id = $1`
	c, err := scanClient(s.db.QueryRow(ctx, query, remoteID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: select client: %w", err)
	}
	return c, nil
}

// InsertClient inserts a new row.
func (s *Postgres) InsertClient(ctx context.Context, c *Client) error {
	query := `
		INSERT INTO clients (` + clientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	if _, err := s.db.Exec(ctx, query,
		c.ID,
		c.RemoteID,
		c.PractitionerID,
		c.FirstName,
		c.LastName,
		c.Initials,
		c.Email,
		c.Phone,
		c.DateOfBirth,
		c.MHCPTotalSessions,
		c.MHCPUsedSessions,
		c.MHCPStartDate,
		c.MHCPExpiryDate,
		c.PresentingIssues,
		c.Active,
		c.LastSyncedAt,
	); err != nil {
		return fmt.Errorf("store: insert client: %w", err)
	}
	return nil
}

// UpdateClient updates the mutable fields of an existing row.
func (s *Postgres) UpdateClient(ctx context.Context, c *Client) error {
	query := `
		UPDATE clients
		SET practitioner_id = $2, first_name = $3, last_name = $4, initials = $5,
			email = $6, phone = $7, date_of_birth = $8, mhcp_total_sessions = $9,
			mhcp_used_sessions = $10, mhcp_start_date = $11, mhcp_expiry_date = $12,
			presenting_issues = $13, active = $14, last_synced_at = $15
		WHERE id = $1
	`
	if _, err := s.db.Exec(ctx, query,
		c.ID,
		c.PractitionerID,
		c.FirstName,
		c.LastName,
		c.Initials,
		c.Email,
		c.Phone,
		c.DateOfBirth,
		c.MHCPTotalSessions,
		c.MHCPUsedSessions,
		c.MHCPStartDate,
		c.MHCPExpiryDate,
		c.PresentingIssues,
		c.Active,
		c.LastSyncedAt,
	); err != nil {
		return fmt.Errorf("store: update client: %w", err)
	}
	return nil
}

// ListClientsByPractitioner returns all of a practitioner's clients.
func (s *Postgres) ListClientsByPractitioner(ctx context.Context, practitionerID uuid.UUID) ([]Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE practitioner_id = $1 ORDER BY last_name, first_name`
	rows, err := s.db.Query(ctx, query, practitionerID)
	if err != nil {
		return nil, fmt.Errorf("store: list clients: %w", err)
	}
	defer rows.Close()

	var out []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan client: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateClientUsedSessions persists a recomputed MHCP used-session count.
func (s *Postgres) UpdateClientUsedSessions(ctx context.Context, clientID uuid.UUID, used int) error {
	query := `UPDATE clients SET mhcp_used_sessions = $2 WHERE id = $1`
	if _, err := s.db.Exec(ctx, query, clientID, used); err != nil {
		return fmt.Errorf("store: update used sessions: %w", err)
	}
	return nil
}

// DeactivateClientByRemoteID soft-deletes a client; the row is never removed.
func (s *Postgres) DeactivateClientByRemoteID(ctx context.Context, remoteID string) error {
	query := `UPDATE clients SET active = FALSE WHERE remote_id = $1`
	if _, err := s.db.Exec(ctx, query, remoteID); err != nil {
		return fmt.Errorf("store: deactivate client: %w", err)
	}
	return nil
}

const sessionColumns = `id, remote_id, practitioner_id, client_id, scheduled_start, scheduled_end,
	actual_start, actual_end, session_number, status, session_type, notes,
	fee_amount, fee_currency, paid, last_synced_at`

func scanSession(row pgx.Row) (*Session, error) {
	var sess Session
	err := row.Scan(
		&sess.ID,
		&sess.RemoteID,
		&sess.PractitionerID,
		&sess.ClientID,
		&sess.ScheduledStart,
		&sess.ScheduledEnd,
		&sess.ActualStart,
		&sess.ActualEnd,
		&sess.SessionNumber,
		&sess.Status,
		&sess.SessionType,
		&sess.Notes,
		&sess.FeeAmount,
		&sess.FeeCurrency,
		&sess.Paid,
		&sess.LastSyncedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSessionByRemoteID fetches a session by its remote key, or (nil, nil)
// when no row exists.
func (s *Postgres) GetSessionByRemoteID(ctx context.Context, remoteID string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE remote_id = $1`
	sess, err := scanSession(s.db.QueryRow(ctx, query, remoteID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: select session: %w", err)
	}
	return sess, nil
}

// InsertSession inserts a new row.
func (s *Postgres) InsertSession(ctx context.Context, sess *Session) error {
	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	if _, err := s.db.Exec(ctx, query,
		sess.ID,
		sess.RemoteID,
		sess.PractitionerID,
		sess.ClientID,
		sess.ScheduledStart,
		sess.ScheduledEnd,
		sess.ActualStart,
		sess.ActualEnd,
		sess.SessionNumber,
		sess.Status,
		sess.SessionType,
		sess.Notes,
		sess.FeeAmount,
		sess.FeeCurrency,
		sess.Paid,
		sess.LastSyncedAt,
	); err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}
	return nil
}

// UpdateSession updates the mutable fields of an existing row. The session
// number is deliberately not in the column list: it is assigned once at
// first sync and preserved thereafter.
func (s *Postgres) UpdateSession(ctx context.Context, sess *Session) error {
	query := `
		UPDATE sessions
		SET scheduled_start = $2, scheduled_end = $3, actual_start = $4, actual_end = $5,
			status = $6, session_type = $7, notes = $8, fee_amount = $9,
			fee_currency = $10, paid = $11, last_synced_at = $12
		WHERE id = $1
	`
	if _, err := s.db.Exec(ctx, query,
		sess.ID,
		sess.ScheduledStart,
		sess.ScheduledEnd,
		sess.ActualStart,
		sess.ActualEnd,
		sess.Status,
		sess.SessionType,
		sess.Notes,
		sess.FeeAmount,
		sess.FeeCurrency,
		sess.Paid,
		sess.LastSyncedAt,
	); err != nil {
		return fmt.Errorf("store: update session: %w", err)
	}
	return nil
}

// CountCompletedSessions counts a client's completed sessions with the
// given practitioner.
func (s *Postgres) CountCompletedSessions(ctx context.Context, clientID, practitionerID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM sessions WHERE client_id = $1 AND practitioner_id = $2 AND status = 'completed'`
	var count int
	if err := s.db.QueryRow(ctx, query, clientID, practitionerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count completed sessions: %w", err)
	}
	return count, nil
}

// CancelSessionByRemoteID flips a session's status to cancelled in place.
func (s *Postgres) CancelSessionByRemoteID(ctx context.Context, remoteID string, now time.Time) error {
	query := `UPDATE sessions SET status = 'cancelled', last_synced_at = $2 WHERE remote_id = $1`
	if _, err := s.db.Exec(ctx, query, remoteID, now); err != nil {
		return fmt.Errorf("store: cancel session: %w", err)
	}
	return nil
}
