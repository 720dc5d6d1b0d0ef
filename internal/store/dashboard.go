package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QuotaClient is a dashboard row for a client approaching their MHCP quota.
type QuotaClient struct {
	ClientID  uuid.UUID `json:"client_id"`
	Initials  string    `json:"initials"`
	Used      int       `json:"used"`
	Total     int       `json:"total"`
	Remaining int       `json:"remaining"`
}

// CountSessionsBetween counts a practitioner's non-cancelled sessions
// scheduled within [start, end).
func (s *Postgres) CountSessionsBetween(ctx context.Context, practitionerID uuid.UUID, start, end time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM sessions
		WHERE practitioner_id = $1
			AND scheduled_start >= $2 AND scheduled_start < $3
			AND status NOT IN ('cancelled', 'no_show')
	`
	var count int
	if err := s.db.QueryRow(ctx, query, practitionerID, start, end).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count sessions: %w", err)
	}
	return count, nil
}

// CountActiveClients counts a practitioner's active clients.
func (s *Postgres) CountActiveClients(ctx context.Context, practitionerID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM clients WHERE practitioner_id = $1 AND active`
	var count int
	if err := s.db.QueryRow(ctx, query, practitionerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count active clients: %w", err)
	}
	return count, nil
}

// ListClientsNearQuota returns active clients with at most `remaining`
// MHCP sessions left, most exhausted first.
func (s *Postgres) ListClientsNearQuota(ctx context.Context, practitionerID uuid.UUID, remaining int) ([]QuotaClient, error) {
	query := `
		SELECT id, initials, mhcp_used_sessions, mhcp_total_sessions
		FROM clients
		WHERE practitioner_id = $1 AND active
			AND mhcp_total_sessions > 0
			AND mhcp_total_sessions - mhcp_used_sessions <= $2
		ORDER BY mhcp_total_sessions - mhcp_used_sessions, initials
	`
	rows, err := s.db.Query(ctx, query, practitionerID, remaining)
	if err != nil {
		return nil, fmt.Errorf("store: list clients near quota: %w", err)
	}
	defer rows.Close()

	var out []QuotaClient
	for rows.Next() {
		var qc QuotaClient
		if err := rows.Scan(&qc.ClientID, &qc.Initials, &qc.Used, &qc.Total); err != nil {
			return nil, fmt.Errorf("store: scan quota client: %w", err)
		}
		qc.Remaining = qc.Total - qc.Used
		out = append(out, qc)
	}
	return out, rows.Err()
}
