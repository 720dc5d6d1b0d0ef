package pms

import "fmt"

const maxErrorBody = 512

// APIError is returned when the PM system answers with a non-2xx status.
// It carries the HTTP status and a truncated response body so callers can
// log actionable detail.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pms: API error (status %d): %s", e.StatusCode, e.Body)
}

// AuthError is returned when token acquisition fails. It is a distinct kind
// from APIError so callers can tell credential trouble from data-fetch trouble.
type AuthError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pms: authentication failed: %v", e.Err)
	}
	return fmt.Sprintf("pms: authentication failed (status %d): %s", e.StatusCode, e.Body)
}

func (e *AuthError) Unwrap() error { return e.Err }

func truncateBody(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody])
	}
	return string(body)
}
