package pms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("pms")

var errNotFound = errors.New("pms: resource not found")

// Client talks to the PM system's FHIR-flavored REST API.
type Client struct {
	baseURL        string
	tokenURL       string
	clientID       string
	clientSecret   string
	organizationID string
	maxRetries     int
	httpClient     *http.Client

	// OAuth 2.0 token cache, owned by the client. Guarded by mu because
	// concurrent sync invocations share one client instance.
	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// Config holds configuration for the PM system client
type Config struct {
	BaseURL        string // FHIR API root
	TokenURL       string // OAuth token endpoint; defaults to BaseURL + "/connect/token"
	ClientID       string // OAuth 2.0 client ID
	ClientSecret   string // OAuth 2.0 client secret
	OrganizationID string // tenant scope appended to the token request when set
	Timeout        time.Duration
	MaxRetries     int
}

// New creates a new PM system client
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("pms: BaseURL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("pms: ClientID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("pms: ClientSecret is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = baseURL + "/connect/token"
	}

	return &Client{
		baseURL:        baseURL,
		tokenURL:       tokenURL,
		clientID:       cfg.ClientID,
		clientSecret:   cfg.ClientSecret,
		organizationID: cfg.OrganizationID,
		maxRetries:     maxRetries,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// GetPractitioner retrieves a practitioner by remote id. Returns (nil, nil)
// on a well-formed not-found response.
func (c *Client) GetPractitioner(ctx context.Context, remoteID string) (*Practitioner, error) {
	ctx, span := tracer.Start(ctx, "pms.get_practitioner")
	defer span.End()
	span.SetAttributes(attribute.String("pms.practitioner_id", remoteID))

	var practitioner Practitioner
	err := c.getJSON(ctx, fmt.Sprintf("%s/Practitioner/%s", c.baseURL, url.PathEscape(remoteID)), &practitioner)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &practitioner, nil
}

// GetPractitionerRole retrieves the role record attached to a practitioner,
// or nil when none exists.
func (c *Client) GetPractitionerRole(ctx context.Context, practitionerID string) (*PractitionerRole, error) {
	ctx, span := tracer.Start(ctx, "pms.get_practitioner_role")
	defer span.End()

	params := url.Values{}
	params.Set("practitioner", practitionerID)

	entries, err := c.fetchAllPages(ctx, fmt.Sprintf("%s/PractitionerRole?%s", c.baseURL, params.Encode()))
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		var role PractitionerRole
		if err := json.Unmarshal(entry.Resource, &role); err != nil {
			continue
		}
		if role.ResourceType == "PractitionerRole" {
			return &role, nil
		}
	}
	return nil, nil
}

// GetAllPractitioners retrieves every practitioner, following pagination
// links until no further page is present.
func (c *Client) GetAllPractitioners(ctx context.Context) ([]Practitioner, error) {
	ctx, span := tracer.Start(ctx, "pms.get_all_practitioners")
	defer span.End()

	entries, err := c.fetchAllPages(ctx, fmt.Sprintf("%s/Practitioner", c.baseURL))
	if err != nil {
		return nil, err
	}

	practitioners := make([]Practitioner, 0, len(entries))
	for _, entry := range entries {
		var practitioner Practitioner
		if err := json.Unmarshal(entry.Resource, &practitioner); err != nil {
			continue
		}
		if practitioner.ResourceType == "Practitioner" {
			practitioners = append(practitioners, practitioner)
		}
	}
	return practitioners, nil
}

// GetPatient retrieves a patient by remote id. Returns (nil, nil) on a
// well-formed not-found response.
func (c *Client) GetPatient(ctx context.Context, remoteID string) (*Patient, error) {
	ctx, span := tracer.Start(ctx, "pms.get_patient")
	defer span.End()
	span.SetAttributes(attribute.String("pms.patient_id", remoteID))

	var patient Patient
	err := c.getJSON(ctx, fmt.Sprintf("%s/Patient/%s", c.baseURL, url.PathEscape(remoteID)), &patient)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &patient, nil
}

// GetPatientsByPractitioner retrieves all patients whose general
// practitioner is the given remote practitioner.
func (c *Client) GetPatientsByPractitioner(ctx context.Context, practitionerID string) ([]Patient, error) {
	ctx, span := tracer.Start(ctx, "pms.get_patients_by_practitioner")
	defer span.End()
	span.SetAttributes(attribute.String("pms.practitioner_id", practitionerID))

	params := url.Values{}
	params.Set("general-practitioner", "Practitioner/"+practitionerID)

	entries, err := c.fetchAllPages(ctx, fmt.Sprintf("%s/Patient?%s", c.baseURL, params.Encode()))
	if err != nil {
		return nil, err
	}

	patients := make([]Patient, 0, len(entries))
	for _, entry := range entries {
		var patient Patient
		if err := json.Unmarshal(entry.Resource, &patient); err != nil {
			continue
		}
		if patient.ResourceType == "Patient" {
			patients = append(patients, patient)
		}
	}
	return patients, nil
}

// GetAppointmentsByPractitioner retrieves the practitioner's appointments
// within [start, end].
func (c *Client) GetAppointmentsByPractitioner(ctx context.Context, practitionerID string, start, end time.Time) ([]Appointment, error) {
	ctx, span := tracer.Start(ctx, "pms.get_appointments_by_practitioner")
	defer span.End()
	span.SetAttributes(attribute.String("pms.practitioner_id", practitionerID))

	params := url.Values{}
	params.Set("practitioner", "Practitioner/"+practitionerID)
	params.Add("date", "ge"+start.Format(time.RFC3339))
	params.Add("date", "le"+end.Format(time.RFC3339))

	entries, err := c.fetchAllPages(ctx, fmt.Sprintf("%s/Appointment?%s", c.baseURL, params.Encode()))
	if err != nil {
		return nil, err
	}

	appointments := make([]Appointment, 0, len(entries))
	for _, entry := range entries {
		var appointment Appointment
		if err := json.Unmarshal(entry.Resource, &appointment); err != nil {
			continue
		}
		if appointment.ResourceType == "Appointment" {
			appointments = append(appointments, appointment)
		}
	}
	return appointments, nil
}

// GetAppointmentsWithPatientDetails retrieves appointments and fills in
// missing patient participant display names, fetching each distinct patient
// reference at most once.
func (c *Client) GetAppointmentsWithPatientDetails(ctx context.Context, practitionerID string, start, end time.Time) ([]Appointment, error) {
	appointments, err := c.GetAppointmentsByPractitioner(ctx, practitionerID, start, end)
	if err != nil {
		return nil, err
	}

	displays := make(map[string]string)
	for i := range appointments {
		for j := range appointments[i].Participant {
			participant := &appointments[i].Participant[j]
			ref := participant.Actor.Reference
			if !strings.HasPrefix(ref, "Patient/") || participant.Actor.Display != "" {
				continue
			}
			display, ok := displays[ref]
			if !ok {
				patient, err := c.GetPatient(ctx, ExtractIDFromReference(ref))
				if err != nil {
					return nil, err
				}
				if patient != nil && len(patient.Name) > 0 {
					display = strings.TrimSpace(strings.Join(patient.Name[0].Given, " ") + " " + patient.Name[0].Family)
				}
				displays[ref] = display
			}
			participant.Actor.Display = display
		}
	}
	return appointments, nil
}

// GetAvailableSlots retrieves free slots for a schedule within [start, end].
func (c *Client) GetAvailableSlots(ctx context.Context, scheduleID string, start, end time.Time) ([]Slot, error) {
	ctx, span := tracer.Start(ctx, "pms.get_available_slots")
	defer span.End()

	params := url.Values{}
	params.Set("schedule", scheduleID)
	params.Set("start", start.Format(time.RFC3339))
	params.Set("end", end.Format(time.RFC3339))
	params.Set("status", "free")

	entries, err := c.fetchAllPages(ctx, fmt.Sprintf("%s/Slot?%s", c.baseURL, params.Encode()))
	if err != nil {
		return nil, err
	}

	slots := make([]Slot, 0, len(entries))
	for _, entry := range entries {
		var slot Slot
		if err := json.Unmarshal(entry.Resource, &slot); err != nil {
			continue
		}
		if slot.ResourceType == "Slot" {
			slots = append(slots, slot)
		}
	}
	return slots, nil
}

// fetchAllPages follows bundle "next" links, accumulating every entry.
func (c *Client) fetchAllPages(ctx context.Context, firstURL string) ([]BundleEntry, error) {
	var entries []BundleEntry
	next := firstURL
	for next != "" {
		var bundle Bundle
		if err := c.getJSON(ctx, next, &bundle); err != nil {
			if errors.Is(err, errNotFound) {
				return entries, nil
			}
			return nil, err
		}
		entries = append(entries, bundle.Entry...)
		next = bundle.NextURL()
	}
	return entries, nil
}

// getJSON performs an authenticated GET and decodes the response. 429 and
// 5xx responses are retried up to maxRetries, honoring Retry-After. Safe to
// repeat because every call is a read.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("pms: failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token())
		req.Header.Set("Accept", "application/fhir+json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("pms: request failed: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = &APIError{StatusCode: resp.StatusCode, Body: truncateBody(body)}
			if attempt == c.maxRetries {
				return lastErr
			}
			if err := sleepRetryAfter(ctx, resp.Header.Get("Retry-After")); err != nil {
				return err
			}
			continue
		}

		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return errNotFound
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return &APIError{StatusCode: resp.StatusCode, Body: truncateBody(body)}
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("pms: failed to decode response: %w", err)
		}
		return nil
	}
	return lastErr
}

func sleepRetryAfter(ctx context.Context, header string) error {
	delay := time.Second
	if header != "" {
		if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
			delay = time.Duration(secs) * time.Second
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// ensureAuthenticated refreshes the cached token when within a 5-minute
// safety margin of expiry.
func (c *Client) ensureAuthenticated(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Add(5*time.Minute).Before(c.tokenExpiry) {
		return nil
	}
	return c.authenticateLocked(ctx)
}

// authenticateLocked performs OAuth 2.0 client credentials authentication.
// Callers must hold mu.
func (c *Client) authenticateLocked(ctx context.Context) error {
	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)
	scope := "patient/*.read practitioner/*.read appointment/*.read slot/*.read"
	if c.organizationID != "" {
		// Multi-tenant deployments scope the token to one organization.
		scope = "org/" + c.organizationID + " " + scope
	}
	data.Set("scope", scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return &AuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &AuthError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &AuthError{StatusCode: resp.StatusCode, Body: truncateBody(body)}
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return &AuthError{Err: err}
	}

	c.accessToken = tokenResp.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	return nil
}
