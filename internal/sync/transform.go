package sync

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ashgrovepsych/practice-sync/internal/pms"
	"github.com/ashgrovepsych/practice-sync/internal/store"
)

// Transformers are pure: remote resource in, complete local entity out.
// Callers supply the local context (existing row if known, foreign keys,
// computed session number).

// MapAppointmentStatus converts a remote appointment status into the local
// session status enumeration. The table is closed; anything unrecognized
// maps to scheduled.
func MapAppointmentStatus(remote string) store.SessionStatus {
	switch strings.ToLower(strings.TrimSpace(remote)) {
	case "proposed", "pending", "booked", "waitlist":
		return store.SessionScheduled
	case "arrived", "checked-in":
		return store.SessionConfirmed
	case "fulfilled":
		return store.SessionCompleted
	case "cancelled", "entered-in-error":
		return store.SessionCancelled
	case "noshow":
		return store.SessionNoShow
	default:
		return store.SessionScheduled
	}
}

// PractitionerFromRemote maps a remote practitioner (plus optional role)
// onto a local entity. Fields absent from the remote payload fall back to
// the existing row's values.
func PractitionerFromRemote(remote *pms.Practitioner, role *pms.PractitionerRole, existing *store.Practitioner, now time.Time) store.Practitioner {
	if existing == nil {
		existing = &store.Practitioner{}
	}

	p := store.Practitioner{
		ID:           existing.ID,
		RemoteID:     remote.ID,
		Active:       true,
		LastSyncedAt: now,
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	var first, last, prefix string
	if len(remote.Name) > 0 {
		name := remote.Name[0]
		last = name.Family
		if len(name.Given) > 0 {
			first = name.Given[0]
		}
		if len(name.Prefix) > 0 {
			prefix = name.Prefix[0]
		}
	}
	p.FirstName = coalesce(first, existing.FirstName)
	p.LastName = coalesce(last, existing.LastName)
	p.DisplayName = strings.TrimSpace(strings.Join(nonEmpty(prefix, p.FirstName, p.LastName), " "))

	email, phone := telecomValues(remote.Telecom)
	// Email is non-null locally; synthesize a placeholder when the remote
	// record has none so the uniqueness constraint holds.
	p.Email = coalesce(email, existing.Email)
	if strings.TrimSpace(p.Email) == "" {
		p.Email = fmt.Sprintf("%s@placeholder.local", remote.ID)
	}
	p.Phone = coalesce(phone, existing.Phone)

	var quals []string
	for _, q := range remote.Qualification {
		if text := conceptText(q.Code); text != "" {
			quals = append(quals, text)
		}
	}
	p.Qualifications = coalesce(strings.Join(quals, ", "), existing.Qualifications)

	if role != nil {
		p.RemoteRoleID = role.ID
		if len(role.Specialty) > 0 {
			p.Specialty = conceptText(role.Specialty[0])
		}
	}
	p.RemoteRoleID = coalesce(p.RemoteRoleID, existing.RemoteRoleID)
	p.Specialty = coalesce(p.Specialty, existing.Specialty)

	if remote.Active != nil {
		p.Active = *remote.Active
	} else if existing.RemoteID != "" {
		p.Active = existing.Active
	}

	return p
}

// ClientFromRemote maps a remote patient onto a local client entity. The
// MHCP used-session count is never taken from the remote payload; it is
// recomputed from completed-session history by the sync service.
func ClientFromRemote(remote *pms.Patient, practitionerID uuid.UUID, existing *store.Client, now time.Time) store.Client {
	if existing == nil {
		existing = &store.Client{}
	}

	c := store.Client{
		ID:               existing.ID,
		RemoteID:         remote.ID,
		PractitionerID:   practitionerID,
		MHCPUsedSessions: existing.MHCPUsedSessions,
		Active:           true,
		LastSyncedAt:     now,
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	var first, last string
	if len(remote.Name) > 0 {
		name := remote.Name[0]
		last = name.Family
		if len(name.Given) > 0 {
			first = name.Given[0]
		}
	}
	c.FirstName = coalesce(first, existing.FirstName)
	c.LastName = coalesce(last, existing.LastName)
	c.Initials = Initials(c.FirstName, c.LastName)

	email, phone := telecomValues(remote.Telecom)
	c.Email = coalesce(email, existing.Email)
	c.Phone = coalesce(phone, existing.Phone)

	if remote.BirthDate != "" {
		if dob, err := time.Parse("2006-01-02", remote.BirthDate); err == nil {
			c.DateOfBirth = &dob
		}
	}
	if c.DateOfBirth == nil {
		c.DateOfBirth = existing.DateOfBirth
	}

	for _, ext := range remote.Extension {
		url := strings.ToLower(ext.URL)
		switch {
		case strings.Contains(url, "total-sessions"):
			if ext.ValueInteger != nil {
				c.MHCPTotalSessions = *ext.ValueInteger
			}
		case strings.Contains(url, "plan-start"):
			if d, err := time.Parse("2006-01-02", ext.ValueDate); err == nil {
				c.MHCPStartDate = &d
			}
		case strings.Contains(url, "plan-expiry"):
			if d, err := time.Parse("2006-01-02", ext.ValueDate); err == nil {
				c.MHCPExpiryDate = &d
			}
		case strings.Contains(url, "presenting"):
			if ext.ValueString != "" {
				c.PresentingIssues = ext.ValueString
			}
		}
	}
	if c.MHCPTotalSessions == 0 {
		c.MHCPTotalSessions = existing.MHCPTotalSessions
	}
	if c.MHCPStartDate == nil {
		c.MHCPStartDate = existing.MHCPStartDate
	}
	if c.MHCPExpiryDate == nil {
		c.MHCPExpiryDate = existing.MHCPExpiryDate
	}
	c.PresentingIssues = coalesce(c.PresentingIssues, existing.PresentingIssues)

	if remote.Active != nil {
		c.Active = *remote.Active
	} else if existing.RemoteID != "" {
		c.Active = existing.Active
	}

	return c
}

// SessionFromRemote maps a remote appointment onto a local session entity.
// The session number parameter is used only on first sync; an existing
// session keeps the number it was assigned.
func SessionFromRemote(remote *pms.Appointment, practitionerID, clientID uuid.UUID, sessionNumber int, existing *store.Session, now time.Time) store.Session {
	sess := store.Session{
		ID:             uuid.New(),
		RemoteID:       remote.ID,
		PractitionerID: practitionerID,
		ClientID:       clientID,
		SessionNumber:  sessionNumber,
		Status:         MapAppointmentStatus(remote.Status),
		LastSyncedAt:   now,
	}
	if existing != nil {
		sess.ID = existing.ID
		sess.SessionNumber = existing.SessionNumber
		sess.ActualStart = existing.ActualStart
		sess.ActualEnd = existing.ActualEnd
	}

	if start, err := time.Parse(time.RFC3339, remote.Start); err == nil {
		sess.ScheduledStart = start
	} else if existing != nil {
		sess.ScheduledStart = existing.ScheduledStart
	}
	if end, err := time.Parse(time.RFC3339, remote.End); err == nil {
		sess.ScheduledEnd = end
	} else if existing != nil {
		sess.ScheduledEnd = existing.ScheduledEnd
	}

	sess.SessionType = classifyModality(remote)
	sess.Notes = coalesce(remote.Comment, remote.Description)
	if sess.Notes == "" && existing != nil {
		sess.Notes = existing.Notes
	}

	fee, currency, paid := extractBilling(remote.Extension)
	sess.FeeAmount = fee
	sess.FeeCurrency = currency
	sess.Paid = paid
	if existing != nil {
		if sess.FeeAmount == nil {
			sess.FeeAmount = existing.FeeAmount
		}
		sess.FeeCurrency = coalesce(sess.FeeCurrency, existing.FeeCurrency)
		// paid never reverts once set
		if existing.Paid {
			sess.Paid = true
		}
	}

	return sess
}

// Initials returns first-letter-of-first-name + first-letter-of-last-name,
// uppercased, with "?" standing in for a missing part.
func Initials(first, last string) string {
	return initialOf(first) + initialOf(last)
}

func initialOf(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "?"
	}
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return "?"
	}
	return strings.ToUpper(name[:size])
}

// classifyModality infers telehealth vs in-person from service-type and
// description text. No match defaults to in-person.
func classifyModality(remote *pms.Appointment) string {
	var parts []string
	for _, st := range remote.ServiceType {
		parts = append(parts, conceptText(st))
	}
	parts = append(parts, remote.Description)

	text := strings.ToLower(strings.Join(parts, " "))
	for _, token := range []string{"telehealth", "video", "online"} {
		if strings.Contains(text, token) {
			return "telehealth"
		}
	}
	return "in_person"
}

// extractBilling reads fee and paid status from the extension list by URL
// substring match. Absence yields a nil fee and paid=false; neither is ever
// inferred from session status.
func extractBilling(extensions []pms.Extension) (fee *float64, currency string, paid bool) {
	for _, ext := range extensions {
		url := strings.ToLower(ext.URL)
		switch {
		case strings.Contains(url, "fee"), strings.Contains(url, "amount"):
			if ext.ValueDecimal != nil {
				v := *ext.ValueDecimal
				fee = &v
			}
			if ext.ValueString != "" && currency == "" {
				currency = ext.ValueString
			}
		case strings.Contains(url, "paid"), strings.Contains(url, "payment-status"):
			if ext.ValueBoolean != nil {
				paid = *ext.ValueBoolean
			}
		}
	}
	return fee, currency, paid
}

func telecomValues(telecom []pms.ContactPoint) (email, phone string) {
	for _, point := range telecom {
		switch point.System {
		case "email":
			if email == "" {
				email = point.Value
			}
		case "phone":
			if phone == "" {
				phone = point.Value
			}
		}
	}
	return email, phone
}

func conceptText(concept pms.CodeableConcept) string {
	if concept.Text != "" {
		return concept.Text
	}
	if len(concept.Coding) > 0 {
		if concept.Coding[0].Display != "" {
			return concept.Coding[0].Display
		}
		return concept.Coding[0].Code
	}
	return ""
}

func coalesce(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			out = append(out, value)
		}
	}
	return out
}
