package sync

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashgrovepsych/practice-sync/internal/pms"
	"github.com/ashgrovepsych/practice-sync/internal/store"
)

func TestMapAppointmentStatus(t *testing.T) {
	cases := map[string]store.SessionStatus{
		"proposed":         store.SessionScheduled,
		"pending":          store.SessionScheduled,
		"booked":           store.SessionScheduled,
		"waitlist":         store.SessionScheduled,
		"arrived":          store.SessionConfirmed,
		"checked-in":       store.SessionConfirmed,
		"fulfilled":        store.SessionCompleted,
		"cancelled":        store.SessionCancelled,
		"entered-in-error": store.SessionCancelled,
		"noshow":           store.SessionNoShow,
		"BOOKED":           store.SessionScheduled,
		"  fulfilled ":     store.SessionCompleted,
		"something-new":    store.SessionScheduled,
		"":                 store.SessionScheduled,
	}
	for remote, want := range cases {
		assert.Equal(t, want, MapAppointmentStatus(remote), "remote status %q", remote)
	}
}

func TestPractitionerFromRemote(t *testing.T) {
	active := true
	remote := &pms.Practitioner{
		ID: "prac-1",
		Name: []pms.HumanName{{
			Family: "Okafor",
			Given:  []string{"Adaeze"},
			Prefix: []string{"Dr"},
		}},
		Telecom: []pms.ContactPoint{
			{System: "phone", Value: "0400 111 222"},
			{System: "email", Value: "adaeze@example.com"},
		},
		Qualification: []pms.Qualification{
			{Code: pms.CodeableConcept{Text: "MPsych"}},
			{Code: pms.CodeableConcept{Text: "MAPS"}},
		},
		Active: &active,
	}
	role := &pms.PractitionerRole{
		ID:        "role-1",
		Specialty: []pms.CodeableConcept{{Text: "Clinical Psychology"}},
	}

	now := time.Now()
	got := PractitionerFromRemote(remote, role, nil, now)

	assert.NotEqual(t, uuid.Nil, got.ID)
	assert.Equal(t, "prac-1", got.RemoteID)
	assert.Equal(t, "role-1", got.RemoteRoleID)
	assert.Equal(t, "Dr Adaeze Okafor", got.DisplayName)
	assert.Equal(t, "adaeze@example.com", got.Email)
	assert.Equal(t, "0400 111 222", got.Phone)
	assert.Equal(t, "MPsych, MAPS", got.Qualifications)
	assert.Equal(t, "Clinical Psychology", got.Specialty)
	assert.True(t, got.Active)
	assert.Equal(t, now, got.LastSyncedAt)
}

func TestPractitionerFromRemotePlaceholderEmail(t *testing.T) {
	remote := &pms.Practitioner{
		ID:   "prac-2",
		Name: []pms.HumanName{{Family: "Reid", Given: []string{"Sam"}}},
	}
	got := PractitionerFromRemote(remote, nil, nil, time.Now())
	assert.Equal(t, "prac-2@placeholder.local", got.Email)
}

func TestPractitionerFromRemoteKeepsExistingFields(t *testing.T) {
	existing := &store.Practitioner{
		ID:        uuid.New(),
		RemoteID:  "prac-3",
		FirstName: "Sam",
		LastName:  "Reid",
		Email:     "sam@example.com",
		Specialty: "Counselling",
	}
	remote := &pms.Practitioner{ID: "prac-3"}

	got := PractitionerFromRemote(remote, nil, existing, time.Now())
	assert.Equal(t, existing.ID, got.ID)
	assert.Equal(t, "Sam", got.FirstName)
	assert.Equal(t, "sam@example.com", got.Email)
	assert.Equal(t, "Counselling", got.Specialty)
}

func TestClientFromRemoteMHCPExtensions(t *testing.T) {
	ten := 10
	remote := &pms.Patient{
		ID:        "pat-1",
		Name:      []pms.HumanName{{Family: "Reid", Given: []string{"Maya"}}},
		BirthDate: "1991-04-02",
		Extension: []pms.Extension{
			{URL: "https://pm.example.com/fhir/ext/mhcp-total-sessions", ValueInteger: &ten},
			{URL: "https://pm.example.com/fhir/ext/mhcp-plan-start", ValueDate: "2026-01-15"},
			{URL: "https://pm.example.com/fhir/ext/mhcp-plan-expiry", ValueDate: "2027-01-15"},
			{URL: "https://pm.example.com/fhir/ext/presenting-issues", ValueString: "anxiety"},
		},
	}

	practitionerID := uuid.New()
	got := ClientFromRemote(remote, practitionerID, nil, time.Now())

	assert.Equal(t, practitionerID, got.PractitionerID)
	assert.Equal(t, "MR", got.Initials)
	assert.Equal(t, 10, got.MHCPTotalSessions)
	require.NotNil(t, got.MHCPStartDate)
	assert.Equal(t, "2026-01-15", got.MHCPStartDate.Format("2006-01-02"))
	require.NotNil(t, got.MHCPExpiryDate)
	assert.Equal(t, "2027-01-15", got.MHCPExpiryDate.Format("2006-01-02"))
	assert.Equal(t, "anxiety", got.PresentingIssues)
	require.NotNil(t, got.DateOfBirth)
	assert.Equal(t, "1991-04-02", got.DateOfBirth.Format("2006-01-02"))
}

func TestClientFromRemoteNeverTrustsRemoteUsedCount(t *testing.T) {
	used := 7
	remote := &pms.Patient{
		ID: "pat-2",
		Extension: []pms.Extension{
			{URL: "https://pm.example.com/fhir/ext/mhcp-used-sessions", ValueInteger: &used},
		},
	}
	existing := &store.Client{ID: uuid.New(), RemoteID: "pat-2", MHCPUsedSessions: 3}

	got := ClientFromRemote(remote, uuid.New(), existing, time.Now())
	assert.Equal(t, 3, got.MHCPUsedSessions, "used-session count comes from local completed history only")
}

func TestSessionFromRemote(t *testing.T) {
	fee := 185.0
	paid := true
	remote := &pms.Appointment{
		ID:          "appt-1",
		Status:      "booked",
		Start:       "2026-09-01T10:00:00Z",
		End:         "2026-09-01T10:50:00Z",
		ServiceType: []pms.CodeableConcept{{Text: "Telehealth consult"}},
		Comment:     "follow-up",
		Extension: []pms.Extension{
			{URL: "https://pm.example.com/fhir/ext/session-fee", ValueDecimal: &fee, ValueString: "AUD"},
			{URL: "https://pm.example.com/fhir/ext/paid", ValueBoolean: &paid},
		},
	}

	practitionerID, clientID := uuid.New(), uuid.New()
	got := SessionFromRemote(remote, practitionerID, clientID, 4, nil, time.Now())

	assert.Equal(t, store.SessionScheduled, got.Status)
	assert.Equal(t, 4, got.SessionNumber)
	assert.Equal(t, "telehealth", got.SessionType)
	assert.Equal(t, "follow-up", got.Notes)
	require.NotNil(t, got.FeeAmount)
	assert.Equal(t, 185.0, *got.FeeAmount)
	assert.Equal(t, "AUD", got.FeeCurrency)
	assert.True(t, got.Paid)
	assert.Equal(t, "2026-09-01T10:00:00Z", got.ScheduledStart.Format(time.RFC3339))
}

func TestSessionFromRemoteKeepsNumberAndPaid(t *testing.T) {
	existing := &store.Session{
		ID:            uuid.New(),
		RemoteID:      "appt-2",
		SessionNumber: 2,
		Paid:          true,
	}
	remote := &pms.Appointment{ID: "appt-2", Status: "fulfilled"}

	got := SessionFromRemote(remote, uuid.New(), uuid.New(), 9, existing, time.Now())
	assert.Equal(t, existing.ID, got.ID)
	assert.Equal(t, 2, got.SessionNumber, "session number is assigned once")
	assert.True(t, got.Paid, "paid never reverts")
	assert.Equal(t, store.SessionCompleted, got.Status)
}

func TestSessionFromRemoteDefaultsInPerson(t *testing.T) {
	remote := &pms.Appointment{ID: "appt-3", Status: "booked", Description: "standard consult"}
	got := SessionFromRemote(remote, uuid.New(), uuid.New(), 1, nil, time.Now())
	assert.Equal(t, "in_person", got.SessionType)
	assert.Nil(t, got.FeeAmount)
	assert.False(t, got.Paid)
}

func TestInitials(t *testing.T) {
	assert.Equal(t, "MR", Initials("maya", "reid"))
	assert.Equal(t, "M?", Initials("Maya", ""))
	assert.Equal(t, "??", Initials("", "  "))
	assert.Equal(t, "ØÆ", Initials("Øyvind", "ærlig"))
	assert.Equal(t, "鈴M", Initials("鈴木", "maya"))
}
