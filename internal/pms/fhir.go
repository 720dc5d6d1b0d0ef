package pms

import "encoding/json"

// FHIR resource models for the PM system API. Only the subset of fields the
// sync engine reads is modeled here.

// Bundle represents a FHIR Bundle resource (search results container)
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type"` // "searchset", "collection", etc.
	Total        int           `json:"total"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// BundleLink carries pagination links ("self", "next", ...)
type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

// BundleEntry wraps one resource; kept raw so each caller decodes its own type.
type BundleEntry struct {
	Resource json.RawMessage `json:"resource"`
}

// NextURL returns the bundle's next-page link, or "" when this is the last page.
func (b *Bundle) NextURL() string {
	for _, link := range b.Link {
		if link.Relation == "next" {
			return link.URL
		}
	}
	return ""
}

// Practitioner represents a FHIR Practitioner resource
type Practitioner struct {
	ResourceType  string          `json:"resourceType"`
	ID            string          `json:"id,omitempty"`
	Active        *bool           `json:"active,omitempty"`
	Name          []HumanName     `json:"name,omitempty"`
	Telecom       []ContactPoint  `json:"telecom,omitempty"`
	Qualification []Qualification `json:"qualification,omitempty"`
	Meta          *Meta           `json:"meta,omitempty"`
}

// PractitionerRole represents a FHIR PractitionerRole resource
type PractitionerRole struct {
	ResourceType string            `json:"resourceType"`
	ID           string            `json:"id,omitempty"`
	Practitioner *Reference        `json:"practitioner,omitempty"`
	Specialty    []CodeableConcept `json:"specialty,omitempty"`
	Code         []CodeableConcept `json:"code,omitempty"`
}

// Patient represents a FHIR Patient resource
type Patient struct {
	ResourceType        string         `json:"resourceType"`
	ID                  string         `json:"id,omitempty"`
	Active              *bool          `json:"active,omitempty"`
	Name                []HumanName    `json:"name,omitempty"`
	Telecom             []ContactPoint `json:"telecom,omitempty"`
	BirthDate           string         `json:"birthDate,omitempty"` // YYYY-MM-DD
	GeneralPractitioner []Reference    `json:"generalPractitioner,omitempty"`
	Extension           []Extension    `json:"extension,omitempty"`
	Meta                *Meta          `json:"meta,omitempty"`
}

// Appointment represents a FHIR Appointment resource
type Appointment struct {
	ResourceType    string            `json:"resourceType"`
	ID              string            `json:"id,omitempty"`
	Status          string            `json:"status"` // proposed, pending, booked, arrived, fulfilled, cancelled, noshow, ...
	ServiceType     []CodeableConcept `json:"serviceType,omitempty"`
	Description     string            `json:"description,omitempty"`
	Comment         string            `json:"comment,omitempty"`
	Start           string            `json:"start,omitempty"` // RFC3339 datetime
	End             string            `json:"end,omitempty"`   // RFC3339 datetime
	MinutesDuration int               `json:"minutesDuration,omitempty"`
	Participant     []Participant     `json:"participant,omitempty"`
	Extension       []Extension       `json:"extension,omitempty"`
	Meta            *Meta             `json:"meta,omitempty"`
}

// Slot represents a FHIR Slot resource
type Slot struct {
	ResourceType string    `json:"resourceType"`
	ID           string    `json:"id"`
	Schedule     Reference `json:"schedule"`
	Status       string    `json:"status"` // free, busy, busy-unavailable, busy-tentative
	Start        string    `json:"start"`
	End          string    `json:"end"`
}

// Schedule represents a FHIR Schedule resource
type Schedule struct {
	ResourceType string      `json:"resourceType"`
	ID           string      `json:"id"`
	Actor        []Reference `json:"actor,omitempty"`
}

// Participant represents a participant in an appointment
type Participant struct {
	Actor  Reference `json:"actor"`
	Status string    `json:"status,omitempty"` // accepted, declined, tentative, needs-action
}

// Reference represents a reference to another FHIR resource
type Reference struct {
	Reference string `json:"reference"` // e.g., "Patient/123"
	Display   string `json:"display,omitempty"`
}

// CodeableConcept represents a coded value with optional text
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Coding represents a specific code from a code system
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// HumanName represents a person's name
type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
	Prefix []string `json:"prefix,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// ContactPoint represents a contact detail (phone, email, etc.)
type ContactPoint struct {
	System string `json:"system,omitempty"` // phone, email, sms, ...
	Value  string `json:"value,omitempty"`
	Use    string `json:"use,omitempty"`
}

// Qualification carries a practitioner credential
type Qualification struct {
	Code CodeableConcept `json:"code"`
}

// Extension carries vendor-specific fields keyed by URL
type Extension struct {
	URL          string   `json:"url"`
	ValueString  string   `json:"valueString,omitempty"`
	ValueDecimal *float64 `json:"valueDecimal,omitempty"`
	ValueInteger *int     `json:"valueInteger,omitempty"`
	ValueBoolean *bool    `json:"valueBoolean,omitempty"`
	ValueDate    string   `json:"valueDate,omitempty"`
}

// Meta contains metadata about the resource
type Meta struct {
	LastUpdated string `json:"lastUpdated,omitempty"`
	VersionID   string `json:"versionId,omitempty"`
}

// ExtractIDFromReference returns the trailing id segment of a FHIR
// reference like "Patient/123".
func ExtractIDFromReference(reference string) string {
	for i := len(reference) - 1; i >= 0; i-- {
		if reference[i] == '/' {
			return reference[i+1:]
		}
	}
	return reference
}
