package models

import (
	"strings"
	"time"
)

// Appointment represents a single calendar event as handled by the archive.
// This is an internal representation, independent of any specific calendar provider.
// An appointment with a non-empty Recurrence is a recurring template; otherwise
// it is a concrete instance.
type Appointment struct {
	SourceID    string        `json:"source_id"`             // Opaque provider identity (e.g. the Google event ID)
	Subject     string        `json:"subject"`               // Summary or title of the event
	Description string        `json:"description,omitempty"` // Free text, may be empty
	Start       time.Time     `json:"start"`                 // Start instant, strictly before End
	End         time.Time     `json:"end"`                   // End instant
	Attendees   []AttendeeRef `json:"attendees,omitempty"`   // Unique by email, lower-cased
	Recurrence  string        `json:"recurrence,omitempty"`  // RFC 5545 rule lines (RRULE/EXDATE/RDATE), empty for instances
	ShowAs      ShowAs        `json:"show_as"`
	Importance  Importance    `json:"importance"`
	Sensitivity Sensitivity   `json:"sensitivity"`
	Archived    bool          `json:"archived"`
	Owner       string        `json:"owner,omitempty"`    // Email of the owning user
	Conflict    *ConflictTag  `json:"conflict,omitempty"` // Set by the overlap resolver, nil when not in a cluster
}

// AttendeeRef is the one canonical attendee shape used past the ingestion boundary.
type AttendeeRef struct {
	Email string `json:"email"`
}

// ConflictTag marks an appointment as a member of an overlap cluster.
type ConflictTag struct {
	Canonical    bool   `json:"canonical"`     // true if this appointment won its cluster
	CanonicalKey string `json:"canonical_key"` // InstanceKey of the cluster's canonical appointment
	GroupSize    int    `json:"group_size"`
}

// NewAttendeeRef canonicalizes an email address, stripping a mailto: prefix.
func NewAttendeeRef(email string) AttendeeRef {
	email = strings.TrimSpace(email)
	if len(email) >= 7 && strings.EqualFold(email[:7], "mailto:") {
		email = email[7:]
	}
	return AttendeeRef{Email: strings.ToLower(email)}
}

// NewAttendees wraps raw email addresses into AttendeeRefs, dropping blanks and
// duplicates while preserving first-seen order.
func NewAttendees(emails ...string) []AttendeeRef {
	seen := make(map[string]bool, len(emails))
	out := make([]AttendeeRef, 0, len(emails))
	for _, e := range emails {
		ref := NewAttendeeRef(e)
		if ref.Email == "" || seen[ref.Email] {
			continue
		}
		seen[ref.Email] = true
		out = append(out, ref)
	}
	return out
}

// IsRecurring reports whether the appointment is a recurring template.
func (a Appointment) IsRecurring() bool {
	return strings.TrimSpace(a.Recurrence) != ""
}

// Duration returns End - Start.
func (a Appointment) Duration() time.Duration {
	return a.End.Sub(a.Start)
}

// InstanceKey identifies one concrete occurrence. Instances expanded from the
// same template share a SourceID, so the UTC start is part of the key.
func (a Appointment) InstanceKey() string {
	return a.SourceID + "/" + a.Start.UTC().Format(time.RFC3339)
}

// AttendeeEmails returns the attendee emails in order.
func (a Appointment) AttendeeEmails() []string {
	out := make([]string, len(a.Attendees))
	for i, at := range a.Attendees {
		out[i] = at.Email
	}
	return out
}

// Clone returns a deep copy so callers can derive new records without
// aliasing the input's slices or pointers.
func (a Appointment) Clone() Appointment {
	c := a
	if a.Attendees != nil {
		c.Attendees = make([]AttendeeRef, len(a.Attendees))
		copy(c.Attendees, a.Attendees)
	}
	if a.Conflict != nil {
		tag := *a.Conflict
		c.Conflict = &tag
	}
	return c
}
