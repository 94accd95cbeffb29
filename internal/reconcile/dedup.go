package reconcile

import (
	"sort"
	"strings"

	"calarchive/internal/models"
)

// DefaultDivider separates descriptions merged from duplicate appointments.
const DefaultDivider = "\n\n----------\n\n"

// DedupKey identifies appointments that represent the same logical event.
type DedupKey struct {
	Subject   string
	Start     int64 // UnixNano, so instants in different locations compare equal
	End       int64
	Attendees string // sorted unique lower-cased emails joined by ","
}

// KeyOf builds the DedupKey for a.
func KeyOf(a models.Appointment) DedupKey {
	seen := make(map[string]bool, len(a.Attendees))
	emails := make([]string, 0, len(a.Attendees))
	for _, at := range a.Attendees {
		e := models.NewAttendeeRef(at.Email).Email
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		emails = append(emails, e)
	}
	sort.Strings(emails)

	return DedupKey{
		Subject:   a.Subject,
		Start:     a.Start.UnixNano(),
		End:       a.End.UnixNano(),
		Attendees: strings.Join(emails, ","),
	}
}

// Deduplicator collapses appointments sharing a DedupKey into the first one
// seen, merging descriptions and attendees.
type Deduplicator struct {
	// Divider is placed between merged descriptions. Empty means DefaultDivider.
	Divider string
}

// MergeDuplicates runs a Deduplicator with the default divider.
func MergeDuplicates(appts []models.Appointment) []models.Appointment {
	return Deduplicator{}.Merge(appts)
}

// Merge returns new records in first-seen key order. The input is not modified.
func (d Deduplicator) Merge(appts []models.Appointment) []models.Appointment {
	divider := d.Divider
	if divider == "" {
		divider = DefaultDivider
	}

	index := make(map[DedupKey]int, len(appts))
	out := make([]models.Appointment, 0, len(appts))

	for _, a := range appts {
		key := KeyOf(a)
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, a.Clone())
			continue
		}

		keeper := &out[i]
		switch {
		case a.Description == "":
		case keeper.Description == "":
			keeper.Description = a.Description
		default:
			keeper.Description = keeper.Description + divider + a.Description
		}
		keeper.Attendees = unionAttendees(keeper.Attendees, a.Attendees)
	}
	return out
}

// unionAttendees merges two attendee lists by email, keeping first-seen order.
func unionAttendees(a, b []models.AttendeeRef) []models.AttendeeRef {
	emails := make([]string, 0, len(a)+len(b))
	for _, at := range a {
		emails = append(emails, at.Email)
	}
	for _, at := range b {
		emails = append(emails, at.Email)
	}
	return models.NewAttendees(emails...)
}
