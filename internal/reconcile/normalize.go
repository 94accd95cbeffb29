package reconcile

import (
	"fmt"
	"strings"
	"time"

	"calarchive/internal/models"
)

// Layouts that carry no zone information. Values in these layouts are read as
// wall-clock time in the normalizer's assumed zone.
var floatingLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"20060102T150405",
	"2006-01-02",
	"20060102",
}

// Normalizer converts timestamps to UTC. Floating (zone-less) wall-clock values
// are interpreted in the assumed zone, which defaults to UTC.
type Normalizer struct {
	assumed *time.Location
}

// NewNormalizer returns a Normalizer that reads floating values in assumed.
// A nil location means UTC.
func NewNormalizer(assumed *time.Location) Normalizer {
	if assumed == nil {
		assumed = time.UTC
	}
	return Normalizer{assumed: assumed}
}

// Assumed returns the zone used for floating values.
func (n Normalizer) Assumed() *time.Location {
	if n.assumed == nil {
		return time.UTC
	}
	return n.assumed
}

// Normalize returns the same instant anchored in UTC.
func (n Normalizer) Normalize(t time.Time) time.Time {
	return t.UTC()
}

// NormalizeFloating treats t's wall clock as a time in the assumed zone,
// ignoring whatever location t happens to carry, and returns it in UTC.
// With the default assumed zone the wall clock is tagged UTC without shifting.
func (n Normalizer) NormalizeFloating(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), n.Assumed()).UTC()
}

// Parse reads a provider timestamp. Values with an explicit offset or a
// trailing Z keep their instant; floating values go through NormalizeFloating.
func (n Normalizer) Parse(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("20060102T150405Z", v); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range floatingLayouts {
		if t, err := time.ParseInLocation(layout, v, n.Assumed()); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp %q", value)
}

// NormalizeAppointment returns a copy of a with Start and End in UTC.
func (n Normalizer) NormalizeAppointment(a models.Appointment) models.Appointment {
	out := a.Clone()
	out.Start = n.Normalize(a.Start)
	out.End = n.Normalize(a.End)
	return out
}

// Validate checks that the appointment's end is strictly after its start.
func Validate(a models.Appointment) error {
	if !a.End.After(a.Start) {
		return &InvalidIntervalError{SourceID: a.SourceID, Start: a.Start, End: a.End}
	}
	return nil
}
