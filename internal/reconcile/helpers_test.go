package reconcile

import (
	"time"

	"calarchive/internal/models"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func appt(id, subject, start, end string, emails ...string) models.Appointment {
	return models.Appointment{
		SourceID:  id,
		Subject:   subject,
		Start:     at(start),
		End:       at(end),
		Attendees: models.NewAttendees(emails...),
	}
}

func subjects(appts []models.Appointment) []string {
	out := make([]string, len(appts))
	for i, a := range appts {
		out[i] = a.Subject
	}
	return out
}
