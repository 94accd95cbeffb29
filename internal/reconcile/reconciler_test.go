package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calarchive/internal/models"
)

func TestReconcilerRun(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	standup := recurring("RRULE:FREQ=DAILY")
	standup.ShowAs = models.ShowAsBusy

	// Provider copy of the 2024-01-02 standup in a different zone.
	dup := standup
	dup.SourceID = "series-1-copy"
	dup.Recurrence = ""
	dup.Start = time.Date(2024, 1, 2, 4, 0, 0, 0, ny)
	dup.End = time.Date(2024, 1, 2, 4, 15, 0, 0, ny)
	dup.Attendees = models.NewAttendees("ALICE@x.com")
	dup.Description = "agenda in doc"

	overlapping := appt("focus", "Focus time", "2024-01-03T09:00:00Z", "2024-01-03T11:00:00Z")
	overlapping.ShowAs = models.ShowAsFree

	broken := appt("broken", "Broken", "2024-01-02T10:00:00Z", "2024-01-02T09:00:00Z")
	badRule := recurring("RRULE:FREQ=NEVER")
	badRule.SourceID = "bad-rule"

	r := NewReconciler(nil)
	res, err := r.Run([]models.Appointment{standup, dup, overlapping, broken, badRule},
		at("2024-01-01T00:00:00Z"), at("2024-01-03T00:00:00Z"))
	require.NoError(t, err)

	require.Len(t, res.Rejected, 2)
	var ierr *InvalidIntervalError
	assert.True(t, errors.As(res.Rejected[0], &ierr))
	assert.Equal(t, "broken", ierr.SourceID)
	var rerr *RecurrenceRuleError
	assert.True(t, errors.As(res.Rejected[1], &rerr))
	assert.Equal(t, "bad-rule", rerr.SourceID)

	// Three standups (the duplicate folded into day two) plus focus time.
	archive := res.Archive()
	require.Len(t, archive, 4)
	for _, a := range archive {
		assert.False(t, a.IsRecurring())
		assert.Equal(t, time.UTC, a.Start.Location())
	}
	assert.Equal(t, "agenda in doc", archive[1].Description)

	require.Len(t, res.Conflicts, 1)
	flagged := res.Flagged()
	require.Len(t, flagged, 2)
	assert.Equal(t, ActionConflict, flagged[0].Action)
	assert.Equal(t, "Standup", flagged[0].Appointment.Subject)
	assert.Equal(t, ActionSuperseded, flagged[1].Action)
	assert.Equal(t, "focus", flagged[1].Appointment.SourceID)
}

func TestReconcilerAssumedLocationOption(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	r := NewReconciler(nil, WithAssumedLocation(berlin), WithDivider("|"))

	assert.Equal(t, berlin, r.Normalizer().Assumed())
	assert.Equal(t, "|", r.dedup.Divider)
}

func TestReconcilerInvalidRange(t *testing.T) {
	_, err := NewReconciler(nil).Run(nil, at("2024-01-02T00:00:00Z"), at("2024-01-01T00:00:00Z"))
	assert.ErrorIs(t, err, ErrInvalidRange)
}
