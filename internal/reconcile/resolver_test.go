package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calarchive/internal/models"
)

func conflictSet() []models.Appointment {
	a := appt("A", "Design review", "2024-01-01T09:00:00Z", "2024-01-01T10:00:00Z")
	a.ShowAs = models.ShowAsFree
	b := appt("B", "Customer call", "2024-01-01T09:30:00Z", "2024-01-01T10:30:00Z")
	b.ShowAs = models.ShowAsBusy
	c := appt("C", "Lunch", "2024-01-01T12:00:00Z", "2024-01-01T13:00:00Z")
	return []models.Appointment{a, b, c}
}

func TestResolveTagsClusterMembers(t *testing.T) {
	in := conflictSet()
	decisions, groups := ResolveAppointments(in)
	require.Len(t, groups, 1)
	require.Len(t, decisions, 3)

	canonicalKey := in[1].InstanceKey()

	assert.Equal(t, ActionSuperseded, decisions[0].Action)
	assert.Equal(t, canonicalKey, decisions[0].CanonicalKey)
	require.NotNil(t, decisions[0].Appointment.Conflict)
	assert.False(t, decisions[0].Appointment.Conflict.Canonical)
	assert.Equal(t, 2, decisions[0].Appointment.Conflict.GroupSize)

	assert.Equal(t, ActionConflict, decisions[1].Action)
	require.NotNil(t, decisions[1].Appointment.Conflict)
	assert.True(t, decisions[1].Appointment.Conflict.Canonical)
	assert.Equal(t, canonicalKey, decisions[1].Appointment.Conflict.CanonicalKey)

	assert.Equal(t, ActionArchive, decisions[2].Action)
	assert.Nil(t, decisions[2].Appointment.Conflict)
	assert.Empty(t, decisions[2].CanonicalKey)
}

func TestResolveKeepsEveryAppointment(t *testing.T) {
	in := conflictSet()
	decisions, _ := ResolveAppointments(in)
	for i, d := range decisions {
		assert.Equal(t, in[i].SourceID, d.Appointment.SourceID)
	}
}

func TestResolveIdempotent(t *testing.T) {
	first, _ := ResolveAppointments(conflictSet())

	refed := make([]models.Appointment, len(first))
	for i, d := range first {
		refed[i] = d.Appointment
	}
	second, _ := ResolveAppointments(refed)
	assert.Equal(t, first, second)
}

func TestResolveClearsStaleTags(t *testing.T) {
	in := conflictSet()
	in[2].Conflict = &models.ConflictTag{CanonicalKey: "gone/2024-01-01T00:00:00Z", GroupSize: 2}

	decisions, _ := ResolveAppointments(in)
	assert.Nil(t, decisions[2].Appointment.Conflict)
	assert.NotNil(t, in[2].Conflict, "input must not be modified")
}

func TestResolveWithoutMetadata(t *testing.T) {
	in := conflictSet()
	decisions := Resolve(in, DetectOverlaps(in))
	assert.Equal(t, ActionConflict, decisions[1].Action)
	assert.Equal(t, ActionSuperseded, decisions[0].Action)
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "archive", ActionArchive.String())
	assert.Equal(t, "conflict", ActionConflict.String())
	assert.Equal(t, "superseded", ActionSuperseded.String())
}

func TestResolveLeavesGroupsUntouched(t *testing.T) {
	in := conflictSet()
	groups := DetectOverlaps(in)
	require.NotEmpty(t, groups)

	Resolve(in, groups)
	for _, g := range groups {
		assert.Nil(t, g.Metadata)
	}
}
