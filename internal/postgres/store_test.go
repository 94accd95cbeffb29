package postgres

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calarchive/internal/models"
)

// fakeRow feeds fixed column values to scanAppointment.
type fakeRow []any

func (r fakeRow) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return fmt.Errorf("expected %d columns, got %d", len(r), len(dest))
	}
	for i, d := range dest {
		switch d := d.(type) {
		case *string:
			*d = r[i].(string)
		case *time.Time:
			*d = r[i].(time.Time)
		case *bool:
			*d = r[i].(bool)
		case *[]byte:
			if r[i] != nil {
				*d = r[i].([]byte)
			}
		case sql.Scanner:
			if err := d.Scan(r[i]); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported destination %T", d)
		}
	}
	return nil
}

func TestScanAppointment(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	row := fakeRow{
		"evt-1/2024-01-02T08:00:00Z", "evt-1", "alice@x.com", "Standup", "notes",
		time.Date(2024, 1, 2, 9, 0, 0, 0, berlin), time.Date(2024, 1, 2, 9, 15, 0, 0, berlin),
		[]byte(`{"ALICE@x.com","bob@x.com"}`), "tentative", "high", "private", true,
		[]byte(`{"canonical":true,"canonical_key":"evt-1/2024-01-02T08:00:00Z","group_size":2}`),
	}

	a, err := scanAppointment(row)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", a.SourceID)
	assert.Equal(t, time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC), a.Start)
	assert.Equal(t, []models.AttendeeRef{{Email: "alice@x.com"}, {Email: "bob@x.com"}}, a.Attendees)
	assert.Equal(t, models.ShowAsTentative, a.ShowAs)
	assert.Equal(t, models.ImportanceHigh, a.Importance)
	assert.Equal(t, models.SensitivityPrivate, a.Sensitivity)
	require.NotNil(t, a.Conflict)
	assert.True(t, a.Conflict.Canonical)
	assert.Equal(t, 2, a.Conflict.GroupSize)
	assert.Equal(t, a.InstanceKey(), a.Conflict.CanonicalKey)
}

func TestScanAppointmentWithoutConflict(t *testing.T) {
	row := fakeRow{
		"k", "evt-2", "alice@x.com", "Lunch", "",
		time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC), time.Date(2024, 1, 2, 13, 0, 0, 0, time.UTC),
		[]byte(`{}`), "free", "normal", "normal", true, nil,
	}
	a, err := scanAppointment(row)
	require.NoError(t, err)
	assert.Nil(t, a.Conflict)
	assert.Empty(t, a.Attendees)
}

func TestScanAppointmentBadEnum(t *testing.T) {
	row := fakeRow{
		"k", "evt-3", "alice@x.com", "Lunch", "",
		time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC), time.Date(2024, 1, 2, 13, 0, 0, 0, time.UTC),
		[]byte(`{}`), "sleeping", "normal", "normal", true, nil,
	}
	_, err := scanAppointment(row)
	assert.ErrorContains(t, err, "row k")
}

func TestEncodeConflict(t *testing.T) {
	v, err := encodeConflict(nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = encodeConflict(&models.ConflictTag{CanonicalKey: "x", GroupSize: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"canonical":false,"canonical_key":"x","group_size":2}`, v.(string))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(sql.ErrNoRows))
	assert.False(t, isUniqueViolation(nil))
}
