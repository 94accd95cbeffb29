// Package store defines the archive persistence contract shared by the
// provider-backed and relational archive backends.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"calarchive/internal/models"
)

var (
	// ErrNotFound is returned when no archived appointment has the given key.
	ErrNotFound = errors.New("appointment not found")
	// ErrAlreadyExists is returned when an appointment with the same
	// (owner, start, end, subject) is already archived.
	ErrAlreadyExists = errors.New("appointment already archived")
	// ErrForbidden is returned when a non-owner tries to change an archived appointment.
	ErrForbidden = errors.New("archived appointment can only be changed by its owner")
)

// Store persists archived appointments. Keys are models.Appointment.InstanceKey values.
type Store interface {
	Add(ctx context.Context, a models.Appointment) error
	Get(ctx context.Context, key string) (models.Appointment, error)
	List(ctx context.Context, from, to time.Time) ([]models.Appointment, error)
	Update(ctx context.Context, a models.Appointment, actor string) error
	Delete(ctx context.Context, key string) error
}

// UniqueKey is the identity the archive rejects duplicates on.
func UniqueKey(a models.Appointment) string {
	return strings.ToLower(a.Owner) + "|" +
		a.Start.UTC().Format(time.RFC3339Nano) + "|" +
		a.End.UTC().Format(time.RFC3339Nano) + "|" +
		a.Subject
}

// CanModify reports whether actor may replace the stored appointment.
func CanModify(stored models.Appointment, actor string) bool {
	return !stored.Archived || strings.EqualFold(stored.Owner, actor)
}
