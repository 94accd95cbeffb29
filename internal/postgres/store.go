// Package postgres implements the archive store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"calarchive/internal/models"
	"calarchive/internal/store"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS archived_appointments (
	instance_key   TEXT PRIMARY KEY,
	source_id      TEXT NOT NULL,
	owner          TEXT NOT NULL,
	subject        TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	start_at       TIMESTAMPTZ NOT NULL,
	end_at         TIMESTAMPTZ NOT NULL,
	attendees      TEXT[] NOT NULL DEFAULT '{}',
	show_as        TEXT NOT NULL,
	importance     TEXT NOT NULL,
	sensitivity    TEXT NOT NULL,
	archived       BOOLEAN NOT NULL DEFAULT TRUE,
	conflict       JSONB,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CHECK (end_at > start_at),
	UNIQUE (owner, start_at, end_at, subject)
)`

const selectColumns = `instance_key, source_id, owner, subject, description, start_at, end_at,
	attendees, show_as, importance, sensitivity, archived, conflict`

// Store is a store.Store on a PostgreSQL table.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to PostgreSQL with the given DSN and ensures the schema exists.
func Open(ctx context.Context, logger *slog.Logger, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	s := New(db, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Migrate creates the archive table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create archive table: %w", err)
	}
	s.logger.Debug("Archive schema ready")
	return nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Add(ctx context.Context, a models.Appointment) error {
	conflict, err := encodeConflict(a.Conflict)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO archived_appointments
			(instance_key, source_id, owner, subject, description, start_at, end_at,
			 attendees, show_as, importance, sensitivity, archived, conflict)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.db.ExecContext(ctx, query,
		a.InstanceKey(), a.SourceID, a.Owner, a.Subject, a.Description,
		a.Start.UTC(), a.End.UTC(), pq.Array(a.AttendeeEmails()),
		a.ShowAs.String(), a.Importance.String(), a.Sensitivity.String(),
		a.Archived, conflict,
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert appointment: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (models.Appointment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM archived_appointments WHERE instance_key = $1`, key)
	a, err := scanAppointment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Appointment{}, store.ErrNotFound
	}
	return a, err
}

// List returns appointments overlapping [from, to) ordered by start.
func (s *Store) List(ctx context.Context, from, to time.Time) ([]models.Appointment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM archived_appointments
		 WHERE start_at < $2 AND end_at > $1
		 ORDER BY start_at ASC, instance_key ASC`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	defer rows.Close()

	var out []models.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Update replaces an archived row. The ownership check and the write share a
// transaction so a concurrent owner change cannot slip between them.
func (s *Store) Update(ctx context.Context, a models.Appointment, actor string) error {
	conflict, err := encodeConflict(a.Conflict)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stored, err := scanAppointment(tx.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM archived_appointments WHERE instance_key = $1 FOR UPDATE`, a.InstanceKey()))
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	if !store.CanModify(stored, actor) {
		return store.ErrForbidden
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE archived_appointments SET
			source_id = $2, owner = $3, subject = $4, description = $5, start_at = $6, end_at = $7,
			attendees = $8, show_as = $9, importance = $10, sensitivity = $11, archived = $12,
			conflict = $13, updated_at = NOW()
		WHERE instance_key = $1`,
		a.InstanceKey(), a.SourceID, a.Owner, a.Subject, a.Description,
		a.Start.UTC(), a.End.UTC(), pq.Array(a.AttendeeEmails()),
		a.ShowAs.String(), a.Importance.String(), a.Sensitivity.String(),
		a.Archived, conflict,
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	return tx.Commit()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM archived_appointments WHERE instance_key = $1`, key)
	if err != nil {
		return fmt.Errorf("failed to delete appointment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row scanner) (models.Appointment, error) {
	var (
		a                               models.Appointment
		key                             string
		emails                          []string
		showAs, importance, sensitivity string
		conflict                        []byte
	)
	if err := row.Scan(&key, &a.SourceID, &a.Owner, &a.Subject, &a.Description, &a.Start, &a.End,
		pq.Array(&emails), &showAs, &importance, &sensitivity, &a.Archived, &conflict); err != nil {
		return models.Appointment{}, err
	}

	a.Start, a.End = a.Start.UTC(), a.End.UTC()
	a.Attendees = models.NewAttendees(emails...)

	var err error
	if a.ShowAs, err = models.ParseShowAs(showAs); err != nil {
		return a, fmt.Errorf("row %s: %w", key, err)
	}
	if a.Importance, err = models.ParseImportance(importance); err != nil {
		return a, fmt.Errorf("row %s: %w", key, err)
	}
	if a.Sensitivity, err = models.ParseSensitivity(sensitivity); err != nil {
		return a, fmt.Errorf("row %s: %w", key, err)
	}
	if len(conflict) > 0 {
		a.Conflict = &models.ConflictTag{}
		if err := json.Unmarshal(conflict, a.Conflict); err != nil {
			return a, fmt.Errorf("row %s: invalid conflict tag: %w", key, err)
		}
	}
	return a, nil
}

func encodeConflict(tag *models.ConflictTag) (any, error) {
	if tag == nil {
		return nil, nil
	}
	b, err := json.Marshal(tag)
	if err != nil {
		return nil, fmt.Errorf("failed to encode conflict tag: %w", err)
	}
	return string(b), nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}
