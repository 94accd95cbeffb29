package archiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"calarchive/internal/models"
	"calarchive/internal/reconcile"
	"calarchive/internal/store"
)

// DefaultStateFile is used when Options.StateFile is empty.
const DefaultStateFile = "archive-state.json"

var fingerprintNamespace = uuid.MustParse("b3d5c7a1-2f4e-4b8a-9c6d-0e1f2a3b4c5d")

// Provider returns the appointments of one calendar touching [from, to).
type Provider interface {
	FetchAppointments(ctx context.Context, calendarID string, from, to time.Time) ([]models.Appointment, error)
}

// State keeps track of which appointment instances have been archived.
// The key is the instance key, and the value is a fingerprint of the archived content.
type State map[string]string

// Options configures an Archiver.
type Options struct {
	CalendarIDs  []string
	HorizonDays  int
	LookbackDays int
	StateFile    string
	DryRun       bool
	// Strict aborts the run on the first rejected record or store failure.
	Strict bool
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Report summarizes one archive run.
type Report struct {
	RunID     string
	From, To  time.Time
	Fetched   int
	Added     int
	Updated   int
	Unchanged int
	Conflicts int
	Rejected  []error
	Failed    []error
	// Duplicates holds one *DuplicateIdentityError per appointment skipped
	// because another instance already holds its archive identity.
	Duplicates []error
}

// DuplicateIdentityError reports an appointment whose (owner, start, end,
// subject) identity is already archived under a different instance key.
type DuplicateIdentityError struct {
	Key      string
	Identity string
}

func (e *DuplicateIdentityError) Error() string {
	return fmt.Sprintf("appointment %s duplicates archived identity %q", e.Key, e.Identity)
}

func (e *DuplicateIdentityError) Unwrap() error { return store.ErrAlreadyExists }

// Archiver orchestrates fetch, reconciliation and persistence.
type Archiver struct {
	logger     *slog.Logger
	providers  []Provider
	store      store.Store
	reconciler *reconcile.Reconciler
	opts       Options
	state      State
}

// New creates a new Archiver and loads its state file.
func New(logger *slog.Logger, providers []Provider, st store.Store, rec *reconcile.Reconciler, opts Options) (*Archiver, error) {
	if opts.StateFile == "" {
		opts.StateFile = DefaultStateFile
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	state, err := loadState(opts.StateFile)
	if err != nil {
		// If the file doesn't exist, we can start with an empty state.
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("No archive state file found, starting fresh.", "file", opts.StateFile)
			state = make(State)
		} else {
			return nil, fmt.Errorf("failed to load archive state: %w", err)
		}
	}

	return &Archiver{
		logger:     logger,
		providers:  providers,
		store:      st,
		reconciler: rec,
		opts:       opts,
		state:      state,
	}, nil
}

// Window returns the inclusive date range of the next run.
func (a *Archiver) Window() (from, to time.Time) {
	now := a.opts.Now().In(a.reconciler.Normalizer().Assumed())
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return today.AddDate(0, 0, -a.opts.LookbackDays), today.AddDate(0, 0, a.opts.HorizonDays)
}

// Run performs one archive cycle.
func (a *Archiver) Run(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString()}
	report.From, report.To = a.Window()
	logger := a.logger.With("run", report.RunID)
	logger.Info("Starting archive cycle.", "from", report.From.Format(time.DateOnly), "to", report.To.Format(time.DateOnly))

	appts := a.fetchAll(ctx, logger, report.From, report.To.AddDate(0, 0, 1))
	report.Fetched = len(appts)
	logger.Info("Fetched all provider appointments.", "count", len(appts))

	result, err := a.reconciler.Run(appts, report.From, report.To)
	if err != nil {
		return report, fmt.Errorf("failed to reconcile: %w", err)
	}
	report.Rejected = result.Rejected
	report.Conflicts = len(result.Conflicts)
	if a.opts.Strict && len(result.Rejected) > 0 {
		return report, fmt.Errorf("strict mode: %d records rejected: %w", len(result.Rejected), errors.Join(result.Rejected...))
	}

	for _, d := range result.Decisions {
		if err := a.archive(ctx, logger, d, &report); err != nil {
			logger.Error("Failed to archive appointment", "subject", d.Appointment.Subject, "key", d.Appointment.InstanceKey(), "error", err)
			report.Failed = append(report.Failed, err)
			if a.opts.Strict {
				return report, err
			}
		}
	}

	if !a.opts.DryRun {
		if err := a.saveState(); err != nil {
			logger.Error("Failed to save archive state", "error", err)
		}
	}

	logger.Info("Archive cycle finished.",
		"added", report.Added,
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"conflicts", report.Conflicts,
		"rejected", len(report.Rejected),
		"failed", len(report.Failed),
		"duplicates", len(report.Duplicates),
	)
	return report, nil
}

// fetchAll retrieves appointments from every provider and calendar. A
// calendar that cannot be read is logged and skipped.
func (a *Archiver) fetchAll(ctx context.Context, logger *slog.Logger, from, to time.Time) []models.Appointment {
	var all []models.Appointment
	for _, p := range a.providers {
		for _, calID := range a.opts.CalendarIDs {
			appts, err := p.FetchAppointments(ctx, calID, from, to)
			if err != nil {
				logger.Error("Could not fetch appointments for a calendar", "calendarID", calID, "error", err)
				continue
			}
			all = append(all, appts...)
		}
	}
	return all
}

// archive writes one decision, adding it or replacing the archived copy.
func (a *Archiver) archive(ctx context.Context, logger *slog.Logger, d reconcile.Decision, report *Report) error {
	appt := d.Appointment
	appt.Archived = true
	key := appt.InstanceKey()

	fp, err := fingerprint(appt)
	if err != nil {
		return err
	}
	if a.state[key] == fp {
		logger.Debug("Appointment already archived, skipping.", "subject", appt.Subject, "key", key)
		report.Unchanged++
		return nil
	}

	if a.opts.DryRun {
		logger.Info("[DRY RUN] Would archive appointment", "subject", appt.Subject, "start", appt.Start, "action", d.Action)
		return nil
	}

	err = a.store.Add(ctx, appt)
	switch {
	case err == nil:
		report.Added++
	case errors.Is(err, store.ErrAlreadyExists):
		if _, err := a.store.Get(ctx, key); errors.Is(err, store.ErrNotFound) {
			dup := &DuplicateIdentityError{Key: key, Identity: store.UniqueKey(appt)}
			logger.Warn("Skipping appointment with an already archived identity", "subject", appt.Subject, "key", key)
			report.Duplicates = append(report.Duplicates, dup)
			return nil
		} else if err != nil {
			return fmt.Errorf("failed to look up archived appointment %s: %w", key, err)
		}
		if err := a.store.Update(ctx, appt, appt.Owner); err != nil {
			return fmt.Errorf("failed to update archived appointment %s: %w", key, err)
		}
		report.Updated++
	default:
		return fmt.Errorf("failed to add appointment %s: %w", key, err)
	}

	a.state[key] = fp
	return nil
}

// fingerprint identifies the archived content of an appointment.
func fingerprint(a models.Appointment) (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint appointment: %w", err)
	}
	return uuid.NewSHA1(fingerprintNamespace, data).String(), nil
}

// loadState loads the archive state from the JSON file.
func loadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state == nil {
		state = make(State)
	}
	return state, nil
}

// saveState saves the current archive state to the JSON file.
func (a *Archiver) saveState() error {
	data, err := json.MarshalIndent(a.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal archive state: %w", err)
	}
	return os.WriteFile(a.opts.StateFile, data, 0o644)
}
