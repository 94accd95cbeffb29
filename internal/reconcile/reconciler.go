package reconcile

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"calarchive/internal/models"
)

// Result is the outcome of one reconciliation run.
type Result struct {
	// Decisions holds one entry per archive-ready appointment, in dedup order.
	Decisions []Decision `json:"decisions"`
	// Conflicts holds the overlap clusters with their priority metadata.
	Conflicts []OverlapGroup `json:"conflicts"`
	// Rejected holds one error per input record that was skipped.
	Rejected []error `json:"-"`
}

// Archive returns the tagged appointments ready for the archive store.
func (r Result) Archive() []models.Appointment {
	out := make([]models.Appointment, len(r.Decisions))
	for i, d := range r.Decisions {
		out[i] = d.Appointment
	}
	return out
}

// Flagged returns the decisions that carry a conflict tag.
func (r Result) Flagged() []Decision {
	var out []Decision
	for _, d := range r.Decisions {
		if d.Action != ActionArchive {
			out = append(out, d)
		}
	}
	return out
}

// Reconciler chains normalization, recurrence expansion, deduplication,
// overlap detection and resolution for one run.
type Reconciler struct {
	logger     *slog.Logger
	normalizer Normalizer
	dedup      Deduplicator
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithAssumedLocation sets the zone used for floating timestamps.
func WithAssumedLocation(loc *time.Location) Option {
	return func(r *Reconciler) { r.normalizer = NewNormalizer(loc) }
}

// WithDivider sets the separator for merged descriptions.
func WithDivider(divider string) Option {
	return func(r *Reconciler) { r.dedup.Divider = divider }
}

// NewReconciler creates a new Reconciler.
func NewReconciler(logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Reconciler{
		logger:     logger,
		normalizer: NewNormalizer(time.UTC),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Normalizer returns the normalizer the reconciler uses.
func (r *Reconciler) Normalizer() Normalizer {
	return r.normalizer
}

// Run reconciles appts for the inclusive date range [from, to]. Records with
// an invalid interval or an unreadable recurrence rule are skipped and listed
// in Result.Rejected; the rest of the batch is processed normally. The only
// returned error is ErrInvalidRange.
func (r *Reconciler) Run(appts []models.Appointment, from, to time.Time) (Result, error) {
	var result Result

	valid := make([]models.Appointment, 0, len(appts))
	for _, a := range appts {
		n := r.normalizer.NormalizeAppointment(a)
		if err := Validate(n); err != nil {
			r.logger.Warn("Rejecting appointment with invalid interval", "sourceID", a.SourceID, "start", n.Start, "error", err)
			result.Rejected = append(result.Rejected, err)
			continue
		}
		valid = append(valid, n)
	}

	expanded, err := ExpandRange(valid, from, to)
	if err != nil {
		return result, fmt.Errorf("failed to expand recurrences: %w", err)
	}
	for _, e := range expanded.Errors {
		var rerr *RecurrenceRuleError
		if errors.As(e, &rerr) {
			r.logger.Warn("Skipping recurring appointment with bad rule", "sourceID", rerr.SourceID, "rule", rerr.Rule, "error", rerr.Err)
		}
		result.Rejected = append(result.Rejected, e)
	}

	merged := r.dedup.Merge(expanded.Appointments)
	decisions, groups := ResolveAppointments(merged)
	result.Decisions = decisions
	result.Conflicts = groups

	r.logger.Info("Reconciliation finished.",
		"input", len(appts),
		"expanded", len(expanded.Appointments),
		"merged", len(merged),
		"conflictGroups", len(groups),
		"rejected", len(result.Rejected),
	)
	return result, nil
}
