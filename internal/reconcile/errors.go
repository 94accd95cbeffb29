package reconcile

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRange is returned when an expansion range ends before it starts.
var ErrInvalidRange = errors.New("range end is before range start")

// RecurrenceRuleError reports a recurrence rule that cannot be parsed or evaluated.
type RecurrenceRuleError struct {
	SourceID string
	Start    time.Time
	Rule     string
	Err      error
}

func (e *RecurrenceRuleError) Error() string {
	return fmt.Sprintf("invalid recurrence rule %q for appointment %s at %s: %v",
		e.Rule, e.SourceID, e.Start.UTC().Format(time.RFC3339), e.Err)
}

func (e *RecurrenceRuleError) Unwrap() error { return e.Err }

// InvalidIntervalError reports an appointment whose end is not strictly after its start.
type InvalidIntervalError struct {
	SourceID string
	Start    time.Time
	End      time.Time
}

func (e *InvalidIntervalError) Error() string {
	return fmt.Sprintf("appointment %s has invalid interval: end %s is not after start %s",
		e.SourceID, e.End.UTC().Format(time.RFC3339), e.Start.UTC().Format(time.RFC3339))
}
