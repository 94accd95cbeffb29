package reconcile

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"calarchive/internal/models"
)

const day = 24 * time.Hour

// ExpandResult wraps the expanded appointments together with the per-template
// failures that were skipped.
type ExpandResult struct {
	Appointments []models.Appointment
	// Errors holds one *RecurrenceRuleError per template that could not be expanded.
	Errors []error
}

// OccursOnDate reports whether the template's recurrence rule, anchored at the
// template's UTC start, yields an occurrence within the UTC calendar day of d.
func OccursOnDate(template models.Appointment, d time.Time) (bool, error) {
	set, err := ruleSet(template)
	if err != nil {
		return false, err
	}
	return occursOn(set, dateOf(d)), nil
}

// ExpandRange materializes recurring templates into one instance per matching
// day in the inclusive range [startDate, endDate]. Non-recurring appointments
// starting within the range pass through unchanged; those outside it are
// dropped. A template whose rule cannot be evaluated is skipped and reported
// in ExpandResult.Errors.
func ExpandRange(appts []models.Appointment, startDate, endDate time.Time) (ExpandResult, error) {
	var result ExpandResult

	first := dateOf(startDate)
	last := dateOf(endDate)
	if last.Before(first) {
		return result, ErrInvalidRange
	}

	result.Appointments = make([]models.Appointment, 0, len(appts))
	for _, a := range appts {
		if !a.IsRecurring() {
			d := dateOf(a.Start)
			if !d.Before(first) && !d.After(last) {
				result.Appointments = append(result.Appointments, a.Clone())
			}
			continue
		}

		set, err := ruleSet(a)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		for d := first; !d.After(last); d = d.Add(day) {
			if occursOn(set, d) {
				result.Appointments = append(result.Appointments, instanceOn(a, d))
			}
		}
	}
	return result, nil
}

// instanceOn builds the concrete instance of template on the given UTC date,
// keeping the template's time of day and duration.
func instanceOn(template models.Appointment, d time.Time) models.Appointment {
	start := template.Start.UTC()
	inst := template.Clone()
	inst.Start = time.Date(d.Year(), d.Month(), d.Day(),
		start.Hour(), start.Minute(), start.Second(), start.Nanosecond(), time.UTC)
	inst.End = inst.Start.Add(template.Duration())
	inst.Recurrence = ""
	return inst
}

func occursOn(set *rrule.Set, d time.Time) bool {
	return len(set.Between(d, d.Add(day-time.Nanosecond), true)) > 0
}

// dateOf truncates t to midnight UTC of its calendar date in its own location.
func dateOf(t time.Time) time.Time {
	y, m, dd := t.Date()
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}

// ruleSet parses the template's recurrence lines. Accepted lines are RRULE,
// EXDATE and RDATE, with or without the property name; a bare "FREQ=..." line
// is read as an RRULE.
func ruleSet(template models.Appointment) (*rrule.Set, error) {
	fail := func(err error) (*rrule.Set, error) {
		return nil, &RecurrenceRuleError{
			SourceID: template.SourceID,
			Start:    template.Start,
			Rule:     template.Recurrence,
			Err:      err,
		}
	}

	dtstart := template.Start.UTC()
	set := &rrule.Set{}
	rules := 0

	for _, line := range splitRuleLines(template.Recurrence) {
		name, params, value := splitRuleLine(line)
		switch name {
		case "RRULE":
			opt, err := rrule.StrToROption(value)
			if err != nil {
				return fail(err)
			}
			opt.Dtstart = dtstart
			r, err := rrule.NewRRule(*opt)
			if err != nil {
				return fail(err)
			}
			if rules > 0 {
				return fail(errors.New("multiple RRULE lines are not supported"))
			}
			set.RRule(r)
			rules++
		case "EXDATE", "RDATE":
			loc := time.UTC
			if tzid, ok := params["TZID"]; ok {
				l, err := time.LoadLocation(tzid)
				if err != nil {
					return fail(fmt.Errorf("unknown TZID %q: %w", tzid, err))
				}
				loc = l
			}
			dates, err := rrule.StrToDatesInLoc(value, loc)
			if err != nil {
				return fail(err)
			}
			for _, t := range dates {
				if name == "EXDATE" {
					set.ExDate(t.UTC())
				} else {
					set.RDate(t.UTC())
				}
			}
		default:
			return fail(fmt.Errorf("unsupported recurrence property %q", name))
		}
	}

	if rules == 0 {
		return fail(errors.New("no RRULE found"))
	}
	return set, nil
}

func splitRuleLines(s string) []string {
	var out []string
	for _, line := range strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' }) {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// splitRuleLine separates "NAME;PARAM=V:VALUE" into its parts.
func splitRuleLine(line string) (name string, params map[string]string, value string) {
	params = map[string]string{}
	head, value, found := strings.Cut(line, ":")
	if !found || strings.Contains(head, "=") && !strings.Contains(head, ";") {
		return "RRULE", params, line
	}
	parts := strings.Split(head, ";")
	name = strings.ToUpper(strings.TrimSpace(parts[0]))
	if strings.Contains(name, "=") {
		// "FREQ=DAILY;UNTIL=..." style line where a colon appeared inside a value.
		return "RRULE", params, line
	}
	for _, p := range parts[1:] {
		if k, v, ok := strings.Cut(p, "="); ok {
			params[strings.ToUpper(k)] = v
		}
	}
	return name, params, value
}
