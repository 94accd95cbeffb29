package icloud

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"calarchive/internal/models"
)

// Non-standard properties carrying archive metadata.
const (
	propBusyStatus = "X-MICROSOFT-CDO-BUSYSTATUS"
	propSourceID   = "X-CALARCHIVE-SOURCE-ID"
	propOwner      = "X-CALARCHIVE-OWNER"
	propConflict   = "X-CALARCHIVE-CONFLICT"
	propCanonical  = "X-CALARCHIVE-CANONICAL"
	propGroupSize  = "X-CALARCHIVE-GROUP-SIZE"
)

var uidNamespace = uuid.MustParse("6f1b7a52-4e0c-4c1e-9a8e-2d0f5b3c9e71")

// UIDFor derives a stable iCalendar UID from an appointment instance key, so
// re-archiving the same instance addresses the same calendar object.
func UIDFor(instanceKey string) string {
	return uuid.NewSHA1(uidNamespace, []byte(instanceKey)).String()
}

// NewCalendar wraps one archived appointment into a VCALENDAR.
func NewCalendar(a models.Appointment, now time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//calarchive//EN")
	cal.Children = append(cal.Children, ToEvent(a, now))
	return cal
}

// ToEvent converts an appointment into a VEVENT component.
func ToEvent(a models.Appointment, now time.Time) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, UIDFor(a.InstanceKey()))
	ve.Props.SetText(ical.PropSummary, a.Subject)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, a.Start.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, a.End.UTC())
	ve.Props.SetText(propSourceID, a.SourceID)

	if a.Description != "" {
		ve.Props.SetText(ical.PropDescription, a.Description)
	}
	if a.Owner != "" {
		ve.Props.SetText(propOwner, a.Owner)
	}
	for _, attendee := range a.Attendees {
		p := ical.NewProp(ical.PropAttendee)
		p.Value = "mailto:" + attendee.Email
		ve.Props.Add(p)
	}

	transp := "OPAQUE"
	if a.ShowAs == models.ShowAsFree {
		transp = "TRANSPARENT"
	}
	ve.Props.SetText(ical.PropTransparency, transp)
	ve.Props.SetText(propBusyStatus, busyStatus(a.ShowAs))

	priority := ical.NewProp(ical.PropPriority)
	priority.Value = strconv.Itoa(priorityOf(a.Importance))
	ve.Props.Set(priority)

	ve.Props.SetText(ical.PropClass, classOf(a.Sensitivity))

	if a.Conflict != nil {
		state := "superseded"
		if a.Conflict.Canonical {
			state = "canonical"
		}
		ve.Props.SetText(propConflict, state)
		ve.Props.SetText(propCanonical, a.Conflict.CanonicalKey)
		ve.Props.SetText(propGroupSize, strconv.Itoa(a.Conflict.GroupSize))
	}
	return ve
}

// FromEvent reads an archived appointment back from a VEVENT.
func FromEvent(ve *ical.Component) (models.Appointment, error) {
	a := models.Appointment{Archived: true}

	start, err := dateTime(ve, ical.PropDateTimeStart)
	if err != nil {
		return a, err
	}
	end, err := dateTime(ve, ical.PropDateTimeEnd)
	if err != nil {
		return a, err
	}
	a.Start, a.End = start, end

	a.Subject = text(ve, ical.PropSummary)
	a.Description = text(ve, ical.PropDescription)
	a.SourceID = text(ve, propSourceID)
	a.Owner = text(ve, propOwner)

	var emails []string
	for _, p := range ve.Props.Values(ical.PropAttendee) {
		emails = append(emails, p.Value)
	}
	a.Attendees = models.NewAttendees(emails...)

	if status := text(ve, propBusyStatus); status != "" {
		if a.ShowAs, err = models.ParseShowAs(status); err != nil {
			return a, err
		}
	} else if strings.EqualFold(text(ve, ical.PropTransparency), "TRANSPARENT") {
		a.ShowAs = models.ShowAsFree
	}

	if p := ve.Props.Get(ical.PropPriority); p != nil {
		n, err := strconv.Atoi(strings.TrimSpace(p.Value))
		if err != nil {
			return a, fmt.Errorf("invalid PRIORITY %q: %w", p.Value, err)
		}
		a.Importance = importanceOf(n)
	}

	switch strings.ToUpper(text(ve, ical.PropClass)) {
	case "PRIVATE":
		a.Sensitivity = models.SensitivityPrivate
	case "CONFIDENTIAL":
		a.Sensitivity = models.SensitivityConfidential
	}

	if state := text(ve, propConflict); state != "" {
		size, _ := strconv.Atoi(text(ve, propGroupSize))
		a.Conflict = &models.ConflictTag{
			Canonical:    state == "canonical",
			CanonicalKey: text(ve, propCanonical),
			GroupSize:    size,
		}
	}
	return a, nil
}

func dateTime(ve *ical.Component, name string) (time.Time, error) {
	p := ve.Props.Get(name)
	if p == nil {
		return time.Time{}, fmt.Errorf("missing %s", name)
	}
	t, err := p.DateTime(time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", name, err)
	}
	return t.UTC(), nil
}

func text(ve *ical.Component, name string) string {
	p := ve.Props.Get(name)
	if p == nil {
		return ""
	}
	s, err := p.Text()
	if err != nil {
		return p.Value
	}
	return s
}

func busyStatus(s models.ShowAs) string {
	switch s {
	case models.ShowAsFree:
		return "FREE"
	case models.ShowAsTentative:
		return "TENTATIVE"
	case models.ShowAsOutOfOffice:
		return "OOF"
	case models.ShowAsWorkingElsewhere:
		return "WORKINGELSEWHERE"
	}
	return "BUSY"
}

// RFC 5545 PRIORITY: 1-4 high, 5 normal, 6-9 low.
func priorityOf(i models.Importance) int {
	switch i {
	case models.ImportanceHigh:
		return 1
	case models.ImportanceLow:
		return 9
	}
	return 5
}

func importanceOf(priority int) models.Importance {
	switch {
	case priority >= 1 && priority <= 4:
		return models.ImportanceHigh
	case priority >= 6:
		return models.ImportanceLow
	}
	return models.ImportanceNormal
}

func classOf(s models.Sensitivity) string {
	switch s {
	case models.SensitivityPrivate:
		return "PRIVATE"
	case models.SensitivityConfidential:
		return "CONFIDENTIAL"
	}
	return "PUBLIC"
}
