package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ShowAs is the free/busy status an appointment displays.
type ShowAs int

const (
	ShowAsBusy ShowAs = iota
	ShowAsFree
	ShowAsTentative
	ShowAsOutOfOffice
	ShowAsWorkingElsewhere
)

var showAsNames = map[ShowAs]string{
	ShowAsBusy:             "busy",
	ShowAsFree:             "free",
	ShowAsTentative:        "tentative",
	ShowAsOutOfOffice:      "out-of-office",
	ShowAsWorkingElsewhere: "working-elsewhere",
}

func (s ShowAs) String() string {
	if n, ok := showAsNames[s]; ok {
		return n
	}
	return fmt.Sprintf("ShowAs(%d)", int(s))
}

// ParseShowAs accepts the canonical names plus the common provider spellings.
func ParseShowAs(v string) (ShowAs, error) {
	switch normalizeEnum(v) {
	case "", "busy", "opaque":
		return ShowAsBusy, nil
	case "free", "transparent":
		return ShowAsFree, nil
	case "tentative":
		return ShowAsTentative, nil
	case "outofoffice", "oof", "away":
		return ShowAsOutOfOffice, nil
	case "workingelsewhere", "workinglocation":
		return ShowAsWorkingElsewhere, nil
	}
	return ShowAsBusy, fmt.Errorf("unknown show-as value %q", v)
}

func (s ShowAs) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *ShowAs) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := ParseShowAs(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Importance is the sender-assigned importance of an appointment.
type Importance int

const (
	ImportanceNormal Importance = iota
	ImportanceLow
	ImportanceHigh
)

func (i Importance) String() string {
	switch i {
	case ImportanceLow:
		return "low"
	case ImportanceNormal:
		return "normal"
	case ImportanceHigh:
		return "high"
	}
	return fmt.Sprintf("Importance(%d)", int(i))
}

func ParseImportance(v string) (Importance, error) {
	switch normalizeEnum(v) {
	case "", "normal", "medium":
		return ImportanceNormal, nil
	case "low":
		return ImportanceLow, nil
	case "high":
		return ImportanceHigh, nil
	}
	return ImportanceNormal, fmt.Errorf("unknown importance value %q", v)
}

func (i Importance) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

func (i *Importance) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := ParseImportance(v)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Sensitivity controls who may see the appointment's details.
type Sensitivity int

const (
	SensitivityNormal Sensitivity = iota
	SensitivityPrivate
	SensitivityConfidential
)

func (s Sensitivity) String() string {
	switch s {
	case SensitivityNormal:
		return "normal"
	case SensitivityPrivate:
		return "private"
	case SensitivityConfidential:
		return "confidential"
	}
	return fmt.Sprintf("Sensitivity(%d)", int(s))
}

func ParseSensitivity(v string) (Sensitivity, error) {
	switch normalizeEnum(v) {
	case "", "normal", "default", "public":
		return SensitivityNormal, nil
	case "private":
		return SensitivityPrivate, nil
	case "confidential":
		return SensitivityConfidential, nil
	}
	return SensitivityNormal, fmt.Errorf("unknown sensitivity value %q", v)
}

func (s Sensitivity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Sensitivity) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := ParseSensitivity(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// normalizeEnum lower-cases and strips separators so "Out-Of-Office",
// "out_of_office" and "outOfOffice" compare equal.
func normalizeEnum(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(v)
}
