package reconcile

import (
	"encoding/json"
	"fmt"

	"calarchive/internal/models"
)

// Action is the archival decision for one appointment.
type Action int

const (
	// ActionArchive archives an appointment that belongs to no overlap cluster.
	ActionArchive Action = iota
	// ActionConflict archives the canonical member of a cluster with a conflict tag.
	ActionConflict
	// ActionSuperseded archives a non-canonical cluster member with a conflict
	// tag pointing at the appointment that outranks it.
	ActionSuperseded
)

func (a Action) String() string {
	switch a {
	case ActionArchive:
		return "archive"
	case ActionConflict:
		return "conflict"
	case ActionSuperseded:
		return "superseded"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// Decision pairs a tagged copy of an appointment with its archival action.
type Decision struct {
	Appointment  models.Appointment `json:"appointment"`
	Action       Action             `json:"action"`
	CanonicalKey string             `json:"canonical_key,omitempty"`
}

// Resolve tags every appointment according to the overlap groups detected on
// that same slice. Overlaps are kept: every appointment gets a decision, and
// cluster members carry a reference to their cluster's canonical appointment.
// Any conflict tag already present on an input is replaced, so feeding
// resolved output back in yields the same decisions. Groups without metadata
// are classified locally; groups itself is not modified.
func Resolve(appts []models.Appointment, groups []OverlapGroup) []Decision {
	type membership struct {
		meta     *GroupMetadata
		size     int
		position int
	}
	member := make(map[int]membership, len(appts))
	for _, g := range groups {
		meta := g.Metadata
		if meta == nil {
			meta = classify(g)
		}
		for pos, idx := range g.Indexes {
			member[idx] = membership{meta: meta, size: len(g.Appointments), position: pos}
		}
	}

	decisions := make([]Decision, len(appts))
	for i, a := range appts {
		out := a.Clone()
		out.Conflict = nil

		m, ok := member[i]
		if !ok {
			decisions[i] = Decision{Appointment: out, Action: ActionArchive}
			continue
		}

		meta := m.meta
		canonical := !meta.Conflicting[m.position]
		out.Conflict = &models.ConflictTag{
			Canonical:    canonical,
			CanonicalKey: meta.CanonicalKey,
			GroupSize:    m.size,
		}
		action := ActionSuperseded
		if canonical {
			action = ActionConflict
		}
		decisions[i] = Decision{Appointment: out, Action: action, CanonicalKey: meta.CanonicalKey}
	}
	return decisions
}

// ResolveAppointments detects overlaps on appts and resolves them in one step.
func ResolveAppointments(appts []models.Appointment) ([]Decision, []OverlapGroup) {
	groups := DetectOverlapsWithMetadata(appts)
	return Resolve(appts, groups), groups
}
