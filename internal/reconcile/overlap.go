package reconcile

import (
	"sort"

	"calarchive/internal/models"
)

// OverlapGroup is a cluster of at least two appointments linked by the
// detector's chaining rule.
type OverlapGroup struct {
	Appointments []models.Appointment `json:"appointments"`
	// Indexes holds each member's position in the slice passed to the detector.
	Indexes []int `json:"-"`
	// Metadata is nil for groups returned by DetectOverlaps.
	Metadata *GroupMetadata `json:"metadata,omitempty"`
}

// GroupMetadata carries the priority classification of one OverlapGroup.
type GroupMetadata struct {
	CanonicalKey   string `json:"canonical_key"`
	CanonicalIndex int    `json:"canonical_index"` // position within Appointments
	// Conflicting is parallel to Appointments; every member except the canonical one is true.
	Conflicting []bool `json:"conflicting"`
	// Ranking lists positions within Appointments, highest priority first.
	Ranking []int `json:"ranking"`
}

// Canonical returns the group's canonical appointment. It panics on a group
// without metadata.
func (g OverlapGroup) Canonical() models.Appointment {
	return g.Appointments[g.Metadata.CanonicalIndex]
}

// DetectOverlaps sorts appointments by start (stable) and sweeps them into
// clusters. Each appointment is compared with the end of the most recently
// added cluster member, not with the largest end seen in the cluster, so a
// chain of intervals can hold a pair that does not overlap directly.
// Clusters with fewer than two members are discarded.
func DetectOverlaps(appts []models.Appointment) []OverlapGroup {
	if len(appts) < 2 {
		return nil
	}

	order := make([]int, len(appts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return appts[order[i]].Start.Before(appts[order[j]].Start)
	})

	var groups []OverlapGroup
	current := []int{order[0]}

	flush := func() {
		if len(current) < 2 {
			return
		}
		g := OverlapGroup{
			Appointments: make([]models.Appointment, len(current)),
			Indexes:      append([]int(nil), current...),
		}
		for k, idx := range current {
			g.Appointments[k] = appts[idx].Clone()
		}
		groups = append(groups, g)
	}

	for _, idx := range order[1:] {
		last := appts[current[len(current)-1]]
		if appts[idx].Start.Before(last.End) {
			current = append(current, idx)
			continue
		}
		flush()
		current = []int{idx}
	}
	flush()

	return groups
}

// DetectOverlapsWithMetadata is DetectOverlaps plus a priority classification
// of every cluster.
func DetectOverlapsWithMetadata(appts []models.Appointment) []OverlapGroup {
	groups := DetectOverlaps(appts)
	for i := range groups {
		groups[i].Metadata = classify(groups[i])
	}
	return groups
}

// classify ranks members by show-as, then importance, then input position.
func classify(g OverlapGroup) *GroupMetadata {
	ranking := make([]int, len(g.Appointments))
	for i := range ranking {
		ranking[i] = i
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		a, b := g.Appointments[ranking[i]], g.Appointments[ranking[j]]
		if ra, rb := showAsRank(a.ShowAs), showAsRank(b.ShowAs); ra != rb {
			return ra > rb
		}
		if ra, rb := importanceRank(a.Importance), importanceRank(b.Importance); ra != rb {
			return ra > rb
		}
		return g.Indexes[ranking[i]] < g.Indexes[ranking[j]]
	})

	canonical := ranking[0]
	conflicting := make([]bool, len(g.Appointments))
	for i := range conflicting {
		conflicting[i] = i != canonical
	}

	return &GroupMetadata{
		CanonicalKey:   g.Appointments[canonical].InstanceKey(),
		CanonicalIndex: canonical,
		Conflicting:    conflicting,
		Ranking:        ranking,
	}
}

func showAsRank(s models.ShowAs) int {
	switch s {
	case models.ShowAsBusy, models.ShowAsOutOfOffice:
		return 3
	case models.ShowAsTentative, models.ShowAsWorkingElsewhere:
		return 2
	case models.ShowAsFree:
		return 1
	}
	return 0
}

func importanceRank(i models.Importance) int {
	switch i {
	case models.ImportanceHigh:
		return 3
	case models.ImportanceNormal:
		return 2
	case models.ImportanceLow:
		return 1
	}
	return 0
}
