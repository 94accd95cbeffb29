package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calarchive/internal/models"
)

func TestDetectOverlapsExample(t *testing.T) {
	a := appt("A", "A", "2024-01-01T09:00:00Z", "2024-01-01T10:00:00Z")
	b := appt("B", "B", "2024-01-01T09:30:00Z", "2024-01-01T10:30:00Z")
	c := appt("C", "C", "2024-01-01T11:00:00Z", "2024-01-01T12:00:00Z")

	groups := DetectOverlaps([]models.Appointment{c, b, a})
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"A", "B"}, subjects(groups[0].Appointments))
	assert.Equal(t, []int{2, 1}, groups[0].Indexes)
	assert.Nil(t, groups[0].Metadata)
}

func TestDetectOverlapsTouchingIntervals(t *testing.T) {
	a := appt("A", "A", "2024-01-01T09:00:00Z", "2024-01-01T10:00:00Z")
	b := appt("B", "B", "2024-01-01T10:00:00Z", "2024-01-01T11:00:00Z")
	assert.Empty(t, DetectOverlaps([]models.Appointment{a, b}))
}

func TestDetectOverlapsChainsOnLastMember(t *testing.T) {
	// B ends before C starts even though A (earlier) is still running:
	// comparison is against the last-added member, so C opens a new cluster.
	a := appt("A", "A", "2024-01-01T09:00:00Z", "2024-01-01T12:00:00Z")
	b := appt("B", "B", "2024-01-01T09:30:00Z", "2024-01-01T10:00:00Z")
	c := appt("C", "C", "2024-01-01T10:30:00Z", "2024-01-01T11:00:00Z")
	d := appt("D", "D", "2024-01-01T10:45:00Z", "2024-01-01T11:30:00Z")

	groups := DetectOverlaps([]models.Appointment{a, b, c, d})
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"A", "B"}, subjects(groups[0].Appointments))
	assert.Equal(t, []string{"C", "D"}, subjects(groups[1].Appointments))
}

func TestDetectOverlapsGrowingChain(t *testing.T) {
	// A and C never intersect but land in one cluster through B.
	a := appt("A", "A", "2024-01-01T09:00:00Z", "2024-01-01T10:00:00Z")
	b := appt("B", "B", "2024-01-01T09:30:00Z", "2024-01-01T11:00:00Z")
	c := appt("C", "C", "2024-01-01T10:30:00Z", "2024-01-01T12:00:00Z")

	groups := DetectOverlaps([]models.Appointment{a, b, c})
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"A", "B", "C"}, subjects(groups[0].Appointments))
}

func TestDetectOverlapsEmptyAndSingleton(t *testing.T) {
	assert.Empty(t, DetectOverlaps(nil))
	assert.Empty(t, DetectOverlaps([]models.Appointment{appt("A", "A", "2024-01-01T09:00:00Z", "2024-01-01T10:00:00Z")}))
	assert.Empty(t, DetectOverlapsWithMetadata(nil))
}

func TestDetectOverlapsDeterministic(t *testing.T) {
	in := []models.Appointment{
		appt("1", "1", "2024-01-01T09:00:00Z", "2024-01-01T10:00:00Z"),
		appt("2", "2", "2024-01-01T09:00:00Z", "2024-01-01T09:30:00Z"),
		appt("3", "3", "2024-01-01T09:10:00Z", "2024-01-01T09:20:00Z"),
		appt("4", "4", "2024-01-01T13:00:00Z", "2024-01-01T14:00:00Z"),
		appt("5", "5", "2024-01-01T13:30:00Z", "2024-01-01T13:45:00Z"),
	}
	first := DetectOverlapsWithMetadata(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, DetectOverlapsWithMetadata(in))
	}
	require.Len(t, first, 2)
	assert.Equal(t, []string{"1", "2", "3"}, subjects(first[0].Appointments), "equal starts keep input order")
}

func TestDetectOverlapsWithMetadataPriority(t *testing.T) {
	busy := appt("busy", "busy", "2024-01-01T09:00:00Z", "2024-01-01T10:00:00Z")
	busy.ShowAs = models.ShowAsBusy
	free := appt("free", "free", "2024-01-01T09:00:00Z", "2024-01-01T10:00:00Z")
	free.ShowAs = models.ShowAsFree

	for _, in := range [][]models.Appointment{{busy, free}, {free, busy}} {
		groups := DetectOverlapsWithMetadata(in)
		require.Len(t, groups, 1)
		g := groups[0]
		require.NotNil(t, g.Metadata)
		assert.Equal(t, "busy", g.Canonical().SourceID)
		assert.Equal(t, busy.InstanceKey(), g.Metadata.CanonicalKey)
		for i, m := range g.Appointments {
			assert.Equal(t, m.SourceID != "busy", g.Metadata.Conflicting[i])
		}
	}
}

func TestDetectOverlapsWithMetadataRanking(t *testing.T) {
	mk := func(id string, show models.ShowAs, imp models.Importance, start string) models.Appointment {
		a := appt(id, id, start, "2024-01-01T11:00:00Z")
		a.ShowAs = show
		a.Importance = imp
		return a
	}

	tests := []struct {
		name      string
		in        []models.Appointment
		canonical string
		ranking   []string
	}{
		{
			name: "out of office ties with busy, importance decides",
			in: []models.Appointment{
				mk("busy", models.ShowAsBusy, models.ImportanceNormal, "2024-01-01T09:00:00Z"),
				mk("oof", models.ShowAsOutOfOffice, models.ImportanceHigh, "2024-01-01T09:10:00Z"),
			},
			canonical: "oof",
			ranking:   []string{"oof", "busy"},
		},
		{
			name: "tentative outranks free",
			in: []models.Appointment{
				mk("free", models.ShowAsFree, models.ImportanceHigh, "2024-01-01T09:00:00Z"),
				mk("tentative", models.ShowAsTentative, models.ImportanceLow, "2024-01-01T09:10:00Z"),
			},
			canonical: "tentative",
			ranking:   []string{"tentative", "free"},
		},
		{
			name: "input order breaks full ties",
			in: []models.Appointment{
				mk("late", models.ShowAsBusy, models.ImportanceNormal, "2024-01-01T09:30:00Z"),
				mk("early", models.ShowAsBusy, models.ImportanceNormal, "2024-01-01T09:00:00Z"),
			},
			canonical: "late",
			ranking:   []string{"late", "early"},
		},
		{
			name: "importance high over normal over low",
			in: []models.Appointment{
				mk("low", models.ShowAsBusy, models.ImportanceLow, "2024-01-01T09:00:00Z"),
				mk("normal", models.ShowAsBusy, models.ImportanceNormal, "2024-01-01T09:05:00Z"),
				mk("high", models.ShowAsBusy, models.ImportanceHigh, "2024-01-01T09:10:00Z"),
			},
			canonical: "high",
			ranking:   []string{"high", "normal", "low"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := DetectOverlapsWithMetadata(tt.in)
			require.Len(t, groups, 1)
			g := groups[0]
			assert.Equal(t, tt.canonical, g.Canonical().SourceID)

			var ranking []string
			for _, pos := range g.Metadata.Ranking {
				ranking = append(ranking, g.Appointments[pos].SourceID)
			}
			assert.Equal(t, tt.ranking, ranking)
		})
	}
}
