package tracking

import (
	"testing"
	"time"

	"github.com/BearBump/RelayBox/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEstimateDelivery(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := map[models.PackageStatus]*time.Duration{
		models.PackageStatusPending:         ptr(24 * time.Hour),
		models.PackageStatusConfirmed:       ptr(6 * time.Hour),
		models.PackageStatusInTransit:       ptr(2 * time.Hour),
		models.PackageStatusAwaitingRelay:   nil,
		models.PackageStatusRelayInProgress: nil,
		models.PackageStatusDelivered:       nil,
	}
	for st, want := range cases {
		got := EstimateDelivery(&models.Package{Status: st}, now)
		if want == nil {
			require.Nil(t, got, st)
			continue
		}
		require.Equal(t, now.Add(*want), *got, st)
	}
}

func ptr(d time.Duration) *time.Duration { return &d }

func TestBuildTimeline_PendingPackage(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	pkg := &models.Package{Status: models.PackageStatusPending, CreatedAt: created, SenderAddress: "Paris"}

	tl := BuildTimeline(pkg, nil, nil)
	require.Len(t, tl, 4)
	require.Equal(t, MilestoneCreated, tl[0].Status)
	require.True(t, tl[0].Completed)
	for _, e := range tl[1:] {
		require.False(t, e.Completed)
		require.Nil(t, e.Timestamp)
	}
}

func TestBuildTimeline_MergesEventsInOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	accepted := base.Add(time.Hour)
	pkg := &models.Package{Status: models.PackageStatusRelayInProgress, CreatedAt: base}
	matches := []*models.Match{{AcceptedAt: &accepted}}
	events := []*models.TrackingEvent{
		{CarrierID: uuid.New(), EventType: models.EventTypeCheckpoint, Location: "Dijon", Timestamp: base.Add(2 * time.Hour)},
		{CarrierID: uuid.New(), EventType: models.EventTypeTransfer, Location: "Lyon", Timestamp: base.Add(3 * time.Hour)},
		{CarrierID: uuid.New(), EventType: models.EventTypePickup, Location: "Lyon", Timestamp: base.Add(4 * time.Hour)},
	}

	tl := BuildTimeline(pkg, matches, events)
	require.Len(t, tl, 7)

	var order []string
	for _, e := range tl {
		order = append(order, e.Status)
	}
	require.Equal(t, []string{
		MilestoneCreated, MilestoneConfirmed, MilestoneInTransit, "CHECKPOINT", "TRANSFER", "PICKUP", MilestoneDelivered,
	}, order)

	// in-transit milestone is stamped with the first event
	require.Equal(t, base.Add(2*time.Hour), *tl[2].Timestamp)
	require.Nil(t, tl[6].Timestamp)
	require.False(t, tl[6].Completed)
}

func TestBuildTimeline_Delivered(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	pkg := &models.Package{Status: models.PackageStatusDelivered, CreatedAt: base, UpdatedAt: base.Add(5 * time.Hour)}

	tl := BuildTimeline(pkg, nil, nil)
	var order []string
	for _, e := range tl {
		require.True(t, e.Completed, e.Status)
		order = append(order, e.Status)
	}
	// milestones reached without a known time sort last
	require.Equal(t, []string{MilestoneCreated, MilestoneDelivered, MilestoneConfirmed, MilestoneInTransit}, order)
	require.Equal(t, base.Add(5*time.Hour), *tl[1].Timestamp)
	require.Nil(t, tl[2].Timestamp)
}
