package tracking

import (
	"sort"
	"time"

	"github.com/BearBump/RelayBox/internal/models"
	"github.com/google/uuid"
)

const (
	EntryMilestone = "MILESTONE"
	EntryEvent     = "EVENT"
)

const (
	MilestoneCreated   = "CREATED"
	MilestoneConfirmed = "CONFIRMED"
	MilestoneInTransit = "IN_TRANSIT"
	MilestoneDelivered = "DELIVERED"
)

type TimelineEntry struct {
	Kind      string     `json:"kind"`
	Status    string     `json:"status"`
	Title     string     `json:"title"`
	Location  string     `json:"location,omitempty"`
	Notes     *string    `json:"notes,omitempty"`
	CarrierID *uuid.UUID `json:"carrierId,omitempty"`
	Timestamp *time.Time `json:"timestamp"`
	Completed bool       `json:"completed"`
}

// reached lists, per milestone, the package statuses at or past it.
var reached = map[string][]models.PackageStatus{
	MilestoneConfirmed: {
		models.PackageStatusConfirmed, models.PackageStatusAcceptedByCarrier, models.PackageStatusInTransit,
		models.PackageStatusAwaitingRelay, models.PackageStatusRelayInProgress, models.PackageStatusDelivered,
	},
	MilestoneInTransit: {
		models.PackageStatusInTransit, models.PackageStatusAwaitingRelay,
		models.PackageStatusRelayInProgress, models.PackageStatusDelivered,
	},
	MilestoneDelivered: {models.PackageStatusDelivered},
}

func milestoneDone(name string, st models.PackageStatus) bool {
	for _, v := range reached[name] {
		if v == st {
			return true
		}
	}
	return false
}

// BuildTimeline merges the four milestones with the tracking events, ascending
// by timestamp. Entries without a timestamp go last.
func BuildTimeline(pkg *models.Package, matches []*models.Match, events []*models.TrackingEvent) []TimelineEntry {
	out := make([]TimelineEntry, 0, len(events)+4)

	created := pkg.CreatedAt
	out = append(out, TimelineEntry{
		Kind: EntryMilestone, Status: MilestoneCreated, Title: "Package created",
		Location: pkg.SenderAddress, Timestamp: &created, Completed: true,
	})

	var confirmedAt *time.Time
	for _, m := range matches {
		if m.AcceptedAt != nil && (confirmedAt == nil || m.AcceptedAt.Before(*confirmedAt)) {
			at := *m.AcceptedAt
			confirmedAt = &at
		}
	}
	var transitAt *time.Time
	for _, e := range events {
		if transitAt == nil || e.Timestamp.Before(*transitAt) {
			at := e.Timestamp
			transitAt = &at
		}
	}
	var deliveredAt *time.Time
	if pkg.Status == models.PackageStatusDelivered {
		at := pkg.UpdatedAt
		deliveredAt = &at
	}

	milestone := func(status, title string, at *time.Time) {
		done := milestoneDone(status, pkg.Status)
		if !done {
			at = nil
		}
		out = append(out, TimelineEntry{Kind: EntryMilestone, Status: status, Title: title, Timestamp: at, Completed: done})
	}
	milestone(MilestoneConfirmed, "Carrier confirmed", confirmedAt)
	milestone(MilestoneInTransit, "In transit", transitAt)
	milestone(MilestoneDelivered, "Delivered", deliveredAt)

	for _, e := range events {
		at := e.Timestamp
		carrier := e.CarrierID
		out = append(out, TimelineEntry{
			Kind:      EntryEvent,
			Status:    string(e.EventType),
			Title:     eventTitle(e.EventType),
			Location:  e.Location,
			Notes:     e.Notes,
			CarrierID: &carrier,
			Timestamp: &at,
			Completed: true,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Timestamp, out[j].Timestamp
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.Before(*b)
	})
	return out
}

func eventTitle(t models.EventType) string {
	switch t {
	case models.EventTypePickup:
		return "Picked up"
	case models.EventTypeTransfer:
		return "Handed over to the next carrier"
	default:
		return "Checkpoint"
	}
}

// EstimateDelivery is a fixed offset by package status, nil when there is nothing to estimate.
func EstimateDelivery(pkg *models.Package, now time.Time) *time.Time {
	var d time.Duration
	switch pkg.Status {
	case models.PackageStatusPending:
		d = 24 * time.Hour
	case models.PackageStatusConfirmed:
		d = 6 * time.Hour
	case models.PackageStatusInTransit:
		d = 2 * time.Hour
	default:
		return nil
	}
	at := now.Add(d)
	return &at
}
