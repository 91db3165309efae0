package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventTypePickup     EventType = "PICKUP"
	EventTypeCheckpoint EventType = "CHECKPOINT"
	EventTypeTransfer   EventType = "TRANSFER"
)

// TrackingEvent is an append-only log entry for a package.
// NextCarrierID and TransferCode are only set for TRANSFER events.
type TrackingEvent struct {
	ID            uuid.UUID  `json:"id"`
	PackageID     uuid.UUID  `json:"packageId"`
	CarrierID     uuid.UUID  `json:"carrierId"`
	MatchID       *uuid.UUID `json:"matchId,omitempty"`
	Location      string     `json:"location"`
	Lat           *float64   `json:"lat,omitempty"`
	Lng           *float64   `json:"lng,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	Status        string     `json:"status"`
	EventType     EventType  `json:"eventType"`
	Timestamp     time.Time  `json:"timestamp"`
	NextCarrierID *uuid.UUID `json:"nextCarrierId,omitempty"`
	TransferCode  *string    `json:"-"`
}
