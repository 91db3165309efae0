package messages

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TopicDomainEvents = "relay.domain-events"

	DomainEventVersion = 1
)

const (
	EventMatchCreated       = "match.created"
	EventMatchAccepted      = "match.accepted"
	EventMatchStatusChanged = "match.status_changed"
	EventMatchDelivered     = "match.delivered"
	EventMatchCancelled     = "match.cancelled"
	EventPaymentRequired    = "payment.required"
	EventPaymentCompleted   = "payment.completed"
	EventPaymentFailed      = "payment.failed"
	EventDeliveryConfirmed  = "delivery.confirmed"
	EventRelayCreated       = "relay.created"
	EventRelayAccepted      = "relay.accepted"
	EventCheckpointAdded    = "checkpoint.added"
)

// DomainEvent is the envelope written to the outbox and published to Kafka.
// AggregateID is the package id and doubles as the partition key.
type DomainEvent struct {
	EventID     uuid.UUID       `json:"event_id"`
	Type        string          `json:"type"`
	Version     int             `json:"version"`
	AggregateID uuid.UUID       `json:"aggregate_id"`
	ActorID     uuid.UUID       `json:"actor_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Data        json.RawMessage `json:"data"`
}

// MatchEvent is the payload of every match.* event and of delivery.confirmed.
type MatchEvent struct {
	MatchID        uuid.UUID       `json:"match_id"`
	PackageID      uuid.UUID       `json:"package_id"`
	SenderID       uuid.UUID       `json:"sender_id"`
	CarrierID      uuid.UUID       `json:"carrier_id"`
	Status         string          `json:"status"`
	PreviousStatus string          `json:"previous_status,omitempty"`
	Price          decimal.Decimal `json:"price"`
	IsRelaySegment bool            `json:"is_relay_segment"`
}

type PaymentEvent struct {
	PaymentID     uuid.UUID       `json:"payment_id"`
	MatchID       uuid.UUID       `json:"match_id"`
	PackageID     uuid.UUID       `json:"package_id"`
	SenderID      uuid.UUID       `json:"sender_id"`
	CarrierID     uuid.UUID       `json:"carrier_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	TransactionID *string         `json:"transaction_id,omitempty"`
	FailureReason *string         `json:"failure_reason,omitempty"`
}

// RelayEvent never carries the transfer code.
type RelayEvent struct {
	MatchID          uuid.UUID  `json:"match_id"`
	PackageID        uuid.UUID  `json:"package_id"`
	SenderID         uuid.UUID  `json:"sender_id"`
	FromCarrierID    uuid.UUID  `json:"from_carrier_id"`
	ToCarrierID      uuid.UUID  `json:"to_carrier_id"`
	ToCarrierName    string     `json:"to_carrier_name,omitempty"`
	Location         string     `json:"location"`
	SegmentOrder     int        `json:"segment_order"`
	EstimatedArrival *time.Time `json:"estimated_arrival,omitempty"`
}

type CheckpointEvent struct {
	EventID   uuid.UUID `json:"event_id"`
	PackageID uuid.UUID `json:"package_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	CarrierID uuid.UUID `json:"carrier_id"`
	Location  string    `json:"location"`
	Lat       *float64  `json:"lat,omitempty"`
	Lng       *float64  `json:"lng,omitempty"`
	At        time.Time `json:"at"`
}
