package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleMerchant Role = "MERCHANT"
	RoleCarrier  Role = "CARRIER"
	RoleProvider Role = "PROVIDER"
	RoleAdmin    Role = "ADMIN"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleCustomer, RoleMerchant, RoleCarrier, RoleProvider, RoleAdmin:
		return true
	}
	return false
}

// Actor is the authenticated caller of a core operation.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     *string   `json:"phone,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Package struct {
	ID               uuid.UUID       `json:"id"`
	SenderID         uuid.UUID       `json:"senderId"`
	Description      string          `json:"description"`
	SenderAddress    string          `json:"senderAddress"`
	RecipientAddress string          `json:"recipientAddress"`
	FinalDestination *string         `json:"finalDestination,omitempty"`
	CurrentLocation  *string         `json:"currentLocation,omitempty"`
	Status           PackageStatus   `json:"status"`
	IsMultiSegment   bool            `json:"isMultiSegment"`
	SegmentNumber    int             `json:"segmentNumber"`
	TotalSegments    int             `json:"totalSegments"`
	Price            decimal.Decimal `json:"price"`
	Weight           decimal.Decimal `json:"weight"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Destination returns the final destination, falling back to the recipient address.
func (p *Package) Destination() string {
	if p.FinalDestination != nil && *p.FinalDestination != "" {
		return *p.FinalDestination
	}
	return p.RecipientAddress
}

type RideStatus string

const (
	RideStatusPending   RideStatus = "PENDING"
	RideStatusActive    RideStatus = "ACTIVE"
	RideStatusCompleted RideStatus = "COMPLETED"
	RideStatusCancelled RideStatus = "CANCELLED"
)

type Ride struct {
	ID                 uuid.UUID       `json:"id"`
	UserID             uuid.UUID       `json:"userId"`
	Origin             string          `json:"origin"`
	Destination        string          `json:"destination"`
	DepartureTime      time.Time       `json:"departureTime"`
	PricePerKg         decimal.Decimal `json:"pricePerKg"`
	AvailableSpace     float64         `json:"availableSpace"`
	Status             RideStatus      `json:"status"`
	AllowsRelayPickup  bool            `json:"allowsRelayPickup"`
	AllowsRelayDropoff bool            `json:"allowsRelayDropoff"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// Match binds one package to one ride for a single delivery leg.
// CarrierID is the owner of the ride and is not stored on the match row.
type Match struct {
	ID                uuid.UUID       `json:"id"`
	PackageID         uuid.UUID       `json:"packageId"`
	RideID            uuid.UUID       `json:"rideId"`
	CarrierID         uuid.UUID       `json:"carrierId"`
	Status            MatchStatus     `json:"status"`
	Price             decimal.Decimal `json:"price"`
	IsRelaySegment    bool            `json:"isRelaySegment"`
	SegmentOrder      int             `json:"segmentOrder"`
	IsPartialDelivery bool            `json:"isPartialDelivery"`
	DropoffLocation   *string         `json:"dropoffLocation,omitempty"`
	Notes             *string         `json:"notes,omitempty"`
	AcceptedAt        *time.Time      `json:"acceptedAt,omitempty"`
	// ResumeStatus is the status held before the match went AWAITING_TRANSFER.
	// Empty otherwise.
	ResumeStatus      MatchStatus     `json:"-"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

type MatchFilter struct {
	CarrierID *uuid.UUID
	SenderID  *uuid.UUID
	Status    *MatchStatus
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

const (
	PaymentMethodCard     = "CARD"
	PaymentMethodPlatform = "PLATFORM"
)

// Payment is one-to-one with a match. Attempt is bumped every time a failed
// payment is retried so that each charge gets its own gateway reference.
type Payment struct {
	ID            uuid.UUID        `json:"id"`
	MatchID       uuid.UUID        `json:"matchId"`
	UserID        uuid.UUID        `json:"userId"`
	Amount        decimal.Decimal  `json:"amount"`
	Currency      string           `json:"currency"`
	Status        PaymentStatus    `json:"status"`
	PaymentMethod string           `json:"paymentMethod"`
	CardToken     *string          `json:"-"`
	Attempt       int              `json:"attempt"`
	TransactionID *string          `json:"transactionId,omitempty"`
	FailureReason *string          `json:"failureReason,omitempty"`
	RefundAmount  *decimal.Decimal `json:"refundAmount,omitempty"`
	RefundReason  *string          `json:"refundReason,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// Reference is the idempotency key handed to the payment gateway.
func (p *Payment) Reference() string {
	return p.ID.String() + "-" + strconv.Itoa(p.Attempt)
}

// OutboxEvent is a serialized domain event waiting to be published.
type OutboxEvent struct {
	ID            uuid.UUID
	EventType     string
	AggregateID   uuid.UUID
	Payload       []byte
	Attempts      int
	LastError     *string
	NextAttemptAt time.Time
	PublishedAt   *time.Time
	CreatedAt     time.Time
}
