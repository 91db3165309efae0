package storage

import (
	"context"
	"errors"
	"time"

	"github.com/BearBump/RelayBox/internal/models"
	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness invariant,
	// e.g. a second active match for a package or a second payment for a match.
	ErrConflict = errors.New("conflict")
)

// Repository is the persistence surface used by the core services.
// Every method works both on the pool and inside a transaction.
type Repository interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpsertUser(ctx context.Context, u *models.User) error

	CreatePackage(ctx context.Context, p *models.Package) error
	GetPackage(ctx context.Context, id uuid.UUID) (*models.Package, error)
	// LockPackage reads the package and holds a row lock until the transaction ends.
	LockPackage(ctx context.Context, id uuid.UUID) (*models.Package, error)
	UpdatePackage(ctx context.Context, p *models.Package) error

	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id uuid.UUID) (*models.Ride, error)
	UpdateRideStatus(ctx context.Context, id uuid.UUID, status models.RideStatus) error

	CreateMatch(ctx context.Context, m *models.Match) error
	GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error)
	UpdateMatch(ctx context.Context, m *models.Match) error
	// ListMatchesByPackage returns matches ordered by segment order, then creation time.
	ListMatchesByPackage(ctx context.Context, packageID uuid.UUID) ([]*models.Match, error)
	ListMatches(ctx context.Context, f models.MatchFilter) ([]*models.Match, error)

	AppendTrackingEvent(ctx context.Context, e *models.TrackingEvent) error
	// ListTrackingEvents returns events ordered by timestamp ascending.
	ListTrackingEvents(ctx context.Context, packageID uuid.UUID) ([]*models.TrackingEvent, error)

	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetPaymentByMatch(ctx context.Context, matchID uuid.UUID) (*models.Payment, error)
	UpdatePayment(ctx context.Context, p *models.Payment) error
	// HasCompletedPayment reports whether any match of the package has a COMPLETED payment.
	HasCompletedPayment(ctx context.Context, packageID uuid.UUID) (bool, error)
	ListStalePendingPayments(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.Payment, error)

	EnqueueOutbox(ctx context.Context, e *models.OutboxEvent) error
}

// Store is a Repository that can run a function atomically.
// If fn returns an error nothing it wrote is kept.
type Store interface {
	Repository
	WithTx(ctx context.Context, fn func(tx Repository) error) error
}

// OutboxQueue is used by the dispatcher to drain pending domain events.
type OutboxQueue interface {
	ClaimDueOutbox(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxEvent, error)
	MarkOutboxPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkOutboxFailed(ctx context.Context, id uuid.UUID, lastError string, nextAttemptAt time.Time) error
}
