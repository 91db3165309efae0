// Package access holds the visibility and locking rules shared by the core services.
package access

import (
	"context"
	"errors"

	"github.com/BearBump/RelayBox/internal/apperr"
	"github.com/BearBump/RelayBox/internal/models"
	"github.com/BearBump/RelayBox/internal/storage"
	"github.com/google/uuid"
)

// CanViewPackage: the owner, any carrier with a match on the package, and admins.
func CanViewPackage(actor models.Actor, pkg *models.Package, matches []*models.Match) bool {
	if actor.IsAdmin() || pkg.SenderID == actor.UserID {
		return true
	}
	for _, m := range matches {
		if m.CarrierID == actor.UserID {
			return true
		}
	}
	return false
}

// ActiveMatch returns the package's active match or nil.
func ActiveMatch(matches []*models.Match) *models.Match {
	for _, m := range matches {
		if m.Status.IsActive() {
			return m
		}
	}
	return nil
}

// OtherActive returns an active match other than exclude, or nil.
func OtherActive(matches []*models.Match, exclude uuid.UUID) *models.Match {
	for _, m := range matches {
		if m.ID != exclude && m.Status.IsActive() {
			return m
		}
	}
	return nil
}

// OtherHolder returns a match other than exclude that holds the package: an
// active one, or one waiting for its relay pickup.
func OtherHolder(matches []*models.Match, exclude uuid.UUID) *models.Match {
	for _, m := range matches {
		if m.ID != exclude && (m.Status.IsActive() || m.Status == models.MatchStatusAwaitingTransfer) {
			return m
		}
	}
	return nil
}

// NextSegmentOrder is one past the highest segment that ever held the package.
func NextSegmentOrder(matches []*models.Match, exclude uuid.UUID) int {
	last := 0
	for _, m := range matches {
		if m.ID != exclude && m.AcceptedAt != nil {
			last = max(last, m.SegmentOrder)
		}
	}
	return last + 1
}

// LockMatch loads a match and takes the row lock of its package. The match
// is read again under the lock so concurrent writers are seen.
func LockMatch(ctx context.Context, tx storage.Repository, id uuid.UUID) (*models.Match, *models.Package, error) {
	m, err := tx.GetMatch(ctx, id)
	if err != nil {
		return nil, nil, StoreError(err, "match")
	}
	pkg, err := tx.LockPackage(ctx, m.PackageID)
	if err != nil {
		return nil, nil, StoreError(err, "package")
	}
	if m, err = tx.GetMatch(ctx, id); err != nil {
		return nil, nil, StoreError(err, "match")
	}
	return m, pkg, nil
}

// StoreError translates storage sentinels into typed errors.
func StoreError(err error, entity string) error {
	switch {
	case err == nil:
		return nil
	case apperr.As(err) != nil:
		return err
	case errors.Is(err, storage.ErrNotFound):
		return apperr.NotFound(entity + " not found")
	case errors.Is(err, storage.ErrConflict):
		return apperr.Conflict(entity + " conflicts with an existing record")
	default:
		return apperr.Internal(err)
	}
}
