// Package payment is the contract of the external card-charging collaborator.
package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

type ChargeRequest struct {
	// ReferenceID is the idempotency key: repeating a charge with the same
	// reference must not move money twice.
	ReferenceID string
	Amount      decimal.Decimal
	Currency    string
	CardToken   string
	Description string
	Metadata    map[string]string
}

type ChargeResult struct {
	Status        Status
	TransactionID string
	FailureReason string
}

// Gateway charges a card. A decline is a FAILED result with a nil error.
// A non-nil error means the outcome is unknown and the charge may be retried
// with the same reference.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// ErrInvalidRequest marks errors that retrying cannot fix.
var ErrInvalidRequest = errors.New("invalid charge request")

// Validate checks the fields every gateway needs.
func Validate(req ChargeRequest) error {
	switch {
	case req.ReferenceID == "":
		return errors.Join(ErrInvalidRequest, errors.New("reference is required"))
	case !req.Amount.IsPositive():
		return errors.Join(ErrInvalidRequest, errors.New("amount must be positive"))
	case req.CardToken == "":
		return errors.Join(ErrInvalidRequest, errors.New("card token is required"))
	}
	return nil
}
