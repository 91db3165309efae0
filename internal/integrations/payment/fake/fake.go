// Package fake is a deterministic payment.Gateway for local runs and tests.
//
// Card tokens drive the outcome:
//
//	tok_fail    -> FAILED (card_declined)
//	tok_timeout -> error, outcome unknown
//	anything else -> COMPLETED
package fake

import (
	"context"
	"errors"
	"sync"

	"github.com/BearBump/RelayBox/internal/integrations/payment"
	"github.com/google/uuid"
)

const (
	TokenFail    = "tok_fail"
	TokenTimeout = "tok_timeout"
)

var ErrTimeout = errors.New("fake gateway: timeout")

type Gateway struct {
	mu      sync.Mutex
	byRef   map[string]payment.ChargeResult
	charges int
}

func New() *Gateway {
	return &Gateway{byRef: map[string]payment.ChargeResult{}}
}

func (g *Gateway) Charge(ctx context.Context, req payment.ChargeRequest) (payment.ChargeResult, error) {
	if err := payment.Validate(req); err != nil {
		return payment.ChargeResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return payment.ChargeResult{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if res, ok := g.byRef[req.ReferenceID]; ok {
		return res, nil
	}

	var res payment.ChargeResult
	switch req.CardToken {
	case TokenTimeout:
		return payment.ChargeResult{}, ErrTimeout
	case TokenFail:
		res = payment.ChargeResult{Status: payment.StatusFailed, FailureReason: "card_declined"}
	default:
		res = payment.ChargeResult{Status: payment.StatusCompleted, TransactionID: "fake_" + uuid.NewString()}
	}
	g.charges++
	g.byRef[req.ReferenceID] = res
	return res, nil
}

// Charges is the number of distinct references charged.
func (g *Gateway) Charges() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.charges
}
