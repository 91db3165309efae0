// Package stripegw charges cards through Stripe PaymentIntents.
package stripegw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/BearBump/RelayBox/internal/integrations/payment"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

type Gateway struct {
	client *client.API
}

func New(secretKey string) *Gateway {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &Gateway{client: sc}
}

// NewWithBackends points the client at custom backends (tests use an httptest server).
func NewWithBackends(secretKey string, backends *stripe.Backends) *Gateway {
	return &Gateway{client: client.New(secretKey, backends)}
}

// Charge creates and confirms a PaymentIntent in one call. The reference is
// sent as the Stripe idempotency key, so a repeated charge returns the
// original intent instead of creating a new one.
func (g *Gateway) Charge(ctx context.Context, req payment.ChargeRequest) (payment.ChargeResult, error) {
	if err := payment.Validate(req); err != nil {
		return payment.ChargeResult{}, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(minorUnits(req.Amount)),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(req.CardToken),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.IdempotencyKey = stripe.String(req.ReferenceID)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	pi, err := g.client.PaymentIntents.New(params)
	if err != nil {
		return mapStripeError(err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return payment.ChargeResult{Status: payment.StatusCompleted, TransactionID: pi.ID}, nil
	case stripe.PaymentIntentStatusProcessing:
		// исход ещё не известен, повторим с тем же ключом
		return payment.ChargeResult{}, fmt.Errorf("payment intent %s is still processing", pi.ID)
	default:
		// requires_action и прочее: без участия пользователя не завершить
		return payment.ChargeResult{
			Status:        payment.StatusFailed,
			TransactionID: pi.ID,
			FailureReason: "payment requires " + string(pi.Status),
		}, nil
	}
}

// mapStripeError turns card and request errors into a FAILED result and
// leaves everything else (5xx, throttling, network) as an error.
func mapStripeError(err error) (payment.ChargeResult, error) {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return payment.ChargeResult{}, fmt.Errorf("stripe: %w", err)
	}
	if se.HTTPStatusCode >= http.StatusInternalServerError || se.HTTPStatusCode == http.StatusTooManyRequests {
		return payment.ChargeResult{}, fmt.Errorf("stripe unavailable: %w", err)
	}
	switch se.Code {
	case stripe.ErrorCodeRateLimit, stripe.ErrorCodeLockTimeout, stripe.ErrorCodeIdempotencyKeyInUse:
		return payment.ChargeResult{}, fmt.Errorf("stripe busy: %w", err)
	}
	if se.Type == stripe.ErrorTypeCard || se.Type == stripe.ErrorTypeInvalidRequest {
		reason := string(se.Code)
		if reason == "" {
			reason = se.Msg
		}
		return payment.ChargeResult{Status: payment.StatusFailed, FailureReason: reason}, nil
	}
	return payment.ChargeResult{}, fmt.Errorf("stripe: %w", err)
}

func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
