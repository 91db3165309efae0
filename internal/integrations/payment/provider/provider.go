// Package provider picks the payment gateway named in the configuration.
package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/RelayBox/config"
	"github.com/BearBump/RelayBox/internal/integrations/payment"
	"github.com/BearBump/RelayBox/internal/integrations/payment/fake"
	"github.com/BearBump/RelayBox/internal/integrations/payment/stripegw"
)

const (
	Stripe = "stripe"
	Fake   = "fake"
)

// New returns the configured gateway wrapped with retries. An empty provider
// means the in-process fake, which is what local runs and tests use.
func New(cfg config.PaymentsConfig) (payment.Gateway, error) {
	var gw payment.Gateway
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case Stripe:
		if cfg.StripeSecretKey == "" {
			return nil, fmt.Errorf("payments.stripe_secret_key is required for provider %q", Stripe)
		}
		gw = stripegw.New(cfg.StripeSecretKey)
	case Fake, "":
		gw = fake.New()
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}

	return payment.NewRetrying(gw, payment.RetryOptions{
		MaxAttempts:    cfg.MaxAttempts,
		AttemptTimeout: time.Duration(cfg.ChargeTimeoutSeconds) * time.Second,
	}), nil
}
