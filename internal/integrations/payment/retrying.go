package payment

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"
)

type RetryOptions struct {
	MaxAttempts     int
	AttemptTimeout  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:     3,
		AttemptTimeout:  10 * time.Second,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Retrying wraps a Gateway with bounded exponential retries and a timeout per
// attempt. Concurrent charges with the same reference share one call.
type Retrying struct {
	next  Gateway
	opts  RetryOptions
	group singleflight.Group
}

func NewRetrying(next Gateway, opts RetryOptions) *Retrying {
	def := DefaultRetryOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = def.AttemptTimeout
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = def.InitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = def.MaxInterval
	}
	return &Retrying{next: next, opts: opts}
}

func (r *Retrying) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if err := Validate(req); err != nil {
		return ChargeResult{}, err
	}
	v, err, _ := r.group.Do(req.ReferenceID, func() (any, error) {
		return r.charge(ctx, req)
	})
	if err != nil {
		return ChargeResult{}, err
	}
	return v.(ChargeResult), nil
}

func (r *Retrying) charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.opts.InitialInterval
	eb.MaxInterval = r.opts.MaxInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.opts.MaxAttempts-1)), ctx)

	var res ChargeResult
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, r.opts.AttemptTimeout)
		defer cancel()

		out, err := r.next.Charge(attemptCtx, req)
		if err != nil {
			if errors.Is(err, ErrInvalidRequest) {
				return backoff.Permanent(err)
			}
			return err
		}
		res = out
		return nil
	}
	if err := backoff.Retry(op, policy); err != nil {
		return ChargeResult{}, err
	}
	return res, nil
}
