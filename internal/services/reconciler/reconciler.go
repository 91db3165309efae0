// Package reconciler settles payments whose gateway outcome was unknown at
// request time.
package reconciler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/RelayBox/internal/integrations/payment"
	"github.com/BearBump/RelayBox/internal/logger"
	"github.com/BearBump/RelayBox/internal/metrics"
	"github.com/BearBump/RelayBox/internal/models"
	"github.com/BearBump/RelayBox/internal/services/matches"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type PaymentSource interface {
	ListStalePendingPayments(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.Payment, error)
}

type Finalizer interface {
	FinalizePayment(ctx context.Context, paymentID uuid.UUID, res payment.ChargeResult, autoAccept bool) (*matches.PayResult, error)
}

type Result struct {
	Checked int
	Settled int
	Pending int
	Errors  int
}

type Reconciler struct {
	source    PaymentSource
	gateway   payment.Gateway
	finalizer Finalizer

	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	workers    int

	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	triggerCh chan struct{}

	mu      sync.Mutex
	lastRun *time.Time
	last    Result
}

type Stats struct {
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	Checked   int        `json:"checked"`
	Settled   int        `json:"settled"`
	Pending   int        `json:"pending"`
	Errors    int        `json:"errors"`
}

func New(source PaymentSource, gateway payment.Gateway, finalizer Finalizer, log *logger.Logger, m *metrics.Metrics) *Reconciler {
	if log == nil {
		log = logger.Nop()
	}
	return &Reconciler{
		source:     source,
		gateway:    gateway,
		finalizer:  finalizer,
		interval:   time.Minute,
		staleAfter: 2 * time.Minute,
		batchSize:  50,
		workers:    4,
		log:        log,
		metrics:    m,
		now:        func() time.Time { return time.Now().UTC() },
		triggerCh:  make(chan struct{}, 1),
	}
}

// WithSettings overrides the defaults; zero values keep them.
func (r *Reconciler) WithSettings(interval, staleAfter time.Duration, batchSize, workers int) *Reconciler {
	if interval > 0 {
		r.interval = interval
	}
	if staleAfter > 0 {
		r.staleAfter = staleAfter
	}
	if batchSize > 0 {
		r.batchSize = batchSize
	}
	if workers > 0 {
		r.workers = workers
	}
	return r
}

// Trigger asks Run for an immediate cycle. Non-blocking.
func (r *Reconciler) Trigger() {
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

// Stats reports the outcome of the last cycle.
func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		LastRunAt: r.lastRun,
		Checked:   r.last.Checked,
		Settled:   r.last.Settled,
		Pending:   r.last.Pending,
		Errors:    r.last.Errors,
	}
}

// Run blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.cycle(ctx)
		case <-r.triggerCh:
			r.cycle(ctx)
		}
	}
}

func (r *Reconciler) cycle(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.log.Error(ctx, "reconcile cycle failed", err)
	}
}

// RunOnce processes one batch of stale PENDING payments.
func (r *Reconciler) RunOnce(ctx context.Context) (Result, error) {
	started := time.Now()
	defer func() { r.metrics.ObserveJob("reconciler", time.Since(started)) }()

	list, err := r.source.ListStalePendingPayments(ctx, r.now().Add(-r.staleAfter), r.batchSize)
	if err != nil {
		return Result{}, err
	}

	var settled, pending, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, p := range list {
		p := p
		g.Go(func() error {
			done, err := r.settle(gctx, p)
			switch {
			case err != nil:
				failed.Add(1)
				r.log.Warn(r.log.WithField(gctx, "payment_id", p.ID.String()), "reconcile payment failed", err)
			case done:
				settled.Add(1)
			default:
				pending.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Checked: len(list),
		Settled: int(settled.Load()),
		Pending: int(pending.Load()),
		Errors:  int(failed.Load()),
	}
	at := r.now()
	r.mu.Lock()
	r.lastRun, r.last = &at, res
	r.mu.Unlock()

	if res.Checked > 0 {
		r.log.Info(r.log.WithFields(ctx, map[string]any{
			"checked": res.Checked, "settled": res.Settled, "pending": res.Pending, "errors": res.Errors,
		}), "reconcile cycle done")
	}
	return res, nil
}

// settle replays the charge under the payment's reference. The gateway is
// idempotent per reference, so a charge that already went through is
// reported again, not repeated.
func (r *Reconciler) settle(ctx context.Context, p *models.Payment) (bool, error) {
	var res payment.ChargeResult
	if p.CardToken == nil || *p.CardToken == "" {
		res = payment.ChargeResult{Status: payment.StatusFailed, FailureReason: "no card token to retry the charge"}
	} else {
		var err error
		res, err = r.gateway.Charge(ctx, payment.ChargeRequest{
			ReferenceID: p.Reference(),
			Amount:      p.Amount,
			Currency:    p.Currency,
			CardToken:   *p.CardToken,
			Description: "RelayBox delivery",
			Metadata: map[string]string{
				"payment_id": p.ID.String(),
				"match_id":   p.MatchID.String(),
			},
		})
		switch {
		case errors.Is(err, payment.ErrInvalidRequest):
			res = payment.ChargeResult{Status: payment.StatusFailed, FailureReason: err.Error()}
		case err != nil:
			// still unknown, next cycle
			return false, nil
		}
	}

	if _, err := r.finalizer.FinalizePayment(ctx, p.ID, res, true); err != nil {
		return false, err
	}
	return true, nil
}
