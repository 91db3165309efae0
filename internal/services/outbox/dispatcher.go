package outbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/RelayBox/internal/logger"
	"github.com/BearBump/RelayBox/internal/metrics"
	"github.com/BearBump/RelayBox/internal/models"
	"github.com/BearBump/RelayBox/internal/storage"
	"github.com/segmentio/kafka-go"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error
}

// Dispatcher drains the outbox table into Kafka. Several dispatchers may run
// against the same database: rows are claimed with a lease.
type Dispatcher struct {
	queue    storage.OutboxQueue
	producer Producer
	log      *logger.Logger
	metrics  *metrics.Metrics

	topic   string
	planner *Planner

	pollInterval time.Duration
	batchSize    int
	concurrency  int
	lease        time.Duration

	now func() time.Time

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalPublished      atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func NewDispatcher(queue storage.OutboxQueue, producer Producer, topic string, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{
		queue: queue, producer: producer, topic: topic, log: log, metrics: m,
		planner:           NewPlanner(DefaultBackoffConfig()),
		pollInterval:      time.Second,
		batchSize:         100,
		concurrency:       8,
		lease:             60 * time.Second,
		now:               func() time.Time { return time.Now().UTC() },
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (d *Dispatcher) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration) *Dispatcher {
	if pollInterval > 0 {
		d.pollInterval = pollInterval
	}
	if batchSize > 0 {
		d.batchSize = batchSize
	}
	if concurrency > 0 {
		d.concurrency = concurrency
	}
	if lease > 0 {
		d.lease = lease
	}
	return d
}

func (d *Dispatcher) WithBackoff(cfg BackoffConfig) *Dispatcher {
	d.planner = NewPlanner(cfg)
	return d
}

// Trigger forces an immediate cycle (best-effort, non-blocking).
func (d *Dispatcher) Trigger() {
	d.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case d.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalPublished int64      `json:"totalPublished"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (d *Dispatcher) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, d.startedAtUnixNano).UTC(),
		TotalClaimed:   d.totalClaimed.Load(),
		TotalPublished: d.totalPublished.Load(),
		TotalErrors:    d.totalErrors.Load(),
		InFlight:       d.inFlight.Load(),
	}
	if n := d.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := d.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	d.lastErrorMu.Lock()
	st.LastError = d.lastError
	d.lastErrorMu.Unlock()
	return st
}

func (d *Dispatcher) Run(ctx context.Context) error {
	t := time.NewTicker(d.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			d.RunOnce(ctx)
		case <-d.triggerCh:
			d.RunOnce(ctx)
		}
	}
}

// RunOnce claims one batch and publishes it.
func (d *Dispatcher) RunOnce(ctx context.Context) {
	started := time.Now()
	now := d.now()
	d.lastCycleUnixNano.Store(now.UnixNano())
	defer func() { d.metrics.ObserveJob("outbox", time.Since(started)) }()

	items, err := d.queue.ClaimDueOutbox(ctx, now, d.batchSize, d.lease)
	if err != nil {
		d.log.Error(ctx, "claim due outbox events", err)
		d.setLastError(err)
		return
	}
	d.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup
	for _, ev := range items {
		sem <- struct{}{}
		wg.Add(1)
		d.inFlight.Add(1)
		go func(ev *models.OutboxEvent) {
			defer func() {
				d.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := d.publishOne(ctx, ev); err != nil {
				d.totalErrors.Add(1)
				d.setLastError(err)
				d.log.Error(d.log.WithFields(ctx, map[string]any{
					"event_id":   ev.ID.String(),
					"event_type": ev.EventType,
					"attempts":   ev.Attempts + 1,
				}), "publish outbox event", err)
			}
		}(ev)
	}
	wg.Wait()
}

func (d *Dispatcher) publishOne(ctx context.Context, ev *models.OutboxEvent) error {
	pubErr := d.producer.Publish(ctx, d.topic, []byte(ev.AggregateID.String()), ev.Payload,
		kafka.Header{Key: "event-type", Value: []byte(ev.EventType)})
	d.metrics.IncOutbox(pubErr == nil)

	if pubErr == nil {
		d.totalPublished.Add(1)
		return d.queue.MarkOutboxPublished(ctx, ev.ID, d.now())
	}

	// Kafka может быть не готова сразу после старта: откладываем повтор по расписанию.
	next := d.now().Add(d.planner.BackoffDelay(ev.Attempts + 1))
	if err := d.queue.MarkOutboxFailed(ctx, ev.ID, pubErr.Error(), next); err != nil {
		d.log.Error(ctx, "mark outbox failed", err)
	}
	return pubErr
}

func (d *Dispatcher) setLastError(err error) {
	d.lastErrorMu.Lock()
	d.lastError = err.Error()
	d.lastErrorMu.Unlock()
}
