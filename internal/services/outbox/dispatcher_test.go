package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/RelayBox/internal/broker/messages"
	"github.com/BearBump/RelayBox/internal/storage/memstore"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	mu    sync.Mutex
	keys  []string
	types []string
	err   error
}

func (p *fakeProducer) Publish(_ context.Context, _ string, key, _ []byte, headers ...kafka.Header) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, string(key))
	for _, h := range headers {
		if h.Key == "event-type" {
			p.types = append(p.types, string(h.Value))
		}
	}
	return nil
}

func TestEmit_WritesEnvelope(t *testing.T) {
	st := memstore.New()
	pkg, actor := uuid.New(), uuid.New()

	require.NoError(t, Emit(context.Background(), st, messages.EventMatchCreated, pkg, actor, messages.MatchEvent{PackageID: pkg, Status: "PENDING"}))

	rows := st.Outbox()
	require.Len(t, rows, 1)
	require.Equal(t, messages.EventMatchCreated, rows[0].EventType)
	require.Equal(t, pkg, rows[0].AggregateID)

	var env messages.DomainEvent
	require.NoError(t, json.Unmarshal(rows[0].Payload, &env))
	require.Equal(t, rows[0].ID, env.EventID)
	require.Equal(t, messages.DomainEventVersion, env.Version)
	require.Equal(t, actor, env.ActorID)

	var data messages.MatchEvent
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Equal(t, "PENDING", data.Status)
}

func TestDispatcher_PublishesAndMarks(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	pkgA, pkgB := uuid.New(), uuid.New()
	require.NoError(t, Emit(ctx, st, messages.EventMatchCreated, pkgA, uuid.New(), struct{}{}))
	require.NoError(t, Emit(ctx, st, messages.EventCheckpointAdded, pkgB, uuid.New(), struct{}{}))

	fp := &fakeProducer{}
	d := NewDispatcher(st, fp, messages.TopicDomainEvents, nil, nil).WithSettings(time.Second, 10, 2, time.Minute)
	d.RunOnce(ctx)

	require.ElementsMatch(t, []string{pkgA.String(), pkgB.String()}, fp.keys)
	require.ElementsMatch(t, []string{messages.EventMatchCreated, messages.EventCheckpointAdded}, fp.types)
	for _, row := range st.Outbox() {
		require.NotNil(t, row.PublishedAt)
	}

	stats := d.Stats()
	require.Equal(t, int64(2), stats.TotalClaimed)
	require.Equal(t, int64(2), stats.TotalPublished)
	require.Zero(t, stats.TotalErrors)

	// nothing left to claim
	d.RunOnce(ctx)
	require.Len(t, fp.keys, 2)
}

func TestDispatcher_FailureSchedulesRetry(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	require.NoError(t, Emit(ctx, st, messages.EventMatchAccepted, uuid.New(), uuid.New(), struct{}{}))

	now := time.Now().UTC().Add(time.Second)
	fp := &fakeProducer{err: errors.New("broker unavailable")}
	d := NewDispatcher(st, fp, messages.TopicDomainEvents, nil, nil)
	d.now = func() time.Time { return now }

	d.RunOnce(ctx)
	row := st.Outbox()[0]
	require.Nil(t, row.PublishedAt)
	require.Equal(t, 1, row.Attempts)
	require.Equal(t, "broker unavailable", *row.LastError)
	require.Equal(t, now.Add(5*time.Second), row.NextAttemptAt)
	require.Equal(t, "broker unavailable", d.Stats().LastError)

	// second failure uses the next step
	now = now.Add(5 * time.Second)
	d.RunOnce(ctx)
	row = st.Outbox()[0]
	require.Equal(t, 2, row.Attempts)
	require.Equal(t, now.Add(30*time.Second), row.NextAttemptAt)

	fp.err = nil
	now = now.Add(30 * time.Second)
	d.RunOnce(ctx)
	row = st.Outbox()[0]
	require.NotNil(t, row.PublishedAt)
	require.Nil(t, row.LastError)
}

func TestDispatcher_Run_StopsOnContextCancel(t *testing.T) {
	st := memstore.New()
	d := NewDispatcher(st, &fakeProducer{}, "t", nil, nil).WithSettings(5*time.Millisecond, 1, 1, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := d.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, d.Stats().LastCycleAt)
}

func TestDispatcher_Trigger(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	require.NoError(t, Emit(ctx, st, messages.EventMatchCreated, uuid.New(), uuid.New(), struct{}{}))

	fp := &fakeProducer{}
	d := NewDispatcher(st, fp, "t", nil, nil).WithSettings(time.Hour, 10, 1, time.Second)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		_ = d.Run(runCtx)
		close(done)
	}()
	d.Trigger()

	require.Eventually(t, func() bool { return d.Stats().TotalPublished == 1 }, time.Second, 5*time.Millisecond)
	require.NotNil(t, d.Stats().LastTriggerAt)
	cancel()
	<-done
}
