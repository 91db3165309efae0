package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/BearBump/RelayBox/internal/broker/messages"
	"github.com/BearBump/RelayBox/internal/integrations/notify"
	"github.com/BearBump/RelayBox/internal/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type senderMock struct{ mock.Mock }

func (m *senderMock) Send(ctx context.Context, n notify.Notification) error {
	return m.Called(ctx, n).Error(0)
}

func envelope(t *testing.T, typ string, actor uuid.UUID, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	b, err := json.Marshal(messages.DomainEvent{
		EventID: uuid.New(), Type: typ, Version: messages.DomainEventVersion,
		AggregateID: uuid.New(), ActorID: actor, Data: raw,
	})
	require.NoError(t, err)
	return b
}

func TestHandle_MatchAcceptedNotifiesSender(t *testing.T) {
	sender, carrier := uuid.New(), uuid.New()
	s := &senderMock{}
	s.On("Send", mock.Anything, mock.MatchedBy(func(n notify.Notification) bool {
		return n.UserID == sender && n.Type == messages.EventMatchAccepted && n.Title == "Match accepted"
	})).Return(nil).Once()

	h := NewHandler(s, nil, nil)
	err := h.Handle(context.Background(), nil, envelope(t, messages.EventMatchAccepted, carrier, messages.MatchEvent{
		MatchID: uuid.New(), SenderID: sender, CarrierID: carrier, Status: "CONFIRMED",
	}))
	require.NoError(t, err)
	s.AssertExpectations(t)
}

func TestHandle_SkipsActorAndCountsFailures(t *testing.T) {
	sender, carrier := uuid.New(), uuid.New()
	s := &senderMock{}
	s.On("Send", mock.Anything, mock.MatchedBy(func(n notify.Notification) bool { return n.UserID == sender })).
		Return(errors.New("smtp down")).Once()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := NewHandler(s, nil, m)

	// the carrier cancelled, so only the sender is told
	err := h.Handle(context.Background(), nil, envelope(t, messages.EventMatchCancelled, carrier, messages.MatchEvent{
		MatchID: uuid.New(), SenderID: sender, CarrierID: carrier, Status: "CANCELLED",
	}))
	require.NoError(t, err)
	s.AssertExpectations(t)
	s.AssertNumberOfCalls(t, "Send", 1)

	n, err := testutil.GatherAndCount(reg, "relaybox_notifications_total")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestHandle_MalformedIsSkipped(t *testing.T) {
	s := &senderMock{}
	h := NewHandler(s, nil, nil)

	require.NoError(t, h.Handle(context.Background(), nil, []byte("{not json")))
	require.NoError(t, h.Handle(context.Background(), nil, envelope(t, messages.EventPaymentFailed, uuid.New(), "oops")))
	require.NoError(t, h.Handle(context.Background(), nil, envelope(t, "unknown.event", uuid.New(), map[string]string{})))
	s.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestBuild_Recipients(t *testing.T) {
	sender, from, to := uuid.New(), uuid.New(), uuid.New()
	matchID := uuid.New()

	raw, _ := json.Marshal(messages.RelayEvent{MatchID: matchID, SenderID: sender, FromCarrierID: from, ToCarrierID: to, Location: "Lyon"})
	created, err := Build(messages.DomainEvent{Type: messages.EventRelayCreated, Data: raw})
	require.NoError(t, err)
	require.Len(t, created, 2)
	require.Equal(t, sender, created[0].UserID)
	require.Equal(t, to, created[1].UserID)
	require.Contains(t, created[1].Message, "Lyon")
	require.Equal(t, matchID, created[1].RelatedEntityID)

	accepted, err := Build(messages.DomainEvent{Type: messages.EventRelayAccepted, Data: raw})
	require.NoError(t, err)
	require.Equal(t, from, accepted[1].UserID)

	reason := "card_declined"
	raw, _ = json.Marshal(messages.PaymentEvent{SenderID: sender, Amount: decimal.NewFromInt(12), Currency: "usd", FailureReason: &reason})
	failed, err := Build(messages.DomainEvent{Type: messages.EventPaymentFailed, Data: raw})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "Payment of 12.00 usd failed: card_declined.", failed[0].Message)

	raw, _ = json.Marshal(messages.MatchEvent{SenderID: sender, CarrierID: from})
	confirmed, err := Build(messages.DomainEvent{Type: messages.EventDeliveryConfirmed, Data: raw})
	require.NoError(t, err)
	require.Equal(t, from, confirmed[0].UserID)
}
