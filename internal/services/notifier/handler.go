// Package notifier turns published domain events into user notifications.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BearBump/RelayBox/internal/broker/messages"
	"github.com/BearBump/RelayBox/internal/integrations/notify"
	"github.com/BearBump/RelayBox/internal/logger"
	"github.com/BearBump/RelayBox/internal/metrics"
	"github.com/google/uuid"
)

type Handler struct {
	sender  notify.Sender
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewHandler(sender notify.Sender, log *logger.Logger, m *metrics.Metrics) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{sender: sender, log: log, metrics: m}
}

// Handle is a kafka.Handler. It never fails: a broken message or an
// unreachable channel must not block the partition.
func (h *Handler) Handle(ctx context.Context, _ []byte, value []byte) error {
	var ev messages.DomainEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		h.log.Warn(ctx, "skip malformed domain event", err)
		h.metrics.IncNotification("malformed", false)
		return nil
	}
	ctx = h.log.WithFields(ctx, map[string]any{
		"event_id":   ev.EventID.String(),
		"event_type": ev.Type,
		"package_id": ev.AggregateID.String(),
	})

	list, err := Build(ev)
	if err != nil {
		h.log.Warn(ctx, "skip undecodable event payload", err)
		h.metrics.IncNotification(ev.Type, false)
		return nil
	}
	for _, n := range list {
		if n.UserID == uuid.Nil || n.UserID == ev.ActorID {
			continue
		}
		err := h.sender.Send(ctx, n)
		if err != nil {
			h.log.Warn(h.log.WithUserID(ctx, n.UserID.String()), "notification not delivered", err)
		}
		h.metrics.IncNotification(ev.Type, err == nil)
	}
	return nil
}

// Build maps a domain event to the notifications it produces. Unknown
// event types produce none.
func Build(ev messages.DomainEvent) ([]notify.Notification, error) {
	switch ev.Type {
	case messages.EventMatchCreated, messages.EventMatchAccepted, messages.EventMatchStatusChanged,
		messages.EventMatchDelivered, messages.EventMatchCancelled, messages.EventDeliveryConfirmed:
		var d messages.MatchEvent
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return nil, err
		}
		return matchNotifications(ev, d), nil

	case messages.EventPaymentRequired, messages.EventPaymentCompleted, messages.EventPaymentFailed:
		var d messages.PaymentEvent
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return nil, err
		}
		return paymentNotifications(ev, d), nil

	case messages.EventRelayCreated, messages.EventRelayAccepted:
		var d messages.RelayEvent
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return nil, err
		}
		return relayNotifications(ev, d), nil

	case messages.EventCheckpointAdded:
		var d messages.CheckpointEvent
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return nil, err
		}
		return []notify.Notification{
			note(d.SenderID, ev, "Package location updated", "Your package was seen at "+d.Location+".", d.PackageID),
		}, nil
	}
	return nil, nil
}

func matchNotifications(ev messages.DomainEvent, d messages.MatchEvent) []notify.Notification {
	switch ev.Type {
	case messages.EventMatchCreated:
		return []notify.Notification{
			note(d.SenderID, ev, "New delivery offer", fmt.Sprintf("A carrier offered to deliver your package for %s.", d.Price.StringFixed(2)), d.MatchID),
		}
	case messages.EventMatchAccepted:
		return []notify.Notification{
			note(d.SenderID, ev, "Match accepted", "The carrier accepted your package.", d.MatchID),
		}
	case messages.EventMatchStatusChanged:
		return []notify.Notification{
			note(d.SenderID, ev, "Delivery status updated", "Your delivery is now "+d.Status+".", d.MatchID),
		}
	case messages.EventMatchDelivered:
		return []notify.Notification{
			note(d.SenderID, ev, "Package delivered", "Your package has been delivered.", d.MatchID),
		}
	case messages.EventMatchCancelled:
		return []notify.Notification{
			note(d.SenderID, ev, "Match cancelled", "A delivery match for your package was cancelled.", d.MatchID),
			note(d.CarrierID, ev, "Match cancelled", "A delivery match you were assigned to was cancelled.", d.MatchID),
		}
	case messages.EventDeliveryConfirmed:
		return []notify.Notification{
			note(d.CarrierID, ev, "Delivery confirmed", "The sender confirmed receipt of the package.", d.MatchID),
		}
	}
	return nil
}

func paymentNotifications(ev messages.DomainEvent, d messages.PaymentEvent) []notify.Notification {
	amount := d.Amount.StringFixed(2) + " " + d.Currency
	switch ev.Type {
	case messages.EventPaymentRequired:
		return []notify.Notification{
			note(d.SenderID, ev, "Payment required", "Please pay "+amount+" to start the delivery.", d.MatchID),
		}
	case messages.EventPaymentCompleted:
		return []notify.Notification{
			note(d.SenderID, ev, "Payment received", "Your payment of "+amount+" was successful.", d.MatchID),
			note(d.CarrierID, ev, "Delivery paid", "The sender paid for the delivery.", d.MatchID),
		}
	case messages.EventPaymentFailed:
		reason := "the payment was declined"
		if d.FailureReason != nil {
			reason = *d.FailureReason
		}
		return []notify.Notification{
			note(d.SenderID, ev, "Payment failed", "Payment of "+amount+" failed: "+reason+".", d.MatchID),
		}
	}
	return nil
}

func relayNotifications(ev messages.DomainEvent, d messages.RelayEvent) []notify.Notification {
	if ev.Type == messages.EventRelayCreated {
		return []notify.Notification{
			note(d.SenderID, ev, "Package handed over", "Your package will be handed to another carrier at "+d.Location+".", d.MatchID),
			note(d.ToCarrierID, ev, "Relay request", "A package waits for you at "+d.Location+".", d.MatchID),
		}
	}
	return []notify.Notification{
		note(d.SenderID, ev, "Relay accepted", "The next carrier picked up your package at "+d.Location+".", d.MatchID),
		note(d.FromCarrierID, ev, "Handoff complete", "The next carrier picked up the package.", d.MatchID),
	}
}

func note(to uuid.UUID, ev messages.DomainEvent, title, msg string, related uuid.UUID) notify.Notification {
	return notify.Notification{
		UserID:          to,
		Type:            ev.Type,
		Title:           title,
		Message:         msg,
		RelatedEntityID: related,
		Data:            ev.Data,
	}
}
