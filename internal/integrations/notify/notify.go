// Package notify is the contract of the notification gateway.
package notify

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/BearBump/RelayBox/internal/logger"
	"github.com/google/uuid"
)

type Notification struct {
	UserID          uuid.UUID       `json:"userId"`
	Type            string          `json:"type"`
	Title           string          `json:"title"`
	Message         string          `json:"message"`
	RelatedEntityID uuid.UUID       `json:"relatedEntityId"`
	Data            json.RawMessage `json:"data,omitempty"`
}

type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Fanout delivers to every sender and joins their errors. One failing
// channel does not stop the others.
type Fanout []Sender

func (f Fanout) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSender writes notifications to the log. Used when no webhook is configured.
type LogSender struct {
	Log *logger.Logger
}

func (s LogSender) Send(ctx context.Context, n Notification) error {
	s.Log.Info(s.Log.WithFields(ctx, map[string]any{
		"notify_user_id": n.UserID.String(),
		"notify_type":    n.Type,
		"related_id":     n.RelatedEntityID.String(),
	}), n.Title)
	return nil
}
