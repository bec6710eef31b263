package utils

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/tevani-core/models"
)

var (
	ErrTransport            = errors.New("notification transport failure")
	ErrChannelNotConfigured = errors.New("no transport configured for channel")
)

// TransportError is a recoverable dispatch failure (auth, network, timeout).
// The caller records it on the notification instead of failing.
type TransportError struct {
	Channel models.NotificationType
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Channel, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// OutboundMessage is what the consent manager hands to a channel.
type OutboundMessage struct {
	NotificationID string
	InvoiceID      string
	Type           models.NotificationType
	Recipient      string
	Subject        string
	Content        string
	Metadata       map[string]interface{}
}

// NotificationTransport delivers a message on one channel and returns the
// provider message id.
type NotificationTransport interface {
	Send(ctx context.Context, msg OutboundMessage) (string, error)
}

// TransportRouter dispatches by notification type.
type TransportRouter struct {
	transports map[models.NotificationType]NotificationTransport
}

func NewTransportRouter() *TransportRouter {
	return &TransportRouter{transports: make(map[models.NotificationType]NotificationTransport)}
}

func (r *TransportRouter) Register(channel models.NotificationType, t NotificationTransport) *TransportRouter {
	r.transports[channel] = t
	return r
}

func (r *TransportRouter) Has(channel models.NotificationType) bool {
	_, ok := r.transports[channel]
	return ok
}

func (r *TransportRouter) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	t, ok := r.transports[msg.Type]
	if !ok {
		return "", &TransportError{Channel: msg.Type, Err: ErrChannelNotConfigured}
	}
	id, err := t.Send(ctx, msg)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return "", err
		}
		return "", &TransportError{Channel: msg.Type, Err: err}
	}
	return id, nil
}

// LogTransport accepts every message and only writes it to the log. Used for
// channels that have no provider configured in the current environment.
type LogTransport struct {
	Logger *logrus.Logger
}

func (t LogTransport) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	t.Logger.WithFields(logrus.Fields{
		"notification_id": msg.NotificationID,
		"invoice_id":      msg.InvoiceID,
		"channel":         msg.Type,
		"recipient":       msg.Recipient,
	}).Info("notification accepted by log transport")
	return fmt.Sprintf("%s_%s", msg.Type, msg.NotificationID), nil
}
