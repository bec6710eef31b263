package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// Publisher is the slice of a pubsub topic the transport needs.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error)
}

type topicPublisher struct {
	topic *pubsub.Topic
}

func (p *topicPublisher) Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error) {
	res := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attributes})
	return res.Get(ctx)
}

// NewPubSubClient uses PUBSUB_CREDENTIALS_JSON when given, otherwise
// application default credentials.
func NewPubSubClient(ctx context.Context, projectID, credentialsJSON string) (*pubsub.Client, error) {
	if projectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if credentialsJSON != "" {
		return pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	return pubsub.NewClient(ctx, projectID)
}

// PubSubTransport hands notifications to the messaging gateway (whatsapp,
// sms, registered post) by publishing them to a topic. The server-assigned
// message id becomes the notification's external id.
type PubSubTransport struct {
	publisher Publisher
}

func NewPubSubTransport(client *pubsub.Client, topic string) *PubSubTransport {
	return &PubSubTransport{publisher: &topicPublisher{topic: client.Topic(topic)}}
}

func NewPubSubTransportWithPublisher(p Publisher) *PubSubTransport {
	return &PubSubTransport{publisher: p}
}

type notificationEnvelope struct {
	NotificationID string                 `json:"notification_id"`
	InvoiceID      string                 `json:"invoice_id"`
	Channel        string                 `json:"channel"`
	Recipient      string                 `json:"recipient"`
	Subject        string                 `json:"subject,omitempty"`
	Content        string                 `json:"content"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

func (t *PubSubTransport) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	data, err := json.Marshal(notificationEnvelope{
		NotificationID: msg.NotificationID,
		InvoiceID:      msg.InvoiceID,
		Channel:        string(msg.Type),
		Recipient:      msg.Recipient,
		Subject:        msg.Subject,
		Content:        msg.Content,
		Metadata:       msg.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode notification %s: %w", msg.NotificationID, err)
	}

	id, err := t.publisher.Publish(ctx, data, map[string]string{
		"channel":         string(msg.Type),
		"notification_id": msg.NotificationID,
	})
	if err != nil {
		return "", &TransportError{Channel: msg.Type, Err: err}
	}
	return id, nil
}
