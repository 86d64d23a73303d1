package notify

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// PubSubTransport delivers messages to a Google Cloud Pub/Sub topic.
type PubSubTransport struct {
	topic *pubsub.Topic
}

// NewPubSubTransport connects a publisher client for the given topic.
func NewPubSubTransport(ctx context.Context, projectID, topicName string) (*PubSubTransport, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	return &PubSubTransport{topic: client.Topic(topicName)}, nil
}

// Publish sends one message and blocks until the server acknowledges it.
func (t *PubSubTransport) Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error) {
	if t.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	result := t.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attributes,
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}
