package notify

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

type publishFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// PubSub publishes the JSON summary to a Pub/Sub topic.
type PubSub struct {
	publish publishFunc
	close   func() error
}

// NewPubSub dials Pub/Sub and returns a notifier for topic. Close releases
// the client.
func NewPubSub(ctx context.Context, projectID, topic string) (*PubSub, error) {
	if projectID == "" || topic == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	p := NewPubSubWithPublisher(client.Publisher(topic))
	stop := p.close
	p.close = func() error {
		if err := stop(); err != nil {
			return err
		}
		return client.Close()
	}
	return p, nil
}

// NewPubSubWithPublisher wraps an existing topic publisher.
func NewPubSubWithPublisher(publisher *pubsub.Publisher) *PubSub {
	return &PubSub{
		publish: func(ctx context.Context, msg *pubsub.Message) (string, error) {
			return publisher.Publish(ctx, msg).Get(ctx)
		},
		close: func() error {
			publisher.Stop()
			return nil
		},
	}
}

// Notify publishes the summary and waits for the server ack.
func (p *PubSub) Notify(ctx context.Context, summary crawler.PassSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"pass_id": summary.ID,
			"country": summary.Country,
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	_, err = p.publish(ctx, msg)
	observe("pubsub", err)
	if err != nil {
		return fmt.Errorf("publish summary: %w", err)
	}
	return nil
}

// Close flushes pending messages and releases the client.
func (p *PubSub) Close() error {
	if p.close == nil {
		return nil
	}
	return p.close()
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
