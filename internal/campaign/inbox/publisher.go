package inbox

import (
	"context"

	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
)

// BytePublisher publishes raw message bodies, such as the shared RabbitMQ client
type BytePublisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Publisher puts signals on the inbox queue
type Publisher struct {
	broker BytePublisher
}

// NewPublisher creates a signal publisher on broker
func NewPublisher(broker BytePublisher) *Publisher {
	return &Publisher{broker: broker}
}

// Publish encodes signal and publishes it
func (p *Publisher) Publish(ctx context.Context, signal domain.Signal) error {
	body, err := Encode(signal)
	if err != nil {
		return err
	}
	return p.broker.PublishWithRetry(ctx, body, "application/json")
}
