// Package inbox reads reply and bounce signals from a RabbitMQ queue.
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is the subset of the RabbitMQ client the inbox needs
type Broker interface {
	Get(ctx context.Context) (amqp.Delivery, bool, error)
	Ack(deliveryTag uint64) error
	Nack(deliveryTag uint64, requeue bool) error
}

// RabbitMQ is an Inbox backed by a RabbitMQ queue. Fetched messages stay
// unacknowledged until MarkRead or Requeue is called for their signal.
type RabbitMQ struct {
	broker Broker
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]uint64
}

// NewRabbitMQ creates an inbox on broker
func NewRabbitMQ(broker Broker, logger *slog.Logger) *RabbitMQ {
	return &RabbitMQ{
		broker:  broker,
		logger:  logger,
		pending: make(map[string]uint64),
	}
}

// FetchUnreadSignals pulls up to limit messages off the queue. Malformed
// messages are rejected without requeue and skipped.
func (i *RabbitMQ) FetchUnreadSignals(ctx context.Context, limit int) ([]domain.Signal, error) {
	var signals []domain.Signal

	for len(signals) < limit {
		msg, ok, err := i.broker.Get(ctx)
		if err != nil {
			if len(signals) > 0 {
				// Keep what was fetched; the error surfaces on the next poll
				i.logger.Warn("Inbox fetch interrupted",
					slog.Int("fetched", len(signals)),
					slog.Any("error", err),
				)
				return signals, nil
			}
			return nil, fmt.Errorf("failed to fetch inbox signals: %w", err)
		}
		if !ok {
			break
		}

		signal, err := Decode(msg.Body)
		if err != nil {
			i.logger.Warn("Discarding malformed inbox message",
				slog.String("message_id", msg.MessageId),
				slog.Any("error", err),
			)
			if err := i.broker.Nack(msg.DeliveryTag, false); err != nil {
				i.logger.Error("Failed to reject inbox message",
					slog.Any("error", err),
				)
			}
			continue
		}

		i.mu.Lock()
		if _, dup := i.pending[signal.ID]; dup {
			i.mu.Unlock()
			// Same signal published twice; the first copy is still pending
			if err := i.broker.Ack(msg.DeliveryTag); err != nil {
				i.logger.Error("Failed to ack duplicate signal",
					slog.String("signal_id", signal.ID),
					slog.Any("error", err),
				)
			}
			continue
		}
		i.pending[signal.ID] = msg.DeliveryTag
		i.mu.Unlock()

		signals = append(signals, signal)
	}

	return signals, nil
}

// MarkRead acknowledges the signal's message
func (i *RabbitMQ) MarkRead(ctx context.Context, signalID string) error {
	tag, err := i.take(signalID)
	if err != nil {
		return err
	}
	return i.broker.Ack(tag)
}

// Requeue returns the signal's message to the queue for a later poll
func (i *RabbitMQ) Requeue(ctx context.Context, signalID string) error {
	tag, err := i.take(signalID)
	if err != nil {
		return err
	}
	return i.broker.Nack(tag, true)
}

func (i *RabbitMQ) take(signalID string) (uint64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	tag, ok := i.pending[signalID]
	if !ok {
		return 0, fmt.Errorf("signal %s is not pending", signalID)
	}
	delete(i.pending, signalID)
	return tag, nil
}
