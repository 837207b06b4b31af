package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	DeadLetterExchange string
	RoutingKey         string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// URL returns the AMQP connection URL with credentials escaped
func (c *Config) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   c.VHost,
	}
	return u.String()
}

// Client is a RabbitMQ client bound to one exchange and queue. When the
// broker drops the channel it reconnects in the background; calls made
// while disconnected fail with ErrNotConnected.
type Client struct {
	config *Config
	logger *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	isConnected atomic.Bool
	closed      atomic.Bool
	done        chan struct{}
}

// ErrNotConnected is returned when the client has no open channel
var ErrNotConnected = errors.New("not connected to RabbitMQ")

const (
	defaultPublishRetries = 3
	defaultPublishDelay   = 100 * time.Millisecond
	defaultBackoffMult    = 2.0
)

// NewClient dials RabbitMQ, declares the topology and starts watching the channel
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
		done:   make(chan struct{}),
	}

	conn, channel, err := client.dialWithRetry()
	if err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}
	client.attach(conn, channel)

	client.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", config.ExchangeName),
		slog.String("queue", config.QueueName),
		slog.String("dead_letter_exchange", config.DeadLetterExchange),
	)
	return client, nil
}

// dialWithRetry makes up to RetryAttempts connection attempts
func (c *Client) dialWithRetry() (*amqp.Connection, *amqp.Channel, error) {
	maxAttempts := max(c.config.RetryAttempts, 1)

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.String("host", c.config.Host),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
		)

		var conn *amqp.Connection
		var channel *amqp.Channel
		conn, channel, err = c.dial()
		if err == nil {
			return conn, channel, nil
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < maxAttempts && !c.sleep(c.config.RetryInterval) {
			break
		}
	}
	return nil, nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxAttempts, err)
}

// dial opens a connection and channel and declares the topology
func (c *Client) dial() (*amqp.Connection, *amqp.Channel, error) {
	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	conn, err := amqp.DialConfig(c.config.URL(), amqpConfig)
	if err != nil {
		return nil, nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := c.declare(channel); err != nil {
		channel.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	return conn, channel, nil
}

// declare sets up the dead-letter exchange (if any), the exchange, the
// queue and its binding
func (c *Client) declare(ch *amqp.Channel) error {
	if dlx := c.config.DeadLetterExchange; dlx != "" {
		if err := ch.ExchangeDeclare(dlx, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
		}
		dead := c.deadLetterQueue()
		if _, err := ch.QueueDeclare(dead, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dead-letter queue: %w", err)
		}
		if err := ch.QueueBind(dead, "", dlx, false, nil); err != nil {
			return fmt.Errorf("failed to bind dead-letter queue: %w", err)
		}
	}

	err := ch.ExchangeDeclare(
		c.config.ExchangeName,
		c.config.ExchangeType,
		c.config.ExchangeDurable,
		c.config.ExchangeAutoDelete,
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		c.config.QueueName,
		c.config.QueueDurable,
		c.config.QueueAutoDelete,
		c.config.QueueExclusive,
		false, // no-wait
		c.queueArgs(),
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(c.config.QueueName, c.config.RoutingKey, c.config.ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// attach installs a fresh connection and starts watching its channel
func (c *Client) attach(conn *amqp.Connection, channel *amqp.Channel) {
	closeCh := channel.NotifyClose(make(chan *amqp.Error, 1))

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.mu.Unlock()

	c.isConnected.Store(true)
	go c.watch(closeCh)
}

// watch waits for the channel to close and reconnects unless the client was closed
func (c *Client) watch(closeCh <-chan *amqp.Error) {
	amqpErr, ok := <-closeCh
	c.isConnected.Store(false)
	if c.closed.Load() {
		return
	}

	if ok && amqpErr != nil {
		c.logger.Error("RabbitMQ channel closed",
			slog.Int("code", amqpErr.Code),
			slog.String("reason", amqpErr.Reason),
		)
	}

	c.mu.Lock()
	if c.conn != nil && !c.conn.IsClosed() {
		c.conn.Close()
	}
	c.mu.Unlock()

	for !c.closed.Load() {
		conn, channel, err := c.dial()
		if err == nil {
			c.attach(conn, channel)
			c.logger.Info("Reconnected to RabbitMQ")
			return
		}
		c.logger.Warn("RabbitMQ reconnect failed",
			slog.Any("error", err),
			slog.Duration("retry_after", c.retryInterval()),
		)
		if !c.sleep(c.retryInterval()) {
			return
		}
	}
}

func (c *Client) retryInterval() time.Duration {
	if c.config.RetryInterval <= 0 {
		return time.Second
	}
	return c.config.RetryInterval
}

// sleep waits for d and reports false if the client was closed meanwhile
func (c *Client) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.done:
		return false
	}
}

// Get fetches a single message from the queue without auto-ack. ok is
// false when the queue is empty.
func (c *Client) Get(ctx context.Context) (amqp.Delivery, bool, error) {
	if err := ctx.Err(); err != nil {
		return amqp.Delivery{}, false, err
	}
	if !c.IsConnected() {
		return amqp.Delivery{}, false, ErrNotConnected
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	msg, ok, err := c.channel.Get(c.config.QueueName, false)
	if err != nil {
		return amqp.Delivery{}, false, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, ok, nil
}

// Ack acknowledges a delivery fetched with Get. Tags from a channel that
// has since been replaced are rejected by the broker.
func (c *Client) Ack(deliveryTag uint64) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.channel.Ack(deliveryTag, false); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// Nack rejects a delivery fetched with Get, optionally returning it to the
// queue. Without requeue it goes to the dead-letter exchange, if any.
func (c *Client) Nack(deliveryTag uint64, requeue bool) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.channel.Nack(deliveryTag, false, requeue); err != nil {
		return fmt.Errorf("failed to nack message: %w", err)
	}
	return nil
}

// queueArgs routes rejected messages to the dead-letter exchange when one
// is configured
func (c *Client) queueArgs() amqp.Table {
	if c.config.DeadLetterExchange == "" {
		return nil
	}
	return amqp.Table{"x-dead-letter-exchange": c.config.DeadLetterExchange}
}

func (c *Client) deadLetterQueue() string {
	return c.config.QueueName + ".dead"
}

// Close stops reconnecting and closes the connection
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	c.isConnected.Store(false)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Warn("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			return fmt.Errorf("failed to close RabbitMQ connection: %w", err)
		}
	}

	c.logger.Info("RabbitMQ connection closed")
	return nil
}

// IsConnected reports whether the channel is open
func (c *Client) IsConnected() bool {
	return c.isConnected.Load()
}

// publishBackoff returns the wait before retry number attempt (0-based)
func (c *Client) publishBackoff(attempt int) time.Duration {
	base := c.config.PublishRetryDelay
	if base <= 0 {
		base = defaultPublishDelay
	}
	mult := c.config.PublishBackoffMult
	if mult <= 0 {
		mult = defaultBackoffMult
	}
	return time.Duration(float64(base) * math.Pow(mult, float64(attempt)))
}

// PublishWithRetry publishes a persistent message, retrying failed
// publishes with exponential backoff until ctx is done
func (c *Client) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	maxRetries := c.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = defaultPublishRetries
	}

	msg := amqp.Publishing{
		ContentType:  contentType,
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = c.publish(ctx, msg)
		if lastErr == nil {
			c.logger.Debug("Message published",
				slog.Int("attempt", attempt+1),
				slog.Int("body_size", len(body)),
			)
			return nil
		}

		if attempt == maxRetries {
			break
		}

		delay := c.publishBackoff(attempt)
		c.logger.Warn("Failed to publish message, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", maxRetries),
			slog.Duration("retry_after", delay),
			slog.Any("error", lastErr),
		)

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("failed to publish message: %w", ctx.Err())
		}
	}

	return fmt.Errorf("failed to publish message after %d attempts: %w", maxRetries+1, lastErr)
}

func (c *Client) publish(ctx context.Context, msg amqp.Publishing) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.channel.PublishWithContext(ctx, c.config.ExchangeName, c.config.RoutingKey, false, false, msg)
}
