package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// ErrUnavailable marks a broker transport failure. A publish that fails with
// it never rolls back work the caller already committed elsewhere.
var ErrUnavailable = errors.New("broker: unavailable")

// ErrMalformed marks an event body the handler can never process. Handlers
// wrap it to have the delivery rejected without requeue.
var ErrMalformed = errors.New("broker: malformed event")

const reconnectDelay = 2 * time.Second

// Handler processes one raw event body. Returning nil acknowledges the
// delivery; returning an error rejects it.
type Handler func(ctx context.Context, body []byte) error

// Channel is a topic-based publish/subscribe transport over RabbitMQ.
// The underlying connection is established lazily on first use; concurrent
// first callers share a single in-flight connect attempt. Consumers started
// with Subscribe reconnect and resubscribe on their own after transport loss.
type Channel struct {
	url string
	log zerolog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	pending chan struct{}
	closed  bool
}

func NewChannel(url string, log zerolog.Logger) *Channel {
	return &Channel{url: url, log: log}
}

// ensure returns a live AMQP channel, dialing if needed. While one caller
// dials, every other caller waits on the same attempt instead of opening a
// duplicate connection.
func (c *Channel) ensure(ctx context.Context) (*amqp.Channel, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: channel closed", ErrUnavailable)
		}
		if c.ch != nil && !c.conn.IsClosed() {
			ch := c.ch
			c.mu.Unlock()
			return ch, nil
		}

		if c.pending == nil {
			pending := make(chan struct{})
			c.pending = pending
			c.mu.Unlock()

			conn, ch, err := dial(c.url)

			c.mu.Lock()
			if err == nil {
				c.conn, c.ch = conn, ch
			}
			c.pending = nil
			c.mu.Unlock()
			close(pending)

			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			c.log.Info().Str("url", c.url).Msg("connected to broker")
			return ch, nil
		}

		pending := c.pending
		c.mu.Unlock()
		select {
		case <-pending:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// invalidate drops the cached connection so the next caller redials.
func (c *Channel) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		c.ch.Close()
		c.ch = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Publish JSON-encodes payload and publishes it under the routing key on a
// topic exchange, declaring the exchange if it does not exist yet. Delivery
// is best effort: with no bound consumer the event is simply lost.
func (c *Channel) Publish(ctx context.Context, exchange, key string, payload any) error {
	ch, err := c.ensure(ctx)
	if err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(exchange, "topic", false, false, false, false, nil); err != nil {
		c.invalidate()
		return fmt.Errorf("%w: declare exchange %s: %v", ErrUnavailable, exchange, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("broker: encode event: %w", err)
	}

	err = ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		c.invalidate()
		return fmt.Errorf("%w: publish to %s/%s: %v", ErrUnavailable, exchange, key, err)
	}

	c.log.Debug().Str("exchange", exchange).Str("key", key).Msg("event published")
	return nil
}

// Subscribe starts a long-lived consumer goroutine for the queue, bound to
// the routing key on the topic exchange. Each delivery is passed to handler
// and acked when it returns nil. The consumer survives transport loss: it
// redials and resubscribes until ctx is done or the Channel is closed.
func (c *Channel) Subscribe(ctx context.Context, exchange, key, queue string, handler Handler) {
	go func() {
		for {
			if err := c.consume(ctx, exchange, key, queue, handler); err != nil {
				c.log.Error().Err(err).Str("queue", queue).Msg("consumer stopped, will retry")
			}
			if ctx.Err() != nil || c.isClosed() {
				return
			}

			select {
			case <-time.After(reconnectDelay):
			case <-ctx.Done():
				return
			}
		}
	}()
}

// topology is the declare/bind surface of *amqp.Channel, split out so the
// routing setup can be verified without a live server.
type topology interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// declareTopology sets up the route a consumer depends on: the topic
// exchange, the queue, and the binding between them. Without the binding the
// exchange has no matching route and drops every publication.
func declareTopology(ch topology, exchange, key, queue string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", false, false, false, false, nil); err != nil {
		return fmt.Errorf("%w: declare exchange %s: %v", ErrUnavailable, exchange, err)
	}
	if _, err := ch.QueueDeclare(queue, false, false, false, false, nil); err != nil {
		return fmt.Errorf("%w: declare queue %s: %v", ErrUnavailable, queue, err)
	}
	if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
		return fmt.Errorf("%w: bind queue %s to %s/%s: %v", ErrUnavailable, queue, exchange, key, err)
	}
	return nil
}

func (c *Channel) consume(ctx context.Context, exchange, key, queue string, handler Handler) error {
	ch, err := c.ensure(ctx)
	if err != nil {
		return err
	}

	if err := declareTopology(ch, exchange, key, queue); err != nil {
		c.invalidate()
		return err
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		c.invalidate()
		return fmt.Errorf("%w: consume %s: %v", ErrUnavailable, queue, err)
	}
	c.log.Info().Str("queue", queue).Str("exchange", exchange).Str("key", key).Msg("consuming events")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				c.invalidate()
				return fmt.Errorf("%w: delivery stream closed", ErrUnavailable)
			}
			c.handleDelivery(ctx, queue, d, handler)
		}
	}
}

// handleDelivery acks a processed event and rejects a failed one. Malformed
// bodies are rejected without requeue: redelivering them would loop forever.
// Any other handler failure is treated as transient and the event goes back
// to the queue for redelivery.
func (c *Channel) handleDelivery(ctx context.Context, queue string, d amqp.Delivery, handler Handler) {
	err := handler(ctx, d.Body)
	if err == nil {
		d.Ack(false)
		return
	}

	if errors.Is(err, ErrMalformed) {
		c.log.Error().Err(err).Str("queue", queue).Msg("rejecting malformed event")
		d.Nack(false, false)
		return
	}

	c.log.Error().Err(err).Str("queue", queue).Msg("event handler failed, requeueing")
	d.Nack(false, true)
}

// Close shuts the transport down, channel before connection. Subsequent
// publishes fail with ErrUnavailable and consumers stop retrying.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.ch != nil {
		c.ch.Close()
		c.ch = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
