package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultArchiveQueue = "tdee.deadletter.archive"
	deadLetterBinding   = "sync.dead.#"
	redeliveryThrottle  = 5 * time.Second
)

var ErrDeliveriesClosed = errors.New("delivery channel closed")

// DeliveryHandler processes one message body. A nil error acks the message,
// an error requeues it.
type DeliveryHandler func(ctx context.Context, body []byte) error

// DeadLetterConsumer reads dead letters from a durable queue bound to the
// dead-letter exchange
type DeadLetterConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	logger  *slog.Logger
}

// NewDeadLetterConsumer dials the broker and declares the exchange, the queue
// and its binding
func NewDeadLetterConsumer(url, queue string, logger *slog.Logger) (*DeadLetterConsumer, error) {
	if queue == "" {
		queue = DefaultArchiveQueue
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// Prefetch 1 keeps the archive in delivery order
	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := ch.ExchangeDeclare(DeadLetterExchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(queue, deadLetterBinding, DeadLetterExchange, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	return &DeadLetterConsumer{conn: conn, channel: ch, queue: queue, logger: logger}, nil
}

// Listen hands every delivery to handle until ctx ends or the link drops
func (c *DeadLetterConsumer) Listen(ctx context.Context, handle DeliveryHandler) error {
	msgs, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Dead-letter consumer is online", "queue", c.queue, "binding", deadLetterBinding)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return ErrDeliveriesClosed
			}

			if err := handle(ctx, d.Body); err != nil {
				if errors.Is(err, ErrMalformedDeadLetter) {
					c.logger.Error("Dropping malformed dead letter", "message_id", d.MessageId, "error", err)
					_ = d.Nack(false, false)
					continue
				}
				c.logger.Error("Dead letter handling failed, requeueing", "message_id", d.MessageId, "error", err)
				select {
				case <-time.After(redeliveryThrottle):
				case <-ctx.Done():
				}
				_ = d.Nack(false, true)
				continue
			}

			if err := d.Ack(false); err != nil {
				c.logger.Error("Failed to ack dead letter", "message_id", d.MessageId, "error", err)
			}
		}
	}
}

// Close terminates the channel and the connection
func (c *DeadLetterConsumer) Close() {
	c.logger.Info("Shutting down dead-letter consumer")
	c.channel.Close()
	c.conn.Close()
}
