// Package broker publishes queue operations that gave up syncing to a
// RabbitMQ dead-letter exchange so they can be inspected or replayed.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Guizzs26/tdee-sync/internal/models"
	"github.com/Guizzs26/tdee-sync/pkg/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DeadLetterExchange = "tdee.deadletter"
	confirmTimeout     = 10 * time.Second
)

var ErrBrokerClosed = errors.New("broker connection is closed")

// DeadLetter is the message body published for a stuck operation
type DeadLetter struct {
	Operation models.QueuedOperation `json:"operation"`
	Reason    string                 `json:"reason"`
	RemovedAt time.Time              `json:"removed_at"`
}

// RoutingKey is sync.dead.<table>.<type>
func RoutingKey(op models.QueuedOperation) string {
	return fmt.Sprintf("sync.dead.%s.%s", op.Table, op.Type)
}

// RabbitMQClient handles the low-level communication with the message broker
type RabbitMQClient struct {
	url       string
	logger    *slog.Logger
	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	closeOnce sync.Once
	healthy   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewRabbitMQClient connects, declares the dead-letter exchange and enables
// Publisher Confirms
func NewRabbitMQClient(url string, l *slog.Logger) (*RabbitMQClient, error) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &RabbitMQClient{url: url, logger: l, ctx: ctx, cancel: cancel}

	if err := client.connect(); err != nil {
		cancel()
		return nil, err
	}

	l.Info("Successfully connected to RabbitMQ and monitors established", "exchange", DeadLetterExchange)
	return client, nil
}

// connect must be called with r.mu held or before the client is shared
func (r *RabbitMQClient) connect() error {
	c, err := amqp.Dial(r.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := c.Channel()
	if err != nil {
		c.Close()
		return fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	if err := ch.ExchangeDeclare(DeadLetterExchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		c.Close()
		return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		c.Close()
		return fmt.Errorf("failed to activate Publisher Confirms: %w", err)
	}

	r.conn, r.channel = c, ch
	r.healthy.Store(true)
	r.monitor(c.NotifyClose(make(chan *amqp.Error, 1)), ch.NotifyClose(make(chan *amqp.Error, 1)))
	return nil
}

func (r *RabbitMQClient) monitor(connClosed, chanClosed chan *amqp.Error) {
	go func() {
		select {
		case err := <-connClosed:
			r.healthy.Store(false)
			r.logger.Warn("RabbitMQ connection closed", "error", err)
		case err := <-chanClosed:
			r.healthy.Store(false)
			r.logger.Warn("RabbitMQ channel closed", "error", err)
		case <-r.ctx.Done():
		}
	}()
}

// PublishDeadLetter sends op to the dead-letter exchange and blocks until the
// broker confirms it. A dropped link is redialed once.
func (r *RabbitMQClient) PublishDeadLetter(ctx context.Context, op models.QueuedOperation, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx.Err() != nil {
		return ErrBrokerClosed
	}
	if !r.healthy.Load() {
		metrics.RabbitMQReconnections.Inc()
		if err := r.connect(); err != nil {
			return fmt.Errorf("%w: %w", ErrBrokerClosed, err)
		}
		r.logger.Info("RabbitMQ link restored")
	}

	body, err := json.Marshal(DeadLetter{Operation: op, Reason: reason, RemovedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to serialize dead letter: %w", err)
	}

	routingKey := RoutingKey(op)
	l := r.logger.With("operation_id", op.ID, "routing_key", routingKey)

	deferred, err := r.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		DeadLetterExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			Headers:      amqp.Table{"operation_id": op.ID, "retries": int32(op.Retries)},
			MessageId:    op.ID,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		l.Error("failed to publish dead letter", "error", err)
		return fmt.Errorf("publish call failed: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return errors.New("RabbitMQ NACK received: dead letter not persisted")
		}
		return nil
	case <-time.After(confirmTimeout):
		return errors.New("publisher confirm timeout")
	}
}

// Close gracefully shuts down the RabbitMQ resources
func (r *RabbitMQClient) Close() error {
	r.closeOnce.Do(func() {
		r.logger.Info("Terminating RabbitMQ client")
		r.cancel()
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.channel != nil {
			r.channel.Close()
		}
		if r.conn != nil {
			r.conn.Close()
		}
		r.healthy.Store(false)
	})
	return nil
}

// IsHealthy returns true if the connection and channel are active
func (r *RabbitMQClient) IsHealthy() bool {
	return r.healthy.Load()
}
