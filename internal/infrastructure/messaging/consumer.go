// Package messaging consumes EHR middleware notifications from RabbitMQ.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/interopehrate/r2d-access-gateway/internal/application"
	"github.com/interopehrate/r2d-access-gateway/internal/config"
	"github.com/streadway/amqp"
)

const (
	prefetchCount  = 8
	reconnectDelay = 5 * time.Second
)

// NotificationHandler applies a notification to the request lifecycle.
type NotificationHandler interface {
	CompleteSuccessfully(ctx context.Context, requestID string, payload []byte) error
	CompletePartially(ctx context.Context, requestID string, payload []byte) error
	CompleteUnsuccessfully(ctx context.Context, requestID, message string) error
}

type Consumer struct {
	dialer  AMQPDialer
	handler NotificationHandler
	cfg     config.MessagingConfig
	logger  *slog.Logger

	reconnectDelay time.Duration
}

func NewConsumer(cfg config.MessagingConfig, handler NotificationHandler, logger *slog.Logger) *Consumer {
	return NewConsumerWithDialer(cfg, handler, &RealAMQPDialer{}, logger)
}

func NewConsumerWithDialer(cfg config.MessagingConfig, handler NotificationHandler, dialer AMQPDialer, logger *slog.Logger) *Consumer {
	return &Consumer{
		dialer:         dialer,
		handler:        handler,
		cfg:            cfg,
		logger:         logger,
		reconnectDelay: reconnectDelay,
	}
}

// Start consumes until ctx is cancelled, reconnecting when the broker drops
// the connection.
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info("notification consumer started", "queue", c.cfg.Queue)

	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			c.logger.Info("notification consumer stopped")
			return
		}
		c.logger.Error("notification consumer interrupted", "error", err, "retry_in", c.reconnectDelay)

		select {
		case <-ctx.Done():
			c.logger.Info("notification consumer stopped")
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

// consume runs one connection lifetime.
func (c *Consumer) consume(ctx context.Context) error {
	conn, err := c.dialer.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		c.cfg.Queue, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(c.cfg.Queue, c.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.HandleDelivery(ctx, d)
		}
	}
}

// HandleDelivery applies one message and settles it. Messages that can never
// succeed are dropped, transient failures are requeued.
func (c *Consumer) HandleDelivery(ctx context.Context, d amqp.Delivery) {
	n, err := decodeNotification(d.Body)
	if err != nil {
		c.logger.Warn("dropping malformed notification", "message_id", d.MessageId, "error", err)
		c.settle(d, false, false)
		return
	}

	logger := c.logger.With("request_id", n.RequestID, "outcome", n.Outcome)

	switch n.Outcome {
	case OutcomeSuccess:
		err = c.handler.CompleteSuccessfully(ctx, n.RequestID, n.Bundle)
	case OutcomePartial:
		err = c.handler.CompletePartially(ctx, n.RequestID, n.Bundle)
	case OutcomeFailure:
		err = c.handler.CompleteUnsuccessfully(ctx, n.RequestID, n.Message)
	}

	if err == nil {
		logger.Debug("notification applied")
		c.settle(d, true, false)
		return
	}

	requeue := application.IsRetryable(err) && !d.Redelivered
	logger.Warn("notification not applied", "error", err, "requeue", requeue)
	c.settle(d, false, requeue)
}

func (c *Consumer) settle(d amqp.Delivery, ack, requeue bool) {
	var err error
	if ack {
		err = d.Ack(false)
	} else {
		err = d.Nack(false, requeue)
	}
	if err != nil {
		c.logger.Error("failed to settle delivery", "delivery_tag", d.DeliveryTag, "error", err)
	}
}
