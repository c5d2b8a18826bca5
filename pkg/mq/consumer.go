package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"milestone-reconciler/pkg/otel"
	"milestone-reconciler/pkg/trace"
	"milestone-reconciler/pkg/util"
)

type MessageHandler func(ctx context.Context, data json.RawMessage) error

type Consumer struct {
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	handler    MessageHandler
	conn       *amqp091.Connection
	logger     *zap.Logger
	tag        string
	done       chan struct{}
}

// NewConsumer declares the route's queues and prepares a consumer for it.
func NewConsumer(url string, route Route, logger *zap.Logger) (*Consumer, error) {
	if err := route.Validate(); err != nil {
		return nil, err
	}
	conn, ch, err := dial(url)
	if err != nil {
		return nil, err
	}
	q, err := declareRoute(ch, route)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", route.RoutingKey),
		zap.String("queue", q.Name),
		zap.String("dlq", route.DLQ()),
		zap.String("exchange", ExchangeName),
	)

	return &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q,
		routingKey: route.RoutingKey,
		logger:     logger,
		tag:        "milestone-reconciler",
		done:       make(chan struct{}),
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

// IsConnected reports whether the underlying connection is open.
func (c *Consumer) IsConnected() bool {
	return c.conn != nil && !c.conn.IsClosed()
}

// Stop cancels the consumer and waits for the in-flight message to finish.
func (c *Consumer) Stop() {
	if c.channel == nil {
		return
	}
	if err := c.channel.Cancel(c.tag, false); err != nil {
		c.logger.Warn("Failed to cancel consumer", zap.Error(err))
		return
	}
	select {
	case <-c.done:
	case <-time.After(30 * time.Second):
		c.logger.Warn("Timed out waiting for consumer to drain", zap.String("queue", c.queue.Name))
	}
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming starts consuming messages. This method blocks and should be called in a goroutine.
func (c *Consumer) StartConsuming() error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}
	defer close(c.done)

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		c.tag,
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	for msg := range deliveries {
		c.handle(msg)
	}

	c.logger.Info("Consumer delivery channel closed", zap.String("queue", c.queue.Name))
	return nil
}

// handle 保证每条消息都会被 ack、nack 或转入 DLQ
func (c *Consumer) handle(msg amqp091.Delivery) {
	start := time.Now()
	ctx := context.Background()
	if traceID, ok := msg.Headers[string(trace.TraceIDKey)].(string); ok && traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	}
	ctx, span := otel.MQConsumeSpan(ctx, msg.Headers, c.routingKey, c.queue.Name)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panic recovered",
				zap.String("routing_key", c.routingKey),
				zap.String("queue", c.queue.Name),
				zap.Any("panic", r),
			)
			c.reject(ctx, msg, fmt.Sprintf("panic: %v", r))
		}
	}()

	err := c.handler(ctx, msg.Body)
	if err == nil {
		if err := msg.Ack(false); err != nil {
			c.logger.Error("Failed to ack message", zap.String("routing_key", c.routingKey), zap.Error(err))
			return
		}
		c.logger.Debug("Message processed successfully",
			zap.String("routing_key", c.routingKey),
			zap.Duration("took", time.Since(start)),
		)
		return
	}

	retryable, errType := util.IsRetryableError(err)
	c.logger.Error("Handler error",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
		zap.String("error_type", errType),
		zap.Bool("retryable", retryable),
		zap.Error(err),
	)

	// 可重试且尚未重投过的消息重新入队一次，其余转入 DLQ
	if retryable && !msg.Redelivered {
		if err := msg.Nack(false, true); err != nil {
			c.logger.Error("Failed to nack message", zap.String("routing_key", c.routingKey), zap.Error(err))
		}
		return
	}
	c.reject(ctx, msg, err.Error())
}

func (c *Consumer) reject(ctx context.Context, msg amqp091.Delivery, reason string) {
	if err := publishToDLQ(ctx, c.channel, c.routingKey, msg, reason); err != nil {
		c.logger.Error("Failed to publish message to DLQ", zap.String("routing_key", c.routingKey), zap.Error(err))
	}
	if err := msg.Nack(false, false); err != nil {
		c.logger.Error("Failed to nack message", zap.String("routing_key", c.routingKey), zap.Error(err))
	}
}
