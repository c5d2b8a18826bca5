package mq

import (
	"context"

	"github.com/rabbitmq/amqp091-go"
)

// publishToDLQ publishes a rejected message to the dead letter exchange.
func publishToDLQ(ctx context.Context, ch *amqp091.Channel, routingKey string, msg amqp091.Delivery, reason string) error {
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-original-error"] = reason
	headers["x-failed-at"] = "milestone-reconciler"

	return ch.PublishWithContext(ctx,
		DLQExchangeName,
		routingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  msg.ContentType,
			MessageId:    msg.MessageId,
			Body:         msg.Body,
			DeliveryMode: amqp091.Persistent,
			Headers:      headers,
		},
	)
}
