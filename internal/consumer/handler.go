package consumer

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/email-consumer/internal/rabbitmq"
)

// ReceivedMessage is the log message written for every delivery
const ReceivedMessage = "Received message from RabbitMQ queue:"

// LogHandler returns a handler that logs each delivery body as text
func LogHandler(logger *slog.Logger, queue string) rabbitmq.MessageHandler {
	return func(ctx context.Context, delivery amqp.Delivery) error {
		logger.InfoContext(ctx, ReceivedMessage,
			"body", string(delivery.Body),
			"queue", queue,
			"deliveryTag", delivery.DeliveryTag,
			"messageId", delivery.MessageId,
			"redelivered", delivery.Redelivered,
		)
		return nil
	}
}
