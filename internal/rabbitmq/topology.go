package rabbitmq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// DeclareQueue declares a queue, creating it if absent. Redeclaring with the
// same properties is a no-op on the broker; different properties yield a
// QueueError for which IsConflict reports true.
func DeclareQueue(ctx context.Context, ch Channel, queue QueueDeclaration) (amqp.Queue, error) {
	if queue.Name == "" {
		return amqp.Queue{}, queueError("declare", queue.Name, ErrInvalidConfiguration)
	}
	if err := ctx.Err(); err != nil {
		return amqp.Queue{}, queueError("declare", queue.Name, err)
	}

	q, err := ch.QueueDeclare(
		queue.Name,
		queue.Durable,
		queue.AutoDelete,
		queue.Exclusive,
		false, // no-wait
		queue.Arguments,
	)
	if err != nil {
		return amqp.Queue{}, queueError("declare", queue.Name, err)
	}
	return q, nil
}

// InspectQueue returns the message and consumer counts of an existing queue
// without creating it.
func InspectQueue(ctx context.Context, ch Channel, name string) (amqp.Queue, error) {
	if err := ctx.Err(); err != nil {
		return amqp.Queue{}, queueError("inspect", name, err)
	}

	q, err := ch.QueueDeclarePassive(name, false, false, false, false, nil)
	if err != nil {
		return amqp.Queue{}, queueError("inspect", name, err)
	}
	return q, nil
}

func queueError(op, name string, err error) error {
	return &QueueError{
		Queue:     name,
		Op:        op,
		Code:      replyCode(err),
		Err:       err,
		Timestamp: time.Now(),
	}
}
