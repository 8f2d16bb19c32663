package health

import (
	"context"
	"fmt"
	"time"

	"github.com/glimte/email-consumer/internal/rabbitmq"
)

// ConnectionSource provides the live broker connection
type ConnectionSource interface {
	GetConnection() (rabbitmq.Connection, error)
}

// QueueChecker verifies that the broker connection is open and the consumed
// queue is accessible. It inspects the queue on a short-lived channel of its own
// because a failed passive declare closes the channel it runs on.
type QueueChecker struct {
	queueName     string
	source        ConnectionSource
	warnThreshold int
}

// NewQueueChecker creates a new queue health checker. A queue holding more
// than warnThreshold ready messages is reported as degraded; 0 disables it.
func NewQueueChecker(queueName string, source ConnectionSource, warnThreshold int) *QueueChecker {
	return &QueueChecker{
		queueName:     queueName,
		source:        source,
		warnThreshold: warnThreshold,
	}
}

func (c *QueueChecker) Name() string {
	return fmt.Sprintf("queue_%s", c.queueName)
}

func (c *QueueChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	fail := func(message string, err error) CheckResult {
		result.Status = StatusUnhealthy
		result.Message = message
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	conn, err := c.source.GetConnection()
	if err != nil {
		return fail("Failed to get connection", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return fail("Failed to create channel", err)
	}
	defer ch.Close()

	queue, err := rabbitmq.InspectQueue(ctx, ch, c.queueName)
	if err != nil {
		return fail(fmt.Sprintf("Queue %s not accessible", c.queueName), err)
	}

	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("Queue %s is accessible", c.queueName)
	result.Duration = time.Since(start)
	result.Details["message_count"] = queue.Messages
	result.Details["consumer_count"] = queue.Consumers

	if c.warnThreshold > 0 && queue.Messages > c.warnThreshold {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("Queue %s has high message count", c.queueName)
	}

	return result
}
