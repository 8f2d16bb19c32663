package rabbitmq

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// Connection errors
	ErrConnectionClosed   = errors.New("rabbitmq: connection is closed")
	ErrConnectionNotReady = errors.New("rabbitmq: connection not ready")
	ErrConnectionTimeout  = errors.New("rabbitmq: connection timeout")

	// Channel errors
	ErrChannelNotOpen = errors.New("rabbitmq: channel is not open")

	// Consumer errors
	ErrConsumerCancelled = errors.New("rabbitmq: consumer cancelled")
	ErrConsumerActive    = errors.New("rabbitmq: consumer already subscribed")

	// General errors
	ErrInvalidConfiguration = errors.New("rabbitmq: invalid configuration")
)

// ConnectionError represents a connection-related error
type ConnectionError struct {
	Op        string    // Operation that failed
	URL       string    // Connection URL (sanitized)
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("rabbitmq connection error: %s %s failed: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ChannelError represents a channel-related error
type ChannelError struct {
	Op        string    // Operation that failed
	ChannelID string    // Channel identifier
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *ChannelError) Error() string {
	if e.ChannelID == "" {
		return fmt.Sprintf("rabbitmq channel error: %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("rabbitmq channel error: %s on channel %s: %v", e.Op, e.ChannelID, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// QueueError represents a failed queue declaration
type QueueError struct {
	Queue     string    // Queue name
	Op        string    // Operation that failed
	Code      int       // AMQP reply code, 0 when the broker sent none
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *QueueError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("rabbitmq queue error: failed to %s queue '%s' (code %d): %v",
			e.Op, e.Queue, e.Code, e.Err)
	}
	return fmt.Sprintf("rabbitmq queue error: failed to %s queue '%s': %v", e.Op, e.Queue, e.Err)
}

func (e *QueueError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether the broker refused the declaration because an
// existing queue has different properties.
func (e *QueueError) IsConflict() bool {
	return e.Code == amqp.PreconditionFailed
}

// IsPermission reports whether the broker refused access to the queue.
func (e *QueueError) IsPermission() bool {
	return e.Code == amqp.AccessRefused
}

// ConsumerError represents a consumer-related error
type ConsumerError struct {
	Queue       string    // Queue name
	ConsumerTag string    // Consumer tag
	Op          string    // Operation that failed
	Err         error     // Underlying error
	Timestamp   time.Time // When the error occurred
}

func (e *ConsumerError) Error() string {
	return fmt.Sprintf("rabbitmq consumer error: %s failed for consumer %s on queue %s: %v",
		e.Op, e.ConsumerTag, e.Queue, e.Err)
}

func (e *ConsumerError) Unwrap() error {
	return e.Err
}

// ShutdownError represents a failure while tearing down a channel or connection
type ShutdownError struct {
	Resource  string    // "channel" or "connection"
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("rabbitmq shutdown error: closing %s: %v", e.Resource, e.Err)
}

func (e *ShutdownError) Unwrap() error {
	return e.Err
}

// replyCode extracts the AMQP reply code from err, if any.
func replyCode(err error) int {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return amqpErr.Code
	}
	return 0
}

// SanitizeURL removes the password from a connection URL
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
