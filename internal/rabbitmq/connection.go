package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectionManager owns the single broker connection of the process.
// It makes exactly one dial attempt per Connect; callers treat a failure as
// fatal for the current run.
type ConnectionManager struct {
	url            string
	conn           Connection
	mu             sync.RWMutex
	dial           Dialer
	connectTimeout time.Duration
	logger         *slog.Logger
	notifyClose    chan *amqp.Error
	isConnected    bool
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithConnectTimeout bounds how long Connect waits for the dial to finish
func WithConnectTimeout(timeout time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.connectTimeout = timeout
	}
}

// WithDialer replaces the dial function, mainly for tests
func WithDialer(dial Dialer) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dial = dial
	}
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:            url,
		dial:           DialAMQP,
		connectTimeout: 30 * time.Second,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// Connect establishes the connection
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.isConnected {
		return nil
	}

	connCtx := ctx
	if cm.connectTimeout > 0 {
		var cancel context.CancelFunc
		connCtx, cancel = context.WithTimeout(ctx, cm.connectTimeout)
		defer cancel()
	}

	connChan := make(chan Connection, 1)
	errChan := make(chan error, 1)

	go func() {
		conn, err := cm.dial(cm.url)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- conn
	}()

	select {
	case conn := <-connChan:
		cm.conn = conn
		cm.isConnected = true
		cm.notifyClose = conn.NotifyClose(make(chan *amqp.Error, 1))

		cm.logger.Info("connected to RabbitMQ",
			"url", SanitizeURL(cm.url))

		return nil

	case err := <-errChan:
		cm.logger.Error("failed to connect to RabbitMQ",
			"url", SanitizeURL(cm.url),
			"error", err)
		return cm.connectError(err)

	case <-connCtx.Done():
		// A dial that completes after we gave up must not leak.
		go func() {
			select {
			case conn := <-connChan:
				_ = conn.Close()
			case <-errChan:
			}
		}()

		err := ErrConnectionTimeout
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		cm.logger.Error("failed to connect to RabbitMQ",
			"url", SanitizeURL(cm.url),
			"error", err)
		return cm.connectError(err)
	}
}

func (cm *ConnectionManager) connectError(err error) error {
	return &ConnectionError{
		Op:        "connect",
		URL:       SanitizeURL(cm.url),
		Err:       err,
		Timestamp: time.Now(),
	}
}

// GetConnection returns the current connection
func (cm *ConnectionManager) GetConnection() (Connection, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.isConnected || cm.conn == nil {
		return nil, ErrConnectionNotReady
	}

	if cm.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}

	return cm.conn, nil
}

// IsConnected returns the connection status
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isConnected
}

// NotifyClose returns a channel that receives the broker's close reason when
// the connection drops. It is nil before Connect succeeds. After a local
// Close the amqp client closes it without sending.
func (cm *ConnectionManager) NotifyClose() <-chan *amqp.Error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.notifyClose
}

// Close closes the connection. Closing a connection that is not open is
// reported as a ShutdownError wrapping ErrConnectionClosed.
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.isConnected || cm.conn == nil {
		return &ShutdownError{
			Resource:  "connection",
			Err:       ErrConnectionClosed,
			Timestamp: time.Now(),
		}
	}

	conn := cm.conn
	cm.conn = nil
	cm.isConnected = false

	if err := conn.Close(); err != nil {
		cm.logger.Error("failed to close connection", "error", err)
		return &ShutdownError{
			Resource:  "connection",
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	cm.logger.Info("connection closed")
	return nil
}
