package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ManagedChannel wraps an AMQP channel with an identifier used in logs and errors
type ManagedChannel struct {
	Channel
	id       string
	openedAt time.Time
}

// ID returns the channel identifier
func (mc *ManagedChannel) ID() string {
	return mc.id
}

// OpenedAt returns when the channel was opened
func (mc *ManagedChannel) OpenedAt() time.Time {
	return mc.openedAt
}

// ChannelManager owns the one channel multiplexed over the managed connection
type ChannelManager struct {
	manager       *ConnectionManager
	channel       *ManagedChannel
	prefetchCount int
	logger        *slog.Logger
	mu            sync.Mutex
}

// ChannelOption configures the channel manager
type ChannelOption func(*ChannelManager)

// WithPrefetchCount sets the basic.qos prefetch count; 0 leaves it unlimited
func WithPrefetchCount(count int) ChannelOption {
	return func(m *ChannelManager) {
		m.prefetchCount = count
	}
}

// WithChannelLogger sets the logger
func WithChannelLogger(logger *slog.Logger) ChannelOption {
	return func(m *ChannelManager) {
		m.logger = logger
	}
}

// NewChannelManager creates a channel manager on top of a connection manager
func NewChannelManager(manager *ConnectionManager, options ...ChannelOption) (*ChannelManager, error) {
	if manager == nil {
		return nil, ErrInvalidConfiguration
	}

	m := &ChannelManager{
		manager: manager,
		logger:  slog.Default(),
	}

	for _, opt := range options {
		opt(m)
	}

	if m.prefetchCount < 0 {
		return nil, ErrInvalidConfiguration
	}

	return m, nil
}

// Open opens the channel. Calling Open while a channel is open returns it.
func (m *ChannelManager) Open(ctx context.Context) (*ManagedChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.channel != nil && !m.channel.IsClosed() {
		return m.channel, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, m.openError(err)
	}

	conn, err := m.manager.GetConnection()
	if err != nil {
		return nil, m.openError(err)
	}

	ch, err := conn.Channel()
	if err != nil {
		m.logger.Error("failed to open channel", "error", err)
		return nil, m.openError(err)
	}

	mc := &ManagedChannel{
		Channel:  ch,
		id:       uuid.New().String(),
		openedAt: time.Now(),
	}

	if m.prefetchCount > 0 {
		if err := ch.Qos(m.prefetchCount, 0, false); err != nil {
			_ = ch.Close()
			return nil, &ChannelError{
				Op:        "qos",
				ChannelID: mc.id,
				Err:       err,
				Timestamp: time.Now(),
			}
		}
	}

	m.channel = mc
	m.logger.Info("channel opened",
		"channelId", mc.id,
		"prefetchCount", m.prefetchCount)

	return mc, nil
}

func (m *ChannelManager) openError(err error) error {
	return &ChannelError{
		Op:        "open",
		Err:       err,
		Timestamp: time.Now(),
	}
}

// Current returns the open channel, or ErrChannelNotOpen
func (m *ChannelManager) Current() (*ManagedChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.channel == nil || m.channel.IsClosed() {
		return nil, ErrChannelNotOpen
	}
	return m.channel, nil
}

// Close closes the channel. Closing when no channel is open is reported as a
// ShutdownError wrapping ErrChannelNotOpen.
func (m *ChannelManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.channel == nil {
		return &ShutdownError{
			Resource:  "channel",
			Err:       ErrChannelNotOpen,
			Timestamp: time.Now(),
		}
	}

	ch := m.channel
	m.channel = nil

	if err := ch.Close(); err != nil {
		m.logger.Error("failed to close channel", "channelId", ch.id, "error", err)
		return &ShutdownError{
			Resource:  "channel",
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	m.logger.Info("channel closed", "channelId", ch.id)
	return nil
}
