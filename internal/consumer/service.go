// Package consumer runs the send_email_queue consumer: it connects, opens a
// channel, declares the queue, logs every delivery and tears everything down
// in reverse order when its context is cancelled.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/email-consumer/health"
	"github.com/glimte/email-consumer/internal/config"
	"github.com/glimte/email-consumer/internal/rabbitmq"
)

// ErrConnectionLost is returned by Run when the broker drops the connection
// while consuming
var ErrConnectionLost = errors.New("consumer: connection lost")

// ErrShutdownTimeout is returned by Shutdown when teardown did not finish
// within the configured shutdown timeout
var ErrShutdownTimeout = errors.New("consumer: shutdown timed out")

// queueDepthWarning is the ready-message count above which the periodic
// health check reports the queue as degraded
const queueDepthWarning = 10000

// Service owns the connection, channel and consumer of one process
type Service struct {
	cfg      config.Config
	logger   *slog.Logger
	dialer   rabbitmq.Dialer
	handler  rabbitmq.MessageHandler
	conns    *rabbitmq.ConnectionManager
	channels *rabbitmq.ChannelManager
	consumer *rabbitmq.Consumer

	mu            sync.Mutex
	state         State
	onTransition  func(from, to State)
	stopHealth    context.CancelFunc
	healthStopped chan struct{}
}

// Option configures the Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithDialer replaces the broker dial function
func WithDialer(dial rabbitmq.Dialer) Option {
	return func(s *Service) {
		s.dialer = dial
	}
}

// WithHandler replaces the default logging handler
func WithHandler(handler rabbitmq.MessageHandler) Option {
	return func(s *Service) {
		s.handler = handler
	}
}

// WithTransitionHook registers a function called after every state change
func WithTransitionHook(fn func(from, to State)) Option {
	return func(s *Service) {
		s.onTransition = fn
	}
}

// New creates a Service from an already loaded configuration
func New(cfg config.Config, options ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:    cfg,
		logger: slog.Default(),
		state:  StateIdle,
	}

	for _, opt := range options {
		opt(s)
	}

	if s.handler == nil {
		s.handler = LogHandler(s.logger, cfg.QueueName)
	}

	connOpts := []rabbitmq.ConnectionOption{
		rabbitmq.WithLogger(s.logger),
		rabbitmq.WithConnectTimeout(cfg.ConnectTimeout),
	}
	if s.dialer != nil {
		connOpts = append(connOpts, rabbitmq.WithDialer(s.dialer))
	}
	s.conns = rabbitmq.NewConnectionManager(cfg.BrokerURL, connOpts...)

	channels, err := rabbitmq.NewChannelManager(s.conns,
		rabbitmq.WithPrefetchCount(cfg.PrefetchCount),
		rabbitmq.WithChannelLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}
	s.channels = channels

	s.consumer = rabbitmq.NewConsumer(
		rabbitmq.WithAckMode(cfg.AckMode),
		rabbitmq.WithConsumerTag(cfg.ConsumerTag),
		rabbitmq.WithConsumerLogger(s.logger),
	)

	return s, nil
}

// State returns the current lifecycle state
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) transition(to State) error {
	s.mu.Lock()
	from := s.state
	if !CanTransition(from, to) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.state = to
	s.mu.Unlock()

	s.changed(from, to)
	return nil
}

func (s *Service) changed(from, to State) {
	s.logger.Debug("consumer state changed", "from", from.String(), "to", to.String())
	if s.onTransition != nil {
		s.onTransition(from, to)
	}
}

// Run performs the startup sequence and consumes until ctx is cancelled, the
// broker cancels the consumer or the connection drops. It always returns with
// the service closed. A nil error means shutdown was requested through ctx.
func (s *Service) Run(ctx context.Context) error {
	if err := s.start(ctx); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown requested")
	case <-s.consumer.Done():
		runErr = s.consumer.Err()
		if lost := s.lostConnection(); lost != nil {
			runErr = lost
			s.logger.Error("connection to RabbitMQ lost", "error", runErr)
		}
	case amqpErr, ok := <-s.conns.NotifyClose():
		if ok && amqpErr != nil {
			runErr = fmt.Errorf("%w: %v", ErrConnectionLost, amqpErr)
		} else {
			runErr = ErrConnectionLost
		}
		s.logger.Error("connection to RabbitMQ lost", "error", runErr)
	}

	if err := s.Shutdown(); err != nil {
		s.logger.Warn("shutdown completed with errors", "error", err)
		if runErr == nil && errors.Is(err, ErrShutdownTimeout) {
			runErr = err
		}
	}
	return runErr
}

// lostConnection checks whether the delivery stream ended because the
// connection went away. The amqp client closes every consumer's deliveries
// when the connection drops, so Done can fire before NotifyClose is read.
func (s *Service) lostConnection() error {
	select {
	case amqpErr, ok := <-s.conns.NotifyClose():
		if ok && amqpErr != nil {
			return fmt.Errorf("%w: %v", ErrConnectionLost, amqpErr)
		}
	default:
	}

	if _, err := s.conns.GetConnection(); errors.Is(err, rabbitmq.ErrConnectionClosed) {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

// start walks Idle -> Connecting -> ChannelOpen -> Consuming. On failure it
// releases whatever was opened and leaves the service closed.
func (s *Service) start(ctx context.Context) error {
	if err := s.transition(StateConnecting); err != nil {
		return err
	}

	if err := s.conns.Connect(ctx); err != nil {
		s.logger.Error("startup failed", "state", StateConnecting.String(), "error", err)
		_ = s.transition(StateClosed)
		return err
	}

	ch, err := s.channels.Open(ctx)
	if err != nil {
		s.logger.Error("startup failed", "state", StateConnecting.String(), "error", err)
		s.closeConnection()
		_ = s.transition(StateClosed)
		return err
	}
	if err := s.transition(StateChannelOpen); err != nil {
		return err
	}

	if err := s.subscribe(ctx, ch); err != nil {
		s.logger.Error("startup failed", "state", StateChannelOpen.String(), "error", err)
		s.closeChannel()
		s.closeConnection()
		_ = s.transition(StateClosed)
		return err
	}

	if err := s.transition(StateConsuming); err != nil {
		return err
	}

	s.startHealth(ctx)
	s.logger.Info("waiting for messages", "queue", s.cfg.QueueName)
	return nil
}

func (s *Service) subscribe(ctx context.Context, ch *rabbitmq.ManagedChannel) error {
	q, err := rabbitmq.DeclareQueue(ctx, ch, rabbitmq.QueueDeclaration{
		Name:    s.cfg.QueueName,
		Durable: s.cfg.QueueDurable,
	})
	if err != nil {
		return err
	}
	s.logger.Info("queue declared",
		"queue", q.Name,
		"messages", q.Messages,
		"consumers", q.Consumers)

	return s.consumer.Subscribe(ctx, ch, s.cfg.QueueName, s.handler)
}

func (s *Service) startHealth(ctx context.Context) {
	if s.cfg.HealthInterval <= 0 {
		return
	}

	healthCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	checker := health.NewQueueChecker(s.cfg.QueueName, s.conns, queueDepthWarning)

	s.mu.Lock()
	s.stopHealth = cancel
	s.healthStopped = stopped
	s.mu.Unlock()

	go func() {
		defer close(stopped)
		health.Watch(healthCtx, s.cfg.HealthInterval, s.logger, checker)
	}()
}

// Shutdown stops the consumer, closes the channel and then the connection.
// Every step runs even if an earlier one failed; failures are logged and
// joined. When teardown outlasts the configured shutdown timeout the service
// is marked closed anyway and ErrShutdownTimeout is returned. Calling
// Shutdown again after it started is a logged no-op.
func (s *Service) Shutdown() error {
	s.mu.Lock()
	switch s.state {
	case StateShuttingDown, StateClosed:
		s.mu.Unlock()
		s.logger.Info("shutdown already performed")
		return nil
	case StateIdle:
		s.mu.Unlock()
		return s.transition(StateClosed)
	case StateConsuming:
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: shutdown during %s", ErrInvalidTransition, state)
	}
	s.state = StateShuttingDown
	stopHealth, healthStopped := s.stopHealth, s.healthStopped
	s.mu.Unlock()

	s.changed(StateConsuming, StateShuttingDown)
	s.logger.Info("shutting down consumer")

	done := make(chan error, 1)
	go func() {
		done <- s.teardown(stopHealth, healthStopped)
	}()

	var err error
	if timeout := s.cfg.ShutdownTimeout; timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case err = <-done:
		case <-timer.C:
			err = fmt.Errorf("%w after %s", ErrShutdownTimeout, timeout)
			s.logger.Error("teardown did not finish, abandoning it", "timeout", timeout.String())
		}
	} else {
		err = <-done
	}

	_ = s.transition(StateClosed)
	s.logger.Info("consumer closed")
	return err
}

// teardown releases resources in reverse order of acquisition
func (s *Service) teardown(stopHealth context.CancelFunc, healthStopped <-chan struct{}) error {
	if stopHealth != nil {
		stopHealth()
		<-healthStopped
	}

	var errs []error
	if err := s.consumer.Stop(); err != nil {
		s.logger.Warn("failed to cancel consumer", "error", err)
		errs = append(errs, err)
	}
	if err := s.closeChannel(); err != nil {
		errs = append(errs, err)
	}
	if err := s.closeConnection(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Service) closeChannel() error {
	if err := s.channels.Close(); err != nil {
		s.logger.Warn("error closing channel", "error", err)
		return err
	}
	return nil
}

func (s *Service) closeConnection() error {
	if err := s.conns.Close(); err != nil {
		s.logger.Warn("error closing connection", "error", err)
		return err
	}
	return nil
}
