package consumer

import (
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/email-consumer/internal/rabbitmq"
)

// fakeBroker records every broker interaction in call order
type fakeBroker struct {
	mu         sync.Mutex
	calls      []string
	deliveries chan amqp.Delivery
	cancelOnce sync.Once

	dialErr         error
	channelErr      error
	declareErr      error
	consumeErr      error
	channelCloseErr error

	// closeBlock, when set, holds connection.close until it is closed
	closeBlock chan struct{}

	conn *fakeConn
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{deliveries: make(chan amqp.Delivery, 16)}
}

func (b *fakeBroker) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

func (b *fakeBroker) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.calls))
	copy(out, b.calls)
	return out
}

func (b *fakeBroker) dial(url string) (rabbitmq.Connection, error) {
	b.record("dial")
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conn = &fakeConn{broker: b}
	return b.conn, nil
}

// cancelConsumer closes the delivery stream the way the broker does on basic.cancel
func (b *fakeBroker) cancelConsumer() {
	b.cancelOnce.Do(func() { close(b.deliveries) })
}

// dropConnection reports an unexpected connection close
func (b *fakeBroker) dropConnection() {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()

	conn.mu.Lock()
	notify := conn.notify
	conn.mu.Unlock()

	notify <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED"}
}

// severConnection marks the connection closed and ends the delivery stream
// before any close notification is sent, the order the amqp client uses
func (b *fakeBroker) severConnection() {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()

	conn.mu.Lock()
	conn.closed = true
	conn.mu.Unlock()

	b.cancelConsumer()
}

type fakeConn struct {
	broker *fakeBroker
	mu     sync.Mutex
	closed bool
	notify chan *amqp.Error
}

func (c *fakeConn) Channel() (rabbitmq.Channel, error) {
	c.broker.record("channel.open")
	if c.broker.channelErr != nil {
		return nil, c.broker.channelErr
	}
	return &fakeChannel{broker: c.broker}, nil
}

func (c *fakeConn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = receiver
	return receiver
}

func (c *fakeConn) Close() error {
	c.broker.record("connection.close")
	if c.broker.closeBlock != nil {
		<-c.broker.closeBlock
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.closed = true
	return nil
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeChannel struct {
	broker *fakeBroker
	mu     sync.Mutex
	closed bool
}

func (ch *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	ch.broker.record("qos")
	return nil
}

func (ch *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	ch.broker.record("queue.declare:" + name)
	if ch.broker.declareErr != nil {
		return amqp.Queue{}, ch.broker.declareErr
	}
	return amqp.Queue{Name: name}, nil
}

func (ch *fakeChannel) QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	ch.broker.record("queue.inspect:" + name)
	return amqp.Queue{Name: name}, nil
}

func (ch *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	ch.broker.record("consume:" + queue)
	if ch.broker.consumeErr != nil {
		return nil, ch.broker.consumeErr
	}
	return ch.broker.deliveries, nil
}

func (ch *fakeChannel) Cancel(consumer string, noWait bool) error {
	ch.broker.record("consumer.cancel")
	ch.broker.cancelConsumer()
	return nil
}

func (ch *fakeChannel) Close() error {
	ch.broker.record("channel.close")
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.closed = true
	return ch.broker.channelCloseErr
}

func (ch *fakeChannel) IsClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

// fakeAcknowledger counts acknowledgments
type fakeAcknowledger struct {
	mu    sync.Mutex
	acked []uint64
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error { return nil }

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error { return nil }

func (a *fakeAcknowledger) Acked() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.acked...)
}
