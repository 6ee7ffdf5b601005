package goamqp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ewaters/goamqp/protocol"
)

func newTestConnection(t *testing.T, client net.Conn, opts ...Option) *Connection {
	t.Helper()
	base := []Option{WithRemoteAddress("fake")}
	cfg, err := New(append(base, opts...)...)
	require.NoError(t, err)
	conn := NewConnection(cfg)
	conn.dial = func(_ context.Context, _ string, _ *Config) (transport, error) {
		return client, nil
	}
	return conn
}

// runConnection starts conn.Run in the background and returns a cancel
// func that stops it and waits for Run to return.
func runConnection(t *testing.T, conn *Connection) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = conn.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(testTimeout):
			t.Fatalf("Connection.Run did not return after cancel")
		}
	}
}

// onLoop runs fn on conn's event-loop goroutine and waits for it to
// finish, mirroring how real callers must reach Channel/QueueHandle state
// (via DoWhenStartup or a callback) rather than touching it from another
// goroutine directly.
func onLoop(t *testing.T, conn *Connection, fn func()) {
	t.Helper()
	done := make(chan struct{})
	conn.submit(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatalf("onLoop: fn did not complete")
	}
}

func TestHandshakeWireOrder(t *testing.T) {
	client, fb := newFakeBroker(t)

	started := make(chan struct{}, 1)
	conn := newTestConnection(t, client, WithCallback(OnStartup, func(Event) {
		started <- struct{}{}
	}))
	stop := runConnection(t, conn)
	defer stop()

	fb.handshake(t)

	select {
	case <-started:
	case <-time.After(testTimeout):
		t.Fatalf("OnStartup callback never fired")
	}
	require.True(t, conn.IsStarted())
}

func TestDeclareThenPublish(t *testing.T) {
	client, fb := newFakeBroker(t)
	conn := newTestConnection(t, client)
	stop := runConnection(t, conn)
	defer stop()

	fb.handshake(t)

	ch, err := conn.Channel(0)
	require.NoError(t, err)
	fb.openChannel(t, ch.ID())

	var q *QueueHandle
	onLoop(t, conn, func() { q = ch.Queue("tasks", nil) })

	declare := fb.nextMethod(t, testTimeout)
	decl, ok := declare.(*protocol.QueueDeclareMethod)
	require.True(t, ok)
	require.Equal(t, "tasks", decl.Queue)
	fb.send(t, &protocol.MethodFrame{Channel: ch.ID(), Method: &protocol.QueueDeclareOkMethod{Queue: "tasks"}})

	onLoop(t, conn, func() { q.Publish(context.Background(), []byte("hello"), nil) })

	pub, ok := fb.nextMethod(t, testTimeout).(*protocol.BasicPublishMethod)
	require.True(t, ok)
	require.Equal(t, "tasks", pub.RoutingKey)

	hdr, ok := fb.next(t, testTimeout).(*protocol.HeaderFrame)
	require.True(t, ok)
	require.Equal(t, uint64(5), hdr.BodySize)
	require.NotEmpty(t, hdr.Properties.MessageID)

	body, ok := fb.next(t, testTimeout).(*protocol.BodyFrame)
	require.True(t, ok)
	require.Equal(t, "hello", string(body.Body))
}

func TestServerAssignedQueueName(t *testing.T) {
	client, fb := newFakeBroker(t)
	conn := newTestConnection(t, client)
	stop := runConnection(t, conn)
	defer stop()

	fb.handshake(t)

	ch, err := conn.Channel(0)
	require.NoError(t, err)
	fb.openChannel(t, ch.ID())

	var q *QueueHandle
	onLoop(t, conn, func() { q = ch.Queue("", nil) })
	var name string
	onLoop(t, conn, func() { name = q.Name() })
	require.Empty(t, name)

	decl, ok := fb.nextMethod(t, testTimeout).(*protocol.QueueDeclareMethod)
	require.True(t, ok)
	require.Empty(t, decl.Queue)

	fb.send(t, &protocol.MethodFrame{Channel: ch.ID(), Method: &protocol.QueueDeclareOkMethod{Queue: "amq.gen-xyz"}})

	deadline := time.Now().Add(testTimeout)
	for name != "amq.gen-xyz" && time.Now().Before(deadline) {
		onLoop(t, conn, func() { name = q.Name() })
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, "amq.gen-xyz", name)
}

func TestConsumeAckReleasePaths(t *testing.T) {
	client, fb := newFakeBroker(t)
	conn := newTestConnection(t, client)
	stop := runConnection(t, conn)
	defer stop()

	fb.handshake(t)

	ch, err := conn.Channel(0)
	require.NoError(t, err)
	fb.openChannel(t, ch.ID())

	var q *QueueHandle
	onLoop(t, conn, func() { q = ch.Queue("tasks", nil) })
	declare, ok := fb.nextMethod(t, testTimeout).(*protocol.QueueDeclareMethod)
	require.True(t, ok)
	require.Equal(t, "tasks", declare.Queue)
	fb.send(t, &protocol.MethodFrame{Channel: ch.ID(), Method: &protocol.QueueDeclareOkMethod{Queue: "tasks"}})

	decisions := make(chan AckDecision, 1)
	onLoop(t, conn, func() {
		q.Subscribe(func(d Delivery) AckDecision {
			dec := <-decisions
			return dec
		}, &SubscribeOptions{NoAck: Bool(false)})
	})

	consume, ok := fb.nextMethod(t, testTimeout).(*protocol.BasicConsumeMethod)
	require.True(t, ok)
	require.False(t, consume.NoAck)
	require.NotEmpty(t, consume.ConsumerTag)
	fb.send(t, &protocol.MethodFrame{Channel: ch.ID(), Method: &protocol.BasicConsumeOkMethod{ConsumerTag: consume.ConsumerTag}})

	deliverOne := func(tag uint64, decision AckDecision) {
		decisions <- decision
		fb.send(t, &protocol.MethodFrame{Channel: ch.ID(), Method: &protocol.BasicDeliverMethod{
			ConsumerTag: consume.ConsumerTag,
			DeliveryTag: tag,
			Exchange:    "",
			RoutingKey:  "tasks",
		}})
		fb.send(t, &protocol.HeaderFrame{Channel: ch.ID(), ClassID: 60, BodySize: 3})
		fb.send(t, &protocol.BodyFrame{Channel: ch.ID(), Body: []byte("abc")})
	}

	deliverOne(1, Ack)
	ack, ok := fb.nextMethod(t, testTimeout).(*protocol.BasicAckMethod)
	require.True(t, ok)
	require.Equal(t, uint64(1), ack.DeliveryTag)

	deliverOne(2, Reject)
	rej, ok := fb.nextMethod(t, testTimeout).(*protocol.BasicRejectMethod)
	require.True(t, ok)
	require.Equal(t, uint64(2), rej.DeliveryTag)
	require.True(t, rej.Requeue)
}

func TestReconnectDelayDoublesAndCaps(t *testing.T) {
	require.Equal(t, time.Second, reconnectDelay(0))
	require.Equal(t, 2*time.Second, reconnectDelay(1))
	require.Equal(t, 4*time.Second, reconnectDelay(2))
	require.Equal(t, 8*time.Second, reconnectDelay(3))
	capped := reconnectDelay(20)
	require.Equal(t, capped, reconnectDelay(30))
}

func TestSmallestFreeIDAllocatesLowestGap(t *testing.T) {
	m := map[uint16]*Channel{1: nil, 2: nil, 4: nil}
	require.Equal(t, uint16(3), smallestFreeID(m))

	empty := map[uint16]*Channel{}
	require.Equal(t, uint16(1), smallestFreeID(empty))

	dense := map[uint16]*Channel{1: nil, 2: nil, 3: nil}
	require.Equal(t, uint16(4), smallestFreeID(dense))
}
