package goamqp

import (
	"context"

	"go.bryk.io/pkg/log"

	"github.com/ewaters/goamqp/protocol"
)

// channelAction is a deferred outbound batch queued before the channel has
// finished opening; it carries the data needed to resend, not a closure,
// per the "action queue instead of deferred closures" design.
type channelAction struct {
	batch outboundBatch
}

// Channel is a logical, independently-addressed sub-stream multiplexed
// over the Connection's socket. All of its state is mutated only from the
// Connection's event-loop goroutine.
type Channel struct {
	id      uint16
	conn    *Connection
	gate    syncGate
	created bool
	closed  bool

	cascadeFailure bool

	queues    map[string]*QueueHandle
	consumers map[string]*consumerEntry

	assembly *contentAssembly

	pendingSends   []channelAction
	pendingCreated []func()

	closeCallback   func(reason string)
	closeOkCallback func()
	onReturn        func(ReturnedMessage)
}

// ReturnedMessage is passed to a channel's MessageReturns hook when the
// broker sends Basic.Return for an undeliverable publish.
type ReturnedMessage struct {
	ReplyCode  uint16
	ReplyText  string
	Exchange   string
	RoutingKey string
	Properties protocol.Properties
	Body       []byte
}

type contentAssembly struct {
	deliver      *protocol.BasicDeliverMethod
	ret          *protocol.BasicReturnMethod
	header       *protocol.HeaderFrame
	bodyReceived uint64
	bodies       [][]byte
}

func newChannel(conn *Connection, id uint16) *Channel {
	return &Channel{
		id:        id,
		conn:      conn,
		queues:    map[string]*QueueHandle{},
		consumers: map[string]*consumerEntry{},
	}
}

// ID returns the channel's numeric id.
func (ch *Channel) ID() uint16 { return ch.id }

// CascadeFailure controls whether a broker-initiated Channel.Close also
// stops the owning Connection. Off by default.
func (ch *Channel) CascadeFailure(enabled bool) { ch.cascadeFailure = enabled }

// OnClose registers a callback invoked when the channel closes, whether
// initiated locally or by the broker; reason is a human-readable summary
// of the close cause (empty for a locally-initiated graceful close).
func (ch *Channel) OnClose(cb func(reason string)) { ch.closeCallback = cb }

// MessageReturns registers a hook for undeliverable publishes returned by
// the broker via Basic.Return. Without one, returns are logged and
// dropped.
func (ch *Channel) MessageReturns(cb func(ReturnedMessage)) { ch.onReturn = cb }

func (ch *Channel) open() {
	ch.conn.Send(ch.id, []protocol.Frame{&protocol.MethodFrame{
		Channel: ch.id,
		Method:  &protocol.ChannelOpenMethod{},
	}}, func(protocol.Method) {
		ch.markCreated()
	})
}

func (ch *Channel) markCreated() {
	ch.created = true
	sends := ch.pendingSends
	ch.pendingSends = nil
	for _, action := range sends {
		ch.sendFrames(action.batch.frames, action.batch.callback)
	}
	cbs := ch.pendingCreated
	ch.pendingCreated = nil
	for _, cb := range cbs {
		cb()
	}
}

// DoWhenCreated invokes cb immediately if Channel.OpenOk has already been
// received, otherwise enqueues it to run once it is.
func (ch *Channel) DoWhenCreated(cb func()) {
	if ch.created {
		cb()
		return
	}
	ch.pendingCreated = append(ch.pendingCreated, cb)
}

// sendFrames defers batch until the channel is created, otherwise submits
// it immediately to the Connection's Sync-Gate admission point.
func (ch *Channel) sendFrames(frames []protocol.Frame, callback func(protocol.Method)) {
	for _, f := range frames {
		setChannelID(f, ch.id)
	}
	if !ch.created {
		ch.pendingSends = append(ch.pendingSends, channelAction{batch: outboundBatch{frames: frames, callback: callback}})
		return
	}
	ch.conn.Send(ch.id, frames, callback)
}

func setChannelID(f protocol.Frame, id uint16) {
	switch v := f.(type) {
	case *protocol.MethodFrame:
		v.Channel = id
	case *protocol.HeaderFrame:
		v.Channel = id
	case *protocol.BodyFrame:
		v.Channel = id
	}
}

// Close sends Channel.Close and waits for Channel.CloseOk or ctx to be
// cancelled.
func (ch *Channel) Close(ctx context.Context) error {
	done := make(chan struct{})
	ch.sendFrames([]protocol.Frame{&protocol.MethodFrame{
		Method: &protocol.ChannelCloseMethod{ReplyCode: 200, ReplyText: "goodbye"},
	}}, func(protocol.Method) {
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ch *Channel) removeSelf() {
	ch.closed = true
	delete(ch.conn.channels, ch.id)
}

// handleInbound classifies and dispatches one frame delivered by
// Connection.dispatchInbound for this channel.
func (ch *Channel) handleInbound(f protocol.Frame) {
	if ch.assembly != nil {
		ch.handleDuringAssembly(f)
		return
	}

	switch v := f.(type) {
	case *protocol.MethodFrame:
		ch.handleMethod(v.Method)
	case *protocol.HeaderFrame, *protocol.BodyFrame:
		ch.protocolViolation("content frame with no active method")
	default:
		ch.protocolViolation("unexpected frame type")
	}
}

func (ch *Channel) handleDuringAssembly(f protocol.Frame) {
	switch v := f.(type) {
	case *protocol.MethodFrame:
		ch.protocolViolation("method frame received mid content-assembly")
	case *protocol.HeaderFrame:
		if ch.assembly.header != nil {
			ch.protocolViolation("duplicate header frame mid content-assembly")
			return
		}
		ch.assembly.header = v
		if v.BodySize == 0 {
			ch.completeAssembly()
		}
	case *protocol.BodyFrame:
		if ch.assembly.header == nil {
			ch.protocolViolation("body frame before header mid content-assembly")
			return
		}
		ch.assembly.bodies = append(ch.assembly.bodies, v.Body)
		ch.assembly.bodyReceived += uint64(len(v.Body))
		if ch.assembly.bodyReceived == ch.assembly.header.BodySize {
			ch.completeAssembly()
		} else if ch.assembly.bodyReceived > ch.assembly.header.BodySize {
			ch.protocolViolation("body frames exceeded declared body_size")
		}
	}
}

func (ch *Channel) handleMethod(m protocol.Method) {
	switch v := m.(type) {
	case *protocol.BasicDeliverMethod:
		ch.assembly = &contentAssembly{deliver: v}
	case *protocol.BasicReturnMethod:
		ch.assembly = &contentAssembly{ret: v}
	case *protocol.ChannelCloseMethod:
		ch.handleChannelClose(v)
	case *protocol.ChannelCloseOkMethod:
		ch.handleChannelCloseOk(v)
	default:
		matched := ch.gate.match(m.Kind(), m, func(toWrite []protocol.Frame) {
			_ = ch.conn.writeFrames(toWrite)
		})
		if !matched {
			ch.conn.cfg.Logger.Sub(log.Fields{"scope": "logic"}).Printf(log.Error, "unexpected method %T on channel %d", m, ch.id)
		}
	}
}

func (ch *Channel) completeAssembly() {
	a := ch.assembly
	ch.assembly = nil

	body := make([]byte, 0, a.bodyReceived)
	for _, b := range a.bodies {
		body = append(body, b...)
	}

	if a.ret != nil {
		rm := ReturnedMessage{
			ReplyCode:  a.ret.ReplyCode,
			ReplyText:  a.ret.ReplyText,
			Exchange:   a.ret.Exchange,
			RoutingKey: a.ret.RoutingKey,
			Body:       body,
		}
		if a.header != nil {
			rm.Properties = a.header.Properties
		}
		if ch.onReturn != nil {
			ch.onReturn(rm)
		} else {
			ch.conn.cfg.Logger.Sub(log.Fields{"scope": "logic"}).Printf(log.Error, "message returned and dropped: %s", rm.ReplyText)
		}
		return
	}

	entry, ok := ch.consumers[a.deliver.ConsumerTag]
	if !ok {
		ch.conn.cfg.Logger.Sub(log.Fields{"scope": "logic"}).Printf(log.Error, "delivery for unknown consumer tag %q", a.deliver.ConsumerTag)
		return
	}
	delivery := Delivery{
		ConsumerTag: a.deliver.ConsumerTag,
		DeliveryTag: a.deliver.DeliveryTag,
		Redelivered: a.deliver.Redelivered,
		Exchange:    a.deliver.Exchange,
		RoutingKey:  a.deliver.RoutingKey,
		Queue:       entry.queue,
		Body:        body,
		BodyFrames:  a.bodies,
	}
	if a.header != nil {
		delivery.Properties = a.header.Properties
	}

	decision := entry.callback(delivery)
	if boolOr(entry.opts.NoAck, false) {
		return
	}
	switch decision {
	case Ack:
		ch.sendFrames([]protocol.Frame{&protocol.MethodFrame{
			Method: &protocol.BasicAckMethod{DeliveryTag: a.deliver.DeliveryTag},
		}}, nil)
	case Reject:
		ch.sendFrames([]protocol.Frame{&protocol.MethodFrame{
			Method: &protocol.BasicRejectMethod{DeliveryTag: a.deliver.DeliveryTag, Requeue: true},
		}}, nil)
	}
}

func (ch *Channel) handleChannelClose(m *protocol.ChannelCloseMethod) {
	reason := closeReason(m.ClassID, m.MethodID, m.ReplyCode, m.ReplyText)
	if ch.closeCallback != nil {
		ch.closeCallback(reason)
	}
	if ch.cascadeFailure {
		ch.conn.isStopped = true
		ch.conn.closeErr = newKindError(KindChannelClosedByBroker, "%s", reason)
	} else {
		// Written directly: a Send would run after removeSelf below and be
		// dropped as addressed to an unknown channel.
		_ = ch.conn.writeFrames([]protocol.Frame{&protocol.MethodFrame{
			Channel: ch.id,
			Method:  &protocol.ChannelCloseOkMethod{},
		}})
	}
	ch.removeSelf()
}

func (ch *Channel) handleChannelCloseOk(m *protocol.ChannelCloseOkMethod) {
	// Completes the gate entry opened by Close, firing its callback; any
	// batch queued behind the Close is dropped along with the channel.
	ch.gate.match(m.Kind(), m, func([]protocol.Frame) {})
	if ch.closeCallback != nil {
		ch.closeCallback("")
	}
	if ch.closeOkCallback != nil {
		ch.closeOkCallback()
	}
	ch.removeSelf()
}

func (ch *Channel) protocolViolation(msg string) {
	if ch.conn.cfg.Metrics != nil {
		ch.conn.cfg.Metrics.ProtocolViolation()
	}
	ch.conn.cfg.Logger.Sub(log.Fields{"scope": "logic"}).WithFields(log.Fields{"channel": ch.id}).Printf(log.Error, "protocol violation: %s", msg)
}
