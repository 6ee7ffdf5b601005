package goamqp

import "github.com/ewaters/goamqp/protocol"

// AckDecision is the sentinel a consumer callback returns to tell the
// engine what to do with a delivery it received with no_ack=false. It has
// no effect when the consumer was registered with no_ack=true.
type AckDecision int

const (
	// NoDecision leaves the message unacked; the caller is expected to
	// ack it some other way later. This is the zero value so a callback
	// that returns nothing by mistake fails safe rather than acking.
	NoDecision AckDecision = iota
	// Ack sends Basic.Ack{delivery_tag} for the delivery.
	Ack
	// Reject sends Basic.Reject{delivery_tag, requeue: true} for the
	// delivery.
	Reject
)

// Delivery is handed to a consumer callback once content assembly for a
// Basic.Deliver completes.
type Delivery struct {
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string
	Queue       string

	Properties protocol.Properties
	Body       []byte

	// BodyFrames preserves the individual body fragments as received,
	// ahead of the concatenated Body, for callers that care about framing.
	BodyFrames [][]byte
}

// SubscribeOptions overlays BasicConsumeMethod's tunable fields. NoLocal,
// NoAck, and Exclusive are *bool — the default for NoAck is true, so a
// caller registering an acking consumer (NoAck: Bool(false), the S4
// scenario) needs that explicit false to survive the merge with the
// default rather than reading back as "unset".
type SubscribeOptions struct {
	ConsumerTag string
	NoLocal     *bool
	NoAck       *bool
	Exclusive   *bool
	Arguments   protocol.Table
}

func defaultSubscribeOptions() SubscribeOptions {
	return SubscribeOptions{NoAck: Bool(true)}
}

type consumerEntry struct {
	queue    string
	opts     SubscribeOptions
	callback func(Delivery) AckDecision
}
