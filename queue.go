package goamqp

import (
	"context"

	"dario.cat/mergo"
	"github.com/google/uuid"

	"github.com/ewaters/goamqp/protocol"
)

// Bool returns a pointer to b, for populating the *bool fields of the
// Options structs below. A nil field means "use the spec default"; a
// non-nil one — true or false — always wins over that default, which a
// plain bool field can't express once false and "unset" both read as the
// zero value.
func Bool(b bool) *bool { return &b }

// boolOr dereferences p, falling back to def when p is nil.
func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// DeclareOptions overlays Queue.Declare's tunable fields. Zero-value
// strings/maps are replaced by the spec-documented defaults during merge;
// the boolean fields use *bool precisely so an explicit false survives
// the merge instead of being read back as "unset" and overwritten by
// Exclusive/AutoDelete's true defaults.
type DeclareOptions struct {
	Passive    *bool
	Durable    *bool
	Exclusive  *bool
	AutoDelete *bool
	Arguments  protocol.Table
}

func defaultDeclareOptions() DeclareOptions {
	return DeclareOptions{Exclusive: Bool(true), AutoDelete: Bool(true)}
}

// BindOptions overlays Queue.Bind's tunable fields.
type BindOptions struct {
	Exchange   string
	RoutingKey string
	Arguments  protocol.Table
}

// PublishOptions overlays the Basic.Publish/content-header fields used by
// compose_basic_publish. Mandatory is *bool for the same reason as
// DeclareOptions's booleans: the default is true, so a caller asking for
// Mandatory: false needs that to survive the merge.
type PublishOptions struct {
	RoutingKey   string
	ContentType  string
	DeliveryMode uint8
	Priority     uint8
	Mandatory    *bool
	Properties   protocol.Properties
}

func defaultPublishOptions(queueName string) PublishOptions {
	return PublishOptions{
		RoutingKey:   queueName,
		ContentType:  "application/octet-stream",
		DeliveryMode: 1,
		Priority:     1,
		Mandatory:    Bool(true),
	}
}

// mergeOptions overlays override onto base using a structural merge,
// letting any explicitly-set override field win over the corresponding
// spec default without hand-writing a field-by-field copy for every
// option struct. Boolean fields are *bool and the merge runs with
// mergo.WithoutDereference, so mergo's "fill only empty fields" rule —
// which treats a plain false the same as unset — only ever fills a
// genuinely nil (unset) pointer from base; a non-nil override pointer,
// true or false, is never touched.
func mergeOptions[T any](base T, override *T) (T, error) {
	if override == nil {
		return base, nil
	}
	merged := *override
	if err := mergo.Merge(&merged, base, mergo.WithoutDereference); err != nil {
		return base, err
	}
	return merged, nil
}

type queueActionKind int

const (
	actionBind queueActionKind = iota
	actionSubscribe
	actionPublish
)

// queueAction is one deferred Queue handle operation, enumerated rather
// than stored as a closure so the action's parameters are plain data.
type queueAction struct {
	kind queueActionKind

	bindOpts *BindOptions

	subscribeOpts *SubscribeOptions
	subscribeCB   func(Delivery) AckDecision

	publishBody []byte
	publishOpts *PublishOptions
}

// QueueHandle is a named (or not-yet-named) queue scoped to one Channel.
// Bind/Subscribe/Publish operations are deferred in a FIFO action queue
// until the handle itself is created (DeclareOk received); the declare
// itself is handed to the Channel, which holds it until Channel.OpenOk.
type QueueHandle struct {
	name    string
	channel *Channel
	created bool
	pending []queueAction
}

// Queue returns the QueueHandle named name on ch, declaring it if this is
// the first reference. An empty name requests a server-assigned name; the
// returned handle's Name() is empty until DeclareOk arrives.
func (ch *Channel) Queue(name string, opts *DeclareOptions) *QueueHandle {
	if name != "" {
		if existing, ok := ch.queues[name]; ok {
			return existing
		}
	}
	q := &QueueHandle{name: name, channel: ch}
	if name != "" {
		ch.queues[name] = q
	}
	q.declare(opts)
	return q
}

// Name returns the queue's name, which may be empty until a server-
// assigned name arrives via DeclareOk.
func (q *QueueHandle) Name() string { return q.name }

func (q *QueueHandle) declare(opts *DeclareOptions) {
	merged, _ := mergeOptions(defaultDeclareOptions(), opts)
	q.channel.sendFrames([]protocol.Frame{&protocol.MethodFrame{
		Method: &protocol.QueueDeclareMethod{
			Queue:      q.name,
			Passive:    boolOr(merged.Passive, false),
			Durable:    boolOr(merged.Durable, false),
			Exclusive:  boolOr(merged.Exclusive, false),
			AutoDelete: boolOr(merged.AutoDelete, false),
			Arguments:  merged.Arguments,
		},
	}}, func(resp protocol.Method) {
		ok := resp.(*protocol.QueueDeclareOkMethod)
		if q.name == "" {
			q.name = ok.Queue
			q.channel.queues[q.name] = q
		}
		q.markCreated()
	})
}

func (q *QueueHandle) markCreated() {
	q.created = true
	pending := q.pending
	q.pending = nil
	for _, action := range pending {
		q.run(action)
	}
}

func (q *QueueHandle) enqueueOrRun(action queueAction) {
	if !q.created {
		q.pending = append(q.pending, action)
		return
	}
	q.run(action)
}

func (q *QueueHandle) run(action queueAction) {
	switch action.kind {
	case actionBind:
		q.doBind(action.bindOpts)
	case actionSubscribe:
		q.doSubscribe(action.subscribeCB, action.subscribeOpts)
	case actionPublish:
		q.doPublish(context.Background(), action.publishBody, action.publishOpts)
	}
}

// Bind issues Queue.Bind once the queue is created, deferring until then.
func (q *QueueHandle) Bind(opts *BindOptions) {
	q.enqueueOrRun(queueAction{kind: actionBind, bindOpts: opts})
}

func (q *QueueHandle) doBind(opts *BindOptions) {
	merged, _ := mergeOptions(BindOptions{}, opts)
	q.channel.sendFrames([]protocol.Frame{&protocol.MethodFrame{
		Method: &protocol.QueueBindMethod{
			Queue:      q.name,
			Exchange:   merged.Exchange,
			RoutingKey: merged.RoutingKey,
			Arguments:  merged.Arguments,
		},
	}}, nil)
}

// Subscribe issues Basic.Consume once the queue is created, registering
// cb in the channel's consumer table once ConsumeOk arrives.
func (q *QueueHandle) Subscribe(cb func(Delivery) AckDecision, opts *SubscribeOptions) {
	q.enqueueOrRun(queueAction{kind: actionSubscribe, subscribeCB: cb, subscribeOpts: opts})
}

func (q *QueueHandle) doSubscribe(cb func(Delivery) AckDecision, opts *SubscribeOptions) {
	merged, _ := mergeOptions(defaultSubscribeOptions(), opts)
	if merged.ConsumerTag == "" {
		merged.ConsumerTag = uuid.New().String()
	}
	ch := q.channel
	q.channel.sendFrames([]protocol.Frame{&protocol.MethodFrame{
		Method: &protocol.BasicConsumeMethod{
			Queue:       q.name,
			ConsumerTag: merged.ConsumerTag,
			NoLocal:     boolOr(merged.NoLocal, false),
			NoAck:       boolOr(merged.NoAck, false),
			Exclusive:   boolOr(merged.Exclusive, false),
			Arguments:   merged.Arguments,
		},
	}}, func(resp protocol.Method) {
		ok := resp.(*protocol.BasicConsumeOkMethod)
		ch.consumers[ok.ConsumerTag] = &consumerEntry{
			queue:    q.name,
			opts:     merged,
			callback: cb,
		}
	})
}

// Publish composes and sends a Publish + Header + Body(ies) batch,
// deferring until the queue is created.
func (q *QueueHandle) Publish(ctx context.Context, payload []byte, opts *PublishOptions) {
	q.enqueueOrRun(queueAction{kind: actionPublish, publishBody: payload, publishOpts: opts})
}

func (q *QueueHandle) doPublish(_ context.Context, payload []byte, opts *PublishOptions) {
	merged, _ := mergeOptions(defaultPublishOptions(q.name), opts)
	props := merged.Properties
	props.ContentType = merged.ContentType
	props.DeliveryMode = merged.DeliveryMode
	props.Priority = merged.Priority
	if props.MessageID == "" {
		props.MessageID = uuid.New().String()
	}

	frames := q.channel.conn.ComposeBasicPublish("", merged.RoutingKey, payload, props, boolOr(merged.Mandatory, false), false)
	q.channel.sendFrames(frames, nil)
}
