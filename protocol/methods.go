package protocol

// Method is implemented by every decoded/encoded AMQP method payload.
// Kind identifies the method's (class, method) pair so the engine can
// classify it without a type switch on every call site.
type Method interface {
	Kind() MethodKind
}

// MethodKind packs an AMQP class id and method id into a single comparable
// value, standing in for the "method class" the spec talks about: the
// closed enumeration a generated protocol binding would produce.
type MethodKind uint32

func classMethod(class, method uint16) MethodKind {
	return MethodKind(uint32(class)<<16 | uint32(method))
}

// Known method kinds, limited to the classes this engine speaks.
const (
	ConnectionStart    MethodKind = MethodKind(10<<16 | 10)
	ConnectionStartOk  MethodKind = MethodKind(10<<16 | 11)
	ConnectionTune     MethodKind = MethodKind(10<<16 | 30)
	ConnectionTuneOk   MethodKind = MethodKind(10<<16 | 31)
	ConnectionOpen     MethodKind = MethodKind(10<<16 | 40)
	ConnectionOpenOk   MethodKind = MethodKind(10<<16 | 41)
	ConnectionClose    MethodKind = MethodKind(10<<16 | 50)
	ConnectionCloseOk  MethodKind = MethodKind(10<<16 | 51)

	ChannelOpen    MethodKind = MethodKind(20<<16 | 10)
	ChannelOpenOk  MethodKind = MethodKind(20<<16 | 11)
	ChannelClose   MethodKind = MethodKind(20<<16 | 40)
	ChannelCloseOk MethodKind = MethodKind(20<<16 | 41)

	QueueDeclare   MethodKind = MethodKind(50<<16 | 10)
	QueueDeclareOk MethodKind = MethodKind(50<<16 | 11)
	QueueBind      MethodKind = MethodKind(50<<16 | 20)
	QueueBindOk    MethodKind = MethodKind(50<<16 | 21)

	BasicConsume   MethodKind = MethodKind(60<<16 | 20)
	BasicConsumeOk MethodKind = MethodKind(60<<16 | 21)
	BasicPublish   MethodKind = MethodKind(60<<16 | 40)
	BasicReturn    MethodKind = MethodKind(60<<16 | 50)
	BasicDeliver   MethodKind = MethodKind(60<<16 | 60)
	BasicAck       MethodKind = MethodKind(60<<16 | 80)
	BasicReject    MethodKind = MethodKind(60<<16 | 90)
)

// Descriptor describes the gating behavior of a single method kind.
type Descriptor struct {
	// Synchronous requests are sent and then await one of Responses before
	// another synchronous request is admitted on the same channel.
	Synchronous bool
	// Responses lists the method kinds that close out this request when
	// they arrive on the same channel.
	Responses []MethodKind
}

// descriptors is the static table a generated protocol binding would carry:
// which requests are synchronous, and what answers them.
var descriptors = map[MethodKind]Descriptor{
	ConnectionStartOk: {Synchronous: true, Responses: []MethodKind{ConnectionTune}},
	ConnectionOpen:    {Synchronous: true, Responses: []MethodKind{ConnectionOpenOk}},
	ConnectionClose:   {Synchronous: true, Responses: []MethodKind{ConnectionCloseOk}},

	ChannelOpen:  {Synchronous: true, Responses: []MethodKind{ChannelOpenOk}},
	ChannelClose: {Synchronous: true, Responses: []MethodKind{ChannelCloseOk}},

	QueueDeclare: {Synchronous: true, Responses: []MethodKind{QueueDeclareOk}},
	QueueBind:    {Synchronous: true, Responses: []MethodKind{QueueBindOk}},

	BasicConsume: {Synchronous: true, Responses: []MethodKind{BasicConsumeOk}},
}

// DescriptorFor returns the gating descriptor for a method kind. Methods
// absent from the table are asynchronous: they never hold the Sync-Gate and
// never close an entry.
func DescriptorFor(k MethodKind) Descriptor {
	return descriptors[k]
}

// IsSynchronousResponse reports whether kind k is one of the declared
// responses for req.
func IsSynchronousResponse(req, k MethodKind) bool {
	for _, r := range descriptors[req].Responses {
		if r == k {
			return true
		}
	}
	return false
}

// --- Connection class --------------------------------------------------

// ConnectionStartMethod is sent by the broker to begin the handshake.
type ConnectionStartMethod struct {
	VersionMajor     byte
	VersionMinor     byte
	ServerProperties Table
	Mechanisms       string
	Locales          string
}

// Kind implements Method.
func (*ConnectionStartMethod) Kind() MethodKind { return ConnectionStart }

// ConnectionStartOkMethod answers Start with the chosen auth mechanism.
type ConnectionStartOkMethod struct {
	ClientProperties Table
	Mechanism        string
	Response         string
	Locale           string
}

// Kind implements Method.
func (*ConnectionStartOkMethod) Kind() MethodKind { return ConnectionStartOk }

// ConnectionTuneMethod proposes tuning parameters.
type ConnectionTuneMethod struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

// Kind implements Method.
func (*ConnectionTuneMethod) Kind() MethodKind { return ConnectionTune }

// ConnectionTuneOkMethod echoes the negotiated tuning parameters.
type ConnectionTuneOkMethod struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

// Kind implements Method.
func (*ConnectionTuneOkMethod) Kind() MethodKind { return ConnectionTuneOk }

// ConnectionOpenMethod opens the chosen virtual host.
type ConnectionOpenMethod struct {
	VirtualHost  string
	Capabilities string
	Insist       bool
}

// Kind implements Method.
func (*ConnectionOpenMethod) Kind() MethodKind { return ConnectionOpen }

// ConnectionOpenOkMethod confirms the virtual host is open.
type ConnectionOpenOkMethod struct {
	KnownHosts string
}

// Kind implements Method.
func (*ConnectionOpenOkMethod) Kind() MethodKind { return ConnectionOpenOk }

// ConnectionCloseMethod requests or reports connection termination.
type ConnectionCloseMethod struct {
	ReplyCode uint16
	ReplyText string
	ClassID   uint16
	MethodID  uint16
}

// Kind implements Method.
func (*ConnectionCloseMethod) Kind() MethodKind { return ConnectionClose }

// ConnectionCloseOkMethod completes the close handshake.
type ConnectionCloseOkMethod struct{}

// Kind implements Method.
func (*ConnectionCloseOkMethod) Kind() MethodKind { return ConnectionCloseOk }

// --- Channel class -------------------------------------------------------

// ChannelOpenMethod allocates a new channel with the broker.
type ChannelOpenMethod struct {
	OutOfBand string
}

// Kind implements Method.
func (*ChannelOpenMethod) Kind() MethodKind { return ChannelOpen }

// ChannelOpenOkMethod confirms a channel is ready for use.
type ChannelOpenOkMethod struct {
	ChannelID []byte
}

// Kind implements Method.
func (*ChannelOpenOkMethod) Kind() MethodKind { return ChannelOpenOk }

// ChannelCloseMethod requests or reports channel termination.
type ChannelCloseMethod struct {
	ReplyCode uint16
	ReplyText string
	ClassID   uint16
	MethodID  uint16
}

// Kind implements Method.
func (*ChannelCloseMethod) Kind() MethodKind { return ChannelClose }

// ChannelCloseOkMethod completes the channel close handshake.
type ChannelCloseOkMethod struct{}

// Kind implements Method.
func (*ChannelCloseOkMethod) Kind() MethodKind { return ChannelCloseOk }

// --- Queue class ---------------------------------------------------------

// QueueDeclareMethod declares (or asserts) a queue.
type QueueDeclareMethod struct {
	Ticket     uint16
	Queue      string
	Passive    bool
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	NoWait     bool
	Arguments  Table
}

// Kind implements Method.
func (*QueueDeclareMethod) Kind() MethodKind { return QueueDeclare }

// QueueDeclareOkMethod reports the final queue state, including any
// server-assigned name.
type QueueDeclareOkMethod struct {
	Queue         string
	MessageCount  uint32
	ConsumerCount uint32
}

// Kind implements Method.
func (*QueueDeclareOkMethod) Kind() MethodKind { return QueueDeclareOk }

// QueueBindMethod binds a queue to an exchange.
type QueueBindMethod struct {
	Ticket     uint16
	Queue      string
	Exchange   string
	RoutingKey string
	NoWait     bool
	Arguments  Table
}

// Kind implements Method.
func (*QueueBindMethod) Kind() MethodKind { return QueueBind }

// QueueBindOkMethod confirms a binding was created.
type QueueBindOkMethod struct{}

// Kind implements Method.
func (*QueueBindOkMethod) Kind() MethodKind { return QueueBindOk }

// --- Basic class ----------------------------------------------------------

// BasicConsumeMethod starts a subscription on a queue.
type BasicConsumeMethod struct {
	Ticket      uint16
	Queue       string
	ConsumerTag string
	NoLocal     bool
	NoAck       bool
	Exclusive   bool
	NoWait      bool
	Arguments   Table
}

// Kind implements Method.
func (*BasicConsumeMethod) Kind() MethodKind { return BasicConsume }

// BasicConsumeOkMethod confirms the subscription and its consumer tag.
type BasicConsumeOkMethod struct {
	ConsumerTag string
}

// Kind implements Method.
func (*BasicConsumeOkMethod) Kind() MethodKind { return BasicConsumeOk }

// BasicPublishMethod begins a publish; it is always followed by a header
// frame and one or more body frames.
type BasicPublishMethod struct {
	Ticket     uint16
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Immediate  bool
}

// Kind implements Method.
func (*BasicPublishMethod) Kind() MethodKind { return BasicPublish }

// BasicReturnMethod reports an undeliverable published message.
type BasicReturnMethod struct {
	ReplyCode  uint16
	ReplyText  string
	Exchange   string
	RoutingKey string
}

// Kind implements Method.
func (*BasicReturnMethod) Kind() MethodKind { return BasicReturn }

// BasicDeliverMethod begins a delivery to a consumer; it is always followed
// by a header frame and one or more body frames.
type BasicDeliverMethod struct {
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string
}

// Kind implements Method.
func (*BasicDeliverMethod) Kind() MethodKind { return BasicDeliver }

// BasicAckMethod acknowledges one or more deliveries.
type BasicAckMethod struct {
	DeliveryTag uint64
	Multiple    bool
}

// Kind implements Method.
func (*BasicAckMethod) Kind() MethodKind { return BasicAck }

// BasicRejectMethod rejects a single delivery.
type BasicRejectMethod struct {
	DeliveryTag uint64
	Requeue     bool
}

// Kind implements Method.
func (*BasicRejectMethod) Kind() MethodKind { return BasicReject }
