package protocol

// Table mirrors the AMQP field-table type: a string-keyed map supporting a
// small set of value kinds, with arbitrary nesting. It is used both for
// server/client properties exchanged during the handshake and for the
// `arguments` maps attached to queue/exchange declarations.
type Table map[string]interface{}

// field-table value tags, as defined by the AMQP 0-9-1 spec. Only the subset
// actually produced or consumed by this engine is implemented.
const (
	tagLongString = 'S'
	tagBoolean    = 't'
	tagInt32      = 'I'
	tagInt64      = 'L'
	tagTable      = 'F'
	tagVoid       = 'V'
)
