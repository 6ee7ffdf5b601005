package goamqp

import (
	"fmt"

	"go.bryk.io/pkg/errors"
)

// Behavioral error kinds. These are tags attached to go.bryk.io/pkg/errors
// Error values (via SetTag(kindTagKey, ...)), not distinct Go types, so
// callers can still errors.As/errors.Is through the usual wrapping chain
// while also branching on ErrorKind(err) when they want to.
type Kind string

const (
	// KindTransportFailure covers socket errors, connect timeouts, and
	// unexpected closes.
	KindTransportFailure Kind = "transport_failure"
	// KindProtocolViolation covers frames received out of expected
	// sequence.
	KindProtocolViolation Kind = "protocol_violation"
	// KindChannelClosedByBroker covers a Channel.Close received from the
	// broker.
	KindChannelClosedByBroker Kind = "channel_closed_by_broker"
	// KindAuthRejection covers a Connection.Close received from the
	// broker. Every broker-initiated Connection.Close carries this kind,
	// whether it arrives during the handshake or after it.
	KindAuthRejection Kind = "auth_rejection"
	// KindConfigurationError covers invalid Config or channel-id requests.
	KindConfigurationError Kind = "configuration_error"
	// KindCallbackError covers a panic or error raised from user code.
	KindCallbackError Kind = "callback_error"
)

const kindTagKey = "goamqp.kind"

func newKindError(kind Kind, format string, args ...interface{}) error {
	err := errors.Errorf(format, args...)
	if e, ok := err.(*errors.Error); ok {
		e.SetTag(kindTagKey, string(kind))
	}
	return err
}

func wrapKindError(kind Kind, cause error, msg string) error {
	err := errors.Wrap(cause, msg)
	if e, ok := err.(*errors.Error); ok {
		e.SetTag(kindTagKey, string(kind))
	}
	return err
}

// ErrorKind extracts the Kind tag attached by this package, if any. It
// returns ("", false) for errors that did not originate here.
func ErrorKind(err error) (Kind, bool) {
	e, ok := err.(*errors.Error)
	if !ok {
		return "", false
	}
	v, ok := e.Tags()[kindTagKey]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return Kind(s), ok
}

// closeReason renders a broker Close method's (class, method, reply_code,
// reply_text) tuple into a human-readable diagnostic string.
func closeReason(classID, methodID uint16, replyCode uint16, replyText string) string {
	return fmt.Sprintf("class=%d method=%d reply_code=%d reply_text=%q", classID, methodID, replyCode, replyText)
}
