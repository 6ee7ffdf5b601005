package protocol

import "fmt"

// encodeMethod writes a method's class id, method id, and arguments into a
// single payload buffer in the order the AMQP 0-9-1 grammar defines them.
func encodeMethod(m Method) []byte {
	var w writer
	kind := m.Kind()
	w.short(uint16(kind >> 16))
	w.short(uint16(kind))

	switch v := m.(type) {
	case *ConnectionStartMethod:
		w.octet(v.VersionMajor)
		w.octet(v.VersionMinor)
		w.table(v.ServerProperties)
		w.longstr([]byte(v.Mechanisms))
		w.longstr([]byte(v.Locales))
	case *ConnectionStartOkMethod:
		w.table(v.ClientProperties)
		w.shortstr(v.Mechanism)
		w.longstr([]byte(v.Response))
		w.shortstr(v.Locale)
	case *ConnectionTuneMethod:
		w.short(v.ChannelMax)
		w.long(v.FrameMax)
		w.short(v.Heartbeat)
	case *ConnectionTuneOkMethod:
		w.short(v.ChannelMax)
		w.long(v.FrameMax)
		w.short(v.Heartbeat)
	case *ConnectionOpenMethod:
		w.shortstr(v.VirtualHost)
		w.shortstr(v.Capabilities)
		w.bits(v.Insist)
	case *ConnectionOpenOkMethod:
		w.shortstr(v.KnownHosts)
	case *ConnectionCloseMethod:
		w.short(v.ReplyCode)
		w.shortstr(v.ReplyText)
		w.short(v.ClassID)
		w.short(v.MethodID)
	case *ConnectionCloseOkMethod:
		// no arguments

	case *ChannelOpenMethod:
		w.shortstr(v.OutOfBand)
	case *ChannelOpenOkMethod:
		w.longstr(v.ChannelID)
	case *ChannelCloseMethod:
		w.short(v.ReplyCode)
		w.shortstr(v.ReplyText)
		w.short(v.ClassID)
		w.short(v.MethodID)
	case *ChannelCloseOkMethod:
		// no arguments

	case *QueueDeclareMethod:
		w.short(v.Ticket)
		w.shortstr(v.Queue)
		w.bits(v.Passive, v.Durable, v.Exclusive, v.AutoDelete, v.NoWait)
		w.table(v.Arguments)
	case *QueueDeclareOkMethod:
		w.shortstr(v.Queue)
		w.long(v.MessageCount)
		w.long(v.ConsumerCount)
	case *QueueBindMethod:
		w.short(v.Ticket)
		w.shortstr(v.Queue)
		w.shortstr(v.Exchange)
		w.shortstr(v.RoutingKey)
		w.bits(v.NoWait)
		w.table(v.Arguments)
	case *QueueBindOkMethod:
		// no arguments

	case *BasicConsumeMethod:
		w.short(v.Ticket)
		w.shortstr(v.Queue)
		w.shortstr(v.ConsumerTag)
		w.bits(v.NoLocal, v.NoAck, v.Exclusive, v.NoWait)
		w.table(v.Arguments)
	case *BasicConsumeOkMethod:
		w.shortstr(v.ConsumerTag)
	case *BasicPublishMethod:
		w.short(v.Ticket)
		w.shortstr(v.Exchange)
		w.shortstr(v.RoutingKey)
		w.bits(v.Mandatory, v.Immediate)
	case *BasicReturnMethod:
		w.short(v.ReplyCode)
		w.shortstr(v.ReplyText)
		w.shortstr(v.Exchange)
		w.shortstr(v.RoutingKey)
	case *BasicDeliverMethod:
		w.shortstr(v.ConsumerTag)
		w.longlong(v.DeliveryTag)
		w.bits(v.Redelivered)
		w.shortstr(v.Exchange)
		w.shortstr(v.RoutingKey)
	case *BasicAckMethod:
		w.longlong(v.DeliveryTag)
		w.bits(v.Multiple)
	case *BasicRejectMethod:
		w.longlong(v.DeliveryTag)
		w.bits(v.Requeue)
	}
	return w.buf.Bytes()
}

// decodeMethod reads the class/method id pair and dispatches to the
// matching struct's field layout.
func decodeMethod(payload []byte) (Method, error) {
	r := newReader(payload)
	class, err := r.short()
	if err != nil {
		return nil, err
	}
	method, err := r.short()
	if err != nil {
		return nil, err
	}
	kind := classMethod(class, method)

	switch kind {
	case ConnectionStart:
		m := &ConnectionStartMethod{}
		if m.VersionMajor, err = r.octet(); err != nil {
			return nil, err
		}
		if m.VersionMinor, err = r.octet(); err != nil {
			return nil, err
		}
		if m.ServerProperties, err = r.table(); err != nil {
			return nil, err
		}
		raw, err := r.longstr()
		if err != nil {
			return nil, err
		}
		m.Mechanisms = string(raw)
		if raw, err = r.longstr(); err != nil {
			return nil, err
		}
		m.Locales = string(raw)
		return m, nil
	case ConnectionStartOk:
		m := &ConnectionStartOkMethod{}
		if m.ClientProperties, err = r.table(); err != nil {
			return nil, err
		}
		if m.Mechanism, err = r.shortstr(); err != nil {
			return nil, err
		}
		raw, err := r.longstr()
		if err != nil {
			return nil, err
		}
		m.Response = string(raw)
		if m.Locale, err = r.shortstr(); err != nil {
			return nil, err
		}
		return m, nil
	case ConnectionTune:
		m := &ConnectionTuneMethod{}
		if m.ChannelMax, err = r.short(); err != nil {
			return nil, err
		}
		if m.FrameMax, err = r.long(); err != nil {
			return nil, err
		}
		if m.Heartbeat, err = r.short(); err != nil {
			return nil, err
		}
		return m, nil
	case ConnectionTuneOk:
		m := &ConnectionTuneOkMethod{}
		if m.ChannelMax, err = r.short(); err != nil {
			return nil, err
		}
		if m.FrameMax, err = r.long(); err != nil {
			return nil, err
		}
		if m.Heartbeat, err = r.short(); err != nil {
			return nil, err
		}
		return m, nil
	case ConnectionOpen:
		m := &ConnectionOpenMethod{}
		if m.VirtualHost, err = r.shortstr(); err != nil {
			return nil, err
		}
		if m.Capabilities, err = r.shortstr(); err != nil {
			return nil, err
		}
		bits, err := r.bits(1)
		if err != nil {
			return nil, err
		}
		m.Insist = bits[0]
		return m, nil
	case ConnectionOpenOk:
		m := &ConnectionOpenOkMethod{}
		if m.KnownHosts, err = r.shortstr(); err != nil {
			return nil, err
		}
		return m, nil
	case ConnectionClose:
		m := &ConnectionCloseMethod{}
		if m.ReplyCode, err = r.short(); err != nil {
			return nil, err
		}
		if m.ReplyText, err = r.shortstr(); err != nil {
			return nil, err
		}
		if m.ClassID, err = r.short(); err != nil {
			return nil, err
		}
		if m.MethodID, err = r.short(); err != nil {
			return nil, err
		}
		return m, nil
	case ConnectionCloseOk:
		return &ConnectionCloseOkMethod{}, nil

	case ChannelOpen:
		m := &ChannelOpenMethod{}
		if m.OutOfBand, err = r.shortstr(); err != nil {
			return nil, err
		}
		return m, nil
	case ChannelOpenOk:
		m := &ChannelOpenOkMethod{}
		if m.ChannelID, err = r.longstr(); err != nil {
			return nil, err
		}
		return m, nil
	case ChannelClose:
		m := &ChannelCloseMethod{}
		if m.ReplyCode, err = r.short(); err != nil {
			return nil, err
		}
		if m.ReplyText, err = r.shortstr(); err != nil {
			return nil, err
		}
		if m.ClassID, err = r.short(); err != nil {
			return nil, err
		}
		if m.MethodID, err = r.short(); err != nil {
			return nil, err
		}
		return m, nil
	case ChannelCloseOk:
		return &ChannelCloseOkMethod{}, nil

	case QueueDeclare:
		m := &QueueDeclareMethod{}
		if m.Ticket, err = r.short(); err != nil {
			return nil, err
		}
		if m.Queue, err = r.shortstr(); err != nil {
			return nil, err
		}
		bits, err := r.bits(5)
		if err != nil {
			return nil, err
		}
		m.Passive, m.Durable, m.Exclusive, m.AutoDelete, m.NoWait = bits[0], bits[1], bits[2], bits[3], bits[4]
		if m.Arguments, err = r.table(); err != nil {
			return nil, err
		}
		return m, nil
	case QueueDeclareOk:
		m := &QueueDeclareOkMethod{}
		if m.Queue, err = r.shortstr(); err != nil {
			return nil, err
		}
		if m.MessageCount, err = r.long(); err != nil {
			return nil, err
		}
		if m.ConsumerCount, err = r.long(); err != nil {
			return nil, err
		}
		return m, nil
	case QueueBind:
		m := &QueueBindMethod{}
		if m.Ticket, err = r.short(); err != nil {
			return nil, err
		}
		if m.Queue, err = r.shortstr(); err != nil {
			return nil, err
		}
		if m.Exchange, err = r.shortstr(); err != nil {
			return nil, err
		}
		if m.RoutingKey, err = r.shortstr(); err != nil {
			return nil, err
		}
		bits, err := r.bits(1)
		if err != nil {
			return nil, err
		}
		m.NoWait = bits[0]
		if m.Arguments, err = r.table(); err != nil {
			return nil, err
		}
		return m, nil
	case QueueBindOk:
		return &QueueBindOkMethod{}, nil

	case BasicConsume:
		m := &BasicConsumeMethod{}
		if m.Ticket, err = r.short(); err != nil {
			return nil, err
		}
		if m.Queue, err = r.shortstr(); err != nil {
			return nil, err
		}
		if m.ConsumerTag, err = r.shortstr(); err != nil {
			return nil, err
		}
		bits, err := r.bits(4)
		if err != nil {
			return nil, err
		}
		m.NoLocal, m.NoAck, m.Exclusive, m.NoWait = bits[0], bits[1], bits[2], bits[3]
		if m.Arguments, err = r.table(); err != nil {
			return nil, err
		}
		return m, nil
	case BasicConsumeOk:
		m := &BasicConsumeOkMethod{}
		if m.ConsumerTag, err = r.shortstr(); err != nil {
			return nil, err
		}
		return m, nil
	case BasicPublish:
		m := &BasicPublishMethod{}
		if m.Ticket, err = r.short(); err != nil {
			return nil, err
		}
		if m.Exchange, err = r.shortstr(); err != nil {
			return nil, err
		}
		if m.RoutingKey, err = r.shortstr(); err != nil {
			return nil, err
		}
		bits, err := r.bits(2)
		if err != nil {
			return nil, err
		}
		m.Mandatory, m.Immediate = bits[0], bits[1]
		return m, nil
	case BasicReturn:
		m := &BasicReturnMethod{}
		if m.ReplyCode, err = r.short(); err != nil {
			return nil, err
		}
		if m.ReplyText, err = r.shortstr(); err != nil {
			return nil, err
		}
		if m.Exchange, err = r.shortstr(); err != nil {
			return nil, err
		}
		if m.RoutingKey, err = r.shortstr(); err != nil {
			return nil, err
		}
		return m, nil
	case BasicDeliver:
		m := &BasicDeliverMethod{}
		if m.ConsumerTag, err = r.shortstr(); err != nil {
			return nil, err
		}
		if m.DeliveryTag, err = r.longlong(); err != nil {
			return nil, err
		}
		bits, err := r.bits(1)
		if err != nil {
			return nil, err
		}
		m.Redelivered = bits[0]
		if m.Exchange, err = r.shortstr(); err != nil {
			return nil, err
		}
		if m.RoutingKey, err = r.shortstr(); err != nil {
			return nil, err
		}
		return m, nil
	case BasicAck:
		m := &BasicAckMethod{}
		if m.DeliveryTag, err = r.longlong(); err != nil {
			return nil, err
		}
		bits, err := r.bits(1)
		if err != nil {
			return nil, err
		}
		m.Multiple = bits[0]
		return m, nil
	case BasicReject:
		m := &BasicRejectMethod{}
		if m.DeliveryTag, err = r.longlong(); err != nil {
			return nil, err
		}
		bits, err := r.bits(1)
		if err != nil {
			return nil, err
		}
		m.Requeue = bits[0]
		return m, nil

	default:
		return nil, fmt.Errorf("protocol: unknown method class=%d method=%d", class, method)
	}
}
