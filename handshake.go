package goamqp

import (
	"go.bryk.io/pkg/log"

	"github.com/ewaters/goamqp/protocol"
)

// dispatchInbound routes one decoded frame either to the channel-0
// handshake/control logic or to the owning Channel, and feeds every
// synchronous Method frame through the relevant Sync-Gate.
func (c *Connection) dispatchInbound(f protocol.Frame) {
	kind := frameTypeName(f)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.FrameReceived(kind)
	}
	if c.cfg.Debug.FrameInput {
		c.cfg.Logger.Sub(log.Fields{"scope": "frame"}).WithFields(log.Fields{"direction": "in", "channel": f.ChannelID()}).Printf(log.Debug, "%s", kind)
	}

	if f.ChannelID() == 0 {
		c.dispatchChannelZero(f)
		return
	}

	ch, ok := c.channels[f.ChannelID()]
	if !ok {
		c.cfg.Logger.Sub(log.Fields{"scope": "logic"}).Printf(log.Error, "frame on unknown channel %d", f.ChannelID())
		return
	}
	ch.handleInbound(f)
}

func (c *Connection) dispatchChannelZero(f protocol.Frame) {
	switch v := f.(type) {
	case *protocol.HeartbeatFrame:
		// silent acknowledgement; receiving any frame resets peer idleness
		// on the broker side, nothing to do on ours beyond having read it.
		return
	case *protocol.MethodFrame:
		c.handleConnectionMethod(v.Method)
	default:
		c.cfg.Logger.Sub(log.Fields{"scope": "logic"}).Printf(log.Error, "unexpected frame type on channel 0: %T", f)
	}
}

func (c *Connection) handleConnectionMethod(m protocol.Method) {
	switch method := m.(type) {
	case *protocol.ConnectionStartMethod:
		c.sendStartOk()
	case *protocol.ConnectionTuneMethod:
		c.matchConnGateResponse(m)
		c.frameMax = method.FrameMax
		c.sendTuneOkAndOpen(method)
	case *protocol.ConnectionCloseMethod:
		c.handleConnectionClose(method)
	default:
		c.matchConnGateResponse(m)
	}
}

func (c *Connection) matchConnGateResponse(m protocol.Method) {
	matched := c.connGate.match(m.Kind(), m, func(toWrite []protocol.Frame) {
		_ = c.writeFrames(toWrite)
	})
	if !matched {
		c.cfg.Logger.Sub(log.Fields{"scope": "logic"}).Printf(log.Error, "unexpected connection method %T", m)
	}
}

func (c *Connection) sendStartOk() {
	clientProps := protocol.Table{
		"platform":    clientPlatform,
		"product":     clientProduct,
		"version":     clientVersion,
		"information": clientInformation,
	}
	response := encodeAMQPLAIN(c.cfg.Username, c.cfg.Password)
	c.Send(0, []protocol.Frame{&protocol.MethodFrame{
		Method: &protocol.ConnectionStartOkMethod{
			ClientProperties: clientProps,
			Mechanism:        "AMQPLAIN",
			Response:         response,
			Locale:           "en_US",
		},
	}}, nil)
}

// encodeAMQPLAIN renders the LOGIN/PASSWORD field-table pair AMQPLAIN
// expects as its SASL response.
func encodeAMQPLAIN(user, password string) string {
	return protocol.EncodeAMQPLAINResponse(user, password)
}

func (c *Connection) sendTuneOkAndOpen(tune *protocol.ConnectionTuneMethod) {
	c.Send(0, []protocol.Frame{&protocol.MethodFrame{
		Method: &protocol.ConnectionTuneOkMethod{
			ChannelMax: 0,
			FrameMax:   tune.FrameMax,
			Heartbeat:  0,
		},
	}}, nil)
	c.Send(0, []protocol.Frame{&protocol.MethodFrame{
		Method: &protocol.ConnectionOpenMethod{
			VirtualHost: c.cfg.VirtualHost,
			Insist:      true,
		},
	}}, func(resp protocol.Method) {
		c.handleConnectionOpenOk()
	})
}

func (c *Connection) handleConnectionOpenOk() {
	c.isStarted = true
	wasReconnect := c.isReconnect
	c.isReconnect = false
	c.reconnectAt = 0

	queue := c.startupQueue
	c.startupQueue = nil
	c.cfg.fire(OnStartup, Event{Kind: OnStartup})
	for _, cb := range queue {
		cb()
	}
	if wasReconnect {
		c.cfg.fire(OnReconnected, Event{Kind: OnReconnected})
	}
}

func (c *Connection) handleConnectionClose(m *protocol.ConnectionCloseMethod) {
	reason := closeReason(m.ClassID, m.MethodID, m.ReplyCode, m.ReplyText)
	c.cfg.Logger.Sub(log.Fields{"scope": "logic"}).Printf(log.Error, "connection closed by broker: %s", reason)
	c.closeErr = newKindError(KindAuthRejection, "connection closed by broker: %s", reason)
	_ = c.writeFrames([]protocol.Frame{&protocol.MethodFrame{Method: &protocol.ConnectionCloseOkMethod{}}})
	c.isStopped = true
}
