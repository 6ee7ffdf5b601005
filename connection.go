package goamqp

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"go.bryk.io/pkg/errors"
	"go.bryk.io/pkg/log"

	"github.com/ewaters/goamqp/protocol"
)

const (
	clientPlatform    = "Go"
	clientProduct     = "goamqp"
	clientVersion     = "0.1.0"
	clientInformation = "https://github.com/ewaters/goamqp"
)

// Connection owns the single TCP/TLS socket, drives the handshake,
// demultiplexes inbound frames to channel 0 or a Channel, serializes
// outbound bytes, and manages reconnection and keepalive. All of its
// mutable state is touched only from the goroutine running Run; every
// other goroutine communicates with it by submitting closures on cmdCh,
// matching the single-threaded cooperative model this engine follows.
type Connection struct {
	cfg *Config

	cmdCh  chan func()
	doneCh chan struct{}

	// runtime state, event-loop goroutine only below this point.
	transport   transport
	isStarted   bool
	isStopping  bool
	isStopped   bool
	frameMax    uint32
	lastSend    time.Time
	reconnectAt int
	endpoints   []string
	endpointIdx int

	channels map[uint16]*Channel
	connGate syncGate

	recvBuf        []byte
	heartbeatTimer *time.Timer

	startupQueue []func()
	isReconnect  bool

	closeErr error

	wg     sync.WaitGroup
	cancel context.CancelFunc

	// dial opens the transport for one connection attempt. Defaults to
	// dialTransport; tests substitute a fake transport here instead of
	// hitting a real socket.
	dial func(ctx context.Context, endpoint string, cfg *Config) (transport, error)
}

// Dial builds a Config from addr (a bare host, host:port, or an
// amqp:// / amqps:// URI) overlaid by opts, and returns a Connection ready
// to Run. It performs no I/O; the first connection attempt happens inside
// Run.
func Dial(_ context.Context, addr string, opts ...Option) (*Connection, error) {
	var base []Option
	if looksLikeURI(addr) {
		parsed, err := parseAMQPURI(addr)
		if err != nil {
			return nil, err
		}
		base = parsed.options()
	} else {
		base = []Option{WithRemoteAddress(addr)}
	}
	cfg, err := New(append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return NewConnection(cfg), nil
}

// NewConnection constructs a Connection from an already-built Config. Exported for
// callers that assemble Config once and want to create multiple
// connections from it; most callers should use Dial.
func NewConnection(cfg *Config) *Connection {
	return &Connection{
		cfg:      cfg,
		cmdCh:    make(chan func(), 256),
		doneCh:   make(chan struct{}),
		channels: map[uint16]*Channel{},
		dial:     dialTransport,
	}
}

// IsStarted reports whether the handshake has completed at least once and
// has not since been torn down.
func (c *Connection) IsStarted() bool { return c.isStarted }

// IsStopping reports whether a graceful Stop is in progress.
func (c *Connection) IsStopping() bool { return c.isStopping }

// IsStopped reports whether the event loop has exited.
func (c *Connection) IsStopped() bool { return c.isStopped }

// DoWhenStartup invokes cb immediately if the connection is already
// started, otherwise enqueues it to run exactly once after the next
// successful handshake.
func (c *Connection) DoWhenStartup(cb func()) {
	c.submit(func() {
		if c.isStarted {
			cb()
			return
		}
		c.startupQueue = append(c.startupQueue, cb)
	})
}

// submit schedules fn to run on the event-loop goroutine. Safe to call
// from any goroutine, including from within the event loop itself.
func (c *Connection) submit(fn func()) {
	select {
	case c.cmdCh <- fn:
	case <-c.doneCh:
	}
}

// Channel returns the Channel for id, allocating one with the smallest
// free id in 1..65535 if id is 0. The Channel is returned synchronously;
// its Channel.Open exchange is dispatched asynchronously on the event
// loop.
func (c *Connection) Channel(id uint16) (*Channel, error) {
	resultCh := make(chan channelResult, 1)
	c.submit(func() {
		resultCh <- c.allocateChannel(id)
	})
	res := <-resultCh
	return res.ch, res.err
}

type channelResult struct {
	ch  *Channel
	err error
}

func (c *Connection) allocateChannel(id uint16) channelResult {
	if id != 0 {
		if existing, ok := c.channels[id]; ok {
			return channelResult{ch: existing}
		}
		ch := newChannel(c, id)
		c.channels[id] = ch
		ch.open()
		return channelResult{ch: ch}
	}
	next := smallestFreeID(c.channels)
	if next == 0 {
		return channelResult{err: newKindError(KindConfigurationError, "goamqp: channel id space exhausted")}
	}
	ch := newChannel(c, next)
	c.channels[next] = ch
	ch.open()
	return channelResult{ch: ch}
}

func smallestFreeID(m map[uint16]*Channel) uint16 {
	used := make([]uint16, 0, len(m))
	for id := range m {
		used = append(used, id)
	}
	sort.Slice(used, func(i, j int) bool { return used[i] < used[j] })
	var want uint16 = 1
	for _, id := range used {
		if id != want {
			break
		}
		if want == 65535 {
			return 0
		}
		want++
	}
	return want
}

// Run dials the configured endpoints and drives the event loop until ctx
// is cancelled or Stop/Shutdown is called. It returns the terminal error,
// if any.
func (c *Connection) Run(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer close(c.doneCh)
	defer func() { c.isStopped = true }()

	c.endpoints = c.cfg.endpointOrder()
	c.endpointIdx = 0

	for {
		err := c.runOnce(loopCtx)
		c.isStarted = false
		if c.isStopping || loopCtx.Err() != nil {
			return err
		}
		if !c.cfg.Reconnect {
			c.closeErr = err
			c.fireDisconnected(err)
			return err
		}
		c.fireDisconnected(err)
		if !c.backoffWait(loopCtx) {
			return loopCtx.Err()
		}
		c.isReconnect = true
	}
}

func (c *Connection) backoffWait(ctx context.Context) bool {
	delay := reconnectDelay(c.reconnectAt)
	c.reconnectAt++
	c.endpointIdx = (c.endpointIdx + 1) % len(c.endpoints)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ReconnectAttempt()
	}
	c.cfg.Logger.Sub(log.Fields{"scope": "logic"}).Printf(log.Debug, "reconnecting in %s", delay)
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// reconnectDelay implements invariant 6: the kth attempt is scheduled 2^k
// seconds after the previous failure.
func reconnectDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 20 {
		attempt = 20 // guard against overflow on pathological attempt counts
	}
	return time.Duration(1<<uint(attempt)) * time.Second
}

func (c *Connection) runOnce(ctx context.Context) error {
	c.resetRuntimeState()

	endpoint := c.endpoints[c.endpointIdx]
	tr, err := c.dial(ctx, endpoint, c.cfg)
	if err != nil {
		return wrapKindError(KindTransportFailure, err, "dial "+endpoint)
	}
	c.transport = tr

	group, attemptCtx := errgroup.WithContext(ctx)
	readErrCh := make(chan error, 1)
	group.Go(func() error {
		c.readLoop(attemptCtx, readErrCh)
		return nil
	})

	// tr.Close must run before group.Wait: readLoop may be parked in a
	// blocking Read with no way to observe ctx cancellation on its own,
	// and only closing the transport out from under it will return that
	// Read with an error. Closing first, then waiting, avoids a shutdown
	// deadlock between this goroutine and the reader.
	defer func() {
		tr.Close()
		if c.heartbeatTimer != nil {
			c.heartbeatTimer.Stop()
			c.heartbeatTimer = nil
		}
		_ = group.Wait()
	}()

	if _, err := tr.Write(protocol.Preface); err != nil {
		return wrapKindError(KindTransportFailure, err, "write protocol preface")
	}
	c.lastSend = time.Now()

	c.heartbeatTimer = nil

	for {
		var heartbeatFire <-chan time.Time
		if c.heartbeatTimer != nil {
			heartbeatFire = c.heartbeatTimer.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case fn := <-c.cmdCh:
			fn()

		case err := <-readErrCh:
			return wrapKindError(KindTransportFailure, err, "read loop")

		case <-heartbeatFire:
			c.sendHeartbeatIfIdle()
			c.heartbeatTimer = time.NewTimer(c.nextHeartbeatDelay())
		}

		if c.isStopped {
			return c.closeErr
		}
	}
}

func (c *Connection) resetRuntimeState() {
	c.frameMax = 0
	c.recvBuf = nil
	c.isStopped = false
	c.connGate.clear()
	for _, ch := range c.channels {
		ch.gate.clear()
	}
}

func (c *Connection) nextHeartbeatDelay() time.Duration {
	idle := time.Duration(c.cfg.KeepaliveSecs) * time.Second
	since := time.Since(c.lastSend)
	if since >= idle {
		return 0
	}
	return idle - since
}

func (c *Connection) sendHeartbeatIfIdle() {
	since := time.Since(c.lastSend)
	idle := time.Duration(c.cfg.KeepaliveSecs) * time.Second
	if since < idle {
		return
	}
	_ = c.writeFrames([]protocol.Frame{&protocol.HeartbeatFrame{}})
}

// readLoop blocks on Read and, for every chunk received, submits a
// closure to the event-loop goroutine that decodes and dispatches the
// resulting frames in place — frames are never handed across a second
// channel, so a full inbound queue can't wedge against this same
// goroutine draining it.
func (c *Connection) readLoop(ctx context.Context, errOut chan<- error) {
	buf := make([]byte, 64*1024)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := c.transport.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			c.submit(func() {
				c.recvBuf = append(c.recvBuf, chunk...)
				frames, rest, derr := protocol.Decode(c.recvBuf)
				c.recvBuf = rest
				if derr != nil {
					c.cfg.Logger.Sub(log.Fields{"scope": "logic"}).Printf(log.Error, "frame decode error: %v", derr)
					if c.cfg.Metrics != nil {
						c.cfg.Metrics.ProtocolViolation()
					}
					return
				}
				for _, f := range frames {
					c.dispatchInbound(f)
				}
				if len(frames) > 0 && c.isStarted && c.cfg.KeepaliveSecs > 0 && c.heartbeatTimer == nil {
					c.heartbeatTimer = time.NewTimer(c.nextHeartbeatDelay())
				}
			})
		}
		if err != nil {
			select {
			case errOut <- err:
			case <-ctx.Done():
			}
			return
		}
	}
}

func (c *Connection) writeFrames(frames []protocol.Frame) error {
	for _, f := range frames {
		if err := protocol.Encode(c.transport, f); err != nil {
			return wrapKindError(KindTransportFailure, err, "encode frame")
		}
		c.lastSend = time.Now()
		kind := frameTypeName(f)
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.FrameSent(kind)
		}
		if c.cfg.Debug.FrameOutput {
			c.cfg.Logger.Sub(log.Fields{"scope": "frame"}).WithFields(log.Fields{"direction": "out", "channel": f.ChannelID()}).Printf(log.Debug, "%s", kind)
		}
		c.cfg.fire(OnFrameSent, Event{Kind: OnFrameSent})
	}
	return nil
}

func frameTypeName(f protocol.Frame) string {
	switch f.(type) {
	case *protocol.MethodFrame:
		return "method"
	case *protocol.HeaderFrame:
		return "header"
	case *protocol.BodyFrame:
		return "body"
	case *protocol.HeartbeatFrame:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Send is the admission point for all outbound frames on channel
// channelID: it applies Sync-Gate rules and, once admitted, encodes and
// writes the frames. callback, if non-nil, fires with the matching
// synchronous response frame's method.
func (c *Connection) Send(channelID uint16, frames []protocol.Frame, callback func(protocol.Method)) {
	c.submit(func() {
		ch, ok := c.channels[channelID]
		if !ok && channelID != 0 {
			c.cfg.Logger.Sub(log.Fields{"scope": "logic"}).Printf(log.Error, "send on unknown channel %d", channelID)
			return
		}
		var gate *syncGate
		if channelID == 0 {
			gate = &c.connGate
		} else {
			gate = &ch.gate
		}
		gate.admit(outboundBatch{frames: frames, callback: callback}, func(toWrite []protocol.Frame) {
			if err := c.writeFrames(toWrite); err != nil {
				c.cfg.Logger.Sub(log.Fields{"scope": "logic"}).Printf(log.Error, "write failed: %v", err)
			}
		})
	})
}

// ComposeBasicPublish splits payload into a Publish + Header + N Body
// frames honoring the negotiated frame_max. If frame_max is still 0
// (pre-tune), the whole payload is carried in a single body frame.
func (c *Connection) ComposeBasicPublish(exchange, routingKey string, payload []byte, props protocol.Properties, mandatory, immediate bool) []protocol.Frame {
	return composeBasicPublish(c.frameMax, exchange, routingKey, payload, props, mandatory, immediate)
}

func composeBasicPublish(frameMax uint32, exchange, routingKey string, payload []byte, props protocol.Properties, mandatory, immediate bool) []protocol.Frame {
	frames := make([]protocol.Frame, 0, 3)
	frames = append(frames, &protocol.MethodFrame{
		Method: &protocol.BasicPublishMethod{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Mandatory:  mandatory,
			Immediate:  immediate,
		},
	})
	frames = append(frames, &protocol.HeaderFrame{
		ClassID:    60,
		BodySize:   uint64(len(payload)),
		Properties: props,
	})

	chunk := int(frameMax)
	if chunk <= 0 {
		chunk = len(payload)
		if chunk == 0 {
			chunk = 1
		}
	}
	for offset := 0; offset < len(payload) || (len(payload) == 0 && offset == 0); offset += chunk {
		end := offset + chunk
		if end > len(payload) {
			end = len(payload)
		}
		frames = append(frames, &protocol.BodyFrame{Body: payload[offset:end]})
		if len(payload) == 0 {
			break
		}
	}
	return frames
}

// Stop initiates graceful shutdown: sends Connection.Close and waits for
// CloseOk (or the connection to drop) before the event loop exits.
func (c *Connection) Stop(ctx context.Context) error {
	done := make(chan struct{})
	c.submit(func() {
		c.isStopping = true
		c.Send(0, []protocol.Frame{&protocol.MethodFrame{
			Method: &protocol.ConnectionCloseMethod{ReplyCode: 200, ReplyText: "goodbye"},
		}}, func(protocol.Method) {
			close(done)
		})
	})
	select {
	case <-done:
		return nil
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		c.Shutdown()
		return ctx.Err()
	}
}

// Shutdown performs immediate, non-graceful teardown: cancels timers,
// closes the socket, and marks the connection stopped.
func (c *Connection) Shutdown() {
	c.submit(func() {
		c.isStopped = true
		c.closeErr = errors.New("goamqp: shutdown requested")
	})
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Connection) fireDisconnected(err error) {
	c.cfg.fire(OnDisconnected, Event{Kind: OnDisconnected, Err: err})
}
