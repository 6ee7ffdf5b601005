package goamqp

import (
	"crypto/tls"
	"fmt"
	"math/rand"
	"time"

	"go.bryk.io/pkg/errors"
	"go.bryk.io/pkg/log"
)

// DebugFlags gates which classes of diagnostic detail the engine logs.
// FrameInput and FrameOutput turn on a debug line per inbound or outbound
// frame under the "frame" logger sub-scope. Logic, RawInput and RawOutput
// are stored but no code path reads them: "logic"-scope messages are
// logged regardless, and raw bytes are never logged.
type DebugFlags struct {
	Logic       bool
	FrameInput  bool
	FrameOutput bool
	RawInput    bool
	RawOutput   bool
}

// CallbackKind identifies one of the engine's fan-out notification points.
type CallbackKind int

// Recognized callback kinds. FrameSent fires after every admitted outbound
// frame is written to the wire, Startup after the handshake completes,
// Reconnected after a successful reconnect, Disconnected on any
// non-graceful socket loss.
const (
	OnStartup CallbackKind = iota
	OnReconnected
	OnDisconnected
	OnFrameSent
)

// Config holds everything needed to dial and maintain a connection. Build
// one with New and a list of Options; it is immutable once passed to
// NewConnection.
type Config struct {
	// Endpoints is one or more host:port pairs. When more than one is
	// given, Run shuffles the list and rotates through it on reconnect.
	Endpoints []string

	Username    string
	Password    string
	VirtualHost string

	TLS           bool
	TLSConfig     *tls.Config
	DialTimeout   time.Duration
	KeepaliveSecs int
	Reconnect     bool

	FrameMax int

	Logger log.Logger
	Debug  DebugFlags

	Metrics MetricsCollector

	callbacks map[CallbackKind][]func(Event)
}

// Event is passed to Startup/Reconnected/Disconnected/FrameSent
// subscribers. Fields not relevant to a given callback kind are zero.
type Event struct {
	Kind CallbackKind
	Err  error
}

// Option mutates a Config under construction. Options are applied in
// order; later options win when they touch the same field.
type Option func(*Config) error

// New builds a Config from defaults overlaid by opts, validating the
// result. It does not open any socket.
func New(opts ...Option) (*Config, error) {
	cfg := &Config{
		Username:      "guest",
		Password:      "guest",
		VirtualHost:   "/",
		DialTimeout:   10 * time.Second,
		KeepaliveSecs: 0,
		Logger:        log.Discard(),
		callbacks:     map[CallbackKind][]func(Event){},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(cfg); err != nil {
			return nil, errors.Wrap(err, "applying option")
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Endpoints) == 0 {
		return errors.New("goamqp: at least one remote address is required")
	}
	if c.VirtualHost == "" {
		return errors.New("goamqp: virtual host must not be empty")
	}
	if c.KeepaliveSecs < 0 {
		return errors.New("goamqp: keepalive seconds must not be negative")
	}
	return nil
}

// defaultPort returns the conventional AMQP port for the configured
// transport security.
func (c *Config) defaultPort() int {
	if c.TLS {
		return 5671
	}
	return 5672
}

// endpointOrder returns a shuffled copy of Endpoints. Reconnect rotates
// through this fixed order rather than reshuffling on every attempt, so a
// given connection's failover sequence is stable across attempts.
func (c *Config) endpointOrder() []string {
	order := make([]string, len(c.Endpoints))
	copy(order, c.Endpoints)
	rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	return order
}

func (c *Config) fire(kind CallbackKind, ev Event) {
	for _, cb := range c.callbacks[kind] {
		cb(ev)
	}
}

// WithRemoteAddress sets one or more "host" or "host:port" endpoints. When
// a bare host is given, the default AMQP port for the configured transport
// is assumed.
func WithRemoteAddress(addrs ...string) Option {
	return func(c *Config) error {
		c.Endpoints = append([]string{}, addrs...)
		return nil
	}
}

// WithCredentials sets the AMQPLAIN login and password.
func WithCredentials(user, password string) Option {
	return func(c *Config) error {
		c.Username = user
		c.Password = password
		return nil
	}
}

// WithVirtualHost overrides the default "/" virtual host.
func WithVirtualHost(vhost string) Option {
	return func(c *Config) error {
		if vhost == "" {
			return errors.New("goamqp: virtual host must not be empty")
		}
		c.VirtualHost = vhost
		return nil
	}
}

// WithTLS enables TLS on the transport, optionally with a custom
// *tls.Config; passing nil uses Go's default configuration.
func WithTLS(conf *tls.Config) Option {
	return func(c *Config) error {
		c.TLS = true
		c.TLSConfig = conf
		return nil
	}
}

// WithDialTimeout bounds how long the initial TCP/TLS handshake may take
// before it is treated as a TransportFailure.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return errors.New("goamqp: dial timeout must be positive")
		}
		c.DialTimeout = d
		return nil
	}
}

// WithKeepalive sets the idle-seconds threshold between heartbeats; 0
// disables heartbeats entirely.
func WithKeepalive(seconds int) Option {
	return func(c *Config) error {
		c.KeepaliveSecs = seconds
		return nil
	}
}

// WithReconnect enables automatic reconnection with exponential backoff
// after an unexpected disconnect.
func WithReconnect(enabled bool) Option {
	return func(c *Config) error {
		c.Reconnect = enabled
		return nil
	}
}

// WithLogger installs a structured logger; defaults to a discard logger.
func WithLogger(l log.Logger) Option {
	return func(c *Config) error {
		if l == nil {
			return errors.New("goamqp: logger must not be nil")
		}
		c.Logger = l
		return nil
	}
}

// WithDebug enables one or more diagnostic detail flags.
func WithDebug(flags DebugFlags) Option {
	return func(c *Config) error {
		c.Debug = flags
		return nil
	}
}

// WithCallback registers a subscriber for the given notification kind.
// Multiple subscribers for the same kind are called in registration order.
func WithCallback(kind CallbackKind, fn func(Event)) Option {
	return func(c *Config) error {
		if fn == nil {
			return errors.New("goamqp: callback func must not be nil")
		}
		c.callbacks[kind] = append(c.callbacks[kind], fn)
		return nil
	}
}

// WithMetrics registers a MetricsCollector (e.g. a Prometheus-backed one
// built by NewPrometheusMetrics) to observe frame and reconnect counters.
func WithMetrics(m MetricsCollector) Option {
	return func(c *Config) error {
		c.Metrics = m
		return nil
	}
}

// String renders enough of Config to be useful in logs without leaking
// the password.
func (c *Config) String() string {
	return fmt.Sprintf("goamqp.Config{endpoints:%v vhost:%q tls:%v reconnect:%v keepalive:%ds}",
		c.Endpoints, c.VirtualHost, c.TLS, c.Reconnect, c.KeepaliveSecs)
}
