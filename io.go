package goamqp

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"strconv"
)

// transport is the byte-level collaborator Connection drives: connect,
// send bytes, receive byte chunks, detect disconnect. Satisfied by
// *net.TCPConn / *tls.Conn; a fake implementation backs the handshake and
// reconnect tests.
type transport interface {
	io.Reader
	io.Writer
	io.Closer
}

func dialTransport(ctx context.Context, endpoint string, cfg *Config) (transport, error) {
	host, port, err := splitHostPort(endpoint, strconv.Itoa(cfg.defaultPort()))
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	var d net.Dialer
	addr := net.JoinHostPort(host, port)
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if !cfg.TLS {
		return conn, nil
	}

	tlsConf := cfg.TLSConfig
	if tlsConf == nil {
		tlsConf = &tls.Config{ServerName: host}
	}
	tlsConn := tls.Client(conn, tlsConf)
	if err := tlsConn.HandshakeContext(dialCtx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

func splitHostPort(endpoint, defaultPort string) (host, port string, err error) {
	h, p, err := net.SplitHostPort(endpoint)
	if err == nil {
		return h, p, nil
	}
	return endpoint, defaultPort, nil
}
