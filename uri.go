package goamqp

import (
	"net/url"
	"strings"

	"go.bryk.io/pkg/errors"
)

// parsedURI holds the pieces extracted from an amqp:// or amqps:// URI,
// translated into Options by Dial.
type parsedURI struct {
	host        string
	user        string
	password    string
	vhost       string
	tls         bool
}

func parseAMQPURI(raw string) (*parsedURI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parsing AMQP URI")
	}
	switch u.Scheme {
	case "amqp":
	case "amqps":
	default:
		return nil, errors.Errorf("goamqp: unsupported URI scheme %q", u.Scheme)
	}

	p := &parsedURI{
		host: u.Host,
		tls:  u.Scheme == "amqps",
	}
	if u.User != nil {
		p.user = u.User.Username()
		p.password, _ = u.User.Password()
	}
	p.vhost = strings.TrimPrefix(u.Path, "/")
	return p, nil
}

func (p *parsedURI) options() []Option {
	opts := []Option{WithRemoteAddress(p.host)}
	if p.user != "" {
		opts = append(opts, WithCredentials(p.user, p.password))
	}
	if p.vhost != "" {
		opts = append(opts, WithVirtualHost(p.vhost))
	}
	if p.tls {
		opts = append(opts, WithTLS(nil))
	}
	return opts
}

// looksLikeURI reports whether addr should be parsed as an amqp(s):// URI
// rather than treated as a bare host or host:port.
func looksLikeURI(addr string) bool {
	return strings.HasPrefix(addr, "amqp://") || strings.HasPrefix(addr, "amqps://")
}
