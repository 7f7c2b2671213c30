package backend

import (
	"errors"
	"fmt"
	"net"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"

	"github.com/samber/lo"
)

const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeTCP   = "tcp"
)

// ErrInvalidEndpoint is returned for empty or malformed endpoint input.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// HTTPSchemes and TCPSchemes are the scheme sets accepted by each mode.
var (
	HTTPSchemes = []string{SchemeHTTP, SchemeHTTPS}
	TCPSchemes  = []string{SchemeTCP}
)

// Endpoint is an immutable backend address. Use Parse or FromAddr to build one.
type Endpoint struct {
	url *url.URL
	key string

	proxyOnce sync.Once
	proxy     *httputil.ReverseProxy
}

// Parse validates raw and returns the normalised Endpoint. When schemes is
// empty every supported scheme is accepted.
func Parse(raw string, schemes ...string) (*Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidEndpoint)
	}

	if len(schemes) == 0 {
		schemes = []string{SchemeHTTP, SchemeHTTPS, SchemeTCP}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, raw, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if !lo.Contains(schemes, u.Scheme) {
		return nil, fmt.Errorf("%w: %q: scheme must be one of %s",
			ErrInvalidEndpoint, raw, strings.Join(schemes, ", "))
	}

	if u.Host == "" || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q: missing host", ErrInvalidEndpoint, raw)
	}

	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("%w: %q: user info, query and fragment are not allowed", ErrInvalidEndpoint, raw)
	}

	if port := u.Port(); port == "" && u.Scheme == SchemeTCP {
		return nil, fmt.Errorf("%w: %q: tcp endpoints need a port", ErrInvalidEndpoint, raw)
	}

	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	if u.Scheme == SchemeTCP && u.Path != "" {
		return nil, fmt.Errorf("%w: %q: tcp endpoints cannot carry a path", ErrInvalidEndpoint, raw)
	}

	return &Endpoint{url: u, key: u.String()}, nil
}

// FromAddr builds a tcp endpoint from an observed network address, typically
// the peer of a registration connection.
func FromAddr(addr net.Addr) (*Endpoint, error) {
	if addr == nil {
		return nil, fmt.Errorf("%w: nil address", ErrInvalidEndpoint)
	}

	return Parse(SchemeTCP+"://"+addr.String(), SchemeTCP)
}

// MustParse is Parse for literals in tests and defaults.
func MustParse(raw string) *Endpoint {
	e, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return e
}

// URL returns a copy of the endpoint URL.
func (e *Endpoint) URL() *url.URL {
	u := *e.url
	return &u
}

// Key is the normalised string form used for equality.
func (e *Endpoint) Key() string {
	return e.key
}

func (e *Endpoint) String() string {
	return e.key
}

// Scheme returns the lower-cased scheme.
func (e *Endpoint) Scheme() string {
	return e.url.Scheme
}

// Equal reports whether both endpoints have the same normalised form.
func (e *Endpoint) Equal(other *Endpoint) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.key == other.key
}

// Address returns host:port for dialing, filling in the scheme's default port.
func (e *Endpoint) Address() string {
	port := e.url.Port()
	if port == "" {
		switch e.url.Scheme {
		case SchemeHTTPS:
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(e.url.Hostname(), port)
}

// ResolvePath joins the endpoint path with the request path and attaches the
// raw query, producing the absolute URL a client is redirected to.
func (e *Endpoint) ResolvePath(path, rawQuery string) *url.URL {
	u := e.URL()
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = e.url.Path + path
	u.RawQuery = rawQuery
	return u
}

// ReverseProxy returns the HTTP reverse proxy for this endpoint, creating it
// on first use.
func (e *Endpoint) ReverseProxy() *httputil.ReverseProxy {
	e.proxyOnce.Do(func() {
		e.proxy = httputil.NewSingleHostReverseProxy(e.URL())
	})
	return e.proxy
}
