package healthcheck

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/angeloszaimis/origin-balancer/internal/backend"
)

const (
	DefaultPath    = "/healthCheck"
	DefaultTimeout = 5 * time.Second
)

// Result is the outcome of one probe.
type Result struct {
	Healthy bool
	Reason  string
}

func Healthy() Result {
	return Result{Healthy: true}
}

func Unhealthy(reason string) Result {
	return Result{Healthy: false, Reason: reason}
}

// Prober checks whether a single endpoint is alive.
type Prober interface {
	Probe(ctx context.Context, endpoint *backend.Endpoint) Result
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, endpoint *backend.Endpoint) Result

func (f ProberFunc) Probe(ctx context.Context, endpoint *backend.Endpoint) Result {
	return f(ctx, endpoint)
}

// HTTPProber sends GET requests to a fixed path on the endpoint and treats
// any 2xx status as healthy.
type HTTPProber struct {
	client  *http.Client
	path    string
	timeout time.Duration
}

func NewHTTPProber(path string, timeout time.Duration) *HTTPProber {
	if path == "" {
		path = DefaultPath
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &HTTPProber{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		path:    path,
		timeout: timeout,
	}
}

func (p *HTTPProber) Probe(ctx context.Context, endpoint *backend.Endpoint) Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	healthURL := endpoint.ResolvePath(p.path, "")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL.String(), nil)
	if err != nil {
		return Unhealthy(fmt.Sprintf("build request: %v", err))
	}

	res, err := p.client.Do(req)
	if err != nil {
		return Unhealthy(err.Error())
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return Unhealthy(fmt.Sprintf("health check returned status %d", res.StatusCode))
	}

	return Healthy()
}

// TCPProber reports an endpoint healthy when a connection can be opened.
type TCPProber struct {
	dialer *net.Dialer
}

func NewTCPProber(timeout time.Duration) *TCPProber {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TCPProber{dialer: &net.Dialer{Timeout: timeout}}
}

func (p *TCPProber) Probe(ctx context.Context, endpoint *backend.Endpoint) Result {
	conn, err := p.dialer.DialContext(ctx, "tcp", endpoint.Address())
	if err != nil {
		return Unhealthy(err.Error())
	}
	_ = conn.Close()
	return Healthy()
}
