package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/angeloszaimis/origin-balancer/internal/backend"
	"github.com/angeloszaimis/origin-balancer/internal/loadbalancer"
	"github.com/angeloszaimis/origin-balancer/internal/metrics"
	"github.com/angeloszaimis/origin-balancer/internal/relay"
)

// NoBackendMessage is written to clients that arrive while the pool is empty.
const NoBackendMessage = "No available servers\n"

const DefaultConnectTimeout = 5 * time.Second

var ErrConnectFailed = errors.New("connect to backend failed")

type Options struct {
	ConnectTimeout time.Duration
	// RetryOnConnectFailure tries every other member once before giving up
	// on a client.
	RetryOnConnectFailure bool
	// ProbeBeforeConnect selects backends through the balancer's health scan
	// instead of plain rotation.
	ProbeBeforeConnect bool
	Relay              relay.Options
	Metrics            *metrics.Collector
}

type Server struct {
	logger   *slog.Logger
	balancer *loadbalancer.LoadBalancer
	opts     Options
}

func NewServer(logger *slog.Logger, lb *loadbalancer.LoadBalancer, opts Options) *Server {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}

	return &Server{
		logger:   logger,
		balancer: lb,
		opts:     opts,
	}
}

// Serve accepts clients on ln until ctx is cancelled. It returns once every
// relay it started has finished.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Accepting clients", slog.String("address", ln.Addr().String()))
	return serve(ctx, ln, s.logger, s.handle)
}

func (s *Server) handle(ctx context.Context, client net.Conn) {
	start := time.Now()
	remote := client.RemoteAddr().String()

	target, err := s.pick(ctx)
	if err != nil {
		s.logger.Warn("No backend for client",
			slog.String("client", remote),
			slog.Any("err", err))
		_, _ = io.WriteString(client, NoBackendMessage)
		_ = client.Close()
		return
	}

	backendConn, target, err := s.connect(ctx, target)
	if err != nil {
		s.logger.Error("Dropping client", slog.String("client", remote), slog.Any("err", err))
		_ = client.Close()
		return
	}

	if !s.opts.ProbeBeforeConnect {
		s.opts.Metrics.Emit(metrics.MetricEvent{
			Type:     metrics.EventDispatched,
			Backend:  target.Key(),
			Duration: time.Since(start),
		})
	}

	s.logger.Debug("Relaying client",
		slog.String("client", remote),
		slog.String("backend", target.Key()))

	stats, err := relay.Relay(ctx, client, backendConn, s.opts.Relay)

	s.opts.Metrics.Emit(metrics.MetricEvent{
		Type:     metrics.EventRelayCompleted,
		Backend:  target.Key(),
		Duration: stats.Duration,
		BytesIn:  stats.ClientToBackend,
		BytesOut: stats.BackendToClient,
	})

	attrs := []any{
		slog.String("client", remote),
		slog.String("backend", target.Key()),
		slog.Int64("bytes_in", stats.ClientToBackend),
		slog.Int64("bytes_out", stats.BackendToClient),
		slog.Duration("duration", stats.Duration),
	}
	if err != nil {
		s.logger.Warn("Relay ended with error", append(attrs, slog.Any("err", err))...)
		return
	}
	s.logger.Debug("Relay finished", attrs...)
}

func (s *Server) pick(ctx context.Context) (*backend.Endpoint, error) {
	if s.opts.ProbeBeforeConnect {
		return s.balancer.Acquire(ctx)
	}
	return s.balancer.Next()
}

// connect dials first and, when retries are enabled, each other member once.
func (s *Server) connect(ctx context.Context, first *backend.Endpoint) (net.Conn, *backend.Endpoint, error) {
	attempts := 1
	if s.opts.RetryOnConnectFailure {
		attempts = max(len(s.balancer.Members()), 1)
	}

	tried := make(map[string]struct{}, attempts)
	target := first

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			next, err := s.balancer.Next()
			if err != nil {
				break
			}
			if _, done := tried[next.Key()]; done {
				continue
			}
			target = next
		}
		tried[target.Key()] = struct{}{}

		conn, err := s.dial(ctx, target)
		if err == nil {
			return conn, target, nil
		}

		lastErr = fmt.Errorf("%w: %s: %v", ErrConnectFailed, target, err)
		s.opts.Metrics.Emit(metrics.MetricEvent{Type: metrics.EventConnectFailed, Backend: target.Key()})
		s.logger.Warn("Could not connect to backend",
			slog.String("backend", target.Key()),
			slog.Any("err", err))
	}

	return nil, nil, lastErr
}

func (s *Server) dial(ctx context.Context, target *backend.Endpoint) (net.Conn, error) {
	dialer := net.Dialer{Timeout: s.opts.ConnectTimeout}
	return dialer.DialContext(ctx, "tcp", target.Address())
}
