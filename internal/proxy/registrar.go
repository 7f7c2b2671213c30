package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/angeloszaimis/origin-balancer/internal/backend"
	"github.com/angeloszaimis/origin-balancer/internal/loadbalancer"
)

const (
	DefaultReadTimeout = 500 * time.Millisecond

	maxAnnouncement = 512
)

// Registrar adds every connecting peer to the pool. A peer may announce the
// address it serves on as its first line: a bare port (combined with the
// peer's IP), host:port, or tcp://host:port. Without an announcement the
// observed peer address is registered. The reply is the membership, one
// endpoint per line, or "error: <reason>".
type Registrar struct {
	logger      *slog.Logger
	balancer    *loadbalancer.LoadBalancer
	readTimeout time.Duration
	limiter     *rate.Limiter
}

// NewRegistrar returns a Registrar that waits up to readTimeout for an
// announcement. Zero skips reading entirely.
func NewRegistrar(logger *slog.Logger, lb *loadbalancer.LoadBalancer, readTimeout time.Duration) *Registrar {
	return &Registrar{
		logger:      logger,
		balancer:    lb,
		readTimeout: readTimeout,
	}
}

// WithRateLimit answers registrations beyond limiter's rate with an error
// line. A nil limiter removes the limit.
func (r *Registrar) WithRateLimit(limiter *rate.Limiter) *Registrar {
	r.limiter = limiter
	return r
}

func (r *Registrar) Serve(ctx context.Context, ln net.Listener) error {
	r.logger.Info("Accepting registrations", slog.String("address", ln.Addr().String()))
	return serve(ctx, ln, r.logger, r.handle)
}

func (r *Registrar) handle(_ context.Context, conn net.Conn) {
	defer conn.Close()

	peer := conn.RemoteAddr()

	if r.limiter != nil && !r.limiter.Allow() {
		r.logger.Warn("Registration rate limited", slog.String("peer", peer.String()))
		_, _ = io.WriteString(conn, "error: too many registrations\n")
		return
	}

	endpoint, err := announcedEndpoint(r.readAnnouncement(conn), peer)
	if err != nil {
		r.logger.Warn("Rejected registration", slog.String("peer", peer.String()), slog.Any("err", err))
		_, _ = fmt.Fprintf(conn, "error: %v\n", err)
		return
	}

	members, err := r.balancer.RegisterEndpoint(endpoint)
	if err != nil {
		r.logger.Warn("Rejected registration", slog.String("peer", peer.String()), slog.Any("err", err))
		_, _ = fmt.Fprintf(conn, "error: %v\n", err)
		return
	}

	w := bufio.NewWriter(conn)
	for _, m := range members {
		_, _ = w.WriteString(m + "\n")
	}
	_ = w.Flush()
}

func (r *Registrar) readAnnouncement(conn net.Conn) string {
	if r.readTimeout <= 0 {
		return ""
	}

	_ = conn.SetReadDeadline(time.Now().Add(r.readTimeout))
	defer conn.SetReadDeadline(time.Time{})

	scanner := bufio.NewScanner(io.LimitReader(conn, maxAnnouncement))
	if !scanner.Scan() {
		return ""
	}
	return strings.TrimSpace(scanner.Text())
}

func announcedEndpoint(line string, peer net.Addr) (*backend.Endpoint, error) {
	switch {
	case line == "":
		return backend.FromAddr(peer)

	case isPort(line):
		if peer == nil {
			return nil, fmt.Errorf("%w: no peer address", backend.ErrInvalidEndpoint)
		}
		host, _, err := net.SplitHostPort(peer.String())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", backend.ErrInvalidEndpoint, err)
		}
		return backend.Parse(backend.SchemeTCP+"://"+net.JoinHostPort(host, line), backend.SchemeTCP)

	case strings.Contains(line, "://"):
		return backend.Parse(line, backend.SchemeTCP)

	default:
		return backend.Parse(backend.SchemeTCP+"://"+line, backend.SchemeTCP)
	}
}

func isPort(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n > 0 && n <= 65535
}
