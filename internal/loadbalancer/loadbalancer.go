package loadbalancer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/angeloszaimis/origin-balancer/internal/backend"
	"github.com/angeloszaimis/origin-balancer/internal/circuitbreaker"
	"github.com/angeloszaimis/origin-balancer/internal/healthcheck"
	"github.com/angeloszaimis/origin-balancer/internal/metrics"
	"github.com/angeloszaimis/origin-balancer/internal/pool"
)

var ErrNoHealthyBackend = errors.New("no healthy backend")

type Options struct {
	// Schemes accepted by Register. Defaults to http and https.
	Schemes []string
	// FailureThreshold consecutive failed probes open an endpoint's breaker,
	// after which it is skipped until ResetTimeout passes. Zero disables it.
	FailureThreshold int
	ResetTimeout     time.Duration
	// Evict removes an endpoint from the pool when its breaker opens.
	Evict   bool
	Metrics *metrics.Collector
}

type LoadBalancer struct {
	logger   *slog.Logger
	pool     *pool.Pool
	prober   healthcheck.Prober
	breakers *circuitbreaker.Registry
	schemes  []string
	evict    bool
	metrics  *metrics.Collector
}

func NewLoadBalancer(logger *slog.Logger, p *pool.Pool, prober healthcheck.Prober, opts Options) *LoadBalancer {
	if len(opts.Schemes) == 0 {
		opts.Schemes = backend.HTTPSchemes
	}

	return &LoadBalancer{
		logger:   logger,
		pool:     p,
		prober:   prober,
		breakers: circuitbreaker.NewRegistry(opts.FailureThreshold, opts.ResetTimeout),
		schemes:  opts.Schemes,
		evict:    opts.Evict,
		metrics:  opts.Metrics,
	}
}

// Register validates raw, adds it to the pool and returns the resulting
// membership.
func (lb *LoadBalancer) Register(raw string) ([]string, error) {
	e, err := backend.Parse(raw, lb.schemes...)
	if err != nil {
		return nil, err
	}
	return lb.RegisterEndpoint(e)
}

func (lb *LoadBalancer) RegisterEndpoint(e *backend.Endpoint) ([]string, error) {
	if !lo.Contains(lb.schemes, e.Scheme()) {
		return nil, fmt.Errorf("%w: %s: scheme %q not served in this mode", backend.ErrInvalidEndpoint, e, e.Scheme())
	}

	if err := lb.pool.Register(e); err != nil {
		return nil, fmt.Errorf("%s: %w", e, err)
	}

	lb.breakers.Forget(e)
	lb.metrics.Emit(metrics.MetricEvent{Type: metrics.EventRegistered, Backend: e.Key()})

	members := lb.pool.Keys()
	lb.logger.Info("Registered backend",
		slog.String("backend", e.Key()),
		slog.Int("pool_size", len(members)))

	return members, nil
}

// Next is plain round-robin without probing.
func (lb *LoadBalancer) Next() (*backend.Endpoint, error) {
	e, err := lb.pool.Next()
	if err != nil {
		lb.metrics.Emit(metrics.MetricEvent{Type: metrics.EventNoBackend})
		return nil, err
	}
	return e, nil
}

// Acquire scans the pool from the cursor and returns the first endpoint that
// passes a health probe, moving it to the back of the rotation. At most n
// distinct endpoints are considered, where n is the pool size when the scan
// starts. Other dispatchers may move the cursor while a probe is in flight,
// so repeats returned by the rotation do not count against the bound; after
// 2n rotation steps the members not yet considered are taken from a
// snapshot. Probes run outside the pool lock.
func (lb *LoadBalancer) Acquire(ctx context.Context) (*backend.Endpoint, error) {
	start := time.Now()

	n := lb.pool.Len()
	if n == 0 {
		lb.metrics.Emit(metrics.MetricEvent{Type: metrics.EventNoBackend})
		return nil, pool.ErrEmpty
	}

	seen := make(map[string]struct{}, n)

	try := func(e *backend.Endpoint) (bool, error) {
		if _, dup := seen[e.Key()]; dup {
			return false, nil
		}
		seen[e.Key()] = struct{}{}
		return lb.check(ctx, e)
	}

	for steps := 0; len(seen) < n && steps < 2*n; steps++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		e, err := lb.pool.Next()
		if err != nil {
			break
		}

		ok, err := try(e)
		if err != nil {
			return nil, err
		}
		if ok {
			return lb.dispatched(e, start), nil
		}
	}

	for _, e := range lb.pool.Snapshot() {
		if len(seen) >= n {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ok, err := try(e)
		if err != nil {
			return nil, err
		}
		if ok {
			return lb.dispatched(e, start), nil
		}
	}

	lb.metrics.Emit(metrics.MetricEvent{Type: metrics.EventNoBackend})
	return nil, ErrNoHealthyBackend
}

// check probes e unless its breaker is open. A cancelled context is
// returned as the error.
func (lb *LoadBalancer) check(ctx context.Context, e *backend.Endpoint) (bool, error) {
	cb := lb.breakers.For(e)
	if !cb.Allow() {
		lb.logger.Debug("Skipping backend with open breaker", slog.String("backend", e.Key()))
		return false, nil
	}

	result := lb.prober.Probe(ctx, e)
	if result.Healthy {
		cb.RecordSuccess()
		return true, nil
	}

	if err := ctx.Err(); err != nil {
		cb.Release()
		return false, err
	}

	lb.logger.Warn("Health check failed",
		slog.String("backend", e.Key()),
		slog.String("reason", result.Reason))
	lb.metrics.Emit(metrics.MetricEvent{Type: metrics.EventProbeFailed, Backend: e.Key()})

	if cb.RecordFailure() && lb.evict {
		lb.Evict(e)
	}
	return false, nil
}

func (lb *LoadBalancer) dispatched(e *backend.Endpoint, start time.Time) *backend.Endpoint {
	if err := lb.pool.Requeue(e); err != nil {
		lb.logger.Debug("Backend left the pool during dispatch",
			slog.String("backend", e.Key()), slog.Any("err", err))
	}

	lb.metrics.Emit(metrics.MetricEvent{
		Type:     metrics.EventDispatched,
		Backend:  e.Key(),
		Duration: time.Since(start),
	})
	return e
}

// Evict removes e from the pool and forgets its failure history.
func (lb *LoadBalancer) Evict(e *backend.Endpoint) {
	if err := lb.pool.Remove(e); err != nil {
		return
	}
	lb.breakers.Forget(e)
	lb.metrics.Emit(metrics.MetricEvent{Type: metrics.EventEvicted, Backend: e.Key()})
	lb.logger.Warn("Evicted backend after repeated probe failures", slog.String("backend", e.Key()))
}

// Members returns the normalised form of every registered endpoint.
func (lb *LoadBalancer) Members() []string {
	return lb.pool.Keys()
}

// Snapshot lists the registered endpoints in rotation order.
func (lb *LoadBalancer) Snapshot() []*backend.Endpoint {
	return lb.pool.Snapshot()
}

func (lb *LoadBalancer) Breakers() map[string]circuitbreaker.State {
	return lb.breakers.Stats()
}
