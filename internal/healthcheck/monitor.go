package healthcheck

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/angeloszaimis/origin-balancer/internal/backend"
)

// Source lists the endpoints a Monitor should probe.
type Source interface {
	Snapshot() []*backend.Endpoint
}

// ChangeFunc is called when an endpoint's observed health flips. The first
// observation of an endpoint always counts as a change.
type ChangeFunc func(endpoint *backend.Endpoint, result Result)

// Monitor periodically probes every endpoint of a Source and remembers the
// last observed state of each.
type Monitor struct {
	source   Source
	prober   Prober
	interval time.Duration
	logger   *slog.Logger
	onChange ChangeFunc

	mutex sync.Mutex
	state map[string]bool
}

func NewMonitor(source Source, prober Prober, interval time.Duration, logger *slog.Logger, onChange ChangeFunc) *Monitor {
	return &Monitor{
		source:   source,
		prober:   prober,
		interval: interval,
		logger:   logger,
		onChange: onChange,
		state:    make(map[string]bool),
	}
}

// Run blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Health monitor stopped")
			return

		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll probes every current member once, sequentially. State kept for
// endpoints that have left the source is dropped first, so a member that
// registers again is reported on its next observation.
func (m *Monitor) CheckAll(ctx context.Context) {
	members := m.source.Snapshot()
	m.prune(members)

	for _, endpoint := range members {
		if ctx.Err() != nil {
			return
		}

		result := m.prober.Probe(ctx, endpoint)
		if !m.record(endpoint, result.Healthy) {
			continue
		}

		if result.Healthy {
			m.logger.Info("Server is back up",
				slog.String("server", endpoint.String()))
		} else {
			m.logger.Warn("Server is down",
				slog.String("server", endpoint.String()),
				slog.String("reason", result.Reason))
		}

		if m.onChange != nil {
			m.onChange(endpoint, result)
		}
	}
}

// Healthy returns the last observed state and whether one exists.
func (m *Monitor) Healthy(endpoint *backend.Endpoint) (healthy, known bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	healthy, known = m.state[endpoint.Key()]
	return healthy, known
}

func (m *Monitor) record(endpoint *backend.Endpoint, healthy bool) (changed bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	previous, known := m.state[endpoint.Key()]
	m.state[endpoint.Key()] = healthy
	return !known || previous != healthy
}

func (m *Monitor) prune(members []*backend.Endpoint) {
	current := make(map[string]struct{}, len(members))
	for _, e := range members {
		current[e.Key()] = struct{}{}
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	for key := range m.state {
		if _, ok := current[key]; !ok {
			delete(m.state, key)
		}
	}
}
