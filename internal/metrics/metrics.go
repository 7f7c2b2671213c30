package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

type Metrics struct {
	mutex           sync.RWMutex
	registrations   int64
	noBackend       int64
	dispatches      map[string]int64
	latencies       map[string][]time.Duration
	probeFailures   map[string]int64
	connectFailures map[string]int64
	relays          map[string]int64
	bytesIn         map[string]int64
	bytesOut        map[string]int64
	healthStatus    map[string]bool
	evicted         map[string]bool
	startTime       time.Time
}

type Snapshot struct {
	Mode            string                    `json:"mode"`
	Uptime          time.Duration             `json:"uptime"`
	Registrations   int64                     `json:"registrations"`
	TotalDispatches int64                     `json:"total_dispatches"`
	NoBackend       int64                     `json:"no_backend"`
	Backends        map[string]BackendMetrics `json:"backends"`
}

type BackendMetrics struct {
	Dispatches      int64         `json:"dispatches"`
	ProbeFailures   int64         `json:"probe_failures"`
	ConnectFailures int64         `json:"connect_failures"`
	Relays          int64         `json:"relays"`
	BytesIn         int64         `json:"bytes_in"`
	BytesOut        int64         `json:"bytes_out"`
	Healthy         bool          `json:"healthy"`
	Evicted         bool          `json:"evicted"`
	AvgDispatch     time.Duration `json:"avg_dispatch"`
	P50Dispatch     time.Duration `json:"p50_dispatch"`
	P95Dispatch     time.Duration `json:"p95_dispatch"`
	P99Dispatch     time.Duration `json:"p99_dispatch"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		dispatches:      make(map[string]int64),
		latencies:       make(map[string][]time.Duration),
		probeFailures:   make(map[string]int64),
		connectFailures: make(map[string]int64),
		relays:          make(map[string]int64),
		bytesIn:         make(map[string]int64),
		bytesOut:        make(map[string]int64),
		healthStatus:    make(map[string]bool),
		evicted:         make(map[string]bool),
		startTime:       time.Now(),
	}
}

func (m *Metrics) RecordRegistration(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.registrations++
	m.healthStatus[backend] = true
	delete(m.evicted, backend)
}

// RecordDispatch counts one unit of work routed to backend. latency is the
// time spent choosing the backend, probes and connect included.
func (m *Metrics) RecordDispatch(backend string, latency time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.dispatches[backend]++
	m.latencies[backend] = append(m.latencies[backend], latency)
	if len(m.latencies[backend]) > maxSamples {
		m.latencies[backend] = m.latencies[backend][1:]
	}
}

func (m *Metrics) RecordProbeFailure(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.probeFailures[backend]++
}

func (m *Metrics) RecordConnectFailure(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.connectFailures[backend]++
}

func (m *Metrics) RecordNoBackend() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.noBackend++
}

func (m *Metrics) RecordRelay(backend string, bytesIn, bytesOut int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.relays[backend]++
	m.bytesIn[backend] += bytesIn
	m.bytesOut[backend] += bytesOut
}

func (m *Metrics) RecordEviction(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.evicted[backend] = true
	m.healthStatus[backend] = false
}

func (m *Metrics) UpdateHealthStatus(backend string, healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.healthStatus[backend] = healthy
}

func (m *Metrics) Snapshot(mode string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Mode:          mode,
		Uptime:        time.Since(m.startTime),
		Registrations: m.registrations,
		NoBackend:     m.noBackend,
		Backends:      make(map[string]BackendMetrics),
	}

	allBackends := make(map[string]bool)
	for _, counters := range []map[string]int64{m.dispatches, m.probeFailures, m.connectFailures, m.relays} {
		for backend := range counters {
			allBackends[backend] = true
		}
	}
	for backend := range m.healthStatus {
		allBackends[backend] = true
	}

	for backend := range allBackends {
		snap.TotalDispatches += m.dispatches[backend]

		bm := BackendMetrics{
			Dispatches:      m.dispatches[backend],
			ProbeFailures:   m.probeFailures[backend],
			ConnectFailures: m.connectFailures[backend],
			Relays:          m.relays[backend],
			BytesIn:         m.bytesIn[backend],
			BytesOut:        m.bytesOut[backend],
			Healthy:         m.healthStatus[backend],
			Evicted:         m.evicted[backend],
		}

		durations := m.latencies[backend]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			bm.AvgDispatch = average(sorted)
			bm.P50Dispatch = percentile(sorted, 0.50)
			bm.P95Dispatch = percentile(sorted, 0.95)
			bm.P99Dispatch = percentile(sorted, 0.99)
		}

		snap.Backends[backend] = bm
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
