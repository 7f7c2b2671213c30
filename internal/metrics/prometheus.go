package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "origin_balancer"

var backendLabels = []string{"backend"}

// snapshotCollector exposes a Metrics snapshot as const metrics on every
// scrape, so the event pipeline stays the single writer.
type snapshotCollector struct {
	metrics *Metrics
	mode    string

	uptime          *prometheus.Desc
	registrations   *prometheus.Desc
	noBackend       *prometheus.Desc
	dispatches      *prometheus.Desc
	probeFailures   *prometheus.Desc
	connectFailures *prometheus.Desc
	relays          *prometheus.Desc
	bytesIn         *prometheus.Desc
	bytesOut        *prometheus.Desc
	healthy         *prometheus.Desc
}

func newSnapshotCollector(m *Metrics, mode string) *snapshotCollector {
	constLabels := prometheus.Labels{"mode": mode}
	desc := func(name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, constLabels)
	}

	return &snapshotCollector{
		metrics:         m,
		mode:            mode,
		uptime:          desc("uptime_seconds", "Seconds since the balancer started", nil),
		registrations:   desc("registrations_total", "Accepted backend registrations", nil),
		noBackend:       desc("no_backend_total", "Dispatches that found no usable backend", nil),
		dispatches:      desc("dispatches_total", "Units of work routed to a backend", backendLabels),
		probeFailures:   desc("probe_failures_total", "Failed health probes", backendLabels),
		connectFailures: desc("connect_failures_total", "Failed backend connects in tcp mode", backendLabels),
		relays:          desc("relays_total", "Completed relay sessions", backendLabels),
		bytesIn:         desc("relay_bytes_in_total", "Bytes relayed from clients to the backend", backendLabels),
		bytesOut:        desc("relay_bytes_out_total", "Bytes relayed from the backend to clients", backendLabels),
		healthy:         desc("backend_healthy", "Last observed health of the backend (1 healthy)", backendLabels),
	}
}

func (s *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		s.uptime, s.registrations, s.noBackend, s.dispatches, s.probeFailures,
		s.connectFailures, s.relays, s.bytesIn, s.bytesOut, s.healthy,
	} {
		ch <- d
	}
}

func (s *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snap := s.metrics.Snapshot(s.mode)

	ch <- prometheus.MustNewConstMetric(s.uptime, prometheus.GaugeValue, snap.Uptime.Seconds())
	ch <- prometheus.MustNewConstMetric(s.registrations, prometheus.CounterValue, float64(snap.Registrations))
	ch <- prometheus.MustNewConstMetric(s.noBackend, prometheus.CounterValue, float64(snap.NoBackend))

	for backend, bm := range snap.Backends {
		healthy := 0.0
		if bm.Healthy {
			healthy = 1
		}

		ch <- prometheus.MustNewConstMetric(s.dispatches, prometheus.CounterValue, float64(bm.Dispatches), backend)
		ch <- prometheus.MustNewConstMetric(s.probeFailures, prometheus.CounterValue, float64(bm.ProbeFailures), backend)
		ch <- prometheus.MustNewConstMetric(s.connectFailures, prometheus.CounterValue, float64(bm.ConnectFailures), backend)
		ch <- prometheus.MustNewConstMetric(s.relays, prometheus.CounterValue, float64(bm.Relays), backend)
		ch <- prometheus.MustNewConstMetric(s.bytesIn, prometheus.CounterValue, float64(bm.BytesIn), backend)
		ch <- prometheus.MustNewConstMetric(s.bytesOut, prometheus.CounterValue, float64(bm.BytesOut), backend)
		ch <- prometheus.MustNewConstMetric(s.healthy, prometheus.GaugeValue, healthy, backend)
	}
}
