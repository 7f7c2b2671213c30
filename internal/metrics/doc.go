// Package metrics collects load balancer events off the request path.
//
// Dispatchers, probers and relays emit MetricEvents with Collector.Emit,
// which never blocks: events are dropped when the buffer is full. A single
// goroutine folds them into Metrics, which tracks per backend:
//   - dispatch counts and dispatch latency percentiles (P50, P95, P99)
//   - failed probes and failed connects
//   - relay sessions and relayed bytes
//   - last observed health and eviction
//
// Snapshots are served as JSON by Handler and in the Prometheus text format
// by PrometheusHandler. On shutdown the collector drains queued events.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:     metrics.EventDispatched,
//		Backend:  "http://localhost:8081",
//		Duration: 3 * time.Millisecond,
//	})
//
//	snapshot := collector.Snapshot("http")
package metrics
