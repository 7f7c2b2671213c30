package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the JSON snapshot.
func (c *Collector) Handler(mode string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := c.metrics.Snapshot(mode)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

// PrometheusHandler serves the same snapshot in the Prometheus text format
// from a private registry.
func (c *Collector) PrometheusHandler(mode string) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newSnapshotCollector(c.metrics, mode))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
