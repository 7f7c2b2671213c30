// Package healthcheck implements liveness probes for backend endpoints.
//
// A Prober answers Healthy or Unhealthy for one endpoint within a bounded
// timeout and never returns an error: every I/O failure is reported as an
// Unhealthy result with a reason. The HTTP prober issues a GET to a fixed
// health path; the TCP prober only checks that a connection can be opened.
//
// Monitor runs a prober periodically over every pool member and reports
// health transitions. Selection never depends on it.
package healthcheck
