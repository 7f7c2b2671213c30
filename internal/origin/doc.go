// Package origin is a small demo backend for exercising the balancer. It
// serves a health endpoint and an echo response over HTTP, echoes raw bytes
// over TCP, and can register itself with a running balancer in either mode.
package origin
