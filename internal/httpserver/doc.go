// Package httpserver wraps net/http.Server with listen address validation and
// a bounded graceful shutdown.
package httpserver
