package main

import (
	"net/http"

	"github.com/angeloszaimis/origin-balancer/internal/handler"
	"github.com/angeloszaimis/origin-balancer/internal/metrics"
)

// routes lists what a listener serves. Nil members are left out.
type routes struct {
	dispatch     http.Handler
	registration *handler.RegistrationHandler
	pool         http.HandlerFunc
	collector    *metrics.Collector
	mode         string
}

func setupRouter(r routes) http.Handler {
	mux := http.NewServeMux()

	if r.dispatch != nil {
		mux.Handle("/", r.dispatch)
	}

	if r.registration != nil {
		mux.Handle("/port", r.registration)
		if r.pool == nil {
			r.pool = r.registration.Pool
		}
	}

	if r.pool != nil {
		mux.HandleFunc("GET /pool", r.pool)
	}

	if r.collector != nil {
		mux.HandleFunc("GET /metrics", r.collector.Handler(r.mode))
		mux.Handle("GET /metrics/prometheus", r.collector.PrometheusHandler(r.mode))
	}

	return handler.CORS(mux)
}
