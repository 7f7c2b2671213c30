package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/angeloszaimis/origin-balancer/internal/loadbalancer"
	"github.com/angeloszaimis/origin-balancer/internal/pool"
)

// Mode selects what the dispatch handler does with a healthy origin.
type Mode string

const (
	// ModeRedirect answers 307 with the origin's absolute URL.
	ModeRedirect Mode = "redirect"
	// ModeForward proxies the request to the origin.
	ModeForward Mode = "forward"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeRedirect, "":
		return ModeRedirect, nil
	case ModeForward:
		return ModeForward, nil
	default:
		return "", fmt.Errorf("unknown dispatch mode %q", s)
	}
}

type DispatchHandler struct {
	logger   *slog.Logger
	balancer *loadbalancer.LoadBalancer
	mode     Mode
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func NewDispatchHandler(logger *slog.Logger, lb *loadbalancer.LoadBalancer, mode Mode) *DispatchHandler {
	if mode == "" {
		mode = ModeRedirect
	}
	return &DispatchHandler{
		logger:   logger,
		balancer: lb,
		mode:     mode,
	}
}

func (h *DispatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := extractClientIP(r)

	h.logger.Info("Received request",
		slog.String("from", clientIP),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("proto", r.Proto))

	origin, err := h.balancer.Acquire(r.Context())
	switch {
	case errors.Is(err, pool.ErrEmpty):
		h.logger.Warn("No origins registered", slog.String("client", clientIP))
		writeError(w, http.StatusServiceUnavailable, "No available origins", "")
		return
	case errors.Is(err, loadbalancer.ErrNoHealthyBackend):
		h.logger.Warn("No healthy origins available", slog.String("client", clientIP))
		writeError(w, http.StatusServiceUnavailable, "No healthy origins available", "")
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.logger.Debug("Client went away during dispatch", slog.String("client", clientIP))
		return
	case err != nil:
		h.logger.Error("Dispatch failed", slog.String("client", clientIP), slog.Any("err", err))
		writeError(w, http.StatusServiceUnavailable, "No available origins", "")
		return
	}

	w.Header().Set("X-Backend-Server", origin.Key())

	if h.mode == ModeRedirect {
		location := origin.ResolvePath(r.URL.Path, r.URL.RawQuery)
		h.logger.Info("Redirecting to healthy origin",
			slog.String("client", clientIP),
			slog.String("origin", origin.Key()))

		w.Header().Set("Location", location.String())
		w.WriteHeader(http.StatusTemporaryRedirect)
		return
	}

	start := time.Now()
	wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	origin.ReverseProxy().ServeHTTP(wrapped, r)

	h.logger.Info("Forwarded to origin",
		slog.String("client", clientIP),
		slog.String("origin", origin.Key()),
		slog.Int("status", wrapped.statusCode),
		slog.Duration("duration", time.Since(start)))
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}
