package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/angeloszaimis/origin-balancer/internal/backend"
	"github.com/angeloszaimis/origin-balancer/internal/loadbalancer"
	"github.com/angeloszaimis/origin-balancer/internal/pool"
)

const maxBodyBytes = 4 << 10

// RegistrationHandler serves the control plane: PUT /port registers the
// origin named by the "origin" header (or a JSON body {"origin": ...}),
// OPTIONS /port answers preflight requests.
type RegistrationHandler struct {
	logger   *slog.Logger
	balancer *loadbalancer.LoadBalancer
	limiter  *rate.Limiter
}

func NewRegistrationHandler(logger *slog.Logger, lb *loadbalancer.LoadBalancer) *RegistrationHandler {
	return &RegistrationHandler{logger: logger, balancer: lb}
}

// WithRateLimit rejects registrations beyond limiter's rate with 429. A nil
// limiter removes the limit.
func (h *RegistrationHandler) WithRateLimit(limiter *rate.Limiter) *RegistrationHandler {
	h.limiter = limiter
	return h
}

func (h *RegistrationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		h.register(w, r)
	case http.MethodOptions:
		h.preflight(w)
	default:
		w.Header().Set("Allow", "PUT, OPTIONS")
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
	}
}

// Pool lists the current membership.
func (h *RegistrationHandler) Pool(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, membershipResponse{
		CurrentNumbers: h.balancer.Members(),
		Status:         statusSuccess,
	})
}

func (h *RegistrationHandler) register(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		h.logger.Warn("Registration rate limited", slog.String("remote", r.RemoteAddr))
		writeError(w, http.StatusTooManyRequests, "Too many registrations", "")
		return
	}

	origin, err := originFrom(r)
	if err != nil {
		h.logger.Warn("Unreadable registration body", slog.Any("err", err))
		writeError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}

	if origin == "" {
		writeError(w, http.StatusBadRequest, "Missing origin header", "")
		return
	}

	lower := strings.ToLower(origin)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		writeError(w, http.StatusBadRequest, "Origin must start with http:// or https://", origin)
		return
	}

	members, err := h.balancer.Register(origin)
	switch {
	case errors.Is(err, pool.ErrDuplicateEndpoint):
		h.logger.Error("Origin already exists", slog.String("origin", origin))
		writeError(w, http.StatusBadRequest, "Origin already exists", origin)
		return
	case errors.Is(err, backend.ErrInvalidEndpoint):
		h.logger.Warn("Rejected origin", slog.String("origin", origin), slog.Any("err", err))
		writeError(w, http.StatusBadRequest, "Invalid origin", origin)
		return
	case err != nil:
		h.logger.Error("Failed to add origin", slog.String("origin", origin), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Failed to add origin", origin)
		return
	}

	writeJSON(w, http.StatusOK, membershipResponse{
		Message:        fmt.Sprintf("Successfully added origin: %s", origin),
		CurrentNumbers: members,
		Status:         statusSuccess,
	})
}

func (h *RegistrationHandler) preflight(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Methods", "PUT, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "origin, content-type")
	w.WriteHeader(http.StatusOK)
}

func originFrom(r *http.Request) (string, error) {
	if v := strings.TrimSpace(r.Header.Get("origin")); v != "" {
		return v, nil
	}

	if r.Body == nil {
		return "", nil
	}

	var body struct {
		Origin string `json:"origin"`
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body)
	if errors.Is(err, io.EOF) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(body.Origin), nil
}
