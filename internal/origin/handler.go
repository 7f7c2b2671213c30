package origin

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

const maxEchoBody = 64 * 1024

// Echo is the body returned for every non-health request.
type Echo struct {
	ID     string `json:"id"`
	Origin string `json:"origin"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Query  string `json:"query,omitempty"`
	Body   string `json:"body,omitempty"`
}

type Handler struct {
	logger *slog.Logger
	name   string
	mux    *http.ServeMux
}

// NewHandler returns the HTTP surface of a demo origin identified by name.
func NewHandler(logger *slog.Logger, name string) *Handler {
	h := &Handler{
		logger: logger,
		name:   name,
		mux:    http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /healthCheck", h.health)
	h.mux.HandleFunc("/", h.echo)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) echo(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEchoBody))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	resp := Echo{
		ID:     uuid.NewString(),
		Origin: h.name,
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Body:   string(body),
	}

	h.logger.Debug("Served request",
		slog.String("id", resp.ID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("from", r.RemoteAddr))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
