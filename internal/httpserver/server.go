package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-ozzo/ozzo-validation/is"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const shutdownTimeout = 5 * time.Second

// Server wraps http.Server with address validation and graceful shutdown.
type Server struct {
	server *http.Server
}

// New validates addr and returns a server for handler. Nothing is bound
// until Start or Serve is called.
func New(addr string, handler http.Handler) (*Server, error) {
	if err := validateHost(addr); err != nil {
		return nil, err
	}

	srv := &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}

	return srv, nil
}

func (s *Server) Addr() string {
	return s.server.Addr
}

// Start listens on the configured address. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	return ignoreClosed(s.server.ListenAndServe())
}

// Serve is Start on an already bound listener.
func (s *Server) Serve(ln net.Listener) error {
	return ignoreClosed(s.server.Serve(ln))
}

// Shutdown drains in-flight requests for at most five seconds.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

func ignoreClosed(err error) error {
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func validateHost(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cant be empty")
	}

	// port 0 binds an ephemeral port
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return validation.NewError("validation_invalid_port", "invalid port")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}
