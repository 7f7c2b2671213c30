package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/origin-balancer/config"
	"github.com/angeloszaimis/origin-balancer/internal/backend"
	"github.com/angeloszaimis/origin-balancer/internal/handler"
	"github.com/angeloszaimis/origin-balancer/internal/healthcheck"
	"github.com/angeloszaimis/origin-balancer/internal/httpserver"
	"github.com/angeloszaimis/origin-balancer/internal/metrics"
)

func newHTTPCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "http",
		Short: "Dispatch HTTP requests to healthy origins",
		Long: "Every request probes origins in rotation and is redirected (or forwarded) " +
			"to the first healthy one. Origins register with PUT /port.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// bound here so only the running subcommand's flags reach viper
			bindFlag(opts.viper, cmd, "server.address", "address")
			bindFlag(opts.viper, cmd, "server.control_address", "control-address")
			bindFlag(opts.viper, cmd, "dispatch.mode", "dispatch")
			return opts.run("http", runHTTP)
		},
	}

	cmd.Flags().String("address", ":8080", "client listen address")
	cmd.Flags().String("control-address", "", "separate listen address for registration and metrics")
	cmd.Flags().String("dispatch", config.DispatchRedirect, "redirect or forward")

	return cmd
}

func runHTTP(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	mode, err := handler.ParseMode(cfg.Dispatch.Mode)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	collector := metrics.NewCollector(cfg.Metrics.BufferSize, log)
	collector.Start(ctx)
	defer stopCollector(cancel, collector, log)

	prober := healthcheck.NewHTTPProber(cfg.HealthCheck.Path, cfg.HealthCheck.Timeout)
	lb := newBalancer(cfg, log, prober, backend.HTTPSchemes, collector)
	startMonitor(ctx, cfg, log, lb, prober, collector)

	dispatch := handler.NewDispatchHandler(log, lb, mode)
	registration := handler.NewRegistrationHandler(log, lb).WithRateLimit(registrationLimiter(cfg))

	var servers []*httpserver.Server
	if cfg.Server.ControlAddress == "" {
		srv, err := httpserver.New(cfg.Server.Address, setupRouter(routes{
			dispatch:     dispatch,
			registration: registration,
			collector:    collector,
			mode:         "http",
		}))
		if err != nil {
			return err
		}
		servers = append(servers, srv)
	} else {
		client, err := httpserver.New(cfg.Server.Address, setupRouter(routes{dispatch: dispatch}))
		if err != nil {
			return err
		}
		control, err := httpserver.New(cfg.Server.ControlAddress, setupRouter(routes{
			registration: registration,
			collector:    collector,
			mode:         "http",
		}))
		if err != nil {
			return err
		}
		servers = append(servers, client, control)
	}

	log.Info("Load balancer starting",
		slog.String("address", cfg.Server.Address),
		slog.String("control_address", cfg.Server.ControlAddress),
		slog.String("dispatch", string(mode)),
		slog.Int("seeded", len(lb.Members())))

	return serveHTTP(ctx, log, servers...)
}

// serveHTTP runs every server until ctx is cancelled or one of them fails,
// then shuts all of them down.
func serveHTTP(ctx context.Context, log *slog.Logger, servers ...*httpserver.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, srv := range servers {
		g.Go(srv.Start)
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down gracefully...")
		for _, srv := range servers {
			if err := srv.Shutdown(context.Background()); err != nil {
				log.Error("Error during shutdown", slog.String("address", srv.Addr()), slog.Any("err", err))
			}
		}
		return nil
	})

	return g.Wait()
}
