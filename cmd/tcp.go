package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/origin-balancer/config"
	"github.com/angeloszaimis/origin-balancer/internal/backend"
	"github.com/angeloszaimis/origin-balancer/internal/handler"
	"github.com/angeloszaimis/origin-balancer/internal/healthcheck"
	"github.com/angeloszaimis/origin-balancer/internal/httpserver"
	"github.com/angeloszaimis/origin-balancer/internal/metrics"
	"github.com/angeloszaimis/origin-balancer/internal/proxy"
	"github.com/angeloszaimis/origin-balancer/internal/relay"
)

func newTCPCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tcp",
		Short: "Relay TCP connections to registered backends",
		Long: "Each client connection is paired with the next backend in rotation and " +
			"bytes are relayed both ways. Backends register by connecting to the " +
			"registration address.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// bound here so only the running subcommand's flags reach viper
			bindFlag(opts.viper, cmd, "transport.address", "address")
			bindFlag(opts.viper, cmd, "registration.address", "registration-address")
			bindFlag(opts.viper, cmd, "server.control_address", "control-address")
			bindFlag(opts.viper, cmd, "transport.retry_on_connect_failure", "retry")
			return opts.run("tcp", runTCP)
		},
	}

	cmd.Flags().String("address", ":8080", "client listen address")
	cmd.Flags().String("registration-address", ":9090", "backend registration listen address")
	cmd.Flags().String("control-address", "", "optional HTTP listen address for /pool and metrics")
	cmd.Flags().Bool("retry", false, "try other backends when a connect fails")

	return cmd
}

func runTCP(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	collector := metrics.NewCollector(cfg.Metrics.BufferSize, log)
	collector.Start(ctx)
	defer stopCollector(cancel, collector, log)

	prober := healthcheck.NewTCPProber(cfg.HealthCheck.Timeout)
	lb := newBalancer(cfg, log, prober, backend.TCPSchemes, collector)
	startMonitor(ctx, cfg, log, lb, prober, collector)

	srv := proxy.NewServer(log, lb, proxy.Options{
		ConnectTimeout:        cfg.Transport.ConnectTimeout,
		RetryOnConnectFailure: cfg.Transport.RetryOnConnectFailure,
		ProbeBeforeConnect:    cfg.Transport.ProbeBeforeConnect,
		Relay: relay.Options{
			BufferSize:  cfg.Transport.BufferSize,
			IdleTimeout: cfg.Transport.IdleTimeout,
		},
		Metrics: collector,
	})
	registrar := proxy.NewRegistrar(log, lb, cfg.Registration.ReadTimeout).WithRateLimit(registrationLimiter(cfg))

	var control *httpserver.Server
	if cfg.Server.ControlAddress != "" {
		var err error
		control, err = httpserver.New(cfg.Server.ControlAddress, setupRouter(routes{
			pool:      handler.NewRegistrationHandler(log, lb).Pool,
			collector: collector,
			mode:      "tcp",
		}))
		if err != nil {
			return err
		}
	}

	clientLn, err := net.Listen("tcp", cfg.Transport.Address)
	if err != nil {
		return err
	}

	registrationLn, err := net.Listen("tcp", cfg.Registration.Address)
	if err != nil {
		_ = clientLn.Close()
		return err
	}

	log.Info("Load balancer starting",
		slog.String("address", clientLn.Addr().String()),
		slog.String("registration_address", registrationLn.Addr().String()),
		slog.Int("seeded", len(lb.Members())))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, clientLn) })
	g.Go(func() error { return registrar.Serve(gctx, registrationLn) })

	if control != nil {
		g.Go(func() error { return serveHTTP(gctx, log, control) })
	}

	return g.Wait()
}
