package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/angeloszaimis/origin-balancer/config"
	"github.com/angeloszaimis/origin-balancer/internal/backend"
	"github.com/angeloszaimis/origin-balancer/internal/healthcheck"
	"github.com/angeloszaimis/origin-balancer/internal/loadbalancer"
	"github.com/angeloszaimis/origin-balancer/internal/metrics"
	"github.com/angeloszaimis/origin-balancer/internal/pool"
	"github.com/angeloszaimis/origin-balancer/pkg/logger"
)

const collectorDrainTimeout = 2 * time.Second

type rootOptions struct {
	configFile string
	viper      *viper.Viper
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{viper: config.NewViper()}

	cmd := &cobra.Command{
		Use:           "origin-balancer",
		Short:         "Round-robin load balancer with self-registering backends",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (default ./config/config.yaml or ./config.yaml)")
	cmd.PersistentFlags().String("log-level", config.LogLevelInfo, "log level: debug, info, warn or error")
	cmd.PersistentFlags().String("env", config.EnvDev, "environment: dev, staging or prod")
	cmd.PersistentFlags().StringSlice("backend", nil, "seed backend endpoint, repeatable")

	bindFlag(opts.viper, cmd, "logging.level", "log-level")
	bindFlag(opts.viper, cmd, "server.environment", "env")
	bindFlag(opts.viper, cmd, "backends", "backend")

	cmd.AddCommand(newHTTPCommand(opts), newTCPCommand(opts), newOriginCommand(opts))

	return cmd
}

func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	f := cmd.PersistentFlags().Lookup(flag)
	if f == nil {
		f = cmd.Flags().Lookup(flag)
	}
	if err := v.BindPFlag(key, f); err != nil {
		panic(err)
	}
}

// run loads the configuration and calls serve with a context cancelled on
// SIGINT or SIGTERM.
func (o *rootOptions) run(mode string, serve func(ctx context.Context, cfg *config.Config, log *slog.Logger) error) error {
	cfg, err := config.Load(o.viper, o.configFile)
	if err != nil {
		return err
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment).With(slog.String("mode", mode))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := serve(ctx, cfg, log); err != nil {
		log.Error("Load balancer stopped with error", slog.Any("err", err))
		return err
	}

	log.Info("Load balancer stopped")
	return nil
}

// newBalancer builds the pool and dispatcher for one mode and registers the
// configured seed backends. Seeds of the wrong scheme or duplicates are
// logged and skipped.
func newBalancer(cfg *config.Config, log *slog.Logger, prober healthcheck.Prober, schemes []string, collector *metrics.Collector) *loadbalancer.LoadBalancer {
	lb := loadbalancer.NewLoadBalancer(log, pool.New(), prober, loadbalancer.Options{
		Schemes:          schemes,
		FailureThreshold: cfg.HealthCheck.FailureThreshold,
		ResetTimeout:     cfg.HealthCheck.ResetTimeout,
		Evict:            cfg.HealthCheck.Evict,
		Metrics:          collector,
	})

	for _, raw := range cfg.Backends {
		if _, err := lb.Register(raw); err != nil {
			log.Warn("Skipping seed backend", slog.String("backend", raw), slog.Any("err", err))
		}
	}

	return lb
}

// startMonitor runs background probing when enabled. It only feeds metrics
// and logs; dispatch never consults it.
func startMonitor(ctx context.Context, cfg *config.Config, log *slog.Logger, lb *loadbalancer.LoadBalancer, prober healthcheck.Prober, collector *metrics.Collector) {
	if !cfg.HealthCheck.Background {
		return
	}

	monitor := healthcheck.NewMonitor(lb, prober, cfg.HealthCheck.Interval, log,
		func(e *backend.Endpoint, result healthcheck.Result) {
			collector.Emit(metrics.MetricEvent{
				Type:    metrics.EventHealthChanged,
				Backend: e.Key(),
				Healthy: result.Healthy,
			})
		})

	go monitor.Run(ctx)
}

func registrationLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.Registration.RateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.Registration.RateLimit), cfg.Registration.Burst)
}

// stopCollector cancels the collector's context and waits for it to drain.
func stopCollector(cancel context.CancelFunc, collector *metrics.Collector, log *slog.Logger) {
	cancel()

	select {
	case <-collector.Done():
	case <-time.After(collectorDrainTimeout):
		log.Warn("Metrics collector did not drain in time")
	}
}
