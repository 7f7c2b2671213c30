package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/origin-balancer/config"
	"github.com/angeloszaimis/origin-balancer/internal/httpserver"
	"github.com/angeloszaimis/origin-balancer/internal/origin"
	"github.com/angeloszaimis/origin-balancer/pkg/logger"
)

type originOptions struct {
	address   string
	name      string
	advertise string
	balancer  string
	registrar string
	tcp       bool
	retries   int
}

func newOriginCommand(opts *rootOptions) *cobra.Command {
	o := &originOptions{}

	cmd := &cobra.Command{
		Use:   "origin",
		Short: "Run a demo backend that registers itself with a balancer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.viper, opts.configFile)
			if err != nil {
				return err
			}
			if o.name == "" {
				o.name = o.address
			}

			log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment).
				With(slog.String("mode", "origin"), slog.String("origin", o.name))

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return runOrigin(ctx, log, o)
		},
	}

	cmd.Flags().StringVar(&o.address, "address", ":8081", "listen address")
	cmd.Flags().StringVar(&o.name, "name", "", "name echoed in replies (default the listen address)")
	cmd.Flags().StringVar(&o.advertise, "advertise", "", "endpoint announced to the balancer (default derived from the listener)")
	cmd.Flags().StringVar(&o.balancer, "balancer", "", "balancer URL to register with over HTTP")
	cmd.Flags().StringVar(&o.registrar, "registrar", "", "balancer registration address to announce to over TCP")
	cmd.Flags().BoolVar(&o.tcp, "tcp", false, "serve raw TCP echo instead of HTTP")
	cmd.Flags().IntVar(&o.retries, "retries", 10, "registration retries while the balancer is unreachable")

	return cmd
}

func runOrigin(ctx context.Context, log *slog.Logger, o *originOptions) error {
	ln, err := net.Listen("tcp", o.address)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if o.tcp {
		g.Go(func() error { return origin.ServeTCP(gctx, ln, log, o.name) })
	} else {
		srv, err := httpserver.New(o.address, origin.NewHandler(log, o.name))
		if err != nil {
			_ = ln.Close()
			return err
		}
		g.Go(func() error {
			go func() {
				<-gctx.Done()
				_ = srv.Shutdown(context.Background())
			}()
			return srv.Serve(ln)
		})
	}

	self := advertisedEndpoint(o, ln.Addr())
	log.Info("Origin listening", slog.String("address", ln.Addr().String()), slog.String("endpoint", self))

	g.Go(func() error {
		members, err := registerOrigin(gctx, log, o, self)
		if err != nil {
			return err
		}
		if members != nil {
			log.Info("Registered with balancer", slog.Any("pool", members))
		}
		return nil
	})

	return g.Wait()
}

func registerOrigin(ctx context.Context, log *slog.Logger, o *originOptions, self string) ([]string, error) {
	switch {
	case o.registrar != "":
		return origin.Announce(ctx, o.registrar, self, 5*time.Second)
	case o.balancer != "":
		return origin.Register(ctx, origin.NewClient(log, o.retries, time.Second), o.balancer, self)
	default:
		return nil, nil
	}
}

func advertisedEndpoint(o *originOptions, addr net.Addr) string {
	if o.advertise != "" {
		return o.advertise
	}

	_, port, _ := net.SplitHostPort(addr.String())
	if o.tcp {
		return port
	}
	return fmt.Sprintf("http://127.0.0.1:%s", port)
}
