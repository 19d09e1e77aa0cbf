package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/graph/local"
	"github.com/jfreymuth/pulsed/internal/config"
	"github.com/jfreymuth/pulsed/internal/loop"
	"github.com/jfreymuth/pulsed/internal/metrics"
	"github.com/jfreymuth/pulsed/internal/server"
)

func serveCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.v)
			if err != nil {
				return err
			}
			config.Watch(opts.v, opts.log)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, opts.log)
		},
	}
	flags := cmd.Flags()
	flags.StringSlice("server.address", nil, "listen addresses, e.g. unix:native or tcp:4713")
	flags.String("runtime-dir", "", "directory of relative unix socket paths")
	flags.String("metrics.address", "", "serve prometheus metrics on this address")
	flags.String("graph.fixture", "", "YAML description of the devices of the graph")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	log := logrus.NewEntry(logger)

	fixture := local.DefaultFixture()
	if cfg.GraphFixture != "" {
		f, err := local.LoadFixture(cfg.GraphFixture)
		if err != nil {
			return err
		}
		fixture = f
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		return err
	}

	lp := loop.New(log.WithField("component", "loop"))
	g := local.New(lp, log.WithField("component", "graph"), local.Config{Fixture: fixture})
	defer g.Close()

	s, err := server.New(server.Options{
		Config: cfg,
		Connect: func(props graph.Props) (graph.Core, error) {
			c, err := g.Connect(props)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		Exec:    lp,
		Log:     log.WithField("component", "server"),
		Metrics: m,
	})
	if err != nil {
		return err
	}
	n, err := s.Listen()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("no listen address could be opened")
	}
	for _, a := range s.Addrs() {
		log.WithField("address", a.String()).Info("listening")
	}

	loopCtx, stopLoop := context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return lp.Run(loopCtx) })
	lp.Invoke(s.RunCommands)
	eg.Go(func() error {
		defer func() {
			lp.Invoke(s.Close)
			stopLoop()
		}()
		return s.Serve(ctx)
	})

	if cfg.MetricsAddress != "" {
		srv := &http.Server{Addr: cfg.MetricsAddress, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		eg.Go(func() error {
			log.WithField("address", cfg.MetricsAddress).Info("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = eg.Wait()
	log.Info("server stopped")
	return err
}
