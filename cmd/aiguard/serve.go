package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/aiguard/pkg/api"
)

// ServeCmd starts the HTTP API and the restriction sweeper.
type ServeCmd struct {
	Addr string `help:"Listen address, overrides the config file." placeholder:"HOST:PORT"`
}

func (c *ServeCmd) Run(cli *CLI, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := cli.load()
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	router, err := newRouter(a)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("aiguard listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if interval := cfg.Server.SweepInterval; interval > 0 {
		g.Go(func() error {
			return a.manager.RunSweeper(gctx, interval)
		})
	}

	return g.Wait()
}

// newRouter mounts the guard API, health check and metrics endpoint
func newRouter(a *app) (http.Handler, error) {
	apiConfig := api.Config{
		Manager: a.manager,
		Logger:  a.logger,
	}
	if h := a.cfg.Server.UserHeader; h != "" {
		apiConfig.GetUserID = api.FromHeader(h)
	}
	if h := a.cfg.Server.AdminHeader; h != "" {
		apiConfig.GetAdminID = api.FromHeader(h)
	}
	handler, err := api.NewHandler(apiConfig)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := a.Ping(req.Context()); err != nil {
			a.log.Warn().Err(err).Msg("health check failed")
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if !a.cfg.Metrics.Disabled {
		r.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	}
	r.Mount("/", handler.Routes())
	return r, nil
}
