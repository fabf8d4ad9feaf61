package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/tether/internal/config"
	"github.com/vango-dev/tether/pkg/link/ws"
	"github.com/vango-dev/tether/pkg/server"
)

func serveCmd() *cobra.Command {
	var (
		dir   string
		port  int
		host  string
		debug bool
		demo  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tether server",
		Long: `Start the tether server.

Routes:
  /ws        WebSocket link (path configurable)
  /metrics   Prometheus metrics (when enabled)
  /healthz   200 while the server is running
  /state     current state as JSON (debug only)

Examples:
  tether serve
  tether serve --port=9000 --debug
  TETHER_HOST=0.0.0.0 tether serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(dir)
			if err != nil {
				return err
			}

			// Flags win over file and environment.
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if host != "" {
				cfg.Host = host
			}
			if debug {
				cfg.Debug = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, demo)
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Project directory")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default from config)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Host to bind to (default from config)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging and /state")
	cmd.Flags().BoolVar(&demo, "demo", true, "Register the demo counter triggers")

	return cmd
}

// app is a fully wired server, ready to be served.
type app struct {
	config   *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	server   *server.Server
	hub      *ws.Hub
	router   chi.Router
}

func newApp(cfg *config.Config, logger *slog.Logger, demo bool) (*app, error) {
	sc, err := cfg.ServerConfig()
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsOpts := []server.MetricsOption{server.WithRegistry(registry)}
	if cfg.Metrics.Namespace != "" {
		metricsOpts = append(metricsOpts, server.WithNamespace(cfg.Metrics.Namespace))
	}

	srv := server.New(sc,
		server.WithLogger(logger.With("component", "server")),
		server.WithMetrics(server.NewMetrics(metricsOpts...)),
	)
	if demo {
		if err := registerCounter(srv); err != nil {
			return nil, err
		}
	}

	hubCfg := ws.DefaultConfig()
	hubCfg.MaxMessageSize = cfg.WebSocket.MaxMessageSize
	hubCfg.SendBuffer = cfg.WebSocket.SendBuffer
	hubCfg.CheckOrigin = ws.SameOrigin
	if len(cfg.WebSocket.AllowedOrigins) > 0 {
		hubCfg.CheckOrigin = ws.AllowOrigins(cfg.WebSocket.AllowedOrigins...)
	}
	if cfg.Name != "" {
		hubCfg.ServerName = cfg.Name
	}
	hub := ws.New(ws.WithConfig(hubCfg), ws.WithLogger(logger.With("component", "ws")))

	a := &app{
		config:   cfg,
		logger:   logger,
		registry: registry,
		server:   srv,
		hub:      hub,
	}
	a.router = a.routes()
	return a, nil
}

func (a *app) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Handle(a.config.WebSocket.Path, a.hub)
	if a.config.Metrics.Enabled {
		r.Handle(a.config.Metrics.Path, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	}
	r.Get("/healthz", a.healthz)
	if a.config.Debug {
		r.Get("/state", a.state)
	}
	return r
}

func (a *app) healthz(w http.ResponseWriter, r *http.Request) {
	l := a.server.Lifecycle()
	status := http.StatusOK
	if l != server.Running {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":  l.String(),
		"clients": len(a.server.Clients()),
	})
}

func (a *app) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.server.State().Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// run starts the server and serves HTTP until ctx is cancelled, then shuts
// both down.
func (a *app) run(ctx context.Context) error {
	if err := a.server.Start(ctx, a.hub); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              a.config.Address(),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("server starting", "address", httpServer.Addr, "ws", a.config.WebSocket.Path)
		if err := httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down...")

		sc := a.server.Config()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), sc.ShutdownTimeout+time.Second)
		defer cancel()

		// The engine first, so clients get the last diffs and a close frame.
		err := a.server.Shutdown(shutdownCtx)
		if httpErr := httpServer.Shutdown(shutdownCtx); httpErr != nil {
			err = stderrors.Join(err, httpErr)
		}
		return err
	})
	return g.Wait()
}

func runServe(ctx context.Context, cfg *config.Config, demo bool) error {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	a, err := newApp(cfg, logger, demo)
	if err != nil {
		return err
	}

	success("Listening on http://%s", cfg.Address())
	info("WebSocket: %s", cfg.WebSocket.Path)
	if cfg.Metrics.Enabled {
		info("Metrics:   %s", cfg.Metrics.Path)
	}
	return a.run(ctx)
}
