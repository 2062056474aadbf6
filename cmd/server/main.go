// dutnotify - DUT news and account notification server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dutschedule/dutnotify/internal/api"
	"github.com/dutschedule/dutnotify/internal/config"
	"github.com/dutschedule/dutnotify/internal/domain"
	"github.com/dutschedule/dutnotify/internal/dut"
	"github.com/dutschedule/dutnotify/internal/health"
	"github.com/dutschedule/dutnotify/internal/identity"
	"github.com/dutschedule/dutnotify/internal/middleware"
	"github.com/dutschedule/dutnotify/internal/notify"
	"github.com/dutschedule/dutnotify/internal/refresh"
	"github.com/dutschedule/dutnotify/internal/session"
	"github.com/dutschedule/dutnotify/internal/store"
	"github.com/dutschedule/dutnotify/internal/telemetry"
	"github.com/dutschedule/dutnotify/internal/worker"
	"github.com/dutschedule/dutnotify/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := telemetry.NewPrometheusCollector(registry)
	if err != nil {
		slog.Error("Failed to register metrics", "error", err)
		os.Exit(1)
	}

	src, err := dut.NewHTTPSource(cfg.DUT.APIURL, cfg.DUT.RequestTimeout, logger)
	if err != nil {
		slog.Error("Failed to initialize DUT source", "error", err)
		os.Exit(1)
	}

	// Every container shares one bounded pool of fetch workers.
	executor := refresh.NewPoolExecutor(cfg.Refresh.FetchWorkers, cfg.Refresh.FetchWorkers*4)
	defer executor.Close()

	sessions, err := session.NewManager(src, repo, session.Config{
		TTL:                cfg.Refresh.TTL,
		FetchTimeout:       cfg.DUT.RequestTimeout,
		SearchHistoryLimit: cfg.SearchHistoryLimit,
		Executor:           executor,
		Collector:          collector,
		Logger:             logger,
	})
	if err != nil {
		slog.Error("Failed to initialize session manager", "error", err)
		os.Exit(1)
	}

	hub := notify.NewHub(notify.HubConfig{
		ReplaySize: 100,
		OnActivity: func(deviceID string) { sessions.Touch(deviceID) },
		Collector:  collector,
		Logger:     logger,
	})
	defer hub.Close()
	conns := notify.NewConnectionRegistry()

	healthServer := health.NewServer(repo)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start news worker.
	var refresher api.IntervalSetter
	if cfg.News.RefreshEnabled {
		feeds := make([]*session.NewsFeed, 0, 2)
		for _, kind := range []domain.NewsType{domain.NewsTypeGlobal, domain.NewsTypeSubject} {
			feed, feedErr := sessions.Feed(kind)
			if feedErr != nil {
				slog.Error("Failed to open news feed", "kind", kind, "error", feedErr)
				os.Exit(1)
			}
			feeds = append(feeds, feed)
		}
		newsWorker := worker.NewNewsWorker(worker.NewsWorkerConfig{
			Feeds:        feeds,
			Repo:         repo,
			Publisher:    hub,
			Interval:     cfg.News.RefreshInterval,
			HistoryLimit: cfg.NotificationHistoryLimit,
			Logger:       logger,
			OnResult:     healthServer.RecordNewsResult,
		})
		newsWorker.Start(ctx)
		refresher = newsWorker
	} else {
		slog.Info("News refresh disabled (NEWS_REFRESH_ENABLED=false)")
	}

	worker.StartSessionReaper(ctx, sessions, cfg.SessionIdleTTL/4, cfg.SessionIdleTTL, func(deviceID string) {
		conns.CloseDevice(deviceID, "session expired")
		hub.Forget(deviceID)
	})

	healthServer.StartStoreProbe(ctx, 30*time.Second)
	if cfg.GRPCPort != "" {
		lis, lisErr := net.Listen("tcp", ":"+cfg.GRPCPort)
		if lisErr != nil {
			slog.Error("Failed to listen for gRPC health", "error", lisErr)
			os.Exit(1)
		}
		go func() {
			if serveErr := healthServer.Serve(lis); serveErr != nil {
				slog.Error("gRPC health server failed", "error", serveErr)
			}
		}()
	}

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, sessions, hub)
	streamHandler := notify.NewStreamHandler(hub, notify.StreamConfig{
		KeepaliveInterval: cfg.SSE.KeepaliveInterval,
		RetryDelay:        cfg.SSE.RetryDelay,
	})
	wsHandler := notify.NewWebSocketHandler(hub, conns, cfg.FrontendURL, cfg.IsDevelopment())
	routes := api.NewRoutes(baseHandler, refresher, healthServer, http.HandlerFunc(streamHandler.HandleStream), wsHandler)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	// Public routes.
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	// Device-scoped routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		routes.Register(r)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server.
	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	healthServer.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
