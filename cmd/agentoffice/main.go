package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ccivlcid/agentoffice-sub001/internal/adapter/cache"
	"github.com/ccivlcid/agentoffice-sub001/internal/adapter/cliexec"
	"github.com/ccivlcid/agentoffice-sub001/internal/adapter/gitlocal"
	aohttp "github.com/ccivlcid/agentoffice-sub001/internal/adapter/http"
	"github.com/ccivlcid/agentoffice-sub001/internal/adapter/i18n"
	aomcp "github.com/ccivlcid/agentoffice-sub001/internal/adapter/mcp"
	aonats "github.com/ccivlcid/agentoffice-sub001/internal/adapter/nats"
	aootel "github.com/ccivlcid/agentoffice-sub001/internal/adapter/otel"
	"github.com/ccivlcid/agentoffice-sub001/internal/adapter/postgres"
	"github.com/ccivlcid/agentoffice-sub001/internal/adapter/ws"
	"github.com/ccivlcid/agentoffice-sub001/internal/config"
	"github.com/ccivlcid/agentoffice-sub001/internal/git"
	"github.com/ccivlcid/agentoffice-sub001/internal/logger"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/broadcast"
	portcache "github.com/ccivlcid/agentoffice-sub001/internal/port/cache"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/executor"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/notifier"
	"github.com/ccivlcid/agentoffice-sub001/internal/service"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(); err != nil {
			slog.Error("migrate failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// runMigrate applies pending migrations and prints the schema version.
func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return err
	}
	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Printf("schema version %d\n", v)
	return nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"executor", cfg.Executor.Default,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	shutdownOTEL, err := aootel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	metrics, err := aootel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS
	queue, err := aonats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Drain() }()

	// Roster cache: ristretto in-process, JetStream KV shared.
	l1, err := cache.NewLocal(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()
	var l2 portcache.Cache
	if kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL); err != nil {
		slog.Warn("l2 cache unavailable, using l1 only", "error", err)
	} else {
		l2 = cache.NewRemote(kv)
	}
	roster := cache.NewTiered(l1, l2, cfg.Cache.RosterTTL)

	// --- Execution providers ---

	executors := executor.NewRegistry()
	for name, command := range cfg.Executor.Commands {
		p, err := cliexec.NewProvider(name, strings.Fields(command), cfg.Runtime.OutputTailBytes)
		if err != nil {
			return fmt.Errorf("executor %s: %w", name, err)
		}
		executors.Register(name, p)
	}
	if cfg.Executor.RemoteName != "" {
		executors.Register(cfg.Executor.RemoteName, aonats.NewExecutor(queue.Conn(), cfg.Executor.RemoteName, cfg.Runtime.OutputTailBytes))
	}
	executors.SetFallback(cfg.Executor.Default)
	slog.Info("executors registered", "available", executors.Available())

	// --- Notifications ---

	notifiers, err := notifier.Build(map[string]map[string]string{
		"slack": {"webhook_url": cfg.Notify.SlackWebhookURL},
	})
	if err != nil {
		return fmt.Errorf("notifiers: %w", err)
	}

	// --- Services ---

	catalog, err := i18n.Load()
	if err != nil {
		return fmt.Errorf("i18n: %w", err)
	}

	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	policy := config.NewReviewPolicy(cfg.Review)

	orch := service.NewOrchestrator(service.Options{
		Store:         store,
		Events:        broadcast.Fanout{hub, aonats.NewEventPublisher(queue)},
		Executors:     executors,
		VCS:           gitlocal.NewHelper(git.NewPool(cfg.Git.MaxConcurrent)),
		Localizer:     catalog,
		Notifications: service.NewNotificationService(notifiers, cfg.Notify.Events),
		Cache:         roster,
		Metrics:       metrics,
		Policy:        policy,
		Git:           cfg.Git,
		Runtime:       cfg.Runtime,
		Breaker:       cfg.Breaker,
		RosterTTL:     cfg.Cache.RosterTTL,
	})
	defer orch.Close()

	go func() {
		if err := config.Watch(ctx, config.DefaultConfigFile, policy); err != nil {
			slog.Warn("config watch stopped", "error", err)
		}
	}()

	if err := orch.Recover(ctx); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	cancels, err := orch.StartSubscribers(ctx, queue)
	if err != nil {
		return fmt.Errorf("command subscribers: %w", err)
	}
	defer func() {
		for _, c := range cancels {
			c()
		}
	}()

	// --- HTTP ---

	handlers := &aohttp.Handlers{
		Tasks:  orch,
		Reader: store,
		Checks: map[string]aohttp.HealthCheck{
			"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
			"nats": func(context.Context) error {
				if !queue.IsConnected() {
					return errors.New("disconnected")
				}
				return nil
			},
		},
	}

	r := chi.NewRouter()

	r.Use(aohttp.CORS(cfg.Server.CORSOrigin))
	r.Use(aohttp.RequestID)
	r.Use(aohttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(aootel.HTTPMiddleware(cfg.OTEL.ServiceName))

	// The event stream is long-lived and must stay outside the request timeout.
	r.Get("/ws", hub.HandleWS)

	if cfg.MCP.Enabled {
		mcpSrv := aomcp.NewServer(aomcp.ServerConfig{
			Name:    "agentoffice",
			Version: version,
			APIKey:  cfg.MCP.APIKey,
		}, aomcp.ServerDeps{Tasks: orch, Reader: store})
		r.Handle("/mcp", mcpSrv.Handler())
		slog.Info("mcp tools enabled", "path", "/mcp")
	}

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		aohttp.MountRoutes(r, handlers)
	})

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
