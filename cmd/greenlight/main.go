package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	sretry "github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	glhttp "github.com/greenlight-hq/greenlight/internal/adapter/http"
	glnats "github.com/greenlight-hq/greenlight/internal/adapter/nats"
	gotel "github.com/greenlight-hq/greenlight/internal/adapter/otel"
	"github.com/greenlight-hq/greenlight/internal/adapter/postgres"
	"github.com/greenlight-hq/greenlight/internal/adapter/ristretto"
	"github.com/greenlight-hq/greenlight/internal/adapter/slack"
	"github.com/greenlight-hq/greenlight/internal/adapter/ws"
	"github.com/greenlight-hq/greenlight/internal/config"
	"github.com/greenlight-hq/greenlight/internal/domain/event"
	"github.com/greenlight-hq/greenlight/internal/logger"
	"github.com/greenlight-hq/greenlight/internal/middleware"
	"github.com/greenlight-hq/greenlight/internal/retry"
	"github.com/greenlight-hq/greenlight/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "admin: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"nats_stream", cfg.NATS.Stream,
		"bus_max_attempts", cfg.Bus.MaxAttempts,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	otelShutdown, err := gotel.Init(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shCtx)
	}()

	metrics, err := gotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---
	pool, err := dialPostgres(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	store := postgres.NewStore(pool)
	hub := ws.NewHub(log)

	var notify service.Notifier = hub
	if cfg.Slack.WebhookURL != "" {
		notify = service.MultiNotifier{hub, slack.NewNotifier(cfg.Slack.WebhookURL, log)}
		log.Info("slack escalation webhook enabled")
	}

	// The dead-letter callback closes over the service, which needs the bus;
	// the pointer is bound after both exist.
	var dlqSvc *service.DLQService
	busOpts := glnats.Options{
		Stream:       cfg.NATS.Stream,
		MaxAttempts:  cfg.Bus.MaxAttempts,
		AckWait:      cfg.Bus.AckWait,
		DedupeWindow: cfg.Bus.DedupeWindow,
		Backoff:      retry.Backoff{Base: cfg.Bus.BackoffBase, Cap: cfg.Bus.BackoffCap},
		DeadLetter: func(ctx context.Context, env event.Envelope, attempts int, lastErr error) {
			if dlqSvc != nil {
				dlqSvc.Record(ctx, env, attempts, lastErr)
			}
		},
	}
	eventBus, err := dialNATS(ctx, cfg.NATS.URL, busOpts)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = eventBus.Close() }()

	cache, err := ristretto.NewPolicyCache(cfg.Cache.PolicyMaxBytes, cfg.Cache.PolicyTTL)
	if err != nil {
		return fmt.Errorf("policy cache: %w", err)
	}
	defer cache.Close()

	// --- Services ---
	policies := service.NewPolicyService(store, cache, log)
	approvals := service.NewApprovalService(store, notify, metrics, log)
	ingress := service.NewIngressService(eventBus, log)
	dlqSvc = service.NewDLQService(store, eventBus, notify, metrics, log)
	dispatcher := service.NewDispatcher(store, policies, notify, metrics, log)
	sweeper := service.NewSweeper(store, notify, metrics, log, cfg.Approval.SweepInterval, cfg.Approval.SweepBatch)
	relay := service.NewRelay(store, eventBus, metrics, log, cfg.Relay.Interval, cfg.Relay.BatchSize)

	cancelDispatch, err := eventBus.Subscribe(ctx, cfg.Dispatcher.Group,
		[]event.Type{event.TypeActionProposed}, dispatcher.Handle)
	if err != nil {
		return fmt.Errorf("dispatcher subscribe: %w", err)
	}
	defer cancelDispatch()

	// --- HTTP ---
	handlers := glhttp.NewHandlers(ingress, approvals, policies, dlqSvc, eventBus, log)

	r := chi.NewRouter()
	r.Use(glhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(glhttp.SecurityHeaders)
	r.Use(glhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(gotel.HTTPMiddleware(cfg.Logging.Service))

	// WebSocket connections are long-lived: no request timeout on /ws.
	r.Group(func(r chi.Router) {
		r.Use(middleware.TenantID)
		r.Get("/ws", hub.HandleWS)
	})

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		glhttp.MountRoutes(r, handlers, cfg.Operator.KeyHash)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error {
		log.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			return err
		}
		return eventBus.Drain()
	})

	return g.Wait()
}

// dialPostgres retries the initial pool connection so a cold-started database
// container does not kill the process.
func dialPostgres(ctx context.Context, cfg config.Postgres) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	backoff := sretry.WithMaxRetries(5, sretry.NewExponential(time.Second))
	err := sretry.Do(ctx, backoff, func(ctx context.Context) error {
		p, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return sretry.RetryableError(err)
		}
		pool = p
		return nil
	})
	return pool, err
}

// dialNATS retries the initial bus connection.
func dialNATS(ctx context.Context, url string, opts glnats.Options) (*glnats.Bus, error) {
	var b *glnats.Bus
	backoff := sretry.WithMaxRetries(5, sretry.NewExponential(time.Second))
	err := sretry.Do(ctx, backoff, func(ctx context.Context) error {
		conn, err := glnats.Connect(ctx, url, opts)
		if err != nil {
			return sretry.RetryableError(err)
		}
		b = conn
		return nil
	})
	return b, err
}
