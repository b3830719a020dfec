package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/invoicely/invoicely/cmd/invoicely/cli"
	"github.com/invoicely/invoicely/internal/app"
	"github.com/invoicely/invoicely/internal/clients"
	"github.com/invoicely/invoicely/internal/dashboard"
	"github.com/invoicely/invoicely/internal/documents"
	"github.com/invoicely/invoicely/internal/observability"
	"github.com/invoicely/invoicely/internal/platform/cache"
	"github.com/invoicely/invoicely/internal/platform/db"
	"github.com/invoicely/invoicely/internal/views"
	"github.com/invoicely/invoicely/jobs"
	"github.com/invoicely/invoicely/report"
)

const usage = `usage: invoicely [command]

commands:
  serve                       run the HTTP API (default)
  migrate                     apply pending database migrations
  audit [-days N] [-json]     scan recent document numbers
  jobs trigger <task> [user]  enqueue a background task
  jobs stats                  print default queue statistics
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	var code int
	switch command {
	case "serve":
		code = serve(ctx, cfg, logger)
	case "migrate":
		code = migrate(ctx, cfg, logger)
	case "audit":
		code = audit(ctx, cfg, logger, args)
	case "jobs":
		code = jobsCommand(ctx, cfg, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		code = 2
	}
	stop()
	os.Exit(code)
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	pool, err := db.New(ctx, cfg.PGDSN, db.WithMaxConns(cfg.PGMaxConns), db.WithApplicationName("invoicely-api"))
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, pool, logger); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			return 1
		}
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, views are served uncached", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()

	redisOpts := cfg.AsynqRedis()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	services := app.BuildServices(app.Deps{
		Config:  cfg,
		Logger:  logger,
		Pool:    pool,
		Redis:   redisClient,
		Metrics: metrics,
		Jobs:    jobClient,
	})

	if err := services.Views.ListenForInvalidation(ctx, func(b views.Bump) {
		metrics.IncInvalidation(b.Collection)
	}); err != nil {
		logger.Warn("listen for view invalidations", slog.Any("error", err))
	}

	renderer, err := report.NewRenderer(report.NewClient(cfg.GotenbergURL), services.Clients)
	if err != nil {
		logger.Error("init document renderer", slog.Any("error", err))
		return 1
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	checks := map[string]app.ReadinessCheck{
		"postgres": pool.Ping,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		DocumentsHandler: documents.NewHandler(logger, services.Documents, services.Idempotency, renderer),
		ClientsHandler:   clients.NewHandler(logger, services.Clients),
		DashboardHandler: dashboard.NewHandler(logger, services.Dashboard),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
		Checks:           checks,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("http server", slog.Any("error", err))
		return 1
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return 1
	}
	return 0
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool, logger); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		return 1
	}
	return 0
}

func audit(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	days := fs.Int("days", jobs.DefaultAuditLookbackDays, "number of days to scan")
	jsonOut := fs.Bool("json", false, "print a JSON summary")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	services := app.BuildServices(app.Deps{Config: cfg, Logger: logger, Pool: pool})
	auditCLI, err := cli.NewAuditCLI(services.Documents)
	if err != nil {
		logger.Error("init audit", slog.Any("error", err))
		return 1
	}
	return auditCLI.AuditCommand(ctx, cli.AuditOptions{LookbackDays: *days, JSONOutput: *jsonOut})
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	jobsCLI := cli.NewJobsCLI(cfg.AsynqRedis())
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			fmt.Fprint(os.Stderr, usage)
			return 2
		}
		info, err := jobsCLI.Trigger(ctx, args[1], args[2:]...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		fmt.Printf("enqueued %s as %s on queue %s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.InspectQueue()
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	return 0
}
