package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/invoicely/invoicely/internal/clients"
	"github.com/invoicely/invoicely/internal/dashboard"
	"github.com/invoicely/invoicely/internal/documents"
	"github.com/invoicely/invoicely/internal/documents/numbering"
	"github.com/invoicely/invoicely/internal/observability"
	"github.com/invoicely/invoicely/internal/shared"
	"github.com/invoicely/invoicely/internal/views"
	"github.com/invoicely/invoicely/jobs"
)

// Deps are the infrastructure handles shared by the API and the worker.
// Redis, Metrics and Jobs may be nil.
type Deps struct {
	Config  *Config
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics
	Jobs    *jobs.Client
}

// Services holds the wired domain services.
type Services struct {
	Views       *views.Cache
	Clients     *clients.Service
	Documents   *documents.Service
	Dashboard   *dashboard.Service
	Idempotency *shared.IdempotencyStore
}

// BuildServices wires repositories, caches and invalidation fan-out.
func BuildServices(d Deps) *Services {
	viewsCache := views.NewCache(d.Redis, d.Config.ViewsCacheTTL, views.WithFeedSize(d.Config.ActivityFeedSize))

	var refresher jobs.DashboardRefresher
	if d.Jobs != nil {
		refresher = jobs.DashboardRefresher{Client: d.Jobs}
	}

	clientService := clients.NewService(
		clients.NewRepository(d.Pool),
		d.Logger.With(slog.String("module", "clients")),
		clients.WithInvalidator(clients.TenantInvalidators{viewsCache, refresher}),
	)

	docLogger := d.Logger.With(slog.String("module", "documents"))
	store := documents.NewStore(documents.NewRepository(d.Pool), clientService)
	numbers := numbering.NewGenerator(store, docLogger, numbering.WithFallbackHook(d.Metrics.IncNumberFallback))

	opts := []documents.ServiceOption{
		documents.WithViewCache(views.Scope(viewsCache, views.CollectionDocuments)),
		documents.WithInvalidators(viewsCache, refresher),
	}
	if d.Metrics != nil {
		opts = append(opts, documents.WithMetrics(d.Metrics))
	}
	documentService := documents.NewService(store, numbers, docLogger, d.Config.DocumentsConfig(), opts...)

	dashboardService := dashboard.NewService(
		dashboard.NewRepository(d.Pool),
		viewsCache,
		d.Logger.With(slog.String("module", "dashboard")),
	)

	return &Services{
		Views:       viewsCache,
		Clients:     clientService,
		Documents:   documentService,
		Dashboard:   dashboardService,
		Idempotency: shared.NewIdempotencyStore(d.Pool),
	}
}
