package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/invoicely/invoicely/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// DashboardWarmer rebuilds the cached dashboard of a tenant.
type DashboardWarmer interface {
	Warm(ctx context.Context, userID uuid.UUID) error
}

// DashboardWarmupJob pre-populates dashboard caches after a write.
type DashboardWarmupJob struct {
	Dashboard DashboardWarmer
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	Timeout   time.Duration
}

// NewDashboardWarmupJob wires dependencies for the warmup handler.
func NewDashboardWarmupJob(dashboard DashboardWarmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *DashboardWarmupJob {
	return &DashboardWarmupJob{
		Dashboard: dashboard,
		Logger:    logger,
		Metrics:   metrics,
		Timeout:   20 * time.Second,
	}
}

// Handle processes dashboard warmup tasks.
func (j *DashboardWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Dashboard == nil {
		return errors.New("dashboard warmup: handler not configured")
	}
	var payload DashboardWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.UserID == uuid.Nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskDashboardWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("user_id", payload.UserID.String()))
	start := time.Now()

	warmCtx := ctx
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		warmCtx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	if err := j.Dashboard.Warm(warmCtx, payload.UserID); err != nil {
		resultErr = err
		logger.Error("warm dashboard", slog.Any("error", err))
		return resultErr
	}
	logger.Debug("warmed dashboard", slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *DashboardWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskDashboardWarmup))
	}
	return slog.Default().With(slog.String("job", TaskDashboardWarmup))
}

func (j *DashboardWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
