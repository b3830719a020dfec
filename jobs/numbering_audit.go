package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/invoicely/invoicely/internal/documents"
	jobmetrics "github.com/invoicely/invoicely/internal/jobs"
)

// DefaultAuditLookbackDays is used when the payload leaves the window open.
const DefaultAuditLookbackDays = 35

// maxLoggedFindings caps the per-record warnings of one run.
const maxLoggedFindings = 50

// NumberAuditor scans stored document numbers.
type NumberAuditor interface {
	AuditNumbers(ctx context.Context, since time.Time) (documents.AuditReport, error)
}

// NumberingAuditJob flags document numbers that break the numbering scheme.
type NumberingAuditJob struct {
	Auditor NumberAuditor
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewNumberingAuditJob initialises the audit handler.
func NewNumberingAuditJob(auditor NumberAuditor, logger *slog.Logger, metrics *jobmetrics.Metrics) *NumberingAuditJob {
	return &NumberingAuditJob{
		Auditor: auditor,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the numbering audit.
func (j *NumberingAuditJob) Handle(ctx context.Context, t *asynq.Task) error {
	_, err := j.Run(ctx, t)
	return err
}

// Run executes the audit and returns its report.
func (j *NumberingAuditJob) Run(ctx context.Context, t *asynq.Task) (documents.AuditReport, error) {
	if j == nil || j.Auditor == nil {
		return documents.AuditReport{}, errors.New("numbering audit: handler not configured")
	}
	var payload NumberingAuditPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return documents.AuditReport{}, asynq.SkipRetry
		}
	}
	if payload.LookbackDays <= 0 {
		payload.LookbackDays = DefaultAuditLookbackDays
	}

	tracker := j.metrics().Track(TaskNumberingAudit)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	since := j.now().AddDate(0, 0, -payload.LookbackDays)
	logger := j.logger().With(slog.Int("lookback_days", payload.LookbackDays))
	logger.Info("starting numbering audit")

	report, err := j.Auditor.AuditNumbers(ctx, since)
	if err != nil {
		resultErr = err
		logger.Error("numbering audit failed", slog.Any("error", err))
		return documents.AuditReport{}, resultErr
	}

	logged := 0
	for _, rec := range report.NonCanonical {
		if logged >= maxLoggedFindings {
			break
		}
		logged++
		logger.Warn("non-canonical document number", recordAttrs(rec)...)
	}
	for _, rec := range report.PeriodMismatches {
		if logged >= maxLoggedFindings {
			break
		}
		logged++
		logger.Warn("document number period differs from issue date", recordAttrs(rec)...)
	}

	m := j.metrics()
	m.AddFindings("copy", report.Copies)
	m.AddFindings("non_canonical", len(report.NonCanonical))
	m.AddFindings("period_mismatch", len(report.PeriodMismatches))

	logger.Info("completed numbering audit",
		slog.Int("scanned", report.Scanned),
		slog.Int("copies", report.Copies),
		slog.Int("findings", report.Findings()),
	)
	return report, resultErr
}

func recordAttrs(rec documents.NumberRecord) []any {
	return []any{
		slog.String("user_id", rec.UserID.String()),
		slog.String("type", string(rec.Type)),
		slog.String("number", rec.Number),
		slog.String("date", rec.Date.Format(time.DateOnly)),
	}
}

func (j *NumberingAuditJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskNumberingAudit))
	}
	return slog.Default().With(slog.String("job", TaskNumberingAudit))
}

func (j *NumberingAuditJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *NumberingAuditJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
