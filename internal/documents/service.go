package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/invoicely/invoicely/internal/documents/doctype"
	"github.com/invoicely/invoicely/internal/documents/numbering"
	"github.com/invoicely/invoicely/internal/documents/status"
	"github.com/invoicely/invoicely/internal/documents/totals"
	"github.com/invoicely/invoicely/internal/shared"
)

// DuplicateNumbering selects how duplicates are numbered.
type DuplicateNumbering string

const (
	// DuplicateFresh draws the next sequence number from the generator.
	DuplicateFresh DuplicateNumbering = "fresh"
	// DuplicateSuffix appends -COPY, -COPY-2, ... to the source number.
	DuplicateSuffix DuplicateNumbering = "suffix"
)

// Valid reports whether p is a supported policy.
func (p DuplicateNumbering) Valid() bool {
	return p == DuplicateFresh || p == DuplicateSuffix
}

// Config tunes the lifecycle service.
type Config struct {
	// NumberRetries bounds the attempts made when a generated number collides.
	NumberRetries      int
	DuplicateNumbering DuplicateNumbering
}

// ViewCache caches a tenant's list views.
type ViewCache interface {
	FetchJSON(ctx context.Context, userID uuid.UUID, key string, dest any, loader func(context.Context) (any, error)) error
}

// Metrics records lifecycle outcomes.
type Metrics interface {
	ObserveDocumentMutation(action, docType, outcome string)
	IncNumberConflict(docType string)
}

// ListResult is a page of documents.
type ListResult struct {
	Documents  []DocumentWithClient `json:"documents"`
	Pagination shared.Pagination    `json:"pagination"`
}

// Service orchestrates document workflows for the authenticated tenant.
type Service struct {
	store        *Store
	numbers      *numbering.Generator
	logger       *slog.Logger
	cfg          Config
	cache        ViewCache
	invalidators []Invalidator
	metrics      Metrics
	now          func() time.Time
}

// ServiceOption configures optional collaborators.
type ServiceOption func(*Service)

// WithViewCache caches list results.
func WithViewCache(cache ViewCache) ServiceOption {
	return func(s *Service) { s.cache = cache }
}

// WithInvalidators registers collaborators notified after confirmed writes.
func WithInvalidators(invalidators ...Invalidator) ServiceOption {
	return func(s *Service) { s.invalidators = append(s.invalidators, invalidators...) }
}

// WithMetrics records mutation outcomes.
func WithMetrics(m Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService wires the lifecycle service.
func NewService(store *Store, numbers *numbering.Generator, logger *slog.Logger, cfg Config, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.NumberRetries <= 0 {
		cfg.NumberRetries = 3
	}
	if !cfg.DuplicateNumbering.Valid() {
		cfg.DuplicateNumbering = DuplicateFresh
	}
	s := &Service{
		store:   store,
		numbers: numbers,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create numbers and stores a new document for the authenticated user.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Document, error) {
	userID, err := shared.RequireUserID(ctx)
	if err != nil {
		return Document{}, err
	}
	if err := s.store.ValidateCreate(req); err != nil {
		s.observe("create", req.Type, err)
		return Document{}, err
	}

	doc, err := s.withNumberRetry(ctx, &req.Type, func(ctx context.Context) (Document, error) {
		number, err := s.numbers.Next(ctx, req.Type, userID, s.now().UTC())
		if err != nil {
			return Document{}, err
		}
		return s.store.Create(ctx, userID, number, req)
	})
	s.observe("create", req.Type, err)
	if err != nil {
		return Document{}, err
	}
	s.notify(ctx, newEvent(EventCreated, doc, doc.CreatedAt))
	return doc, nil
}

// Duplicate copies a document. The copy's number follows the configured
// duplicate numbering policy.
func (s *Service) Duplicate(ctx context.Context, id uuid.UUID) (Document, error) {
	userID, err := shared.RequireUserID(ctx)
	if err != nil {
		return Document{}, err
	}

	var typ doctype.Type
	doc, err := s.withNumberRetry(ctx, &typ, func(ctx context.Context) (Document, error) {
		return s.store.Duplicate(ctx, userID, id, func(ctx context.Context, source Document) (string, error) {
			typ = source.Type
			return s.duplicateNumber(ctx, userID, source)
		})
	})
	s.observe("duplicate", typ, err)
	if err != nil {
		return Document{}, err
	}
	evt := newEvent(EventDuplicated, doc, doc.CreatedAt)
	evt.SourceID = &id
	s.notify(ctx, evt)
	return doc, nil
}

// Update applies a partial update to a document.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (Document, error) {
	userID, err := shared.RequireUserID(ctx)
	if err != nil {
		return Document{}, err
	}
	doc, err := s.store.Update(ctx, userID, id, req)
	s.observe("update", doc.Type, err)
	if err != nil {
		return Document{}, err
	}
	s.notify(ctx, newEvent(EventUpdated, doc, doc.UpdatedAt))
	return doc, nil
}

// Delete permanently removes a document.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	userID, err := shared.RequireUserID(ctx)
	if err != nil {
		return err
	}
	doc, err := s.store.Delete(ctx, userID, id)
	s.observe("delete", doc.Type, err)
	if err != nil {
		return err
	}
	s.notify(ctx, newEvent(EventDeleted, doc, s.now().UTC()))
	return nil
}

// ChangeStatus moves a document through its workflow, either to an explicit
// status or through a named action.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, req StatusRequest) (Document, error) {
	userID, err := shared.RequireUserID(ctx)
	if err != nil {
		return Document{}, err
	}
	if (req.Status == "") == (req.Action == "") {
		return Document{}, shared.NewValidationError("status", "provide either status or action")
	}

	doc, from, err := s.store.Transition(ctx, userID, id, func(current Document) (status.Status, error) {
		if req.Action == "" {
			return req.Status, nil
		}
		target, err := status.Resolve(current.Type, req.Action)
		if err != nil {
			return "", shared.NewValidationError("action", err.Error())
		}
		return target, nil
	})
	s.observe("status", doc.Type, err)
	if err != nil {
		return Document{}, err
	}
	evt := newEvent(EventStatusChanged, doc, doc.UpdatedAt)
	evt.FromStatus = from
	s.notify(ctx, evt)
	return doc, nil
}

// Get returns one document of the authenticated user.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (DocumentWithClient, error) {
	userID, err := shared.RequireUserID(ctx)
	if err != nil {
		return DocumentWithClient{}, err
	}
	return s.store.GetByID(ctx, userID, id)
}

// List returns a page of the authenticated user's documents. Pages are
// served from the view cache when one is configured.
func (s *Service) List(ctx context.Context, req ListRequest) (ListResult, error) {
	userID, err := shared.RequireUserID(ctx)
	if err != nil {
		return ListResult{}, err
	}
	req.Limit = shared.ClampLimit(req.Limit)
	req.Offset = max(req.Offset, 0)

	load := func(ctx context.Context) (any, error) {
		docs, total, err := s.store.ListByUser(ctx, userID, req)
		if err != nil {
			return nil, err
		}
		return ListResult{Documents: docs, Pagination: shared.NewPagination(req.Limit, req.Offset, total)}, nil
	}
	if s.cache == nil {
		res, err := load(ctx)
		if err != nil {
			return ListResult{}, err
		}
		return res.(ListResult), nil
	}
	var out ListResult
	if err := s.cache.FetchJSON(ctx, userID, listKey(req), &out, load); err != nil {
		return ListResult{}, err
	}
	// Cached pages may predate a due date passing.
	for i := range out.Documents {
		s.store.markOverdue(&out.Documents[i])
	}
	return out, nil
}

// NextNumber previews the number the next document of type t would get.
func (s *Service) NextNumber(ctx context.Context, t doctype.Type) (string, error) {
	userID, err := shared.RequireUserID(ctx)
	if err != nil {
		return "", err
	}
	if !t.Valid() {
		return "", shared.NewValidationError("type", "must be one of: invoice quote")
	}
	return s.numbers.Next(ctx, t, userID, s.now().UTC())
}

// Preview computes totals for unsaved line items.
func (s *Service) Preview(req PreviewRequest) totals.Result {
	lines := make([]totals.Line, len(req.LineItems))
	for i, item := range req.LineItems {
		lines[i] = item.toLineItem().totalsLine()
	}
	return totals.Calculate(lines)
}

func (s *Service) duplicateNumber(ctx context.Context, userID uuid.UUID, source Document) (string, error) {
	if s.cfg.DuplicateNumbering == DuplicateSuffix {
		return numbering.CopyNumber(ctx, source.Number, func(ctx context.Context, candidate string) (bool, error) {
			return s.store.NumberExists(ctx, userID, source.Type, candidate)
		})
	}
	return s.numbers.Next(ctx, source.Type, userID, s.now().UTC())
}

// withNumberRetry re-runs attempt while it fails on a number collision, up
// to the configured number of attempts. t is read after each attempt, so it
// may be filled in by attempt itself.
func (s *Service) withNumberRetry(ctx context.Context, t *doctype.Type, attempt func(context.Context) (Document, error)) (Document, error) {
	var lastErr error
	for i := 1; i <= s.cfg.NumberRetries; i++ {
		doc, err := attempt(ctx)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, ErrNumberConflict) {
			return Document{}, err
		}
		lastErr = err
		if s.metrics != nil {
			s.metrics.IncNumberConflict(typeLabel(*t))
		}
		s.logger.Warn("document number collision, regenerating",
			slog.Int("attempt", i),
			slog.Int("max_attempts", s.cfg.NumberRetries),
			slog.Any("error", err))
		if ctx.Err() != nil {
			return Document{}, ctx.Err()
		}
	}
	return Document{}, fmt.Errorf("after %d attempts: %w", s.cfg.NumberRetries, lastErr)
}

// notify runs every invalidator. The write is already confirmed, so
// failures are logged and never surfaced.
func (s *Service) notify(ctx context.Context, evt Event) {
	for _, inv := range s.invalidators {
		if err := inv.Invalidate(ctx, evt); err != nil {
			s.logger.Warn("document view invalidation failed",
				slog.String("kind", string(evt.Kind)),
				slog.String("document_id", evt.DocumentID.String()),
				slog.String("user_id", evt.UserID.String()),
				slog.Any("error", err))
		}
	}
}

func (s *Service) observe(action string, t doctype.Type, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	var verr *ValidationError
	switch {
	case err == nil:
	case errors.As(err, &verr):
		outcome = "invalid"
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrNumberConflict):
		outcome = "conflict"
	case errors.Is(err, ErrInvalidTransition):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	s.metrics.ObserveDocumentMutation(action, typeLabel(t), outcome)
}

func typeLabel(t doctype.Type) string {
	if t == "" {
		return "unknown"
	}
	return string(t)
}

func listKey(req ListRequest) string {
	parts := []string{"all", "all", "all", strconv.Itoa(req.Limit), strconv.Itoa(req.Offset)}
	if req.Type != nil {
		parts[0] = string(*req.Type)
	}
	if req.Status != nil {
		parts[1] = string(*req.Status)
	}
	if req.ClientID != nil {
		parts[2] = req.ClientID.String()
	}
	return strings.Join(parts, ":")
}

// AuditReport summarises a scan of stored document numbers.
type AuditReport struct {
	Scanned int `json:"scanned"`
	// Copies counts numbers produced by suffix-style duplication.
	Copies           int            `json:"copies"`
	NonCanonical     []NumberRecord `json:"non_canonical"`
	PeriodMismatches []NumberRecord `json:"period_mismatches"`
}

// Findings is the number of records needing attention.
func (r AuditReport) Findings() int {
	return len(r.NonCanonical) + len(r.PeriodMismatches)
}

// AuditNumbers checks numbers created since the given time: every number
// must be canonical for its type, or a copy suffix, and its period must
// match the issue date.
func (s *Service) AuditNumbers(ctx context.Context, since time.Time) (AuditReport, error) {
	records, err := s.store.NumbersSince(ctx, since)
	if err != nil {
		return AuditReport{}, err
	}
	report := AuditReport{Scanned: len(records)}
	for _, rec := range records {
		if numbering.IsCopy(rec.Number) {
			report.Copies++
			continue
		}
		parsed, err := numbering.Parse(rec.Number)
		if err != nil || parsed.Type != rec.Type {
			report.NonCanonical = append(report.NonCanonical, rec)
			continue
		}
		if parsed.Year != rec.Date.Year() || parsed.Month != rec.Date.Month() {
			report.PeriodMismatches = append(report.PeriodMismatches, rec)
		}
	}
	return report, nil
}
