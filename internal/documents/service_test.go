package documents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoicely/invoicely/internal/documents/doctype"
	"github.com/invoicely/invoicely/internal/documents/numbering"
	"github.com/invoicely/invoicely/internal/documents/status"
	"github.com/invoicely/invoicely/internal/platform/httpx"
	"github.com/invoicely/invoicely/internal/shared"
)

type serviceFixture struct {
	storeFixture
	service     *Service
	invalidator *recordingInvalidator
	metrics     *recordingMetrics
	ctx         context.Context
}

func newServiceFixture(cfg Config) serviceFixture {
	f := newStoreFixture()
	inv := &recordingInvalidator{}
	metrics := &recordingMetrics{}
	gen := numbering.NewGenerator(f.store, discardLogger())
	svc := NewService(f.store, gen, discardLogger(), cfg, WithInvalidators(inv), WithMetrics(metrics))
	svc.now = fixedClock(testNow)
	return serviceFixture{
		storeFixture: f,
		service:      svc,
		invalidator:  inv,
		metrics:      metrics,
		ctx:          shared.ContextWithUserID(context.Background(), f.userID),
	}
}

func TestServiceCreateNumbersSequentially(t *testing.T) {
	f := newServiceFixture(Config{})

	first, err := f.service.Create(f.ctx, sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)
	assert.Equal(t, "INV-202401-1", first.Number)
	assert.Equal(t, f.userID, first.UserID)

	second, err := f.service.Create(f.ctx, sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)
	assert.Equal(t, "INV-202401-2", second.Number)

	quote, err := f.service.Create(f.ctx, sampleCreate(doctype.Quote, f.clientID))
	require.NoError(t, err)
	assert.Equal(t, "QUO-202401-1", quote.Number)

	f.service.now = fixedClock(testNow.AddDate(0, 1, 0))
	next, err := f.service.Create(f.ctx, sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)
	assert.Equal(t, "INV-202402-1", next.Number)

	assert.Equal(t, []EventKind{EventCreated, EventCreated, EventCreated, EventCreated}, f.invalidator.kinds())
}

func TestServiceCreateRequiresTenant(t *testing.T) {
	f := newServiceFixture(Config{})
	_, err := f.service.Create(context.Background(), sampleCreate(doctype.Invoice, f.clientID))
	require.ErrorIs(t, err, shared.ErrNoTenant)
	assert.ErrorIs(t, err, httpx.ErrUnauthorized)
	assert.Zero(t, f.repo.inserts)
}

func TestServiceCreateValidationSkipsWriteAndInvalidation(t *testing.T) {
	f := newServiceFixture(Config{})
	req := sampleCreate(doctype.Invoice, f.clientID)
	req.LineItems = nil

	_, err := f.service.Create(f.ctx, req)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, f.repo.inserts)
	assert.Empty(t, f.invalidator.kinds())
	assert.Equal(t, []string{"create:invoice:invalid"}, f.metrics.mutations)
}

func TestServiceCreateRetriesNumberCollision(t *testing.T) {
	f := newServiceFixture(Config{NumberRetries: 3})
	f.repo.insertErrs = []error{ErrNumberConflict, ErrNumberConflict}

	doc, err := f.service.Create(f.ctx, sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)
	assert.Equal(t, "INV-202401-1", doc.Number)
	assert.Equal(t, 2, f.metrics.conflicts)
	assert.Equal(t, 1, f.repo.inserts)
	assert.Equal(t, []EventKind{EventCreated}, f.invalidator.kinds())
}

func TestServiceCreateGivesUpAfterRetries(t *testing.T) {
	f := newServiceFixture(Config{NumberRetries: 2})
	f.repo.insertErrs = []error{ErrNumberConflict, ErrNumberConflict, ErrNumberConflict}

	_, err := f.service.Create(f.ctx, sampleCreate(doctype.Invoice, f.clientID))
	require.ErrorIs(t, err, ErrNumberConflict)
	assert.ErrorIs(t, err, httpx.ErrDuplicate)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Zero(t, f.repo.inserts)
	assert.Empty(t, f.invalidator.kinds())
}

func TestServiceCreateConcurrentCallersGetDistinctNumbers(t *testing.T) {
	f := newServiceFixture(Config{NumberRetries: 10})

	var wg sync.WaitGroup
	results := make(chan string, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := f.service.Create(f.ctx, sampleCreate(doctype.Invoice, f.clientID))
			if err == nil {
				results <- doc.Number
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for n := range results {
		assert.False(t, seen[n], "number %s assigned twice", n)
		seen[n] = true
	}
	assert.Equal(t, f.repo.count(), len(seen))
}

func TestServiceCreateFallsBackWhenLookupFails(t *testing.T) {
	f := newServiceFixture(Config{})
	f.repo.listNumbersErr = errors.New("store unreachable")

	doc, err := f.service.Create(f.ctx, sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)
	assert.Equal(t, "INV-202401-1", doc.Number)
}

func TestServiceDuplicateFreshPolicy(t *testing.T) {
	f := newServiceFixture(Config{DuplicateNumbering: DuplicateFresh})
	source, err := f.service.Create(f.ctx, sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)

	dup, err := f.service.Duplicate(f.ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, "INV-202401-2", dup.Number)
	assert.Equal(t, status.Draft, dup.Status)

	require.Len(t, f.invalidator.events, 2)
	evt := f.invalidator.events[1]
	assert.Equal(t, EventDuplicated, evt.Kind)
	require.NotNil(t, evt.SourceID)
	assert.Equal(t, source.ID, *evt.SourceID)
}

func TestServiceDuplicateSuffixPolicy(t *testing.T) {
	f := newServiceFixture(Config{DuplicateNumbering: DuplicateSuffix})
	_, err := f.service.Create(f.ctx, sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)
	_, err = f.service.Create(f.ctx, sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)
	source, err := f.service.Create(f.ctx, sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)
	require.Equal(t, "INV-202401-3", source.Number)

	dup, err := f.service.Duplicate(f.ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, "INV-202401-3-COPY", dup.Number)

	// Suffixed copies never advance the monthly sequence.
	next, err := f.service.Create(f.ctx, sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)
	assert.Equal(t, "INV-202401-4", next.Number)
}

func TestServiceDuplicateLooksUpNumbersOutsideTransaction(t *testing.T) {
	for _, policy := range []DuplicateNumbering{DuplicateFresh, DuplicateSuffix} {
		t.Run(string(policy), func(t *testing.T) {
			f := newServiceFixture(Config{DuplicateNumbering: policy})
			source, err := f.service.Create(f.ctx, sampleCreate(doctype.Invoice, f.clientID))
			require.NoError(t, err)

			_, err = f.service.Duplicate(f.ctx, source.ID)
			require.NoError(t, err)
			assert.Zero(t, f.repo.lookupsInTx)
		})
	}
}

func TestServiceDuplicateConflictCarriesType(t *testing.T) {
	f := newServiceFixture(Config{NumberRetries: 3})
	source, err := f.service.Create(f.ctx, sampleCreate(doctype.Quote, f.clientID))
	require.NoError(t, err)
	f.repo.insertErrs = []error{ErrNumberConflict}

	dup, err := f.service.Duplicate(f.ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, "QUO-202401-2", dup.Number)
	assert.Equal(t, []string{"quote"}, f.metrics.conflictTypes)
}

func TestServiceNumbersFollowUTCMonth(t *testing.T) {
	f := newServiceFixture(Config{})
	// 23:30 on 31 January in UTC-5 is already 1 February in UTC.
	local := time.Date(2024, time.January, 31, 23, 30, 0, 0, time.FixedZone("UTC-5", -5*3600))
	f.service.now = fixedClock(local)
	f.store.now = fixedClock(local)

	doc, err := f.service.Create(f.ctx, sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)
	assert.Equal(t, "INV-202402-1", doc.Number)
	assert.Equal(t, "2024-02-01", doc.Date.String())

	next, err := f.service.NextNumber(f.ctx, doctype.Invoice)
	require.NoError(t, err)
	assert.Equal(t, "INV-202402-2", next)

	report, err := f.service.AuditNumbers(f.ctx, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, report.PeriodMismatches)
}

func TestServiceDeleteNotifiesOnlyOnSuccess(t *testing.T) {
	f := newServiceFixture(Config{})
	doc, err := f.service.Create(f.ctx, sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)

	require.NoError(t, f.service.Delete(f.ctx, doc.ID))
	_, err = f.service.Get(f.ctx, doc.ID)
	require.ErrorIs(t, err, ErrNotFound)

	err = f.service.Delete(f.ctx, doc.ID)
	require.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []EventKind{EventCreated, EventDeleted}, f.invalidator.kinds())
	assert.Equal(t, doc.Number, f.invalidator.events[1].Number)
}

func TestServiceInvalidationFailureDoesNotFailWrite(t *testing.T) {
	f := newServiceFixture(Config{})
	f.invalidator.err = errors.New("redis down")

	doc, err := f.service.Create(f.ctx, sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)
	assert.Equal(t, 1, f.repo.count())
	assert.Equal(t, []EventKind{EventCreated}, f.invalidator.kinds())
	assert.NotEqual(t, uuid.Nil, doc.ID)
}

func TestServiceChangeStatus(t *testing.T) {
	f := newServiceFixture(Config{})
	invoice, err := f.service.Create(f.ctx, sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)

	sent, err := f.service.ChangeStatus(f.ctx, invoice.ID, StatusRequest{Action: status.ActionSend})
	require.NoError(t, err)
	assert.Equal(t, status.Pending, sent.Status)

	paid, err := f.service.ChangeStatus(f.ctx, invoice.ID, StatusRequest{Status: status.Paid})
	require.NoError(t, err)
	assert.Equal(t, status.Paid, paid.Status)
	require.NotNil(t, paid.PaidDate)

	_, err = f.service.ChangeStatus(f.ctx, invoice.ID, StatusRequest{Action: status.ActionCancel})
	require.ErrorIs(t, err, ErrInvalidTransition)

	last := f.invalidator.events[len(f.invalidator.events)-1]
	assert.Equal(t, EventStatusChanged, last.Kind)
	assert.Equal(t, status.Pending, last.FromStatus)
	assert.Equal(t, status.Paid, last.Status)
}

func TestServiceCancelQuoteRejects(t *testing.T) {
	f := newServiceFixture(Config{})
	quote, err := f.service.Create(f.ctx, sampleCreate(doctype.Quote, f.clientID))
	require.NoError(t, err)

	rejected, err := f.service.ChangeStatus(f.ctx, quote.ID, StatusRequest{Action: status.ActionCancel})
	require.NoError(t, err)
	assert.Equal(t, status.Rejected, rejected.Status)

	_, err = f.service.ChangeStatus(f.ctx, quote.ID, StatusRequest{Action: status.ActionAccept})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestServiceChangeStatusRequiresOneTarget(t *testing.T) {
	f := newServiceFixture(Config{})
	doc, err := f.service.Create(f.ctx, sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)

	_, err = f.service.ChangeStatus(f.ctx, doc.ID, StatusRequest{})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = f.service.ChangeStatus(f.ctx, doc.ID, StatusRequest{Status: status.Pending, Action: status.ActionSend})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = f.service.ChangeStatus(f.ctx, doc.ID, StatusRequest{Action: status.ActionAccept})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "action")
}

func TestServiceListUsesCache(t *testing.T) {
	f := newServiceFixture(Config{})
	cache := &memoryViewCache{entries: map[string][]byte{}}
	f.service.cache = cache
	_, err := f.service.Create(f.ctx, sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)

	res, err := f.service.List(f.ctx, ListRequest{})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "Acme BV", res.Documents[0].ClientName)
	assert.Equal(t, 1, res.Pagination.Total)
	assert.Equal(t, 1, cache.loads)

	_, err = f.service.List(f.ctx, ListRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.loads)
}

func TestServiceListRefreshesOverdueOnCachedPages(t *testing.T) {
	f := newServiceFixture(Config{})
	cache := &memoryViewCache{entries: map[string][]byte{}}
	f.service.cache = cache

	req := sampleCreate(doctype.Invoice, f.clientID)
	due := NewDate(testNow.AddDate(0, 0, 1))
	req.DueDate = &due
	doc, err := f.service.Create(f.ctx, req)
	require.NoError(t, err)
	_, err = f.service.ChangeStatus(f.ctx, doc.ID, StatusRequest{Action: status.ActionSend})
	require.NoError(t, err)

	res, err := f.service.List(f.ctx, ListRequest{})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.False(t, res.Documents[0].Overdue)

	f.store.now = fixedClock(testNow.AddDate(0, 0, 5))
	res, err = f.service.List(f.ctx, ListRequest{})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.True(t, res.Documents[0].Overdue)
	assert.Equal(t, 1, cache.loads)
}

func TestServiceNextNumberAndPreview(t *testing.T) {
	f := newServiceFixture(Config{})
	number, err := f.service.NextNumber(f.ctx, doctype.Quote)
	require.NoError(t, err)
	assert.Equal(t, "QUO-202401-1", number)

	_, err = f.service.NextNumber(f.ctx, doctype.Type("receipt"))
	require.ErrorIs(t, err, httpx.ErrValidation)

	res := f.service.Preview(PreviewRequest{LineItems: sampleCreate(doctype.Invoice, f.clientID).LineItems})
	assert.Equal(t, "29.20", res.Total.StringFixed(2))
}

func TestServiceAuditNumbers(t *testing.T) {
	f := newServiceFixture(Config{DuplicateNumbering: DuplicateSuffix})
	doc, err := f.service.Create(f.ctx, sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)
	_, err = f.service.Duplicate(f.ctx, doc.ID)
	require.NoError(t, err)

	// A number whose period disagrees with its issue date.
	mismatch, err := f.store.Create(context.Background(), f.userID, "INV-202312-7", sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)

	report, err := f.service.AuditNumbers(context.Background(), testNow.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 1, report.Copies)
	require.Len(t, report.PeriodMismatches, 1)
	assert.Equal(t, mismatch.Number, report.PeriodMismatches[0].Number)
	assert.Empty(t, report.NonCanonical)
}
