package documents

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoicely/invoicely/internal/documents/doctype"
	"github.com/invoicely/invoicely/internal/documents/numbering"
	"github.com/invoicely/invoicely/internal/documents/status"
	"github.com/invoicely/invoicely/internal/documents/totals"
	"github.com/invoicely/invoicely/internal/platform/httpx"
)

var testNow = time.Date(2024, time.January, 15, 9, 30, 0, 0, time.UTC)

type storeFixture struct {
	store    *Store
	repo     *mockRepository
	clients  *mockClients
	userID   uuid.UUID
	clientID uuid.UUID
}

func newStoreFixture() storeFixture {
	repo := newMockRepository()
	clientID := uuid.New()
	repo.clientNames[clientID] = "Acme BV"
	clients := &mockClients{known: map[uuid.UUID]bool{clientID: true}}
	store := NewStore(repo, clients)
	store.now = fixedClock(testNow)
	return storeFixture{store: store, repo: repo, clients: clients, userID: uuid.New(), clientID: clientID}
}

func num(s string) totals.Number {
	return totals.NewNumber(decimal.RequireFromString(s))
}

func sampleCreate(t doctype.Type, clientID uuid.UUID) CreateRequest {
	return CreateRequest{
		Type:     t,
		ClientID: clientID,
		LineItems: []LineItemInput{
			{Description: "Consulting", Quantity: num("2"), Unit: UnitHour, UnitPrice: num("10"), VATRate: num("21")},
			{Description: "Travel", Quantity: num("1"), UnitPrice: num("5"), VATRate: num("0")},
		},
	}
}

func TestStoreCreateDerivesTotals(t *testing.T) {
	f := newStoreFixture()

	doc, err := f.store.Create(context.Background(), f.userID, "INV-202401-1", sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, doc.ID)
	assert.Equal(t, f.userID, doc.UserID)
	assert.Equal(t, status.Draft, doc.Status)
	assert.Equal(t, "2024-01-15", doc.Date.String())
	assert.Equal(t, "25.00", doc.Subtotal.StringFixed(2))
	assert.Equal(t, "4.20", doc.VATAmount.StringFixed(2))
	assert.Equal(t, "29.20", doc.Total.StringFixed(2))
	require.Len(t, doc.LineItems, 2)
	assert.Equal(t, "20.00", doc.LineItems[0].Total.StringFixed(2))
	assert.Equal(t, UnitUnit, doc.LineItems[1].Unit)
	for _, item := range doc.LineItems {
		assert.NotEqual(t, uuid.Nil, item.ID)
	}
	assert.Equal(t, 1, f.repo.inserts)
}

func TestStoreCreateQuoteStartsPending(t *testing.T) {
	f := newStoreFixture()
	doc, err := f.store.Create(context.Background(), f.userID, "QUO-202401-1", sampleCreate(doctype.Quote, f.clientID))
	require.NoError(t, err)
	assert.Equal(t, status.Pending, doc.Status)
}

func TestStoreCreateRejectsZeroLineItems(t *testing.T) {
	f := newStoreFixture()
	for _, lines := range [][]LineItemInput{nil, {}} {
		req := sampleCreate(doctype.Invoice, f.clientID)
		req.LineItems = lines

		_, err := f.store.Create(context.Background(), f.userID, "INV-202401-1", req)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Fields, "line_items")
		assert.ErrorIs(t, err, httpx.ErrValidation)
	}
	assert.Zero(t, f.repo.inserts)
}

func TestStoreCreateFieldValidation(t *testing.T) {
	f := newStoreFixture()
	req := sampleCreate(doctype.Invoice, uuid.Nil)
	req.LineItems[0].Description = "   "
	req.LineItems[1].Quantity = totals.Number{}
	req.LineItems[1].Unit = "litre"

	_, err := f.store.Create(context.Background(), f.userID, "INV-202401-1", req)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "is required", verr.Fields["client_id"])
	assert.Equal(t, "is required", verr.Fields["line_items[0].description"])
	assert.Contains(t, verr.Fields, "line_items[1].quantity")
	assert.Contains(t, verr.Fields, "line_items[1].unit")
	assert.Zero(t, f.repo.inserts)
}

func TestStoreCreateRejectsOversizedAmounts(t *testing.T) {
	f := newStoreFixture()
	req := sampleCreate(doctype.Invoice, f.clientID)
	req.LineItems[0].Quantity = num("1000000001")
	req.LineItems[0].VATRate = num("150")

	_, err := f.store.Create(context.Background(), f.userID, "INV-202401-1", req)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "must be less than or equal to 1000000000", verr.Fields["line_items[0].quantity"])
	assert.Equal(t, "must be less than or equal to 100", verr.Fields["line_items[0].vat_rate"])
	assert.Zero(t, f.repo.inserts)
}

func TestStoreCreateRejectsTotalBeyondStorage(t *testing.T) {
	f := newStoreFixture()
	req := sampleCreate(doctype.Invoice, f.clientID)
	req.LineItems[0].Quantity = num("1000000")
	req.LineItems[0].UnitPrice = num("1000000000")

	_, err := f.store.Create(context.Background(), f.userID, "INV-202401-1", req)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields["line_items"], "document total must be below")
	assert.Zero(t, f.repo.inserts)
}

func TestStoreUpdateRejectsTotalBeyondStorage(t *testing.T) {
	f := newStoreFixture()
	ctx := context.Background()
	doc, err := f.store.Create(ctx, f.userID, "INV-202401-1", sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)

	lines := []LineItemInput{{Description: "Fleet", Quantity: num("999999999"), UnitPrice: num("999999999"), VATRate: num("21")}}
	_, err = f.store.Update(ctx, f.userID, doc.ID, UpdateRequest{LineItems: lines})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "line_items")

	stored, err := f.store.GetByID(ctx, f.userID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "29.20", stored.Total.String())
}

func TestStoreCreateRejectsUnknownClient(t *testing.T) {
	f := newStoreFixture()
	_, err := f.store.Create(context.Background(), f.userID, "INV-202401-1", sampleCreate(doctype.Invoice, uuid.New()))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "client does not exist", verr.Fields["client_id"])
	assert.Zero(t, f.repo.inserts)
}

func TestStoreCreateRejectsForeignNumber(t *testing.T) {
	f := newStoreFixture()
	_, err := f.store.Create(context.Background(), f.userID, "QUO-202401-1", sampleCreate(doctype.Invoice, f.clientID))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "number")
}

func TestStoreCreateDuplicateNumberConflicts(t *testing.T) {
	f := newStoreFixture()
	ctx := context.Background()
	_, err := f.store.Create(ctx, f.userID, "INV-202401-1", sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)

	_, err = f.store.Create(ctx, f.userID, "INV-202401-1", sampleCreate(doctype.Invoice, f.clientID))
	require.ErrorIs(t, err, ErrNumberConflict)
	assert.ErrorIs(t, err, httpx.ErrDuplicate)

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "create", storeErr.Op)
}

func TestStoreUpdatePartialKeepsTotals(t *testing.T) {
	f := newStoreFixture()
	ctx := context.Background()
	doc, err := f.store.Create(ctx, f.userID, "INV-202401-1", sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)

	notes := "Thanks for your business"
	updated, err := f.store.Update(ctx, f.userID, doc.ID, UpdateRequest{Notes: &notes})
	require.NoError(t, err)

	assert.Equal(t, "29.20", updated.Total.StringFixed(2))
	assert.Len(t, updated.LineItems, 2)
	assert.Equal(t, notes, *updated.Notes)
	assert.Equal(t, doc.Number, updated.Number)
}

func TestStoreUpdateRederivesTotals(t *testing.T) {
	f := newStoreFixture()
	ctx := context.Background()
	doc, err := f.store.Create(ctx, f.userID, "INV-202401-1", sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)

	updated, err := f.store.Update(ctx, f.userID, doc.ID, UpdateRequest{LineItems: []LineItemInput{
		{Description: "Design", Quantity: num("3"), UnitPrice: num("100"), VATRate: num("9")},
	}})
	require.NoError(t, err)

	assert.Equal(t, "300.00", updated.Subtotal.StringFixed(2))
	assert.Equal(t, "27.00", updated.VATAmount.StringFixed(2))
	assert.Equal(t, "327.00", updated.Total.StringFixed(2))

	stored, err := f.store.GetByID(ctx, f.userID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "327.00", stored.Total.StringFixed(2))
}

func TestStoreUpdateRejectsEmptyLineItems(t *testing.T) {
	f := newStoreFixture()
	ctx := context.Background()
	doc, err := f.store.Create(ctx, f.userID, "INV-202401-1", sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)

	_, err = f.store.Update(ctx, f.userID, doc.ID, UpdateRequest{LineItems: []LineItemInput{}})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "line_items")
	assert.Zero(t, f.repo.updates)
}

func TestStoreUpdateMissingDocument(t *testing.T) {
	f := newStoreFixture()
	notes := "x"
	_, err := f.store.Update(context.Background(), f.userID, uuid.New(), UpdateRequest{Notes: &notes})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreDeleteIsFinal(t *testing.T) {
	f := newStoreFixture()
	ctx := context.Background()
	doc, err := f.store.Create(ctx, f.userID, "INV-202401-1", sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)

	deleted, err := f.store.Delete(ctx, f.userID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, deleted.ID)

	_, err = f.store.GetByID(ctx, f.userID, doc.ID)
	require.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, httpx.ErrNotFound)

	docs, total, err := f.store.ListByUser(ctx, f.userID, ListRequest{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, docs)

	_, err = f.store.Delete(ctx, f.userID, doc.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreIsScopedByUser(t *testing.T) {
	f := newStoreFixture()
	ctx := context.Background()
	doc, err := f.store.Create(ctx, f.userID, "INV-202401-1", sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)

	_, err = f.store.GetByID(ctx, uuid.New(), doc.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.store.Delete(ctx, uuid.New(), doc.ID)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, f.repo.count())
}

func TestStoreDuplicateInvariants(t *testing.T) {
	f := newStoreFixture()
	ctx := context.Background()
	source, err := f.store.Create(ctx, f.userID, "INV-202401-3", sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)
	_, _, err = f.store.Transition(ctx, f.userID, source.ID, func(Document) (status.Status, error) { return status.Pending, nil })
	require.NoError(t, err)

	f.store.now = fixedClock(testNow.AddDate(0, 1, 3))
	dup, err := f.store.Duplicate(ctx, f.userID, source.ID, func(ctx context.Context, src Document) (string, error) {
		return numbering.CopyNumber(ctx, src.Number, func(ctx context.Context, n string) (bool, error) {
			return f.store.NumberExists(ctx, f.userID, src.Type, n)
		})
	})
	require.NoError(t, err)

	assert.NotEqual(t, source.ID, dup.ID)
	assert.Equal(t, "INV-202401-3-COPY", dup.Number)
	assert.Equal(t, status.Draft, dup.Status)
	assert.Equal(t, "2024-02-18", dup.Date.String())
	assert.Nil(t, dup.PaidDate)
	assert.Equal(t, source.ClientID, dup.ClientID)
	assert.Equal(t, "29.20", dup.Total.StringFixed(2))
	require.Len(t, dup.LineItems, len(source.LineItems))
	for i := range dup.LineItems {
		assert.Equal(t, source.LineItems[i].Description, dup.LineItems[i].Description)
		assert.True(t, source.LineItems[i].Quantity.Equal(dup.LineItems[i].Quantity))
		assert.NotEqual(t, source.LineItems[i].ID, dup.LineItems[i].ID)
	}

	dup.LineItems[0].Description = "Changed"
	original, err := f.store.GetByID(ctx, f.userID, source.ID)
	require.NoError(t, err)
	assert.Equal(t, "Consulting", original.LineItems[0].Description)
	assert.Equal(t, status.Pending, original.Status)

	second, err := f.store.Duplicate(ctx, f.userID, source.ID, func(ctx context.Context, src Document) (string, error) {
		return numbering.CopyNumber(ctx, src.Number, func(ctx context.Context, n string) (bool, error) {
			return f.store.NumberExists(ctx, f.userID, src.Type, n)
		})
	})
	require.NoError(t, err)
	assert.Equal(t, "INV-202401-3-COPY-2", second.Number)
}

func TestStoreDuplicateMissingSource(t *testing.T) {
	f := newStoreFixture()
	called := false
	_, err := f.store.Duplicate(context.Background(), f.userID, uuid.New(), func(context.Context, Document) (string, error) {
		called = true
		return "INV-202401-9", nil
	})
	require.ErrorIs(t, err, ErrNotFound)
	assert.False(t, called)
	assert.Zero(t, f.repo.inserts)
}

func TestStoreTransitions(t *testing.T) {
	f := newStoreFixture()
	ctx := context.Background()
	to := func(s status.Status) func(Document) (status.Status, error) {
		return func(Document) (status.Status, error) { return s, nil }
	}

	invoice, err := f.store.Create(ctx, f.userID, "INV-202401-1", sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)

	_, _, err = f.store.Transition(ctx, f.userID, invoice.ID, to(status.Paid))
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, err, status.ErrIllegalTransition)
	assert.ErrorIs(t, err, httpx.ErrUnprocessable)

	pending, from, err := f.store.Transition(ctx, f.userID, invoice.ID, to(status.Pending))
	require.NoError(t, err)
	assert.Equal(t, status.Draft, from)
	assert.Equal(t, status.Pending, pending.Status)
	assert.Equal(t, "29.20", pending.Total.StringFixed(2))

	paid, _, err := f.store.Transition(ctx, f.userID, invoice.ID, to(status.Paid))
	require.NoError(t, err)
	assert.Equal(t, status.Paid, paid.Status)
	require.NotNil(t, paid.PaidDate)
	assert.Equal(t, "2024-01-15", paid.PaidDate.String())

	quote, err := f.store.Create(ctx, f.userID, "QUO-202401-1", sampleCreate(doctype.Quote, f.clientID))
	require.NoError(t, err)
	_, _, err = f.store.Transition(ctx, f.userID, quote.ID, to(status.Rejected))
	require.NoError(t, err)
	_, _, err = f.store.Transition(ctx, f.userID, quote.ID, to(status.Accepted))
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStoreGetFallsBackToUnknownClient(t *testing.T) {
	f := newStoreFixture()
	ctx := context.Background()
	doc, err := f.store.Create(ctx, f.userID, "INV-202401-1", sampleCreate(doctype.Invoice, f.clientID))
	require.NoError(t, err)

	delete(f.repo.clientNames, f.clientID)

	got, err := f.store.GetByID(ctx, f.userID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, UnknownClient, got.ClientName)
	assert.Equal(t, "25.00", got.Subtotal.StringFixed(2))
	assert.Equal(t, "4.20", got.VATAmount.StringFixed(2))

	docs, _, err := f.store.ListByUser(ctx, f.userID, ListRequest{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, UnknownClient, docs[0].ClientName)
}

func TestStoreGetMarksOverdue(t *testing.T) {
	f := newStoreFixture()
	ctx := context.Background()
	req := sampleCreate(doctype.Invoice, f.clientID)
	due := NewDate(testNow.AddDate(0, 0, 7))
	req.DueDate = &due
	doc, err := f.store.Create(ctx, f.userID, "INV-202401-1", req)
	require.NoError(t, err)
	_, _, err = f.store.Transition(ctx, f.userID, doc.ID, func(Document) (status.Status, error) { return status.Pending, nil })
	require.NoError(t, err)

	got, err := f.store.GetByID(ctx, f.userID, doc.ID)
	require.NoError(t, err)
	assert.False(t, got.Overdue)

	f.store.now = fixedClock(testNow.AddDate(0, 0, 8))
	got, err = f.store.GetByID(ctx, f.userID, doc.ID)
	require.NoError(t, err)
	assert.True(t, got.Overdue)
	assert.Equal(t, status.Pending, got.Status)
}

func TestStoreErrorsCarryContext(t *testing.T) {
	f := newStoreFixture()
	id := uuid.New()
	f.repo.getErr = &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	_, err := f.store.GetByID(context.Background(), f.userID, id)

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "get", storeErr.Op)
	assert.Equal(t, id, storeErr.ID)
	assert.True(t, storeErr.Retryable())
	assert.Contains(t, err.Error(), id.String())
}
