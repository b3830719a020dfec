package documents

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/invoicely/invoicely/internal/documents/doctype"
	"github.com/invoicely/invoicely/internal/documents/status"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	mu          sync.Mutex
	docs        map[uuid.UUID]Document
	clientNames map[uuid.UUID]string

	inserts int
	updates int
	// lookupsInTx counts number lookups made while a transaction is open.
	lookupsInTx int

	// Error injection
	insertErrs     []error
	listNumbersErr error
	getErr         error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		docs:        make(map[uuid.UUID]Document),
		clientNames: make(map[uuid.UUID]string),
	}
}

type txKey struct{}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(context.WithValue(ctx, txKey{}, true), m)
}

// noteLookup must be called with m.mu held.
func (m *mockRepository) noteLookup(ctx context.Context) {
	if ctx.Value(txKey{}) != nil {
		m.lookupsInTx++
	}
}

func (m *mockRepository) Insert(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.insertErrs) > 0 {
		err := m.insertErrs[0]
		m.insertErrs = m.insertErrs[1:]
		if err != nil {
			return err
		}
	}
	for _, existing := range m.docs {
		if existing.UserID == doc.UserID && existing.Type == doc.Type && existing.Number == doc.Number {
			return ErrNumberConflict
		}
	}
	m.inserts++
	m.docs[doc.ID] = doc.clone()
	return nil
}

func (m *mockRepository) Get(_ context.Context, userID, id uuid.UUID) (DocumentWithClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return DocumentWithClient{}, m.getErr
	}
	doc, ok := m.docs[id]
	if !ok || doc.UserID != userID {
		return DocumentWithClient{}, ErrNotFound
	}
	return DocumentWithClient{Document: doc.clone(), ClientName: m.clientNames[doc.ClientID]}, nil
}

func (m *mockRepository) Update(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.docs[doc.ID]
	if !ok || existing.UserID != doc.UserID {
		return ErrNotFound
	}
	updated := doc.clone()
	updated.Number = existing.Number
	updated.Type = existing.Type
	updated.Status = existing.Status
	updated.PaidDate = existing.PaidDate
	m.updates++
	m.docs[doc.ID] = updated
	return nil
}

func (m *mockRepository) UpdateStatus(_ context.Context, userID, id uuid.UUID, to status.Status, paidDate *Date, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok || doc.UserID != userID {
		return ErrNotFound
	}
	doc.Status = to
	if paidDate != nil {
		doc.PaidDate = paidDate
	}
	doc.UpdatedAt = at
	m.updates++
	m.docs[id] = doc
	return nil
}

func (m *mockRepository) Delete(_ context.Context, userID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok || doc.UserID != userID {
		return ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

func (m *mockRepository) List(_ context.Context, filter ListFilter) ([]DocumentWithClient, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DocumentWithClient
	for _, doc := range m.docs {
		if doc.UserID != filter.UserID {
			continue
		}
		if filter.Type != nil && doc.Type != *filter.Type {
			continue
		}
		if filter.Status != nil && doc.Status != *filter.Status {
			continue
		}
		if filter.ClientID != nil && doc.ClientID != *filter.ClientID {
			continue
		}
		out = append(out, DocumentWithClient{Document: doc.clone(), ClientName: m.clientNames[doc.ClientID]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	total := len(out)
	if filter.Offset >= len(out) {
		return []DocumentWithClient{}, total, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

func (m *mockRepository) ListNumbers(ctx context.Context, userID uuid.UUID, t doctype.Type, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noteLookup(ctx)
	if m.listNumbersErr != nil {
		return nil, m.listNumbersErr
	}
	var out []string
	for _, doc := range m.docs {
		if doc.UserID == userID && doc.Type == t && strings.HasPrefix(doc.Number, prefix) {
			out = append(out, doc.Number)
		}
	}
	return out, nil
}

func (m *mockRepository) NumberExists(ctx context.Context, userID uuid.UUID, t doctype.Type, number string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noteLookup(ctx)
	for _, doc := range m.docs {
		if doc.UserID == userID && doc.Type == t && doc.Number == number {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepository) NumbersSince(_ context.Context, since time.Time) ([]NumberRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []NumberRecord
	for _, doc := range m.docs {
		if doc.CreatedAt.Before(since) {
			continue
		}
		out = append(out, NumberRecord{UserID: doc.UserID, Type: doc.Type, Number: doc.Number, Date: doc.Date.Time})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *mockRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

// ============================================================================
// MOCK COLLABORATORS
// ============================================================================

type mockClients struct {
	known map[uuid.UUID]bool
	err   error
}

func (c *mockClients) Exists(_ context.Context, _ uuid.UUID, clientID uuid.UUID) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return c.known[clientID], nil
}

type recordingInvalidator struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.err
}

func (r *recordingInvalidator) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

type recordingMetrics struct {
	mu            sync.Mutex
	mutations     []string
	conflicts     int
	conflictTypes []string
}

func (m *recordingMetrics) ObserveDocumentMutation(action, docType, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutations = append(m.mutations, action+":"+docType+":"+outcome)
}

func (m *recordingMetrics) IncNumberConflict(docType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
	m.conflictTypes = append(m.conflictTypes, docType)
}

type memoryViewCache struct {
	entries map[string][]byte
	loads   int
}

func (c *memoryViewCache) FetchJSON(ctx context.Context, userID uuid.UUID, key string, dest any, loader func(context.Context) (any, error)) error {
	full := userID.String() + ":" + key
	if raw, ok := c.entries[full]; ok {
		return json.Unmarshal(raw, dest)
	}
	c.loads++
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[full] = raw
	return json.Unmarshal(raw, dest)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
