package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/invoicely/invoicely/internal/documents/doctype"
	"github.com/invoicely/invoicely/internal/documents/status"
	"github.com/invoicely/invoicely/internal/shared"
)

// ClientDirectory resolves the clients a document may reference.
type ClientDirectory interface {
	Exists(ctx context.Context, userID, clientID uuid.UUID) (bool, error)
}

// NumberFunc supplies the number of a duplicate given its source.
type NumberFunc func(ctx context.Context, source Document) (string, error)

// Store enforces the write invariants of documents on top of a Repository:
// validation before any write, derived totals, immutable numbers and
// type-specific statuses.
type Store struct {
	repo     Repository
	clients  ClientDirectory
	validate *validator.Validate
	now      func() time.Time
}

// NewStore constructs a Store.
func NewStore(repo Repository, clients ClientDirectory) *Store {
	return &Store{
		repo:     repo,
		clients:  clients,
		validate: newValidator(),
		now:      time.Now,
	}
}

// Create validates req and inserts a new document numbered number.
func (s *Store) Create(ctx context.Context, userID uuid.UUID, number string, req CreateRequest) (Document, error) {
	req.LineItems = normalizeLines(req.LineItems)
	if err := s.validateCreate(req); err != nil {
		return Document{}, err
	}
	if err := validateNumber(req.Type, number); err != nil {
		return Document{}, err
	}
	if err := s.requireClient(ctx, userID, req.ClientID); err != nil {
		return Document{}, err
	}

	now := s.now().UTC()
	doc := Document{
		ID:             uuid.New(),
		Type:           req.Type,
		UserID:         userID,
		ClientID:       req.ClientID,
		Number:         number,
		Date:           Today(now),
		DueDate:        req.DueDate,
		DeliveryDate:   req.DeliveryDate,
		PONumber:       req.PONumber,
		Notes:          req.Notes,
		PaymentInfo:    req.PaymentInfo,
		PaymentTerms:   req.PaymentTerms,
		LineItems:      toLineItems(req.LineItems),
		Status:         status.Initial(req.Type),
		AttachmentPath: req.AttachmentPath,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.Date != nil && !req.Date.IsZero() {
		doc.Date = *req.Date
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		return persist(ctx, repo, &doc, true)
	})
	if err != nil {
		return Document{}, storeErr("create", doc.ID, err)
	}
	return doc, nil
}

// Update applies a partial update. Totals are re-derived from the resulting
// line items; the number, type and status are never changed here.
func (s *Store) Update(ctx context.Context, userID, id uuid.UUID, req UpdateRequest) (Document, error) {
	req.LineItems = normalizeLines(req.LineItems)
	if err := s.validateUpdate(req); err != nil {
		return Document{}, err
	}
	if req.ClientID != nil {
		if err := s.requireClient(ctx, userID, *req.ClientID); err != nil {
			return Document{}, err
		}
	}

	var updated Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		current, err := repo.Get(ctx, userID, id)
		if err != nil {
			return err
		}
		doc := current.Document.clone()
		applyUpdate(&doc, req)
		if err := s.checkDates(doc); err != nil {
			return err
		}
		doc.UpdatedAt = s.now().UTC()
		if err := persist(ctx, repo, &doc, false); err != nil {
			return err
		}
		updated = doc
		return nil
	})
	if err != nil {
		return Document{}, wrapUnlessValidation("update", id, err)
	}
	return updated, nil
}

// Delete removes the document permanently.
func (s *Store) Delete(ctx context.Context, userID, id uuid.UUID) (Document, error) {
	var deleted Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		current, err := repo.Get(ctx, userID, id)
		if err != nil {
			return err
		}
		deleted = current.Document
		return repo.Delete(ctx, userID, id)
	})
	if err != nil {
		return Document{}, storeErr("delete", id, err)
	}
	return deleted, nil
}

// Duplicate copies the source document into a new record. All fields except
// id and timestamps are copied by value; the status is reset, the date set
// to today, the paid date cleared and the number taken from numberFor.
// numberFor runs before the insert transaction opens, so its lookups never
// hold a second connection.
func (s *Store) Duplicate(ctx context.Context, userID, id uuid.UUID, numberFor NumberFunc) (Document, error) {
	source, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return Document{}, storeErr("duplicate", id, err)
	}
	number, err := numberFor(ctx, source.Document)
	if err != nil {
		return Document{}, wrapUnlessValidation("duplicate", id, err)
	}
	if err := validateNumber(source.Type, number); err != nil {
		return Document{}, err
	}

	now := s.now().UTC()
	doc := source.Document.clone()
	doc.ID = uuid.New()
	doc.Number = number
	doc.Status = status.Initial(doc.Type)
	doc.Date = Today(now)
	doc.PaidDate = nil
	doc.CreatedAt = now
	doc.UpdatedAt = now
	for i := range doc.LineItems {
		doc.LineItems[i].ID = uuid.New()
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		return persist(ctx, repo, &doc, true)
	})
	if err != nil {
		return Document{}, wrapUnlessValidation("duplicate", id, err)
	}
	return doc, nil
}

// Transition moves the document to the status chosen by target, after
// checking it against the type's workflow. Moving an invoice to paid stamps
// the paid date.
func (s *Store) Transition(ctx context.Context, userID, id uuid.UUID, target func(Document) (status.Status, error)) (Document, status.Status, error) {
	var (
		updated Document
		from    status.Status
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		current, err := repo.Get(ctx, userID, id)
		if err != nil {
			return err
		}
		to, err := target(current.Document)
		if err != nil {
			return err
		}
		if err := status.Validate(current.Type, current.Status, to); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTransition, err)
		}

		now := s.now().UTC()
		var paid *Date
		if to == status.Paid {
			paid = datePtr(Today(now))
		}
		if err := repo.UpdateStatus(ctx, userID, id, to, paid, now); err != nil {
			return err
		}
		from = current.Status
		updated = current.Document.clone()
		updated.Status = to
		if paid != nil {
			updated.PaidDate = paid
		}
		updated.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return Document{}, "", err
		}
		return Document{}, "", wrapUnlessValidation("update status", id, err)
	}
	applyTotals(&updated)
	return updated, from, nil
}

// GetByID returns a document with its client's display name.
func (s *Store) GetByID(ctx context.Context, userID, id uuid.UUID) (DocumentWithClient, error) {
	doc, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return DocumentWithClient{}, storeErr("get", id, err)
	}
	return s.present(doc), nil
}

// ListByUser lists a tenant's documents, newest first.
func (s *Store) ListByUser(ctx context.Context, userID uuid.UUID, req ListRequest) ([]DocumentWithClient, int, error) {
	docs, total, err := s.repo.List(ctx, ListFilter{
		UserID:   userID,
		Type:     req.Type,
		Status:   req.Status,
		ClientID: req.ClientID,
		Limit:    shared.ClampLimit(req.Limit),
		Offset:   max(req.Offset, 0),
	})
	if err != nil {
		return nil, 0, storeErr("list", uuid.Nil, err)
	}
	for i := range docs {
		docs[i] = s.present(docs[i])
	}
	return docs, total, nil
}

// NumberExists reports whether the tenant already holds number for t.
func (s *Store) NumberExists(ctx context.Context, userID uuid.UUID, t doctype.Type, number string) (bool, error) {
	exists, err := s.repo.NumberExists(ctx, userID, t, number)
	if err != nil {
		return false, storeErr("number lookup", uuid.Nil, err)
	}
	return exists, nil
}

// ListNumbers implements numbering.Lookup.
func (s *Store) ListNumbers(ctx context.Context, userID uuid.UUID, t doctype.Type, prefix string) ([]string, error) {
	numbers, err := s.repo.ListNumbers(ctx, userID, t, prefix)
	if err != nil {
		return nil, storeErr("number lookup", uuid.Nil, err)
	}
	return numbers, nil
}

// present re-derives amounts from line items and fills read-time fields.
func (s *Store) present(doc DocumentWithClient) DocumentWithClient {
	applyTotals(&doc.Document)
	if doc.ClientName == "" {
		doc.ClientName = UnknownClient
	}
	s.markOverdue(&doc)
	return doc
}

func (s *Store) markOverdue(doc *DocumentWithClient) {
	doc.Overdue = status.IsOverdue(doc.Type, doc.Status, timePtr(doc.DueDate), s.now())
}

func (s *Store) requireClient(ctx context.Context, userID, clientID uuid.UUID) error {
	if s.clients == nil {
		return nil
	}
	ok, err := s.clients.Exists(ctx, userID, clientID)
	if err != nil {
		return storeErr("client lookup", uuid.Nil, err)
	}
	if !ok {
		return shared.NewValidationError("client_id", "client does not exist")
	}
	return nil
}

func (s *Store) checkDates(doc Document) error {
	verr := &ValidationError{}
	checkDates(verr, &doc.Date, doc.DueDate)
	return verr.OrNil()
}

// persist is the only path that writes line items and amounts.
func persist(ctx context.Context, repo Repository, doc *Document, insert bool) error {
	if len(doc.LineItems) == 0 {
		return shared.NewValidationError("line_items", "must contain at least 1 item(s)")
	}
	applyTotals(doc)
	if insert {
		return repo.Insert(ctx, *doc)
	}
	return repo.Update(ctx, *doc)
}

func applyUpdate(doc *Document, req UpdateRequest) {
	if req.ClientID != nil {
		doc.ClientID = *req.ClientID
	}
	if req.Date != nil && !req.Date.IsZero() {
		doc.Date = *req.Date
	}
	if req.DueDate != nil {
		doc.DueDate = optionalDate(req.DueDate)
	}
	if req.DeliveryDate != nil {
		doc.DeliveryDate = optionalDate(req.DeliveryDate)
	}
	if req.PONumber != nil {
		doc.PONumber = req.PONumber
	}
	if req.Notes != nil {
		doc.Notes = req.Notes
	}
	if req.PaymentInfo != nil {
		doc.PaymentInfo = req.PaymentInfo
	}
	if req.PaymentTerms != nil {
		doc.PaymentTerms = req.PaymentTerms
	}
	if req.AttachmentPath != nil {
		doc.AttachmentPath = req.AttachmentPath
	}
	if req.LineItems != nil {
		doc.LineItems = toLineItems(req.LineItems)
	}
}

// optionalDate treats a zero date as an explicit clear.
func optionalDate(d *Date) *Date {
	if d == nil || d.IsZero() {
		return nil
	}
	return cloneDate(d)
}

func timePtr(d *Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

func wrapUnlessValidation(op string, id uuid.UUID, err error) error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return err
	}
	return storeErr(op, id, err)
}

// NumbersSince lists numbers of documents created at or after since, across
// all tenants.
func (s *Store) NumbersSince(ctx context.Context, since time.Time) ([]NumberRecord, error) {
	records, err := s.repo.NumbersSince(ctx, since)
	if err != nil {
		return nil, storeErr("number audit", uuid.Nil, err)
	}
	return records, nil
}
