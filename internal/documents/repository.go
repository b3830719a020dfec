package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/invoicely/invoicely/internal/documents/doctype"
	"github.com/invoicely/invoicely/internal/documents/status"
	"github.com/invoicely/invoicely/internal/documents/totals"
	"github.com/invoicely/invoicely/internal/platform/db"
)

const numberConstraint = "documents_user_type_number_key"

// NumberRecord is a stored number with the data needed to audit it.
type NumberRecord struct {
	UserID uuid.UUID    `json:"user_id"`
	Type   doctype.Type `json:"type"`
	Number string       `json:"number"`
	Date   time.Time    `json:"date"`
}

// ListFilter scopes a repository listing.
type ListFilter struct {
	UserID   uuid.UUID
	Type     *doctype.Type
	Status   *status.Status
	ClientID *uuid.UUID
	Limit    int
	Offset   int
}

// Repository persists documents. Every read and write is scoped by the
// owning user.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Insert(ctx context.Context, doc Document) error
	Get(ctx context.Context, userID, id uuid.UUID) (DocumentWithClient, error)
	Update(ctx context.Context, doc Document) error
	UpdateStatus(ctx context.Context, userID, id uuid.UUID, to status.Status, paidDate *Date, at time.Time) error
	Delete(ctx context.Context, userID, id uuid.UUID) error
	List(ctx context.Context, filter ListFilter) ([]DocumentWithClient, int, error)
	ListNumbers(ctx context.Context, userID uuid.UUID, t doctype.Type, prefix string) ([]string, error)
	NumberExists(ctx context.Context, userID uuid.UUID, t doctype.Type, number string) (bool, error)
	NumbersSince(ctx context.Context, since time.Time) ([]NumberRecord, error)
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository returns a PostgreSQL backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const selectDocument = `
	SELECT d.id, d.type, d.user_id, d.client_id, d.invoice_number, d.date, d.due_date,
	       d.delivery_date, d.po_number, d.notes, d.payment_info, d.payment_terms,
	       d.amount::text, d.status, d.line_items, d.paid_date, d.attachment_path,
	       d.created_at, d.updated_at, COALESCE(c.name, '')
	FROM documents d
	LEFT JOIN clients c ON c.id = d.client_id AND c.user_id = d.user_id`

func (r *repository) Insert(ctx context.Context, doc Document) error {
	items, err := json.Marshal(doc.LineItems)
	if err != nil {
		return fmt.Errorf("encode line items: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO documents (
			id, type, user_id, client_id, invoice_number, date, due_date, delivery_date,
			po_number, notes, payment_info, payment_terms, amount, status, line_items,
			paid_date, attachment_path, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::numeric, $14, $15::jsonb, $16, $17, $18, $19)`,
		doc.ID, string(doc.Type), doc.UserID, doc.ClientID, doc.Number,
		doc.Date.Time, dateArg(doc.DueDate), dateArg(doc.DeliveryDate),
		doc.PONumber, doc.Notes, doc.PaymentInfo, doc.PaymentTerms,
		doc.Total.StringFixed(2), string(doc.Status), items,
		dateArg(doc.PaidDate), doc.AttachmentPath, doc.CreatedAt, doc.UpdatedAt,
	)
	if db.IsUniqueViolation(err, numberConstraint) {
		return ErrNumberConflict
	}
	return err
}

func (r *repository) Get(ctx context.Context, userID, id uuid.UUID) (DocumentWithClient, error) {
	row := r.db.QueryRow(ctx, selectDocument+` WHERE d.user_id = $1 AND d.id = $2`, userID, id)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return DocumentWithClient{}, ErrNotFound
	}
	return doc, err
}

func (r *repository) Update(ctx context.Context, doc Document) error {
	items, err := json.Marshal(doc.LineItems)
	if err != nil {
		return fmt.Errorf("encode line items: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE documents SET
			client_id = $3, date = $4, due_date = $5, delivery_date = $6, po_number = $7,
			notes = $8, payment_info = $9, payment_terms = $10, amount = $11::numeric,
			line_items = $12::jsonb, attachment_path = $13, updated_at = $14
		WHERE user_id = $1 AND id = $2`,
		doc.UserID, doc.ID, doc.ClientID, doc.Date.Time, dateArg(doc.DueDate), dateArg(doc.DeliveryDate),
		doc.PONumber, doc.Notes, doc.PaymentInfo, doc.PaymentTerms, doc.Total.StringFixed(2),
		items, doc.AttachmentPath, doc.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) UpdateStatus(ctx context.Context, userID, id uuid.UUID, to status.Status, paidDate *Date, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE documents SET status = $3, paid_date = COALESCE($4::date, paid_date), updated_at = $5
		WHERE user_id = $1 AND id = $2`,
		userID, id, string(to), dateArg(paidDate), at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]DocumentWithClient, int, error) {
	conditions := []string{"d.user_id = $1"}
	args := []interface{}{filter.UserID}
	argPos := 2

	if filter.Type != nil {
		conditions = append(conditions, fmt.Sprintf("d.type = $%d", argPos))
		args = append(args, string(*filter.Type))
		argPos++
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("d.status = $%d", argPos))
		args = append(args, string(*filter.Status))
		argPos++
	}
	if filter.ClientID != nil {
		conditions = append(conditions, fmt.Sprintf("d.client_id = $%d", argPos))
		args = append(args, *filter.ClientID)
		argPos++
	}
	whereClause := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM documents d"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := selectDocument + whereClause +
		fmt.Sprintf(" ORDER BY d.date DESC, d.created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	docs := make([]DocumentWithClient, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	return docs, total, rows.Err()
}

func (r *repository) ListNumbers(ctx context.Context, userID uuid.UUID, t doctype.Type, prefix string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT invoice_number FROM documents
		WHERE user_id = $1 AND type = $2 AND invoice_number LIKE $3 ESCAPE '\'`,
		userID, string(t), escapeLike(prefix)+"%",
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *repository) NumberExists(ctx context.Context, userID uuid.UUID, t doctype.Type, number string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM documents WHERE user_id = $1 AND type = $2 AND invoice_number = $3)`,
		userID, string(t), number,
	).Scan(&exists)
	return exists, err
}

func (r *repository) NumbersSince(ctx context.Context, since time.Time) ([]NumberRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, type, invoice_number, date FROM documents
		WHERE created_at >= $1
		ORDER BY user_id, type, invoice_number`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NumberRecord
	for rows.Next() {
		var rec NumberRecord
		var typ string
		if err := rows.Scan(&rec.UserID, &typ, &rec.Number, &rec.Date); err != nil {
			return nil, err
		}
		rec.Type = doctype.Type(typ)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanDocument(row pgx.Row) (DocumentWithClient, error) {
	var (
		doc                                   DocumentWithClient
		typ, st, amount                       string
		items                                 []byte
		date, dueDate, deliveryDate, paidDate pgtype.Date
		poNumber, notes, paymentInfo, terms   pgtype.Text
		attachment                            pgtype.Text
	)
	err := row.Scan(
		&doc.ID, &typ, &doc.UserID, &doc.ClientID, &doc.Number, &date, &dueDate,
		&deliveryDate, &poNumber, &notes, &paymentInfo, &terms,
		&amount, &st, &items, &paidDate, &attachment,
		&doc.CreatedAt, &doc.UpdatedAt, &doc.ClientName,
	)
	if err != nil {
		return DocumentWithClient{}, err
	}
	doc.Type = doctype.Type(typ)
	doc.Status = status.Status(st)
	if date.Valid {
		doc.Date = NewDate(date.Time)
	}
	doc.DueDate = fromPgDate(dueDate)
	doc.DeliveryDate = fromPgDate(deliveryDate)
	doc.PaidDate = fromPgDate(paidDate)
	doc.PONumber = fromPgText(poNumber)
	doc.Notes = fromPgText(notes)
	doc.PaymentInfo = fromPgText(paymentInfo)
	doc.PaymentTerms = fromPgText(terms)
	doc.AttachmentPath = fromPgText(attachment)
	total, err := decimal.NewFromString(amount)
	if err != nil {
		return DocumentWithClient{}, fmt.Errorf("decode amount: %w", err)
	}
	doc.Total = totals.NewAmount(total)
	if err := json.Unmarshal(items, &doc.LineItems); err != nil {
		return DocumentWithClient{}, fmt.Errorf("decode line items: %w", err)
	}
	return doc, nil
}

func dateArg(d *Date) any {
	if d == nil || d.IsZero() {
		return nil
	}
	return d.Time
}

func fromPgDate(d pgtype.Date) *Date {
	if !d.Valid {
		return nil
	}
	return datePtr(NewDate(d.Time))
}

func fromPgText(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	v := t.String
	return &v
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
