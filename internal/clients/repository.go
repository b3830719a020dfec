package clients

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/invoicely/invoicely/internal/platform/db"
	"github.com/invoicely/invoicely/internal/platform/httpx"
)

var (
	ErrNotFound = fmt.Errorf("client not found: %w", httpx.ErrNotFound)
)

type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, userID, id uuid.UUID) (*Client, error)
	List(ctx context.Context, userID uuid.UUID, req ListClientsRequest) ([]Client, int, error)
	Create(ctx context.Context, client Client) error
	Update(ctx context.Context, userID, id uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, userID, id uuid.UUID) error
	Exists(ctx context.Context, userID, id uuid.UUID) (bool, error)
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const selectClient = `
	SELECT id, user_id, name, company, email, phone, vat_number,
	       address, postal_code, city, country, created_at, updated_at
	FROM clients`

// updatable lists the columns Update accepts, in a stable order.
var updatable = []string{"name", "company", "email", "phone", "vat_number", "address", "postal_code", "city", "country"}

func (r *repository) Get(ctx context.Context, userID, id uuid.UUID) (*Client, error) {
	row := r.db.QueryRow(ctx, selectClient+" WHERE user_id = $1 AND id = $2", userID, id)
	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *repository) List(ctx context.Context, userID uuid.UUID, req ListClientsRequest) ([]Client, int, error) {
	var conditions []string
	var args []any
	argPos := 1

	conditions = append(conditions, fmt.Sprintf("user_id = $%d", argPos))
	args = append(args, userID)
	argPos++

	if req.Search != nil && *req.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR company ILIKE $%d OR email ILIKE $%d)", argPos, argPos, argPos))
		args = append(args, "%"+*req.Search+"%")
		argPos++
	}

	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM clients "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("%s %s ORDER BY name, id LIMIT $%d OFFSET $%d", selectClient, whereClause, argPos, argPos+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *repository) Create(ctx context.Context, c Client) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO clients (id, user_id, name, company, email, phone, vat_number,
		                     address, postal_code, city, country, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.UserID, c.Name, c.Company, c.Email, c.Phone, c.VATNumber,
		c.Address, c.PostalCode, c.City, c.Country, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (r *repository) Update(ctx context.Context, userID, id uuid.UUID, updates map[string]any) error {
	query := "UPDATE clients SET updated_at = NOW()"
	var args []any
	argPos := 1

	for _, col := range updatable {
		if v, ok := updates[col]; ok {
			query += fmt.Sprintf(", %s = $%d", col, argPos)
			args = append(args, v)
			argPos++
		}
	}

	query += fmt.Sprintf(" WHERE user_id = $%d AND id = $%d", argPos, argPos+1)
	args = append(args, userID, id)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM clients WHERE user_id = $1 AND id = $2", userID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) Exists(ctx context.Context, userID, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM clients WHERE user_id = $1 AND id = $2)", userID, id).Scan(&exists)
	return exists, err
}

func scanClient(row pgx.Row) (Client, error) {
	var c Client
	var company, email, phone, vat, address, postal, city, country pgtype.Text
	err := row.Scan(
		&c.ID, &c.UserID, &c.Name, &company, &email, &phone, &vat,
		&address, &postal, &city, &country, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return Client{}, err
	}
	c.Company = textPtr(company)
	c.Email = textPtr(email)
	c.Phone = textPtr(phone)
	c.VATNumber = textPtr(vat)
	c.Address = textPtr(address)
	c.PostalCode = textPtr(postal)
	c.City = textPtr(city)
	c.Country = textPtr(country)
	return c, nil
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	v := t.String
	return &v
}
