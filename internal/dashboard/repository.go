package dashboard

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/invoicely/invoicely/internal/documents/doctype"
	"github.com/invoicely/invoicely/internal/documents/status"
)

// OverdueTotals counts invoices past due.
type OverdueTotals struct {
	Count  int
	Amount decimal.Decimal
}

// Repository runs the aggregate queries behind the dashboard.
type Repository interface {
	StatusBreakdown(ctx context.Context, userID uuid.UUID) ([]StatusCount, error)
	Overdue(ctx context.Context, userID uuid.UUID, today time.Time) (OverdueTotals, error)
	PaidBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) (decimal.Decimal, error)
	ClientCount(ctx context.Context, userID uuid.UUID) (int, error)
	Monthly(ctx context.Context, userID uuid.UUID, from time.Time) ([]MonthlyPoint, error)
	TopClients(ctx context.Context, userID uuid.UUID, limit int) ([]ClientTotal, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a PostgreSQL backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) StatusBreakdown(ctx context.Context, userID uuid.UUID) ([]StatusCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT type, status, COUNT(*), COALESCE(SUM(amount), 0)::text
		FROM documents
		WHERE user_id = $1
		GROUP BY type, status
		ORDER BY type, status`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (StatusCount, error) {
		var sc StatusCount
		var t, st, amount string
		if err := row.Scan(&t, &st, &sc.Count, &amount); err != nil {
			return StatusCount{}, err
		}
		sc.Type = doctype.Type(t)
		sc.Status = status.Status(st)
		sc.Amount = parseAmount(amount)
		return sc, nil
	})
}

// Overdue counts invoices marked overdue plus pending invoices whose due
// date has passed.
func (r *repository) Overdue(ctx context.Context, userID uuid.UUID, today time.Time) (OverdueTotals, error) {
	var out OverdueTotals
	var amount string
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)::text
		FROM documents
		WHERE user_id = $1 AND type = 'invoice'
		  AND (status = 'overdue' OR (status = 'pending' AND due_date < $2::date))`,
		userID, today.Format(time.DateOnly),
	).Scan(&out.Count, &amount)
	if err != nil {
		return OverdueTotals{}, err
	}
	out.Amount = parseAmount(amount)
	return out, nil
}

func (r *repository) PaidBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) (decimal.Decimal, error) {
	var amount string
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text
		FROM documents
		WHERE user_id = $1 AND type = 'invoice' AND status = 'paid'
		  AND paid_date >= $2::date AND paid_date < $3::date`,
		userID, from.Format(time.DateOnly), to.Format(time.DateOnly),
	).Scan(&amount)
	if err != nil {
		return decimal.Zero, err
	}
	return parseAmount(amount), nil
}

func (r *repository) ClientCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM clients WHERE user_id = $1", userID).Scan(&n)
	return n, err
}

func (r *repository) Monthly(ctx context.Context, userID uuid.UUID, from time.Time) ([]MonthlyPoint, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT to_char(date, 'YYYY-MM') AS month,
		       COALESCE(SUM(amount) FILTER (WHERE type = 'invoice' AND status <> 'cancelled'), 0)::text,
		       COALESCE(SUM(amount) FILTER (WHERE type = 'invoice' AND status = 'paid'), 0)::text,
		       COALESCE(SUM(amount) FILTER (WHERE type = 'quote'), 0)::text
		FROM documents
		WHERE user_id = $1 AND date >= $2::date
		GROUP BY month
		ORDER BY month`,
		userID, from.Format(time.DateOnly),
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (MonthlyPoint, error) {
		var p MonthlyPoint
		var invoiced, paid, quoted string
		if err := row.Scan(&p.Month, &invoiced, &paid, &quoted); err != nil {
			return MonthlyPoint{}, err
		}
		p.Invoiced = parseAmount(invoiced)
		p.Paid = parseAmount(paid)
		p.Quoted = parseAmount(quoted)
		return p, nil
	})
}

func (r *repository) TopClients(ctx context.Context, userID uuid.UUID, limit int) ([]ClientTotal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT d.client_id, COALESCE(c.name, ''), SUM(d.amount)::text AS total
		FROM documents d
		LEFT JOIN clients c ON c.id = d.client_id AND c.user_id = d.user_id
		WHERE d.user_id = $1 AND d.type = 'invoice' AND d.status <> 'cancelled'
		GROUP BY d.client_id, c.name
		ORDER BY SUM(d.amount) DESC, d.client_id
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ClientTotal, error) {
		var ct ClientTotal
		var total string
		if err := row.Scan(&ct.ClientID, &ct.Name, &total); err != nil {
			return ClientTotal{}, err
		}
		ct.Total = parseAmount(total)
		return ct, nil
	})
}

func parseAmount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
