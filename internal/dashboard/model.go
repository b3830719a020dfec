// Package dashboard builds the per-tenant statistics and chart read model
// shown on the landing page.
package dashboard

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/invoicely/invoicely/internal/documents"
	"github.com/invoicely/invoicely/internal/documents/doctype"
	"github.com/invoicely/invoicely/internal/documents/status"
)

// StatusCount aggregates documents of one type and status.
type StatusCount struct {
	Type   doctype.Type    `json:"type"`
	Status status.Status   `json:"status"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// Stats are the headline figures of a tenant.
type Stats struct {
	InvoiceCount  int             `json:"invoice_count"`
	QuoteCount    int             `json:"quote_count"`
	ClientCount   int             `json:"client_count"`
	Outstanding   decimal.Decimal `json:"outstanding"`
	OverdueCount  int             `json:"overdue_count"`
	OverdueAmount decimal.Decimal `json:"overdue_amount"`
	PaidThisMonth decimal.Decimal `json:"paid_this_month"`
	OpenQuotes    decimal.Decimal `json:"open_quotes"`
	QuoteWinRate  decimal.Decimal `json:"quote_win_rate"`
	ByStatus      []StatusCount   `json:"by_status"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

// MonthlyPoint is one month of the revenue chart.
type MonthlyPoint struct {
	Month    string          `json:"month"`
	Invoiced decimal.Decimal `json:"invoiced"`
	Paid     decimal.Decimal `json:"paid"`
	Quoted   decimal.Decimal `json:"quoted"`
}

// ClientTotal ranks clients by invoiced amount.
type ClientTotal struct {
	ClientID uuid.UUID       `json:"client_id"`
	Name     string          `json:"name"`
	Total    decimal.Decimal `json:"total"`
}

// Charts holds the chart series of a tenant.
type Charts struct {
	Months     []MonthlyPoint `json:"months"`
	TopClients []ClientTotal  `json:"top_clients"`
}

// Overview is the full dashboard payload.
type Overview struct {
	Stats    Stats             `json:"stats"`
	Charts   Charts            `json:"charts"`
	Activity []documents.Event `json:"activity"`
}
