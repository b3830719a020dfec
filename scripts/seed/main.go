package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/invoicely/invoicely/internal/app"
	"github.com/invoicely/invoicely/internal/clients"
	"github.com/invoicely/invoicely/internal/documents"
	"github.com/invoicely/invoicely/internal/documents/doctype"
	"github.com/invoicely/invoicely/internal/documents/status"
	"github.com/invoicely/invoicely/internal/documents/totals"
	"github.com/invoicely/invoicely/internal/platform/db"
	"github.com/invoicely/invoicely/internal/shared"
)

// demoUser owns the seeded data unless -user is given.
const demoUser = "00000000-0000-4000-8000-000000000001"

func main() {
	userFlag := flag.String("user", demoUser, "tenant id to seed")
	flag.Parse()

	userID, err := uuid.Parse(*userFlag)
	if err != nil {
		log.Fatalf("parse user id: %v", err)
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)

	ctx := context.Background()
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, logger); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	services := app.BuildServices(app.Deps{Config: cfg, Logger: logger, Pool: pool})
	ctx = shared.ContextWithUserID(ctx, userID)

	fmt.Println("→ Seeding clients...")
	clientIDs, err := seedClients(ctx, services.Clients)
	if err != nil {
		log.Fatalf("seed clients: %v", err)
	}

	fmt.Println("→ Seeding documents...")
	if err := seedDocuments(ctx, services.Documents, clientIDs); err != nil {
		log.Fatalf("seed documents: %v", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

// =============================================================================
// CLIENTS
// =============================================================================

func seedClients(ctx context.Context, svc *clients.Service) ([]uuid.UUID, error) {
	reqs := []clients.CreateClientRequest{
		{Name: "Acme BV", Company: strPtr("Acme Holding"), Email: strPtr("billing@acme.example"), City: strPtr("Utrecht"), Country: strPtr("NL")},
		{Name: "Globex", Email: strPtr("ap@globex.example"), VATNumber: strPtr("BE0123456789"), City: strPtr("Antwerp"), Country: strPtr("BE")},
		{Name: "Initech", Phone: strPtr("+31 20 555 0100"), City: strPtr("Amsterdam"), Country: strPtr("NL")},
	}
	ids := make([]uuid.UUID, 0, len(reqs))
	for _, req := range reqs {
		c, err := svc.Create(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("create client %s: %w", req.Name, err)
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// =============================================================================
// DOCUMENTS
// =============================================================================

func seedDocuments(ctx context.Context, svc *documents.Service, clientIDs []uuid.UUID) error {
	today := documents.Today(time.Now())
	due := documents.NewDate(today.AddDate(0, 0, 30))

	for i, clientID := range clientIDs {
		quote, err := svc.Create(ctx, documents.CreateRequest{
			Type:      doctype.Quote,
			ClientID:  clientID,
			DueDate:   &due,
			LineItems: []documents.LineItemInput{line("Discovery workshop", "1", documents.UnitDay, "950", "21")},
		})
		if err != nil {
			return fmt.Errorf("create quote: %w", err)
		}
		if i == 0 {
			if _, err := svc.ChangeStatus(ctx, quote.ID, documents.StatusRequest{Action: status.ActionAccept}); err != nil {
				return fmt.Errorf("accept quote: %w", err)
			}
		}

		invoice, err := svc.Create(ctx, documents.CreateRequest{
			Type:     doctype.Invoice,
			ClientID: clientID,
			DueDate:  &due,
			LineItems: []documents.LineItemInput{
				line("Consulting", "12.5", documents.UnitHour, "95", "21"),
				line("Travel", "84", documents.UnitKM, "0.23", "0"),
			},
			PaymentTerms: strPtr("Payment within 30 days."),
		})
		if err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}
		if _, err := svc.ChangeStatus(ctx, invoice.ID, documents.StatusRequest{Action: status.ActionSend}); err != nil {
			return fmt.Errorf("send invoice: %w", err)
		}
		if i%2 == 1 {
			if _, err := svc.ChangeStatus(ctx, invoice.ID, documents.StatusRequest{Action: status.ActionMarkPaid}); err != nil {
				return fmt.Errorf("mark invoice paid: %w", err)
			}
		}
		fmt.Printf("  %s %s, %s %s\n", quote.Number, quote.Total.StringFixed(2), invoice.Number, invoice.Total.StringFixed(2))
	}
	return nil
}

func line(description, quantity string, unit documents.Unit, price, vat string) documents.LineItemInput {
	return documents.LineItemInput{
		Description: description,
		Quantity:    totals.NewNumber(decimal.RequireFromString(quantity)),
		Unit:        unit,
		UnitPrice:   totals.NewNumber(decimal.RequireFromString(price)),
		VATRate:     totals.NewNumber(decimal.RequireFromString(vat)),
	}
}

func strPtr(s string) *string { return &s }
