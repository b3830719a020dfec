package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/invoicely/invoicely/internal/clients"
	"github.com/invoicely/invoicely/internal/documents"
	"github.com/invoicely/invoicely/internal/documents/doctype"
	"github.com/invoicely/invoicely/web"
)

const templatePath = "templates/documents/document.html"

// HTMLConverter turns an HTML page into a PDF.
type HTMLConverter interface {
	ConvertHTML(ctx context.Context, html []byte) ([]byte, error)
}

// ClientResolver loads the client printed on a document.
type ClientResolver interface {
	Resolve(ctx context.Context, userID, clientID uuid.UUID) (clients.Client, error)
}

// Renderer produces document PDFs via html/template and Gotenberg.
type Renderer struct {
	tpl       *template.Template
	converter HTMLConverter
	clients   ClientResolver
	lang      language.Tag
	unit      currency.Unit
}

// RendererOption customises a Renderer.
type RendererOption func(*Renderer)

// WithLanguage sets the language used for currency symbols and labels.
func WithLanguage(tag language.Tag) RendererOption {
	return func(r *Renderer) { r.lang = tag }
}

// WithCurrency sets the currency amounts are printed in.
func WithCurrency(unit currency.Unit) RendererOption {
	return func(r *Renderer) { r.unit = unit }
}

// NewRenderer parses the document template. resolver may be nil, in which
// case only the client name stored on the document is printed.
func NewRenderer(converter HTMLConverter, resolver ClientResolver, opts ...RendererOption) (*Renderer, error) {
	if converter == nil {
		return nil, errors.New("report renderer: html converter required")
	}
	r := &Renderer{
		converter: converter,
		clients:   resolver,
		lang:      language.English,
		unit:      currency.EUR,
	}
	for _, opt := range opts {
		opt(r)
	}
	printer := message.NewPrinter(r.lang)
	funcMap := template.FuncMap{
		"money": func(d decimal.Decimal) string {
			return printer.Sprint(currency.Symbol(r.unit.Amount(d.Round(2).InexactFloat64())))
		},
		"percent": func(d decimal.Decimal) string {
			return d.String() + "%"
		},
		"formatDate": formatDate,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}
	tpl, err := template.New("document.html").Funcs(funcMap).ParseFS(web.Templates, templatePath)
	if err != nil {
		return nil, err
	}
	r.tpl = tpl
	return r, nil
}

type documentView struct {
	Lang     string
	Title    string
	DueLabel string
	Doc      documents.DocumentWithClient
	Client   clients.Client
}

// RenderHTML executes the template for doc.
func (r *Renderer) RenderHTML(ctx context.Context, doc documents.DocumentWithClient) ([]byte, error) {
	if r == nil || r.tpl == nil {
		return nil, errors.New("report renderer not initialised")
	}
	view := documentView{
		Lang:     r.lang.String(),
		Title:    "Invoice",
		DueLabel: "Due date",
		Doc:      doc,
		Client:   clients.Client{ID: doc.ClientID, UserID: doc.UserID, Name: doc.ClientName},
	}
	if doc.Type == doctype.Quote {
		view.Title = "Quote"
		view.DueLabel = "Valid until"
	}
	if r.clients != nil {
		client, err := r.clients.Resolve(ctx, doc.UserID, doc.ClientID)
		if err != nil {
			return nil, fmt.Errorf("resolve client: %w", err)
		}
		view.Client = client
	}
	if view.Client.Name == "" {
		view.Client.Name = documents.UnknownClient
	}

	buf := &bytes.Buffer{}
	if err := r.tpl.Execute(buf, view); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderDocument implements documents.Renderer.
func (r *Renderer) RenderDocument(ctx context.Context, doc documents.DocumentWithClient) ([]byte, error) {
	html, err := r.RenderHTML(ctx, doc)
	if err != nil {
		return nil, err
	}
	return r.converter.ConvertHTML(ctx, html)
}

func formatDate(v any) string {
	switch d := v.(type) {
	case documents.Date:
		if d.IsZero() {
			return ""
		}
		return d.Format("02 Jan 2006")
	case *documents.Date:
		if d == nil {
			return ""
		}
		return formatDate(*d)
	default:
		return ""
	}
}
