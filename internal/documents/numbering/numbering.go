// Package numbering generates human-readable document numbers of the form
// PREFIX-YYYYMM-N. The sequence restarts every calendar month per user and
// document type.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/invoicely/invoicely/internal/documents/doctype"
)

// ErrMalformed is returned by Parse for numbers outside the canonical format.
var ErrMalformed = errors.New("malformed document number")

// CopySuffix marks numbers produced by suffix-style duplication.
const CopySuffix = "-COPY"

var canonicalPattern = regexp.MustCompile(`^(INV|QUO)-(\d{4})(0[1-9]|1[0-2])-([1-9]\d*)$`)

// Lookup lists the existing numbers of a user and type starting with prefix.
type Lookup interface {
	ListNumbers(ctx context.Context, userID uuid.UUID, t doctype.Type, prefix string) ([]string, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, userID uuid.UUID, t doctype.Type, prefix string) ([]string, error)

// ListNumbers implements Lookup.
func (f LookupFunc) ListNumbers(ctx context.Context, userID uuid.UUID, t doctype.Type, prefix string) ([]string, error) {
	return f(ctx, userID, t, prefix)
}

// Generator computes the next number from the stored snapshot.
type Generator struct {
	lookup     Lookup
	logger     *slog.Logger
	onFallback func(doctype.Type)
}

// Option configures a Generator.
type Option func(*Generator)

// WithFallbackHook registers a callback invoked when the lookup fails and
// the generator degrades to sequence 1.
func WithFallbackHook(fn func(doctype.Type)) Option {
	return func(g *Generator) {
		g.onFallback = fn
	}
}

// NewGenerator constructs a Generator.
func NewGenerator(lookup Lookup, logger *slog.Logger, opts ...Option) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Generator{lookup: lookup, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Next returns the next number for userID, type t and the month of now.
//
// A failed lookup does not fail creation: the generator logs the failure and
// returns sequence 1, leaving the unique index to catch a collision. A
// cancelled context is still reported as an error.
func (g *Generator) Next(ctx context.Context, t doctype.Type, userID uuid.UUID, now time.Time) (string, error) {
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", doctype.ErrUnknownType, t)
	}
	prefix := Period(t, now)
	numbers, err := g.lookup.ListNumbers(ctx, userID, t, prefix)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		g.logger.Warn("document number lookup failed, falling back to first sequence",
			slog.String("type", t.String()),
			slog.String("user_id", userID.String()),
			slog.String("period", prefix),
			slog.Any("error", err))
		if g.onFallback != nil {
			g.onFallback(t)
		}
		return Format(t, now, 1), nil
	}
	return Format(t, now, MaxSequence(prefix, numbers)+1), nil
}

// Period returns the "PREFIX-YYYYMM-" stem shared by every number of the
// month containing at.
func Period(t doctype.Type, at time.Time) string {
	return fmt.Sprintf("%s-%04d%02d-", t.Prefix(), at.Year(), int(at.Month()))
}

// Format renders the number for sequence seq in the month containing at.
func Format(t doctype.Type, at time.Time, seq int) string {
	return Period(t, at) + strconv.Itoa(seq)
}

// MaxSequence returns the largest sequence among numbers that match
// "^{period}(\d+)$" exactly. Other months and suffixed variants are ignored.
func MaxSequence(period string, numbers []string) int {
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(period) + `(\d+)$`)
	maxSeq := 0
	for _, number := range numbers {
		m := pattern.FindStringSubmatch(number)
		if m == nil {
			continue
		}
		seq, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq
}

// Parsed is a decomposed canonical number.
type Parsed struct {
	Type     doctype.Type
	Year     int
	Month    time.Month
	Sequence int
}

// Parse decomposes a canonical number.
func Parse(number string) (Parsed, error) {
	m := canonicalPattern.FindStringSubmatch(number)
	if m == nil {
		return Parsed{}, fmt.Errorf("%w: %q", ErrMalformed, number)
	}
	year, _ := strconv.Atoi(m[2])
	month, _ := strconv.Atoi(m[3])
	seq, err := strconv.Atoi(m[4])
	if err != nil {
		return Parsed{}, fmt.Errorf("%w: %q", ErrMalformed, number)
	}
	t := doctype.Invoice
	if m[1] == doctype.Quote.Prefix() {
		t = doctype.Quote
	}
	return Parsed{Type: t, Year: year, Month: time.Month(month), Sequence: seq}, nil
}

// IsCanonical reports whether number is a well-formed number for t.
func IsCanonical(t doctype.Type, number string) bool {
	p, err := Parse(number)
	return err == nil && p.Type == t
}

// IsCopy reports whether number was produced by CopyNumber.
func IsCopy(number string) bool {
	idx := strings.LastIndex(number, CopySuffix)
	if idx < 0 {
		return false
	}
	rest := number[idx+len(CopySuffix):]
	if rest == "" {
		return true
	}
	if !strings.HasPrefix(rest, "-") {
		return false
	}
	n, err := strconv.Atoi(rest[1:])
	return err == nil && n >= 2
}

// CopyNumber derives a number for a duplicate of source: source-COPY, then
// source-COPY-2, source-COPY-3 and so on until exists reports it unused.
func CopyNumber(ctx context.Context, source string, exists func(context.Context, string) (bool, error)) (string, error) {
	base := source + CopySuffix
	for i := 1; ; i++ {
		candidate := base
		if i > 1 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
}
