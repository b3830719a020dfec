package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/invoicely/invoicely/internal/documents"
)

// NumberAuditor scans stored document numbers.
type NumberAuditor interface {
	AuditNumbers(ctx context.Context, since time.Time) (documents.AuditReport, error)
}

// AuditCLI runs the numbering integrity scan in the foreground.
type AuditCLI struct {
	auditor NumberAuditor
	now     func() time.Time
}

// NewAuditCLI wires the audit command.
func NewAuditCLI(auditor NumberAuditor) (*AuditCLI, error) {
	if auditor == nil {
		return nil, errors.New("audit cli: auditor required")
	}
	return &AuditCLI{auditor: auditor, now: time.Now}, nil
}

// AuditOptions defines available flags for the audit command.
type AuditOptions struct {
	LookbackDays int
	JSONOutput   bool
	Stdout       io.Writer
	Stderr       io.Writer
}

// AuditSummary describes the JSON response of the audit command.
type AuditSummary struct {
	OK     bool                  `json:"ok"`
	Since  string                `json:"since"`
	Report documents.AuditReport `json:"report"`
}

// AuditCommand scans numbers and prints the outcome. It exits 10 when
// findings were reported.
func (c *AuditCLI) AuditCommand(ctx context.Context, opts AuditOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.LookbackDays <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "audit: --days must be positive")
		return 1
	}
	since := c.now().UTC().AddDate(0, 0, -opts.LookbackDays)
	report, err := c.auditor.AuditNumbers(ctx, since)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "audit: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		summary := AuditSummary{OK: report.Findings() == 0, Since: since.Format(time.DateOnly), Report: report}
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "audit: encode json: %v\n", err)
			return 1
		}
	} else {
		renderAuditHuman(opts.Stdout, since, report)
	}
	if report.Findings() > 0 {
		return 10
	}
	return 0
}

func renderAuditHuman(out io.Writer, since time.Time, report documents.AuditReport) {
	_, _ = fmt.Fprintf(out, "Numbering audit since %s: %d number(s) scanned, %d copy number(s)\n",
		since.Format(time.DateOnly), report.Scanned, report.Copies)
	if report.Findings() == 0 {
		_, _ = fmt.Fprintln(out, "All document numbers follow the numbering scheme.")
		return
	}
	for _, rec := range report.NonCanonical {
		_, _ = fmt.Fprintf(out, " - %s %s (%s): not canonical\n", rec.Type, rec.Number, rec.Date.Format(time.DateOnly))
	}
	for _, rec := range report.PeriodMismatches {
		_, _ = fmt.Fprintf(out, " - %s %s (%s): period differs from issue date\n", rec.Type, rec.Number, rec.Date.Format(time.DateOnly))
	}
}
