package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/invoicely/invoicely/internal/documents"
	"github.com/invoicely/invoicely/internal/documents/doctype"
	"github.com/invoicely/invoicely/internal/documents/status"
	"github.com/invoicely/invoicely/internal/shared"
	"github.com/invoicely/invoicely/internal/views"
)

const (
	// ChartMonths is the length of the revenue chart.
	ChartMonths = 12
	// TopClientLimit bounds the client ranking.
	TopClientLimit = 5
	// ActivityLimit is the default size of the activity listing.
	ActivityLimit = 20
)

// ActivityFeed returns a tenant's most recent document events.
type ActivityFeed interface {
	Recent(ctx context.Context, userID uuid.UUID, n int) ([]documents.Event, error)
}

// Service assembles the dashboard from aggregate queries, caching each part
// in its own view collection.
type Service struct {
	repo   Repository
	stats  views.Scoped
	charts views.Scoped
	feed   ActivityFeed
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time
}

// NewService wires the repository with the views cache. cache may be nil.
func NewService(repo Repository, cache *views.Cache, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		stats:  views.Scope(cache, views.CollectionStats),
		charts: views.Scope(cache, views.CollectionCharts),
		feed:   cache,
		logger: logger,
		now:    time.Now,
	}
}

// Overview returns the dashboard of the authenticated user.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	userID, err := shared.RequireUserID(ctx)
	if err != nil {
		return Overview{}, err
	}

	var out Overview
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stats, err := s.Stats(gctx, userID)
		out.Stats = stats
		return err
	})
	g.Go(func() error {
		charts, err := s.Charts(gctx, userID)
		out.Charts = charts
		return err
	})
	g.Go(func() error {
		events, err := s.recent(gctx, userID, ActivityLimit)
		out.Activity = events
		return err
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	return out, nil
}

// Activity returns up to limit recent events of the authenticated user.
func (s *Service) Activity(ctx context.Context, limit int) ([]documents.Event, error) {
	userID, err := shared.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = ActivityLimit
	}
	return s.recent(ctx, userID, limit)
}

func (s *Service) recent(ctx context.Context, userID uuid.UUID, n int) ([]documents.Event, error) {
	if s.feed == nil {
		return []documents.Event{}, nil
	}
	events, err := s.feed.Recent(ctx, userID, n)
	if err != nil {
		return nil, fmt.Errorf("dashboard: activity: %w", err)
	}
	return events, nil
}

// Stats returns the tenant's headline figures for the current month.
func (s *Service) Stats(ctx context.Context, userID uuid.UUID) (Stats, error) {
	now := s.now().UTC()
	var stats Stats
	key := "summary:" + now.Format(time.DateOnly)
	err := s.stats.FetchJSON(ctx, userID, key, &stats, func(ctx context.Context) (any, error) {
		return s.shared(ctx, "stats:"+userID.String(), func(ctx context.Context) (any, error) {
			return s.buildStats(ctx, userID, now)
		})
	})
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// Charts returns the tenant's monthly series and client ranking.
func (s *Service) Charts(ctx context.Context, userID uuid.UUID) (Charts, error) {
	now := s.now().UTC()
	var charts Charts
	key := "monthly:" + now.Format("2006-01") + ":" + strconv.Itoa(ChartMonths)
	err := s.charts.FetchJSON(ctx, userID, key, &charts, func(ctx context.Context) (any, error) {
		return s.shared(ctx, "charts:"+userID.String(), func(ctx context.Context) (any, error) {
			return s.buildCharts(ctx, userID, now)
		})
	})
	if err != nil {
		return Charts{}, err
	}
	return charts, nil
}

// Warm rebuilds and caches the stats and charts of userID.
func (s *Service) Warm(ctx context.Context, userID uuid.UUID) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.Stats(gctx, userID)
		return err
	})
	g.Go(func() error {
		_, err := s.Charts(gctx, userID)
		return err
	})
	return g.Wait()
}

// shared collapses concurrent builds of the same key into one.
func (s *Service) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	resultChan := s.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		return res.Val, res.Err
	}
}

func (s *Service) buildStats(ctx context.Context, userID uuid.UUID, now time.Time) (Stats, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var (
		breakdown []StatusCount
		overdue   OverdueTotals
		paid      decimal.Decimal
		clients   int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		breakdown, err = s.repo.StatusBreakdown(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		overdue, err = s.repo.Overdue(gctx, userID, today)
		return err
	})
	g.Go(func() (err error) {
		paid, err = s.repo.PaidBetween(gctx, userID, monthStart, monthStart.AddDate(0, 1, 0))
		return err
	})
	g.Go(func() (err error) {
		clients, err = s.repo.ClientCount(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, fmt.Errorf("dashboard: stats: %w", err)
	}

	stats := Stats{
		ClientCount:   clients,
		OverdueCount:  overdue.Count,
		OverdueAmount: overdue.Amount,
		PaidThisMonth: paid,
		Outstanding:   decimal.Zero,
		OpenQuotes:    decimal.Zero,
		QuoteWinRate:  decimal.Zero,
		ByStatus:      breakdown,
		GeneratedAt:   now,
	}
	if stats.ByStatus == nil {
		stats.ByStatus = []StatusCount{}
	}
	var accepted, decided int
	for _, sc := range breakdown {
		switch sc.Type {
		case doctype.Invoice:
			stats.InvoiceCount += sc.Count
			if sc.Status == status.Pending || sc.Status == status.Overdue {
				stats.Outstanding = stats.Outstanding.Add(sc.Amount)
			}
		case doctype.Quote:
			stats.QuoteCount += sc.Count
			switch sc.Status {
			case status.Pending:
				stats.OpenQuotes = stats.OpenQuotes.Add(sc.Amount)
			case status.Accepted:
				accepted += sc.Count
				decided += sc.Count
			case status.Rejected:
				decided += sc.Count
			}
		}
	}
	if decided > 0 {
		stats.QuoteWinRate = decimal.NewFromInt(int64(accepted)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(decided))).
			Round(1)
	}
	return stats, nil
}

func (s *Service) buildCharts(ctx context.Context, userID uuid.UUID, now time.Time) (Charts, error) {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(ChartMonths - 1), 0)

	var (
		points []MonthlyPoint
		top    []ClientTotal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		points, err = s.repo.Monthly(gctx, userID, first)
		return err
	})
	g.Go(func() (err error) {
		top, err = s.repo.TopClients(gctx, userID, TopClientLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return Charts{}, fmt.Errorf("dashboard: charts: %w", err)
	}

	for i := range top {
		if top[i].Name == "" {
			top[i].Name = documents.UnknownClient
		}
	}
	if top == nil {
		top = []ClientTotal{}
	}
	return Charts{Months: fillMonths(first, ChartMonths, points), TopClients: top}, nil
}

// fillMonths returns n consecutive months starting at first, taking values
// from points and zero elsewhere.
func fillMonths(first time.Time, n int, points []MonthlyPoint) []MonthlyPoint {
	byMonth := make(map[string]MonthlyPoint, len(points))
	for _, p := range points {
		byMonth[p.Month] = p
	}
	out := make([]MonthlyPoint, n)
	for i := 0; i < n; i++ {
		month := first.AddDate(0, i, 0).Format("2006-01")
		p, ok := byMonth[month]
		if !ok {
			p = MonthlyPoint{Month: month, Invoiced: decimal.Zero, Paid: decimal.Zero, Quoted: decimal.Zero}
		}
		out[i] = p
	}
	return out
}
