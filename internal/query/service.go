package query

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Wuchinator/beacon-analytics/internal/event"
	"go.uber.org/zap"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
	// MaxExportRows bounds a single raw export.
	MaxExportRows = 50000
)

type Service struct {
	repo         Repository
	loc          *time.Location
	activeWindow time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

func NewService(repo Repository, loc *time.Location, activeWindow time.Duration, logger *zap.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		repo:         repo,
		loc:          loc,
		activeWindow: activeWindow,
		logger:       logger,
		now:          time.Now,
	}
}

// Location is the calendar used for day boundaries.
func (s *Service) Location() *time.Location {
	return s.loc
}

func (s *Service) Realtime(ctx context.Context) (*Realtime, error) {
	count, err := s.repo.CountActiveVisitors(ctx, s.now().Add(-s.activeWindow))
	if err != nil {
		s.logger.Error("Failed to count active visitors", zap.Error(err))
		return nil, fmt.Errorf("failed to count active visitors: %w", err)
	}
	return &Realtime{
		ActiveVisitors: count,
		WindowSeconds:  int64(s.activeWindow / time.Second),
	}, nil
}

// PageViewTotals counts page views and distinct visitors in r. Hours whose raw
// events were already purged are filled from the hourly aggregates.
func (s *Service) PageViewTotals(ctx context.Context, r TimeRange) (Totals, error) {
	if !r.Valid() {
		return Totals{}, ErrInvalidRange
	}

	totals, err := s.repo.PageViewTotals(ctx, r)
	if err != nil {
		s.logger.Error("Failed to get page view totals", zap.Error(err))
		return Totals{}, err
	}

	boundary, err := s.rawCoverageStart(ctx, r)
	if err != nil {
		return Totals{}, err
	}
	if before := min(boundary, r.End+1); r.Start < before {
		stored, err := s.repo.StoredTotals(ctx, r.Start, before)
		if err != nil {
			s.logger.Error("Failed to get stored totals", zap.Error(err))
			return Totals{}, err
		}
		totals.Total += stored.Total
		totals.UniqueVisitors += stored.UniqueVisitors
	}
	return totals, nil
}

// rawCoverageStart is the first hour still fully covered by raw events, or just
// past r when no raw events remain.
func (s *Service) rawCoverageStart(ctx context.Context, r TimeRange) (int64, error) {
	oldest, ok, err := s.repo.OldestEventTS(ctx)
	if err != nil {
		s.logger.Error("Failed to get oldest event", zap.Error(err))
		return 0, err
	}
	if !ok {
		return r.End + 1, nil
	}
	return truncHourMillis(oldest), nil
}

// PeriodComparison returns totals for r, for the preceding window of equal length,
// and the percent change between them.
func (s *Service) PeriodComparison(ctx context.Context, r TimeRange) (*Comparison, error) {
	current, err := s.PageViewTotals(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("failed to get current period: %w", err)
	}

	prevRange := r.Previous()
	var previous Totals
	if prevRange.Valid() {
		previous, err = s.PageViewTotals(ctx, prevRange)
		if err != nil {
			return nil, fmt.Errorf("failed to get previous period: %w", err)
		}
	}

	return &Comparison{
		Current:  current,
		Previous: previous,
		Change: Change{
			Total:          PercentChange(current.Total, previous.Total),
			UniqueVisitors: PercentChange(current.UniqueVisitors, previous.UniqueVisitors),
		},
		Range: r,
	}, nil
}

// PercentChange is rounded to one decimal. A zero previous value yields 100 when
// current is positive and 0 otherwise.
func PercentChange(current, previous int64) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	change := float64(current-previous) / float64(previous) * 100
	return math.Round(change*10) / 10
}

type TopKind string

const (
	TopKindPages     TopKind = "pages"
	TopKindReferrers TopKind = "referrers"
	TopKindCountries TopKind = "countries"
	TopKindCampaigns TopKind = "campaigns"
	TopKindEvents    TopKind = "events"
)

func (s *Service) Top(ctx context.Context, kind TopKind, r TimeRange, limit int) ([]Ranked, error) {
	if !r.Valid() {
		return nil, ErrInvalidRange
	}
	limit = clampLimit(limit)

	var fetch func(context.Context, TimeRange, int) ([]Ranked, error)
	switch kind {
	case TopKindPages:
		fetch = s.repo.TopPages
	case TopKindReferrers:
		fetch = s.repo.TopReferrers
	case TopKindCountries:
		fetch = s.repo.TopCountries
	case TopKindCampaigns:
		fetch = s.repo.TopCampaigns
	case TopKindEvents:
		fetch = s.repo.TopEvents
	default:
		return nil, fmt.Errorf("unknown breakdown %q", kind)
	}

	rows, err := fetch(ctx, r, limit)
	if err != nil {
		s.logger.Error("Failed to get top list", zap.String("kind", string(kind)), zap.Error(err))
		return nil, err
	}
	return rows, nil
}

// HourlyBreakdown returns 24 buckets for the calendar day containing date.
// Hours without data report zero.
func (s *Service) HourlyBreakdown(ctx context.Context, date time.Time) ([]HourBucket, error) {
	d := date.In(s.loc)
	dayStart := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, s.loc)

	from := dayStart.UnixMilli()
	before := dayStart.Add(24 * time.Hour).UnixMilli()

	merged, err := s.mergedHours(ctx, from, before)
	if err != nil {
		return nil, err
	}

	buckets := make([]HourBucket, 24)
	for i := range buckets {
		buckets[i] = HourBucket{
			Hour:      i,
			Timestamp: dayStart.Add(time.Duration(i) * time.Hour).UnixMilli(),
		}
	}

	// Rows are keyed by UTC hour; zones with a fractional offset shift them
	// into the local hour that contains their start.
	for _, row := range merged {
		idx := localHourIndex(dayStart, row.HourTS)
		buckets[idx].PageViews += row.PageViews
		buckets[idx].UniqueVisitors += row.UniqueVisitors
	}
	return buckets, nil
}

func localHourIndex(dayStart time.Time, hourTS int64) int {
	idx := int(time.UnixMilli(hourTS).Sub(dayStart) / time.Hour)
	if idx < 0 {
		return 0
	}
	if idx > 23 {
		return 23
	}
	return idx
}

// mergedHours combines raw and aggregated hour rows keyed by hour start. Raw rows win.
func (s *Service) mergedHours(ctx context.Context, from, before int64) (map[int64]HourRow, error) {
	stored, err := s.repo.StoredHourly(ctx, from, before)
	if err != nil {
		s.logger.Error("Failed to get hourly stats", zap.Error(err))
		return nil, err
	}
	raw, err := s.repo.RawHourly(ctx, from, before)
	if err != nil {
		s.logger.Error("Failed to get raw hourly counts", zap.Error(err))
		return nil, err
	}

	merged := make(map[int64]HourRow, len(stored)+len(raw))
	for _, row := range stored {
		merged[row.HourTS] = row
	}
	for _, row := range raw {
		merged[row.HourTS] = row
	}
	return merged, nil
}

// Series returns page views over r at hour or day granularity. Day points take
// page views from the merged hours and visitors from the daily aggregate, falling
// back to the busiest hour for days that have not been aggregated yet.
func (s *Service) Series(ctx context.Context, r TimeRange, granularity Granularity) ([]SeriesPoint, error) {
	if !r.Valid() {
		return nil, ErrInvalidRange
	}

	from := truncHourMillis(r.Start)
	merged, err := s.mergedHours(ctx, from, r.End+1)
	if err != nil {
		return nil, err
	}

	switch granularity {
	case GranularityHour:
		points := make([]SeriesPoint, 0, len(merged))
		for ts, row := range merged {
			points = append(points, SeriesPoint{Timestamp: ts, PageViews: row.PageViews, UniqueVisitors: row.UniqueVisitors})
		}
		sortPoints(points)
		return points, nil
	case GranularityDay:
		return s.dailySeries(ctx, r, merged)
	default:
		return nil, ErrInvalidGranularity
	}
}

func (s *Service) dailySeries(ctx context.Context, r TimeRange, merged map[int64]HourRow) ([]SeriesPoint, error) {
	start := time.UnixMilli(r.Start).In(s.loc)
	end := time.UnixMilli(r.End).In(s.loc)

	stored, err := s.repo.StoredDaily(ctx, start, end)
	if err != nil {
		s.logger.Error("Failed to get daily stats", zap.Error(err))
		return nil, err
	}
	storedByDay := make(map[string]DayRow, len(stored))
	for _, row := range stored {
		storedByDay[row.Day.Format(time.DateOnly)] = row
	}

	byDay := make(map[int64]*SeriesPoint)
	for ts, row := range merged {
		t := time.UnixMilli(ts).In(s.loc)
		dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)
		key := dayStart.UnixMilli()

		p, ok := byDay[key]
		if !ok {
			p = &SeriesPoint{Timestamp: key}
			byDay[key] = p
		}
		p.PageViews += row.PageViews
		p.UniqueVisitors = max(p.UniqueVisitors, row.UniqueVisitors)
	}

	points := make([]SeriesPoint, 0, len(byDay))
	for key, p := range byDay {
		day := time.UnixMilli(key).In(s.loc).Format(time.DateOnly)
		if row, ok := storedByDay[day]; ok {
			p.UniqueVisitors = max(p.UniqueVisitors, row.UniqueVisitors)
		}
		points = append(points, *p)
	}
	sortPoints(points)
	return points, nil
}

func (s *Service) ExportEvents(ctx context.Context, r TimeRange) ([]*event.Event, error) {
	if !r.Valid() {
		return nil, ErrInvalidRange
	}
	events, err := s.repo.ExportEvents(ctx, r, MaxExportRows)
	if err != nil {
		s.logger.Error("Failed to export events", zap.Error(err))
		return nil, err
	}
	s.logger.Info("Events exported", zap.Int("count", len(events)))
	return events, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

func truncHourMillis(ms int64) int64 {
	const hour = int64(time.Hour / time.Millisecond)
	return ms - ms%hour
}

func sortPoints(points []SeriesPoint) {
	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp < points[j].Timestamp
	})
}
