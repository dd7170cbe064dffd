package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/Wuchinator/beacon-analytics/internal/metrics"
	"go.uber.org/zap"
)

const (
	JobAggregation = "aggregation"
	JobRetention   = "retention"

	// aggregationLag keeps the still-filling hours out of the aggregates.
	aggregationLag = time.Hour
)

type Config struct {
	RawRetention        time.Duration
	AggregateRetention  time.Duration
	ActiveVisitorWindow time.Duration
	// Location defines calendar days for the daily aggregates.
	Location *time.Location
}

type Service struct {
	repo    Repository
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(repo Repository, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Service{
		repo:    repo,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Aggregate runs one aggregation cycle at the current time.
func (s *Service) Aggregate(ctx context.Context) (*CycleResult, error) {
	return s.AggregateAt(ctx, s.now())
}

// AggregateAt compacts raw events into hourly and daily aggregates and purges
// expired raw rows, all against the single instant now.
//
// Hours in [ceil(purgeBefore), cutoff) are recomputed from raw data on every
// cycle, so late events within the raw retention window are still counted.
// Raw rows older than now-1h-retention are deleted. An hour that is only partly
// purged sits below the selection window and keeps the value computed while it
// was complete.
func (s *Service) AggregateAt(ctx context.Context, now time.Time) (*CycleResult, error) {
	start := time.Now()

	cutoff := now.Add(-aggregationLag).Truncate(time.Hour)
	purgeBefore := now.Add(-aggregationLag - s.cfg.RawRetention)
	selectFrom := ceilHour(purgeBefore)

	result := &CycleResult{Cutoff: cutoff, PurgeBefore: purgeBefore}

	err := s.repo.WithTx(ctx, func(repo Repository) error {
		stats, err := repo.HourlyFromRaw(ctx, selectFrom.UnixMilli(), cutoff.UnixMilli())
		if err != nil {
			return err
		}

		for _, stat := range stats {
			if err := repo.UpsertHourly(ctx, stat); err != nil {
				return err
			}
		}
		result.Buckets = len(stats)

		days := s.touchedDays(stats, cutoff)
		for _, day := range days {
			if err := repo.UpsertDaily(ctx, day); err != nil {
				return err
			}
		}
		result.Days = len(days)

		result.RawPurged, err = repo.PurgeRawBefore(ctx, purgeBefore.UnixMilli())
		if err != nil {
			return err
		}

		result.VisitorsPurged, err = repo.PurgeActiveVisitors(ctx, now.Add(-s.cfg.ActiveVisitorWindow).Unix())
		return err
	})

	s.metrics.ObserveCycle(JobAggregation, time.Since(start), err)
	if err != nil {
		s.logger.Error("Aggregation cycle failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return nil, fmt.Errorf("aggregation cycle: %w", err)
	}

	s.metrics.BucketsWritten(result.Buckets)
	s.metrics.RowsPurged("events", result.RawPurged)
	s.metrics.RowsPurged("active_visitors", result.VisitorsPurged)

	s.logger.Info("Aggregation cycle completed",
		zap.Time("cutoff", cutoff),
		zap.Time("purge_before", purgeBefore),
		zap.Int("buckets", result.Buckets),
		zap.Int("days", result.Days),
		zap.Int64("raw_purged", result.RawPurged),
		zap.Int64("visitors_purged", result.VisitorsPurged),
	)
	return result, nil
}

// touchedDays returns the calendar days covered by stats in ascending order.
func (s *Service) touchedDays(stats []HourlyStat, cutoff time.Time) []DayWindow {
	seen := make(map[string]bool)
	var days []DayWindow

	for _, stat := range stats {
		t := time.UnixMilli(stat.HourTS).In(s.cfg.Location)
		dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.cfg.Location)

		key := dayStart.Format(time.DateOnly)
		if seen[key] {
			continue
		}
		seen[key] = true

		dayEnd := dayStart.AddDate(0, 0, 1)
		days = append(days, DayWindow{
			Day:       dayStart,
			Start:     dayStart.UnixMilli(),
			End:       dayEnd.UnixMilli(),
			RawBefore: min(dayEnd.UnixMilli(), cutoff.UnixMilli()),
		})
	}
	return days
}

// Retention deletes aggregates older than the aggregate retention window.
func (s *Service) Retention(ctx context.Context) (*RetentionResult, error) {
	return s.RetentionAt(ctx, s.now())
}

func (s *Service) RetentionAt(ctx context.Context, now time.Time) (*RetentionResult, error) {
	start := time.Now()

	before := now.Add(-s.cfg.AggregateRetention)
	result := &RetentionResult{HourlyBefore: before}

	err := s.repo.WithTx(ctx, func(repo Repository) error {
		var err error
		result.HourlyPurged, err = repo.PurgeHourlyBefore(ctx, before.UnixMilli())
		if err != nil {
			return err
		}
		result.DailyPurged, err = repo.PurgeDailyBefore(ctx, before.In(s.cfg.Location))
		return err
	})

	s.metrics.ObserveCycle(JobRetention, time.Since(start), err)
	if err != nil {
		s.logger.Error("Retention sweep failed", zap.Error(err))
		return nil, fmt.Errorf("retention sweep: %w", err)
	}

	s.metrics.RowsPurged("hourly_stats", result.HourlyPurged)
	s.metrics.RowsPurged("daily_stats", result.DailyPurged)

	s.logger.Info("Retention sweep completed",
		zap.Time("before", before),
		zap.Int64("hourly_purged", result.HourlyPurged),
		zap.Int64("daily_purged", result.DailyPurged),
	)
	return result, nil
}

func ceilHour(t time.Time) time.Time {
	truncated := t.Truncate(time.Hour)
	if truncated.Equal(t) {
		return t
	}
	return truncated.Add(time.Hour)
}
