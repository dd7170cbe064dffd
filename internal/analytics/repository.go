package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Wuchinator/beacon-analytics/pkg/postgres"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type Repository interface {
	// WithTx runs fn against a repository bound to one transaction.
	WithTx(ctx context.Context, fn func(Repository) error) error
	HourlyFromRaw(ctx context.Context, from, before int64) ([]HourlyStat, error)
	UpsertHourly(ctx context.Context, stat HourlyStat) error
	UpsertDaily(ctx context.Context, day DayWindow) error
	PurgeRawBefore(ctx context.Context, before int64) (int64, error)
	PurgeActiveVisitors(ctx context.Context, lastSeenBefore int64) (int64, error)
	PurgeHourlyBefore(ctx context.Context, before int64) (int64, error)
	PurgeDailyBefore(ctx context.Context, day time.Time) (int64, error)
}

type repository struct {
	db     *postgres.DB
	ext    sqlx.ExtContext
	logger *zap.Logger
}

// cycleTxOptions gives every statement of a cycle one snapshot, so the purge
// only removes rows the hourly select already counted.
var cycleTxOptions = &sql.TxOptions{Isolation: sql.LevelRepeatableRead}

func NewRepository(db *postgres.DB, logger *zap.Logger) Repository {
	return &repository{
		db:     db,
		ext:    db,
		logger: logger,
	}
}

func (r *repository) WithTx(ctx context.Context, fn func(Repository) error) error {
	if _, inTx := r.ext.(*sqlx.Tx); inTx {
		return fn(r)
	}

	tx, err := r.db.BeginTxx(ctx, cycleTxOptions)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	if err := fn(&repository{db: r.db, ext: tx, logger: r.logger}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *repository) HourlyFromRaw(ctx context.Context, from, before int64) ([]HourlyStat, error) {
	query := `
		SELECT
			(ts / 3600000) * 3600000 AS hour_ts,
			COUNT(*) FILTER (WHERE event_name = 'pageview') AS page_views,
			COUNT(DISTINCT fingerprint) AS unique_visitors
		FROM events
		WHERE ts >= $1 AND ts < $2
		GROUP BY 1
		ORDER BY 1
	`

	var stats []HourlyStat
	if err := sqlx.SelectContext(ctx, r.ext, &stats, query, from, before); err != nil {
		return nil, fmt.Errorf("failed to group raw events: %w", err)
	}
	return stats, nil
}

// UpsertHourly overwrites the bucket so re-aggregation never adds to it.
func (r *repository) UpsertHourly(ctx context.Context, stat HourlyStat) error {
	query := `
		INSERT INTO hourly_stats (hour_ts, page_views, unique_visitors, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (hour_ts) DO UPDATE SET
			page_views = EXCLUDED.page_views,
			unique_visitors = EXCLUDED.unique_visitors,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := r.ext.ExecContext(ctx, query, stat.HourTS, stat.PageViews, stat.UniqueVisitors); err != nil {
		r.logger.Error("Failed to upsert hourly stat", zap.Int64("hour_ts", stat.HourTS), zap.Error(err))
		return fmt.Errorf("failed to upsert hourly stat: %w", err)
	}
	return nil
}

// UpsertDaily recomputes a day from its hourly rows. Unique visitors come from the
// raw events still stored for that day and never decrease once the raw rows are purged.
func (r *repository) UpsertDaily(ctx context.Context, day DayWindow) error {
	query := `
		INSERT INTO daily_stats (day, page_views, unique_visitors, updated_at)
		SELECT
			$1::date,
			(SELECT COALESCE(SUM(page_views), 0) FROM hourly_stats WHERE hour_ts >= $2 AND hour_ts < $3),
			(SELECT COUNT(DISTINCT fingerprint) FROM events WHERE ts >= $2 AND ts < $4),
			NOW()
		ON CONFLICT (day) DO UPDATE SET
			page_views = EXCLUDED.page_views,
			unique_visitors = GREATEST(daily_stats.unique_visitors, EXCLUDED.unique_visitors),
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.ext.ExecContext(ctx, query, day.Day.Format(time.DateOnly), day.Start, day.End, day.RawBefore)
	if err != nil {
		return fmt.Errorf("failed to upsert daily stat: %w", err)
	}
	return nil
}

func (r *repository) PurgeRawBefore(ctx context.Context, before int64) (int64, error) {
	return r.deleteWhere(ctx, "events", `DELETE FROM events WHERE ts < $1`, before)
}

func (r *repository) PurgeActiveVisitors(ctx context.Context, lastSeenBefore int64) (int64, error) {
	return r.deleteWhere(ctx, "active_visitors", `DELETE FROM active_visitors WHERE last_seen < $1`, lastSeenBefore)
}

func (r *repository) PurgeHourlyBefore(ctx context.Context, before int64) (int64, error) {
	return r.deleteWhere(ctx, "hourly_stats", `DELETE FROM hourly_stats WHERE hour_ts < $1`, before)
}

func (r *repository) PurgeDailyBefore(ctx context.Context, day time.Time) (int64, error) {
	return r.deleteWhere(ctx, "daily_stats", `DELETE FROM daily_stats WHERE day < $1::date`, day.Format(time.DateOnly))
}

func (r *repository) deleteWhere(ctx context.Context, table, query string, arg any) (int64, error) {
	result, err := r.ext.ExecContext(ctx, query, arg)
	if err != nil {
		return 0, fmt.Errorf("failed to purge %s: %w", table, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Debug("Rows purged",
		zap.String("table", table),
		zap.Int64("rows", rowsAffected),
	)
	return rowsAffected, nil
}
