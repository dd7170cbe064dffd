package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Wuchinator/beacon-analytics/internal/event"
	"github.com/Wuchinator/beacon-analytics/pkg/postgres"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repository is the read side of the storage layer.
type Repository interface {
	CountActiveVisitors(ctx context.Context, since time.Time) (int64, error)
	PageViewTotals(ctx context.Context, r TimeRange) (Totals, error)
	StoredTotals(ctx context.Context, from, before int64) (Totals, error)
	OldestEventTS(ctx context.Context) (int64, bool, error)
	TopPages(ctx context.Context, r TimeRange, limit int) ([]Ranked, error)
	TopReferrers(ctx context.Context, r TimeRange, limit int) ([]Ranked, error)
	TopCountries(ctx context.Context, r TimeRange, limit int) ([]Ranked, error)
	TopCampaigns(ctx context.Context, r TimeRange, limit int) ([]Ranked, error)
	TopEvents(ctx context.Context, r TimeRange, limit int) ([]Ranked, error)
	RawHourly(ctx context.Context, from, before int64) ([]HourRow, error)
	StoredHourly(ctx context.Context, from, before int64) ([]HourRow, error)
	StoredDaily(ctx context.Context, from, to time.Time) ([]DayRow, error)
	ExportEvents(ctx context.Context, r TimeRange, limit int) ([]*event.Event, error)
}

type repository struct {
	db     *postgres.DB
	logger *zap.Logger
}

func NewRepository(db *postgres.DB, logger *zap.Logger) Repository {
	return &repository{
		db:     db,
		logger: logger,
	}
}

func (r *repository) CountActiveVisitors(ctx context.Context, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM active_visitors WHERE last_seen >= $1`

	var count int64
	if err := r.db.GetContext(ctx, &count, query, since.Unix()); err != nil {
		return 0, fmt.Errorf("failed to count active visitors: %w", err)
	}
	return count, nil
}

func (r *repository) PageViewTotals(ctx context.Context, tr TimeRange) (Totals, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE event_name = 'pageview') AS total,
			COUNT(DISTINCT fingerprint) AS unique_visitors
		FROM events
		WHERE ts >= $1 AND ts <= $2
	`

	var totals Totals
	if err := r.db.GetContext(ctx, &totals, query, tr.Start, tr.End); err != nil {
		return Totals{}, fmt.Errorf("failed to get page view totals: %w", err)
	}
	return totals, nil
}

// StoredTotals sums hourly aggregates with from <= hour_ts < before.
func (r *repository) StoredTotals(ctx context.Context, from, before int64) (Totals, error) {
	query := `
		SELECT
			COALESCE(SUM(page_views), 0) AS total,
			COALESCE(SUM(unique_visitors), 0) AS unique_visitors
		FROM hourly_stats
		WHERE hour_ts >= $1 AND hour_ts < $2
	`

	var totals Totals
	if err := r.db.GetContext(ctx, &totals, query, from, before); err != nil {
		return Totals{}, fmt.Errorf("failed to get stored totals: %w", err)
	}
	return totals, nil
}

// OldestEventTS returns the timestamp of the oldest raw event still stored.
func (r *repository) OldestEventTS(ctx context.Context) (int64, bool, error) {
	var oldest sql.NullInt64
	if err := r.db.GetContext(ctx, &oldest, `SELECT MIN(ts) FROM events`); err != nil {
		return 0, false, fmt.Errorf("failed to get oldest event: %w", err)
	}
	return oldest.Int64, oldest.Valid, nil
}

type topQuery struct {
	column        string
	pageviewsOnly bool
	customOnly    bool
}

var (
	topPages     = topQuery{column: "page_path", pageviewsOnly: true}
	topReferrers = topQuery{column: "referrer", pageviewsOnly: true}
	topCountries = topQuery{column: "country", pageviewsOnly: true}
	topCampaigns = topQuery{column: "utm_campaign"}
	topEvents    = topQuery{column: "event_name", customOnly: true}
)

// sql builds the grouped count. column comes from the fixed set above, never from input.
// Ties are broken by name so the same data always yields the same order.
func (q topQuery) sql() string {
	filter := ""
	switch {
	case q.pageviewsOnly:
		filter = " AND event_name = 'pageview'"
	case q.customOnly:
		filter = " AND event_name <> 'pageview'"
	}
	return fmt.Sprintf(`
		SELECT %[1]s AS name, COUNT(*) AS views, COUNT(DISTINCT fingerprint) AS visitors
		FROM events
		WHERE ts >= $1 AND ts <= $2 AND %[1]s IS NOT NULL%[2]s
		GROUP BY %[1]s
		ORDER BY views DESC, name ASC
		LIMIT $3
	`, q.column, filter)
}

func (r *repository) top(ctx context.Context, q topQuery, tr TimeRange, limit int) ([]Ranked, error) {
	rows := []Ranked{}
	if err := r.db.SelectContext(ctx, &rows, q.sql(), tr.Start, tr.End, limit); err != nil {
		r.logger.Error("Failed to get top list",
			zap.String("column", q.column),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to get top %s: %w", q.column, err)
	}
	return rows, nil
}

func (r *repository) TopPages(ctx context.Context, tr TimeRange, limit int) ([]Ranked, error) {
	return r.top(ctx, topPages, tr, limit)
}

func (r *repository) TopReferrers(ctx context.Context, tr TimeRange, limit int) ([]Ranked, error) {
	return r.top(ctx, topReferrers, tr, limit)
}

func (r *repository) TopCountries(ctx context.Context, tr TimeRange, limit int) ([]Ranked, error) {
	return r.top(ctx, topCountries, tr, limit)
}

func (r *repository) TopCampaigns(ctx context.Context, tr TimeRange, limit int) ([]Ranked, error) {
	return r.top(ctx, topCampaigns, tr, limit)
}

func (r *repository) TopEvents(ctx context.Context, tr TimeRange, limit int) ([]Ranked, error) {
	return r.top(ctx, topEvents, tr, limit)
}

// RawHourly groups raw events into UTC hour buckets with from <= ts < before.
func (r *repository) RawHourly(ctx context.Context, from, before int64) ([]HourRow, error) {
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

	rows := []HourRow{}
	if err := r.db.SelectContext(ctx, &rows, query, from, before); err != nil {
		return nil, fmt.Errorf("failed to get raw hourly counts: %w", err)
	}
	return rows, nil
}

func (r *repository) StoredHourly(ctx context.Context, from, before int64) ([]HourRow, error) {
	query := `
		SELECT hour_ts, page_views, unique_visitors
		FROM hourly_stats
		WHERE hour_ts >= $1 AND hour_ts < $2
		ORDER BY hour_ts
	`

	rows := []HourRow{}
	if err := r.db.SelectContext(ctx, &rows, query, from, before); err != nil {
		return nil, fmt.Errorf("failed to get hourly stats: %w", err)
	}
	return rows, nil
}

// StoredDaily returns daily aggregates for the calendar dates of from..to inclusive.
func (r *repository) StoredDaily(ctx context.Context, from, to time.Time) ([]DayRow, error) {
	query := `
		SELECT day, page_views, unique_visitors
		FROM daily_stats
		WHERE day >= $1::date AND day <= $2::date
		ORDER BY day
	`

	rows := []DayRow{}
	err := r.db.SelectContext(ctx, &rows, query, from.Format(time.DateOnly), to.Format(time.DateOnly))
	if err != nil {
		return nil, fmt.Errorf("failed to get daily stats: %w", err)
	}
	return rows, nil
}

type eventRow struct {
	ID              uuid.UUID      `db:"id"`
	Timestamp       int64          `db:"ts"`
	PagePath        string         `db:"page_path"`
	Referrer        *string        `db:"referrer"`
	Fingerprint     string         `db:"fingerprint"`
	Country         *string        `db:"country"`
	ScreenSize      *string        `db:"screen_size"`
	Timezone        *string        `db:"timezone"`
	EventName       string         `db:"event_name"`
	Props           sql.NullString `db:"event_props"`
	CampaignSource  *string        `db:"utm_source"`
	CampaignMedium  *string        `db:"utm_medium"`
	CampaignName    *string        `db:"utm_campaign"`
	CampaignTerm    *string        `db:"utm_term"`
	CampaignContent *string        `db:"utm_content"`
	CreatedAt       time.Time      `db:"created_at"`
}

func (row *eventRow) toEvent() *event.Event {
	e := &event.Event{
		ID:              row.ID,
		Timestamp:       row.Timestamp,
		PagePath:        row.PagePath,
		Referrer:        row.Referrer,
		Fingerprint:     row.Fingerprint,
		Country:         row.Country,
		ScreenSize:      row.ScreenSize,
		Timezone:        row.Timezone,
		EventName:       row.EventName,
		CampaignSource:  row.CampaignSource,
		CampaignMedium:  row.CampaignMedium,
		CampaignName:    row.CampaignName,
		CampaignTerm:    row.CampaignTerm,
		CampaignContent: row.CampaignContent,
		CreatedAt:       row.CreatedAt,
	}
	if row.Props.Valid {
		e.Props = json.RawMessage(row.Props.String)
	}
	return e
}

func (r *repository) ExportEvents(ctx context.Context, tr TimeRange, limit int) ([]*event.Event, error) {
	query := `
		SELECT id, ts, page_path, referrer, fingerprint, country, screen_size, timezone,
			event_name, event_props, utm_source, utm_medium, utm_campaign, utm_term, utm_content,
			created_at
		FROM events
		WHERE ts >= $1 AND ts <= $2
		ORDER BY ts, id
		LIMIT $3
	`

	var rows []*eventRow
	if err := r.db.SelectContext(ctx, &rows, query, tr.Start, tr.End, limit); err != nil {
		return nil, fmt.Errorf("failed to export events: %w", err)
	}

	events := make([]*event.Event, len(rows))
	for i, row := range rows {
		events[i] = row.toEvent()
	}
	return events, nil
}
