package query

import (
	"time"
)

// TimeRange is an inclusive window in epoch milliseconds.
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func NewTimeRange(start, end time.Time) TimeRange {
	return TimeRange{Start: start.UnixMilli(), End: end.UnixMilli()}
}

func (r TimeRange) Valid() bool {
	return r.Start >= 0 && r.Start <= r.End
}

// Previous returns the window of identical length ending just before r.
func (r TimeRange) Previous() TimeRange {
	length := r.End - r.Start
	return TimeRange{Start: r.Start - length - 1, End: r.Start - 1}
}

type Totals struct {
	Total          int64 `db:"total" json:"total"`
	UniqueVisitors int64 `db:"unique_visitors" json:"unique_visitors"`
}

type Change struct {
	Total          float64 `json:"total"`
	UniqueVisitors float64 `json:"unique_visitors"`
}

type Comparison struct {
	Current  Totals    `json:"current"`
	Previous Totals    `json:"previous"`
	Change   Change    `json:"change"`
	Range    TimeRange `json:"range"`
}

// Ranked is one row of a top-N breakdown.
type Ranked struct {
	Name     string `db:"name" json:"name"`
	Views    int64  `db:"views" json:"views"`
	Visitors int64  `db:"visitors" json:"visitors"`
}

// HourRow is one hour of counts keyed by the hour's start in epoch milliseconds.
type HourRow struct {
	HourTS         int64 `db:"hour_ts" json:"hour_ts"`
	PageViews      int64 `db:"page_views" json:"page_views"`
	UniqueVisitors int64 `db:"unique_visitors" json:"unique_visitors"`
}

type DayRow struct {
	Day            time.Time `db:"day" json:"day"`
	PageViews      int64     `db:"page_views" json:"page_views"`
	UniqueVisitors int64     `db:"unique_visitors" json:"unique_visitors"`
}

type HourBucket struct {
	Hour           int   `json:"hour"`
	Timestamp      int64 `json:"timestamp"`
	PageViews      int64 `json:"page_views"`
	UniqueVisitors int64 `json:"unique_visitors"`
}

type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
)

type SeriesPoint struct {
	Timestamp      int64 `json:"timestamp"`
	PageViews      int64 `json:"page_views"`
	UniqueVisitors int64 `json:"unique_visitors"`
}

type Realtime struct {
	ActiveVisitors int64 `json:"active_visitors"`
	WindowSeconds  int64 `json:"window_seconds"`
}
