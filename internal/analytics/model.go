package analytics

import (
	"time"
)

// HourlyStat is one hour bucket keyed by the hour's start in epoch milliseconds.
type HourlyStat struct {
	HourTS         int64 `db:"hour_ts" json:"hour_ts"`
	PageViews      int64 `db:"page_views" json:"page_views"`
	UniqueVisitors int64 `db:"unique_visitors" json:"unique_visitors"`
}

// DayWindow identifies a calendar day and the raw range it may be recomputed from.
type DayWindow struct {
	Day time.Time
	// Start and End bound the day in epoch milliseconds, End exclusive.
	Start int64
	End   int64
	// RawBefore caps the raw events counted for unique visitors.
	RawBefore int64
}

// CycleResult summarises one aggregation cycle.
type CycleResult struct {
	Cutoff         time.Time `json:"cutoff"`
	PurgeBefore    time.Time `json:"purge_before"`
	Buckets        int       `json:"buckets"`
	Days           int       `json:"days"`
	RawPurged      int64     `json:"raw_purged"`
	VisitorsPurged int64     `json:"visitors_purged"`
}

// RetentionResult summarises one aggregate retention sweep.
type RetentionResult struct {
	HourlyBefore time.Time `json:"hourly_before"`
	HourlyPurged int64     `json:"hourly_purged"`
	DailyPurged  int64     `json:"daily_purged"`
}
