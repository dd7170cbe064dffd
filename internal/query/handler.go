package query

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Wuchinator/beacon-analytics/internal/event"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// periods maps the dashboard period tokens to window lengths.
var periods = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
}

const defaultPeriod = "24h"

type Handler struct {
	service *Service
	logger  *zap.Logger
	now     func() time.Time
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
		now:     time.Now,
	}
}

// RegisterRoutes mounts the stats and export endpoints behind the given middleware.
func (h *Handler) RegisterRoutes(r gin.IRouter, middleware ...gin.HandlerFunc) {
	stats := r.Group("/api/stats", middleware...)
	{
		stats.GET("/realtime", h.Realtime)
		stats.GET("/overview", h.Overview)
		stats.GET("/pages", h.top(TopKindPages))
		stats.GET("/referrers", h.top(TopKindReferrers))
		stats.GET("/countries", h.top(TopKindCountries))
		stats.GET("/campaigns", h.top(TopKindCampaigns))
		stats.GET("/events", h.top(TopKindEvents))
		stats.GET("/hourly", h.Hourly)
		stats.GET("/series", h.Series)
	}

	export := r.Group("/api/export", middleware...)
	export.GET("/:dataset", h.Export)
}

// ParseWindow reads either an explicit start/end pair in epoch milliseconds or a
// period token ending at now.
func ParseWindow(period, start, end string, now time.Time) (TimeRange, error) {
	if start != "" || end != "" {
		s, err := strconv.ParseInt(start, 10, 64)
		if err != nil {
			return TimeRange{}, fmt.Errorf("%w: start must be epoch milliseconds", ErrInvalidRange)
		}
		e, err := strconv.ParseInt(end, 10, 64)
		if err != nil {
			return TimeRange{}, fmt.Errorf("%w: end must be epoch milliseconds", ErrInvalidRange)
		}
		r := TimeRange{Start: s, End: e}
		if !r.Valid() {
			return TimeRange{}, ErrInvalidRange
		}
		return r, nil
	}

	if period == "" {
		period = defaultPeriod
	}
	length, ok := periods[period]
	if !ok {
		return TimeRange{}, fmt.Errorf("%w %q", ErrInvalidPeriod, period)
	}
	return NewTimeRange(now.Add(-length), now), nil
}

func (h *Handler) window(c *gin.Context) (TimeRange, bool) {
	r, err := ParseWindow(c.Query("period"), c.Query("start"), c.Query("end"), h.now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return TimeRange{}, false
	}
	return r, true
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidRange), errors.Is(err, ErrInvalidPeriod), errors.Is(err, ErrInvalidGranularity):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Query failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func (h *Handler) Realtime(c *gin.Context) {
	rt, err := h.service.Realtime(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rt)
}

func (h *Handler) Overview(c *gin.Context) {
	r, ok := h.window(c)
	if !ok {
		return
	}
	cmp, err := h.service.PeriodComparison(c.Request.Context(), r)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cmp)
}

func (h *Handler) top(kind TopKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, ok := h.window(c)
		if !ok {
			return
		}
		limit, _ := strconv.Atoi(c.Query("limit"))

		rows, err := h.service.Top(c.Request.Context(), kind, r, limit)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"range": r, "items": rows})
	}
}

func (h *Handler) Hourly(c *gin.Context) {
	date := h.now()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, raw, h.service.Location())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		date = parsed
	}

	buckets, err := h.service.HourlyBreakdown(c.Request.Context(), date)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date.In(h.service.Location()).Format(time.DateOnly), "hours": buckets})
}

func (h *Handler) Series(c *gin.Context) {
	r, ok := h.window(c)
	if !ok {
		return
	}

	granularity := Granularity(c.Query("granularity"))
	if granularity == "" {
		granularity = GranularityHour
		if r.End-r.Start > (48 * time.Hour).Milliseconds() {
			granularity = GranularityDay
		}
	}

	points, err := h.service.Series(c.Request.Context(), r, granularity)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"range": r, "granularity": granularity, "points": points})
}

var exportKinds = map[string]TopKind{
	"pages":     TopKindPages,
	"referrers": TopKindReferrers,
	"countries": TopKindCountries,
	"campaigns": TopKindCampaigns,
}

// Export serves a dataset as a flat record list in JSON or CSV.
func (h *Handler) Export(c *gin.Context) {
	dataset := c.Param("dataset")
	format := c.DefaultQuery("format", "json")
	if format != "json" && format != "csv" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be json or csv"})
		return
	}

	r, ok := h.window(c)
	if !ok {
		return
	}

	var (
		header  []string
		records [][]string
		payload any
	)

	if dataset == "events" {
		events, err := h.service.ExportEvents(c.Request.Context(), r)
		if err != nil {
			h.fail(c, err)
			return
		}
		payload = events
		header = eventColumns
		for _, e := range events {
			records = append(records, eventRecord(e))
		}
	} else {
		kind, known := exportKinds[dataset]
		if !known {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown dataset %q", dataset)})
			return
		}
		rows, err := h.service.Top(c.Request.Context(), kind, r, MaxLimit)
		if err != nil {
			h.fail(c, err)
			return
		}
		payload = rows
		header = []string{"name", "views", "visitors"}
		for _, row := range rows {
			records = append(records, []string{
				row.Name,
				strconv.FormatInt(row.Views, 10),
				strconv.FormatInt(row.Visitors, 10),
			})
		}
	}

	if format == "json" {
		c.JSON(http.StatusOK, payload)
		return
	}

	filename := fmt.Sprintf("%s-%d-%d.csv", dataset, r.Start, r.End)
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	if err := w.Write(header); err != nil {
		h.logger.Error("Failed to write csv header", zap.Error(err))
		return
	}
	if err := w.WriteAll(records); err != nil {
		h.logger.Error("Failed to write csv export", zap.String("dataset", dataset), zap.Error(err))
	}
}

var eventColumns = []string{
	"id", "timestamp", "page_path", "referrer", "visitor_fingerprint", "country",
	"screen_size", "timezone", "event_name", "event_properties",
	"campaign_source", "campaign_medium", "campaign_name", "campaign_term", "campaign_content",
}

func eventRecord(e *event.Event) []string {
	return []string{
		e.ID.String(),
		strconv.FormatInt(e.Timestamp, 10),
		e.PagePath,
		deref(e.Referrer),
		e.Fingerprint,
		deref(e.Country),
		deref(e.ScreenSize),
		deref(e.Timezone),
		e.EventName,
		string(e.Props),
		deref(e.CampaignSource),
		deref(e.CampaignMedium),
		deref(e.CampaignName),
		deref(e.CampaignTerm),
		deref(e.CampaignContent),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
