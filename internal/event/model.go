package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PageviewEventName is the event_name of plain page views; anything else is a custom event.
const PageviewEventName = "pageview"

// Event is a single raw beacon as persisted. It is never updated after insert.
type Event struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	Timestamp       int64           `db:"ts" json:"timestamp"`
	PagePath        string          `db:"page_path" json:"page_path"`
	Referrer        *string         `db:"referrer" json:"referrer,omitempty"`
	Fingerprint     string          `db:"fingerprint" json:"visitor_fingerprint"`
	Country         *string         `db:"country" json:"country,omitempty"`
	ScreenSize      *string         `db:"screen_size" json:"screen_size,omitempty"`
	Timezone        *string         `db:"timezone" json:"timezone,omitempty"`
	EventName       string          `db:"event_name" json:"event_name"`
	Props           json.RawMessage `db:"event_props" json:"event_properties,omitempty"`
	CampaignSource  *string         `db:"utm_source" json:"campaign_source,omitempty"`
	CampaignMedium  *string         `db:"utm_medium" json:"campaign_medium,omitempty"`
	CampaignName    *string         `db:"utm_campaign" json:"campaign_name,omitempty"`
	CampaignTerm    *string         `db:"utm_term" json:"campaign_term,omitempty"`
	CampaignContent *string         `db:"utm_content" json:"campaign_content,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// IsPageview reports whether the event counts as a page view.
func (e *Event) IsPageview() bool {
	return e.EventName == PageviewEventName
}

// propsArg returns the event_props column value; empty props are stored as NULL.
func (e *Event) propsArg() any {
	if len(e.Props) == 0 {
		return nil
	}
	return string(e.Props)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ActiveVisitor is the real-time row kept per fingerprint.
type ActiveVisitor struct {
	Fingerprint string  `db:"fingerprint" json:"fingerprint"`
	LastPage    string  `db:"last_page" json:"last_page"`
	Country     *string `db:"country" json:"country,omitempty"`
	LastSeen    int64   `db:"last_seen" json:"last_seen"`
	PageCount   int64   `db:"page_count" json:"page_count"`
}
