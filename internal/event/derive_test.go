package event

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

func TestPagePath(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"https://ex.com/a", "/a"},
		{"https://ex.com/a/b?x=1#top", "/a/b"},
		{"https://ex.com", "/"},
		{"https://ex.com/", "/"},
		{"://bad", "/"},
	}
	for _, tc := range testCases {
		if got := PagePath(tc.in); got != tc.want {
			t.Errorf("PagePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestReferrerLabel(t *testing.T) {
	page := "https://ex.com/a"

	testCases := []struct {
		name string
		ref  string
		want string
	}{
		{"google", "https://www.google.com/search?q=x", "Google"},
		{"google country", "https://google.co.uk/", "Google"},
		{"twitter shortener", "https://t.co/abc", "Twitter"},
		{"x.com", "https://x.com/someone", "Twitter"},
		{"hacker news", "https://news.ycombinator.com/item?id=1", "Hacker News"},
		{"subdomain of known", "https://m.facebook.com/", "Facebook"},
		{"unknown host", "https://www.blog.example.org/post", "blog.example.org"},
		{"uppercase host", "https://Other.Example.NET/", "other.example.net"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := ReferrerLabel(tc.ref, page)
			if got == nil || *got != tc.want {
				t.Errorf("ReferrerLabel(%q) = %v, want %q", tc.ref, got, tc.want)
			}
		})
	}
}

func TestReferrerLabel_Direct(t *testing.T) {
	for _, ref := range []string{"", "not a url", "https://ex.com/other", "https://EX.com/"} {
		if got := ReferrerLabel(ref, "https://ex.com/a"); got != nil {
			t.Errorf("ReferrerLabel(%q) = %q, want nil", ref, *got)
		}
	}
}

func TestCountryFromHeaders(t *testing.T) {
	names := []string{"CF-IPCountry", "X-Country-Code"}

	testCases := []struct {
		name    string
		headers map[string]string
		want    *string
	}{
		{"none", nil, nil},
		{"code upper-cased", map[string]string{"CF-IPCountry": "de"}, strPtr("DE")},
		{"unknown skipped", map[string]string{"CF-IPCountry": "XX", "X-Country-Code": "FR"}, strPtr("FR")},
		{"tor", map[string]string{"CF-IPCountry": "T1"}, strPtr("Tor")},
		{"label kept", map[string]string{"X-Country-Code": "United Kingdom"}, strPtr("United Kingdom")},
		{"untrusted header ignored", map[string]string{"X-Geo": "US"}, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tc.headers {
				h.Set(k, v)
			}
			got := CountryFromHeaders(h, names)
			switch {
			case tc.want == nil && got != nil:
				t.Errorf("got %q, want nil", *got)
			case tc.want != nil && (got == nil || *got != *tc.want):
				t.Errorf("got %v, want %q", got, *tc.want)
			}
		})
	}
}

func TestBuildEvent(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	country := "DE"

	payload := map[string]any{
		"url":        "https://ex.com/pricing?plan=pro",
		"sid":        "s1",
		"ref":        "https://www.google.com/",
		"scr":        "1920x1080",
		"tz":         "Europe/Berlin",
		"ts":         float64(now.Add(-time.Minute).UnixMilli()),
		"evt":        "signup",
		"props":      map[string]any{"plan": "pro\x00"},
		"utm_source": "news\x07letter",
	}

	e := BuildEvent(payload, "0123456789abcdef", &country, now, 24*time.Hour)

	if e.PagePath != "/pricing" {
		t.Errorf("PagePath = %q", e.PagePath)
	}
	if e.Referrer == nil || *e.Referrer != "Google" {
		t.Errorf("Referrer = %v", e.Referrer)
	}
	if e.Timestamp != now.Add(-time.Minute).UnixMilli() {
		t.Errorf("Timestamp = %d", e.Timestamp)
	}
	if e.EventName != "signup" || e.IsPageview() {
		t.Errorf("EventName = %q", e.EventName)
	}
	if e.CampaignSource == nil || *e.CampaignSource != "newsletter" {
		t.Errorf("CampaignSource = %v", e.CampaignSource)
	}
	if e.Fingerprint != "0123456789abcdef" || e.Country != &country {
		t.Errorf("identity fields not carried over: %+v", e)
	}

	var props map[string]string
	if err := json.Unmarshal(e.Props, &props); err != nil {
		t.Fatalf("props: %v", err)
	}
	if props["plan"] != "pro" {
		t.Errorf("props = %v, want sanitized plan", props)
	}
}

func TestBuildEvent_Defaults(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	e := BuildEvent(map[string]any{"url": "https://ex.com/a", "sid": "s1", "props": map[string]any{"x": 1.0}}, "fp", nil, now, 24*time.Hour)

	if e.Timestamp != now.UnixMilli() {
		t.Errorf("Timestamp = %d, want server time", e.Timestamp)
	}
	if !e.IsPageview() {
		t.Errorf("EventName = %q, want pageview", e.EventName)
	}
	if e.Props != nil {
		t.Errorf("pageviews should not carry props, got %s", e.Props)
	}
	if e.Referrer != nil || e.ScreenSize != nil || e.CampaignSource != nil {
		t.Error("absent optional fields should stay nil")
	}
	if e.propsArg() != nil {
		t.Error("empty props should be stored as NULL")
	}
}

func TestBuildEvent_ClampsTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	maxAge := 24 * time.Hour

	old := BuildEvent(map[string]any{"url": "https://ex.com", "sid": "s", "ts": float64(now.Add(-72 * time.Hour).UnixMilli())}, "fp", nil, now, maxAge)
	if want := now.Add(-maxAge).UnixMilli(); old.Timestamp != want {
		t.Errorf("old ts = %d, want %d", old.Timestamp, want)
	}

	future := BuildEvent(map[string]any{"url": "https://ex.com", "sid": "s", "ts": json.Number("9999999999999")}, "fp", nil, now, maxAge)
	if future.Timestamp != now.UnixMilli() {
		t.Errorf("future ts = %d, want %d", future.Timestamp, now.UnixMilli())
	}
}
