package event

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

type referrerSource struct {
	hosts []string
	// family matches any host with this second-level label, e.g. google.co.uk.
	family string
	label  string
}

var knownReferrers = []referrerSource{
	{family: "google", label: "Google"},
	{hosts: []string{"bing.com"}, label: "Bing"},
	{hosts: []string{"duckduckgo.com"}, label: "DuckDuckGo"},
	{hosts: []string{"yahoo.com"}, label: "Yahoo"},
	{family: "yandex", label: "Yandex"},
	{hosts: []string{"baidu.com"}, label: "Baidu"},
	{hosts: []string{"facebook.com", "fb.com"}, label: "Facebook"},
	{hosts: []string{"t.co", "twitter.com", "x.com"}, label: "Twitter"},
	{hosts: []string{"linkedin.com", "lnkd.in"}, label: "LinkedIn"},
	{hosts: []string{"reddit.com"}, label: "Reddit"},
	{hosts: []string{"youtube.com", "youtu.be"}, label: "YouTube"},
	{hosts: []string{"instagram.com"}, label: "Instagram"},
	{family: "pinterest", label: "Pinterest"},
	{hosts: []string{"github.com"}, label: "GitHub"},
	{hosts: []string{"news.ycombinator.com"}, label: "Hacker News"},
}

func (s referrerSource) matches(host string) bool {
	if s.family != "" && strings.Contains("."+host+".", "."+s.family+".") {
		return true
	}
	for _, h := range s.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// PagePath returns the path of a tracked URL without query or fragment.
func PagePath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return Sanitize(u.Path)
}

// ReferrerLabel normalises a referrer URL to a known source label or bare hostname.
// It returns nil for direct traffic: no referrer, an unparsable one, or a
// referrer on the same host as the tracked page.
func ReferrerLabel(ref, pageURL string) *string {
	if ref == "" {
		return nil
	}
	u, err := url.Parse(ref)
	if err != nil || u.Hostname() == "" {
		return nil
	}
	host := strings.ToLower(u.Hostname())

	if page, err := url.Parse(pageURL); err == nil && strings.EqualFold(page.Hostname(), host) {
		return nil
	}

	host = strings.TrimPrefix(host, "www.")
	for _, src := range knownReferrers {
		if src.matches(host) {
			label := src.label
			return &label
		}
	}
	host = Sanitize(host)
	return &host
}

// CountryFromHeaders reads the visitor country from the first trusted proxy
// header that carries a usable value. It never looks at the network address.
func CountryFromHeaders(h http.Header, names []string) *string {
	for _, name := range names {
		value := strings.TrimSpace(h.Get(name))
		switch {
		case value == "", strings.EqualFold(value, "XX"):
			continue
		case strings.EqualFold(value, "T1"):
			tor := "Tor"
			return &tor
		case len(value) == 2 && isLetters(value):
			code := strings.ToUpper(value)
			return &code
		case len(value) <= 64:
			return strPtr(Sanitize(value))
		}
	}
	return nil
}

func isLetters(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// BuildEvent turns a validated payload into the Event that will be stored.
// The client timestamp is clamped to [now-maxAge, now].
func BuildEvent(payload map[string]any, fingerprint string, country *string, now time.Time, maxAge time.Duration) *Event {
	pageURL, _ := payload["url"].(string)

	ts := now.UnixMilli()
	if n, ok := toNumber(payload["ts"]); ok {
		ts = int64(n)
	}
	if floor := now.Add(-maxAge).UnixMilli(); ts < floor {
		ts = floor
	}
	if ts > now.UnixMilli() {
		ts = now.UnixMilli()
	}

	eventName := PageviewEventName
	if evt := optionalString(payload, "evt"); evt != nil {
		eventName = *evt
	}

	e := &Event{
		ID:              uuid.New(),
		Timestamp:       ts,
		PagePath:        PagePath(pageURL),
		Referrer:        ReferrerLabel(stringValue(payload, "ref"), pageURL),
		Fingerprint:     fingerprint,
		Country:         country,
		ScreenSize:      optionalString(payload, "scr"),
		Timezone:        optionalString(payload, "tz"),
		EventName:       eventName,
		CampaignSource:  optionalString(payload, "utm_source"),
		CampaignMedium:  optionalString(payload, "utm_medium"),
		CampaignName:    optionalString(payload, "utm_campaign"),
		CampaignTerm:    optionalString(payload, "utm_term"),
		CampaignContent: optionalString(payload, "utm_content"),
		CreatedAt:       now.UTC(),
	}

	if props, ok := payload["props"].(map[string]any); ok && eventName != PageviewEventName {
		if raw, err := json.Marshal(sanitizeProps(props)); err == nil {
			e.Props = raw
		}
	}

	return e
}

func stringValue(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

func optionalString(payload map[string]any, key string) *string {
	return strPtr(Sanitize(stringValue(payload, key)))
}

func sanitizeProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if s, ok := v.(string); ok {
			v = Sanitize(s)
		}
		out[Sanitize(k)] = v
	}
	return out
}
