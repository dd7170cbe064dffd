package event

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

var validationNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestValidate_MinimalPayload(t *testing.T) {
	ok, errs := ValidateAt(map[string]any{"url": "https://x.com", "sid": "abc123"}, validationNow)
	if !ok || len(errs) != 0 {
		t.Fatalf("expected valid payload, got ok=%v errs=%v", ok, errs)
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	ok, errs := ValidateAt(map[string]any{"ref": "https://google.com"}, validationNow)
	if ok {
		t.Fatal("payload without url and sid should be invalid")
	}
	if len(errs) < 2 {
		t.Fatalf("expected at least 2 errors, got %v", errs)
	}
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	payload := map[string]any{
		"url": "invalid-url",
		"sid": "<script>",
		"scr": "bad",
		"ts":  "not-a-number",
	}
	ok, errs := ValidateAt(payload, validationNow)
	if ok {
		t.Fatal("malformed payload should be invalid")
	}
	if len(errs) < 4 {
		t.Fatalf("expected one error per malformed field, got %v", errs)
	}
}

func TestValidate_FieldRules(t *testing.T) {
	base := func() map[string]any {
		return map[string]any{"url": "https://example.com/a", "sid": "s1"}
	}

	testCases := []struct {
		name    string
		key     string
		value   any
		wantErr string
	}{
		{"url too long", "url", "https://x.com/" + strings.Repeat("a", 2000), "url must be at most 2000 characters"},
		{"url wrong scheme", "url", "ftp://x.com", "url must start with http:// or https://"},
		{"url wrong type", "url", 42.0, "url must be a string"},
		{"sid too long", "sid", strings.Repeat("a", 51), "sid must be at most 50 characters"},
		{"sid bad chars", "sid", "a b", "sid must contain only letters, digits, underscores and hyphens"},
		{"ref too long", "ref", strings.Repeat("r", 2001), "ref must be at most 2000 characters"},
		{"scr format", "scr", "1920*1080", "scr must look like WIDTHxHEIGHT"},
		{"scr too long", "scr", "123456789012x12345678", "scr must be at most 20 characters"},
		{"tz too long", "tz", strings.Repeat("z", 51), "tz must be at most 50 characters"},
		{"ts string", "ts", "123", "ts must be a number"},
		{"ts before floor", "ts", 1000.0, "ts is out of range"},
		{"ts far future", "ts", float64(validationNow.Add(25 * time.Hour).UnixMilli()), "ts is out of range"},
		{"evt too long", "evt", strings.Repeat("e", 101), "evt must be at most 100 characters"},
		{"props array", "props", []any{1, 2}, "props must be a JSON object"},
		{"props too big", "props", map[string]any{"k": strings.Repeat("v", 5000)}, "props must serialize to at most 5000 bytes"},
		{"utm too long", "utm_campaign", strings.Repeat("c", 201), "utm_campaign must be at most 200 characters"},
		{"utm wrong type", "utm_source", true, "utm_source must be a string"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			payload := base()
			payload[tc.key] = tc.value

			ok, errs := ValidateAt(payload, validationNow)
			if ok {
				t.Fatalf("expected %s=%v to be rejected", tc.key, tc.value)
			}
			if len(errs) != 1 || errs[0] != tc.wantErr {
				t.Errorf("errors = %v, want [%q]", errs, tc.wantErr)
			}
		})
	}
}

func TestValidate_AcceptsOptionalFields(t *testing.T) {
	payload := map[string]any{
		"url":          "http://example.com/pricing?plan=pro",
		"sid":          "A-b_9",
		"ref":          "https://news.ycombinator.com/item?id=1",
		"scr":          "1920x1080",
		"tz":           "Europe/Berlin",
		"ts":           json.Number("1773489600000"),
		"evt":          "signup",
		"props":        map[string]any{"plan": "pro", "seats": 3.0},
		"utm_source":   "newsletter",
		"utm_medium":   "email",
		"utm_campaign": "spring",
		"utm_term":     "analytics",
		"utm_content":  "footer",
	}
	if ok, errs := ValidateAt(payload, validationNow); !ok {
		t.Fatalf("expected valid payload, got %v", errs)
	}
}

func TestValidate_AbsentOptionalValues(t *testing.T) {
	payload := map[string]any{
		"url":   "https://x.com",
		"sid":   "abc",
		"ref":   "",
		"scr":   nil,
		"ts":    nil,
		"props": nil,
	}
	if ok, errs := ValidateAt(payload, validationNow); !ok {
		t.Fatalf("null and empty optional fields should be valid, got %v", errs)
	}
}

func TestValidate_EmptyRequiredValue(t *testing.T) {
	ok, errs := ValidateAt(map[string]any{"url": "", "sid": nil}, validationNow)
	if ok {
		t.Fatal("empty required fields should be invalid")
	}
	want := []string{"url is required", "sid is required"}
	if len(errs) != len(want) || errs[0] != want[0] || errs[1] != want[1] {
		t.Errorf("errors = %v, want %v", errs, want)
	}
}

func TestSanitize(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"tab\tand\nnewline", "tab\tand\nnewline"},
		{"bell\x07null\x00", "bellnull"},
		{"del\x7f", "del"},
		{"\x1b[31mred", "[31mred"},
		{"ünïcödé", "ünïcödé"},
	}
	for _, tc := range testCases {
		if got := Sanitize(tc.in); got != tc.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
