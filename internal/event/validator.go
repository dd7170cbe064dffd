package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	maxPropsBytes = 5000
	maxFutureSkew = 24 * time.Hour
)

// timestampFloor is the oldest client timestamp accepted (2020-01-01T00:00:00Z).
var timestampFloor = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

var (
	sessionIDPattern  = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	screenSizePattern = regexp.MustCompile(`^\d+x\d+$`)
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindObject
)

type fieldRule struct {
	name     string
	required bool
	kind     fieldKind
	// tag is a validator/v10 tag list applied to string values.
	tag    string
	maxLen int
}

var fieldRules = []fieldRule{
	{name: "url", required: true, kind: kindString, tag: "max=2000,httpurl", maxLen: 2000},
	{name: "sid", required: true, kind: kindString, tag: "max=50,sessionid", maxLen: 50},
	{name: "ref", kind: kindString, tag: "max=2000", maxLen: 2000},
	{name: "scr", kind: kindString, tag: "max=20,screensize", maxLen: 20},
	{name: "tz", kind: kindString, tag: "max=50", maxLen: 50},
	{name: "ts", kind: kindNumber},
	{name: "evt", kind: kindString, tag: "max=100", maxLen: 100},
	{name: "props", kind: kindObject},
	{name: "utm_source", kind: kindString, tag: "max=200", maxLen: 200},
	{name: "utm_medium", kind: kindString, tag: "max=200", maxLen: 200},
	{name: "utm_campaign", kind: kindString, tag: "max=200", maxLen: 200},
	{name: "utm_term", kind: kindString, tag: "max=200", maxLen: 200},
	{name: "utm_content", kind: kindString, tag: "max=200", maxLen: 200},
}

var fieldValidator = newFieldValidator()

func newFieldValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("httpurl", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
	})
	_ = v.RegisterValidation("sessionid", func(fl validator.FieldLevel) bool {
		return sessionIDPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("screensize", func(fl validator.FieldLevel) bool {
		return screenSizePattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks a decoded beacon payload and returns every failing field message.
func Validate(payload map[string]any) (bool, []string) {
	return ValidateAt(payload, time.Now())
}

// ValidateAt is Validate with an explicit "now" for the timestamp range check.
func ValidateAt(payload map[string]any, now time.Time) (bool, []string) {
	var errs []string
	for _, rule := range fieldRules {
		if msg := rule.check(payload, now); msg != "" {
			errs = append(errs, msg)
		}
	}
	return len(errs) == 0, errs
}

func (r fieldRule) check(payload map[string]any, now time.Time) string {
	value, present := payload[r.name]
	if isAbsent(value, present) {
		if r.required {
			return fmt.Sprintf("%s is required", r.name)
		}
		return ""
	}

	switch r.kind {
	case kindString:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("%s must be a string", r.name)
		}
		return r.checkString(s)
	case kindNumber:
		n, ok := toNumber(value)
		if !ok {
			return fmt.Sprintf("%s must be a number", r.name)
		}
		if int64(n) < timestampFloor || int64(n) > now.Add(maxFutureSkew).UnixMilli() {
			return fmt.Sprintf("%s is out of range", r.name)
		}
	case kindObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Sprintf("%s must be a JSON object", r.name)
		}
		raw, err := json.Marshal(obj)
		if err != nil {
			return fmt.Sprintf("%s must be a JSON object", r.name)
		}
		if len(raw) > maxPropsBytes {
			return fmt.Sprintf("%s must serialize to at most %d bytes", r.name, maxPropsBytes)
		}
	}
	return ""
}

func (r fieldRule) checkString(s string) string {
	err := fieldValidator.Var(s, r.tag)
	if err == nil {
		return ""
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Sprintf("%s is invalid", r.name)
	}

	switch verrs[0].Tag() {
	case "max":
		return fmt.Sprintf("%s must be at most %d characters", r.name, r.maxLen)
	case "httpurl":
		return fmt.Sprintf("%s must start with http:// or https://", r.name)
	case "sessionid":
		return fmt.Sprintf("%s must contain only letters, digits, underscores and hyphens", r.name)
	case "screensize":
		return fmt.Sprintf("%s must look like WIDTHxHEIGHT", r.name)
	default:
		return fmt.Sprintf("%s is invalid", r.name)
	}
}

// isAbsent treats missing keys, JSON null and empty strings alike.
func isAbsent(value any, present bool) bool {
	if !present || value == nil {
		return true
	}
	if s, ok := value.(string); ok && s == "" {
		return true
	}
	return false
}

func toNumber(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Sanitize strips ASCII control characters other than tab and newline.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
