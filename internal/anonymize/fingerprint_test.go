package anonymize

import (
	"regexp"
	"strings"
	"testing"
	"time"
)

var hex16 = regexp.MustCompile(`^[0-9a-f]{16}$`)

func fixedAnonymizer(t time.Time) *Anonymizer {
	a := New(time.UTC)
	a.now = func() time.Time { return t }
	return a
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := fixedAnonymizer(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))

	first := a.Fingerprint("abc123", "1.2.3.4")
	second := a.Fingerprint("abc123", "1.2.3.4")
	if first != second {
		t.Errorf("same inputs gave %q and %q", first, second)
	}
}

func TestFingerprint_Format(t *testing.T) {
	a := fixedAnonymizer(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))

	inputs := [][2]string{
		{"abc123", "1.2.3.4"},
		{"", ""},
		{"s-1_x", "2001:db8::1"},
		{strings.Repeat("z", 50), "10.0.0.255"},
	}
	for _, in := range inputs {
		fp := a.Fingerprint(in[0], in[1])
		if !hex16.MatchString(fp) {
			t.Errorf("Fingerprint(%q, %q) = %q, want 16 lowercase hex chars", in[0], in[1], fp)
		}
	}
}

func TestFingerprint_DistinctInputs(t *testing.T) {
	a := fixedAnonymizer(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))

	if a.Fingerprint("session-1", "1.2.3.4") == a.Fingerprint("session-2", "1.2.3.4") {
		t.Error("different sessions on the same address should differ")
	}
	if a.Fingerprint("session-1", "1.2.3.4") == a.Fingerprint("session-1", "1.2.3.5") {
		t.Error("different addresses with the same session should differ")
	}
}

func TestFingerprint_DoesNotLeakInputs(t *testing.T) {
	a := fixedAnonymizer(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))

	fp := a.Fingerprint("abc123", "127.0.0.1")
	if strings.Contains(fp, "127") || strings.Contains(fp, "abc123") {
		t.Errorf("fingerprint %q contains raw input", fp)
	}
}

func TestFingerprint_RotatesOnCalendarDay(t *testing.T) {
	a := New(time.UTC)

	beforeMidnight := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	afterMidnight := time.Date(2026, 3, 15, 0, 1, 0, 0, time.UTC)
	laterSameDay := time.Date(2026, 3, 15, 22, 0, 0, 0, time.UTC)

	a1 := a.FingerprintAt("abc123", "1.2.3.4", beforeMidnight)
	a2 := a.FingerprintAt("abc123", "1.2.3.4", afterMidnight)
	a3 := a.FingerprintAt("abc123", "1.2.3.4", laterSameDay)

	if a1 == a2 {
		t.Error("fingerprint should rotate across midnight even two minutes apart")
	}
	if a2 != a3 {
		t.Error("fingerprint should be stable within one calendar day")
	}
}

func TestFingerprint_UsesConfiguredLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	a := New(tokyo)

	// 20:00 UTC on the 14th is already the 15th in Tokyo.
	late := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	morning := time.Date(2026, 3, 15, 1, 0, 0, 0, tokyo)

	if a.FingerprintAt("s", "ip", late) != a.FingerprintAt("s", "ip", morning) {
		t.Error("instants on the same local day should share a fingerprint")
	}
}
