// Package anonymize derives the privacy-safe visitor identity stored with events.
//
// A fingerprint is the first 16 hex characters of SHA-256 over the session token,
// the network address and the current calendar date. The date component rotates the
// output at local midnight, so the same visitor cannot be linked across days.
package anonymize

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Length is the number of hex characters in a fingerprint.
const Length = 16

const dateLayout = "2006-01-02"

type Anonymizer struct {
	loc *time.Location
	now func() time.Time
}

// New returns an Anonymizer that rotates on calendar days in loc.
// A nil loc means time.Local.
func New(loc *time.Location) *Anonymizer {
	if loc == nil {
		loc = time.Local
	}
	return &Anonymizer{
		loc: loc,
		now: time.Now,
	}
}

// Fingerprint returns the fingerprint for the current day.
func (a *Anonymizer) Fingerprint(sessionToken, networkAddress string) string {
	return a.FingerprintAt(sessionToken, networkAddress, a.now())
}

// FingerprintAt returns the fingerprint for the calendar day containing t.
func (a *Anonymizer) FingerprintAt(sessionToken, networkAddress string, t time.Time) string {
	day := t.In(a.loc).Format(dateLayout)

	h := sha256.New()
	h.Write([]byte(sessionToken))
	h.Write([]byte{'|'})
	h.Write([]byte(networkAddress))
	h.Write([]byte{'|'})
	h.Write([]byte(day))

	return hex.EncodeToString(h.Sum(nil))[:Length]
}
