// Package staleness decides whether cached platform data must be refetched.
package staleness

import "time"

// IsStaleAt reports whether ts is missing or older than maxAge at now
func IsStaleAt(ts *time.Time, maxAge time.Duration, now time.Time) bool {
	if ts == nil || ts.IsZero() {
		return true
	}
	return now.Sub(*ts) > maxAge
}

// Cutoff is the instant before which a timestamp counts as stale at now.
// IsStaleAt(&t, maxAge, now) equals t.Before(Cutoff(maxAge, now)) for set t.
func Cutoff(maxAge time.Duration, now time.Time) time.Time {
	return now.Add(-maxAge)
}
