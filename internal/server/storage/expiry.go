package storage

import "time"

const day = 24 * time.Hour

// Expired is the single expiry predicate shared by lazy eviction on read and
// the periodic sweep. An entry is expired from the instant now reaches
// expiresAt; expiresAt is computed once at creation and compared verbatim.
func Expired(expiresAt, now time.Time) bool {
	return !now.Before(expiresAt)
}

// ClampTTLDays returns min(max(1, days), maxDays).
func ClampTTLDays(days, maxDays int) int {
	if maxDays < 1 {
		maxDays = 1
	}
	return min(max(1, days), maxDays)
}

func expiresAt(createdAt time.Time, ttlDays int) time.Time {
	return createdAt.Add(time.Duration(ttlDays) * day)
}
