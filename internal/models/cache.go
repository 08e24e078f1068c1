package models

import "time"

// CacheEntry is a stored processing result keyed by request fingerprint.
// Entries are written once and superseded by rewrites, never mutated.
type CacheEntry struct {
	Value     []byte
	CreatedAt time.Time
	TTL       time.Duration
}

// Expired reports whether the entry is past its time-to-live at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}
