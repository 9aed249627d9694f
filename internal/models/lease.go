package models

import "time"

// AccessLease is a time-limited URL granting read access to a media resource.
// Renewal produces a new lease; an existing one is never modified.
type AccessLease struct {
	ResourceID   string        `json:"resource_id"`
	StreamType   string        `json:"stream_type"`
	URL          string        `json:"url"`
	IssuedAt     time.Time     `json:"issued_at"`
	ExpiresAt    time.Time     `json:"expires_at"`
	RequestedTTL time.Duration `json:"requested_ttl"`
}

// Remaining returns the time left until expiry, never negative.
func (l AccessLease) Remaining(now time.Time) time.Duration {
	remaining := l.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// LeaseState is one observation emitted by the lease manager.
type LeaseState struct {
	Lease     AccessLease
	Remaining time.Duration
	// Renewed is set on the first state carrying a freshly fetched lease.
	Renewed bool
	Err     error
}

// RemainingSeconds is the countdown value shown to users.
func (s LeaseState) RemainingSeconds() int64 {
	return int64(s.Remaining / time.Second)
}
