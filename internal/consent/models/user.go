package models

import "time"

// UserConsent is the server-side copy of a signed-in user's decision.
type UserConsent struct {
	UserID    string
	Email     string
	Record    Record
	UpdatedAt time.Time
}

// Stale reports whether the copy falls outside the retention window or was
// written under another schema version.
func (u UserConsent) Stale(cutoff time.Time, version Version) bool {
	return !u.Record.Timestamp.After(cutoff) || u.Record.Version != version
}
