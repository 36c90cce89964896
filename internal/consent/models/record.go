package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Status is the consent lifecycle state for one browsing context.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// IsValid checks if the status is one of the supported enum values.
func (s Status) IsValid() bool {
	return s == StatusPending || s == StatusAccepted || s == StatusRejected
}

// Origin records which action produced a record, so "accepted with nothing
// optional" and "explicitly rejected" stay distinguishable downstream.
type Origin string

const (
	OriginAcceptAll Origin = "accept_all"
	OriginRejectAll Origin = "reject_all"
	OriginCustom    Origin = "custom"
)

// IsValid checks if the origin is one of the supported enum values.
func (o Origin) IsValid() bool {
	return o == OriginAcceptAll || o == OriginRejectAll || o == OriginCustom
}

// Version identifies the consent-schema revision a record was written under.
// Stored records may carry it as a JSON string or number.
type Version string

// UnmarshalJSON accepts both "2" and 2.
func (v *Version) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Version(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("version must be a string or number: %w", err)
	}
	*v = Version(n.String())
	return nil
}

func (v Version) String() string {
	return string(v)
}

// Record is the single consent snapshot for a browsing context. It is
// replaced wholesale on every write; no history is kept.
type Record struct {
	Categories Categories `json:"categories"`
	Timestamp  time.Time  `json:"timestamp"`
	Version    Version    `json:"version"`
	Origin     Origin     `json:"origin,omitempty"`
}

// ExpiresAt derives the instant after which the record is no longer valid.
func (r Record) ExpiresAt(retention time.Duration) time.Time {
	return r.Timestamp.Add(retention)
}

// Status reports the state of a stored, valid record. Records granting no
// optional category are rejected regardless of origin.
func (r Record) Status() Status {
	if r.Categories.AnyOptional() {
		return StatusAccepted
	}
	return StatusRejected
}

// Identity is the signed-in user supplied by the external auth system.
type Identity struct {
	ID    string
	Email string
	// Token is the caller's bearer credential, forwarded on remote sync.
	Token string
}

// IsZero reports whether no user is signed in.
func (i Identity) IsZero() bool {
	return i.ID == ""
}

// Subject identifies one browsing context and, when signed in, its user.
type Subject struct {
	VisitorID string
	User      *Identity
}

// SignedIn reports whether consent should also be persisted server-side.
func (s Subject) SignedIn() bool {
	return s.User != nil && !s.User.IsZero()
}
