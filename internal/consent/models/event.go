package models

import "time"

// EventConsentChanged is the name consumers listen for.
const EventConsentChanged = "consentChanged"

// Event announces that the consent of one browsing context changed.
// Record is nil when the context went back to pending.
type Event struct {
	VisitorID  string
	Status     Status
	Record     *Record
	OccurredAt time.Time
}

// EventDetail is the payload consumers receive, matching the in-page custom
// event: {"status": ..., "preferences": {...}}.
type EventDetail struct {
	Status      Status     `json:"status"`
	Preferences Categories `json:"preferences"`
}

// Detail returns the wire payload. Pending events report every optional
// category as not granted.
func (e Event) Detail() EventDetail {
	detail := EventDetail{Status: e.Status}
	if e.Record != nil {
		detail.Preferences = e.Record.Categories
	}
	return detail
}

// Envelope is the named form of an event sent over streams and brokers.
type Envelope struct {
	Name       string      `json:"name"`
	VisitorID  string      `json:"visitor_id,omitempty"`
	Detail     EventDetail `json:"detail"`
	Origin     Origin      `json:"origin,omitempty"`
	Version    Version     `json:"version,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Envelope wraps the event for transport.
func (e Event) Envelope() Envelope {
	env := Envelope{
		Name:       EventConsentChanged,
		VisitorID:  e.VisitorID,
		Detail:     e.Detail(),
		OccurredAt: e.OccurredAt,
	}
	if e.Record != nil {
		env.Origin = e.Record.Origin
		env.Version = e.Record.Version
	}
	return env
}
