package service

import (
	"time"

	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
)

// Snapshot is the consent state of one browsing context as the UI sees it.
type Snapshot struct {
	VisitorID string
	Status    models.Status
	// Valid is false when nothing usable is stored and Record is the default.
	Valid     bool
	Record    models.Record
	ExpiresAt time.Time
	// Persisted is false when the local write failed and the state lives
	// only in this snapshot.
	Persisted bool
	// SyncError holds the remote sync failure of a signed-in write, if any.
	SyncError error
}

// Preferences returns the category flags in effect.
func (s Snapshot) Preferences() models.Categories {
	return s.Record.Categories
}

// Event converts the snapshot into the consentChanged event it announces.
func (s Snapshot) Event(occurredAt time.Time) models.Event {
	event := models.Event{VisitorID: s.VisitorID, Status: s.Status, OccurredAt: occurredAt}
	if s.Valid {
		record := s.Record
		event.Record = &record
	}
	return event
}
