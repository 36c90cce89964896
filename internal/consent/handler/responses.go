package handler

import (
	"time"

	contract "github.com/thupa-pro/lipo-sub001/contracts/consent"
	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	"github.com/thupa-pro/lipo-sub001/internal/consent/service"
)

// RecordResponse is the stored record in its storage layout.
type RecordResponse struct {
	Categories map[string]bool `json:"categories"`
	Timestamp  time.Time       `json:"timestamp"`
	Version    string          `json:"version"`
	Origin     string          `json:"origin,omitempty"`
}

// ConsentResponse describes the consent state of the calling browsing
// context.
type ConsentResponse struct {
	Status      models.Status   `json:"status"`
	Valid       bool            `json:"valid"`
	Preferences map[string]bool `json:"preferences"`
	Record      *RecordResponse `json:"record"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	Persisted   bool            `json:"persisted"`
	SyncError   string          `json:"sync_error,omitempty"`
}

func toConsentResponse(snap service.Snapshot) ConsentResponse {
	resp := ConsentResponse{
		Status:      snap.Status,
		Valid:       snap.Valid,
		Preferences: snap.Preferences().Names(),
		Persisted:   snap.Persisted,
	}
	if snap.Valid {
		resp.Record = &RecordResponse{
			Categories: snap.Record.Categories.Names(),
			Timestamp:  snap.Record.Timestamp,
			Version:    string(snap.Record.Version),
			Origin:     string(snap.Record.Origin),
		}
		expires := snap.ExpiresAt
		resp.ExpiresAt = &expires
	}
	if snap.SyncError != nil {
		resp.SyncError = snap.SyncError.Error()
	}
	return resp
}

func toUserConsentResponse(consent *models.UserConsent, status models.Status, expiresAt time.Time) contract.UserConsentResponse {
	return contract.UserConsentResponse{
		UserID:     consent.UserID,
		Email:      consent.Email,
		Categories: consent.Record.Categories.Names(),
		Timestamp:  consent.Record.Timestamp,
		Version:    string(consent.Record.Version),
		Origin:     string(consent.Record.Origin),
		Status:     string(status),
		ExpiresAt:  expiresAt,
		UpdatedAt:  consent.UpdatedAt,
	}
}
