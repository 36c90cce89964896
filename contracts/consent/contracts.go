// Package consent defines the wire contract of the server-side user consent
// endpoint, shared by the HTTP handler and the remote sync client.
package consent

import "time"

// UserConsentPath is the collaborator endpoint for signed-in users.
const UserConsentPath = "/api/user/consent"

// UserConsentPayload is the body of POST /api/user/consent.
type UserConsentPayload struct {
	UserID     string          `json:"user_id"`
	Email      string          `json:"email,omitempty"`
	Categories map[string]bool `json:"categories"`
	Timestamp  time.Time       `json:"timestamp"`
	Version    string          `json:"version"`
	Origin     string          `json:"origin,omitempty"`
}

// UserConsentResponse is returned by GET and POST /api/user/consent.
type UserConsentResponse struct {
	UserID     string          `json:"user_id"`
	Email      string          `json:"email,omitempty"`
	Categories map[string]bool `json:"categories"`
	Timestamp  time.Time       `json:"timestamp"`
	Version    string          `json:"version"`
	Origin     string          `json:"origin,omitempty"`
	Status     string          `json:"status"`
	ExpiresAt  time.Time       `json:"expires_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
