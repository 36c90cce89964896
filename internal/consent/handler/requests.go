package handler

import (
	"strings"

	contract "github.com/thupa-pro/lipo-sub001/contracts/consent"
	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	dErrors "github.com/thupa-pro/lipo-sub001/pkg/domain-errors"
)

// SaveConsentRequest is the body of PUT /consent.
type SaveConsentRequest struct {
	Categories map[string]bool `json:"categories"`

	patch models.Patch
}

func (r *SaveConsentRequest) Normalize() {
	out := make(map[string]bool, len(r.Categories))
	for name, granted := range r.Categories {
		out[strings.ToLower(strings.TrimSpace(name))] = granted
	}
	r.Categories = out
}

func (r *SaveConsentRequest) Validate() error {
	if len(r.Categories) == 0 {
		return dErrors.New(dErrors.CodeValidation, "categories are required")
	}
	patch, err := models.ParsePatch(r.Categories)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, err.Error())
	}
	r.patch = patch
	return nil
}

// Patch returns the parsed update. Valid only after Validate.
func (r *SaveConsentRequest) Patch() models.Patch {
	return r.patch
}

// UserConsentRequest is the body of POST /api/user/consent.
type UserConsentRequest struct {
	contract.UserConsentPayload

	record models.Record
}

func (r *UserConsentRequest) Normalize() {
	r.UserID = strings.TrimSpace(r.UserID)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Version = strings.TrimSpace(r.Version)
}

func (r *UserConsentRequest) Validate() error {
	if r.Categories == nil {
		return dErrors.New(dErrors.CodeValidation, "categories are required")
	}
	categories, err := models.CategoriesFromNames(r.Categories)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, err.Error())
	}
	origin := models.Origin(r.Origin)
	if origin != "" && !origin.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown origin: "+r.Origin)
	}
	r.record = models.Record{
		Categories: categories,
		Timestamp:  r.Timestamp,
		Version:    models.Version(r.Version),
		Origin:     origin,
	}
	return nil
}

// Record returns the parsed record. Valid only after Validate.
func (r *UserConsentRequest) Record() models.Record {
	return r.record
}
