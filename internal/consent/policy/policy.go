// Package policy holds the pure transformations over consent records:
// constructors for the three user actions, merging partial updates, the
// validity window and the can-load decision used by the script loader.
//
// Nothing here reads clocks or storage; callers pass now explicitly.
package policy

import (
	"time"

	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
)

const (
	// DefaultVersion is the consent-schema revision used when none is configured.
	DefaultVersion models.Version = "1"
	// DefaultRetention is how long a consent decision stays valid.
	DefaultRetention = 90 * 24 * time.Hour
)

// Policy carries the schema revision and retention window in force.
type Policy struct {
	Version   models.Version
	Retention time.Duration
}

// New returns a Policy, substituting defaults for empty values.
func New(version models.Version, retention time.Duration) Policy {
	if version == "" {
		version = DefaultVersion
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return Policy{Version: version, Retention: retention}
}

// CreateDefault returns the record implied when nothing is stored: only
// necessary granted. It carries no origin because no user action produced it.
func (p Policy) CreateDefault(now time.Time) models.Record {
	return models.Record{
		Timestamp: now.UTC(),
		Version:   p.Version,
	}
}

// CreateAcceptAll grants every category.
func (p Policy) CreateAcceptAll(now time.Time) models.Record {
	return models.Record{
		Categories: models.GrantAll(),
		Timestamp:  now.UTC(),
		Version:    p.Version,
		Origin:     models.OriginAcceptAll,
	}
}

// CreateRejectNonEssential grants only the necessary category.
func (p Policy) CreateRejectNonEssential(now time.Time) models.Record {
	return models.Record{
		Timestamp: now.UTC(),
		Version:   p.Version,
		Origin:    models.OriginRejectAll,
	}
}

// Merge applies a partial update and returns a new record. Necessary stays
// granted whatever the patch says; the version is carried over unchanged.
func Merge(record models.Record, patch models.Patch, now time.Time) models.Record {
	out := record
	for category, granted := range patch {
		out.Categories = out.Categories.With(category, granted)
	}
	out.Timestamp = now.UTC()
	out.Origin = models.OriginCustom
	return out
}

// CanLoad reports whether scripts of the category may run under record.
func CanLoad(record models.Record, category models.Category) bool {
	if category == models.CategoryNecessary {
		return true
	}
	return record.Categories.Get(category)
}

// CanLoadFunctional reports whether functional scripts may run.
func CanLoadFunctional(record models.Record) bool {
	return CanLoad(record, models.CategoryFunctional)
}

// CanLoadAnalytics reports whether analytics scripts may run.
func CanLoadAnalytics(record models.Record) bool {
	return CanLoad(record, models.CategoryAnalytics)
}

// CanLoadMarketing reports whether marketing scripts may run.
func CanLoadMarketing(record models.Record) bool {
	return CanLoad(record, models.CategoryMarketing)
}

// CanLoadPersonalization reports whether personalization scripts may run.
func CanLoadPersonalization(record models.Record) bool {
	return CanLoad(record, models.CategoryPersonalization)
}

// Desired maps every optional category to whether it may load.
func Desired(record models.Record) map[models.Category]bool {
	out := make(map[models.Category]bool, len(models.OptionalCategories))
	for _, category := range models.OptionalCategories {
		out[category] = CanLoad(record, category)
	}
	return out
}

// ExpiresAt derives the end of the record's validity window.
func (p Policy) ExpiresAt(record models.Record) time.Time {
	return record.ExpiresAt(p.Retention)
}

// IsValid reports whether record was written under the current version and
// now is strictly before its expiry.
func (p Policy) IsValid(record models.Record, now time.Time) bool {
	return record.Version == p.Version && now.Before(p.ExpiresAt(record))
}

// StatusOf reports the lifecycle state: pending for a missing or invalid
// record, otherwise the record's own status.
func (p Policy) StatusOf(record *models.Record, now time.Time) models.Status {
	if record == nil || !p.IsValid(*record, now) {
		return models.StatusPending
	}
	return record.Status()
}
