package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
)

// TestIDs provides convenient pre-generated identifiers for tests.
var TestIDs = struct {
	Visitor1 string
	Visitor2 string
	User1    string
	User2    string
}{
	Visitor1: "11111111-1111-1111-1111-111111111111",
	Visitor2: "22222222-2222-2222-2222-222222222222",
	User1:    "user-aaaa-0001",
	User2:    "user-aaaa-0002",
}

// RecordBuilder provides a fluent interface for building consent records.
type RecordBuilder struct {
	record models.Record
}

// NewRecordBuilder creates a builder for a version "1" record with nothing
// optional granted, timestamped now.
func NewRecordBuilder() *RecordBuilder {
	return &RecordBuilder{
		record: models.Record{
			Timestamp: time.Now().UTC(),
			Version:   "1",
			Origin:    models.OriginCustom,
		},
	}
}

func (b *RecordBuilder) Granting(categories ...models.Category) *RecordBuilder {
	for _, c := range categories {
		b.record.Categories = b.record.Categories.With(c, true)
	}
	return b
}

func (b *RecordBuilder) At(t time.Time) *RecordBuilder {
	b.record.Timestamp = t.UTC()
	return b
}

func (b *RecordBuilder) WithVersion(version models.Version) *RecordBuilder {
	b.record.Version = version
	return b
}

func (b *RecordBuilder) WithOrigin(origin models.Origin) *RecordBuilder {
	b.record.Origin = origin
	return b
}

func (b *RecordBuilder) Build() models.Record {
	return b.record
}

// NewTestUserConsent creates a server-side consent for userID granting
// categories, timestamped now under version "1".
func NewTestUserConsent(userID string, categories models.Categories) *models.UserConsent {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.UserConsent{
		UserID: userID,
		Email:  fmt.Sprintf("%s@example.com", userID),
		Record: models.Record{
			Categories: categories,
			Timestamp:  now,
			Version:    "1",
			Origin:     models.OriginCustom,
		},
		UpdatedAt: now,
	}
}

// NewVisitorID returns a random visitor identifier.
func NewVisitorID() string {
	return uuid.NewString()
}
