// Package tracer is a thin tracing interface over OpenTelemetry so consent
// code can emit spans without importing otel everywhere.
//
// NoopTracer is for tests; OTelTracer adapts the global provider.
package tracer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Span is an active trace span. End must be called exactly once.
type Span interface {
	// End completes the span, marking it failed when err is non-nil.
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute is a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// HashSubject shortens a visitor or user id to a stable pseudonym so traces
// correlate without carrying the raw identifier.
func HashSubject(id string) string {
	if id == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(id))
	return hex.EncodeToString(hash[:8])
}

// Span names used by the consent service.
const (
	SpanConsentStatus    = "consent.status"
	SpanConsentAcceptAll = "consent.accept_all"
	SpanConsentRejectAll = "consent.reject_all"
	SpanConsentSave      = "consent.save"
	SpanConsentReset     = "consent.reset"
	SpanConsentRefresh   = "consent.refresh"
	SpanRemoteSync       = "consent.remote_sync"
)

// Attribute keys used by the consent service.
const (
	AttrSubject   = "consent.subject"
	AttrStatus    = "consent.status"
	AttrSignedIn  = "consent.signed_in"
	AttrPersisted = "consent.persisted"
	AttrChanged   = "consent.changed"
)

// Event names used by the consent service.
const (
	EventPublished = "consent.event_published"
)
