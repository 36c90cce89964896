// Package store persists the single consent record of each browsing context
// and, separately, the server-side copy kept for signed-in users.
//
// ConsentStore never fails its callers on read: a missing key, an unreachable
// backend and a corrupt blob all read as "no record".
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/thupa-pro/lipo-sub001/internal/consent/metrics"
	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	"github.com/thupa-pro/lipo-sub001/internal/consent/policy"
	"github.com/thupa-pro/lipo-sub001/pkg/platform/sentinel"
)

// DefaultNamespace prefixes storage keys when none is configured.
const DefaultNamespace = "lipo"

const keySuffix = "_cookie_consent"

// ConsentStore reads and writes consent records through a Slot.
type ConsentStore struct {
	slot      Slot
	policy    policy.Policy
	namespace string
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures a ConsentStore.
type Option func(*ConsentStore)

// WithLogger sets the logger used for swallowed persistence failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *ConsentStore) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ConsentStore) {
		s.metrics = m
	}
}

// WithNamespace overrides the key namespace.
func WithNamespace(namespace string) Option {
	return func(s *ConsentStore) {
		if namespace != "" {
			s.namespace = namespace
		}
	}
}

// NewConsentStore builds a store over slot judged by p.
func NewConsentStore(slot Slot, p policy.Policy, opts ...Option) *ConsentStore {
	s := &ConsentStore{
		slot:      slot,
		policy:    p,
		namespace: DefaultNamespace,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the policy the store validates against.
func (s *ConsentStore) Policy() policy.Policy {
	return s.policy
}

// Key returns the storage key for a subject. An empty subject maps to the
// bare key used by single-context deployments such as the CLI.
func (s *ConsentStore) Key(subject string) string {
	key := s.namespace + keySuffix
	if subject != "" {
		key += ":" + subject
	}
	return key
}

// SubjectFromKey is the inverse of Key. It reports false for keys outside
// the store's namespace.
func (s *ConsentStore) SubjectFromKey(key string) (string, bool) {
	base := s.namespace + keySuffix
	if key == base {
		return "", true
	}
	subject, ok := strings.CutPrefix(key, base+":")
	if !ok || subject == "" {
		return "", false
	}
	return subject, true
}

// Read returns the stored record regardless of validity. Any failure reads
// as absent and is logged.
func (s *ConsentStore) Read(ctx context.Context, subject string) (*models.Record, bool) {
	defer s.observe("read", time.Now())

	key := s.Key(subject)
	data, err := s.slot.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "consent storage unavailable", "key", key, "error", err)
			s.countFailure("read")
		}
		return nil, false
	}
	record, err := decodeRecord(data)
	if err != nil {
		s.logger.WarnContext(ctx, "discarding unreadable consent record", "key", key, "error", err)
		s.countFailure("decode")
		return nil, false
	}
	return &record, true
}

// Load returns the stored record only when it is valid at now.
func (s *ConsentStore) Load(ctx context.Context, subject string, now time.Time) (*models.Record, bool) {
	record, ok := s.Read(ctx, subject)
	if !ok || !s.IsValid(*record, now) {
		return nil, false
	}
	return record, true
}

// Write overwrites the subject's record. The error is informational; callers
// keep running with the in-memory record when persistence is unavailable.
func (s *ConsentStore) Write(ctx context.Context, subject string, record models.Record) error {
	defer s.observe("write", time.Now())

	data, err := encodeRecord(record)
	if err != nil {
		return err
	}
	if err := s.slot.Set(ctx, s.Key(subject), data); err != nil {
		s.countFailure("write")
		return fmt.Errorf("persist consent: %w", err)
	}
	return nil
}

// Clear removes the subject's record. A later Read reports absent.
func (s *ConsentStore) Clear(ctx context.Context, subject string) error {
	defer s.observe("clear", time.Now())

	if err := s.slot.Delete(ctx, s.Key(subject)); err != nil {
		s.countFailure("clear")
		return fmt.Errorf("clear consent: %w", err)
	}
	return nil
}

// IsValid reports whether record is current under the store's policy.
func (s *ConsentStore) IsValid(record models.Record, now time.Time) bool {
	return s.policy.IsValid(record, now)
}

func (s *ConsentStore) observe(operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveStoreOperationLatency(operation, time.Since(start).Seconds())
	}
}

func (s *ConsentStore) countFailure(operation string) {
	if s.metrics != nil {
		s.metrics.IncrementStorageFailure(operation)
	}
}
