package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/thupa-pro/lipo-sub001/internal/consent/metrics"
	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	"github.com/thupa-pro/lipo-sub001/internal/consent/policy"
	dErrors "github.com/thupa-pro/lipo-sub001/pkg/domain-errors"
	"github.com/thupa-pro/lipo-sub001/pkg/platform/sentinel"
	syncpkg "github.com/thupa-pro/lipo-sub001/pkg/platform/sync"
)

// UserConsentStore persists the server-side copy of a signed-in user's
// decision. Missing rows are reported as sentinel.ErrNotFound.
type UserConsentStore interface {
	Upsert(ctx context.Context, consent *models.UserConsent) error
	Get(ctx context.Context, userID string) (*models.UserConsent, error)
	Delete(ctx context.Context, userID string) error
	DeleteStale(ctx context.Context, cutoff time.Time, current models.Version) (int, error)
}

// maxClockSkew bounds how far in the future a submitted timestamp may be.
const maxClockSkew = 5 * time.Minute

// UserService backs the /api/user/consent endpoint. It also satisfies Syncer
// so a co-located Service can mirror records without an HTTP hop.
type UserService struct {
	store   UserConsentStore
	policy  policy.Policy
	locks   *syncpkg.ShardedMutex
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// UserOption configures a UserService.
type UserOption func(*UserService)

func WithUserLogger(logger *slog.Logger) UserOption {
	return func(s *UserService) {
		s.logger = logger
	}
}

func WithUserMetrics(m *metrics.Metrics) UserOption {
	return func(s *UserService) {
		s.metrics = m
	}
}

func WithUserClock(now func() time.Time) UserOption {
	return func(s *UserService) {
		s.now = now
	}
}

func NewUserService(store UserConsentStore, p policy.Policy, opts ...UserOption) *UserService {
	s := &UserService{
		store:  store,
		policy: p,
		locks:  syncpkg.NewShardedMutex(0),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save stores the user's record. Writes carrying an older timestamp than the
// stored copy are ignored and the stored copy is returned, so replays from a
// slower device cannot roll a newer decision back.
func (s *UserService) Save(ctx context.Context, identity models.Identity, record models.Record) (*models.UserConsent, error) {
	if identity.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "user identity required")
	}
	if err := s.validateRecord(record); err != nil {
		return nil, err
	}

	s.locks.Lock(identity.ID)
	defer s.locks.Unlock(identity.ID)

	existing, err := s.store.Get(ctx, identity.ID)
	switch {
	case err == nil:
		if existing.Record.Timestamp.After(record.Timestamp) {
			s.logger.InfoContext(ctx, "ignoring out-of-order consent write",
				"user_id", identity.ID,
				"stored_at", existing.Record.Timestamp,
				"submitted_at", record.Timestamp,
			)
			return existing, nil
		}
	case errors.Is(err, sentinel.ErrNotFound):
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read user consent")
	}

	consent := &models.UserConsent{
		UserID:    identity.ID,
		Email:     identity.Email,
		Record:    record,
		UpdatedAt: s.now().UTC(),
	}
	consent.Record.Timestamp = record.Timestamp.UTC()
	if err := s.store.Upsert(ctx, consent); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save user consent")
	}
	if s.metrics != nil {
		s.metrics.IncrementDecision("user_save", string(record.Status()))
	}
	s.logger.InfoContext(ctx, "user consent saved",
		"user_id", identity.ID,
		"status", record.Status(),
		"version", record.Version,
	)
	return consent, nil
}

// Sync implements Syncer.
func (s *UserService) Sync(ctx context.Context, identity models.Identity, record models.Record) error {
	_, err := s.Save(ctx, identity, record)
	return err
}

// Get returns the stored copy. Copies outside the validity window are still
// returned; callers derive status through Status.
func (s *UserService) Get(ctx context.Context, userID string) (*models.UserConsent, error) {
	if userID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "user identity required")
	}
	consent, err := s.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no consent stored for user")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read user consent")
	}
	return consent, nil
}

// Status derives the lifecycle state of a stored copy.
func (s *UserService) Status(consent *models.UserConsent) models.Status {
	if consent == nil {
		return models.StatusPending
	}
	return s.policy.StatusOf(&consent.Record, s.now())
}

// ExpiresAt derives the end of the copy's validity window.
func (s *UserService) ExpiresAt(consent *models.UserConsent) time.Time {
	return s.policy.ExpiresAt(consent.Record)
}

// Delete removes the user's copy.
func (s *UserService) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "user identity required")
	}
	if err := s.store.Delete(ctx, userID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "no consent stored for user")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete user consent")
	}
	s.logger.InfoContext(ctx, "user consent deleted", "user_id", userID)
	return nil
}

// Sweep deletes copies that expired or were written under an older schema
// version, and returns how many were removed.
func (s *UserService) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.policy.Retention)
	removed, err := s.store.DeleteStale(ctx, cutoff, s.policy.Version)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sweep stale user consent")
	}
	if s.metrics != nil {
		s.metrics.AddRecordsSwept(removed)
	}
	return removed, nil
}

func (s *UserService) validateRecord(record models.Record) error {
	if record.Timestamp.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "timestamp is required")
	}
	if record.Timestamp.After(s.now().Add(maxClockSkew)) {
		return dErrors.New(dErrors.CodeValidation, "timestamp is in the future")
	}
	if record.Version == "" {
		return dErrors.New(dErrors.CodeValidation, "version is required")
	}
	if record.Origin != "" && !record.Origin.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown origin: "+string(record.Origin))
	}
	return nil
}
