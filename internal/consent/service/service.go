// Package service coordinates the consent lifecycle of a browsing context:
// it builds records through the policy, persists them locally, announces
// every change on the event bus and, for signed-in users, mirrors the record
// to the server-side collaborator.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/thupa-pro/lipo-sub001/internal/consent/events"
	"github.com/thupa-pro/lipo-sub001/internal/consent/metrics"
	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	"github.com/thupa-pro/lipo-sub001/internal/consent/policy"
	"github.com/thupa-pro/lipo-sub001/internal/platform/tracer"
	dErrors "github.com/thupa-pro/lipo-sub001/pkg/domain-errors"
	syncpkg "github.com/thupa-pro/lipo-sub001/pkg/platform/sync"
)

const (
	actionAcceptAll = "accept_all"
	actionRejectAll = "reject_all"
	actionSave      = "save"
	actionReset     = "reset"

	defaultObservedLimit = 10000
)

// ConsentStore is the local persistence the service writes through.
// Reads are fail-soft: a backend failure reads as absent.
type ConsentStore interface {
	Read(ctx context.Context, subject string) (*models.Record, bool)
	Write(ctx context.Context, subject string, record models.Record) error
	Clear(ctx context.Context, subject string) error
}

// Syncer mirrors a signed-in user's record to the server side.
type Syncer interface {
	Sync(ctx context.Context, identity models.Identity, record models.Record) error
}

// Service is safe for concurrent use. Operations on the same visitor are
// serialised; different visitors proceed in parallel.
type Service struct {
	store    ConsentStore
	policy   policy.Policy
	bus      *events.Bus
	syncer   Syncer
	notifier Notifier
	locks    *syncpkg.ShardedMutex
	now      func() time.Time
	tracer   tracer.Tracer
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// observed holds the last published detail per visitor for Refresh.
	// A missing entry means pending.
	observedMu    sync.Mutex
	observed      map[string]models.EventDetail
	observedLimit int
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithSyncer enables server-side persistence for signed-in subjects.
func WithSyncer(syncer Syncer) Option {
	return func(s *Service) {
		s.syncer = syncer
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithObservedLimit caps how many visitors Refresh remembers. Past the
// cap an arbitrary entry is forgotten; its next outside change may then be
// announced even if it repeats the last event.
func WithObservedLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.observedLimit = n
		}
	}
}

// WithBus shares an existing bus instead of creating a private one.
func WithBus(bus *events.Bus) Option {
	return func(s *Service) {
		s.bus = bus
	}
}

// NewService creates the consent service.
func NewService(store ConsentStore, p policy.Policy, opts ...Option) *Service {
	s := &Service{
		store:    store,
		policy:   p,
		locks:    syncpkg.NewShardedMutex(0),
		now:      time.Now,
		tracer:   tracer.NewNoop(),
		logger:   slog.Default(),
		observed:      make(map[string]models.EventDetail),
		observedLimit: defaultObservedLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = events.NewBus(events.WithLogger(s.logger), events.WithMetrics(s.metrics))
	}
	if s.notifier == nil {
		s.notifier = NewLogNotifier(s.logger)
	}
	return s
}

// Policy returns the policy in force.
func (s *Service) Policy() policy.Policy {
	return s.policy
}

// Bus returns the bus consent changes are published on.
func (s *Service) Bus() *events.Bus {
	return s.bus
}

// Subscribe registers handler for consentChanged events and returns the
// function that removes it.
func (s *Service) Subscribe(handler events.Handler) func() {
	return s.bus.Subscribe(handler)
}

// Status reports the current state for the subject. An absent, expired or
// outdated record reads as pending with the default record.
func (s *Service) Status(ctx context.Context, subject models.Subject) Snapshot {
	ctx, span := s.tracer.Start(ctx, tracer.SpanConsentStatus,
		tracer.String(tracer.AttrSubject, tracer.HashSubject(subject.VisitorID)),
	)
	snap := s.load(ctx, subject.VisitorID, s.now())
	span.SetAttributes(tracer.String(tracer.AttrStatus, string(snap.Status)))
	span.End(nil)
	return snap
}

// AcceptAll grants every category.
func (s *Service) AcceptAll(ctx context.Context, subject models.Subject) Snapshot {
	snap, _ := s.decide(ctx, subject, actionAcceptAll, tracer.SpanConsentAcceptAll,
		func(_ models.Record, now time.Time) (models.Record, error) {
			return s.policy.CreateAcceptAll(now), nil
		})
	return snap
}

// RejectAll grants only the necessary category.
func (s *Service) RejectAll(ctx context.Context, subject models.Subject) Snapshot {
	snap, _ := s.decide(ctx, subject, actionRejectAll, tracer.SpanConsentRejectAll,
		func(_ models.Record, now time.Time) (models.Record, error) {
			return s.policy.CreateRejectNonEssential(now), nil
		})
	return snap
}

// Save merges patch over the current record, or over the default when the
// current one is not valid. Necessary cannot be revoked.
func (s *Service) Save(ctx context.Context, subject models.Subject, patch models.Patch) (Snapshot, error) {
	return s.decide(ctx, subject, actionSave, tracer.SpanConsentSave,
		func(current models.Record, now time.Time) (models.Record, error) {
			for category := range patch {
				if !category.IsValid() {
					return models.Record{}, dErrors.New(dErrors.CodeValidation, "unknown consent category: "+string(category))
				}
			}
			if granted, ok := patch[models.CategoryNecessary]; ok && !granted {
				s.logger.DebugContext(ctx, "ignoring attempt to revoke necessary category",
					"visitor_id", subject.VisitorID,
				)
			}
			return policy.Merge(current, patch, now), nil
		})
}

// Reset forgets the local decision and returns the subject to pending.
// Server-side copies are left alone.
func (s *Service) Reset(ctx context.Context, subject models.Subject) Snapshot {
	ctx, span := s.tracer.Start(ctx, tracer.SpanConsentReset,
		tracer.String(tracer.AttrSubject, tracer.HashSubject(subject.VisitorID)),
	)
	defer span.End(nil)

	s.locks.Lock(subject.VisitorID)
	defer s.locks.Unlock(subject.VisitorID)

	now := s.now()
	persisted := true
	if err := s.store.Clear(ctx, subject.VisitorID); err != nil {
		persisted = false
		s.logger.WarnContext(ctx, "failed to clear stored consent",
			"visitor_id", subject.VisitorID,
			"error", err,
		)
	}
	snap := s.pending(subject.VisitorID, now)
	snap.Persisted = persisted
	span.SetAttributes(tracer.Bool(tracer.AttrPersisted, persisted))

	s.publish(ctx, span, snap, now)
	if s.metrics != nil {
		s.metrics.IncrementDecision(actionReset, string(snap.Status))
	}
	return snap
}

// Refresh re-reads storage after an outside change, such as another
// process writing the same directory, and publishes when the status or
// preferences differ from what this service last published or observed.
// A visitor never seen before compares against pending, so the first
// outside decision is announced.
func (s *Service) Refresh(ctx context.Context, visitorID string) (Snapshot, bool) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanConsentRefresh,
		tracer.String(tracer.AttrSubject, tracer.HashSubject(visitorID)),
	)
	defer span.End(nil)

	s.locks.Lock(visitorID)
	defer s.locks.Unlock(visitorID)

	now := s.now()
	snap := s.load(ctx, visitorID, now)
	detail := snap.Event(now).Detail()

	changed := s.observe(visitorID, detail)
	span.SetAttributes(tracer.Bool(tracer.AttrChanged, changed))
	if changed {
		s.bus.Publish(ctx, snap.Event(now))
		span.AddEvent(tracer.EventPublished, tracer.String(tracer.AttrStatus, string(snap.Status)))
	}
	return snap, changed
}

type buildFunc func(current models.Record, now time.Time) (models.Record, error)

// decide runs one user action: build, persist, publish, then sync. A failed
// local write keeps the new state in the returned snapshot only. A failed
// remote sync keeps the local state and is notified exactly once.
func (s *Service) decide(ctx context.Context, subject models.Subject, action, spanName string, build buildFunc) (snap Snapshot, err error) {
	ctx, span := s.tracer.Start(ctx, spanName,
		tracer.String(tracer.AttrSubject, tracer.HashSubject(subject.VisitorID)),
		tracer.Bool(tracer.AttrSignedIn, subject.SignedIn()),
	)
	defer func() {
		span.End(err)
	}()

	s.locks.Lock(subject.VisitorID)
	defer s.locks.Unlock(subject.VisitorID)

	now := s.now()
	current := s.load(ctx, subject.VisitorID, now)
	record, err := build(current.Record, now)
	if err != nil {
		return Snapshot{}, err
	}

	persisted := true
	if werr := s.store.Write(ctx, subject.VisitorID, record); werr != nil {
		persisted = false
		s.logger.WarnContext(ctx, "consent not persisted, keeping in-memory state",
			"visitor_id", subject.VisitorID,
			"action", action,
			"error", werr,
		)
	}
	snap = s.valid(subject.VisitorID, record)
	snap.Persisted = persisted
	span.SetAttributes(
		tracer.Bool(tracer.AttrPersisted, persisted),
		tracer.String(tracer.AttrStatus, string(snap.Status)),
	)

	s.publish(ctx, span, snap, now)
	s.recordDecision(action, snap)

	if subject.SignedIn() && s.syncer != nil {
		if serr := s.sync(ctx, *subject.User, record); serr != nil {
			snap.SyncError = serr
			s.notifier.NotifyError(ctx, subject, serr)
		}
	}
	return snap, nil
}

func (s *Service) sync(ctx context.Context, identity models.Identity, record models.Record) (err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanRemoteSync,
		tracer.String(tracer.AttrSubject, tracer.HashSubject(identity.ID)),
	)
	defer func() {
		span.End(err)
	}()

	err = s.syncer.Sync(ctx, identity, record)
	outcome := "success"
	if err != nil {
		outcome = "failure"
		s.logger.ErrorContext(ctx, "failed to sync consent to account",
			"user_id", identity.ID,
			"error", err,
		)
	}
	if s.metrics != nil {
		s.metrics.IncrementRemoteSync(outcome)
	}
	return err
}

func (s *Service) publish(ctx context.Context, span tracer.Span, snap Snapshot, now time.Time) {
	event := snap.Event(now)
	s.bus.Publish(ctx, event)
	span.AddEvent(tracer.EventPublished, tracer.String(tracer.AttrStatus, string(snap.Status)))

	s.observe(snap.VisitorID, event.Detail())
}

// observe records detail as the visitor's current state and reports whether
// it differs from the previous one. Pending is not stored.
func (s *Service) observe(visitorID string, detail models.EventDetail) bool {
	s.observedMu.Lock()
	defer s.observedMu.Unlock()

	previous, ok := s.observed[visitorID]
	if !ok {
		previous = models.EventDetail{Status: models.StatusPending}
	}
	if detail.Status == models.StatusPending {
		delete(s.observed, visitorID)
		return previous != detail
	}
	if !ok && len(s.observed) >= s.observedLimit {
		for evict := range s.observed {
			delete(s.observed, evict)
			break
		}
	}
	s.observed[visitorID] = detail
	return previous != detail
}

func (s *Service) recordDecision(action string, snap Snapshot) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncrementDecision(action, string(snap.Status))
	for _, category := range models.OptionalCategories {
		s.metrics.IncrementCategoryDecision(string(category), snap.Record.Categories.Get(category))
	}
}

func (s *Service) load(ctx context.Context, visitorID string, now time.Time) Snapshot {
	record, ok := s.store.Read(ctx, visitorID)
	if !ok || !s.policy.IsValid(*record, now) {
		return s.pending(visitorID, now)
	}
	snap := s.valid(visitorID, *record)
	snap.Persisted = true
	return snap
}

func (s *Service) valid(visitorID string, record models.Record) Snapshot {
	return Snapshot{
		VisitorID: visitorID,
		Status:    record.Status(),
		Valid:     true,
		Record:    record,
		ExpiresAt: s.policy.ExpiresAt(record),
	}
}

func (s *Service) pending(visitorID string, now time.Time) Snapshot {
	return Snapshot{
		VisitorID: visitorID,
		Status:    models.StatusPending,
		Record:    s.policy.CreateDefault(now),
	}
}
