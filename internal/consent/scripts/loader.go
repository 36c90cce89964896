// Package scripts makes the third-party scripts present in a document match
// what a consent record allows.
//
// Reconcile is idempotent: running it twice with the same record changes
// nothing the second time. Revocations are applied before grants.
package scripts

import (
	"context"
	"log/slog"
	"sync"

	"github.com/thupa-pro/lipo-sub001/internal/consent/events"
	"github.com/thupa-pro/lipo-sub001/internal/consent/metrics"
	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	"github.com/thupa-pro/lipo-sub001/internal/consent/policy"
)

// Result lists what one reconcile pass changed.
type Result struct {
	Removed  []Handle
	Inserted []Handle
	Failed   []Handle
}

// Changed reports whether the pass touched the document.
func (r Result) Changed() bool {
	return len(r.Removed) > 0 || len(r.Inserted) > 0
}

// Loader reconciles one document against consent records.
type Loader struct {
	mu      sync.Mutex
	catalog *Catalog
	doc     Document
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Loader.
type Option func(*Loader)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loader) {
		l.metrics = m
	}
}

// NewLoader binds catalog to doc.
func NewLoader(catalog *Catalog, doc Document, opts ...Option) *Loader {
	l := &Loader{catalog: catalog, doc: doc, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Document returns the document under management.
func (l *Loader) Document() Document {
	return l.doc
}

// Reconcile removes every managed script whose category record does not
// grant, or whose provider is no longer catalogued, then inserts the
// providers of granted categories that are missing. Insert failures are
// logged and left alone; they are not retried.
func (l *Loader) Reconcile(ctx context.Context, record models.Record) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	desired := policy.Desired(record)
	var res Result

	for _, h := range l.doc.Handles() {
		_, catalogued := l.catalog.Lookup(h)
		if desired[h.Category] && catalogued {
			continue
		}
		l.doc.Remove(h)
		res.Removed = append(res.Removed, h)
		if l.metrics != nil {
			l.metrics.IncrementScriptRemoved(string(h.Category))
		}
	}

	for _, category := range models.OptionalCategories {
		if !desired[category] {
			continue
		}
		for _, p := range l.catalog.For(category) {
			h := Handle{Category: category, ProviderID: p.ID}
			if l.doc.Has(h) {
				continue
			}
			if err := l.doc.Insert(h, p); err != nil {
				l.logger.DebugContext(ctx, "script insertion failed", "script", h.String(), "error", err)
				res.Failed = append(res.Failed, h)
				if l.metrics != nil {
					l.metrics.IncrementScriptInsertFailure(string(category))
				}
				continue
			}
			res.Inserted = append(res.Inserted, h)
			if l.metrics != nil {
				l.metrics.IncrementScriptInserted(string(category))
			}
		}
	}
	return res
}

// Session keeps a loader in step with the consent events of one visitor.
type Session struct {
	loader      *Loader
	visitorID   string
	unsubscribe func()
}

// Follow subscribes loader to bus for visitorID. Every matching event
// triggers a reconcile; a pending event removes all managed scripts.
func Follow(bus *events.Bus, loader *Loader, visitorID string) *Session {
	s := &Session{loader: loader, visitorID: visitorID}
	s.unsubscribe = bus.Subscribe(s.handle)
	return s
}

func (s *Session) handle(event models.Event) {
	if event.VisitorID != s.visitorID {
		return
	}
	var record models.Record
	if event.Record != nil {
		record = *event.Record
	}
	s.loader.Reconcile(context.Background(), record)
}

// Close stops following. Safe to call more than once.
func (s *Session) Close() {
	s.unsubscribe()
}
