// Package events fans consent changes out to in-process subscribers.
//
// Dispatch is synchronous on the publisher's goroutine and follows
// subscription order. There is no queue and no replay: a subscriber only sees
// events published after it subscribed.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/thupa-pro/lipo-sub001/internal/consent/metrics"
	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
)

// Handler receives one consent event.
type Handler func(models.Event)

type subscription struct {
	id      uint64
	handler Handler
	active  atomic.Bool
}

// Bus is a synchronous publish/subscribe hub for consentChanged events.
type Bus struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    []*subscription
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Bus.
type Option func(*Bus)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

// NewBus returns a bus with no subscribers.
func NewBus(opts ...Option) *Bus {
	b := &Bus{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler and returns a function that removes it. The
// returned function may be called any number of times.
func (b *Bus) Subscribe(handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, handler: handler}
	sub.active.Store(true)
	b.subs = append(b.subs, sub)
	count := len(b.subs)
	b.mu.Unlock()
	b.reportSubscribers(count)

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub) })
	}
}

func (b *Bus) remove(sub *subscription) {
	sub.active.Store(false)
	b.mu.Lock()
	for i, s := range b.subs {
		if s.id == sub.id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			break
		}
	}
	count := len(b.subs)
	b.mu.Unlock()
	b.reportSubscribers(count)
}

// Publish delivers event to every current subscriber in subscription order
// and returns once all have run. Subscribers added during dispatch do not
// see this event; subscribers removed during dispatch are skipped if not yet
// reached. A panicking handler is logged and does not stop the fan-out.
func (b *Bus) Publish(ctx context.Context, event models.Event) {
	b.mu.RLock()
	snapshot := make([]*subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.RUnlock()

	for _, sub := range snapshot {
		if !sub.active.Load() {
			continue
		}
		b.dispatch(ctx, sub, event)
	}
	if b.metrics != nil {
		b.metrics.IncrementEventsPublished()
	}
}

func (b *Bus) dispatch(ctx context.Context, sub *subscription, event models.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "consent event handler panicked",
				"subscription", sub.id,
				"visitor_id", event.VisitorID,
				"panic", r,
			)
		}
	}()
	sub.handler(event)
}

// Len returns the number of active subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) reportSubscribers(count int) {
	if b.metrics != nil {
		b.metrics.SetSubscribers(count)
	}
}
