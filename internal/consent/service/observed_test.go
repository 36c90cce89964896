package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	"github.com/thupa-pro/lipo-sub001/internal/consent/policy"
	"github.com/thupa-pro/lipo-sub001/internal/consent/store"
)

func observedLen(s *Service) int {
	s.observedMu.Lock()
	defer s.observedMu.Unlock()
	return len(s.observed)
}

func TestObserved_ResetForgetsVisitor(t *testing.T) {
	ctx := context.Background()
	p := policy.New("1", 0)
	svc := NewService(store.NewConsentStore(store.NewMemorySlot(), p), p)
	subject := models.Subject{VisitorID: "visitor-1"}

	svc.AcceptAll(ctx, subject)
	assert.Equal(t, 1, observedLen(svc))

	svc.Reset(ctx, subject)
	assert.Equal(t, 0, observedLen(svc))

	_, changed := svc.Refresh(ctx, subject.VisitorID)
	assert.False(t, changed)
	assert.Equal(t, 0, observedLen(svc), "pending is never stored")
}

func TestObserved_StaysWithinLimit(t *testing.T) {
	ctx := context.Background()
	p := policy.New("1", 0)
	svc := NewService(store.NewConsentStore(store.NewMemorySlot(), p), p, WithObservedLimit(3))

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		svc.RejectAll(ctx, models.Subject{VisitorID: id})
	}
	assert.Equal(t, 3, observedLen(svc))

	// A remembered visitor keeps its slot without evicting anyone.
	svc.AcceptAll(ctx, models.Subject{VisitorID: "e"})
	assert.Equal(t, 3, observedLen(svc))
}
