package store

import (
	"context"
	"sync"
	"time"

	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	"github.com/thupa-pro/lipo-sub001/pkg/platform/sentinel"
)

// UserInMemoryStore keeps user consent in process memory. Used when no
// database is configured and in tests.
type UserInMemoryStore struct {
	mu       sync.RWMutex
	consents map[string]*models.UserConsent
}

// NewUserInMemory constructs an empty in-memory user consent store.
func NewUserInMemory() *UserInMemoryStore {
	return &UserInMemoryStore{consents: make(map[string]*models.UserConsent)}
}

func (s *UserInMemoryStore) Upsert(_ context.Context, consent *models.UserConsent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *consent
	s.consents[consent.UserID] = &copied
	return nil
}

func (s *UserInMemoryStore) Get(_ context.Context, userID string) (*models.UserConsent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	consent, ok := s.consents[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *consent
	return &copied, nil
}

func (s *UserInMemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consents[userID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.consents, userID)
	return nil
}

func (s *UserInMemoryStore) DeleteStale(_ context.Context, cutoff time.Time, current models.Version) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for userID, consent := range s.consents {
		if consent.Stale(cutoff, current) {
			delete(s.consents, userID)
			removed++
		}
	}
	return removed, nil
}
