package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	"github.com/thupa-pro/lipo-sub001/pkg/platform/sentinel"
)

func TestUserInMemoryStoreOperations(t *testing.T) {
	s := NewUserInMemory()
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	consent := &models.UserConsent{
		UserID:    "user-1",
		Email:     "ada@example.com",
		Record:    models.Record{Categories: models.Categories{Analytics: true}, Timestamp: now, Version: "1", Origin: models.OriginCustom},
		UpdatedAt: now,
	}
	require.NoError(t, s.Upsert(ctx, consent))

	fetched, err := s.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, *consent, *fetched)

	// Copy integrity
	fetched.Email = "changed@example.com"
	again, err := s.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", again.Email)

	// Upsert replaces
	consent.Record.Categories = models.GrantAll()
	require.NoError(t, s.Upsert(ctx, consent))
	fetched, err = s.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, fetched.Record.Categories.AllOptional())

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, s.Delete(ctx, "user-1"))
	require.ErrorIs(t, s.Delete(ctx, "user-1"), sentinel.ErrNotFound)
}

func TestUserInMemoryStore_DeleteStale(t *testing.T) {
	s := NewUserInMemory()
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	retention := 90 * 24 * time.Hour

	put := func(userID string, ts time.Time, version models.Version) {
		require.NoError(t, s.Upsert(ctx, &models.UserConsent{
			UserID: userID,
			Record: models.Record{Timestamp: ts, Version: version},
		}))
	}
	put("fresh", now.Add(-time.Hour), "2")
	put("expired", now.Add(-91*24*time.Hour), "2")
	put("boundary", now.Add(-retention), "2")
	put("old-version", now, "1")

	removed, err := s.DeleteStale(ctx, now.Add(-retention), "2")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	_, err = s.Get(ctx, "fresh")
	require.NoError(t, err)
	for _, gone := range []string{"expired", "boundary", "old-version"} {
		_, err = s.Get(ctx, gone)
		require.ErrorIs(t, err, sentinel.ErrNotFound, gone)
	}
}
