//go:build integration

package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	"github.com/thupa-pro/lipo-sub001/internal/consent/store"
	"github.com/thupa-pro/lipo-sub001/pkg/platform/sentinel"
	"github.com/thupa-pro/lipo-sub001/pkg/testutil"
	"github.com/thupa-pro/lipo-sub001/pkg/testutil/containers"
)

type UserPostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.UserPostgresStore
}

func TestUserPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(UserPostgresStoreSuite))
}

func (s *UserPostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewUserPostgres(s.postgres.DB)
}

func (s *UserPostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "user_consents"))
}

func (s *UserPostgresStoreSuite) TestUpsertAndGet() {
	ctx := context.Background()
	consent := testutil.NewTestUserConsent("user-1", models.Categories{Analytics: true, Marketing: true})

	s.Require().NoError(s.store.Upsert(ctx, consent))

	found, err := s.store.Get(ctx, "user-1")
	s.Require().NoError(err)
	s.Equal(consent.Email, found.Email)
	s.Equal(consent.Record.Categories, found.Record.Categories)
	s.Equal(consent.Record.Version, found.Record.Version)
	s.Equal(consent.Record.Origin, found.Record.Origin)
	s.WithinDuration(consent.Record.Timestamp, found.Record.Timestamp, time.Millisecond)
}

func (s *UserPostgresStoreSuite) TestUpsertReplaces() {
	ctx := context.Background()
	consent := testutil.NewTestUserConsent("user-1", models.GrantAll())
	s.Require().NoError(s.store.Upsert(ctx, consent))

	consent.Record.Categories = models.Categories{}
	consent.Record.Origin = models.OriginRejectAll
	s.Require().NoError(s.store.Upsert(ctx, consent))

	found, err := s.store.Get(ctx, "user-1")
	s.Require().NoError(err)
	s.False(found.Record.Categories.AnyOptional())
	s.Equal(models.OriginRejectAll, found.Record.Origin)
}

// TestConcurrentUpserts verifies last-writer-wins without conflicts when many
// devices of the same user sync at once.
func (s *UserPostgresStoreSuite) TestConcurrentUpserts() {
	ctx := context.Background()

	result := testutil.RunConcurrent(30, func(idx int) error {
		consent := testutil.NewTestUserConsent("user-1", models.Categories{Analytics: idx%2 == 0})
		consent.Email = fmt.Sprintf("device-%d@example.com", idx)
		return s.store.Upsert(ctx, consent)
	})

	s.Equal(int32(30), result.Successes)
	_, err := s.store.Get(ctx, "user-1")
	s.Require().NoError(err)
}

func (s *UserPostgresStoreSuite) TestDeleteAndNotFound() {
	ctx := context.Background()
	_, err := s.store.Get(ctx, "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.Delete(ctx, "missing"), sentinel.ErrNotFound)

	s.Require().NoError(s.store.Upsert(ctx, testutil.NewTestUserConsent("user-1", models.Categories{})))
	s.Require().NoError(s.store.Delete(ctx, "user-1"))
	_, err = s.store.Get(ctx, "user-1")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *UserPostgresStoreSuite) TestDeleteStale() {
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := testutil.NewTestUserConsent("fresh", models.GrantAll())
	expired := testutil.NewTestUserConsent("expired", models.GrantAll())
	expired.Record.Timestamp = now.Add(-91 * 24 * time.Hour)
	oldVersion := testutil.NewTestUserConsent("old-version", models.GrantAll())
	oldVersion.Record.Version = "0"

	for _, c := range []*models.UserConsent{fresh, expired, oldVersion} {
		s.Require().NoError(s.store.Upsert(ctx, c))
	}

	removed, err := s.store.DeleteStale(ctx, now.Add(-90*24*time.Hour), fresh.Record.Version)
	s.Require().NoError(err)
	s.Equal(2, removed)

	_, err = s.store.Get(ctx, "fresh")
	s.NoError(err)
}

func (s *UserPostgresStoreSuite) TestTransactionRollback() {
	ctx := context.Background()
	tx, err := s.postgres.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)

	txStore := store.NewUserPostgresTx(tx)
	s.Require().NoError(txStore.Upsert(ctx, testutil.NewTestUserConsent("user-1", models.GrantAll())))
	s.Require().NoError(tx.Rollback())

	_, err = s.store.Get(ctx, "user-1")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
