package cleanup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	"github.com/thupa-pro/lipo-sub001/internal/consent/policy"
	"github.com/thupa-pro/lipo-sub001/internal/consent/service"
	"github.com/thupa-pro/lipo-sub001/internal/consent/store"
	dErrors "github.com/thupa-pro/lipo-sub001/pkg/domain-errors"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (c *countingSweeper) Sweep(context.Context) (int, error) {
	c.calls.Add(1)
	return 0, c.err
}

func TestCleanupService_RunOnce_Integration(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	current := policy.New("2", 90*24*time.Hour)
	users := store.NewUserInMemory()
	svc := service.NewUserService(users, current, service.WithUserClock(clock))

	fresh := models.Identity{ID: "fresh"}
	_, err := svc.Save(ctx, fresh, current.CreateAcceptAll(now.Add(-time.Hour)))
	require.NoError(t, err)

	expired := models.Identity{ID: "expired"}
	_, err = svc.Save(ctx, expired, current.CreateAcceptAll(now.Add(-91*24*time.Hour)))
	require.NoError(t, err)

	outdated := models.Identity{ID: "outdated"}
	_, err = svc.Save(ctx, outdated, policy.New("1", current.Retention).CreateAcceptAll(now))
	require.NoError(t, err)

	cleanup, err := New(svc, "@every 1h")
	require.NoError(t, err)

	res, err := cleanup.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.DeletedUserConsents)

	_, err = svc.Get(ctx, fresh.ID)
	require.NoError(t, err)
	_, err = svc.Get(ctx, expired.ID)
	require.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	_, err = svc.Get(ctx, outdated.ID)
	require.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestCleanupService_New(t *testing.T) {
	_, err := New(nil, "")
	require.Error(t, err)

	_, err = New(&countingSweeper{}, "not a schedule")
	require.Error(t, err)

	svc, err := New(&countingSweeper{}, "")
	require.NoError(t, err)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, base.Add(time.Hour), svc.Next(base))

	svc, err = New(&countingSweeper{}, "0 3 * * *")
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), svc.Next(base))
}

func TestCleanupService_RunOnceError(t *testing.T) {
	svc, err := New(&countingSweeper{err: errors.New("db down")}, "")
	require.NoError(t, err)

	_, err = svc.RunOnce(context.Background())
	require.ErrorContains(t, err, "db down")
}

func TestCleanupService_StartRunsOnScheduleAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	sweeper := &countingSweeper{}
	svc, err := New(sweeper, "@every 1s")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	require.Eventually(t, func() bool { return sweeper.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cleanup did not stop")
	}
}
