package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/thupa-pro/lipo-sub001/internal/consent/metrics"
	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	"github.com/thupa-pro/lipo-sub001/internal/consent/policy"
	"github.com/thupa-pro/lipo-sub001/internal/consent/service"
	"github.com/thupa-pro/lipo-sub001/internal/consent/store"
	"github.com/thupa-pro/lipo-sub001/internal/platform/config"
	"github.com/thupa-pro/lipo-sub001/internal/platform/health"
)

// A decision written to the shared directory by another process reaches
// the server's subscribers the first time, with nothing primed beforehand.
func TestFileSlotWatchAnnouncesOutsideDecision(t *testing.T) {
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Consent: config.Consent{Namespace: "lipo", Version: "1", Retention: 90 * 24 * time.Hour},
		Storage: config.Storage{Backend: config.StorageFile, Dir: dir},
	}
	p := policy.New(models.Version(cfg.Consent.Version), cfg.Consent.Retention)
	reg := prometheus.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	slot, err := openSlot(gctx, g, cfg, reg, health.New(cfg.Storage.Backend), log)
	require.NoError(t, err)
	defer slot.close()
	consent := service.NewService(slot.store(p, metrics.New(reg), cfg.Consent.Namespace, log), p, service.WithLogger(log))

	var (
		mu       sync.Mutex
		received []models.Event
	)
	defer consent.Subscribe(func(e models.Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
	})()

	slot.watch(gctx, g, consent, log)
	time.Sleep(50 * time.Millisecond)

	outside, err := store.NewFileSlot(dir, log)
	require.NoError(t, err)
	cli := service.NewService(store.NewConsentStore(outside, p, store.WithNamespace(cfg.Consent.Namespace)), p)
	cli.AcceptAll(ctx, models.Subject{VisitorID: "visitor-1"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) > 0
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	first := received[0]
	mu.Unlock()
	assert.Equal(t, "visitor-1", first.VisitorID)
	assert.Equal(t, models.StatusAccepted, first.Status)

	cancel()
	require.NoError(t, g.Wait())
}
