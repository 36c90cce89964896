package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	jwttoken "github.com/thupa-pro/lipo-sub001/internal/jwt_token"
)

// syncBuffer is a bytes.Buffer safe for one writer and one reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--dir", dir}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func showJSON(t *testing.T, dir string, args ...string) snapshotView {
	t.Helper()
	out, err := run(t, dir, append([]string{"show", "--json"}, args...)...)
	require.NoError(t, err)
	var v snapshotView
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	return v
}

func TestShowPendingByDefault(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()

	out, err := run(t, dir, "show")
	require.NoError(t, err)
	assert.Contains(t, out, "status")
	assert.Contains(t, out, "pending")

	v := showJSON(t, dir)
	assert.Equal(t, models.StatusPending, v.Status)
	assert.False(t, v.Valid)
	assert.Nil(t, v.ExpiresAt)
}

func TestDecisionsPersistAcrossInvocations(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()

	_, err := run(t, dir, "accept-all")
	require.NoError(t, err)
	v := showJSON(t, dir)
	assert.Equal(t, models.StatusAccepted, v.Status)
	assert.Equal(t, models.OriginAcceptAll, v.Origin)
	assert.True(t, v.Preferences["marketing"])

	_, err = run(t, dir, "set", "marketing=off", "analytics=false")
	require.NoError(t, err)
	v = showJSON(t, dir)
	assert.Equal(t, models.StatusAccepted, v.Status)
	assert.False(t, v.Preferences["marketing"])
	assert.True(t, v.Preferences["functional"])
	assert.Equal(t, models.OriginCustom, v.Origin)

	_, err = run(t, dir, "reject-all")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, showJSON(t, dir).Status)

	_, err = run(t, dir, "reset")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, showJSON(t, dir).Status)
}

func TestVisitorsAreSeparate(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()

	_, err := run(t, dir, "--visitor", "visitor-a", "accept-all")
	require.NoError(t, err)

	assert.Equal(t, models.StatusAccepted, showJSON(t, dir, "--visitor", "visitor-a").Status)
	assert.Equal(t, models.StatusPending, showJSON(t, dir, "--visitor", "visitor-b").Status)
	assert.Equal(t, models.StatusPending, showJSON(t, dir).Status)
}

func TestSetRejectsBadInput(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()

	cases := map[string][]string{
		"unknown category": {"set", "telemetry=true"},
		"not a bool":       {"set", "analytics=maybe"},
		"no assignment":    {"set", "analytics"},
		"no args":          {"set"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := run(t, dir, args...)
			assert.Error(t, err)
		})
	}
	assert.Equal(t, models.StatusPending, showJSON(t, dir).Status)
}

func TestScripts(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()

	out, err := run(t, dir, "scripts")
	require.NoError(t, err)
	assert.NotContains(t, out, "<script")

	_, err = run(t, dir, "set", "analytics=true")
	require.NoError(t, err)
	out, err = run(t, dir, "scripts")
	require.NoError(t, err)
	assert.Contains(t, out, `data-consent-category="analytics"`)
	assert.NotContains(t, out, `data-consent-category="marketing"`)
}

func TestToken(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := run(t, t.TempDir(), "token")
	require.Error(t, err)

	out, err := run(t, t.TempDir(), "token", "--user-id", "user-1", "--email", "ada@example.com")
	require.NoError(t, err)

	jwt := jwttoken.NewJWTService("dev-secret-key-change-in-production", "lipo", "lipo-consent", time.Minute)
	claims, err := jwt.ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "ada@example.com", claims.Email)
}

func TestWatchStreamsOutsideChanges(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()

	out := &syncBuffer{}
	cmd := newRootCmd(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--dir", dir, "watch"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"status":"pending"`)
	}, 2*time.Second, 10*time.Millisecond)
	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	_, err := run(t, dir, "accept-all")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"status":"accepted"`)
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	var last models.Envelope
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &last))
	assert.Equal(t, models.EventConsentChanged, last.Name)
	assert.True(t, last.Detail.Preferences.AllOptional())
}
