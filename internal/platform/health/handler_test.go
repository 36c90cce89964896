package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h *Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	r := chi.NewRouter()
	h.Register(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestLiveness(t *testing.T) {
	w, body := serve(t, New("memory"), "/health/live")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alive", body["status"])
}

func TestStatus(t *testing.T) {
	w, body := serve(t, New("redis"), "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "redis", body["storage"])
	assert.Equal(t, Version, body["version"])
}

func TestReadiness(t *testing.T) {
	h := New("redis")
	h.RegisterCheck("postgres", func(context.Context) error { return nil })

	w, body := serve(t, h, "/health/ready")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", body["status"])

	h.RegisterCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	w, body = serve(t, h, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not_ready", body["status"])
	assert.Equal(t, map[string]any{
		"postgres": "up",
		"redis":    "down: connection refused",
	}, body["checks"])
}
