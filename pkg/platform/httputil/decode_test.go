package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "github.com/thupa-pro/lipo-sub001/pkg/domain-errors"
)

type patchRequest struct {
	Categories map[string]bool `json:"categories"`
	normalized bool
}

func (r *patchRequest) Normalize() {
	r.normalized = true
	out := make(map[string]bool, len(r.Categories))
	for k, v := range r.Categories {
		out[strings.ToLower(k)] = v
	}
	r.Categories = out
}

func (r *patchRequest) Validate() error {
	if len(r.Categories) == 0 {
		return errors.New("categories are required")
	}
	return nil
}

type identityRequest struct {
	UserID string `json:"user_id"`
}

func (r *identityRequest) Validate() error {
	if r.UserID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "user_id is required")
	}
	return nil
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestDecodeJSON(t *testing.T) {
	t.Run("decodes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/consent", strings.NewReader(`{"categories":{"analytics":true}}`))
		got, ok := DecodeJSON[patchRequest](httptest.NewRecorder(), req, discard)
		require.True(t, ok)
		assert.Equal(t, map[string]bool{"analytics": true}, got.Categories)
	})

	for name, body := range map[string]string{"malformed": `{nope}`, "empty": ``} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			got, ok := DecodeJSON[patchRequest](w, httptest.NewRequest(http.MethodPut, "/consent", strings.NewReader(body)), discard)
			assert.False(t, ok)
			assert.Nil(t, got)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "bad_request", decodeError(t, w).Error)
		})
	}

	t.Run("oversized body", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/consent", strings.NewReader(`{"categories":{"analytics":true}}`))
		req.Body = http.MaxBytesReader(w, req.Body, 8)
		_, ok := DecodeJSON[patchRequest](w, req, discard)
		assert.False(t, ok)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestDecodeAndPrepare(t *testing.T) {
	t.Run("normalizes then validates", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/consent", strings.NewReader(`{"categories":{"Analytics":true}}`))
		got, ok := DecodeAndPrepare[patchRequest](httptest.NewRecorder(), req, discard)
		require.True(t, ok)
		assert.True(t, got.normalized)
		assert.Equal(t, map[string]bool{"analytics": true}, got.Categories)
	})

	t.Run("plain validation error becomes validation_error", func(t *testing.T) {
		w := httptest.NewRecorder()
		_, ok := DecodeAndPrepare[patchRequest](w, httptest.NewRequest(http.MethodPut, "/consent", strings.NewReader(`{}`)), discard)
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, "validation_error", resp.Error)
		assert.Equal(t, "categories are required", resp.Description)
	})

	t.Run("domain error keeps its code", func(t *testing.T) {
		w := httptest.NewRecorder()
		_, ok := DecodeAndPrepare[identityRequest](w, httptest.NewRequest(http.MethodPost, "/api/user/consent", strings.NewReader(`{}`)), discard)
		assert.False(t, ok)
		assert.Equal(t, "bad_request", decodeError(t, w).Error)
	})
}

func TestWriteError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{dErrors.New(dErrors.CodeNotFound, "no consent stored for user"), http.StatusNotFound, "not_found"},
		{dErrors.New(dErrors.CodeValidation, "bad"), http.StatusBadRequest, "validation_error"},
		{dErrors.New(dErrors.CodeUnauthorized, "who"), http.StatusUnauthorized, "unauthorized"},
		{dErrors.New(dErrors.CodeUnavailable, "down"), http.StatusServiceUnavailable, "unavailable"},
		{dErrors.Wrap(errors.New("pq: boom"), dErrors.CodeInternal, "failed"), http.StatusInternalServerError, "internal_error"},
		{errors.New("raw"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tc.err)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, decodeError(t, w).Error)
		})
	}

	t.Run("raw errors leak no detail", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, errors.New("dial tcp 10.0.0.5:5432: connection refused"))
		assert.NotContains(t, w.Body.String(), "10.0.0.5")
	})
}
