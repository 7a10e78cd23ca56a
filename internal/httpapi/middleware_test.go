// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/holomush/holoauth/internal/auth"
	"github.com/holomush/holoauth/internal/logging"
	"github.com/holomush/holoauth/pkg/errutil"
)

type observation struct {
	method, route string
	status        int
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []observation
}

func (o *recordingObserver) ObserveHTTPRequest(method, route string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, observation{method, route, status})
}

func TestRequestID_GeneratedWhenAbsent(t *testing.T) {
	a := newMockAuthenticator(t)
	a.On("ResolveIdentity", mock.Anything, "").Return(auth.Identity{}, errUnauthed)

	rec := httptest.NewRecorder()
	newTestRouter(t, a).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user", nil))

	id := rec.Header().Get(RequestIDHeader)
	assert.Len(t, id, 36, "expected a uuid, got %q", id)
}

func TestRequestID_PropagatedToContextAndLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("holoauth", "test", logging.FormatJSON, slog.LevelInfo, &buf)

	a := newMockAuthenticator(t)
	var seenID string
	a.On("ResolveIdentity", mock.Anything, "").
		Run(func(args mock.Arguments) {
			seenID = logging.RequestID(args.Get(0).(context.Context))
		}).
		Return(auth.Identity{}, errUnauthed)

	router, err := NewRouter(RouterConfig{Auth: a, Logger: logger})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/user", nil)
	req.Header.Set(RequestIDHeader, "client-id-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "client-id-1", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "client-id-1", seenID)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "http request", entry["msg"])
	assert.Equal(t, "client-id-1", entry["request_id"])
	assert.Equal(t, "/user", entry["route"])
	assert.InDelta(t, http.StatusUnauthorized, entry["status"], 0)
}

func TestRequestID_OversizedIsReplaced(t *testing.T) {
	a := newMockAuthenticator(t)
	a.On("ResolveIdentity", mock.Anything, "").Return(auth.Identity{}, errUnauthed)

	req := httptest.NewRequest(http.MethodGet, "/user", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLen+1))
	rec := httptest.NewRecorder()
	newTestRouter(t, a).ServeHTTP(rec, req)

	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
}

func TestMetricsMiddleware(t *testing.T) {
	a := newMockAuthenticator(t)
	a.On("Login", mock.Anything, "a@x.com", "pw").Return("tok", nil)
	obs := &recordingObserver{}

	router, err := NewRouter(RouterConfig{
		Auth:    a,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: obs,
	})
	require.NoError(t, err)

	router.ServeHTTP(httptest.NewRecorder(), jsonRequest(http.MethodPost, "/login", `{"email":"a@x.com","password":"pw"}`))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, []observation{
		{http.MethodPost, "/login", http.StatusOK},
		{http.MethodGet, "", http.StatusNotFound},
	}, obs.seen)
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	engine := gin.New()
	engine.Use(requestID(), recovery(logger))
	engine.GET("/panic", func(*gin.Context) { panic("kaboom") })

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal"}`, rec.Body.String())
	assert.Contains(t, buf.String(), "kaboom")
}

func preflight(t *testing.T, h http.Handler, origin string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodOptions, "/login", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORS(t *testing.T) {
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("wildcard allows any origin", func(t *testing.T) {
		router, err := NewRouter(RouterConfig{Auth: newMockAuthenticator(t), Logger: discard, CORSOrigins: []string{"*"}})
		require.NoError(t, err)

		rec := preflight(t, router, "https://anything.test")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("glob patterns", func(t *testing.T) {
		router, err := NewRouter(RouterConfig{
			Auth:        newMockAuthenticator(t),
			Logger:      discard,
			CORSOrigins: []string{"https://*.example.com", "http://localhost:*"},
		})
		require.NoError(t, err)

		for _, origin := range []string{"https://app.example.com", "http://localhost:8080"} {
			rec := preflight(t, router, origin)
			assert.Equal(t, http.StatusNoContent, rec.Code, origin)
			assert.Equal(t, origin, rec.Header().Get("Access-Control-Allow-Origin"), origin)
		}

		for _, origin := range []string{"https://evil.test", "https://a.b.example.com"} {
			rec := preflight(t, router, origin)
			assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"), origin)
		}
	})

	t.Run("invalid pattern", func(t *testing.T) {
		_, err := NewRouter(RouterConfig{Auth: newMockAuthenticator(t), Logger: discard, CORSOrigins: []string{"https://[a"}})
		errutil.AssertErrorCode(t, err, "HTTP_INVALID_CORS_ORIGIN")
	})
}
