// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/holomush/holoauth/internal/auth"
)

type mockAuthenticator struct {
	mock.Mock
}

func newMockAuthenticator(t *testing.T) *mockAuthenticator {
	m := &mockAuthenticator{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *mockAuthenticator) Register(ctx context.Context, email, name, password string) error {
	args := m.Called(ctx, email, name, password)
	return args.Error(0)
}

func (m *mockAuthenticator) Login(ctx context.Context, email, password string) (string, error) {
	args := m.Called(ctx, email, password)
	return args.String(0), args.Error(1)
}

func (m *mockAuthenticator) ResolveIdentity(ctx context.Context, token string) (auth.Identity, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(auth.Identity), args.Error(1)
}

func newTestRouter(t *testing.T, a Authenticator) http.Handler {
	t.Helper()
	router, err := NewRouter(RouterConfig{
		Auth:   a,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return router
}

func do(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	}
	return rec, body
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// Surfaced errors as the service builds them.
var (
	errValidation  = fmt.Errorf("wrapped: %w", auth.ErrValidation)
	errDuplicate   = fmt.Errorf("wrapped: %w", auth.ErrDuplicateEmail)
	errBadLogin    = fmt.Errorf("wrapped: %w", auth.ErrAuthenticationFailed)
	errUnauthed    = fmt.Errorf("wrapped: %w", auth.ErrUnauthorized)
	errUnavailable = fmt.Errorf("wrapped: %w", auth.ErrServiceUnavailable)
)

func TestSignup(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   map[string]any
	}{
		{"success", nil, http.StatusOK, map[string]any{"status": "ok"}},
		{"validation", errValidation, http.StatusBadRequest, map[string]any{"error": "validation"}},
		{"duplicate", errDuplicate, http.StatusBadRequest, map[string]any{"error": "duplicate_email"}},
		{"unavailable", errUnavailable, http.StatusServiceUnavailable, map[string]any{"error": "service_unavailable"}},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, map[string]any{"error": "internal"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newMockAuthenticator(t)
			a.On("Register", mock.Anything, "a@x.com", "Ann", "pw1").Return(tt.err).Once()

			rec, body := do(t, newTestRouter(t, a),
				jsonRequest(http.MethodPost, "/signup", `{"email":"a@x.com","name":"Ann","password":"pw1"}`))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestSignup_FormBody(t *testing.T) {
	a := newMockAuthenticator(t)
	a.On("Register", mock.Anything, "a@x.com", "Ann", "pw 1").Return(nil).Once()

	form := url.Values{"email": {"a@x.com"}, "name": {"Ann"}, "password": {"pw 1"}}
	req := httptest.NewRequest(http.MethodPost, "/signup", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec, body := do(t, newTestRouter(t, a), req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestSignup_MalformedBody(t *testing.T) {
	a := newMockAuthenticator(t)

	rec, body := do(t, newTestRouter(t, a), jsonRequest(http.MethodPost, "/signup", `{"email":`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", body["error"])
	a.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSignup_BodyTooLarge(t *testing.T) {
	a := newMockAuthenticator(t)
	huge := `{"email":"a@x.com","name":"` + strings.Repeat("n", maxBodyBytes) + `","password":"pw"}`

	rec, body := do(t, newTestRouter(t, a), jsonRequest(http.MethodPost, "/signup", huge))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", body["error"])
}

func TestLogin_UnreadableBodyIsAuthenticationFailure(t *testing.T) {
	bodies := map[string]string{
		"malformed": `{"email":`,
		"too large": `{"email":"a@x.com","password":"` + strings.Repeat("p", maxBodyBytes) + `"}`,
	}
	for name, payload := range bodies {
		t.Run(name, func(t *testing.T) {
			a := newMockAuthenticator(t)

			rec, body := do(t, newTestRouter(t, a), jsonRequest(http.MethodPost, "/login", payload))
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, map[string]any{"error": "authentication_failed"}, body)
			a.AssertNotCalled(t, "Login", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		err        error
		wantStatus int
		wantBody   map[string]any
	}{
		{"success", "tok", nil, http.StatusOK, map[string]any{"token": "tok"}},
		{"bad credentials", "", errBadLogin, http.StatusUnauthorized, map[string]any{"error": "authentication_failed"}},
		{"unavailable", "", errUnavailable, http.StatusServiceUnavailable, map[string]any{"error": "service_unavailable"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newMockAuthenticator(t)
			a.On("Login", mock.Anything, "a@x.com", "pw1").Return(tt.token, tt.err).Once()

			rec, body := do(t, newTestRouter(t, a),
				jsonRequest(http.MethodPost, "/login", `{"email":"a@x.com","password":"pw1"}`))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestUser(t *testing.T) {
	identity := auth.Identity{Email: "a@x.com", Name: "Ann"}

	tests := []struct {
		name      string
		header    string
		value     string
		wantToken string
	}{
		{"token header", "token", "tok", "tok"},
		{"bearer", "Authorization", "Bearer tok", "tok"},
		{"lowercase bearer", "Authorization", "bearer  tok ", "tok"},
		{"other scheme", "Authorization", "Basic tok", ""},
		{"missing", "X-Other", "tok", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newMockAuthenticator(t)
			if tt.wantToken == "" {
				a.On("ResolveIdentity", mock.Anything, "").Return(auth.Identity{}, errUnauthed).Once()
			} else {
				a.On("ResolveIdentity", mock.Anything, tt.wantToken).Return(identity, nil).Once()
			}

			req := httptest.NewRequest(http.MethodGet, "/user", nil)
			req.Header.Set(tt.header, tt.value)
			rec, body := do(t, newTestRouter(t, a), req)

			if tt.wantToken == "" {
				assert.Equal(t, http.StatusUnauthorized, rec.Code)
				assert.Equal(t, map[string]any{"error": "unauthorized"}, body)
				return
			}
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, map[string]any{"email": "a@x.com", "name": "Ann"}, body)
		})
	}
}

func TestRouter_Fallbacks(t *testing.T) {
	router := newTestRouter(t, newMockAuthenticator(t))

	rec, body := do(t, router, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["error"])

	rec, body = do(t, router, httptest.NewRequest(http.MethodGet, "/login", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "method_not_allowed", body["error"])
}

func TestNewRouter_RequiresAuthenticator(t *testing.T) {
	_, err := NewRouter(RouterConfig{})
	assert.Error(t, err)
}

func TestStatusForKind(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusForKind(auth.KindValidation))
	assert.Equal(t, http.StatusBadRequest, statusForKind(auth.KindDuplicateEmail))
	assert.Equal(t, http.StatusUnauthorized, statusForKind(auth.KindAuthenticationFailed))
	assert.Equal(t, http.StatusUnauthorized, statusForKind(auth.KindUnauthorized))
	assert.Equal(t, http.StatusServiceUnavailable, statusForKind(auth.KindServiceUnavailable))
	assert.Equal(t, http.StatusInternalServerError, statusForKind(auth.KindInternal))
}

func TestHandler_LogsUnclassifiedErrors(t *testing.T) {
	var buf bytes.Buffer
	a := newMockAuthenticator(t)
	a.On("Login", mock.Anything, "a@x.com", "pw").Return("", errors.New("surprise")).Once()

	router, err := NewRouter(RouterConfig{Auth: a, Logger: slog.New(slog.NewJSONHandler(&buf, nil))})
	require.NoError(t, err)

	rec, _ := do(t, router, jsonRequest(http.MethodPost, "/login", `{"email":"a@x.com","password":"pw"}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "unclassified auth error")
	assert.NotContains(t, rec.Body.String(), "surprise")
}
