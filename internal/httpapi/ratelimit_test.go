// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, perSecond float64, burst int) (*LoginLimiter, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newLoginLimiter(perSecond, burst, time.Hour, clock.Now)
	t.Cleanup(l.Stop)
	return l, clock
}

func TestLoginLimiter_BurstThenRefill(t *testing.T) {
	defer goleak.VerifyNone(t)
	l, clock := newTestLimiter(t, 1, 3)

	for i := range 3 {
		ok, _ := l.Allow("10.0.0.1")
		assert.True(t, ok, "attempt %d within burst", i)
	}

	ok, wait := l.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	ok, _ = l.Allow("10.0.0.2")
	assert.True(t, ok, "other clients have their own bucket")

	clock.Advance(time.Second)
	ok, _ = l.Allow("10.0.0.1")
	assert.True(t, ok, "one token refilled")

	l.Stop()
}

func TestLoginLimiter_RejectedAttemptsDoNotConsume(t *testing.T) {
	defer goleak.VerifyNone(t)
	l, clock := newTestLimiter(t, 1, 1)

	ok, _ := l.Allow("k")
	require.True(t, ok)
	for range 5 {
		ok, _ = l.Allow("k")
		assert.False(t, ok)
	}

	clock.Advance(time.Second)
	ok, _ = l.Allow("k")
	assert.True(t, ok)

	l.Stop()
}

func TestLoginLimiter_Evict(t *testing.T) {
	defer goleak.VerifyNone(t)
	l, clock := newTestLimiter(t, 1, 1)

	l.Allow("old")
	clock.Advance(30 * time.Minute)
	l.Allow("new")
	require.Equal(t, 2, l.size())

	l.evict(clock.Now().Add(31 * time.Minute))
	assert.Equal(t, 1, l.size())

	l.evict(clock.Now().Add(2 * time.Hour))
	assert.Zero(t, l.size())

	l.Stop()
}

func TestLoginLimiter_EvictLoopRunsAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)
	l := NewLoginLimiter(1, 1, 20*time.Millisecond)

	l.Allow("k")
	assert.Eventually(t, func() bool { return l.size() == 0 }, 2*time.Second, 5*time.Millisecond)

	l.Stop()
	l.Stop()
}

func TestLoginLimiter_ConcurrentAllow(t *testing.T) {
	defer goleak.VerifyNone(t)
	l, _ := newTestLimiter(t, 1, 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("shared"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowed)
	l.Stop()
}

func TestLoginLimiter_Middleware(t *testing.T) {
	l, _ := newTestLimiter(t, 0.5, 1)
	a := newMockAuthenticator(t)
	a.On("Login", mock.Anything, "a@x.com", "pw").Return("tok", nil).Once()

	router, err := NewRouter(RouterConfig{
		Auth:         a,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		LoginLimiter: l,
	})
	require.NoError(t, err)

	login := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, jsonRequest(http.MethodPost, "/login", `{"email":"a@x.com","password":"pw"}`))
		return rec
	}

	assert.Equal(t, http.StatusOK, login().Code)

	rec := login()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate_limited"}`, rec.Body.String())
}

func TestLoginLimiter_MiddlewareLeavesOtherRoutes(t *testing.T) {
	l, _ := newTestLimiter(t, 1, 1)
	a := newMockAuthenticator(t)
	a.On("Register", mock.Anything, "a@x.com", "Ann", "pw").Return(nil).Times(3)

	router, err := NewRouter(RouterConfig{
		Auth:         a,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		LoginLimiter: l,
	})
	require.NoError(t, err)

	for range 3 {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, jsonRequest(http.MethodPost, "/signup", `{"email":"a@x.com","name":"Ann","password":"pw"}`))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
