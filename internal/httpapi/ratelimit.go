// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// DefaultLimiterIdle is how long an idle client keeps its bucket.
const DefaultLimiterIdle = 10 * time.Minute

type limitedClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LoginLimiter rate limits login attempts per client key. A background
// goroutine evicts idle clients until Stop is called.
type LoginLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*limitedClient

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewLoginLimiter allows perSecond attempts per client with the given burst.
func NewLoginLimiter(perSecond float64, burst int, idle time.Duration) *LoginLimiter {
	return newLoginLimiter(perSecond, burst, idle, time.Now)
}

func newLoginLimiter(perSecond float64, burst int, idle time.Duration, now func() time.Time) *LoginLimiter {
	if idle <= 0 {
		idle = DefaultLimiterIdle
	}
	l := &LoginLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    idle,
		now:     now,
		clients: make(map[string]*limitedClient),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.evictLoop()
	return l
}

// Allow reports whether key may attempt a login now. When it may not, the
// returned duration is the wait until the next attempt is allowed.
func (l *LoginLimiter) Allow(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &limitedClient{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	l.mu.Unlock()

	res := c.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, 0
	}
	delay := res.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	res.CancelAt(now)
	return false, delay
}

// size returns the number of tracked clients.
func (l *LoginLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Stop ends the eviction goroutine. It is safe to call more than once.
func (l *LoginLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
}

func (l *LoginLimiter) evictLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.evict(l.now())
		}
	}
}

func (l *LoginLimiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) >= l.idle {
			delete(l.clients, key)
		}
	}
}

// Middleware rejects over-limit requests with 429 and a Retry-After header.
func (l *LoginLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := l.Allow(c.ClientIP())
		if ok {
			c.Next()
			return
		}
		seconds := int(math.Ceil(wait.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: "rate_limited"})
	}
}
