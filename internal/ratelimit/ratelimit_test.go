package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
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
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, perMinute, burst int) (*Limiter, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)}
	l := New(Config{RequestsPerMinute: perMinute, BurstSize: burst, CleanupInterval: time.Hour}).WithClock(clock.Now)
	t.Cleanup(l.Stop)
	return l, clock
}

func TestLimiter_BurstThenRefill(t *testing.T) {
	l, clock := newTestLimiter(t, 60, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("203.0.113.7"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("203.0.113.7"))

	clock.Advance(time.Second)
	assert.True(t, l.Allow("203.0.113.7"))
	assert.False(t, l.Allow("203.0.113.7"))
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 1)

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestLimiter_RefillCapsAtBurst(t *testing.T) {
	l, clock := newTestLimiter(t, 60, 2)

	assert.True(t, l.Allow("k"))
	clock.Advance(time.Hour)
	assert.True(t, l.Allow("k"))
	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))
}

func TestLimiter_SweepDropsIdleBuckets(t *testing.T) {
	l, clock := newTestLimiter(t, 60, 1)

	l.Allow("idle")
	clock.Advance(3 * time.Minute)
	l.sweep()

	l.mu.Lock()
	_, ok := l.buckets["idle"]
	l.mu.Unlock()
	assert.False(t, ok)
}

func TestLimiter_StopTwice(t *testing.T) {
	l := New(DefaultConfig())
	l.Stop()
	assert.NotPanics(t, l.Stop)
}

func TestMiddleware_Rejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter(t, 60, 1)

	router := gin.New()
	router.Use(l.Middleware())
	router.GET("/v1/payments/:reference", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := testutil.ToFloat64(rejected)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/payments/ORD1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/payments/ORD1", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
	assert.Equal(t, before+1, testutil.ToFloat64(rejected))
}
