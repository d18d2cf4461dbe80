package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBucket(t *testing.T, capacity int, refill float64) *TokenBucket {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return NewTokenBucket(redis.NewClient(&redis.Options{Addr: mr.Addr()}), capacity, refill, time.Minute)
}

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	bucket := newBucket(t, 2, 1)

	allowed, _, err := bucket.Allow(ctx, "planner-1")
	require.NoError(t, err)
	assert.True(t, allowed)
	allowed, _, _ = bucket.Allow(ctx, "planner-1")
	assert.True(t, allowed)
	allowed, _, _ = bucket.Allow(ctx, "planner-1")
	assert.False(t, allowed, "third token should be rejected")

	allowed, _, _ = bucket.Allow(ctx, "planner-2")
	assert.True(t, allowed, "buckets are per actor")
}

func TestTokenBucketRefill(t *testing.T) {
	ctx := context.Background()
	bucket := newBucket(t, 1, 1)
	clock := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	bucket.now = func() time.Time { return clock }

	allowed, left, err := bucket.Allow(ctx, "op")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, left)
	allowed, _, _ = bucket.Allow(ctx, "op")
	assert.False(t, allowed)

	clock = clock.Add(500 * time.Millisecond)
	allowed, left, _ = bucket.Allow(ctx, "op")
	assert.False(t, allowed)
	assert.InDelta(t, 0.5, left, 0.001, "fractional balance survives the round trip")

	clock = clock.Add(time.Second)
	allowed, _, _ = bucket.Allow(ctx, "op")
	assert.True(t, allowed)
}

type stubLimiter struct {
	allowed bool
	err     error
	actors  []string
}

func (s *stubLimiter) Allow(_ context.Context, actor string) (bool, float64, error) {
	s.actors = append(s.actors, actor)
	return s.allowed, 0, s.err
}

func TestMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	actorOf := func(r *http.Request) string { return r.Header.Get("X-Actor-ID") }

	deny := &stubLimiter{}
	h := Middleware(deny, actorOf, logger)(ok)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lifecycles", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code, "reads are not limited")

	req := httptest.NewRequest(http.MethodPost, "/lifecycles", nil)
	req.Header.Set("X-Actor-ID", "planner-1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, []string{"planner-1"}, deny.actors)

	broken := &stubLimiter{err: errors.New("redis down")}
	rec = httptest.NewRecorder()
	Middleware(broken, actorOf, logger)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/lifecycles", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
