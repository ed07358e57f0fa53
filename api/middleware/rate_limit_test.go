package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLimiter struct {
	counts map[string]int64
	err    error
}

func (f *fakeLimiter) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if f.err != nil {
		return false, 0, f.err
	}
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[scope]++
	return f.counts[scope] <= limit, f.counts[scope], nil
}

func TestRateLimitBlocksAfterLimitPerUser(t *testing.T) {
	store := &fakeLimiter{}
	handler := RateLimit(NewRateLimitPolicy("checkin_verify", time.Minute, 2), store, nil)(okHandler())

	u1, u2 := uuid.New(), uuid.New()
	serve := func(userID uuid.UUID) int {
		req := httptest.NewRequest(http.MethodPut, "/api/v1/registration-code/verify", nil)
		req = req.WithContext(WithUser(req.Context(), userID))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		return resp.Code
	}

	assert.Equal(t, http.StatusOK, serve(u1))
	assert.Equal(t, http.StatusOK, serve(u1))
	assert.Equal(t, http.StatusTooManyRequests, serve(u1))
	assert.Equal(t, http.StatusOK, serve(u2))
	assert.Equal(t, int64(3), store.counts["checkin_verify:"+u1.String()])
}

func TestRateLimitFallsBackToClientIP(t *testing.T) {
	store := &fakeLimiter{}
	handler := RateLimit(NewRateLimitPolicy("checkin_verify", time.Minute, 1), store, nil)(okHandler())

	req := httptest.NewRequest(http.MethodPut, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	_, ok := store.counts["checkin_verify:ip:203.0.113.9"]
	assert.True(t, ok)
}

func TestRateLimitSetsRetryAfter(t *testing.T) {
	user := uuid.New()
	store := &fakeLimiter{counts: map[string]int64{"checkin_verify:" + user.String(): 5}}
	handler := RateLimit(NewRateLimitPolicy("checkin_verify", 90*time.Second, 5), store, nil)(okHandler())

	req := httptest.NewRequest(http.MethodPut, "/", nil)
	req = req.WithContext(WithUser(req.Context(), user))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, "90", resp.Header().Get("Retry-After"))
}

func TestRateLimitStoreFailureIsDependencyError(t *testing.T) {
	store := &fakeLimiter{err: errors.New("redis down")}
	handler := RateLimit(NewRateLimitPolicy("checkin_verify", time.Minute, 5), store, nil)(okHandler())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPut, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	handler := RateLimit(NewRateLimitPolicy("checkin_verify", 0, 0), &fakeLimiter{err: errors.New("unused")}, nil)(okHandler())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPut, "/", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
}
