package handlers

import (
	"testing"
	"time"
)

func TestSimpleRateLimiterEnforcesWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	limiter := newSimpleRateLimiter(2, time.Minute, clock)

	if !limiter.Allow("10.0.0.1") {
		t.Fatal("first request should pass")
	}
	if !limiter.Allow("10.0.0.1") {
		t.Fatal("second request should pass")
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatal("third request within window should be rejected")
	}
	if !limiter.Allow("10.0.0.2") {
		t.Fatal("another key should have its own budget")
	}

	now = now.Add(61 * time.Second)
	if !limiter.Allow("10.0.0.1") {
		t.Fatal("request after window reset should pass")
	}
}

func TestSimpleRateLimiterBlankKey(t *testing.T) {
	t.Parallel()

	limiter := newSimpleRateLimiter(1, time.Minute, nil)
	if !limiter.Allow("") {
		t.Fatal("blank key should share the anonymous budget")
	}
	if limiter.Allow("  ") {
		t.Fatal("anonymous budget should be exhausted")
	}
}

func TestNewSimpleRateLimiterRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	if newSimpleRateLimiter(0, time.Minute, nil) != nil {
		t.Fatal("zero limit should disable the limiter")
	}
	if newSimpleRateLimiter(10, 0, nil) != nil {
		t.Fatal("zero window should disable the limiter")
	}
}
