package ratelimit

import (
	"testing"
	"time"
)

func TestAllowConsumesTokens(t *testing.T) {
	l := New(2, 1)
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	if !l.Allow("k") {
		t.Fatalf("first call should pass")
	}
	if !l.Allow("k") {
		t.Fatalf("second call should pass")
	}
	if l.Allow("k") {
		t.Fatalf("third call should be limited")
	}
}

func TestAllowRefills(t *testing.T) {
	l := New(1, 2) // 2 tokens/sec
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	now := base
	l.now = func() time.Time { return now }

	if !l.Allow("k") {
		t.Fatalf("first call should pass")
	}
	if l.Allow("k") {
		t.Fatalf("bucket should be empty")
	}
	now = base.Add(500 * time.Millisecond)
	if !l.Allow("k") {
		t.Fatalf("bucket should have refilled one token")
	}
}

func TestAllowKeysIsolated(t *testing.T) {
	l := New(1, 1)
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	if !l.Allow("a") {
		t.Fatalf("key a should pass")
	}
	if !l.Allow("b") {
		t.Fatalf("key b should pass independently")
	}
}
