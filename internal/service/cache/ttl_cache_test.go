package cache

import (
	"context"
	"testing"
	"time"
)

func TestTTLCacheSetGet(t *testing.T) {
	c := NewTTLCache()
	ctx := context.Background()

	if err := c.SetBytes(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	b, ok, err := c.GetBytes(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(b) != "v" {
		t.Fatalf("unexpected value %q", b)
	}
}

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTLCache()
	ctx := context.Background()
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	now := base
	c.now = func() time.Time { return now }

	if err := c.SetBytes(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	now = base.Add(2 * time.Minute)
	if _, ok, _ := c.GetBytes(ctx, "k"); ok {
		t.Fatalf("expected expired entry")
	}
}

func TestTTLCacheDeletePattern(t *testing.T) {
	c := NewTTLCache()
	ctx := context.Background()

	_ = c.SetBytes(ctx, "em:AAPL:a", []byte("1"), 0)
	_ = c.SetBytes(ctx, "em:MSFT:b", []byte("2"), 0)
	_ = c.SetBytes(ctx, "symbols:all", []byte("3"), 0)

	if err := c.DeletePattern(ctx, "em:*"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := c.GetBytes(ctx, "em:AAPL:a"); ok {
		t.Fatalf("em key should be gone")
	}
	if _, ok, _ := c.GetBytes(ctx, "symbols:all"); !ok {
		t.Fatalf("unrelated key should survive")
	}
}
