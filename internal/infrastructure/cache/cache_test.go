package cache

import (
	"context"
	"testing"
	"time"
)

func TestReadKey(t *testing.T) {
	key := ReadKey(97, "balanceOf", "0xToken", "0xOwner")
	want := "read:97:balanceOf:0xToken:0xOwner"
	if key != want {
		t.Errorf("ReadKey = %q, want %q", key, want)
	}
}

func TestInMemoryCacheSetGet(t *testing.T) {
	c := NewInMemoryCache()
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "missing"); err != nil || ok {
		t.Errorf("Get(missing) = ok=%v err=%v, want miss", ok, err)
	}

	if err := c.Set(ctx, "key", "value", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value, ok, err := c.Get(ctx, "key")
	if err != nil || !ok || value != "value" {
		t.Errorf("Get = (%q, %v, %v), want hit", value, ok, err)
	}

	if err := c.Delete(ctx, "key"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "key"); ok {
		t.Error("key should be gone after Delete")
	}
}

func TestInMemoryCacheExpiry(t *testing.T) {
	c := NewInMemoryCache()
	ctx := context.Background()

	if err := c.Set(ctx, "short", "value", 10*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, "short"); ok {
		t.Error("entry should have expired")
	}

	// Zero TTL never expires.
	if err := c.Set(ctx, "forever", "value", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, "forever"); !ok {
		t.Error("zero-TTL entry should persist")
	}
}
