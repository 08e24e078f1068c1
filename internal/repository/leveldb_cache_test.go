package repository

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *LevelDBCache {
	t.Helper()

	c, err := NewLevelDBCache(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	return c
}

func TestCache_PutGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	value := []byte(`{"transcript":"hello"}`)
	if err := c.Put(ctx, "fp-a", value, time.Hour); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, ok, err := c.Get(ctx, "fp-a")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if !bytes.Equal(got, value) {
		t.Errorf("expected %q, got %q", value, got)
	}
}

func TestCache_MissUnknownKey(t *testing.T) {
	c := newTestCache(t)

	_, ok, err := c.Get(context.Background(), "never-written")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Error("expected miss for unknown key")
	}
}

func TestCache_ExpiredEntryIsMiss(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, "fp-b", []byte("v"), 30*time.Millisecond); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	_, ok, err := c.Get(ctx, "fp-b")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Error("expected expired entry to read as miss")
	}
}

func TestCache_SupersedeEntry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, "fp-c", []byte("first"), time.Hour); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := c.Put(ctx, "fp-c", []byte("second"), time.Hour); err != nil {
		t.Fatalf("second put failed: %v", err)
	}

	got, ok, _ := c.Get(ctx, "fp-c")
	if !ok || string(got) != "second" {
		t.Errorf("expected superseded value 'second', got %q (ok=%v)", got, ok)
	}
}

func TestCache_StoreUnavailable(t *testing.T) {
	c := newTestCache(t)
	c.Close()

	_, _, err := c.Get(context.Background(), "fp-d")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}

	err = c.Put(context.Background(), "fp-d", []byte("v"), time.Hour)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable on put, got %v", err)
	}
}
