package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreTTL(t *testing.T) {
	s := NewMemoryStore(10 * time.Millisecond)
	defer s.Close()

	ctx := context.Background()
	key := "test:key"
	val := []byte("hello")

	if err := s.Set(ctx, key, val, 50*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, hit, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !hit {
		t.Fatalf("expected hit immediately after Set")
	}
	if string(got) != "hello" {
		t.Fatalf("expected 'hello', got %q", got)
	}

	// Wait for TTL to expire
	time.Sleep(70 * time.Millisecond)

	_, hit, err = s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get after TTL failed: %v", err)
	}
	if hit {
		t.Fatalf("expected miss after TTL expiry")
	}
}

func TestMemoryStoreOverwrite(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()

	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("first"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("second"), time.Minute); err != nil {
		t.Fatalf("second Set failed: %v", err)
	}

	got, hit, err := s.Get(ctx, "k")
	if err != nil || !hit {
		t.Fatalf("expected hit, got hit=%v err=%v", hit, err)
	}
	if string(got) != "second" {
		t.Fatalf("expected last write to win, got %q", got)
	}
}

func TestMemoryStoreValueIsolated(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()

	ctx := context.Background()
	buf := []byte("original")
	if err := s.Set(ctx, "k", buf, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	buf[0] = 'X'

	got, hit, _ := s.Get(ctx, "k")
	if !hit || string(got) != "original" {
		t.Fatalf("stored value should not alias caller buffer, got %q", got)
	}
}
