package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/layerdynamics/forge-runtime/internal/oprt"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.Set("app-a", "greeting", []byte("hello")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get("app-a", "greeting")
	if err != nil || !ok {
		t.Fatalf("Get: v=%v ok=%v err=%v", v, ok, err)
	}
	if string(v) != "hello" {
		t.Fatalf("got %q, want hello", v)
	}
}

func TestStoreScopedByApp(t *testing.T) {
	s := openTestStore(t)

	if err := s.Set("app-a", "k", []byte("a-value")); err != nil {
		t.Fatalf("Set app-a: %v", err)
	}
	if err := s.Set("app-b", "k", []byte("b-value")); err != nil {
		t.Fatalf("Set app-b: %v", err)
	}

	va, _, _ := s.Get("app-a", "k")
	vb, _, _ := s.Get("app-b", "k")
	if string(va) != "a-value" || string(vb) != "b-value" {
		t.Fatalf("apps leaked into each other: a=%q b=%q", va, vb)
	}
}

func TestStoreGetMissing(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.Get("app-a", "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing key")
	}
}

func TestStoreRemoveIdempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.Remove("app-a", "never-set"); err != nil {
		t.Fatalf("Remove on absent key must be a no-op: %v", err)
	}

	s.Set("app-a", "k", []byte("v"))
	if err := s.Remove("app-a", "k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove("app-a", "k"); err != nil {
		t.Fatalf("second Remove must still be a no-op: %v", err)
	}
	_, ok, _ := s.Get("app-a", "k")
	if ok {
		t.Fatal("value still present after Remove")
	}
}

func TestServiceGetSetRemove(t *testing.T) {
	s := openTestStore(t)
	svc := NewService(s, "app-a")
	ctx := context.Background()

	if err := svc.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := svc.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v.(oprt.Bytes)) != "v" {
		t.Fatalf("got %v, want v", v)
	}

	if err := svc.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	v, err = svc.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get after remove: %v", err)
	}
	if v != nil {
		t.Fatalf("expected nil after remove, got %v", v)
	}
}
