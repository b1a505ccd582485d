package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

func TestFSStorePutOpenRoundTrip(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	payload := []byte("vendor_name,item\nFreshCo,tilapia\n")

	if err := store.Put(ctx, "uploads/abc123/week32.csv", bytes.NewReader(payload), "text/csv"); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	rc, err := store.Open(ctx, "uploads/abc123/week32.csv")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: got %q", got)
	}
}

func TestFSStorePutOverwrites(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Put(ctx, "k", bytes.NewReader([]byte("first")), ""); err != nil {
		t.Fatalf("first put failed: %v", err)
	}
	if err := store.Put(ctx, "k", bytes.NewReader([]byte("second")), ""); err != nil {
		t.Fatalf("second put failed: %v", err)
	}

	rc, err := store.Open(ctx, "k")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "second" {
		t.Fatalf("expected overwrite, got %q", got)
	}
}

func TestFSStoreOpenMissingKey(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	_, err = store.Open(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFSStoreExistsAndDelete(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Put(ctx, "a/b", bytes.NewReader([]byte("x")), ""); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	ok, err := store.Exists(ctx, "a/b")
	if err != nil || !ok {
		t.Fatalf("expected object to exist, got ok=%v err=%v", ok, err)
	}

	if err := store.Delete(ctx, "a/b"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	ok, err = store.Exists(ctx, "a/b")
	if err != nil || ok {
		t.Fatalf("expected object gone, got ok=%v err=%v", ok, err)
	}

	// Deleting again is a no-op.
	if err := store.Delete(ctx, "a/b"); err != nil {
		t.Fatalf("second delete failed: %v", err)
	}
}

func TestFSStoreRejectsTraversalKeys(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := store.Put(context.Background(), "../escape", bytes.NewReader([]byte("x")), ""); err == nil {
		t.Fatalf("expected traversal key to be rejected")
	}
}
