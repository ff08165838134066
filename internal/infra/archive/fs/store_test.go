package fs

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"mouser/internal/archive/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStore_RejectsUnsafeKeys(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"", "  ", "../escape.mouser", "/abs.mouser", "a/../../b", "x.meta"} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), core.PutOptions{}); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}

func TestStore_WritesSidecar(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	info, err := store.Put(ctx, "a/b.mouser", bytes.NewReader([]byte("hello")), core.PutOptions{Metadata: map[string]string{"k": "v"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	// sha256("hello")
	if info.ETag != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Fatalf("unexpected etag %s", info.ETag)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "a", "b.mouser.meta")); err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}
	head, err := store.Head(ctx, "a/b.mouser")
	if err != nil || head.Metadata["k"] != "v" {
		t.Fatalf("head metadata: %+v %v", head, err)
	}
}

func TestStore_DefaultRoot(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	store, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if store.Root() != "./archive" {
		t.Fatalf("unexpected default root %s", store.Root())
	}
}
