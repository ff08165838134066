package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"mouser/internal/infra/archive/s3"
)

func conformanceStores(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := Open(context.Background(), Config{Driver: DriverFilesystem, FSRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	return map[string]Store{
		"memory": NewMemory(),
		"fs":     fsStore,
		"s3":     s3.NewMockForTests("backups"),
	}
}

func TestStoreConformance(t *testing.T) { //nolint:cyclop
	for name, store := range conformanceStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "experiments/exp-1/20240309T150405Z/trial1.mouser"
			info, err := store.Put(ctx, key, bytes.NewReader([]byte("hello")), PutOptions{ContentType: ContentType})
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if info.Key != key || info.Size != 5 {
				t.Fatalf("unexpected info %+v", info)
			}
			if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), PutOptions{}); !errors.Is(err, ErrExists) {
				t.Fatalf("expected ErrExists, got %v", err)
			}
			head, err := store.Head(ctx, key)
			if err != nil {
				t.Fatalf("head: %v", err)
			}
			got, rc, err := store.Get(ctx, key)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			b, _ := io.ReadAll(rc)
			if err := rc.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}
			if string(b) != "hello" || got.ETag != head.ETag || got.Size != 5 {
				t.Fatalf("unexpected get artifacts %q %+v %+v", b, got, head)
			}
			if _, err := store.Put(ctx, "experiments/exp-2/a/other.mouser", bytes.NewReader([]byte("bye")), PutOptions{}); err != nil {
				t.Fatalf("put second: %v", err)
			}
			list, err := store.List(ctx, "experiments/exp-1/")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 1 || list[0].Key != key {
				t.Fatalf("unexpected list %+v", list)
			}
			all, err := store.List(ctx, "")
			if err != nil || len(all) != 2 {
				t.Fatalf("expected two objects, got %d (%v)", len(all), err)
			}
			ok, err := store.Delete(ctx, key)
			if err != nil || !ok {
				t.Fatalf("delete: %v %v", ok, err)
			}
			ok, err = store.Delete(ctx, key)
			if err != nil || ok {
				t.Fatalf("second delete should report false, got %v %v", ok, err)
			}
			if _, err := store.Head(ctx, key); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
			if _, _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound from get, got %v", err)
			}
		})
	}
}

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, Config{})
	if err != nil || store != nil {
		t.Fatalf("empty driver should disable archiving, got %v %v", store, err)
	}
	store, err = Open(ctx, Config{Driver: DriverNone})
	if err != nil || store != nil {
		t.Fatalf("none driver should disable archiving, got %v %v", store, err)
	}
	store, err = Open(ctx, Config{Driver: DriverMemory})
	if err != nil || store.Driver() != DriverMemory {
		t.Fatalf("memory driver: %v", err)
	}
	if _, err := Open(ctx, Config{Driver: "ftp"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

func TestObjectKey(t *testing.T) {
	if got := ObjectKey("exp-1", "20240309T150405Z", "/data/trial1.pmouser"); got != "experiments/exp-1/20240309T150405Z/trial1.pmouser" {
		t.Fatalf("unexpected key %s", got)
	}
	if got := ObjectKey(" ", "t", "x.mouser"); got != "experiments/unassigned/t/x.mouser" {
		t.Fatalf("unexpected key for empty id %s", got)
	}
}

func TestUploadFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trial1.mouser")
	if err := os.WriteFile(path, []byte("sqlite bytes"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := NewMemory()
	info, err := UploadFile(ctx, store, "k/trial1.mouser", path, map[string]string{"experiment_id": "exp-1"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if info.ContentType != ContentType || info.Metadata["experiment_id"] != "exp-1" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := UploadFile(ctx, store, "k/missing", filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
