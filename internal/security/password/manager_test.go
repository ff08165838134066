package password

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestNewRejectsEmptySecret(t *testing.T) {
	if _, err := New(""); !errors.Is(err, ErrEmptySecret) {
		t.Fatalf("expected ErrEmptySecret, got %v", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ctx := context.Background()
	plain := []byte("SQLite format 3\x00 experiment payload")
	path := writeTemp(t, "trial1.pmouser", plain)
	m, err := New("hunter2")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := m.EncryptFile(ctx, path); err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	sealed, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sealed: %v", err)
	}
	if bytes.Contains(sealed, []byte("experiment payload")) {
		t.Fatalf("plaintext leaked into encrypted file")
	}
	enc, err := IsEncrypted(path)
	if err != nil || !enc {
		t.Fatalf("expected encrypted header, got %v %v", enc, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o640 {
		t.Fatalf("mode not preserved: %v", info.Mode().Perm())
	}

	out := filepath.Join(t.TempDir(), "plain.mouser")
	if err := m.DecryptFile(ctx, path, out); err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read plain: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip mismatch: %q", got)
	}

	if err := m.DecryptFile(ctx, path, path); err != nil {
		t.Fatalf("decrypt in place: %v", err)
	}
	if enc, _ := IsEncrypted(path); enc {
		t.Fatalf("expected in-place decrypt to remove header")
	}
}

func TestEncryptRefusesDoubleEncryption(t *testing.T) {
	ctx := context.Background()
	path := writeTemp(t, "x.pmouser", []byte("data"))
	m, _ := New("pw")
	if err := m.EncryptFile(ctx, path); err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if err := m.EncryptFile(ctx, path); !errors.Is(err, ErrAlreadyEncrypted) {
		t.Fatalf("expected ErrAlreadyEncrypted, got %v", err)
	}
}

func TestDecryptErrors(t *testing.T) {
	ctx := context.Background()
	path := writeTemp(t, "x.pmouser", []byte("data"))
	good, _ := New("right")
	bad, _ := New("wrong")
	if err := good.DecryptFile(ctx, path, path); !errors.Is(err, ErrNotEncrypted) {
		t.Fatalf("expected ErrNotEncrypted, got %v", err)
	}
	if err := good.EncryptFile(ctx, path); err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if err := bad.DecryptFile(ctx, path, path); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
	truncated := writeTemp(t, "short.pmouser", append([]byte(nil), magic...))
	if err := good.DecryptFile(ctx, truncated, truncated); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword for truncated file, got %v", err)
	}
}

func TestIsEncryptedShortAndMissing(t *testing.T) {
	short := writeTemp(t, "short", []byte("abc"))
	if enc, err := IsEncrypted(short); err != nil || enc {
		t.Fatalf("short file: %v %v", enc, err)
	}
	if _, err := IsEncrypted(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m, _ := New("pw")
	if err := m.EncryptFile(ctx, "unused"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
