// Package password encrypts and decrypts experiment files with a
// user-supplied secret.
package password

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"mouser/pkg/domain"
)

var _ domain.PasswordManager = (*Manager)(nil)

// magic prefixes every encrypted file.
var magic = []byte("MOUSERENC1")

const (
	saltSize = 16
	keySize  = chacha20poly1305.KeySize

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var (
	// ErrEmptySecret is returned by New for an empty secret.
	ErrEmptySecret = errors.New("password: empty secret")
	// ErrWrongPassword is returned when a file cannot be authenticated with the secret.
	ErrWrongPassword = errors.New("password: wrong password or corrupted file")
	// ErrNotEncrypted is returned when decrypting a file without the encryption header.
	ErrNotEncrypted = errors.New("password: file is not encrypted")
	// ErrAlreadyEncrypted is returned when encrypting a file that already carries the header.
	ErrAlreadyEncrypted = errors.New("password: file is already encrypted")
)

// Manager encrypts files with a key derived from its secret.
type Manager struct {
	secret []byte
	rand   io.Reader
}

// New returns a Manager for secret.
func New(secret string) (*Manager, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Manager{secret: []byte(secret), rand: rand.Reader}, nil
}

// EncryptFile replaces the plaintext file at path with its encrypted form.
// The file mode is preserved.
func (m *Manager) EncryptFile(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	plain, mode, err := readFile(path)
	if err != nil {
		return err
	}
	if bytes.HasPrefix(plain, magic) {
		return fmt.Errorf("%w: %s", ErrAlreadyEncrypted, path)
	}
	sealed, err := m.seal(plain)
	if err != nil {
		return err
	}
	return replaceFile(path, sealed, mode)
}

// DecryptFile writes the plaintext of the encrypted file at src to dst. src
// and dst may be the same path.
func (m *Manager) DecryptFile(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sealed, mode, err := readFile(src)
	if err != nil {
		return err
	}
	plain, err := m.open(sealed)
	if err != nil {
		return err
	}
	return replaceFile(dst, plain, mode)
}

// IsEncrypted reports whether the file at path carries the encryption header.
func IsEncrypted(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()
	head := make([]byte, len(magic))
	if _, err := io.ReadFull(f, head); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(head, magic), nil
}

func (m *Manager) seal(plain []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(m.rand, salt); err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(m.key(salt))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(m.rand, nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	out := make([]byte, 0, len(magic)+saltSize+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, magic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plain, magic), nil
}

func (m *Manager) open(sealed []byte) ([]byte, error) {
	if !bytes.HasPrefix(sealed, magic) {
		return nil, ErrNotEncrypted
	}
	body := sealed[len(magic):]
	if len(body) < saltSize+chacha20poly1305.NonceSizeX {
		return nil, ErrWrongPassword
	}
	salt, rest := body[:saltSize], body[saltSize:]
	aead, err := chacha20poly1305.NewX(m.key(salt))
	if err != nil {
		return nil, err
	}
	nonce, ciphertext := rest[:aead.NonceSize()], rest[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, magic)
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plain, nil
}

func (m *Manager) key(salt []byte) []byte {
	return argon2.IDKey(m.secret, salt, argonTime, argonMemory, argonThreads, keySize)
}

func readFile(path string) ([]byte, os.FileMode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	return data, info.Mode().Perm(), nil
}

// replaceFile writes data next to path and renames it into place.
func replaceFile(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
