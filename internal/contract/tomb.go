// Package contract keeps the three admin-secret artifacts consistent:
// the env file, the wizard.json config, and the encrypted secret store.
// Drift between them is detected as a typed set and repaired by a fixed
// action order.
package contract

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ErrLocked is returned when the store cannot be decrypted with the
// supplied key. An unreadable blob reports the same way; callers cannot
// distinguish a wrong key from a corrupt file, and do not need to.
var ErrLocked = errors.New("secret store locked")

// Store is the encrypted secret store at <config>/secrets.tomb. The blob
// is AES-256-GCM over a JSON entry map; a missing file behaves as an
// empty unlocked store so first-run seeding is just an upsert.
type Store struct {
	path string

	mu       sync.RWMutex
	unlocked bool
	key      []byte
	entries  map[string]string
}

// NewStore points at a tomb file without touching it.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the tomb file location.
func (s *Store) Path() string { return s.path }

// Unlock decrypts the store with a 32-byte key. A missing file unlocks
// as an empty store. Any decrypt or parse failure reports ErrLocked.
func (s *Store) Unlock(key []byte) error {
	if len(key) != 32 {
		return fmt.Errorf("unlock key must be 32 bytes, got %d: %w", len(key), ErrLocked)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.unlocked = true
		s.key = append([]byte(nil), key...)
		s.entries = make(map[string]string)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read secret store: %w", ErrLocked)
	}

	plaintext, err := decrypt(key, blob)
	if err != nil {
		return ErrLocked
	}
	entries := make(map[string]string)
	if err := json.Unmarshal(plaintext, &entries); err != nil {
		return ErrLocked
	}

	s.unlocked = true
	s.key = append([]byte(nil), key...)
	s.entries = entries
	return nil
}

// Unlocked reports whether the store is currently open.
func (s *Store) Unlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unlocked
}

// Get returns a decrypted entry. The second result is false when the
// store is locked or the id is absent.
func (s *Store) Get(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.unlocked {
		return "", false
	}
	v, ok := s.entries[id]
	return v, ok
}

// Put upserts an entry and persists the store.
func (s *Store) Put(id, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		return ErrLocked
	}
	s.entries[id] = value
	return s.persistLocked()
}

// Reset destroys the store contents and reseeds an empty store under a
// new key. This is the controlled destroy-and-reseed path for a locked
// or corrupt blob.
func (s *Store) Reset(key []byte) error {
	if len(key) != 32 {
		return fmt.Errorf("reset key must be 32 bytes, got %d", len(key))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unlocked = true
	s.key = append([]byte(nil), key...)
	s.entries = make(map[string]string)
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	plaintext, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("failed to marshal entries: %w", err)
	}
	blob, err := encrypt(s.key, plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	if err := os.WriteFile(s.path, blob, 0o600); err != nil {
		return fmt.Errorf("failed to write secret store: %w", err)
	}
	return nil
}

// encrypt seals plaintext as nonce||ciphertext with AES-256-GCM.
func encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(key, blob []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(blob) < gcm.NonceSize() {
		return nil, errors.New("blob too short")
	}
	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// GenerateKey produces a fresh 64-hex-char unlock key.
func GenerateKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// DecodeKey parses a 64-hex-char key into raw bytes.
func DecodeKey(s string) ([]byte, bool) {
	if len(s) != 64 {
		return nil, false
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return raw, true
}
