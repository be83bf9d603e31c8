package infra

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

const (
	storeKeyFile = ".state.key"
	storeKeySize = 32 // SQLCipher raw key
)

// Store key errors.
var (
	ErrKeyExists  = errors.New("store key already exists")
	ErrKeyExposed = errors.New("store key file is accessible by other users")
)

// StoreKeyFile keeps the state database key hex encoded next to the
// database. Only the owner may read it.
type StoreKeyFile struct {
	path string
}

// NewStoreKeyFile returns the key file of dataDir.
func NewStoreKeyFile(dataDir string) *StoreKeyFile {
	return &StoreKeyFile{path: filepath.Join(dataDir, storeKeyFile)}
}

// Path returns the key file location.
func (f *StoreKeyFile) Path() string {
	return f.path
}

// GetKey reads the key. A key file with group or world permissions is refused.
func (f *StoreKeyFile) GetKey() ([]byte, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat key file: %w", err)
	}
	if info.Mode().Perm()&0077 != 0 {
		return nil, fmt.Errorf("%w: %s has mode %o", ErrKeyExposed, f.path, info.Mode().Perm())
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("corrupt key file %s: %w", f.path, err)
	}
	if len(key) != storeKeySize {
		return nil, fmt.Errorf("corrupt key file %s: %d bytes, want %d", f.path, len(key), storeKeySize)
	}
	return key, nil
}

// StoreKey creates the key file. It never overwrites: an existing file
// yields ErrKeyExists, since replacing the key would orphan the database.
func (f *StoreKeyFile) StoreKey(key []byte) error {
	if len(key) != storeKeySize {
		return fmt.Errorf("store key must be %d bytes, got %d", storeKeySize, len(key))
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	// Write a temp file, then hard link it into place: the link fails if the
	// key already exists, and readers never see a partially written key.
	tmp, err := os.CreateTemp(filepath.Dir(f.path), storeKeyFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(hex.EncodeToString(key)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}

	if err := os.Link(tmp.Name(), f.path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrKeyExists
		}
		return fmt.Errorf("failed to install key file: %w", err)
	}
	return nil
}

// KeyExists reports whether the key file is present.
func (f *StoreKeyFile) KeyExists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// GenerateKey returns a random store key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, storeKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate store key: %w", err)
	}
	return key, nil
}

// LoadOrCreateKey returns the existing key or creates one on first run.
// If another process creates the key concurrently, its key is used.
func LoadOrCreateKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		if errors.Is(err, ErrKeyExists) {
			return provider.GetKey()
		}
		return nil, err
	}
	return key, nil
}

var _ domain.KeyProvider = (*StoreKeyFile)(nil)
