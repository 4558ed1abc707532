package keys

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
)

// KeySize is the master key length in bytes (256 bits).
const KeySize = 32

var (
	// ErrKeyUnavailable indicates the key file exists but cannot be used.
	ErrKeyUnavailable = errors.New("keys: key file unreadable or wrong length")

	// ErrKeyStorage indicates the key file could not be written on first run.
	ErrKeyStorage = errors.New("keys: key file could not be written")
)

// Manager owns the vault's long-lived master key.
type Manager struct {
	path string
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// LoadOrCreate returns the master key, generating and persisting a new one
// on first run. The key file is created with owner-only permissions and is
// never overwritten once it exists.
func (m *Manager) LoadOrCreate() ([]byte, error) {
	data, err := os.ReadFile(m.path)
	if err == nil {
		if len(data) != KeySize {
			return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrKeyUnavailable, len(data), KeySize)
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("keys: generate key: %w", err)
	}

	// O_EXCL guards against a concurrent first run clobbering the key.
	f, err := os.OpenFile(m.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if os.IsExist(err) {
			return m.LoadOrCreate()
		}
		return nil, fmt.Errorf("%w: %v", ErrKeyStorage, err)
	}
	if _, err := f.Write(key); err != nil {
		f.Close()
		os.Remove(m.path)
		return nil, fmt.Errorf("%w: %v", ErrKeyStorage, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(m.path)
		return nil, fmt.Errorf("%w: %v", ErrKeyStorage, err)
	}

	return key, nil
}
