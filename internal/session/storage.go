package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
)

// ErrNotFound indicates the requested key is absent from storage
var ErrNotFound = errors.New("session: key not found in storage")

// Storage is a durable key-value store for the non-token session snapshot.
// Implementations are injected so the store never inspects its runtime
// environment; a NoopStorage serves environments without durable storage.
type Storage interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// FileStorage persists values as files under ~/.config/taskdeck
type FileStorage struct {
	dir string
}

// NewFileStorage creates a FileStorage rooted in the user's config directory
func NewFileStorage() (*FileStorage, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	return &FileStorage{dir: filepath.Join(homeDir, ".config", "taskdeck")}, nil
}

// NewFileStorageAt creates a FileStorage rooted in the given directory
func NewFileStorageAt(dir string) *FileStorage {
	return &FileStorage{dir: dir}
}

func (f *FileStorage) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

func (f *FileStorage) Get(key string) (string, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read %s: %w", f.path(key), err)
	}
	return string(data), nil
}

func (f *FileStorage) Set(key, value string) error {
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	if err := os.WriteFile(f.path(key), []byte(value), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", f.path(key), err)
	}
	return nil
}

func (f *FileStorage) Remove(key string) error {
	if err := os.Remove(f.path(key)); err != nil {
		if os.IsNotExist(err) {
			return nil // Already removed
		}
		return fmt.Errorf("failed to remove %s: %w", f.path(key), err)
	}
	return nil
}

const keyringService = "taskdeck-cli"

// KeyringStorage persists values in the OS keychain/credential manager
type KeyringStorage struct{}

// NewKeyringStorage creates a keyring-backed Storage
func NewKeyringStorage() *KeyringStorage {
	return &KeyringStorage{}
}

func (k *KeyringStorage) Get(key string) (string, error) {
	value, err := keyring.Get(keyringService, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read keyring entry: %w", err)
	}
	return value, nil
}

func (k *KeyringStorage) Set(key, value string) error {
	if err := keyring.Set(keyringService, key, value); err != nil {
		return fmt.Errorf("failed to write keyring entry: %w", err)
	}
	return nil
}

func (k *KeyringStorage) Remove(key string) error {
	if err := keyring.Delete(keyringService, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already removed
		}
		return fmt.Errorf("failed to remove keyring entry: %w", err)
	}
	return nil
}

// NoopStorage discards writes and never finds a value
type NoopStorage struct{}

func (NoopStorage) Get(string) (string, error) { return "", ErrNotFound }
func (NoopStorage) Set(string, string) error   { return nil }
func (NoopStorage) Remove(string) error        { return nil }
