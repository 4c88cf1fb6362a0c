// Package credential provides the system keyring capability used by
// keyring-backed secret sources.
package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"

	"github.com/gl-yziquel/himalaya/internal/secret"
)

// DefaultServiceName is the keyring service all entries are stored under.
const DefaultServiceName = "himalaya"

// Config controls how the system keyring is opened.
type Config struct {
	// ServiceName groups the entries; defaults to DefaultServiceName.
	ServiceName string

	// FileDir is used by the encrypted file backend when no native
	// keyring is available.
	FileDir string

	// FilePassword unlocks the file backend. When empty the user is
	// prompted on the terminal.
	FilePassword string
}

// Keyring implements secret.Keyring on top of the system keyring.
type Keyring struct {
	ring keyring.Keyring
}

var _ secret.Keyring = (*Keyring)(nil)

// Open returns a keyring backed by the first available system backend.
func Open(cfg Config) (*Keyring, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	if cfg.FileDir == "" {
		cfg.FileDir = defaultFileDir()
	}

	passwordFunc := keyring.TerminalPrompt
	if cfg.FilePassword != "" {
		passwordFunc = keyring.FixedStringPrompt(cfg.FilePassword)
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName: cfg.ServiceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         passwordFunc,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}

	return &Keyring{ring: ring}, nil
}

// NewMemory returns a keyring held in memory, seeded with entries.
func NewMemory(entries map[string]string) *Keyring {
	items := make([]keyring.Item, 0, len(entries))
	for k, v := range entries {
		items = append(items, keyring.Item{Key: k, Data: []byte(v)})
	}
	return &Keyring{ring: keyring.NewArrayKeyring(items)}
}

// Get retrieves a value by key. A missing entry yields secret.ErrNotFound.
func (k *Keyring) Get(key string) (string, error) {
	item, err := k.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", secret.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a value by key.
func (k *Keyring) Set(key, value string) error {
	err := k.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "himalaya: " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a value by key. Deleting a missing entry is not an error.
func (k *Keyring) Delete(key string) error {
	err := k.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// Keys lists the stored entry keys.
func (k *Keyring) Keys() ([]string, error) {
	keys, err := k.ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	return keys, nil
}

func defaultFileDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "himalaya", "credentials")
	}
	return "~/.local/share/himalaya/credentials"
}
