// Package credential stores the mailbox password in the system keyring.
package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "mail-followup"

// PasswordEnv overrides the keyring lookup when set.
const PasswordEnv = "FOLLOWUP_MAILBOX_PASSWORD"

// ErrNotFound is returned when no password is stored for a mailbox.
var ErrNotFound = errors.New("credential not found")

// Store is a keyring-backed password store. The zero value opens the
// system keyring lazily.
type Store struct {
	// Ring overrides the keyring, mainly for tests.
	Ring keyring.Keyring
}

// MailboxKey returns the keyring key holding the password for username.
func MailboxKey(username string) string {
	return "mailbox-" + strings.ToLower(strings.TrimSpace(username))
}

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir: filepath.Join(
			home, ".config", "mail-followup", "credentials",
		),
		FilePasswordFunc:         keyring.FixedStringPrompt("mail-followup-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

func (s *Store) ring() (keyring.Keyring, error) {
	if s.Ring != nil {
		return s.Ring, nil
	}
	ring, err := openKeyring()
	if err != nil {
		return nil, err
	}
	s.Ring = ring
	return ring, nil
}

// Password returns the mailbox password for username. The environment
// variable FOLLOWUP_MAILBOX_PASSWORD takes precedence over the keyring.
func (s *Store) Password(username string) (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}
	return s.Get(MailboxKey(username))
}

// Get retrieves a credential value by key.
func (s *Store) Get(key string) (string, error) {
	ring, err := s.ring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key.
func (s *Store) Set(key string, value string) error {
	ring, err := s.ring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: serviceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key.
func (s *Store) Delete(key string) error {
	ring, err := s.ring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}
