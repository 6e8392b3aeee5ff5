// Package credstore persists portal credentials for unattended callers.
// The record is sealed with NaCl secretbox under a key derived from a
// passphrase via Argon2id; the file holds salt, nonce and box back to back,
// so possession of the file alone reveals nothing.
package credstore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

var (
	// ErrNotFound is returned by Load when no credentials were saved.
	ErrNotFound = errors.New("credstore: no saved credentials")

	// ErrDecrypt is returned when the passphrase is wrong or the file is
	// corrupt. The two are indistinguishable by construction.
	ErrDecrypt = errors.New("credstore: cannot decrypt")
)

const (
	saltLen  = 16
	nonceLen = 24
	keyLen   = 32

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// Credentials is the saved identity for one portal endpoint.
type Credentials struct {
	Server   string `json:"server"`
	Username string `json:"username"`
	Password string `json:"password"`
	Headless bool   `json:"headless"`
}

// Store reads and writes one sealed credentials file.
type Store struct {
	path       string
	passphrase []byte
}

// New creates a Store at path. The passphrase is held for the Store's
// lifetime; it never touches disk.
func New(path string, passphrase []byte) *Store {
	return &Store{path: path, passphrase: passphrase}
}

// Save seals creds and writes them to the store's path, creating parent
// directories as needed. A fresh salt and nonce are drawn on every save.
func (s *Store) Save(creds Credentials) error {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("credstore: marshal: %w", err)
	}

	var salt [saltLen]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return fmt.Errorf("credstore: salt: %w", err)
	}
	var nonce [nonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("credstore: nonce: %w", err)
	}

	key := s.deriveKey(salt[:])
	sealed := secretbox.Seal(nil, plaintext, &nonce, key)

	out := make([]byte, 0, saltLen+nonceLen+len(sealed))
	out = append(out, salt[:]...)
	out = append(out, nonce[:]...)
	out = append(out, sealed...)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("credstore: mkdir: %w", err)
	}
	if err := os.WriteFile(s.path, out, 0o600); err != nil {
		return fmt.Errorf("credstore: write: %w", err)
	}
	return nil
}

// Load opens and unseals the saved credentials.
func (s *Store) Load() (Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, ErrNotFound
		}
		return Credentials{}, fmt.Errorf("credstore: read: %w", err)
	}
	if len(data) < saltLen+nonceLen+secretbox.Overhead {
		return Credentials{}, ErrDecrypt
	}

	var nonce [nonceLen]byte
	copy(nonce[:], data[saltLen:saltLen+nonceLen])
	key := s.deriveKey(data[:saltLen])

	plaintext, ok := secretbox.Open(nil, data[saltLen+nonceLen:], &nonce, key)
	if !ok {
		return Credentials{}, ErrDecrypt
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return Credentials{}, ErrDecrypt
	}
	return creds, nil
}

// Exists reports whether a credentials file is present, without decrypting.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Clear deletes the saved credentials. Clearing an empty store is a no-op.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("credstore: remove: %w", err)
	}
	return nil
}

func (s *Store) deriveKey(salt []byte) *[keyLen]byte {
	var key [keyLen]byte
	copy(key[:], argon2.IDKey(s.passphrase, salt, argonTime, argonMemory, argonThreads, keyLen))
	return &key
}
