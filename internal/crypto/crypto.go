// Package crypto wraps symmetric encryption of stored secrets (API tokens
// and keys). The cipher is constructed once at startup and passed to the
// components that need it.
package crypto

import (
	"fmt"
	"log"

	"github.com/fernet/fernet-go"
)

// Cipher encrypts and decrypts setting values with a fernet key.
type Cipher struct {
	key *fernet.Key
}

// New creates a cipher from a base64-encoded fernet key. An empty key is an
// error unless allowEphemeral is set, in which case a one-off key is
// generated; anything encrypted with it is unreadable after restart.
func New(encodedKey string, allowEphemeral bool) (*Cipher, error) {
	if encodedKey == "" {
		if !allowEphemeral {
			return nil, fmt.Errorf("encryption key is required")
		}
		key := &fernet.Key{}
		if err := key.Generate(); err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
		}
		log.Printf("WARNING: no encryption key configured, using an ephemeral key; stored secrets will not survive a restart")
		return &Cipher{key: key}, nil
	}

	key, err := fernet.DecodeKey(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	return &Cipher{key: key}, nil
}

// GenerateKey returns a new base64-encoded fernet key
func GenerateKey() (string, error) {
	key := &fernet.Key{}
	if err := key.Generate(); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return key.Encode(), nil
}

// Encrypt encrypts a value. Empty input stays empty.
func (c *Cipher) Encrypt(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	tok, err := fernet.EncryptAndSign([]byte(value), c.key)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt value: %w", err)
	}
	return string(tok), nil
}

// Decrypt decrypts a value previously produced by Encrypt. Empty or
// undecryptable input yields an empty string, mirroring the tolerant read
// path of the settings store.
func (c *Cipher) Decrypt(value string) string {
	if value == "" {
		return ""
	}
	msg := fernet.VerifyAndDecrypt([]byte(value), 0, []*fernet.Key{c.key})
	if msg == nil {
		return ""
	}
	return string(msg)
}
