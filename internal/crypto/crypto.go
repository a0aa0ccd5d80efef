// Package crypto derives keys from configured secrets and provides NaCl
// secretbox sealing for the history file.
//
// Key material is derived from a secret using HKDF-SHA256 with a per-purpose
// info string, so the storage key and the TLS identity of the listener differ
// even when the same secret is configured for both. Every message is sealed with a
// random 24-byte nonce prepended to the ciphertext:
//
//	[ 24-byte nonce ][ ciphertext ]
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	KeySize   = 32
	nonceSize = 24
)

// Purpose separates keys derived from the same secret.
type Purpose string

const (
	PurposeStorage Purpose = "clipstash-storage-v1"
	PurposeTLS     Purpose = "clipstash-tls-v1"
)

// Key is a secretbox key.
type Key = [KeySize]byte

var (
	ErrShortCiphertext = errors.New("ciphertext too short")
	ErrDecrypt         = errors.New("decryption failed (wrong secret?)")
)

// DeriveKey derives a secretbox key for purpose from secret. Successive runs
// reading the same file derive the same key from the same secret.
func DeriveKey(secret string, purpose Purpose) (*Key, error) {
	b, err := Derive(secret, purpose, KeySize)
	if err != nil {
		return nil, err
	}
	var key Key
	copy(key[:], b)
	return &key, nil
}

// Derive returns n bytes of key material for purpose from secret.
func Derive(secret string, purpose Purpose, n int) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("key derivation: empty secret")
	}
	h := hkdf.New(sha256.New, []byte(secret), nil, []byte(purpose))
	b := make([]byte, n)
	if _, err := io.ReadFull(h, b); err != nil {
		return nil, fmt.Errorf("key derivation: %w", err)
	}
	return b, nil
}

// Seal encrypts plaintext with key and returns nonce+ciphertext.
func Seal(plaintext []byte, key *Key) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("nonce generation: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, key), nil
}

// Open decrypts nonce+ciphertext produced by Seal.
func Open(ciphertext []byte, key *Key) ([]byte, error) {
	if len(ciphertext) < nonceSize+secretbox.Overhead {
		return nil, ErrShortCiphertext
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plain, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}
