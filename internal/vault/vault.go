// Package vault encrypts provider credentials and route configuration at rest.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

const (
	nonceSize = 16
	tagSize   = 16
)

// DecryptionError means a stored ciphertext could not be opened with the given secret.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decrypt: %s: %v", e.Reason, e.Err)
	}
	return "decrypt: " + e.Reason
}

func (e *DecryptionError) Unwrap() error { return e.Err }

func newAEAD(secret string) (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}

// Encrypt seals plaintext with AES-256-GCM and returns base64(nonce || tag || ciphertext).
func Encrypt(plaintext, secret string) (string, error) {
	aead, err := newAEAD(secret)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	// Seal appends the tag after the ciphertext; the stored layout keeps it in front.
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	body, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, nonceSize+tagSize+len(body))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, body...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a value produced by Encrypt. It never returns the input as plaintext.
func Decrypt(ciphertext, secret string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", &DecryptionError{Reason: "invalid base64", Err: err}
	}
	if len(raw) < nonceSize+tagSize {
		return "", &DecryptionError{Reason: "ciphertext too short"}
	}
	aead, err := newAEAD(secret)
	if err != nil {
		return "", &DecryptionError{Reason: "init cipher", Err: err}
	}
	nonce := raw[:nonceSize]
	tag := raw[nonceSize : nonceSize+tagSize]
	body := raw[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(body)+tagSize)
	sealed = append(sealed, body...)
	sealed = append(sealed, tag...)
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &DecryptionError{Reason: "authentication failed", Err: err}
	}
	return string(plain), nil
}
