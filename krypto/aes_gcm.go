package krypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// Encryptor is the capability interface for protecting bytes at rest.
// The optional entropy parameter mixes additional key material into the
// operation; both sides must supply the same entropy for a round trip.
type Encryptor interface {
	Encrypt(plaintext, entropy []byte) ([]byte, error)
	Decrypt(ciphertext, entropy []byte) ([]byte, error)
}

// AESGCMEncryptor implements Encryptor using AES-256-GCM with a key derived
// from a base secret via Argon2id. The random nonce is prepended to the
// ciphertext, so the output is self-contained.
type AESGCMEncryptor struct {
	baseSecret []byte
}

// NewAESGCMEncryptor creates a new AES-GCM encryptor keyed from baseSecret.
func NewAESGCMEncryptor(baseSecret []byte) (*AESGCMEncryptor, error) {
	if len(baseSecret) == 0 {
		return nil, fmt.Errorf("base secret cannot be empty")
	}
	out := make([]byte, len(baseSecret))
	copy(out, baseSecret)
	return &AESGCMEncryptor{baseSecret: out}, nil
}

// Encrypt encrypts plaintext using AES-GCM.
func (e *AESGCMEncryptor) Encrypt(plaintext, entropy []byte) ([]byte, error) {
	gcm, err := e.aead(entropy)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Encrypt and prepend the nonce
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext produced by Encrypt. The same entropy used for
// encryption must be supplied, otherwise authentication fails.
func (e *AESGCMEncryptor) Decrypt(ciphertext, entropy []byte) ([]byte, error) {
	gcm, err := e.aead(entropy)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

func (e *AESGCMEncryptor) aead(entropy []byte) (cipher.AEAD, error) {
	key := DeriveKey(e.baseSecret, entropy)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return gcm, nil
}
