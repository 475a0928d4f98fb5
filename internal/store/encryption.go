// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// ErrInvalidCiphertext is returned when ciphertext cannot be decrypted
	ErrInvalidCiphertext = errors.New("invalid ciphertext")

	// ErrInvalidKey is returned when the encryption key is invalid
	ErrInvalidKey = errors.New("invalid encryption key")
)

// MasterKeyEnv is the environment variable holding the base64-encoded
// 32-byte master key for credential encryption at rest.
const MasterKeyEnv = "AVENUE_MASTER_KEY"

// AESEncryptor implements credential encryption using AES-256-GCM.
//
// AES-256-GCM provides:
//   - Confidentiality through AES-256 encryption
//   - Authenticity through Galois/Counter Mode
//   - Protection against tampering and forgery attacks
//
// Each encryption operation generates a unique nonce for security.
type AESEncryptor struct {
	aead cipher.AEAD
}

// NewAESEncryptor creates a new AES-256-GCM encryptor.
//
// The masterKey must be exactly 32 bytes (256 bits) for AES-256.
// Use GenerateKey() to create a cryptographically secure random key.
func NewAESEncryptor(masterKey []byte) (*AESEncryptor, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("%w: key must be 32 bytes for AES-256, got %d bytes", ErrInvalidKey, len(masterKey))
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}

	return &AESEncryptor{aead: aead}, nil
}

// NewAESEncryptorFromEnv loads the master key from MasterKeyEnv.
//
// The value must be a base64-encoded 32-byte key. If decoding fails the
// value is treated as a passphrase and a key is derived via SHA-256.
func NewAESEncryptorFromEnv() (*AESEncryptor, error) {
	keyStr := os.Getenv(MasterKeyEnv)
	if keyStr == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrInvalidKey, MasterKeyEnv)
	}

	keyBytes, err := base64.StdEncoding.DecodeString(keyStr)
	if err != nil || len(keyBytes) != 32 {
		hash := sha256.Sum256([]byte(keyStr))
		keyBytes = hash[:]
	}

	return NewAESEncryptor(keyBytes)
}

// Encrypt encrypts plaintext using AES-256-GCM.
//
// Format of returned ciphertext:
//
//	[nonce (12 bytes)][encrypted data + auth tag (variable length)]
//
// The nonce is prepended to the ciphertext for easy retrieval during
// decryption. The authentication tag is automatically appended by GCM.
func (e *AESEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("plaintext cannot be empty")
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext produced by Encrypt.
//
// Returns ErrInvalidCiphertext if:
//   - Ciphertext is too short (less than nonce size)
//   - Authentication tag verification fails (data has been tampered with)
//   - Decryption fails for any other reason
func (e *AESEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := e.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short (expected at least %d bytes, got %d)",
			ErrInvalidCiphertext, nonceSize, len(ciphertext))
	}

	nonce, encryptedData := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := e.aead.Open(nil, nonce, encryptedData, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}

	return plaintext, nil
}

// EncryptString encrypts a string and returns base64-encoded ciphertext.
// Empty strings pass through unchanged so optional fields stay optional.
func (e *AESEncryptor) EncryptString(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	ciphertext, err := e.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptString decrypts base64-encoded ciphertext and returns a string.
func (e *AESEncryptor) DecryptString(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64 ciphertext: %w", err)
	}

	plaintext, err := e.Decrypt(decoded)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// GenerateKey generates a cryptographically secure random 32-byte key for
// AES-256. This should be used when creating a new master key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}
