// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package kms encrypts wallet seeds and other secrets at rest under keys
// derived from user passwords.
//
// Keys are derived with argon2id from a salt and a password.  Secrets are
// sealed with AES-256-GCM under a fresh random nonce, and every ciphertext
// is bound to a fixed application tag so a blob can't be replayed into an
// unrelated context.
package kms

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"github.com/dashevo/dashcw/internal/zero"
	"golang.org/x/crypto/argon2"
)

const (
	// KeySize is the size of derived and master keys.
	KeySize = 32

	// NonceSize is the size of a GCM nonce.
	NonceSize = 12

	// MinSaltSize is the shortest salt passed to argon2.  Shorter salts
	// are repeated up to this size.
	MinSaltSize = 8

	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// associatedData is authenticated with every ciphertext.
var associatedData = []byte("dash_platform_wallet")

// EncryptedBlob is a sealed secret.  Salt is only set for blobs sealed
// directly under a password key.
type EncryptedBlob struct {
	Ciphertext []byte
	Nonce      []byte
	Salt       []byte
}

// padSalt repeats salt until it is at least MinSaltSize bytes.
func padSalt(salt []byte) []byte {
	if len(salt) >= MinSaltSize {
		return salt
	}
	n := (MinSaltSize + len(salt) - 1) / len(salt)
	return bytes.Repeat(salt, n)
}

// DeriveKey derives a key from a password.  The salt is usually the user
// id, so the same user and password always give the same key.
func DeriveKey(salt, password []byte) (*Secret, error) {
	if len(salt) == 0 {
		return nil, vaultError(ErrInvalidSalt, "empty key salt", nil)
	}

	key := argon2.IDKey(
		password, padSalt(salt), argonTime, argonMemory, argonThreads,
		KeySize,
	)
	defer zero.Bytes(key)

	return NewSecret(key)
}

// newAEAD returns AES-256-GCM keyed by key.
func newAEAD(key *Secret) (cipher.AEAD, error) {
	if key.Len() != KeySize {
		return nil, vaultError(ErrEncryption, "invalid key size", nil)
	}
	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return nil, vaultError(ErrEncryption, "cipher setup failed", err)
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under key with a fresh nonce.
func Encrypt(plaintext []byte, key *Secret) (*EncryptedBlob, error) {
	if len(plaintext) > MaxSecretSize {
		return nil, vaultError(ErrTooLarge, "plaintext too large", nil)
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, vaultError(ErrEncryption, "nonce generation "+
			"failed", err)
	}

	return &EncryptedBlob{
		Ciphertext: aead.Seal(nil, nonce, plaintext, associatedData),
		Nonce:      nonce,
	}, nil
}

// Decrypt opens blob with key.  A wrong key or a modified blob returns
// ErrDecryption and never a wrong plaintext.
func Decrypt(blob *EncryptedBlob, key *Secret) (*Secret, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(blob.Nonce) != aead.NonceSize() {
		return nil, vaultError(ErrDecryption, "invalid nonce size", nil)
	}

	plaintext, err := aead.Open(
		nil, blob.Nonce, blob.Ciphertext, associatedData,
	)
	if err != nil {
		return nil, vaultError(ErrDecryption, "authentication failed",
			err)
	}
	defer zero.Bytes(plaintext)

	return NewSecret(plaintext)
}

// EncryptWithPassword seals plaintext under a key derived from password
// and a fresh random salt, which is stored in the blob.
func EncryptWithPassword(plaintext, password []byte) (*EncryptedBlob,
	error) {

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, vaultError(ErrEncryption, "salt generation failed",
			err)
	}

	key, err := DeriveKey(salt, password)
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	blob, err := Encrypt(plaintext, key)
	if err != nil {
		return nil, err
	}
	blob.Salt = salt
	return blob, nil
}

// DecryptWithPassword opens a blob sealed by EncryptWithPassword.
func DecryptWithPassword(blob *EncryptedBlob, password []byte) (*Secret,
	error) {

	key, err := DeriveKey(blob.Salt, password)
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	return Decrypt(blob, key)
}
