package store

import (
	"crypto/aes"
	"crypto/cipher"
	cryptorand "crypto/rand"
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"

	"backuppeer/internal/errs"
)

const (
	fieldNonceSize = 16 // 128-bit nonce
	fieldKeySize   = 32 // 256-bit key
)

// FieldCipher performs field-level AES-256-GCM encryption for sensitive
// store columns, with the key derived once at startup via PBKDF2-SHA256
// from a deployment-specific seed.
type FieldCipher struct {
	key [fieldKeySize]byte
}

// NewFieldCipher derives the field-encryption key from seed using
// PBKDF2-SHA256 with the given iteration count.
func NewFieldCipher(seed string, salt []byte, iterations int) *FieldCipher {
	if iterations < 100_000 {
		iterations = 100_000
	}
	derived := pbkdf2.Key([]byte(seed), salt, iterations, fieldKeySize, sha256.New)
	fc := &FieldCipher{}
	copy(fc.key[:], derived)
	return fc
}

// Encrypt seals value with a fresh random 128-bit nonce prepended to the
// ciphertext.
func (fc *FieldCipher) Encrypt(value []byte) ([]byte, error) {
	block, err := aes.NewCipher(fc.key[:])
	if err != nil {
		return nil, errs.NewStoreError(errs.StoreFieldDecrypt, err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, fieldNonceSize)
	if err != nil {
		return nil, errs.NewStoreError(errs.StoreFieldDecrypt, err)
	}
	nonce := make([]byte, fieldNonceSize)
	if _, err := cryptorand.Read(nonce); err != nil {
		return nil, errs.NewStoreError(errs.StoreFieldDecrypt, err)
	}
	return gcm.Seal(nonce, nonce, value, nil), nil
}

// Decrypt opens a value produced by Encrypt. Every store read that touches
// an encrypted column must call this and surface a StoreError on failure
// rather than ever returning raw ciphertext.
func (fc *FieldCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(fc.key[:])
	if err != nil {
		return nil, errs.NewStoreError(errs.StoreFieldDecrypt, err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, fieldNonceSize)
	if err != nil {
		return nil, errs.NewStoreError(errs.StoreFieldDecrypt, err)
	}
	if len(ciphertext) < fieldNonceSize {
		return nil, errs.NewStoreError(errs.StoreFieldDecrypt, nil)
	}
	nonce, body := ciphertext[:fieldNonceSize], ciphertext[fieldNonceSize:]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, errs.NewStoreError(errs.StoreFieldDecrypt, err)
	}
	return plaintext, nil
}
