package crypto

import (
	cryptorand "crypto/rand"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"backuppeer/internal/errs"
)

// sharedSecretCacheSize bounds the in-memory shared-secret cache, evicted
// LRU by last use with an explicit capacity bound.
const sharedSecretCacheSize = 512

// SecretCache derives and caches X25519 shared secrets by counterparty
// peer-id-hash. Secrets never touch disk.
type SecretCache struct {
	self *KeyPair
	mu   sync.Mutex
	lru  *lru.Cache[string, [32]byte]
}

// NewSecretCache builds a SecretCache bound to this peer's encryption keypair.
func NewSecretCache(self *KeyPair) *SecretCache {
	c, _ := lru.New[string, [32]byte](sharedSecretCacheSize)
	return &SecretCache{self: self, lru: c}
}

// Derive returns the cached shared secret for peerIDHash, computing and
// caching it on first use via X25519(self.private, peer.public).
func (c *SecretCache) Derive(peerIDHash string, peerEncryptionPublic [32]byte) ([32]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if secret, ok := c.lru.Get(peerIDHash); ok {
		return secret, nil
	}
	var secret [32]byte
	out, err := curve25519.X25519(c.self.EncryptionPrivate[:], peerEncryptionPublic[:])
	if err != nil {
		return secret, errs.NewCryptoError(errs.CryptoKeyMissing, err)
	}
	copy(secret[:], out)
	c.lru.Add(peerIDHash, secret)
	return secret, nil
}

// Forget evicts a cached secret, e.g. on session close.
func (c *SecretCache) Forget(peerIDHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(peerIDHash)
}

// Encrypt seals plaintext under the given 32-byte key using ChaCha20-Poly1305
// with a fresh random nonce prepended to the ciphertext.
func Encrypt(key [32]byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, errs.NewCryptoError(errs.CryptoKeyMissing, err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := cryptorand.Read(nonce); err != nil {
		return nil, errs.NewCryptoError(errs.CryptoKeyMissing, err)
	}
	ciphertext := aead.Seal(nonce, nonce, plaintext, nil)
	return ciphertext, nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any failure — truncated
// input, wrong key, tampered tag — surfaces as a CryptoError with reason
// decryption-failed, which callers treat as fatal for the affected chunk.
func Decrypt(key [32]byte, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, errs.NewCryptoError(errs.CryptoKeyMissing, err)
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, errs.NewCryptoError(errs.CryptoDecryptionFailed, nil)
	}
	nonce, body := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, errs.NewCryptoError(errs.CryptoDecryptionFailed, err)
	}
	return plaintext, nil
}
