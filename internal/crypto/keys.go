package crypto

import (
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/curve25519"

	"backuppeer/internal/errs"
	"backuppeer/internal/logging"
)

// KeyPair bundles the long-term signing keypair and the X25519 encryption
// keypair loaded from, or generated into, a key directory.
type KeyPair struct {
	SigningPublic   ed25519.PublicKey
	SigningPrivate  ed25519.PrivateKey
	EncryptionPublic  [32]byte
	EncryptionPrivate [32]byte
}

const (
	signingPublicFile    = "signing_public.key"
	signingPrivateFile   = "signing_private.key"
	encryptionPublicFile = "public.key"
	encryptionPrivateFile = "private.key"
)

// LoadOrCreateKeys loads the signing and encryption keypairs from dir,
// generating and atomically persisting new ones on first use. Private
// material is written with 0600 permissions, public material with 0644.
func LoadOrCreateKeys(dir string, log logging.Logger) (*KeyPair, error) {
	if log == nil {
		log = logging.NewNoop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.NewCryptoError(errs.CryptoKeyMissing, err)
	}

	kp := &KeyPair{}

	signingPub, signingPriv, err := loadOrGenerateSigning(dir)
	if err != nil {
		return nil, err
	}
	kp.SigningPublic, kp.SigningPrivate = signingPub, signingPriv

	encPub, encPriv, err := loadOrGenerateEncryption(dir)
	if err != nil {
		return nil, err
	}
	kp.EncryptionPublic, kp.EncryptionPrivate = encPub, encPriv

	log.Infof("key material ready in %s", dir)
	return kp, nil
}

func loadOrGenerateSigning(dir string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pubPath := filepath.Join(dir, signingPublicFile)
	privPath := filepath.Join(dir, signingPrivateFile)

	pubBytes, pubErr := os.ReadFile(pubPath)
	privBytes, privErr := os.ReadFile(privPath)
	if pubErr == nil && privErr == nil {
		if len(pubBytes) != ed25519.PublicKeySize || len(privBytes) != ed25519.PrivateKeySize {
			return nil, nil, errs.NewCryptoError(errs.CryptoKeyMissing, fmt.Errorf("signing key length mismatch"))
		}
		return ed25519.PublicKey(pubBytes), ed25519.PrivateKey(privBytes), nil
	}

	pub, priv, err := ed25519.GenerateKey(cryptorand.Reader)
	if err != nil {
		return nil, nil, errs.NewCryptoError(errs.CryptoKeyMissing, err)
	}
	if err := atomicWriteFile(pubPath, pub, 0o644); err != nil {
		return nil, nil, errs.NewCryptoError(errs.CryptoKeyMissing, err)
	}
	if err := atomicWriteFile(privPath, priv, 0o600); err != nil {
		return nil, nil, errs.NewCryptoError(errs.CryptoKeyMissing, err)
	}
	return pub, priv, nil
}

func loadOrGenerateEncryption(dir string) ([32]byte, [32]byte, error) {
	var pub, priv [32]byte
	pubPath := filepath.Join(dir, encryptionPublicFile)
	privPath := filepath.Join(dir, encryptionPrivateFile)

	pubBytes, pubErr := os.ReadFile(pubPath)
	privBytes, privErr := os.ReadFile(privPath)
	if pubErr == nil && privErr == nil && len(pubBytes) == 32 && len(privBytes) == 32 {
		copy(pub[:], pubBytes)
		copy(priv[:], privBytes)
		return pub, priv, nil
	}

	if _, err := cryptorand.Read(priv[:]); err != nil {
		return pub, priv, errs.NewCryptoError(errs.CryptoKeyMissing, err)
	}
	// Clamp per RFC 7748 so the scalar is a valid X25519 private key.
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	curve25519.ScalarBaseMult(&pub, &priv)

	if err := atomicWriteFile(privPath, priv[:], 0o600); err != nil {
		return pub, priv, errs.NewCryptoError(errs.CryptoKeyMissing, err)
	}
	if err := atomicWriteFile(pubPath, pub[:], 0o644); err != nil {
		return pub, priv, errs.NewCryptoError(errs.CryptoKeyMissing, err)
	}
	return pub, priv, nil
}

// atomicWriteFile writes data to a temp file in the same directory then
// renames it into place, so a crash never leaves partial key material.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
