package persist

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	dberrors "github.com/fabstir/vectordb/internal/errors"
)

// EncryptionAlgo tags which AEAD (if any) a blob was sealed with, mirroring
// the manifest's encryption descriptor (spec §6.2: "algorithm tag u8: 0 =
// none, 1 = XChaCha20-Poly1305").
type EncryptionAlgo uint8

const (
	EncryptionNone           EncryptionAlgo = 0
	EncryptionXChaCha20Poly1305 EncryptionAlgo = 1
)

// deriveKey derives the 32-byte session encryption key from caller-supplied
// seed material and the session id via HKDF-SHA256, so the key never
// leaves the process as raw seed bytes and is bound to this one session
// (spec §4.8 step 4: "the key is derived from caller-supplied session
// material"). golang.org/x/crypto/hkdf is already part of this module's
// crypto dependency; no separate KDF library is needed.
func deriveKey(seedMaterial []byte, sessionID string) ([]byte, error) {
	kdf := hkdf.New(sha256.New, seedMaterial, []byte(sessionID), []byte("fabstir/vectordb blob encryption v1"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, dberrors.EncryptionError(fmt.Sprintf("key derivation: %v", err))
	}
	return key, nil
}

// seal encrypts plaintext with a fresh random 24-byte nonce, returning the
// ciphertext (with appended AEAD tag) and the nonce used, per spec §4.8
// step 4 ("use a fresh 24-byte nonce per blob; include the nonce in the
// blob descriptor").
func seal(key, plaintext []byte) (ciphertext []byte, nonce [chacha20poly1305.NonceSizeX]byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nonce, dberrors.EncryptionError(fmt.Sprintf("new aead: %v", err))
	}
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, nonce, dberrors.EncryptionError(fmt.Sprintf("nonce: %v", err))
	}
	ciphertext = aead.Seal(nil, nonce[:], plaintext, nil)
	return ciphertext, nonce, nil
}

// open decrypts ciphertext sealed by seal using the given nonce.
func open(key, ciphertext []byte, nonce [chacha20poly1305.NonceSizeX]byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, dberrors.EncryptionError(fmt.Sprintf("new aead: %v", err))
	}
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, dberrors.EncryptionError("decrypt: authentication failed")
	}
	return plaintext, nil
}
