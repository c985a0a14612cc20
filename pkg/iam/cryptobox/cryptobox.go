// Package cryptobox provides symmetric at-rest encryption for upstream OAuth
// tokens, keyed by the server-wide token_encryption_key from pkg/secretstore.
package cryptobox

import (
	"crypto/rand"
	"net/http"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/trailforge/authcore/pkg/errx"
)

const (
	keySize   = 32
	nonceSize = 24
)

var ErrRegistry = errx.NewRegistry("CRYPTOBOX")

var (
	CodeInvalidKeySize  = ErrRegistry.Register("INVALID_KEY_SIZE", errx.TypeCrypto, http.StatusInternalServerError, "encryption key must be exactly 32 bytes")
	CodeNonceGeneration = ErrRegistry.Register("NONCE_GENERATION_FAILED", errx.TypeCrypto, http.StatusInternalServerError, "failed to generate nonce")
	CodeDecryptFailed   = ErrRegistry.Register("DECRYPT_FAILED", errx.TypeCrypto, http.StatusInternalServerError, "ciphertext failed authentication")
)

func ErrInvalidKeySize() *errx.Error  { return ErrRegistry.New(CodeInvalidKeySize) }
func ErrNonceGeneration() *errx.Error { return ErrRegistry.New(CodeNonceGeneration) }
func ErrDecryptFailed() *errx.Error   { return ErrRegistry.New(CodeDecryptFailed) }

// Box seals and opens ciphertext with NaCl secretbox (XSalsa20-Poly1305).
type Box struct {
	key *[keySize]byte
}

// New builds a Box from a 32-byte key, as returned by
// secretstore.Store.GetOrCreate(ctx, secretstore.TokenEncryptionKey).
func New(key []byte) (*Box, error) {
	if len(key) != keySize {
		return nil, ErrInvalidKeySize().WithDetail("got_bytes", len(key))
	}
	var k [keySize]byte
	copy(k[:], key)
	return &Box{key: &k}, nil
}

// Encrypt seals plaintext under a fresh random nonce. aad, when non-empty,
// is authenticated by prefixing it to the plaintext before sealing — it is
// verified but not returned, and the caller must pass the identical aad back
// into Decrypt. secretbox has no dedicated AAD slot, so inclusion is how
// authentication of associated data is achieved here.
func (b *Box) Encrypt(plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	var n [nonceSize]byte
	if _, err := rand.Read(n[:]); err != nil {
		return nil, nil, ErrNonceGeneration()
	}

	combined := append(append([]byte{}, aad...), plaintext...)
	sealed := secretbox.Seal(nil, combined, &n, b.key)
	return sealed, n[:], nil
}

// Decrypt opens ciphertext sealed by Encrypt with the matching nonce and aad.
// Returns ErrDecryptFailed on any authentication-tag mismatch.
func (b *Box) Decrypt(ciphertext, nonce, aad []byte) ([]byte, error) {
	if len(nonce) != nonceSize {
		return nil, ErrDecryptFailed().WithDetail("reason", "invalid nonce length")
	}
	var n [nonceSize]byte
	copy(n[:], nonce)

	opened, ok := secretbox.Open(nil, ciphertext, &n, b.key)
	if !ok {
		return nil, ErrDecryptFailed()
	}

	if len(opened) < len(aad) || string(opened[:len(aad)]) != string(aad) {
		return nil, ErrDecryptFailed().WithDetail("reason", "aad mismatch")
	}
	return opened[len(aad):], nil
}
