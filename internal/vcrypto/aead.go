package vcrypto

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the extended XChaCha20-Poly1305 nonce length.
const NonceSize = chacha20poly1305.NonceSizeX

// TagSize is the Poly1305 authentication tag length.
const TagSize = 16

// ErrAuthFailed is returned by Decrypt when the authentication tag does not
// verify - either a wrong key or tampered ciphertext/AAD. The core never
// distinguishes the two, to avoid a wrong-passphrase oracle.
var ErrAuthFailed = errors.New("authentication failed")

// Encrypt seals plaintext under key with the given AAD, producing
// ciphertext||tag. If nonce is nil, a fresh random nonce is generated and
// returned; otherwise the caller's nonce is used as-is (the caller is
// responsible for its uniqueness).
func Encrypt(key, nonce, plaintext, aad []byte) (usedNonce, sealed []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, fmt.Errorf("init aead: %w", err)
	}

	if nonce == nil {
		usedNonce, err = RandomBytes(NonceSize)
		if err != nil {
			return nil, nil, err
		}
	} else {
		if len(nonce) != NonceSize {
			return nil, nil, fmt.Errorf("nonce length %d, want %d", len(nonce), NonceSize)
		}
		usedNonce = nonce
	}

	sealed = aead.Seal(nil, usedNonce, plaintext, aad)
	return usedNonce, sealed, nil
}

// Decrypt opens ciphertext||tag under key, nonce, and aad. Any tag mismatch
// is reported as ErrAuthFailed; any other failure (bad key/nonce length) is
// a plain error distinct from authentication failure.
func Decrypt(key, nonce, sealed, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("nonce length %d, want %d", len(nonce), NonceSize)
	}

	plaintext, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}
