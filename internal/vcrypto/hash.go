package vcrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"hash"
)

// HashSize is the digest size of the streaming hash used for the trailing
// container integrity hash and the streaming-import source fingerprint.
const HashSize = sha256.Size

// Hasher wraps a streaming SHA-256 computation behind init/update/final
// style methods.
type Hasher struct {
	h hash.Hash
}

// NewHasher starts a new streaming hash (the "init" step).
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

// Update feeds more bytes into the running hash.
func (h *Hasher) Update(p []byte) {
	h.h.Write(p)
}

// Final returns the finished digest. The Hasher must not be reused afterward.
func (h *Hasher) Final() [HashSize]byte {
	var out [HashSize]byte
	copy(out[:], h.h.Sum(nil))
	return out
}

// Sum256 computes a one-shot SHA-256 digest.
func Sum256(p []byte) [HashSize]byte {
	return sha256.Sum256(p)
}

// RandomBytes generates n cryptographically secure random bytes, rejecting
// the vanishingly unlikely all-zero output as a crypto/rand sanity check.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.New("fatal crypto/rand error: " + err.Error())
	}

	allZero := true
	for _, v := range b {
		if v != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return nil, errors.New("fatal crypto/rand error: produced zero bytes")
	}
	return b, nil
}

// ConstantTimeCompare reports whether a and b are equal using a constant-time
// comparison, for use anywhere a secret is compared (never for ciphertext
// integrity, which is already AEAD-verified).
func ConstantTimeCompare(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
