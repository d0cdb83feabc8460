// Package vcrypto provides the cryptographic primitives the vault container
// engine is built on: Argon2id key derivation, XChaCha20-Poly1305 AEAD framing
// bound to a fixed associated-data structure, streaming SHA-256, and secure
// erasure of key material and scratch buffers.
//
// This is AUDIT-CRITICAL code - changes here directly affect which existing
// vault containers can still be opened.
package vcrypto

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/argon2"
)

// KeySize is the output size of every key this package produces: the KEK,
// the master key, and every per-file DEK.
const KeySize = 32

// Profile identifies one of the three supported Argon2id cost presets.
// Profiles are ordered cheapest-to-priciest; validation requires every
// on-disk (mem, iter) pair to fall within [ProfileLow, ProfileHigh] on both
// axes.
type Profile struct {
	Mem    uint32 // KiB
	Iter   uint32
	Thread uint8
}

// The three supported KDF cost profiles, selected by the host from its
// process-wide "device RAM class" (outside this package's scope) and
// otherwise fixed.
var (
	ProfileLow    = Profile{Mem: 32 * 1024, Iter: 3, Thread: 1}
	ProfileMedium = Profile{Mem: 128 * 1024, Iter: 10, Thread: 1}
	ProfileHigh   = Profile{Mem: 256 * 1024, Iter: 12, Thread: 2}
)

var (
	profileMu      sync.RWMutex
	currentProfile = ProfileMedium
)

// SetProfile installs the process-wide adaptive KDF profile used by Derive.
func SetProfile(p Profile) {
	profileMu.Lock()
	defer profileMu.Unlock()
	currentProfile = p
}

// SetProfileByRAM selects a profile from the host's device RAM class hint,
// in MiB. The core never inspects real system memory itself - the host
// always supplies this.
func SetProfileByRAM(ramMB int) {
	switch {
	case ramMB >= 4096:
		SetProfile(ProfileHigh)
	case ramMB >= 1536:
		SetProfile(ProfileMedium)
	default:
		SetProfile(ProfileLow)
	}
}

// CurrentProfile returns the active adaptive KDF profile.
func CurrentProfile() Profile {
	profileMu.RLock()
	defer profileMu.RUnlock()
	return currentProfile
}

// ValidateParams rejects any (mem, iter) pair outside [ProfileLow, ProfileHigh]
// on both axes. Used when opening a vault to reject header KDF params that
// have been corrupted or tampered with into something absurd (e.g. a
// memory-exhaustion DoS via an inflated mem field).
func ValidateParams(mem, iter uint32) error {
	if mem < ProfileLow.Mem || mem > ProfileHigh.Mem {
		return fmt.Errorf("kdf mem %d outside [%d, %d]", mem, ProfileLow.Mem, ProfileHigh.Mem)
	}
	if iter < ProfileLow.Iter || iter > ProfileHigh.Iter {
		return fmt.Errorf("kdf iter %d outside [%d, %d]", iter, ProfileLow.Iter, ProfileHigh.Iter)
	}
	return nil
}

// Derive runs Argon2id with the current adaptive profile. On failure it
// falls back once to ProfileLow and persists that downgrade process-wide.
// Argon2id as implemented by golang.org/x/crypto/argon2 never itself
// returns an error; the fallback exists for a future/alternate
// implementation that signals OOM.
func Derive(passphrase []byte, salt []byte) (key []byte, used Profile, err error) {
	p := CurrentProfile()
	key, err = deriveWithParams(passphrase, salt, p.Mem, p.Iter, p.Thread)
	if err != nil {
		SetProfile(ProfileLow)
		p = ProfileLow
		key, err = deriveWithParams(passphrase, salt, p.Mem, p.Iter, p.Thread)
	}
	return key, p, err
}

// DeriveWithStoredParams re-derives the KEK from parameters read back from a
// vault's header. It MUST be used on open so vaults created on one device
// (with one RAM class) open correctly on another.
func DeriveWithStoredParams(passphrase []byte, salt []byte, mem, iter uint32, parallel uint8) ([]byte, error) {
	if err := ValidateParams(mem, iter); err != nil {
		return nil, err
	}
	return deriveWithParams(passphrase, salt, mem, iter, parallel)
}

func deriveWithParams(passphrase, salt []byte, mem, iter uint32, parallel uint8) ([]byte, error) {
	if parallel == 0 {
		parallel = 1
	}
	key := argon2.IDKey(passphrase, salt, iter, mem, parallel, KeySize)

	allZero := true
	for _, b := range key {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return nil, fmt.Errorf("fatal argon2 error: produced zero key")
	}
	return key, nil
}
