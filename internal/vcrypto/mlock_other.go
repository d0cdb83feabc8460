//go:build windows

package vcrypto

// LockMemory is a no-op on platforms without an mlock equivalent wired up.
// The master key is still zeroed on close; only the swap-avoidance
// guarantee is unavailable here.
func LockMemory(b []byte) error { return nil }

// UnlockMemory is the matching no-op for LockMemory.
func UnlockMemory(b []byte) error { return nil }
