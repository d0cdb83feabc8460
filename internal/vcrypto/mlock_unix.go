//go:build !windows

package vcrypto

import "golang.org/x/sys/unix"

// LockMemory attempts to lock b's backing pages against swap, so the
// master key slot is never written to a swap device. Failure is non-fatal - most hosts (containers without CAP_IPC_LOCK,
// memory-overcommit limits) cannot grant this, and the engine degrades to
// "best-effort" rather than refusing to open a vault.
func LockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Mlock(b)
}

// UnlockMemory releases a region locked by LockMemory.
func UnlockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munlock(b)
}
