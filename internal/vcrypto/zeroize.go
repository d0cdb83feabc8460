package vcrypto

import (
	"crypto/subtle"
	"os"
)

// Zeroize overwrites b with zeros using a constant-time copy so the compiler
// cannot optimize the write away as dead code.
func Zeroize(b []byte) {
	if len(b) == 0 {
		return
	}
	zeros := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zeros)
}

// ZeroizeAll zeros every slice passed in, for cleaning up a batch of related
// key material in one call.
func ZeroizeAll(slices ...[]byte) {
	for _, s := range slices {
		Zeroize(s)
	}
}

// SecureWipe overwrites b with random bytes and then zeros it, so a single
// memory scan of freed-but-not-yet-reused memory cannot recover the
// plaintext pattern from the zero pass alone.
func SecureWipe(b []byte) {
	if len(b) == 0 {
		return
	}
	if r, err := RandomBytes(len(b)); err == nil {
		copy(b, r)
	}
	Zeroize(b)
}

// wipeChunkSize is the pass size used by SecureWipeFile.
const wipeChunkSize = 64 * 1024

// SecureWipeFile overwrites the file at path with random bytes in 64 KiB
// passes, fsyncs, and unlinks it. Used to scrub streaming-import staging
// files on abort, since their ciphertext, while AEAD-protected, is no
// longer needed once an import is abandoned.
func SecureWipeFile(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}

	size := info.Size()
	buf := make([]byte, wipeChunkSize)
	var offset int64
	for offset < size {
		n := wipeChunkSize
		if remaining := size - offset; remaining < int64(n) {
			n = int(remaining)
		}
		if _, err := RandomBytesInto(buf[:n]); err != nil {
			f.Close()
			return err
		}
		if _, err := f.WriteAt(buf[:n], offset); err != nil {
			f.Close()
			return err
		}
		offset += int64(n)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

// RandomBytesInto fills dst in place with random bytes, so a wipe loop can
// reuse one write buffer across passes. Each call still draws the bytes
// through RandomBytes, which allocates a temporary of len(dst).
func RandomBytesInto(dst []byte) (int, error) {
	r, err := RandomBytes(len(dst))
	if err != nil {
		return 0, err
	}
	copy(dst, r)
	return len(dst), nil
}
