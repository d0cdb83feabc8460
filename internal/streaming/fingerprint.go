package streaming

import (
	"encoding/binary"
	"io"

	"vaultengine/internal/vcrypto"
)

const fingerprintWindow = 1 * 1024 * 1024

// Fingerprint computes the source-file identity hash used to recognize a
// resumable transfer across process restarts:
// SHA256(first_1MiB || last_1MiB || file_size:u64), with the trailing window
// omitted when the file is 2 MiB or smaller.
func Fingerprint(r io.ReaderAt, size int64) ([32]byte, error) {
	h := vcrypto.NewHasher()

	first := make([]byte, minInt64(fingerprintWindow, size))
	if len(first) > 0 {
		if _, err := r.ReadAt(first, 0); err != nil && err != io.EOF {
			return [32]byte{}, err
		}
	}
	h.Update(first)

	if size > 2*fingerprintWindow {
		last := make([]byte, fingerprintWindow)
		if _, err := r.ReadAt(last, size-fingerprintWindow); err != nil && err != io.EOF {
			return [32]byte{}, err
		}
		h.Update(last)
	}

	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], uint64(size))
	h.Update(sizeBuf[:])

	return h.Final(), nil
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
