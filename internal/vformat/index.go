package vformat

import (
	"encoding/binary"
	"fmt"

	"vaultengine/internal/verrors"
)

// paddedFlag marks the high bit of the index's count field when the index
// plaintext carries trailing pad bytes after the last entry (the
// save_index_only fast path reuses a larger previously-allocated capacity
// rather than rebuilding a tightly-sized index).
const paddedFlag = uint32(1) << 31

// EncodeIndexPlaintext serialises entries into the index's plaintext form:
// a count field (high bit set when padded) followed by each entry in order.
// Callers wanting padding append zero bytes to the result themselves and
// pass padded=true so the count field records that fact.
func EncodeIndexPlaintext(entries []*Entry, padded bool) ([]byte, error) {
	if len(entries) > maxEntryCount {
		return nil, verrors.NewContainerError("entry-count", fmt.Errorf("entry count %d exceeds cap %d", len(entries), maxEntryCount))
	}

	count := uint32(len(entries))
	if padded {
		count |= paddedFlag
	}

	buf := make([]byte, 4, 4+len(entries)*128)
	binary.LittleEndian.PutUint32(buf, count)

	var err error
	for _, e := range entries {
		buf, err = EncodeEntry(buf, e)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// DecodeIndexPlaintext parses the count field and every entry out of buf.
// A malformed entry is never swallowed: any decode error here is propagated
// to the caller rather than silently truncating the returned entry list.
func DecodeIndexPlaintext(buf []byte) (entries []*Entry, padded bool, err error) {
	if len(buf) < 4 {
		return nil, false, verrors.NewContainerError("index", fmt.Errorf("index plaintext truncated before count"))
	}
	raw := binary.LittleEndian.Uint32(buf)
	padded = raw&paddedFlag != 0
	count := raw &^ paddedFlag

	if count > maxEntryCount {
		return nil, false, verrors.NewContainerError("entry-count", fmt.Errorf("implausible entry count %d", count))
	}

	entries = make([]*Entry, 0, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		e, n, decErr := DecodeEntry(buf[off:])
		if decErr != nil {
			return nil, false, fmt.Errorf("entry %d: %w", i, decErr)
		}
		entries = append(entries, e)
		off += n
	}

	return entries, padded, nil
}

// IndexSectionHeaderSize is nonce[24] || ciphertext_len:u64, the framing
// that precedes the encrypted index ciphertext on disk.
const IndexSectionHeaderSize = vNonceSize + 8

// MaxIndexCiphertextLen is the sanity cap on ct_len.
const MaxIndexCiphertextLen = 100 * 1024 * 1024

// EncodeIndexSection frames an already-encrypted index ciphertext for disk:
// nonce || ciphertext_len:u64 || ciphertext.
func EncodeIndexSection(nonce [vNonceSize]byte, ciphertext []byte) []byte {
	buf := make([]byte, 0, IndexSectionHeaderSize+len(ciphertext))
	buf = append(buf, nonce[:]...)
	buf = appendU64(buf, uint64(len(ciphertext)))
	buf = append(buf, ciphertext...)
	return buf
}

// DecodeIndexSection reads the framing and returns the nonce, the raw
// ciphertext slice (still encrypted - callers decrypt with the master
// key), and the number of bytes consumed.
func DecodeIndexSection(buf []byte, maxCiphertextLen uint64) (nonce [vNonceSize]byte, ciphertext []byte, consumed int, err error) {
	if len(buf) < IndexSectionHeaderSize {
		return nonce, nil, 0, verrors.NewContainerError("index", fmt.Errorf("index section truncated before header"))
	}
	copy(nonce[:], buf[:vNonceSize])
	ctLen := binary.LittleEndian.Uint64(buf[vNonceSize:])

	if ctLen > maxCiphertextLen {
		return nonce, nil, 0, verrors.NewContainerError("index", fmt.Errorf("index ciphertext length %d exceeds cap %d", ctLen, maxCiphertextLen))
	}
	if uint64(len(buf)-IndexSectionHeaderSize) < ctLen {
		return nonce, nil, 0, verrors.NewContainerError("index", fmt.Errorf("index section truncated before ciphertext"))
	}

	ciphertext = buf[IndexSectionHeaderSize : IndexSectionHeaderSize+int(ctLen)]
	return nonce, ciphertext, IndexSectionHeaderSize + int(ctLen), nil
}
