package vformat

import (
	"encoding/binary"
	"fmt"

	"vaultengine/internal/verrors"
)

// Entry kinds, stored as a single byte.
const (
	TypeText  uint8 = 1
	TypeImage uint8 = 2
	TypeVideo uint8 = 3
)

const (
	maxNameLen       = 4096
	maxMIMELen       = 512
	maxWrappedDEKLen = 512
	maxChunkCount    = 1 << 20 // 1,048,576 chunks - generous over the 50 GiB / typical chunk size ceiling
	maxEntryCount    = 1_000_000
)

// ChunkRef locates one encrypted chunk of a multi-chunk entry.
type ChunkRef struct {
	Offset uint64
	Length uint32
	Nonce  [vNonceSize]byte
}

const vNonceSize = 24

// Entry is one file record in the index. A single-chunk entry (ChunkCount
// == 0) stores its location directly in DataOffset/DataLength; a chunked,
// multi-chunk entry (ChunkCount > 0) carries a Chunks table instead.
type Entry struct {
	FileID     [16]byte
	Type       uint8
	CreatedAt  uint64 // unix millis
	Name       string
	MIME       string
	Size       uint64
	WrappedDEK []byte

	ChunkCount uint32

	DataOffset uint64
	DataLength uint64

	Chunks []ChunkRef
}

// EncodeEntry appends the serialised form of e to dst and returns the result.
func EncodeEntry(dst []byte, e *Entry) ([]byte, error) {
	if len(e.Name) > maxNameLen {
		return nil, verrors.NewContainerError("name", fmt.Errorf("name too long: %d bytes", len(e.Name)))
	}
	if len(e.MIME) > maxMIMELen {
		return nil, verrors.NewContainerError("mime", fmt.Errorf("mime too long: %d bytes", len(e.MIME)))
	}
	if len(e.WrappedDEK) > maxWrappedDEKLen {
		return nil, verrors.NewContainerError("wrapped-dek", fmt.Errorf("wrapped dek too long: %d bytes", len(e.WrappedDEK)))
	}
	if e.ChunkCount > 0 && len(e.Chunks) != int(e.ChunkCount) {
		return nil, verrors.NewContainerError("chunk-count", fmt.Errorf("chunk_count=%d but %d chunk refs given", e.ChunkCount, len(e.Chunks)))
	}

	dst = append(dst, e.FileID[:]...)
	dst = append(dst, e.Type)
	dst = appendU64(dst, e.CreatedAt)
	dst = appendU16(dst, uint16(len(e.Name)))
	dst = append(dst, e.Name...)
	dst = appendU16(dst, uint16(len(e.MIME)))
	dst = append(dst, e.MIME...)
	dst = appendU64(dst, e.Size)
	dst = appendU16(dst, uint16(len(e.WrappedDEK)))
	dst = append(dst, e.WrappedDEK...)
	dst = appendU32(dst, e.ChunkCount)

	if e.ChunkCount == 0 {
		dst = appendU64(dst, e.DataOffset)
		dst = appendU64(dst, e.DataLength)
		return dst, nil
	}

	for _, c := range e.Chunks {
		dst = appendU64(dst, c.Offset)
		dst = appendU32(dst, c.Length)
		dst = append(dst, c.Nonce[:]...)
	}
	return dst, nil
}

// DecodeEntry parses one entry from the front of buf, returning the entry
// and the number of bytes consumed. All length-prefixed fields are checked
// against plausibility caps before any allocation; a malformed length never
// reaches an allocation or slice index.
func DecodeEntry(buf []byte) (*Entry, int, error) {
	const fixed = 16 + 1 + 8
	if len(buf) < fixed {
		return nil, 0, verrors.NewContainerError("entry", fmt.Errorf("entry header truncated"))
	}

	e := &Entry{}
	off := 0
	copy(e.FileID[:], buf[off:off+16])
	off += 16
	e.Type = buf[off]
	off++
	e.CreatedAt = binary.LittleEndian.Uint64(buf[off:])
	off += 8

	nameLen, n, err := readU16Len(buf, off, maxNameLen, "name")
	if err != nil {
		return nil, 0, err
	}
	off = n
	e.Name = string(buf[off : off+int(nameLen)])
	off += int(nameLen)

	mimeLen, n, err := readU16Len(buf, off, maxMIMELen, "mime")
	if err != nil {
		return nil, 0, err
	}
	off = n
	e.MIME = string(buf[off : off+int(mimeLen)])
	off += int(mimeLen)

	if off+8 > len(buf) {
		return nil, 0, verrors.NewContainerError("entry", fmt.Errorf("truncated before size"))
	}
	e.Size = binary.LittleEndian.Uint64(buf[off:])
	off += 8

	dekLen, n, err := readU16Len(buf, off, maxWrappedDEKLen, "wrapped-dek")
	if err != nil {
		return nil, 0, err
	}
	off = n
	e.WrappedDEK = append([]byte(nil), buf[off:off+int(dekLen)]...)
	off += int(dekLen)

	if off+4 > len(buf) {
		return nil, 0, verrors.NewContainerError("entry", fmt.Errorf("truncated before chunk_count"))
	}
	e.ChunkCount = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if e.ChunkCount > maxChunkCount {
		return nil, 0, verrors.NewContainerError("chunk-count", fmt.Errorf("implausible chunk_count %d", e.ChunkCount))
	}

	if e.ChunkCount == 0 {
		if off+16 > len(buf) {
			return nil, 0, verrors.NewContainerError("entry", fmt.Errorf("truncated data offset/length"))
		}
		e.DataOffset = binary.LittleEndian.Uint64(buf[off:])
		off += 8
		e.DataLength = binary.LittleEndian.Uint64(buf[off:])
		off += 8
		return e, off, nil
	}

	const chunkRecLen = 8 + 4 + vNonceSize
	need := int(e.ChunkCount) * chunkRecLen
	if need < 0 || off+need > len(buf) {
		return nil, 0, verrors.NewContainerError("chunks", fmt.Errorf("truncated chunk table"))
	}
	e.Chunks = make([]ChunkRef, e.ChunkCount)
	for i := range e.Chunks {
		e.Chunks[i].Offset = binary.LittleEndian.Uint64(buf[off:])
		off += 8
		e.Chunks[i].Length = binary.LittleEndian.Uint32(buf[off:])
		off += 4
		copy(e.Chunks[i].Nonce[:], buf[off:off+vNonceSize])
		off += vNonceSize
	}

	return e, off, nil
}

func readU16Len(buf []byte, off int, max uint16, field string) (uint16, int, error) {
	if off+2 > len(buf) {
		return 0, 0, verrors.NewContainerError(field, fmt.Errorf("truncated before %s length", field))
	}
	l := binary.LittleEndian.Uint16(buf[off:])
	off += 2
	if l > max {
		return 0, 0, verrors.NewContainerError(field, fmt.Errorf("%s length %d exceeds cap %d", field, l, max))
	}
	if off+int(l) > len(buf) {
		return 0, 0, verrors.NewContainerError(field, fmt.Errorf("%s truncated", field))
	}
	return l, off, nil
}

func appendU16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}
