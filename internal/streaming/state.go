// Package streaming implements the resumable chunked-import state machine:
// a per-import staging directory holding one encrypted file per completed
// chunk plus a versioned `.state` record, so a host can
// import files up to 50 GiB with bounded memory and resume after a process
// crash. This package never touches the container file itself - Manager.Finish
// hands the caller an assembled entry/payload pair, and vault.Handle is the
// one that actually appends it (internal/vault/streaming.go).
package streaming

import (
	"encoding/binary"
	"fmt"

	"vaultengine/internal/verrors"
)

// ChunkSize is the fixed plaintext chunk size for streaming imports (larger
// than the 1 MiB chunk size import_file uses for non-streamed video, since
// streaming imports are the path for very large files where fewer, bigger
// chunks cut staging-file and syscall overhead).
const ChunkSize = 4 * 1024 * 1024

// stateMagic identifies a streaming-import state record on disk.
var stateMagic = [6]byte{'S', 'T', 'R', 'M', 'V', '1'}

// StateVersion is the only version this package writes or accepts.
const StateVersion uint32 = 1

const (
	maxNameLen = 4096
	maxMIMELen = 512
	maxDEKLen  = 512
)

// State is the persisted record for one streaming import
// (`<vault_dir>/.pending_imports/<import_id_hex>/.state`). The source URI a
// caller reads the plaintext from is deliberately never persisted - resume
// identity is carried by SourceHash alone - but the wire format reserves a
// permanently-zero length prefix where one would go.
type State struct {
	ImportID        [16]byte
	FileID          [16]byte
	SourceHash      [32]byte
	Type            uint8
	FileSize        uint64
	ChunkSize       uint32
	TotalChunks     uint32
	CompletedChunks uint32
	BytesWritten    uint64
	CreatedAt       uint64 // unix millis
	UpdatedAt       uint64 // unix millis
	Name            string
	MIME            string
	WrappedDEK      []byte
}

// encodeState serialises s into the `.state` wire layout.
func encodeState(s *State) ([]byte, error) {
	if len(s.Name) > maxNameLen {
		return nil, verrors.NewValidationError("name", fmt.Sprintf("length %d exceeds %d", len(s.Name), maxNameLen))
	}
	if len(s.MIME) > maxMIMELen {
		return nil, verrors.NewValidationError("mime", fmt.Sprintf("length %d exceeds %d", len(s.MIME), maxMIMELen))
	}
	if len(s.WrappedDEK) > maxDEKLen {
		return nil, verrors.NewValidationError("wrapped_dek", fmt.Sprintf("length %d exceeds %d", len(s.WrappedDEK), maxDEKLen))
	}

	buf := make([]byte, 0, 256+len(s.Name)+len(s.MIME)+len(s.WrappedDEK))
	buf = append(buf, stateMagic[:]...)
	buf = appendU32(buf, StateVersion)
	buf = append(buf, s.ImportID[:]...)
	buf = append(buf, s.FileID[:]...)
	buf = append(buf, s.SourceHash[:]...)
	buf = append(buf, s.Type)
	buf = appendU64(buf, s.FileSize)
	buf = appendU32(buf, s.ChunkSize)
	buf = appendU32(buf, s.TotalChunks)
	buf = appendU32(buf, s.CompletedChunks)
	buf = appendU64(buf, s.BytesWritten)
	buf = appendU64(buf, s.CreatedAt)
	buf = appendU64(buf, s.UpdatedAt)
	buf = appendU16(buf, 0) // source_uri_len: always zero, never persisted
	buf = appendU16(buf, uint16(len(s.Name)))
	buf = append(buf, s.Name...)
	buf = appendU16(buf, uint16(len(s.MIME)))
	buf = append(buf, s.MIME...)
	buf = appendU16(buf, uint16(len(s.WrappedDEK)))
	buf = append(buf, s.WrappedDEK...)
	return buf, nil
}

// decodeState parses a `.state` record, rejecting bad magic/version and any
// length field that would overrun the buffer.
func decodeState(buf []byte) (*State, error) {
	const fixedLen = 6 + 4 + 16 + 16 + 32 + 1 + 8 + 4 + 4 + 4 + 8 + 8 + 8 + 2
	if len(buf) < fixedLen {
		return nil, verrors.NewContainerError("streaming-state", fmt.Errorf("truncated before fixed fields"))
	}
	if string(buf[:6]) != string(stateMagic[:]) {
		return nil, verrors.NewContainerError("streaming-state", fmt.Errorf("bad magic"))
	}
	off := 6
	version := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if version != StateVersion {
		return nil, verrors.NewContainerError("streaming-state", fmt.Errorf("unsupported version %d", version))
	}

	s := &State{}
	copy(s.ImportID[:], buf[off:off+16])
	off += 16
	copy(s.FileID[:], buf[off:off+16])
	off += 16
	copy(s.SourceHash[:], buf[off:off+32])
	off += 32
	s.Type = buf[off]
	off++
	s.FileSize = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	s.ChunkSize = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	s.TotalChunks = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	s.CompletedChunks = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	s.BytesWritten = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	s.CreatedAt = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	s.UpdatedAt = binary.LittleEndian.Uint64(buf[off:])
	off += 8

	uriLen := binary.LittleEndian.Uint16(buf[off:])
	off += 2
	if off+int(uriLen) > len(buf) {
		return nil, verrors.NewContainerError("streaming-state", fmt.Errorf("truncated source uri"))
	}
	off += int(uriLen) // never stored as non-zero, but skip defensively

	nameLen, off2, err := readU16Len(buf, off, maxNameLen, "name")
	if err != nil {
		return nil, err
	}
	off = off2
	s.Name = string(buf[off : off+int(nameLen)])
	off += int(nameLen)

	mimeLen, off2, err := readU16Len(buf, off, maxMIMELen, "mime")
	if err != nil {
		return nil, err
	}
	off = off2
	s.MIME = string(buf[off : off+int(mimeLen)])
	off += int(mimeLen)

	dekLen, off2, err := readU16Len(buf, off, maxDEKLen, "wrapped_dek")
	if err != nil {
		return nil, err
	}
	off = off2
	s.WrappedDEK = append([]byte(nil), buf[off:off+int(dekLen)]...)
	off += int(dekLen)

	return s, nil
}

func readU16Len(buf []byte, off int, max uint16, field string) (uint16, int, error) {
	if off+2 > len(buf) {
		return 0, 0, verrors.NewContainerError("streaming-state", fmt.Errorf("truncated before %s length", field))
	}
	l := binary.LittleEndian.Uint16(buf[off:])
	off += 2
	if l > max {
		return 0, 0, verrors.NewContainerError("streaming-state", fmt.Errorf("%s length %d exceeds cap %d", field, l, max))
	}
	if off+int(l) > len(buf) {
		return 0, 0, verrors.NewContainerError("streaming-state", fmt.Errorf("%s truncated", field))
	}
	return l, off, nil
}

func appendU16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}
