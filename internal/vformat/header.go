// Package vformat implements the container's on-disk binary layout: the
// legacy and journal header flavors, the encrypted index section, and
// per-entry serialisation. Every integer here is little-endian and every
// structure is packed with no implicit padding.
//
// This is AUDIT-CRITICAL code - the layout here is the wire format; changing
// a field order or size breaks every container written by a prior version.
package vformat

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"vaultengine/internal/verrors"
)

// Magic strings identifying the two header flavors. Both are exactly 8 bytes.
var (
	LegacyMagic  = [8]byte{'V', 'A', 'U', 'L', 'T', 'v', '1', ' '}
	JournalMagic = [8]byte{'V', 'A', 'U', 'L', 'T', 'J', '1', ' '}
)

// WrappedMKSize is the fixed length of a wrapped master key:
// nonce[24] || ciphertext[32] || tag[16].
const WrappedMKSize = 24 + 32 + 16

// LegacyHeader is the header flavor read for backward compatibility. The
// engine never creates a vault in this flavor; it re-encodes one only when
// rewriting a container that is already legacy.
type LegacyHeader struct {
	Version      uint32
	VaultID      [16]byte
	Salt         [16]byte
	KDFMem       uint32
	KDFIter      uint32
	KDFParallel  uint32
	WrappedMK    []byte // wrapped_mk_len bytes
}

// EncodeLegacyHeader serialises h, including its trailing CRC32.
func EncodeLegacyHeader(h *LegacyHeader) []byte {
	record := legacyRecordBytes(h)
	crc := crc32.ChecksumIEEE(record)

	out := make([]byte, len(record)+4)
	copy(out, record)
	binary.LittleEndian.PutUint32(out[len(record):], crc)
	return out
}

func legacyRecordBytes(h *LegacyHeader) []byte {
	buf := make([]byte, 0, 8+4+16+16+4+4+4+4+len(h.WrappedMK))
	buf = append(buf, LegacyMagic[:]...)
	buf = appendU32(buf, h.Version)
	buf = append(buf, h.VaultID[:]...)
	buf = append(buf, h.Salt[:]...)
	buf = appendU32(buf, h.KDFMem)
	buf = appendU32(buf, h.KDFIter)
	buf = appendU32(buf, h.KDFParallel)
	buf = appendU32(buf, uint32(len(h.WrappedMK)))
	buf = append(buf, h.WrappedMK...)
	return buf
}

// DecodeLegacyHeader reads a legacy header from buf, validating magic and
// CRC. Returns the header and the number of bytes consumed.
func DecodeLegacyHeader(buf []byte) (*LegacyHeader, int, error) {
	const fixedLen = 8 + 4 + 16 + 16 + 4 + 4 + 4 + 4
	if len(buf) < fixedLen {
		return nil, 0, verrors.NewContainerError("magic", fmt.Errorf("legacy header truncated"))
	}
	if !magicEquals(buf[:8], LegacyMagic) {
		return nil, 0, verrors.NewContainerError("magic", fmt.Errorf("bad legacy magic"))
	}

	h := &LegacyHeader{}
	off := 8
	h.Version = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	copy(h.VaultID[:], buf[off:off+16])
	off += 16
	copy(h.Salt[:], buf[off:off+16])
	off += 16
	h.KDFMem = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.KDFIter = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.KDFParallel = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	wrappedLen := binary.LittleEndian.Uint32(buf[off:])
	off += 4

	if wrappedLen > 4096 || int(wrappedLen) > len(buf)-off-4 {
		return nil, 0, verrors.NewContainerError("wrapped-mk-len", fmt.Errorf("implausible length %d", wrappedLen))
	}

	h.WrappedMK = append([]byte(nil), buf[off:off+int(wrappedLen)]...)
	off += int(wrappedLen)

	record := buf[:off]
	storedCRC := binary.LittleEndian.Uint32(buf[off:])
	off += 4

	if crc32.ChecksumIEEE(record) != storedCRC {
		return nil, 0, verrors.NewContainerError("crc", fmt.Errorf("legacy header CRC mismatch"))
	}

	return h, off, nil
}

// JournalSlotSize is the fixed on-disk size of one journal slot:
// seq:4 + vault_id:16 + salt:16 + kdf_mem:4 + kdf_iter:4 + kdf_parallel:4 +
// wrapped_mk_len:4 + wrapped_mk:72 + crc:4 = 128 bytes.
const JournalSlotSize = 4 + 16 + 16 + 4 + 4 + 4 + 4 + WrappedMKSize + 4

// JournalSuperblockSize is magic:8 + version:4 + slot_size:4 + slot_count:4 +
// flags:4 + crc:4 = 28 bytes.
const JournalSuperblockSize = 8 + 4 + 4 + 4 + 4 + 4

// JournalSlotCount is the fixed A/B slot count.
const JournalSlotCount = 2

// JournalHeaderSize is the total size of a journal header on disk.
const JournalHeaderSize = JournalSuperblockSize + JournalSlotCount*JournalSlotSize

// JournalSlot is one A/B slot. A slot with Seq == 0 is considered empty.
type JournalSlot struct {
	Seq         uint32
	VaultID     [16]byte
	Salt        [16]byte
	KDFMem      uint32
	KDFIter     uint32
	KDFParallel uint32
	WrappedMK   [WrappedMKSize]byte
}

// EncodeJournalSlot serialises one slot, including its trailing CRC32.
func EncodeJournalSlot(s *JournalSlot) []byte {
	buf := make([]byte, 0, JournalSlotSize)
	buf = appendU32(buf, s.Seq)
	buf = append(buf, s.VaultID[:]...)
	buf = append(buf, s.Salt[:]...)
	buf = appendU32(buf, s.KDFMem)
	buf = appendU32(buf, s.KDFIter)
	buf = appendU32(buf, s.KDFParallel)
	buf = appendU32(buf, WrappedMKSize)
	buf = append(buf, s.WrappedMK[:]...)

	crc := crc32.ChecksumIEEE(buf)
	buf = appendU32(buf, crc)
	return buf
}

// DecodeJournalSlot reads one slot. ok is false (with no error) when the
// slot is structurally intact but empty (Seq == 0) or its CRC does not
// validate - both are "discard this slot" conditions during open, not
// fatal errors.
func DecodeJournalSlot(buf []byte) (slot *JournalSlot, ok bool, err error) {
	if len(buf) != JournalSlotSize {
		return nil, false, fmt.Errorf("journal slot: want %d bytes, got %d", JournalSlotSize, len(buf))
	}

	record := buf[:JournalSlotSize-4]
	storedCRC := binary.LittleEndian.Uint32(buf[JournalSlotSize-4:])
	if crc32.ChecksumIEEE(record) != storedCRC {
		return nil, false, nil
	}

	s := &JournalSlot{}
	off := 0
	s.Seq = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if s.Seq == 0 {
		return nil, false, nil
	}
	copy(s.VaultID[:], buf[off:off+16])
	off += 16
	copy(s.Salt[:], buf[off:off+16])
	off += 16
	s.KDFMem = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	s.KDFIter = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	s.KDFParallel = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	wrappedLen := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if wrappedLen != WrappedMKSize {
		return nil, false, nil
	}
	copy(s.WrappedMK[:], buf[off:off+WrappedMKSize])

	return s, true, nil
}

// JournalSuperblock is the fixed-size header preceding the A/B slots.
type JournalSuperblock struct {
	Version   uint32
	SlotSize  uint32
	SlotCount uint32
	Flags     uint32
}

// EncodeJournalSuperblock serialises the superblock, including its CRC32
// computed over every preceding field.
func EncodeJournalSuperblock(sb *JournalSuperblock) []byte {
	buf := make([]byte, 0, JournalSuperblockSize)
	buf = append(buf, JournalMagic[:]...)
	buf = appendU32(buf, sb.Version)
	buf = appendU32(buf, sb.SlotSize)
	buf = appendU32(buf, sb.SlotCount)
	buf = appendU32(buf, sb.Flags)

	crc := crc32.ChecksumIEEE(buf)
	buf = appendU32(buf, crc)
	return buf
}

// DecodeJournalSuperblock validates magic/crc and returns the parsed fields.
func DecodeJournalSuperblock(buf []byte) (*JournalSuperblock, error) {
	if len(buf) < JournalSuperblockSize {
		return nil, verrors.NewContainerError("magic", fmt.Errorf("journal superblock truncated"))
	}
	if !magicEquals(buf[:8], JournalMagic) {
		return nil, verrors.NewContainerError("magic", fmt.Errorf("bad journal magic"))
	}

	sb := &JournalSuperblock{}
	off := 8
	sb.Version = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	sb.SlotSize = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	sb.SlotCount = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	sb.Flags = binary.LittleEndian.Uint32(buf[off:])
	off += 4

	record := buf[:off]
	storedCRC := binary.LittleEndian.Uint32(buf[off : off+4])
	if crc32.ChecksumIEEE(record) != storedCRC {
		return nil, verrors.NewContainerError("crc", fmt.Errorf("journal superblock CRC mismatch"))
	}

	if sb.SlotCount != JournalSlotCount {
		return nil, verrors.NewContainerError("slot-count", fmt.Errorf("unsupported slot count %d", sb.SlotCount))
	}
	if sb.SlotSize != JournalSlotSize {
		return nil, verrors.NewContainerError("slot-size", fmt.Errorf("unsupported slot size %d", sb.SlotSize))
	}

	return sb, nil
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func magicEquals(buf []byte, magic [8]byte) bool {
	for i := 0; i < 8; i++ {
		if buf[i] != magic[i] {
			return false
		}
	}
	return true
}
