package vault

import (
	"bytes"
	"fmt"
	"math"

	"vaultengine/internal/vformat"
	"vaultengine/internal/verrors"
)

// loadHeader reads and dispatches the container header, populating every
// header-derived field on h except the key material (MK is unwrapped by
// the caller once KEK is available).
func (h *Handle) loadHeader() error {
	prefix := make([]byte, 8192)
	n, err := h.file.ReadAt(prefix, 0)
	if n == 0 {
		return verrors.NewFileError("read-header", h.path, err)
	}
	buf := prefix[:n]
	if len(buf) < 8 {
		return verrors.NewContainerError("magic", fmt.Errorf("container too small to contain a header"))
	}

	switch {
	case bytes.Equal(buf[:8], vformat.LegacyMagic[:]):
		return h.loadLegacyHeader(buf)
	case bytes.Equal(buf[:8], vformat.JournalMagic[:]):
		return h.loadJournalHeader(buf)
	default:
		return verrors.NewContainerError("magic", fmt.Errorf("unrecognized container magic"))
	}
}

func (h *Handle) loadLegacyHeader(buf []byte) error {
	lh, consumed, err := vformat.DecodeLegacyHeader(buf)
	if err != nil {
		return err
	}
	h.legacy = true
	h.vaultID = lh.VaultID
	h.salt = lh.Salt
	h.kdfMem = lh.KDFMem
	h.kdfIter = lh.KDFIter
	h.kdfPar = uint8(lh.KDFParallel)
	h.legacyWrappedMK = lh.WrappedMK
	h.headerSize = uint64(consumed)
	return nil
}

func (h *Handle) loadJournalHeader(buf []byte) error {
	if len(buf) < vformat.JournalHeaderSize {
		// A container truncated inside the slot region is still openable
		// from whichever slot survived: the missing bytes decode as an
		// all-zero slot, which slot selection discards like any other
		// invalid slot.
		full := make([]byte, vformat.JournalHeaderSize)
		copy(full, buf)
		if n, err := h.file.ReadAt(full, 0); err != nil && n < vformat.JournalSuperblockSize+vformat.JournalSlotSize {
			return verrors.NewFileError("read-header", h.path, err)
		}
		buf = full
	}

	sb, err := vformat.DecodeJournalSuperblock(buf[:vformat.JournalSuperblockSize])
	if err != nil {
		return err
	}
	if sb.Version != HeaderVersion {
		return verrors.NewContainerError("version", fmt.Errorf("unsupported journal header version %d", sb.Version))
	}

	slotARaw := buf[vformat.JournalSuperblockSize : vformat.JournalSuperblockSize+vformat.JournalSlotSize]
	slotBRaw := buf[vformat.JournalSuperblockSize+vformat.JournalSlotSize : vformat.JournalSuperblockSize+2*vformat.JournalSlotSize]

	slotA, okA, err := vformat.DecodeJournalSlot(slotARaw)
	if err != nil {
		return err
	}
	slotB, okB, err := vformat.DecodeJournalSlot(slotBRaw)
	if err != nil {
		return err
	}
	if !okA && !okB {
		return verrors.NewContainerError("journal", fmt.Errorf("no valid journal slot"))
	}

	var active *vformat.JournalSlot
	activeIdx := -1
	if okA {
		active, activeIdx = slotA, 0
	}
	if okB && (active == nil || slotB.Seq > active.Seq) {
		active, activeIdx = slotB, 1
	}

	h.legacy = false
	h.slotA, h.slotB = slotA, slotB
	h.activeIdx = activeIdx
	h.vaultID = active.VaultID
	h.salt = active.Salt
	h.kdfMem = active.KDFMem
	h.kdfIter = active.KDFIter
	h.kdfPar = uint8(active.KDFParallel)
	h.headerSize = vformat.JournalHeaderSize
	return nil
}

// buildHeaderBytes serialises the header in whatever flavor the vault
// currently has. Legacy vaults never gain a journal header except via
// migrateToJournal.
func (h *Handle) buildHeaderBytes() []byte {
	if h.legacy {
		lh := &vformat.LegacyHeader{
			Version:     HeaderVersion,
			VaultID:     h.vaultID,
			Salt:        h.salt,
			KDFMem:      h.kdfMem,
			KDFIter:     h.kdfIter,
			KDFParallel: uint32(h.kdfPar),
			WrappedMK:   h.legacyWrappedMK,
		}
		return vformat.EncodeLegacyHeader(lh)
	}
	return buildJournalHeaderBytes(h.slotA, h.slotB)
}

func buildJournalHeaderBytes(slotA, slotB *vformat.JournalSlot) []byte {
	if slotA == nil {
		slotA = &vformat.JournalSlot{}
	}
	if slotB == nil {
		slotB = &vformat.JournalSlot{}
	}
	sb := &vformat.JournalSuperblock{
		Version:   HeaderVersion,
		SlotSize:  vformat.JournalSlotSize,
		SlotCount: vformat.JournalSlotCount,
	}
	buf := vformat.EncodeJournalSuperblock(sb)
	buf = append(buf, vformat.EncodeJournalSlot(slotA)...)
	buf = append(buf, vformat.EncodeJournalSlot(slotB)...)
	return buf
}

func (h *Handle) currentSeq() uint32 {
	if h.activeIdx == 0 && h.slotA != nil {
		return h.slotA.Seq
	}
	if h.activeIdx == 1 && h.slotB != nil {
		return h.slotB.Seq
	}
	return 0
}

// rotateJournal writes a new slot carrying newWrappedMK/newSalt/newParams,
// following the write-slot-then-superblock order that makes a crash
// between the two leave the previously active slot intact. On seq overflow
// both slots are reset to {1, 2}.
func (h *Handle) rotateJournal(newSalt [16]byte, newWrappedMK []byte, mem, iter uint32, parallel uint8) error {
	cur := h.currentSeq()

	var newSlot, otherSlot *vformat.JournalSlot
	var targetIdx int

	if cur == math.MaxUint32 {
		first := &vformat.JournalSlot{Seq: 1, VaultID: h.vaultID, Salt: newSalt, KDFMem: mem, KDFIter: iter, KDFParallel: uint32(parallel)}
		copy(first.WrappedMK[:], newWrappedMK)
		second := &vformat.JournalSlot{Seq: 2, VaultID: h.vaultID, Salt: newSalt, KDFMem: mem, KDFIter: iter, KDFParallel: uint32(parallel)}
		copy(second.WrappedMK[:], newWrappedMK)

		firstIdx := int(first.Seq % vformat.JournalSlotCount)
		secondIdx := int(second.Seq % vformat.JournalSlotCount)

		if err := h.writeSlot(first, firstIdx); err != nil {
			return err
		}
		if err := h.writeSlot(second, secondIdx); err != nil {
			return err
		}
		if err := h.writeSuperblock(); err != nil {
			return err
		}
		if secondIdx == 0 {
			h.slotA, h.slotB = second, first
		} else {
			h.slotB, h.slotA = second, first
		}
		h.activeIdx = secondIdx
		return nil
	}

	newSeq := cur + 1
	targetIdx = int(newSeq % vformat.JournalSlotCount)
	newSlot = &vformat.JournalSlot{Seq: newSeq, VaultID: h.vaultID, Salt: newSalt, KDFMem: mem, KDFIter: iter, KDFParallel: uint32(parallel)}
	copy(newSlot.WrappedMK[:], newWrappedMK)

	if targetIdx == 0 {
		otherSlot = h.slotB
	} else {
		otherSlot = h.slotA
	}

	if err := h.writeSlot(newSlot, targetIdx); err != nil {
		return err
	}
	if err := h.writeSuperblock(); err != nil {
		return err
	}

	if targetIdx == 0 {
		h.slotA = newSlot
		h.slotB = otherSlot
	} else {
		h.slotB = newSlot
		h.slotA = otherSlot
	}
	h.activeIdx = targetIdx
	return nil
}

func (h *Handle) writeSlot(slot *vformat.JournalSlot, idx int) error {
	buf := vformat.EncodeJournalSlot(slot)
	offset := int64(vformat.JournalSuperblockSize + idx*vformat.JournalSlotSize)
	if _, err := h.file.WriteAt(buf, offset); err != nil {
		return verrors.NewFileError("write-slot", h.path, err)
	}
	if err := h.file.Sync(); err != nil {
		return verrors.NewFileError("fsync", h.path, err)
	}
	return nil
}

func (h *Handle) writeSuperblock() error {
	sb := &vformat.JournalSuperblock{
		Version:   HeaderVersion,
		SlotSize:  vformat.JournalSlotSize,
		SlotCount: vformat.JournalSlotCount,
	}
	buf := vformat.EncodeJournalSuperblock(sb)
	if _, err := h.file.WriteAt(buf, 0); err != nil {
		return verrors.NewFileError("write-superblock", h.path, err)
	}
	if err := h.file.Sync(); err != nil {
		return verrors.NewFileError("fsync", h.path, err)
	}
	return nil
}
