package vformat

import "testing"

func TestLegacyHeaderRoundTrip(t *testing.T) {
	h := &LegacyHeader{
		Version:     1,
		VaultID:     [16]byte{1, 2, 3, 4},
		Salt:        [16]byte{9, 9, 9},
		KDFMem:      128 * 1024,
		KDFIter:     10,
		KDFParallel: 1,
		WrappedMK:   []byte{0xAA, 0xBB, 0xCC, 0xDD},
	}

	encoded := EncodeLegacyHeader(h)

	got, n, err := DecodeLegacyHeader(encoded)
	if err != nil {
		t.Fatalf("DecodeLegacyHeader: %v", err)
	}
	if n != len(encoded) {
		t.Errorf("consumed %d bytes, want %d", n, len(encoded))
	}
	if got.Version != h.Version || got.VaultID != h.VaultID || got.Salt != h.Salt {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if string(got.WrappedMK) != string(h.WrappedMK) {
		t.Errorf("wrapped mk mismatch: %x vs %x", got.WrappedMK, h.WrappedMK)
	}
}

func TestLegacyHeaderRejectsBadMagic(t *testing.T) {
	h := &LegacyHeader{WrappedMK: []byte{1, 2, 3}}
	encoded := EncodeLegacyHeader(h)
	encoded[0] ^= 0xFF

	if _, _, err := DecodeLegacyHeader(encoded); err == nil {
		t.Error("expected error for corrupted magic")
	}
}

func TestLegacyHeaderRejectsBadCRC(t *testing.T) {
	h := &LegacyHeader{WrappedMK: []byte{1, 2, 3}}
	encoded := EncodeLegacyHeader(h)
	encoded[len(encoded)-1] ^= 0xFF

	if _, _, err := DecodeLegacyHeader(encoded); err == nil {
		t.Error("expected error for corrupted CRC")
	}
}

func TestJournalSlotRoundTrip(t *testing.T) {
	s := &JournalSlot{
		Seq:         42,
		VaultID:     [16]byte{1},
		Salt:        [16]byte{2},
		KDFMem:      256 * 1024,
		KDFIter:     12,
		KDFParallel: 2,
	}
	copy(s.WrappedMK[:], []byte("wrapped-master-key-bytes-here..........."))

	encoded := EncodeJournalSlot(s)
	if len(encoded) != JournalSlotSize {
		t.Fatalf("encoded slot length = %d, want %d", len(encoded), JournalSlotSize)
	}

	got, ok, err := DecodeJournalSlot(encoded)
	if err != nil {
		t.Fatalf("DecodeJournalSlot: %v", err)
	}
	if !ok {
		t.Fatal("expected slot to decode as valid")
	}
	if got.Seq != s.Seq || got.VaultID != s.VaultID || got.WrappedMK != s.WrappedMK {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestJournalSlotEmptyIsDiscarded(t *testing.T) {
	empty := make([]byte, JournalSlotSize)
	_, ok, err := DecodeJournalSlot(empty)
	if err != nil {
		t.Fatalf("DecodeJournalSlot: %v", err)
	}
	if ok {
		t.Error("an all-zero slot should decode as not-ok, not as a valid seq-0 slot")
	}
}

func TestJournalSlotCorruptedIsDiscarded(t *testing.T) {
	s := &JournalSlot{Seq: 1}
	encoded := EncodeJournalSlot(s)
	encoded[0] ^= 0xFF

	_, ok, err := DecodeJournalSlot(encoded)
	if err != nil {
		t.Fatalf("DecodeJournalSlot: %v", err)
	}
	if ok {
		t.Error("a CRC-corrupted slot should decode as not-ok")
	}
}

func TestJournalSuperblockRoundTrip(t *testing.T) {
	sb := &JournalSuperblock{
		Version:   1,
		SlotSize:  JournalSlotSize,
		SlotCount: JournalSlotCount,
		Flags:     0,
	}
	encoded := EncodeJournalSuperblock(sb)
	if len(encoded) != JournalSuperblockSize {
		t.Fatalf("encoded superblock length = %d, want %d", len(encoded), JournalSuperblockSize)
	}

	got, err := DecodeJournalSuperblock(encoded)
	if err != nil {
		t.Fatalf("DecodeJournalSuperblock: %v", err)
	}
	if *got != *sb {
		t.Errorf("round trip mismatch: %+v", got)
	}
}
