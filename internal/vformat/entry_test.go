package vformat

import "testing"

func sampleEntry() *Entry {
	return &Entry{
		FileID:     [16]byte{1, 2, 3},
		Type:       TypeImage,
		CreatedAt:  1234567890,
		Name:       "photo.png",
		MIME:       "image/png",
		Size:       4096,
		WrappedDEK: []byte{0xDE, 0xAD, 0xBE, 0xEF},
		DataOffset: 512,
		DataLength: 4096,
	}
}

func TestEncodeDecodeEntrySingleChunk(t *testing.T) {
	e := sampleEntry()

	buf, err := EncodeEntry(nil, e)
	if err != nil {
		t.Fatalf("EncodeEntry: %v", err)
	}

	got, n, err := DecodeEntry(buf)
	if err != nil {
		t.Fatalf("DecodeEntry: %v", err)
	}
	if n != len(buf) {
		t.Errorf("consumed %d bytes, want %d", n, len(buf))
	}
	if got.Name != e.Name || got.MIME != e.MIME || got.Size != e.Size {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.DataOffset != e.DataOffset || got.DataLength != e.DataLength {
		t.Errorf("data location mismatch: %+v", got)
	}
}

func TestEncodeDecodeEntryMultiChunk(t *testing.T) {
	e := sampleEntry()
	e.Type = TypeVideo
	e.ChunkCount = 3
	e.Chunks = []ChunkRef{
		{Offset: 0, Length: 1024, Nonce: [vNonceSize]byte{1}},
		{Offset: 1024, Length: 1024, Nonce: [vNonceSize]byte{2}},
		{Offset: 2048, Length: 512, Nonce: [vNonceSize]byte{3}},
	}

	buf, err := EncodeEntry(nil, e)
	if err != nil {
		t.Fatalf("EncodeEntry: %v", err)
	}

	got, n, err := DecodeEntry(buf)
	if err != nil {
		t.Fatalf("DecodeEntry: %v", err)
	}
	if n != len(buf) {
		t.Errorf("consumed %d bytes, want %d", n, len(buf))
	}
	if len(got.Chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got.Chunks))
	}
	for i, c := range got.Chunks {
		if c != e.Chunks[i] {
			t.Errorf("chunk %d mismatch: %+v vs %+v", i, c, e.Chunks[i])
		}
	}
}

func TestEncodeEntryRejectsOversizedFields(t *testing.T) {
	e := sampleEntry()
	e.Name = string(make([]byte, maxNameLen+1))
	if _, err := EncodeEntry(nil, e); err == nil {
		t.Error("expected error for oversized name")
	}
}

func TestDecodeEntryRejectsTruncatedBuffer(t *testing.T) {
	e := sampleEntry()
	buf, err := EncodeEntry(nil, e)
	if err != nil {
		t.Fatalf("EncodeEntry: %v", err)
	}

	if _, _, err := DecodeEntry(buf[:len(buf)-5]); err == nil {
		t.Error("expected error decoding a truncated entry")
	}
}

func TestDecodeEntryRejectsImplausibleNameLength(t *testing.T) {
	e := sampleEntry()
	buf, err := EncodeEntry(nil, e)
	if err != nil {
		t.Fatalf("EncodeEntry: %v", err)
	}

	// name length field (u16) sits right after fileID(16)+type(1)+created_at(8)
	nameLenOffset := 16 + 1 + 8
	buf[nameLenOffset] = 0xFF
	buf[nameLenOffset+1] = 0xFF

	if _, _, err := DecodeEntry(buf); err == nil {
		t.Error("expected error for implausible name length")
	}
}

func TestIndexPlaintextRoundTrip(t *testing.T) {
	entries := []*Entry{sampleEntry(), sampleEntry()}
	entries[1].FileID = [16]byte{9, 9, 9}
	entries[1].Name = "second.png"

	buf, err := EncodeIndexPlaintext(entries, false)
	if err != nil {
		t.Fatalf("EncodeIndexPlaintext: %v", err)
	}

	got, padded, err := DecodeIndexPlaintext(buf)
	if err != nil {
		t.Fatalf("DecodeIndexPlaintext: %v", err)
	}
	if padded {
		t.Error("expected padded=false")
	}
	if len(got) != 2 || got[0].Name != "photo.png" || got[1].Name != "second.png" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestIndexPlaintextPaddedFlagRoundTrips(t *testing.T) {
	entries := []*Entry{sampleEntry()}

	buf, err := EncodeIndexPlaintext(entries, true)
	if err != nil {
		t.Fatalf("EncodeIndexPlaintext: %v", err)
	}
	buf = append(buf, make([]byte, 64)...) // simulated capacity padding

	got, padded, err := DecodeIndexPlaintext(buf)
	if err != nil {
		t.Fatalf("DecodeIndexPlaintext: %v", err)
	}
	if !padded {
		t.Error("expected padded=true to survive the round trip")
	}
	if len(got) != 1 {
		t.Errorf("got %d entries, want 1", len(got))
	}
}

func TestIndexPlaintextPropagatesEntryDecodeErrors(t *testing.T) {
	entries := []*Entry{sampleEntry()}
	buf, err := EncodeIndexPlaintext(entries, false)
	if err != nil {
		t.Fatalf("EncodeIndexPlaintext: %v", err)
	}
	corrupted := buf[:len(buf)-3] // truncate mid-entry

	if _, _, err := DecodeIndexPlaintext(corrupted); err == nil {
		t.Error("a truncated entry inside the index must surface an error, not be silently dropped")
	}
}

func TestIndexSectionRoundTrip(t *testing.T) {
	var nonce [vNonceSize]byte
	for i := range nonce {
		nonce[i] = byte(i)
	}
	ciphertext := []byte("pretend-this-is-sealed-index-bytes")

	buf := EncodeIndexSection(nonce, ciphertext)

	gotNonce, gotCT, n, err := DecodeIndexSection(buf, 1<<20)
	if err != nil {
		t.Fatalf("DecodeIndexSection: %v", err)
	}
	if n != len(buf) {
		t.Errorf("consumed %d bytes, want %d", n, len(buf))
	}
	if gotNonce != nonce {
		t.Errorf("nonce mismatch: %x vs %x", gotNonce, nonce)
	}
	if string(gotCT) != string(ciphertext) {
		t.Errorf("ciphertext mismatch: %q vs %q", gotCT, ciphertext)
	}
}

func TestIndexSectionRejectsOversizedLength(t *testing.T) {
	var nonce [vNonceSize]byte
	buf := EncodeIndexSection(nonce, []byte("short"))

	if _, _, _, err := DecodeIndexSection(buf, 2); err == nil {
		t.Error("expected error when ciphertext length exceeds cap")
	}
}
