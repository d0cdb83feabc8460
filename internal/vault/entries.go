package vault

import (
	"fmt"

	"vaultengine/internal/vcrypto"
	"vaultengine/internal/verrors"
	"vaultengine/internal/vformat"
	"vaultengine/internal/vlog"
)

// ImportChunkSize is the fixed plaintext chunk size used when import_file
// decides an entry needs chunked storage. Streaming imports use their own,
// larger chunk size (internal/streaming).
const ImportChunkSize = 1 * 1024 * 1024

// chunkThreshold is the size at or above which import_file stores an entry as a
// chunk table instead of a single blob, regardless of declared type. Video
// entries always go through the chunk path even when small.
const chunkThreshold = ImportChunkSize

// ImportFile encrypts data under a freshly generated DEK and appends a new
// entry to the index. Text/image content small enough to fit in one blob is
// stored with ChunkCount==0; video content, and any
// content at or above chunkThreshold, is split into ImportChunkSize plaintext
// chunks, each independently AEAD-framed.
func (h *Handle) ImportFile(data []byte, fileType uint8, name, mime string) ([16]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var zero [16]byte
	if err := h.requireOpen(); err != nil {
		return zero, err
	}
	if err := validateName(name); err != nil {
		return zero, err
	}
	if len(mime) > 512 {
		return zero, verrors.NewValidationError("mime", fmt.Sprintf("length %d exceeds 512", len(mime)))
	}
	if fileType != vformat.TypeText && fileType != vformat.TypeImage && fileType != vformat.TypeVideo {
		return zero, verrors.NewValidationError("type", fmt.Sprintf("unknown type tag %d", fileType))
	}
	if len(data) == 0 {
		return zero, verrors.NewValidationError("data", "zero-length import is not allowed")
	}

	fileIDBytes, err := vcrypto.RandomBytes(16)
	if err != nil {
		return zero, verrors.NewCryptoError("file-id", err)
	}
	var fileID [16]byte
	copy(fileID[:], fileIDBytes)

	dek, err := vcrypto.RandomBytes(vcrypto.KeySize)
	if err != nil {
		return zero, verrors.NewCryptoError("dek", err)
	}
	defer vcrypto.Zeroize(dek)

	wrappedDEK, err := wrapDEK(h.mk, h.vaultID, fileID, dek)
	if err != nil {
		return zero, err
	}

	entry := &vformat.Entry{
		FileID:     fileID,
		Type:       fileType,
		CreatedAt:  nowMillis(),
		Name:       name,
		MIME:       mime,
		Size:       uint64(len(data)),
		WrappedDEK: wrappedDEK,
	}

	useChunks := fileType == vformat.TypeVideo || len(data) >= chunkThreshold
	var payload EntryPayload
	if !useChunks {
		nonce, ciphertext, err := encryptBlob(dek, h.vaultID, fileID, data)
		if err != nil {
			return zero, err
		}
		payload.Blob = append(append([]byte(nil), nonce...), ciphertext...)
	} else {
		count := (len(data) + ImportChunkSize - 1) / ImportChunkSize
		entry.ChunkCount = uint32(count)
		entry.Chunks = make([]vformat.ChunkRef, count)
		payload.Chunks = make([][]byte, count)

		for i := 0; i < count; i++ {
			start := i * ImportChunkSize
			end := start + ImportChunkSize
			if end > len(data) {
				end = len(data)
			}
			nonce, ciphertext, err := encryptChunk(dek, h.vaultID, fileID, uint32(i), data[start:end])
			if err != nil {
				return zero, err
			}
			var nonceArr [24]byte
			copy(nonceArr[:], nonce)
			entry.Chunks[i].Nonce = nonceArr
			payload.Chunks[i] = ciphertext
		}
	}

	if err := h.appendEntry(entry, payload); err != nil {
		return zero, err
	}

	vlog.Debug("vault: imported file", vlog.String("name", name), vlog.Int("size", len(data)), vlog.Bool("chunked", useChunks))
	return fileID, nil
}

// ReadFile decrypts and returns the complete content of a single-blob entry.
// It rejects chunked entries: use ReadChunk for those.
func (h *Handle) ReadFile(fileID [16]byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireOpen(); err != nil {
		return nil, err
	}
	e, err := h.findEntry(fileID)
	if err != nil {
		return nil, err
	}
	if e.ChunkCount != 0 {
		return nil, verrors.NewValidationError("file_id", "entry is chunked; use read_chunk")
	}

	raw := make([]byte, e.DataLength)
	if _, err := h.file.ReadAt(raw, int64(e.DataOffset)); err != nil {
		return nil, verrors.NewFileError("read-blob", h.path, err)
	}
	defer vcrypto.Zeroize(raw)

	if len(raw) < vcrypto.NonceSize {
		return nil, verrors.NewContainerError("blob", fmt.Errorf("blob shorter than a nonce"))
	}
	nonce, ciphertext := raw[:vcrypto.NonceSize], raw[vcrypto.NonceSize:]

	dek, err := unwrapDEK(h.mk, h.vaultID, fileID, e.WrappedDEK)
	if err != nil {
		return nil, err
	}
	defer vcrypto.Zeroize(dek)

	return decryptBlob(dek, h.vaultID, fileID, nonce, ciphertext)
}

// ReadChunk decrypts and returns a single chunk of a chunked entry.
func (h *Handle) ReadChunk(fileID [16]byte, chunkIdx uint32) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireOpen(); err != nil {
		return nil, err
	}
	e, err := h.findEntry(fileID)
	if err != nil {
		return nil, err
	}
	if e.ChunkCount == 0 {
		return nil, verrors.NewValidationError("file_id", "entry is not chunked")
	}
	if chunkIdx >= e.ChunkCount {
		return nil, verrors.NewValidationError("chunk_idx", fmt.Sprintf("%d is out of bounds for %d chunks", chunkIdx, e.ChunkCount))
	}

	c := e.Chunks[chunkIdx]
	ciphertext := make([]byte, c.Length)
	if _, err := h.file.ReadAt(ciphertext, int64(c.Offset)); err != nil {
		return nil, verrors.NewFileError("read-chunk", h.path, err)
	}
	defer vcrypto.Zeroize(ciphertext)

	dek, err := unwrapDEK(h.mk, h.vaultID, fileID, e.WrappedDEK)
	if err != nil {
		return nil, err
	}
	defer vcrypto.Zeroize(dek)

	return decryptChunk(dek, h.vaultID, fileID, chunkIdx, c.Nonce[:], ciphertext)
}

// DeleteFile soft-deletes an entry: it is removed from the in-memory index
// and the index-only fast path is invoked; its ciphertext bytes become
// orphan space until Compact reclaims them.
func (h *Handle) DeleteFile(fileID [16]byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireOpen(); err != nil {
		return err
	}
	idx := -1
	for i, e := range h.entries {
		if e.FileID == fileID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return verrors.ErrNotFound
	}

	removed := h.entries[idx]
	remaining := make([]*vformat.Entry, 0, len(h.entries)-1)
	remaining = append(remaining, h.entries[:idx]...)
	remaining = append(remaining, h.entries[idx+1:]...)

	prevEntries := h.entries
	h.entries = remaining
	if err := h.saveIndexOnly(); err != nil {
		h.entries = prevEntries
		return err
	}
	vcrypto.ZeroizeAll(removed.WrappedDEK)
	vlog.Debug("vault: deleted file", vlog.String("name", removed.Name))
	return nil
}

// RenameFile updates an entry's display name and persists the index-only
// fast path, rejecting transitions across the reserved-name boundary.
func (h *Handle) RenameFile(fileID [16]byte, newName string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireOpen(); err != nil {
		return err
	}
	e, err := h.findEntry(fileID)
	if err != nil {
		return err
	}
	if err := validateRename(e.Name, newName); err != nil {
		return err
	}

	oldName := e.Name
	e.Name = newName
	if err := h.saveIndexOnly(); err != nil {
		e.Name = oldName
		return err
	}
	return nil
}

// Compact performs a full rebuild when orphan space reaches at least 25% of
// total size, otherwise it is a no-op.
func (h *Handle) Compact() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireOpen(); err != nil {
		return err
	}
	stats := h.statsLocked()
	if stats.TotalSize == 0 || stats.FreeSpace*4 < stats.TotalSize {
		return nil
	}

	payloads := make(map[[16]byte]EntryPayload, len(h.entries))
	for _, e := range h.entries {
		p, err := h.readEntryPayload(e)
		if err != nil {
			return err
		}
		payloads[e.FileID] = p
	}

	vlog.Debug("vault: compacting", vlog.Int("entries", len(h.entries)), vlog.Int64("free_space", stats.FreeSpace))
	return h.rewriteContainer(h.entries, payloads)
}
