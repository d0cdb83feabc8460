package vault

import (
	"vaultengine/internal/streaming"
	"vaultengine/internal/vformat"
	"vaultengine/internal/vlog"
)

// streamingManager lazily creates the resumable-import state machine for
// this vault the first time a Streaming* call needs it, staging under
// <vault_dir>/.pending_imports. Callers must already hold h.mu.
func (h *Handle) streamingManager() *streaming.Manager {
	if h.streamMgr == nil {
		h.streamMgr = streaming.NewManager(h.path, h)
	}
	return h.streamMgr
}

// StreamingStart begins or resumes a chunked import of a large file.
// sourceHash is the caller-computed fingerprint (streaming.Fingerprint)
// used to recognize a transfer already in progress.
func (h *Handle) StreamingStart(sourceHash [32]byte, name, mime string, fileType uint8, fileSize uint64) (importID [16]byte, resumeFromChunk uint32, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireOpen(); err != nil {
		return importID, 0, err
	}
	if err := validateName(name); err != nil {
		return importID, 0, err
	}
	return h.streamingManager().Start(sourceHash, name, mime, fileType, fileSize)
}

// StreamingWriteChunk stages one already-read plaintext chunk of an
// in-progress import, encrypting it under the import's DEK.
func (h *Handle) StreamingWriteChunk(importID [16]byte, plaintext []byte, chunkIndex uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireOpen(); err != nil {
		return err
	}
	return h.streamingManager().WriteChunk(importID, plaintext, chunkIndex)
}

// StreamingSetProgressFunc registers a progress callback for one import; it
// is invoked synchronously from each StreamingWriteChunk call after the
// chunk is staged. Pass nil to clear it.
func (h *Handle) StreamingSetProgressFunc(importID [16]byte, fn streaming.ProgressFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireOpen(); err != nil {
		return err
	}
	h.streamingManager().SetProgressFunc(importID, fn)
	return nil
}

// StreamingFinish completes an import whose chunks are all staged: it
// assembles the staged ciphertext into an index entry, appends it via the
// normal fast-append path, and then scrubs the staging directory.
func (h *Handle) StreamingFinish(importID [16]byte) ([16]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var zero [16]byte
	if err := h.requireOpen(); err != nil {
		return zero, err
	}

	mgr := h.streamingManager()
	assembled, err := mgr.Finish(importID)
	if err != nil {
		return zero, err
	}

	entry := &vformat.Entry{
		FileID:     assembled.FileID,
		Type:       assembled.Type,
		CreatedAt:  nowMillis(),
		Name:       assembled.Name,
		MIME:       assembled.MIME,
		Size:       assembled.Size,
		WrappedDEK: assembled.WrappedDEK,
		ChunkCount: uint32(len(assembled.Chunks)),
		Chunks:     make([]vformat.ChunkRef, len(assembled.Chunks)),
	}
	payload := EntryPayload{Chunks: make([][]byte, len(assembled.Chunks))}
	for i, c := range assembled.Chunks {
		entry.Chunks[i].Nonce = c.Nonce
		payload.Chunks[i] = c.Ciphertext
	}

	if err := h.appendEntry(entry, payload); err != nil {
		return zero, err
	}
	if err := mgr.Abort(importID); err != nil {
		vlog.Warn("vault: streaming import appended but staging cleanup failed", vlog.Err(err))
	}

	vlog.Debug("vault: finished streaming import", vlog.String("name", assembled.Name), vlog.Int("chunks", len(assembled.Chunks)))
	return assembled.FileID, nil
}

// StreamingAbort discards an in-progress import and securely wipes its
// staged chunks.
func (h *Handle) StreamingAbort(importID [16]byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireOpen(); err != nil {
		return err
	}
	return h.streamingManager().Abort(importID)
}

// StreamingListPending returns every import currently staged for this vault,
// including ones started by a previous process.
func (h *Handle) StreamingListPending() ([]streaming.State, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireOpen(); err != nil {
		return nil, err
	}
	return h.streamingManager().ListPending()
}

// StreamingGetState returns the current progress of one import.
func (h *Handle) StreamingGetState(importID [16]byte) (streaming.State, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireOpen(); err != nil {
		return streaming.State{}, err
	}
	return h.streamingManager().GetState(importID)
}

// StreamingCleanupOld aborts every staged import that has not progressed in
// maxAgeMs, returning the number removed.
func (h *Handle) StreamingCleanupOld(maxAgeMs uint64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireOpen(); err != nil {
		return 0, err
	}
	return h.streamingManager().CleanupOld(maxAgeMs)
}
