package streaming

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	natomic "github.com/natefinch/atomic"

	"vaultengine/internal/vcrypto"
	"vaultengine/internal/verrors"
	"vaultengine/internal/vlog"
)

// MaxFileSize is the sanity cap on a streamed import's declared file size.
const MaxFileSize = 50 * 1024 * 1024 * 1024

// maxActiveSessions bounds the in-memory session cache; more pending imports
// may exist on disk and are loaded on demand.
const maxActiveSessions = 4

const stagingDirName = ".pending_imports"
const stateFileName = ".state"

// persistEvery controls how often WriteChunk flushes .state to disk instead
// of only on the final chunk.
const persistEvery = 10

// KeySource is the subset of vault.Handle this package needs to wrap and
// recover a per-import DEK, kept as an interface to avoid streaming<->vault
// import cycle (vault.Handle owns the master key; streaming only stages
// ciphertext).
type KeySource interface {
	VaultID() [16]byte
	WrapDEK(fileID [16]byte, dek []byte) ([]byte, error)
	UnwrapDEK(fileID [16]byte, wrapped []byte) ([]byte, error)
}

// ChunkPayload is one already-encrypted staged chunk, ready to be copied
// verbatim into a vault entry's chunk table.
type ChunkPayload struct {
	Nonce      [24]byte
	Ciphertext []byte
}

// Assembled is everything vault.Handle needs to turn a finished streaming
// import into an appended entry.
type Assembled struct {
	FileID     [16]byte
	Type       uint8
	Name       string
	MIME       string
	Size       uint64
	WrappedDEK []byte
	Chunks     []ChunkPayload
}

type session struct {
	state *State
	dek   []byte // unwrapped; nil if not currently loaded
}

// ProgressFunc receives progress updates for one import. It is invoked
// synchronously on the goroutine that called WriteChunk, after the chunk has
// been staged and fsynced.
type ProgressFunc func(completedChunks, totalChunks uint32, bytesWritten uint64)

// Manager runs the resumable streaming-import state machine for one vault.
// It never touches the container file; Finish hands assembled ciphertext
// back to the caller, which is responsible for appending it and then calling
// Abort to scrub the staging directory.
type Manager struct {
	mu   sync.Mutex
	dir  string // <vault_dir>/.pending_imports
	keys KeySource

	active   map[[16]byte]*session
	lru      [][16]byte
	progress map[[16]byte]ProgressFunc
}

// NewManager creates a Manager staging under vaultPath's directory.
func NewManager(vaultPath string, keys KeySource) *Manager {
	return &Manager{
		dir:      filepath.Join(filepath.Dir(vaultPath), stagingDirName),
		keys:     keys,
		active:   make(map[[16]byte]*session),
		progress: make(map[[16]byte]ProgressFunc),
	}
}

// SetProgressFunc registers (or, with nil, clears) a progress callback for
// one import. The callback stays registered until the import is aborted or
// finished.
func (m *Manager) SetProgressFunc(importID [16]byte, fn ProgressFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn == nil {
		delete(m.progress, importID)
		return
	}
	m.progress[importID] = fn
}

func (m *Manager) importDir(importID [16]byte) string {
	return filepath.Join(m.dir, hex.EncodeToString(importID[:]))
}

func (m *Manager) statePath(importID [16]byte) string {
	return filepath.Join(m.importDir(importID), stateFileName)
}

func (m *Manager) chunkPath(importID [16]byte, idx uint32) string {
	return filepath.Join(m.importDir(importID), fmt.Sprintf("chunk_%08d.enc", idx))
}

// Start begins or resumes a streaming import. If an on-disk pending import
// already carries a matching sourceHash, its import_id and completed-chunk
// count are returned unchanged; otherwise a fresh import is allocated.
func (m *Manager) Start(sourceHash [32]byte, name, mime string, fileType uint8, fileSize uint64) (importID [16]byte, resumeFrom uint32, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fileSize > MaxFileSize {
		return importID, 0, verrors.NewValidationError("file_size", fmt.Sprintf("%d exceeds the %d byte cap", fileSize, uint64(MaxFileSize)))
	}
	if len(name) == 0 || len(name) > maxNameLen {
		return importID, 0, verrors.NewValidationError("name", fmt.Sprintf("length %d out of range", len(name)))
	}

	if existing, ok, err := m.findBySourceHash(sourceHash); err != nil {
		return importID, 0, err
	} else if ok {
		if _, err := m.load(existing.ImportID); err != nil {
			return importID, 0, err
		}
		return existing.ImportID, existing.CompletedChunks, nil
	}

	idBytes, err := vcrypto.RandomBytes(16)
	if err != nil {
		return importID, 0, verrors.NewCryptoError("import-id", err)
	}
	copy(importID[:], idBytes)

	fileIDBytes, err := vcrypto.RandomBytes(16)
	if err != nil {
		return importID, 0, verrors.NewCryptoError("file-id", err)
	}
	var fileID [16]byte
	copy(fileID[:], fileIDBytes)

	dek, err := vcrypto.RandomBytes(vcrypto.KeySize)
	if err != nil {
		return importID, 0, verrors.NewCryptoError("dek", err)
	}
	wrapped, err := m.keys.WrapDEK(fileID, dek)
	if err != nil {
		vcrypto.Zeroize(dek)
		return importID, 0, err
	}

	total := totalChunks(fileSize)
	now := nowMillis()
	st := &State{
		ImportID:    importID,
		FileID:      fileID,
		SourceHash:  sourceHash,
		Type:        fileType,
		FileSize:    fileSize,
		ChunkSize:   ChunkSize,
		TotalChunks: total,
		CreatedAt:   now,
		UpdatedAt:   now,
		Name:        name,
		MIME:        mime,
		WrappedDEK:  wrapped,
	}

	if err := os.MkdirAll(m.importDir(importID), 0o700); err != nil {
		vcrypto.Zeroize(dek)
		return importID, 0, verrors.NewFileError("mkdir", m.importDir(importID), err)
	}
	if err := m.persist(st); err != nil {
		vcrypto.Zeroize(dek)
		return importID, 0, err
	}

	m.cache(st, dek)
	vlog.Debug("streaming: started import", vlog.Int("total_chunks", int(total)), vlog.Int("size", int(fileSize)))
	return importID, 0, nil
}

func totalChunks(fileSize uint64) uint32 {
	if fileSize == 0 {
		return 1 // a zero-byte stream still needs one (empty) chunk slot
	}
	n := (fileSize + ChunkSize - 1) / ChunkSize
	return uint32(n)
}

// WriteChunk encrypts plaintext under the import's DEK and stages it, then
// updates progress bookkeeping. plaintext is zeroed
// before return.
func (m *Manager) WriteChunk(importID [16]byte, plaintext []byte, chunkIndex uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer vcrypto.Zeroize(plaintext)

	sess, err := m.load(importID)
	if err != nil {
		return err
	}
	if chunkIndex >= sess.state.TotalChunks {
		return verrors.NewValidationError("chunk_index", fmt.Sprintf("%d is out of bounds for %d chunks", chunkIndex, sess.state.TotalChunks))
	}

	aad := vcrypto.BuildAAD(m.keys.VaultID(), sess.state.FileID, chunkIndex)
	nonce, ciphertext, err := vcrypto.Encrypt(sess.dek, nil, plaintext, aad)
	if err != nil {
		return verrors.NewCryptoError("encrypt-chunk", err)
	}

	buf := make([]byte, 0, len(nonce)+len(ciphertext))
	buf = append(buf, nonce...)
	buf = append(buf, ciphertext...)
	if err := natomic.WriteFile(m.chunkPath(importID, chunkIndex), bytes.NewReader(buf)); err != nil {
		return verrors.NewFileError("write-chunk", m.chunkPath(importID, chunkIndex), err)
	}

	if chunkIndex+1 > sess.state.CompletedChunks {
		sess.state.CompletedChunks = chunkIndex + 1
	}
	sess.state.BytesWritten += uint64(len(plaintext))
	sess.state.UpdatedAt = nowMillis()

	final := sess.state.CompletedChunks == sess.state.TotalChunks
	if final || sess.state.CompletedChunks%persistEvery == 0 {
		if err := m.persist(sess.state); err != nil {
			return err
		}
	}

	if fn, ok := m.progress[importID]; ok {
		fn(sess.state.CompletedChunks, sess.state.TotalChunks, sess.state.BytesWritten)
	}
	return nil
}

// Finish assembles the staged chunks of a complete import into entry
// metadata and chunk payloads ready to append. The caller is responsible
// for appending the entry and then calling Abort to scrub staging.
func (m *Manager) Finish(importID [16]byte) (Assembled, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.load(importID)
	if err != nil {
		return Assembled{}, err
	}
	if sess.state.CompletedChunks != sess.state.TotalChunks {
		return Assembled{}, verrors.NewValidationError("import", fmt.Sprintf("incomplete: %d/%d chunks", sess.state.CompletedChunks, sess.state.TotalChunks))
	}

	out := Assembled{
		FileID:     sess.state.FileID,
		Type:       sess.state.Type,
		Name:       sess.state.Name,
		MIME:       sess.state.MIME,
		Size:       sess.state.FileSize,
		WrappedDEK: append([]byte(nil), sess.state.WrappedDEK...),
		Chunks:     make([]ChunkPayload, sess.state.TotalChunks),
	}

	for i := uint32(0); i < sess.state.TotalChunks; i++ {
		raw, err := os.ReadFile(m.chunkPath(importID, i))
		if err != nil {
			return Assembled{}, verrors.NewFileError("read-chunk", m.chunkPath(importID, i), err)
		}
		if len(raw) < vcrypto.NonceSize {
			return Assembled{}, verrors.NewContainerError("streaming-chunk", fmt.Errorf("chunk %d shorter than a nonce", i))
		}
		var nonce [24]byte
		copy(nonce[:], raw[:vcrypto.NonceSize])
		out.Chunks[i] = ChunkPayload{Nonce: nonce, Ciphertext: append([]byte(nil), raw[vcrypto.NonceSize:]...)}
	}

	return out, nil
}

// Abort securely wipes every staged file for importID and removes its
// directory. Safe to call on an import
// that is already gone.
func (m *Manager) Abort(importID [16]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.abortLocked(importID)
}

func (m *Manager) abortLocked(importID [16]byte) error {
	dir := m.importDir(importID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			m.evict(importID)
			return nil
		}
		return verrors.NewFileError("readdir", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := vcrypto.SecureWipeFile(filepath.Join(dir, e.Name())); err != nil {
			return verrors.NewFileError("secure-wipe", filepath.Join(dir, e.Name()), err)
		}
	}
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		return verrors.NewFileError("rmdir", dir, err)
	}
	m.evict(importID)
	return nil
}

// ListPending returns every on-disk pending import, most of which may never
// have been loaded into the in-memory session cache.
func (m *Manager) ListPending() ([]State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listPendingLocked()
}

func (m *Manager) listPendingLocked() ([]State, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, verrors.NewFileError("readdir", m.dir, err)
	}

	out := make([]State, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(m.dir, e.Name(), stateFileName))
		if err != nil {
			continue // partially-written or already-aborted import; skip
		}
		st, err := decodeState(raw)
		if err != nil {
			continue
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

// GetState returns the current persisted state of one import.
func (m *Manager) GetState(importID [16]byte) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.load(importID)
	if err != nil {
		return State{}, err
	}
	return *sess.state, nil
}

// CleanupOld aborts every pending import whose state has not been updated
// within maxAgeMs, returning the count removed.
func (m *Manager) CleanupOld(maxAgeMs uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, err := m.listPendingLocked()
	if err != nil {
		return 0, err
	}
	cutoff := nowMillis()
	removed := 0
	for _, st := range pending {
		age := cutoff - st.UpdatedAt
		if cutoff < st.UpdatedAt {
			age = 0
		}
		if age >= maxAgeMs {
			if err := m.abortLocked(st.ImportID); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

func (m *Manager) findBySourceHash(hash [32]byte) (*State, bool, error) {
	pending, err := m.listPendingLocked()
	if err != nil {
		return nil, false, err
	}
	for i := range pending {
		if pending[i].SourceHash == hash {
			return &pending[i], true, nil
		}
	}
	return nil, false, nil
}

// load returns the session for importID, reading it from disk and unwrapping
// its DEK if it is not already cached.
func (m *Manager) load(importID [16]byte) (*session, error) {
	if sess, ok := m.active[importID]; ok {
		m.touch(importID)
		return sess, nil
	}

	raw, err := os.ReadFile(m.statePath(importID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, verrors.ErrNotFound
		}
		return nil, verrors.NewFileError("read-state", m.statePath(importID), err)
	}
	st, err := decodeState(raw)
	if err != nil {
		return nil, err
	}

	dek, err := m.keys.UnwrapDEK(st.FileID, st.WrappedDEK)
	if err != nil {
		return nil, err
	}

	return m.cache(st, dek), nil
}

func (m *Manager) cache(st *State, dek []byte) *session {
	sess := &session{state: st, dek: dek}
	m.active[st.ImportID] = sess
	m.touch(st.ImportID)

	for len(m.lru) > maxActiveSessions {
		oldest := m.lru[0]
		m.lru = m.lru[1:]
		if old, ok := m.active[oldest]; ok && old != sess {
			vcrypto.Zeroize(old.dek)
			delete(m.active, oldest)
		}
	}
	return sess
}

func (m *Manager) touch(importID [16]byte) {
	for i, id := range m.lru {
		if id == importID {
			m.lru = append(m.lru[:i], m.lru[i+1:]...)
			break
		}
	}
	m.lru = append(m.lru, importID)
}

func (m *Manager) evict(importID [16]byte) {
	if sess, ok := m.active[importID]; ok {
		vcrypto.Zeroize(sess.dek)
		delete(m.active, importID)
	}
	delete(m.progress, importID)
	for i, id := range m.lru {
		if id == importID {
			m.lru = append(m.lru[:i], m.lru[i+1:]...)
			break
		}
	}
}

func (m *Manager) persist(st *State) error {
	buf, err := encodeState(st)
	if err != nil {
		return err
	}
	if err := natomic.WriteFile(m.statePath(st.ImportID), bytes.NewReader(buf)); err != nil {
		return verrors.NewFileError("write-state", m.statePath(st.ImportID), err)
	}
	return nil
}

func nowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}
