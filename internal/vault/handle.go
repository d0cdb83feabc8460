// Package vault implements the container engine: handle lifecycle, the
// index & entry operations, the three write paths, and the journal header
// protocol. Every public vault operation ultimately funnels through here.
package vault

import (
	"fmt"
	"os"
	"sync"
	"time"

	"vaultengine/internal/streaming"
	"vaultengine/internal/vcrypto"
	"vaultengine/internal/vformat"
	"vaultengine/internal/verrors"
	"vaultengine/internal/vlog"
)

// HeaderVersion is the version field stamped into every journal header this
// engine writes.
const HeaderVersion uint32 = 1

// Handle owns every piece of mutable state for one open vault: the file
// handle, the key material, the in-memory entry list, and the bookkeeping
// needed by the fast write paths. Create/Open return an owned value and
// every operation hangs off it as a method, so nothing here is itself a
// package-level singleton. A Handle is not safe for concurrent use - the
// caller must serialise mutating calls against one open handle.
type Handle struct {
	mu sync.Mutex

	path string
	file *os.File
	open bool

	vaultID [16]byte
	salt    [16]byte
	mk      []byte // KeySize bytes, mlocked
	kdfMem  uint32
	kdfIter uint32
	kdfPar  uint8

	legacy          bool   // true if the on-disk header is still the legacy flavor
	legacyWrappedMK []byte // valid only when legacy is true

	// journal bookkeeping - unused when legacy is true.
	slotA, slotB *vformat.JournalSlot // nil means "empty slot"
	activeIdx    int                  // which of slotA(0)/slotB(1) is currently active

	headerSize uint64 // bytes occupied by header on disk

	entries []*vformat.Entry

	indexCapacity uint64 // plaintext capacity reserved for the index (bytes, excludes AEAD tag)
	indexPadded   bool

	dataEnd   uint64 // first free byte past the last live blob/chunk
	totalSize uint64 // size of the file as of the last successful commit

	streamMgr *streaming.Manager // lazily created by the first Streaming* call
}

// Stats is the get_stats result.
type Stats struct {
	TotalSize int64
	FreeSpace int64
}

// FileInfo is a read-only view of one entry, returned by ListFiles. It
// deliberately omits WrappedDEK and storage-location fields - those are
// engine-internal, not part of the caller-facing listing.
type FileInfo struct {
	FileID     [16]byte
	Type       uint8
	CreatedAt  time.Time
	Name       string
	MIME       string
	Size       uint64
	ChunkCount uint32
}

// Create initialises a brand-new vault at path. It refuses if path already
// exists.
func Create(path string, passphrase []byte) (*Handle, error) {
	if len(passphrase) < vcrypto.MinPassphraseLen {
		return nil, verrors.ErrPassphraseTooShort
	}
	if _, err := os.Stat(path); err == nil {
		return nil, verrors.ErrAlreadyExists
	} else if !os.IsNotExist(err) {
		return nil, verrors.NewFileError("stat", path, err)
	}

	vlog.Debug("vault: creating", vlog.String("path", path), vlog.Int("strength", vcrypto.PassphraseStrengthScore(string(passphrase))))

	var vaultID, salt [16]byte
	if b, err := vcrypto.RandomBytes(16); err != nil {
		return nil, verrors.NewCryptoError("vault-id", err)
	} else {
		copy(vaultID[:], b)
	}
	if b, err := vcrypto.RandomBytes(16); err != nil {
		return nil, verrors.NewCryptoError("salt", err)
	} else {
		copy(salt[:], b)
	}

	kek, profile, err := vcrypto.Derive(passphrase, salt[:])
	if err != nil {
		return nil, verrors.NewCryptoError("derive", err)
	}
	defer vcrypto.Zeroize(kek)

	mk, err := vcrypto.RandomBytes(vcrypto.KeySize)
	if err != nil {
		return nil, verrors.NewCryptoError("master-key", err)
	}
	if err := vcrypto.LockMemory(mk); err != nil {
		vlog.Warn("vault: mlock of master key failed, continuing without it", vlog.Err(err))
	}

	wrapped, err := wrapMK(kek, vaultID, mk)
	if err != nil {
		vcrypto.ZeroizeAll(mk)
		return nil, err
	}

	h := &Handle{
		path:    path,
		vaultID: vaultID,
		salt:    salt,
		mk:      mk,
		kdfMem:  profile.Mem,
		kdfIter: profile.Iter,
		kdfPar:  profile.Thread,
		legacy:  false,
		entries: nil,
	}
	// The initial slot must land wherever rotateJournal's own seq-mod-slot_count
	// addressing (journal.go) would put seq==1, not at a hardcoded index -
	// otherwise the first ChangePassword computes the same target index as
	// the already-active slot and overwrites the vault's only valid slot in
	// place.
	initialSlot := &vformat.JournalSlot{
		Seq:         1,
		VaultID:     vaultID,
		Salt:        salt,
		KDFMem:      profile.Mem,
		KDFIter:     profile.Iter,
		KDFParallel: uint32(profile.Thread),
	}
	copy(initialSlot.WrappedMK[:], wrapped)
	h.activeIdx = int(uint32(1) % vformat.JournalSlotCount)
	if h.activeIdx == 0 {
		h.slotA = initialSlot
	} else {
		h.slotB = initialSlot
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		vcrypto.ZeroizeAll(mk)
		return nil, verrors.NewFileError("create", path, err)
	}
	h.file = f
	h.open = true

	if err := h.saveContainer(nil); err != nil {
		h.file.Close()
		os.Remove(path)
		vcrypto.ZeroizeAll(mk)
		return nil, err
	}

	return h, nil
}

// Open opens an existing vault, deriving KEK from the passphrase using the
// KDF params stored in the header so a vault created on one device opens on
// another.
func Open(path string, passphrase []byte) (*Handle, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, verrors.ErrNotFound
		}
		return nil, verrors.NewFileError("open", path, err)
	}

	h := &Handle{path: path, file: f}
	if err := h.loadHeader(); err != nil {
		f.Close()
		return nil, err
	}

	if err := vcrypto.ValidateParams(h.kdfMem, h.kdfIter); err != nil {
		f.Close()
		return nil, verrors.NewContainerError("kdf-params", err)
	}

	kek, err := vcrypto.DeriveWithStoredParams(passphrase, h.salt[:], h.kdfMem, h.kdfIter, h.kdfPar)
	if err != nil {
		f.Close()
		return nil, verrors.NewCryptoError("derive", err)
	}
	defer vcrypto.Zeroize(kek)

	wrapped := h.activeWrappedMK()
	mk, err := unwrapMK(kek, h.vaultID, wrapped)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := vcrypto.LockMemory(mk); err != nil {
		vlog.Warn("vault: mlock of master key failed, continuing without it", vlog.Err(err))
	}
	h.mk = mk

	if err := h.loadIndex(); err != nil {
		vcrypto.ZeroizeAll(h.mk)
		f.Close()
		return nil, err
	}

	h.open = true
	return h, nil
}

func (h *Handle) activeWrappedMK() []byte {
	if h.legacy {
		return h.legacyWrappedMK
	}
	if h.activeIdx == 0 {
		return h.slotA.WrappedMK[:]
	}
	return h.slotB.WrappedMK[:]
}

// IsOpen reports whether this handle currently owns an open vault.
func (h *Handle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}

// Close zeros key material and the entry list but - matching the source's
// close/cleanup split - leaves the mlock in place.
// Call Cleanup to release the lock once the handle itself is discarded.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closeLocked()
}

func (h *Handle) closeLocked() error {
	if !h.open {
		return nil
	}
	var closeErr error
	if h.file != nil {
		closeErr = h.file.Close()
		h.file = nil
	}
	vcrypto.ZeroizeAll(h.mk, h.salt[:], h.vaultID[:])
	for _, e := range h.entries {
		vcrypto.ZeroizeAll(e.WrappedDEK)
	}
	h.entries = nil
	h.open = false
	if closeErr != nil {
		return verrors.NewFileError("close", h.path, closeErr)
	}
	return nil
}

// Cleanup unlocks the master-key slot. Safe to call after Close, and safe
// to call on a handle that was never successfully opened.
func (h *Handle) Cleanup() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mk == nil {
		return nil
	}
	err := vcrypto.UnlockMemory(h.mk)
	h.mk = nil
	if err != nil {
		return verrors.NewCryptoError("munlock", err)
	}
	return nil
}

func (h *Handle) requireOpen() error {
	if !h.open {
		return verrors.ErrNotOpen
	}
	return nil
}

// GetStats reports total container size and reclaimable free space.
func (h *Handle) GetStats() (Stats, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireOpen(); err != nil {
		return Stats{}, err
	}
	return h.statsLocked(), nil
}

// statsLocked reports how large the container would be if compacted right
// now (header + index + the payload bytes still referenced by a live entry),
// so that FreeSpace reflects orphaned bytes left behind by soft-deletes, not
// just trailer slack past the current (unshrinking) append point.
func (h *Handle) statsLocked() Stats {
	liveEnd := h.headerSize + uint64(vformat.IndexSectionHeaderSize) + h.indexCapacity + vcrypto.TagSize
	for _, e := range h.entries {
		if e.ChunkCount == 0 {
			liveEnd += e.DataLength
		} else {
			for _, c := range e.Chunks {
				liveEnd += uint64(c.Length)
			}
		}
	}
	free := int64(h.totalSize) - int64(liveEnd)
	if free < 0 {
		free = 0
	}
	return Stats{TotalSize: int64(h.totalSize), FreeSpace: free}
}

// ListFiles returns a read-only snapshot of the in-memory entry list, in
// insertion order.
func (h *Handle) ListFiles() ([]FileInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireOpen(); err != nil {
		return nil, err
	}
	out := make([]FileInfo, len(h.entries))
	for i, e := range h.entries {
		out[i] = FileInfo{
			FileID:     e.FileID,
			Type:       e.Type,
			CreatedAt:  time.UnixMilli(int64(e.CreatedAt)),
			Name:       e.Name,
			MIME:       e.MIME,
			Size:       e.Size,
			ChunkCount: e.ChunkCount,
		}
	}
	return out, nil
}

func (h *Handle) findEntry(fileID [16]byte) (*vformat.Entry, error) {
	for _, e := range h.entries {
		if e.FileID == fileID {
			return e, nil
		}
	}
	return nil, verrors.ErrNotFound
}

// reservedPrefix is the namespace reserved for host-provided system
// records.
const reservedPrefix = "__"

var reservedAllowList = map[string]bool{
	"__folder_map__":      true,
	"__folder_map__.tmp":  true,
	"__vault_title__":     true,
	"__vault_title__.tmp": true,
}

func isReservedName(name string) bool {
	return len(name) >= len(reservedPrefix) && name[:len(reservedPrefix)] == reservedPrefix
}

func validateName(name string) error {
	if len(name) == 0 || len(name) > 4096 {
		return &verrors.ValidationError{Field: "name", Message: fmt.Sprintf("length %d out of range", len(name))}
	}
	if isReservedName(name) && !reservedAllowList[name] {
		return &verrors.ValidationError{Field: "name", Message: "reserved name prefix __ is not allowed outside the system allow-list"}
	}
	return nil
}

// validateRename checks a name transition, not just the destination: the
// original's vault_rename_file rejects crossing the reserved/non-reserved
// boundary in either direction, not only renaming into a non-allow-listed
// __ name.
func validateRename(oldName, newName string) error {
	if err := validateName(newName); err != nil {
		return err
	}
	if isReservedName(oldName) != isReservedName(newName) {
		return &verrors.ValidationError{Field: "name", Message: "rename must not cross the reserved __ namespace boundary"}
	}
	return nil
}
