package vault

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"vaultengine/internal/vcrypto"
	"vaultengine/internal/verrors"
	"vaultengine/internal/vformat"
)

const testPassphrase = "correct horse battery staple"

func vaultPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "vault.bin")
}

// createLegacyVault builds a vault with the original (pre-journal) header
// flavor, mirroring Create's own construction but with legacy=true - there
// is no longer a public code path that mints one, so tests exercising
// change_password's migration have to assemble one directly.
func createLegacyVault(t *testing.T, path string, passphrase []byte) *Handle {
	t.Helper()

	var vaultID, salt [16]byte
	b, err := vcrypto.RandomBytes(16)
	require.NoError(t, err)
	copy(vaultID[:], b)
	b, err = vcrypto.RandomBytes(16)
	require.NoError(t, err)
	copy(salt[:], b)

	kek, profile, err := vcrypto.Derive(passphrase, salt[:])
	require.NoError(t, err)
	defer vcrypto.Zeroize(kek)

	mk, err := vcrypto.RandomBytes(vcrypto.KeySize)
	require.NoError(t, err)
	wrapped, err := wrapMK(kek, vaultID, mk)
	require.NoError(t, err)

	h := &Handle{
		path:            path,
		vaultID:         vaultID,
		salt:            salt,
		mk:              mk,
		kdfMem:          profile.Mem,
		kdfIter:         profile.Iter,
		kdfPar:          profile.Thread,
		legacy:          true,
		legacyWrappedMK: wrapped,
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	require.NoError(t, err)
	h.file = f
	h.open = true
	require.NoError(t, h.saveContainer(nil))
	return h
}

func TestCreateAndOpenRoundTrip(t *testing.T) {
	path := vaultPath(t)

	h, err := Create(path, []byte(testPassphrase))
	require.NoError(t, err)
	files, err := h.ListFiles()
	require.NoError(t, err)
	require.Empty(t, files)
	require.NoError(t, h.Close())
	require.NoError(t, h.Cleanup())

	reopened, err := Open(path, []byte(testPassphrase))
	require.NoError(t, err)
	defer reopened.Cleanup()
	defer reopened.Close()

	files, err = reopened.ListFiles()
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestCreateRefusesExistingPath(t *testing.T) {
	path := vaultPath(t)
	h, err := Create(path, []byte(testPassphrase))
	require.NoError(t, err)
	defer h.Cleanup()
	defer h.Close()

	_, err = Create(path, []byte(testPassphrase))
	require.ErrorIs(t, err, verrors.ErrAlreadyExists)
}

func TestCreateRejectsShortPassphrase(t *testing.T) {
	_, err := Create(vaultPath(t), []byte("short"))
	require.ErrorIs(t, err, verrors.ErrPassphraseTooShort)
}

func TestOpenWrongPassphraseFails(t *testing.T) {
	path := vaultPath(t)
	h, err := Create(path, []byte(testPassphrase))
	require.NoError(t, err)
	require.NoError(t, h.Close())
	require.NoError(t, h.Cleanup())

	_, err = Open(path, []byte("definitely the wrong passphrase"))
	require.Error(t, err)
	require.True(t, errors.Is(err, verrors.ErrAuthFailed), "want ErrAuthFailed, got %v", err)
}

func TestImportAndReadBlob(t *testing.T) {
	path := vaultPath(t)
	h, err := Create(path, []byte(testPassphrase))
	require.NoError(t, err)
	defer h.Cleanup()
	defer h.Close()

	content := []byte("a short text note")
	fileID, err := h.ImportFile(content, vformat.TypeText, "note.txt", "text/plain")
	require.NoError(t, err)

	got, err := h.ReadFile(fileID)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestImportReadSurvivesReopen(t *testing.T) {
	path := vaultPath(t)
	h, err := Create(path, []byte(testPassphrase))
	require.NoError(t, err)

	content := []byte("persisted across a reopen")
	fileID, err := h.ImportFile(content, vformat.TypeText, "note.txt", "text/plain")
	require.NoError(t, err)
	require.NoError(t, h.Close())
	require.NoError(t, h.Cleanup())

	reopened, err := Open(path, []byte(testPassphrase))
	require.NoError(t, err)
	defer reopened.Cleanup()
	defer reopened.Close()

	got, err := reopened.ReadFile(fileID)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestImportChunkedVideoRoundTrip(t *testing.T) {
	path := vaultPath(t)
	h, err := Create(path, []byte(testPassphrase))
	require.NoError(t, err)
	defer h.Cleanup()
	defer h.Close()

	content := make([]byte, ImportChunkSize*2+100)
	for i := range content {
		content[i] = byte(i)
	}
	fileID, err := h.ImportFile(content, vformat.TypeVideo, "clip.mp4", "video/mp4")
	require.NoError(t, err)

	files, err := h.ListFiles()
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, uint32(3), files[0].ChunkCount)

	var reassembled []byte
	for i := uint32(0); i < files[0].ChunkCount; i++ {
		chunk, err := h.ReadChunk(fileID, i)
		require.NoError(t, err)
		reassembled = append(reassembled, chunk...)
	}
	require.Equal(t, content, reassembled)

	_, err = h.ReadFile(fileID)
	require.Error(t, err, "reading a chunked entry as a blob must fail")
}

func TestDeleteRemovesFromListing(t *testing.T) {
	path := vaultPath(t)
	h, err := Create(path, []byte(testPassphrase))
	require.NoError(t, err)
	defer h.Cleanup()
	defer h.Close()

	keep, err := h.ImportFile([]byte("keep me"), vformat.TypeText, "keep.txt", "text/plain")
	require.NoError(t, err)
	drop, err := h.ImportFile([]byte("drop me"), vformat.TypeText, "drop.txt", "text/plain")
	require.NoError(t, err)

	require.NoError(t, h.DeleteFile(drop))

	files, err := h.ListFiles()
	require.NoError(t, err)
	want := []FileInfo{{FileID: keep, Type: vformat.TypeText, Name: "keep.txt", MIME: "text/plain", Size: 7}}
	if diff := cmp.Diff(want, files, cmpopts.IgnoreFields(FileInfo{}, "CreatedAt")); diff != "" {
		t.Errorf("ListFiles mismatch (-want +got):\n%s", diff)
	}

	_, err = h.ReadFile(drop)
	require.ErrorIs(t, err, verrors.ErrNotFound)
}

func TestDeleteUnknownFileFails(t *testing.T) {
	path := vaultPath(t)
	h, err := Create(path, []byte(testPassphrase))
	require.NoError(t, err)
	defer h.Cleanup()
	defer h.Close()

	require.ErrorIs(t, h.DeleteFile([16]byte{1, 2, 3}), verrors.ErrNotFound)
}

func TestRenameFile(t *testing.T) {
	path := vaultPath(t)
	h, err := Create(path, []byte(testPassphrase))
	require.NoError(t, err)
	defer h.Cleanup()
	defer h.Close()

	fileID, err := h.ImportFile([]byte("data"), vformat.TypeText, "old.txt", "text/plain")
	require.NoError(t, err)
	require.NoError(t, h.RenameFile(fileID, "new.txt"))

	files, err := h.ListFiles()
	require.NoError(t, err)
	require.Equal(t, "new.txt", files[0].Name)
}

func TestRenameRejectsReservedPrefix(t *testing.T) {
	path := vaultPath(t)
	h, err := Create(path, []byte(testPassphrase))
	require.NoError(t, err)
	defer h.Cleanup()
	defer h.Close()

	fileID, err := h.ImportFile([]byte("data"), vformat.TypeText, "old.txt", "text/plain")
	require.NoError(t, err)

	err = h.RenameFile(fileID, "__not_allowed__")
	require.Error(t, err)
}

func TestRenameRejectsCrossingReservedBoundary(t *testing.T) {
	path := vaultPath(t)
	h, err := Create(path, []byte(testPassphrase))
	require.NoError(t, err)
	defer h.Cleanup()
	defer h.Close()

	fileID, err := h.ImportFile([]byte("data"), vformat.TypeText, "old.txt", "text/plain")
	require.NoError(t, err)

	// Renaming an ordinary file into an allow-listed system name must still
	// fail: only another system record may hold that name.
	err = h.RenameFile(fileID, "__folder_map__")
	require.Error(t, err)
}

func TestImportRejectsZeroLength(t *testing.T) {
	path := vaultPath(t)
	h, err := Create(path, []byte(testPassphrase))
	require.NoError(t, err)
	defer h.Cleanup()
	defer h.Close()

	_, err = h.ImportFile(nil, vformat.TypeText, "empty.txt", "text/plain")
	require.Error(t, err)

	_, err = h.ImportFile(nil, vformat.TypeVideo, "empty.mp4", "video/mp4")
	require.Error(t, err)
}

func TestCompactReclaimsOrphanSpace(t *testing.T) {
	path := vaultPath(t)
	h, err := Create(path, []byte(testPassphrase))
	require.NoError(t, err)
	defer h.Cleanup()
	defer h.Close()

	var ids [][16]byte
	payload := make([]byte, 256*1024)
	for i := 0; i < 6; i++ {
		id, err := h.ImportFile(payload, vformat.TypeImage, "img.bin", "application/octet-stream")
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids[:5] {
		require.NoError(t, h.DeleteFile(id))
	}

	before, err := h.GetStats()
	require.NoError(t, err)
	require.NoError(t, h.Compact())
	after, err := h.GetStats()
	require.NoError(t, err)
	require.Less(t, after.TotalSize, before.TotalSize)

	got, err := h.ReadFile(ids[len(ids)-1])
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestChangePasswordOnJournalVault(t *testing.T) {
	path := vaultPath(t)
	h, err := Create(path, []byte(testPassphrase))
	require.NoError(t, err)
	defer h.Cleanup()
	defer h.Close()

	fileID, err := h.ImportFile([]byte("still here"), vformat.TypeText, "a.txt", "text/plain")
	require.NoError(t, err)

	const newPass = "a completely different passphrase"
	require.NoError(t, h.ChangePassword([]byte(testPassphrase), []byte(newPass)))
	require.False(t, h.legacy)

	require.NoError(t, h.Close())
	require.NoError(t, h.Cleanup())

	_, err = Open(path, []byte(testPassphrase))
	require.Error(t, err, "old passphrase must stop working")

	reopened, err := Open(path, []byte(newPass))
	require.NoError(t, err)
	defer reopened.Cleanup()
	defer reopened.Close()

	got, err := reopened.ReadFile(fileID)
	require.NoError(t, err)
	require.Equal(t, []byte("still here"), got)
}

func TestChangePasswordMigratesLegacyToJournal(t *testing.T) {
	path := vaultPath(t)
	h := createLegacyVault(t, path, []byte(testPassphrase))
	defer h.Cleanup()
	defer h.Close()
	require.True(t, h.legacy)

	fileID, err := h.ImportFile([]byte("legacy content"), vformat.TypeText, "a.txt", "text/plain")
	require.NoError(t, err)

	const newPass = "migrated to the journal format now"
	require.NoError(t, h.ChangePassword([]byte(testPassphrase), []byte(newPass)))
	require.False(t, h.legacy)

	// The migrated seed slot must follow the same seq-mod-slot_count
	// placement Create uses, so the next rotation targets the other slot
	// instead of overwriting the only valid one in place.
	require.Equal(t, 1, h.activeIdx)
	const thirdPass = "rotated once after migration"
	require.NoError(t, h.ChangePassword([]byte(newPass), []byte(thirdPass)))
	require.Equal(t, 0, h.activeIdx)
	require.EqualValues(t, 2, h.currentSeq())

	require.NoError(t, h.Close())
	require.NoError(t, h.Cleanup())

	reopened, err := Open(path, []byte(thirdPass))
	require.NoError(t, err)
	defer reopened.Cleanup()
	defer reopened.Close()
	require.False(t, reopened.legacy)

	got, err := reopened.ReadFile(fileID)
	require.NoError(t, err)
	require.Equal(t, []byte("legacy content"), got)
}

func TestJournalSlotsAlternateAcrossRotations(t *testing.T) {
	path := vaultPath(t)
	h, err := Create(path, []byte(testPassphrase))
	require.NoError(t, err)
	defer h.Cleanup()
	defer h.Close()

	require.NotEqual(t, 0, h.activeIdx, "a freshly created vault's active slot must not be index 0, or the first rotation recomputes the same index and overwrites it")

	firstActive := h.activeIdx
	require.NoError(t, h.ChangePassword([]byte(testPassphrase), []byte("second passphrase here")))
	require.NotEqual(t, firstActive, h.activeIdx, "rotateJournal must always target the slot that was not active")

	secondActive := h.activeIdx
	require.NoError(t, h.ChangePassword([]byte("second passphrase here"), []byte("third passphrase here too")))
	require.NotEqual(t, secondActive, h.activeIdx)
	require.Equal(t, firstActive, h.activeIdx, "with only two slots, alternation must return to the original index")
}

func TestJournalHeaderTruncatedSlotRegionStillSelectsSurvivor(t *testing.T) {
	path := vaultPath(t)
	h, err := Create(path, []byte(testPassphrase))
	require.NoError(t, err)

	// The first rotation lands seq=2 in slot index 0, so a file truncated
	// right after the first slot still carries one valid slot.
	require.NoError(t, h.ChangePassword([]byte(testPassphrase), []byte("second passphrase here")))
	require.Equal(t, 0, h.activeIdx)
	require.NoError(t, h.Close())
	require.NoError(t, h.Cleanup())

	require.NoError(t, os.Truncate(path, int64(vformat.JournalSuperblockSize+vformat.JournalSlotSize)))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	truncated := &Handle{path: path, file: f}
	require.NoError(t, truncated.loadHeader())
	require.Equal(t, 0, truncated.activeIdx)
	require.EqualValues(t, 2, truncated.currentSeq())
}

func TestChangePasswordWrongOldPasswordFails(t *testing.T) {
	path := vaultPath(t)
	h, err := Create(path, []byte(testPassphrase))
	require.NoError(t, err)
	defer h.Cleanup()
	defer h.Close()

	err = h.ChangePassword([]byte("not the right one"), []byte("new passphrase here"))
	require.Error(t, err)
}

func TestGetStatsOnUnopenedHandleFails(t *testing.T) {
	h := &Handle{}
	_, err := h.GetStats()
	require.ErrorIs(t, err, verrors.ErrNotOpen)
}
