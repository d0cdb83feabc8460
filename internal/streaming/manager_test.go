package streaming

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"vaultengine/internal/vcrypto"
)

// fakeKeySource is a minimal streaming.KeySource, grounded on the same
// wrap/unwrap-under-AAD pattern internal/vault/keys.go uses for real DEKs.
type fakeKeySource struct {
	vaultID [16]byte
	mk      []byte
}

func newFakeKeySource(t *testing.T) *fakeKeySource {
	t.Helper()
	mk, err := vcrypto.RandomBytes(vcrypto.KeySize)
	require.NoError(t, err)
	return &fakeKeySource{vaultID: [16]byte{9, 9, 9}, mk: mk}
}

func (f *fakeKeySource) VaultID() [16]byte { return f.vaultID }

func (f *fakeKeySource) WrapDEK(fileID [16]byte, dek []byte) ([]byte, error) {
	aad := vcrypto.BuildAAD(f.vaultID, fileID, 0)
	nonce, ct, err := vcrypto.Encrypt(f.mk, nil, dek, aad)
	if err != nil {
		return nil, err
	}
	return append(append([]byte(nil), nonce...), ct...), nil
}

func (f *fakeKeySource) UnwrapDEK(fileID [16]byte, wrapped []byte) ([]byte, error) {
	nonce, ct := wrapped[:vcrypto.NonceSize], wrapped[vcrypto.NonceSize:]
	aad := vcrypto.BuildAAD(f.vaultID, fileID, 0)
	return vcrypto.Decrypt(f.mk, nonce, ct, aad)
}

func newTestManager(t *testing.T) (*Manager, *fakeKeySource, string) {
	t.Helper()
	keys := newFakeKeySource(t)
	vaultPath := t.TempDir() + "/vault.db"
	return NewManager(vaultPath, keys), keys, vaultPath
}

func decryptAssembledChunk(t *testing.T, keys *fakeKeySource, a Assembled, idx int) []byte {
	t.Helper()
	dek, err := keys.UnwrapDEK(a.FileID, a.WrappedDEK)
	require.NoError(t, err)
	c := a.Chunks[idx]
	aad := vcrypto.BuildAAD(keys.VaultID(), a.FileID, uint32(idx))
	pt, err := vcrypto.Decrypt(dek, c.Nonce[:], c.Ciphertext, aad)
	require.NoError(t, err)
	return pt
}

func TestStartWriteFinishRoundTrip(t *testing.T) {
	mgr, keys, _ := newTestManager(t)

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	hash, err := Fingerprint(bytes.NewReader(plaintext), int64(len(plaintext)))
	require.NoError(t, err)

	importID, resumeFrom, err := mgr.Start(hash, "fox.txt", "text/plain", 1, uint64(len(plaintext)))
	require.NoError(t, err)
	require.Zero(t, resumeFrom)

	require.NoError(t, mgr.WriteChunk(importID, append([]byte(nil), plaintext...), 0))

	assembled, err := mgr.Finish(importID)
	require.NoError(t, err)
	require.Equal(t, "fox.txt", assembled.Name)
	require.Len(t, assembled.Chunks, 1)

	got := decryptAssembledChunk(t, keys, assembled, 0)
	require.Equal(t, plaintext, got)

	require.NoError(t, mgr.Abort(importID))
}

func TestStartResumesMatchingSourceHash(t *testing.T) {
	mgr, keys, vaultPath := newTestManager(t)

	payload := []byte("resumable content")
	hash, err := Fingerprint(bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)

	first, resumeFrom, err := mgr.Start(hash, "big.bin", "application/octet-stream", 3, uint64(len(payload)))
	require.NoError(t, err)
	require.Zero(t, resumeFrom)
	require.NoError(t, mgr.WriteChunk(first, append([]byte(nil), payload...), 0))

	// Simulate a process restart: a fresh Manager over the same staging dir.
	restarted := NewManager(vaultPath, keys)
	second, resumeFrom, err := restarted.Start(hash, "big.bin", "application/octet-stream", 3, uint64(len(payload)))
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, uint32(1), resumeFrom)
}

func TestWriteChunkRejectsOutOfBoundsIndex(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	hash, err := Fingerprint(bytes.NewReader(nil), 0)
	require.NoError(t, err)

	importID, _, err := mgr.Start(hash, "empty.txt", "text/plain", 1, 0)
	require.NoError(t, err)

	err = mgr.WriteChunk(importID, nil, 5)
	require.Error(t, err)
}

func TestFinishRejectsIncompleteImport(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	size := uint64(ChunkSize + 1) // two chunks
	hash, err := Fingerprint(bytes.NewReader(make([]byte, 4)), 4)
	require.NoError(t, err)

	importID, _, err := mgr.Start(hash, "partial.bin", "application/octet-stream", 3, size)
	require.NoError(t, err)
	require.NoError(t, mgr.WriteChunk(importID, []byte("only one chunk staged"), 0))

	_, err = mgr.Finish(importID)
	require.Error(t, err)
}

func TestAbortWipesStagingDirectory(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	hash, err := Fingerprint(bytes.NewReader([]byte("x")), 1)
	require.NoError(t, err)

	importID, _, err := mgr.Start(hash, "x.txt", "text/plain", 1, 1)
	require.NoError(t, err)
	require.NoError(t, mgr.WriteChunk(importID, []byte("x"), 0))

	require.NoError(t, mgr.Abort(importID))

	pending, err := mgr.ListPending()
	require.NoError(t, err)
	require.Empty(t, pending)

	// Aborting an already-gone import is a no-op, not an error.
	require.NoError(t, mgr.Abort(importID))
}

func TestCleanupOldRemovesEverythingAtZeroMaxAge(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	for _, name := range []string{"a.txt", "b.txt"} {
		hash, err := Fingerprint(bytes.NewReader([]byte(name)), int64(len(name)))
		require.NoError(t, err)
		_, _, err = mgr.Start(hash, name, "text/plain", 1, uint64(len(name)))
		require.NoError(t, err)
	}

	pending, err := mgr.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 2)

	removed, err := mgr.CleanupOld(0)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	pending, err = mgr.ListPending()
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestProgressFuncInvokedPerChunk(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	payload := make([]byte, ChunkSize+100) // two chunks
	hash, err := Fingerprint(bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)

	importID, _, err := mgr.Start(hash, "watched.bin", "application/octet-stream", 3, uint64(len(payload)))
	require.NoError(t, err)

	var calls []uint32
	mgr.SetProgressFunc(importID, func(done, total uint32, _ uint64) {
		require.Equal(t, uint32(2), total)
		calls = append(calls, done)
	})

	require.NoError(t, mgr.WriteChunk(importID, payload[:ChunkSize], 0))
	require.NoError(t, mgr.WriteChunk(importID, payload[ChunkSize:], 1))
	require.Equal(t, []uint32{1, 2}, calls)
}

func TestFingerprintDiffersOnContent(t *testing.T) {
	a, err := Fingerprint(bytes.NewReader([]byte("alpha")), 5)
	require.NoError(t, err)
	b, err := Fingerprint(bytes.NewReader([]byte("betaa")), 5)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestFingerprintStableForSameContent(t *testing.T) {
	data := []byte("deterministic content")
	a, err := Fingerprint(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	b, err := Fingerprint(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Equal(t, a, b)
}
