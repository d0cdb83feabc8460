package vcrypto

import "encoding/binary"

// AADSize is the length of the packed associated-data record bound to every
// AEAD call in the engine: vault_id[16] || file_id[16] || chunk_index:u32 ||
// format_version:u32.
const AADSize = 16 + 16 + 4 + 4

// FormatVersion is the current on-disk AAD format version, authenticated as
// the last field of every AAD record so a future format change cannot be
// silently replayed against old ciphertext under a compatible-looking AAD.
const FormatVersion uint32 = 1

// BuildAAD packs the associated-data record for a single AEAD call. chunkIndex
// is 0 for single-blob entries and for wrapped-DEK calls. The wrapped-MK call
// does NOT use this structure - per the key hierarchy it binds to the raw
// 16-byte vault_id alone, not the full 40-byte record.
func BuildAAD(vaultID, fileID [16]byte, chunkIndex uint32) []byte {
	aad := make([]byte, AADSize)
	copy(aad[0:16], vaultID[:])
	copy(aad[16:32], fileID[:])
	binary.LittleEndian.PutUint32(aad[32:36], chunkIndex)
	binary.LittleEndian.PutUint32(aad[36:40], FormatVersion)
	return aad
}
