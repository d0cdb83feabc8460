package vault

import (
	"fmt"

	"vaultengine/internal/vcrypto"
	"vaultengine/internal/verrors"
)

// VaultID returns the open vault's identifier, satisfying streaming.KeySource
// so internal/streaming can bind AEAD framing to the right vault without
// importing this package.
func (h *Handle) VaultID() [16]byte {
	return h.vaultID
}

// WrapDEK seals dek under the open vault's master key, satisfying
// streaming.KeySource. Callers must hold h.mu - this is invoked only from
// within methods that already do (streaming.go).
func (h *Handle) WrapDEK(fileID [16]byte, dek []byte) ([]byte, error) {
	return wrapDEK(h.mk, h.vaultID, fileID, dek)
}

// UnwrapDEK recovers a DEK wrapped by WrapDEK, satisfying streaming.KeySource.
func (h *Handle) UnwrapDEK(fileID [16]byte, wrapped []byte) ([]byte, error) {
	return unwrapDEK(h.mk, h.vaultID, fileID, wrapped)
}

// wrapMK seals mk under kek with AAD bound to vault_id alone (not the
// 40-byte per-chunk AAD structure - see vcrypto.BuildAAD's doc comment).
// The returned blob is always WrappedMKSize bytes: nonce[24] || ct[32] ||
// tag[16].
func wrapMK(kek []byte, vaultID [16]byte, mk []byte) ([]byte, error) {
	nonce, sealed, err := vcrypto.Encrypt(kek, nil, mk, vaultID[:])
	if err != nil {
		return nil, verrors.NewCryptoError("wrap-mk", err)
	}
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// unwrapMK recovers MK from a wrapped-MK blob. Authentication failure here
// is the single place a wrong passphrase and a tampered header produce the
// same observable error, by design.
func unwrapMK(kek []byte, vaultID [16]byte, wrapped []byte) ([]byte, error) {
	if len(wrapped) != vcrypto.NonceSize+vcrypto.KeySize+vcrypto.TagSize {
		return nil, verrors.NewContainerError("wrapped-mk", fmt.Errorf("wrapped mk has wrong length %d", len(wrapped)))
	}
	nonce := wrapped[:vcrypto.NonceSize]
	sealed := wrapped[vcrypto.NonceSize:]

	mk, err := vcrypto.Decrypt(kek, nonce, sealed, vaultID[:])
	if err != nil {
		if err == vcrypto.ErrAuthFailed {
			return nil, verrors.ErrAuthFailed
		}
		return nil, verrors.NewCryptoError("unwrap-mk", err)
	}
	return mk, nil
}

// wrapDEK seals a per-file DEK under MK, AAD bound to (vault_id, file_id, 0).
func wrapDEK(mk []byte, vaultID, fileID [16]byte, dek []byte) ([]byte, error) {
	aad := vcrypto.BuildAAD(vaultID, fileID, 0)
	nonce, sealed, err := vcrypto.Encrypt(mk, nil, dek, aad)
	if err != nil {
		return nil, verrors.NewCryptoError("wrap-dek", err)
	}
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// unwrapDEK recovers a per-file DEK from its wrapped form.
func unwrapDEK(mk []byte, vaultID, fileID [16]byte, wrapped []byte) ([]byte, error) {
	if len(wrapped) < vcrypto.NonceSize+vcrypto.TagSize {
		return nil, verrors.NewContainerError("wrapped-dek", fmt.Errorf("wrapped dek too short: %d bytes", len(wrapped)))
	}
	nonce := wrapped[:vcrypto.NonceSize]
	sealed := wrapped[vcrypto.NonceSize:]

	aad := vcrypto.BuildAAD(vaultID, fileID, 0)
	dek, err := vcrypto.Decrypt(mk, nonce, sealed, aad)
	if err != nil {
		if err == vcrypto.ErrAuthFailed {
			return nil, verrors.ErrAuthFailed
		}
		return nil, verrors.NewCryptoError("unwrap-dek", err)
	}
	return dek, nil
}

// encryptIndex seals the index plaintext directly under MK with empty AAD.
// This is a legacy choice the on-disk format bakes in - binding it to
// vault_id would be cleaner but would break existing containers, so it is
// preserved rather than "fixed".
func encryptIndex(mk, plaintext []byte) (nonce []byte, ciphertext []byte, err error) {
	nonce, ciphertext, err = vcrypto.Encrypt(mk, nil, plaintext, nil)
	if err != nil {
		return nil, nil, verrors.NewCryptoError("encrypt-index", err)
	}
	return nonce, ciphertext, nil
}

func decryptIndex(mk, nonce, ciphertext []byte) ([]byte, error) {
	plaintext, err := vcrypto.Decrypt(mk, nonce, ciphertext, nil)
	if err != nil {
		if err == vcrypto.ErrAuthFailed {
			return nil, verrors.ErrAuthFailed
		}
		return nil, verrors.NewCryptoError("decrypt-index", err)
	}
	return plaintext, nil
}

// encryptBlob seals a single-blob entry's content, AAD bound to
// (vault_id, file_id, 0).
func encryptBlob(dek []byte, vaultID, fileID [16]byte, plaintext []byte) (nonce, ciphertext []byte, err error) {
	aad := vcrypto.BuildAAD(vaultID, fileID, 0)
	nonce, ciphertext, err = vcrypto.Encrypt(dek, nil, plaintext, aad)
	if err != nil {
		return nil, nil, verrors.NewCryptoError("encrypt-blob", err)
	}
	return nonce, ciphertext, nil
}

func decryptBlob(dek []byte, vaultID, fileID [16]byte, nonce, ciphertext []byte) ([]byte, error) {
	aad := vcrypto.BuildAAD(vaultID, fileID, 0)
	plaintext, err := vcrypto.Decrypt(dek, nonce, ciphertext, aad)
	if err != nil {
		if err == vcrypto.ErrAuthFailed {
			return nil, verrors.ErrAuthFailed
		}
		return nil, verrors.NewCryptoError("decrypt-blob", err)
	}
	return plaintext, nil
}

// encryptChunk seals one chunk of a chunked entry, AAD bound to
// (vault_id, file_id, chunk_index).
func encryptChunk(dek []byte, vaultID, fileID [16]byte, chunkIndex uint32, plaintext []byte) (nonce, ciphertext []byte, err error) {
	aad := vcrypto.BuildAAD(vaultID, fileID, chunkIndex)
	nonce, ciphertext, err = vcrypto.Encrypt(dek, nil, plaintext, aad)
	if err != nil {
		return nil, nil, verrors.NewCryptoError("encrypt-chunk", err)
	}
	return nonce, ciphertext, nil
}

func decryptChunk(dek []byte, vaultID, fileID [16]byte, chunkIndex uint32, nonce, ciphertext []byte) ([]byte, error) {
	aad := vcrypto.BuildAAD(vaultID, fileID, chunkIndex)
	plaintext, err := vcrypto.Decrypt(dek, nonce, ciphertext, aad)
	if err != nil {
		if err == vcrypto.ErrAuthFailed {
			return nil, verrors.ErrAuthFailed
		}
		return nil, verrors.NewCryptoError("decrypt-chunk", err)
	}
	return plaintext, nil
}
