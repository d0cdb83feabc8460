package vault

import (
	"vaultengine/internal/vcrypto"
	"vaultengine/internal/verrors"
	"vaultengine/internal/vformat"
	"vaultengine/internal/vlog"
)

// ChangePassword verifies old by re-deriving the old KEK and authenticating
// the currently active wrapped master key, then re-wraps MK under a freshly
// derived KEK with a new salt. Journal-flavor vaults rotate a new A/B slot;
// legacy-flavor vaults migrate to the journal format via a full rebuild -
// this is the only path that changes header flavor.
func (h *Handle) ChangePassword(oldPass, newPass []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireOpen(); err != nil {
		return err
	}
	if len(newPass) < vcrypto.MinPassphraseLen {
		return verrors.ErrPassphraseTooShort
	}

	oldKEK, err := vcrypto.DeriveWithStoredParams(oldPass, h.salt[:], h.kdfMem, h.kdfIter, h.kdfPar)
	if err != nil {
		return verrors.NewCryptoError("derive-old", err)
	}
	defer vcrypto.Zeroize(oldKEK)

	if _, err := unwrapMK(oldKEK, h.vaultID, h.activeWrappedMK()); err != nil {
		return err
	}

	var newSalt [16]byte
	saltBytes, err := vcrypto.RandomBytes(16)
	if err != nil {
		return verrors.NewCryptoError("salt", err)
	}
	copy(newSalt[:], saltBytes)

	newKEK, profile, err := vcrypto.Derive(newPass, newSalt[:])
	if err != nil {
		return verrors.NewCryptoError("derive-new", err)
	}
	defer vcrypto.Zeroize(newKEK)

	newWrappedMK, err := wrapMK(newKEK, h.vaultID, h.mk)
	if err != nil {
		return err
	}

	wasLegacy := h.legacy
	if wasLegacy {
		if err := h.migrateToJournal(newSalt, newWrappedMK, profile); err != nil {
			return err
		}
	} else {
		if err := h.rotateJournal(newSalt, newWrappedMK, profile.Mem, profile.Iter, profile.Thread); err != nil {
			return err
		}
	}

	h.salt = newSalt
	h.kdfMem = profile.Mem
	h.kdfIter = profile.Iter
	h.kdfPar = profile.Thread
	vlog.Debug("vault: password changed", vlog.Bool("migrated_from_legacy", wasLegacy))
	return nil
}

// migrateToJournal rewrites the entire container with a fresh journal
// header carrying a single seq=1 slot, preserving every entry and its
// payload unchanged. The seed slot lands wherever rotateJournal's
// seq-mod-slot_count addressing puts seq==1 (slot B), same as Create -
// otherwise the first rotation after a migration would compute the
// migrated slot's own index as its target and overwrite the vault's only
// valid slot in place.
func (h *Handle) migrateToJournal(newSalt [16]byte, newWrappedMK []byte, profile vcrypto.Profile) error {
	payloads := make(map[[16]byte]EntryPayload, len(h.entries))
	for _, e := range h.entries {
		p, err := h.readEntryPayload(e)
		if err != nil {
			return err
		}
		payloads[e.FileID] = p
	}

	seed := &vformat.JournalSlot{
		Seq:         1,
		VaultID:     h.vaultID,
		Salt:        newSalt,
		KDFMem:      profile.Mem,
		KDFIter:     profile.Iter,
		KDFParallel: uint32(profile.Thread),
	}
	copy(seed.WrappedMK[:], newWrappedMK)

	prevLegacy, prevWrapped, prevSlotA, prevSlotB, prevIdx := h.legacy, h.legacyWrappedMK, h.slotA, h.slotB, h.activeIdx
	h.legacy = false
	h.legacyWrappedMK = nil
	h.activeIdx = int(uint32(1) % vformat.JournalSlotCount)
	if h.activeIdx == 0 {
		h.slotA, h.slotB = seed, nil
	} else {
		h.slotA, h.slotB = nil, seed
	}

	if err := h.rewriteContainer(h.entries, payloads); err != nil {
		h.legacy, h.legacyWrappedMK, h.slotA, h.slotB, h.activeIdx = prevLegacy, prevWrapped, prevSlotA, prevSlotB, prevIdx
		return err
	}
	return nil
}
