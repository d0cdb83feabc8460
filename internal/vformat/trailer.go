package vformat

import (
	"fmt"

	"vaultengine/internal/vcrypto"
	"vaultengine/internal/verrors"
)

// TrailerSize is the width of the container's trailing integrity hash:
// SHA-256 over every byte that precedes it (header + index section +
// packed data region).
const TrailerSize = vcrypto.HashSize

// AppendTrailer computes SHA-256 over body and appends it.
func AppendTrailer(body []byte) []byte {
	sum := vcrypto.Sum256(body)
	return append(append([]byte(nil), body...), sum[:]...)
}

// SplitTrailer separates a full container image into its body and the
// trailing hash, verifying the hash matches.
func SplitTrailer(full []byte) (body []byte, err error) {
	if len(full) < TrailerSize {
		return nil, verrors.NewContainerError("trailer", fmt.Errorf("container truncated before trailer"))
	}
	body = full[:len(full)-TrailerSize]
	want := full[len(full)-TrailerSize:]

	got := vcrypto.Sum256(body)
	if !vcrypto.ConstantTimeCompare(got[:], want) {
		return nil, verrors.NewContainerError("trailer", fmt.Errorf("trailing hash mismatch"))
	}
	return body, nil
}
