package cli

import (
	"encoding/hex"
	"fmt"

	"vaultengine/internal/vformat"
	"vaultengine/internal/vault"
)

// openVaultWithPassword opens path, prompting interactively for the
// passphrase unless one was supplied on the command line or via stdin.
func openVaultWithPassword(path, password string, passwordStdin bool) (*vault.Handle, error) {
	pass, err := resolvePassword(password, passwordStdin, false)
	if err != nil {
		return nil, err
	}
	h, err := vault.Open(path, []byte(pass))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return h, nil
}

// resolvePassword returns the effective passphrase: the -p flag if set,
// stdin if -P was passed, or an interactive hidden-echo prompt otherwise.
func resolvePassword(password string, stdin, confirm bool) (string, error) {
	if password != "" {
		return password, nil
	}
	if stdin {
		return ReadPassphraseFromStdin()
	}
	pw, err := ReadPassphraseInteractive(confirm)
	if err != nil {
		return "", fmt.Errorf("passphrase input: %w", err)
	}
	return pw, nil
}

// parseFileID decodes a hex-encoded 16-byte file_id as printed by `list`.
func parseFileID(s string) ([16]byte, error) {
	var id [16]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid file id %q: %w", s, err)
	}
	if len(b) != 16 {
		return id, fmt.Errorf("file id %q must decode to 16 bytes, got %d", s, len(b))
	}
	copy(id[:], b)
	return id, nil
}

func formatFileID(id [16]byte) string {
	return hex.EncodeToString(id[:])
}

// parseFileType maps the --type flag to the wire type tag.
func parseFileType(s string) (uint8, error) {
	switch s {
	case "text":
		return vformat.TypeText, nil
	case "image":
		return vformat.TypeImage, nil
	case "video":
		return vformat.TypeVideo, nil
	default:
		return 0, fmt.Errorf("invalid --type %q (must be text, image, or video)", s)
	}
}

func typeName(t uint8) string {
	switch t {
	case vformat.TypeText:
		return "text"
	case vformat.TypeImage:
		return "image"
	case vformat.TypeVideo:
		return "video"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}
