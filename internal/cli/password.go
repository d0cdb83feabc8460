package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"
)

var (
	ErrPassphraseMismatch = errors.New("passphrases do not match")
	ErrPassphraseEmpty    = errors.New("passphrase cannot be empty")
)

// isTerminal returns true if stdin is a terminal (not piped/redirected).
func isTerminal() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

// readPassphraseSecure reads a passphrase from stdin without echo.
// Falls back to buffered read if stdin is not a terminal.
func readPassphraseSecure(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	if !isTerminal() {
		// stdin is piped; read normally
		reader := bufio.NewReader(os.Stdin)
		pw, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		pw = strings.TrimSuffix(pw, "\n")
		pw = strings.TrimSuffix(pw, "\r")
		return pw, nil
	}

	// Terminal mode: disable echo
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pw), nil
}

// ReadPassphraseInteractive prompts for a passphrase interactively.
// If confirm is true, asks for confirmation (for vault creation).
func ReadPassphraseInteractive(confirm bool) (string, error) {
	passphrase, err := readPassphraseSecure("Passphrase: ")
	if err != nil {
		return "", err
	}

	if passphrase == "" {
		return "", ErrPassphraseEmpty
	}

	if confirm {
		confirmation, err := readPassphraseSecure("Confirm passphrase: ")
		if err != nil {
			return "", err
		}
		if passphrase != confirmation {
			return "", ErrPassphraseMismatch
		}
	}

	return passphrase, nil
}

// ReadPassphraseFromStdin reads a passphrase from stdin (for piped input with -P flag).
func ReadPassphraseFromStdin() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	pw, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading passphrase from stdin: %w", err)
	}
	pw = strings.TrimSuffix(pw, "\n")
	pw = strings.TrimSuffix(pw, "\r")
	return pw, nil
}
