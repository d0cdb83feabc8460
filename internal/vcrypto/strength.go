package vcrypto

import "github.com/Picocrypt/zxcvbn-go"

// MinPassphraseLen is the hard minimum passphrase length accepted by
// create/change_password.
const MinPassphraseLen = 12

// PassphraseStrengthScore returns a 0-4 advisory strength score for the
// given passphrase. It never blocks an operation - callers log it at Debug
// and otherwise ignore it.
func PassphraseStrengthScore(passphrase string) int {
	return zxcvbn.PasswordStrength(passphrase, nil).Score
}
