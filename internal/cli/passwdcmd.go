package cli

import (
	"fmt"

	"vaultengine/internal/vault"

	"github.com/spf13/cobra"
)

var (
	passwdOldPassword      string
	passwdOldPasswordStdin bool
	passwdNewPassword      string
)

var passwdCmd = &cobra.Command{
	Use:   "passwd <vault>",
	Short: "Change the vault's passphrase",
	Long: `Passwd re-derives the key-encryption key from the old passphrase to
authenticate the request, then re-wraps the master key under a freshly
derived key from the new passphrase. A legacy-format vault is migrated to
the journal header format as part of this operation.`,
	Args: cobra.ExactArgs(1),
	RunE: runPasswd,
}

func init() {
	rootCmd.AddCommand(passwdCmd)
	passwdCmd.Flags().StringVar(&passwdOldPassword, "old-password", "", "Current vault passphrase")
	passwdCmd.Flags().BoolVar(&passwdOldPasswordStdin, "old-password-stdin", false, "Read current passphrase from stdin")
	passwdCmd.Flags().StringVar(&passwdNewPassword, "new-password", "", "New vault passphrase (prompted with confirmation if omitted)")
}

func runPasswd(cmd *cobra.Command, args []string) error {
	oldPass, err := resolvePassword(passwdOldPassword, passwdOldPasswordStdin, false)
	if err != nil {
		return fmt.Errorf("current password input: %w", err)
	}

	h, err := vault.Open(args[0], []byte(oldPass))
	if err != nil {
		return fmt.Errorf("open %s: %w", args[0], err)
	}
	defer h.Cleanup()
	defer h.Close()

	newPass := passwdNewPassword
	if newPass == "" {
		newPass, err = resolvePassword("", false, true)
		if err != nil {
			return fmt.Errorf("new password input: %w", err)
		}
	}

	if err := h.ChangePassword([]byte(oldPass), []byte(newPass)); err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	fmt.Println("Password changed.")
	return nil
}
