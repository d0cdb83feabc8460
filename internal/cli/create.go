package cli

import (
	"fmt"

	"vaultengine/internal/vault"

	"github.com/spf13/cobra"
)

var (
	createPassword      string
	createPasswordStdin bool
)

var createCmd = &cobra.Command{
	Use:   "create <path>",
	Short: "Create a new, empty vault",
	Long: `Create initializes a brand-new vault container at path, refusing if the
path already exists. You will be prompted for a passphrase (with
confirmation) unless -p or -P is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().StringVarP(&createPassword, "password", "p", "", "Vault passphrase")
	createCmd.Flags().BoolVarP(&createPasswordStdin, "password-stdin", "P", false, "Read passphrase from stdin")
}

func runCreate(cmd *cobra.Command, args []string) error {
	path := args[0]
	pass, err := resolvePassword(createPassword, createPasswordStdin, true)
	if err != nil {
		return err
	}

	h, err := vault.Create(path, []byte(pass))
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer h.Cleanup()
	defer h.Close()

	fmt.Printf("Created vault %s\n", path)
	return nil
}
