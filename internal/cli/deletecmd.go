package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	deletePassword      string
	deletePasswordStdin bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete <vault> <file-id>",
	Short: "Soft-delete a file from the vault",
	Long: `Delete removes an entry from the index immediately via the fast
index-only save path; its ciphertext becomes reclaimable orphan space until
compact runs.`,
	Args: cobra.ExactArgs(2),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().StringVarP(&deletePassword, "password", "p", "", "Vault passphrase")
	deleteCmd.Flags().BoolVarP(&deletePasswordStdin, "password-stdin", "P", false, "Read passphrase from stdin")
}

func runDelete(cmd *cobra.Command, args []string) error {
	fileID, err := parseFileID(args[1])
	if err != nil {
		return err
	}
	h, err := openVaultWithPassword(args[0], deletePassword, deletePasswordStdin)
	if err != nil {
		return err
	}
	defer h.Cleanup()
	defer h.Close()

	if err := h.DeleteFile(fileID); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	fmt.Printf("Deleted %s\n", args[1])
	return nil
}

var (
	renamePassword      string
	renamePasswordStdin bool
)

var renameCmd = &cobra.Command{
	Use:   "rename <vault> <file-id> <new-name>",
	Short: "Rename a vault entry",
	Args:  cobra.ExactArgs(3),
	RunE:  runRename,
}

func init() {
	rootCmd.AddCommand(renameCmd)
	renameCmd.Flags().StringVarP(&renamePassword, "password", "p", "", "Vault passphrase")
	renameCmd.Flags().BoolVarP(&renamePasswordStdin, "password-stdin", "P", false, "Read passphrase from stdin")
}

func runRename(cmd *cobra.Command, args []string) error {
	fileID, err := parseFileID(args[1])
	if err != nil {
		return err
	}
	h, err := openVaultWithPassword(args[0], renamePassword, renamePasswordStdin)
	if err != nil {
		return err
	}
	defer h.Cleanup()
	defer h.Close()

	if err := h.RenameFile(fileID, args[2]); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	fmt.Printf("Renamed %s to %q\n", args[1], args[2])
	return nil
}

var (
	compactPassword      string
	compactPasswordStdin bool
)

var compactCmd = &cobra.Command{
	Use:   "compact <vault>",
	Short: "Reclaim orphan space with a full rebuild, if warranted",
	Long: `Compact rebuilds the container only when orphan space has reached at
least 25% of total size; otherwise it is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: runCompact,
}

func init() {
	rootCmd.AddCommand(compactCmd)
	compactCmd.Flags().StringVarP(&compactPassword, "password", "p", "", "Vault passphrase")
	compactCmd.Flags().BoolVarP(&compactPasswordStdin, "password-stdin", "P", false, "Read passphrase from stdin")
}

func runCompact(cmd *cobra.Command, args []string) error {
	h, err := openVaultWithPassword(args[0], compactPassword, compactPasswordStdin)
	if err != nil {
		return err
	}
	defer h.Cleanup()
	defer h.Close()

	before, err := h.GetStats()
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	if err := h.Compact(); err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	after, err := h.GetStats()
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	fmt.Printf("Compacted: %d -> %d bytes total size\n", before.TotalSize, after.TotalSize)
	return nil
}
