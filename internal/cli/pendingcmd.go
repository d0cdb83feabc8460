package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	pendingPassword      string
	pendingPasswordStdin bool
)

var pendingCmd = &cobra.Command{
	Use:   "pending <vault>",
	Short: "List in-progress streaming imports",
	Args:  cobra.ExactArgs(1),
	RunE:  runPending,
}

func init() {
	rootCmd.AddCommand(pendingCmd)
	pendingCmd.Flags().StringVarP(&pendingPassword, "password", "p", "", "Vault passphrase")
	pendingCmd.Flags().BoolVarP(&pendingPasswordStdin, "password-stdin", "P", false, "Read passphrase from stdin")
}

func runPending(cmd *cobra.Command, args []string) error {
	h, err := openVaultWithPassword(args[0], pendingPassword, pendingPasswordStdin)
	if err != nil {
		return err
	}
	defer h.Cleanup()
	defer h.Close()

	pending, err := h.StreamingListPending()
	if err != nil {
		return fmt.Errorf("pending: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "IMPORT ID\tNAME\tPROGRESS\tSIZE")
	for _, st := range pending {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d chunks\t%d bytes\n",
			formatFileID(st.ImportID), st.Name, st.CompletedChunks, st.TotalChunks, st.FileSize)
	}
	return tw.Flush()
}

var (
	abortImportPassword      string
	abortImportPasswordStdin bool
)

var abortImportCmd = &cobra.Command{
	Use:   "abort-import <vault> <import-id>",
	Short: "Abort a streaming import and securely wipe its staged chunks",
	Args:  cobra.ExactArgs(2),
	RunE:  runAbortImport,
}

func init() {
	rootCmd.AddCommand(abortImportCmd)
	abortImportCmd.Flags().StringVarP(&abortImportPassword, "password", "p", "", "Vault passphrase")
	abortImportCmd.Flags().BoolVarP(&abortImportPasswordStdin, "password-stdin", "P", false, "Read passphrase from stdin")
}

func runAbortImport(cmd *cobra.Command, args []string) error {
	importID, err := parseFileID(args[1])
	if err != nil {
		return err
	}
	h, err := openVaultWithPassword(args[0], abortImportPassword, abortImportPasswordStdin)
	if err != nil {
		return err
	}
	defer h.Cleanup()
	defer h.Close()

	if err := h.StreamingAbort(importID); err != nil {
		return fmt.Errorf("abort-import: %w", err)
	}
	fmt.Printf("Aborted import %s\n", args[1])
	return nil
}
