package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	listPassword      string
	listPasswordStdin bool
)

var listCmd = &cobra.Command{
	Use:   "list <vault>",
	Short: "List every file stored in the vault",
	Args:  cobra.ExactArgs(1),
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVarP(&listPassword, "password", "p", "", "Vault passphrase")
	listCmd.Flags().BoolVarP(&listPasswordStdin, "password-stdin", "P", false, "Read passphrase from stdin")
}

func runList(cmd *cobra.Command, args []string) error {
	h, err := openVaultWithPassword(args[0], listPassword, listPasswordStdin)
	if err != nil {
		return err
	}
	defer h.Cleanup()
	defer h.Close()

	files, err := h.ListFiles()
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE ID\tTYPE\tNAME\tSIZE\tCHUNKS\tCREATED")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			formatFileID(f.FileID), typeName(f.Type), f.Name, f.Size, f.ChunkCount, f.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return tw.Flush()
}

var statsCmd = &cobra.Command{
	Use:   "stats <vault>",
	Short: "Print total size and reclaimable free space",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

var (
	statsPassword      string
	statsPasswordStdin bool
)

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVarP(&statsPassword, "password", "p", "", "Vault passphrase")
	statsCmd.Flags().BoolVarP(&statsPasswordStdin, "password-stdin", "P", false, "Read passphrase from stdin")
}

func runStats(cmd *cobra.Command, args []string) error {
	h, err := openVaultWithPassword(args[0], statsPassword, statsPasswordStdin)
	if err != nil {
		return err
	}
	defer h.Cleanup()
	defer h.Close()

	stats, err := h.GetStats()
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	fmt.Printf("total_size: %d bytes\nfree_space: %d bytes\n", stats.TotalSize, stats.FreeSpace)
	return nil
}
