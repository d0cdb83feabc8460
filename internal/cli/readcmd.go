package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	readPassword      string
	readPasswordStdin bool
	readOutput        string
)

var readCmd = &cobra.Command{
	Use:   "read <vault> <file-id>",
	Short: "Decrypt and print (or save) one vault entry",
	Long: `Read decrypts a single-blob entry in full. Chunked entries (video, anything
of 1 MiB or more, or anything imported through the streaming path) must be read chunk by chunk
with read-chunk instead.`,
	Args: cobra.ExactArgs(2),
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().StringVarP(&readPassword, "password", "p", "", "Vault passphrase")
	readCmd.Flags().BoolVarP(&readPasswordStdin, "password-stdin", "P", false, "Read passphrase from stdin")
	readCmd.Flags().StringVarP(&readOutput, "output", "o", "", "Write decrypted content to this file instead of stdout")
}

func runRead(cmd *cobra.Command, args []string) error {
	fileID, err := parseFileID(args[1])
	if err != nil {
		return err
	}
	h, err := openVaultWithPassword(args[0], readPassword, readPasswordStdin)
	if err != nil {
		return err
	}
	defer h.Cleanup()
	defer h.Close()

	data, err := h.ReadFile(fileID)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	if readOutput == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(readOutput, data, 0o600)
}

var readChunkCmd = &cobra.Command{
	Use:   "read-chunk <vault> <file-id> <chunk-index>",
	Short: "Decrypt and print one chunk of a chunked entry",
	Args:  cobra.ExactArgs(3),
	RunE:  runReadChunk,
}

var (
	readChunkPassword      string
	readChunkPasswordStdin bool
)

func init() {
	rootCmd.AddCommand(readChunkCmd)
	readChunkCmd.Flags().StringVarP(&readChunkPassword, "password", "p", "", "Vault passphrase")
	readChunkCmd.Flags().BoolVarP(&readChunkPasswordStdin, "password-stdin", "P", false, "Read passphrase from stdin")
}

func runReadChunk(cmd *cobra.Command, args []string) error {
	fileID, err := parseFileID(args[1])
	if err != nil {
		return err
	}
	var idx uint32
	if _, err := fmt.Sscanf(args[2], "%d", &idx); err != nil {
		return fmt.Errorf("invalid chunk index %q: %w", args[2], err)
	}

	h, err := openVaultWithPassword(args[0], readChunkPassword, readChunkPasswordStdin)
	if err != nil {
		return err
	}
	defer h.Cleanup()
	defer h.Close()

	data, err := h.ReadChunk(fileID, idx)
	if err != nil {
		return fmt.Errorf("read-chunk: %w", err)
	}
	_, err = os.Stdout.Write(data)
	return err
}
