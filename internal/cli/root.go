// Package cli provides the vaultctl command-line front end: one cobra
// subcommand per core vault operation, each opening the target vault,
// performing a single operation, and closing it again.
package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"vaultengine/internal/vlog"

	"github.com/spf13/cobra"
)

// Version is set by main.go.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "vaultctl",
	Short: "Encrypted single-file vault container tool",
	Long: `vaultctl manages encrypted single-file vault containers:
  - Argon2id for passphrase-based key derivation
  - XChaCha20-Poly1305 for the master key, per-file keys, index, and content
  - A journal-header commit protocol with A/B slots for crash safety
  - Fast append and index-only save paths alongside full rebuilds
  - Resumable chunked import for files up to 50 GiB`,
	Version: Version,
}

var verbose bool

// globalReporter lets the SIGINT handler cancel whatever long-running
// operation currently owns the terminal (only streaming imports set it).
var globalReporter *Reporter

// Execute runs the CLI application.
func Execute(version string) {
	Version = version
	rootCmd.Version = version

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		if globalReporter != nil {
			globalReporter.Cancel()
			fmt.Fprintln(os.Stderr, "\nCancelling operation...")
		} else {
			os.Exit(1)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable structured debug logging on stderr")
	cobra.OnInitialize(func() {
		if verbose {
			vlog.SetLogger(vlog.NewSimpleLogger(os.Stderr, vlog.LevelDebug))
		}
	})
}
