// vaultctl is the command-line front end for the encrypted single-file
// vault container engine (internal/vault, internal/streaming): one
// subcommand per core API operation, each opening the target vault,
// performing one operation, and closing it again.
package main

import (
	"vaultengine/internal/cli"
)

const version = "v0.1"

func main() {
	cli.Execute(version)
}
