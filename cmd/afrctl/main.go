// Command afrctl is the administrative CLI for an AFR replica set: replica
// status, split-brain resolution, and lock-heal queue inspection.
package main

import (
	"fmt"
	"os"

	"github.com/distfs/afr-core/cmd/afrctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
