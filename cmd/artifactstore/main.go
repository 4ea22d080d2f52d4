// ArtifactStore gRPC Server
// Versioned artifact storage with diffs, restores, edit leases and conflict-checked commits
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "artifactstore",
	Short:         "ArtifactStore - versioned artifact storage",
	Long:          `ArtifactStore keeps immutable version history for structured artifacts, computes field and word diffs, restores earlier versions and arbitrates concurrent edits.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newDiffCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
