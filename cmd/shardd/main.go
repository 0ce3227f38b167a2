// Command shardd runs one shard replica's Update Core: the Local
// Update Handler serving local writes and the Peer Sync recovery loop
// keeping it caught up with the rest of its replica set.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "shardd",
		Short: "Update Core shard replica daemon",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newSyncPeersCmd(&configPath))
	root.AddCommand(newMigrateCmd(&configPath))
	return root
}
