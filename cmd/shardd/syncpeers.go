package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncPeersCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "syncpeers",
		Short: "Run a single peer-sync recovery pass and report the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncPeers(cmd.Context(), *configPath)
		},
	}
}

func runSyncPeers(ctx context.Context, configPath string) error {
	rt, err := buildRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.handler.Close(ctx)

	peers, err := rt.buildPeerClients(ctx)
	if err != nil {
		return err
	}

	result, err := rt.engine.Sync(ctx, peers, nil)
	if err != nil {
		return fmt.Errorf("peer sync: %w", err)
	}

	if result.Success {
		fmt.Println("in sync")
		return nil
	}
	fmt.Printf("not in sync (other_has_versions=%v)\n", result.OtherHasVersions)
	return nil
}
