package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shardcore/updatecore/internal/transport/httpapi"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the shard's Update Handler and peer-sync HTTP wire API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.handler.Close(closeCtx); err != nil {
			rt.logger.Error("handler close failed", "error", err)
		}
	}()

	active := true
	server := httpapi.NewServer(rt.log, rt.fp, true, func() bool { return active })

	httpSrv := &http.Server{
		Addr:         rt.cfg.Server.Addr,
		Handler:      server.Router(rt.logger),
		ReadTimeout:  rt.cfg.Server.ReadTimeout,
		WriteTimeout: rt.cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		rt.logger.Info("peer-sync wire API listening", "addr", rt.cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	go runPeerSyncLoop(ctx, rt)

	select {
	case <-ctx.Done():
		rt.logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// runPeerSyncLoop periodically drives a recovery pass against the
// configured/discovered peer set until ctx is cancelled.
func runPeerSyncLoop(ctx context.Context, rt *runtime) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			peers, err := rt.buildPeerClients(ctx)
			if err != nil {
				rt.logger.Error("peer discovery failed", "error", err)
				continue
			}
			result, err := rt.engine.Sync(ctx, peers, nil)
			if err != nil {
				rt.logger.Error("peer sync failed", "error", err)
				continue
			}
			if !result.Success {
				rt.logger.Warn("peer sync did not converge this pass", "other_has_versions", result.OtherHasVersions)
			}
		}
	}
}
