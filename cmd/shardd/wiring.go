package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/shardcore/updatecore/internal/config"
	"github.com/shardcore/updatecore/internal/fingerprint"
	"github.com/shardcore/updatecore/internal/indexwriter"
	"github.com/shardcore/updatecore/internal/logging"
	"github.com/shardcore/updatecore/internal/metrics"
	"github.com/shardcore/updatecore/internal/peersync"
	"github.com/shardcore/updatecore/internal/peersync/discovery"
	"github.com/shardcore/updatecore/internal/updatehandler"
	"github.com/shardcore/updatecore/internal/updatelog"
	"github.com/shardcore/updatecore/internal/updatelog/pgstore"
)

// runtime bundles the wired collaborators a shardd subcommand drives.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	writerHandle *indexwriter.Handle
	log          updatelog.UpdateLog
	fp           fingerprint.Generator
	handler      *updatehandler.Handler
	engine       *peersync.Engine
	peerSource   discovery.Source
}

// buildRuntime wires every collaborator named in config.Config, following
// the dependency order the Update Handler and Peer Sync engine need:
// logger, metrics, journal, fingerprint generator (optionally cached),
// writer, handler, peer discovery, peer-sync engine.
func buildRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Log)
	m := metrics.New(prometheus.DefaultRegisterer)

	log, err := buildLog(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	fp, err := buildFingerprint(cfg, log, logger)
	if err != nil {
		return nil, err
	}

	writerHandle := indexwriter.NewHandle(indexwriter.NewMemoryWriter(logger))

	schema := updatehandler.SchemaInfo{HasUniqueKeyField: true, HasVersionField: true}
	handler := updatehandler.New(cfg.Handler, cfg.Shard.ClusterAware, cfg.Shard.CommitOnClose, schema, writerHandle, log, m, logger)

	peerSource, err := buildPeerSource(cfg, logger)
	if err != nil {
		return nil, err
	}

	localView := &peersync.HandlerLocalView{FP: fp, Log: log, Handler: handler}
	engine := peersync.NewEngine(peerSyncConfig(cfg), localView, m, logger)

	return &runtime{
		cfg:          cfg,
		logger:       logger,
		metrics:      m,
		writerHandle: writerHandle,
		log:          log,
		fp:           fp,
		handler:      handler,
		engine:       engine,
		peerSource:   peerSource,
	}, nil
}

func buildLog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (updatelog.UpdateLog, error) {
	if cfg.Journal.DSN == "" {
		logger.Warn("journal.dsn not set, using in-memory journal (not durable across restarts)")
		return updatelog.NewMemLog(cfg.Journal.RecentWindow, logger)
	}
	return pgstore.Open(ctx, pgstore.Config{
		DSN:            cfg.Journal.DSN,
		MaxConnections: cfg.Journal.MaxConnections,
		ConnectTimeout: cfg.Journal.ConnectTimeout,
	}, logger)
}

func buildFingerprint(cfg *config.Config, log updatelog.UpdateLog, logger *slog.Logger) (fingerprint.Generator, error) {
	base := fingerprint.NewLogGenerator(log)
	if !cfg.Cache.L1Enabled && !cfg.Cache.L2Enabled {
		return base, nil
	}

	var redisClient *redis.Client
	if cfg.Cache.L2Enabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr, DB: cfg.Cache.RedisDB})
	}

	return fingerprint.NewCachingGenerator(base, fingerprint.CacheConfig{
		L1Enabled:    cfg.Cache.L1Enabled,
		L1MaxEntries: cfg.Cache.L1MaxEntries,
		L1TTL:        cfg.Cache.L1TTL,
		L2Enabled:    cfg.Cache.L2Enabled,
		L2TTL:        cfg.Cache.L2TTL,
	}, redisClient, logger)
}

func buildPeerSource(cfg *config.Config, logger *slog.Logger) (discovery.Source, error) {
	if !cfg.PeerSync.Discovery.Enabled {
		return discovery.StaticSource{Addrs: cfg.PeerSync.Peers}, nil
	}
	return discovery.NewK8sSource(discovery.Config{
		Namespace:     cfg.PeerSync.Discovery.Namespace,
		ServiceName:   cfg.PeerSync.Discovery.ServiceName,
		LabelSelector: cfg.PeerSync.Discovery.LabelSelector,
		Port:          cfg.PeerSync.Discovery.Port,
	}, cfg.Server.Addr, logger)
}

func peerSyncConfig(cfg *config.Config) peersync.Config {
	return peersync.Config{
		NUpdates:               cfg.PeerSync.NUpdates,
		CantReachIsSuccess:     cfg.PeerSync.CantReachIsSuccess,
		GetNoVersionsIsSuccess: cfg.PeerSync.GetNoVersionsIsSuccess,
		OnlyIfActive:           cfg.PeerSync.OnlyIfActive,
		DoFingerprint:          cfg.PeerSync.DoFingerprint,
		UseRangeVersions:       cfg.PeerSync.UseRangeVersions,
		DisableFingerprint:     cfg.PeerSync.DisableFingerprint,
		MaxUpdates:             cfg.PeerSync.MaxUpdates,
		RequestTimeout:         cfg.PeerSync.RequestTimeout,
		RequestsPerSecond:      cfg.PeerSync.RequestsPerSecond,
	}
}

func (r *runtime) buildPeerClients(ctx context.Context) ([]peersync.PeerClient, error) {
	addrs, err := r.peerSource.Peers(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover peers: %w", err)
	}
	clients := make([]peersync.PeerClient, 0, len(addrs))
	for _, addr := range addrs {
		clients = append(clients, peersync.NewHTTPClient(addr, r.cfg.PeerSync.RequestTimeout, r.cfg.PeerSync.RequestsPerSecond))
	}
	return clients, nil
}
