// Package config loads and validates the Update Core's configuration
// via viper, following the typed-struct-plus-mapstructure-tags pattern
// the rest of the pack uses for service configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shardcore/updatecore/internal/logging"
)

// SemanticsMode names one of the four rule tables in spec.md §4.B.
type SemanticsMode string

const (
	ModeClassic        SemanticsMode = "classic"
	ModeStrictInsert    SemanticsMode = "strict-insert"
	ModeStrictUpdate    SemanticsMode = "strict-update"
	ModeVersionHybrid   SemanticsMode = "version-hybrid"
)

// Config is the Update Core's top-level configuration.
type Config struct {
	Shard    ShardConfig    `mapstructure:"shard"`
	Handler  HandlerConfig  `mapstructure:"handler"`
	PeerSync PeerSyncConfig `mapstructure:"peer_sync"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Log      logging.Config `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
}

// ShardConfig identifies this shard and its replica set.
type ShardConfig struct {
	ID                string `mapstructure:"id"`
	ClusterAware      bool   `mapstructure:"cluster_aware"`
	CommitOnClose     bool   `mapstructure:"commit_on_close"`
}

// HandlerConfig configures the Update Handler and its commit trackers
// (spec.md §6 "Configuration").
type HandlerConfig struct {
	SemanticsMode                 SemanticsMode `mapstructure:"semantics_mode"`
	AutoCommitMaxDocs             int           `mapstructure:"auto_commit_max_docs"`
	AutoCommitMaxTime             time.Duration `mapstructure:"auto_commit_max_time"`
	AutoCommitOpenSearcher        bool          `mapstructure:"auto_commit_open_searcher"`
	AutoSoftCommitMaxDocs         int           `mapstructure:"auto_soft_commit_max_docs"`
	AutoSoftCommitMaxTime         time.Duration `mapstructure:"auto_soft_commit_max_time"`
	CommitWithinSoftCommit        bool          `mapstructure:"commit_within_soft_commit"`
	IndexWriterCloseWaitsForMerges bool         `mapstructure:"index_writer_close_waits_for_merges"`
}

// PeerSyncConfig configures the Peer Sync recovery protocol (spec.md §4.D, §6).
type PeerSyncConfig struct {
	Peers                    []string      `mapstructure:"peers"`
	NUpdates                 int           `mapstructure:"n_updates"`
	CantReachIsSuccess       bool          `mapstructure:"cant_reach_is_success"`
	GetNoVersionsIsSuccess   bool          `mapstructure:"get_no_versions_is_success"`
	OnlyIfActive             bool          `mapstructure:"only_if_active"`
	DoFingerprint            bool          `mapstructure:"do_fingerprint"`
	UseRangeVersions         bool          `mapstructure:"use_range_versions_for_peer_sync"`
	DisableFingerprint       bool          `mapstructure:"disable_fingerprint"`
	MaxUpdates               int           `mapstructure:"max_updates"`
	RequestTimeout           time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond        float64       `mapstructure:"requests_per_second"`
	Discovery                DiscoveryConfig `mapstructure:"discovery"`
}

// DiscoveryConfig configures Kubernetes-based peer discovery.
type DiscoveryConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Namespace     string `mapstructure:"namespace"`
	ServiceName   string `mapstructure:"service_name"`
	LabelSelector string `mapstructure:"label_selector"`
	Port          int    `mapstructure:"port"`
}

// JournalConfig configures the pgx-backed default Update Log implementation.
type JournalConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConnections  int32         `mapstructure:"max_connections"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	RecentWindow    int           `mapstructure:"recent_window"`
}

// CacheConfig configures the fingerprint L1/L2 cache.
type CacheConfig struct {
	L1Enabled    bool          `mapstructure:"l1_enabled"`
	L1MaxEntries int           `mapstructure:"l1_max_entries"`
	L1TTL        time.Duration `mapstructure:"l1_ttl"`
	L2Enabled    bool          `mapstructure:"l2_enabled"`
	RedisAddr    string        `mapstructure:"redis_addr"`
	RedisDB      int           `mapstructure:"redis_db"`
	L2TTL        time.Duration `mapstructure:"l2_ttl"`
}

// ServerConfig configures the peer-sync HTTP wire API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Load reads configuration from configPath (if non-empty) and the
// environment, applying defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix("SHARDCORE")

	setDefaults()

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config %s: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("shard.id", "shard-0")
	viper.SetDefault("shard.cluster_aware", false)
	viper.SetDefault("shard.commit_on_close", true)

	viper.SetDefault("handler.semantics_mode", string(ModeVersionHybrid))
	viper.SetDefault("handler.auto_commit_max_docs", -1)
	viper.SetDefault("handler.auto_commit_max_time", "15s")
	viper.SetDefault("handler.auto_commit_open_searcher", true)
	viper.SetDefault("handler.auto_soft_commit_max_docs", -1)
	viper.SetDefault("handler.auto_soft_commit_max_time", "1s")
	viper.SetDefault("handler.commit_within_soft_commit", true)
	viper.SetDefault("handler.index_writer_close_waits_for_merges", true)

	viper.SetDefault("peer_sync.n_updates", 100)
	viper.SetDefault("peer_sync.cant_reach_is_success", false)
	viper.SetDefault("peer_sync.get_no_versions_is_success", false)
	viper.SetDefault("peer_sync.only_if_active", true)
	viper.SetDefault("peer_sync.do_fingerprint", true)
	viper.SetDefault("peer_sync.use_range_versions_for_peer_sync", true)
	viper.SetDefault("peer_sync.max_updates", 10000)
	viper.SetDefault("peer_sync.request_timeout", "10s")
	viper.SetDefault("peer_sync.requests_per_second", 20.0)

	viper.SetDefault("journal.max_connections", 10)
	viper.SetDefault("journal.connect_timeout", "10s")
	viper.SetDefault("journal.recent_window", 10000)

	viper.SetDefault("cache.l1_enabled", true)
	viper.SetDefault("cache.l1_max_entries", 1000)
	viper.SetDefault("cache.l1_ttl", "30s")
	viper.SetDefault("cache.l2_enabled", false)
	viper.SetDefault("cache.redis_addr", "localhost:6379")
	viper.SetDefault("cache.l2_ttl", "5m")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")

	viper.SetDefault("server.addr", ":8983")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.shutdown_timeout", "15s")
}

// Validate checks cross-field invariants that mapstructure can't express.
func (c *Config) Validate() error {
	switch c.Handler.SemanticsMode {
	case ModeClassic, ModeStrictInsert, ModeStrictUpdate, ModeVersionHybrid:
	default:
		return fmt.Errorf("invalid handler.semantics_mode: %q", c.Handler.SemanticsMode)
	}

	if c.Shard.ID == "" {
		return fmt.Errorf("shard.id must not be empty")
	}

	if c.PeerSync.Discovery.Enabled && c.PeerSync.Discovery.ServiceName == "" {
		return fmt.Errorf("peer_sync.discovery.service_name required when discovery is enabled")
	}
	if !c.PeerSync.Discovery.Enabled && len(c.PeerSync.Peers) == 0 {
		return fmt.Errorf("peer_sync.peers or peer_sync.discovery must be configured")
	}

	return nil
}

// IsClusterAware reports whether rollback must be rejected (spec.md §4.C Rollback).
func (c *Config) IsClusterAware() bool { return c.Shard.ClusterAware }
