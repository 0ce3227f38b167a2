package fingerprint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// CacheConfig configures the two-tier fingerprint cache.
type CacheConfig struct {
	L1Enabled    bool
	L1MaxEntries int
	L1TTL        time.Duration
	L2Enabled    bool
	L2TTL        time.Duration
}

// CachingGenerator wraps a Generator with an L1 (in-process LRU) and L2
// (Redis) cache keyed by maxVersion, mirroring the two-tier shape of
// pkg/history/cache/manager.go (L1Cache/L2Cache behind one Manager).
// Repeated getFingerprint RPCs from peers at the same ceiling are common
// during a peer-sync storm, so caching the digest avoids rescanning the
// log on every probe.
type CachingGenerator struct {
	inner  Generator
	cfg    CacheConfig
	l1     *lru.Cache[int64, cacheEntry]
	redis  *redis.Client
	logger *slog.Logger
}

type cacheEntry struct {
	fp        Fingerprint
	expiresAt time.Time
}

// NewCachingGenerator wraps inner with L1/L2 caching. redisClient may be
// nil when cfg.L2Enabled is false.
func NewCachingGenerator(inner Generator, cfg CacheConfig, redisClient *redis.Client, logger *slog.Logger) (*CachingGenerator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	g := &CachingGenerator{inner: inner, cfg: cfg, redis: redisClient, logger: logger}

	if cfg.L1Enabled {
		size := cfg.L1MaxEntries
		if size <= 0 {
			size = 256
		}
		l1, err := lru.New[int64, cacheEntry](size)
		if err != nil {
			return nil, fmt.Errorf("create fingerprint L1 cache: %w", err)
		}
		g.l1 = l1
	}

	return g, nil
}

// Compute returns the fingerprint at maxVersion, consulting L1 then L2
// before recomputing from the log.
func (g *CachingGenerator) Compute(ctx context.Context, maxVersion int64) (Fingerprint, error) {
	if g.l1 != nil {
		if entry, ok := g.l1.Get(maxVersion); ok && time.Now().Before(entry.expiresAt) {
			return entry.fp, nil
		}
	}

	if g.cfg.L2Enabled && g.redis != nil {
		if fp, ok := g.getL2(ctx, maxVersion); ok {
			g.setL1(maxVersion, fp)
			return fp, nil
		}
	}

	fp, err := g.inner.Compute(ctx, maxVersion)
	if err != nil {
		return Fingerprint{}, err
	}

	g.setL1(maxVersion, fp)
	g.setL2(ctx, maxVersion, fp)
	return fp, nil
}

func (g *CachingGenerator) setL1(maxVersion int64, fp Fingerprint) {
	if g.l1 == nil {
		return
	}
	ttl := g.cfg.L1TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	g.l1.Add(maxVersion, cacheEntry{fp: fp, expiresAt: time.Now().Add(ttl)})
}

func (g *CachingGenerator) l2Key(maxVersion int64) string {
	return fmt.Sprintf("update_core:fingerprint:%d", maxVersion)
}

func (g *CachingGenerator) getL2(ctx context.Context, maxVersion int64) (Fingerprint, bool) {
	raw, err := g.redis.Get(ctx, g.l2Key(maxVersion)).Bytes()
	if err != nil {
		return Fingerprint{}, false
	}
	var fp Fingerprint
	if err := json.Unmarshal(raw, &fp); err != nil {
		g.logger.Warn("fingerprint L2 decode failed", "error", err)
		return Fingerprint{}, false
	}
	return fp, true
}

func (g *CachingGenerator) setL2(ctx context.Context, maxVersion int64, fp Fingerprint) {
	if !g.cfg.L2Enabled || g.redis == nil {
		return
	}
	raw, err := json.Marshal(fp)
	if err != nil {
		return
	}
	ttl := g.cfg.L2TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if err := g.redis.Set(ctx, g.l2Key(maxVersion), raw, ttl).Err(); err != nil {
		g.logger.Warn("fingerprint L2 write failed", "error", err)
	}
}

// Invalidate drops any cached fingerprint at maxVersion from both tiers.
// Commits do not call it; cached entries otherwise live until their TTL
// expires or L1 evicts them.
func (g *CachingGenerator) Invalidate(ctx context.Context, maxVersion int64) {
	if g.l1 != nil {
		g.l1.Remove(maxVersion)
	}
	if g.cfg.L2Enabled && g.redis != nil {
		g.redis.Del(ctx, g.l2Key(maxVersion))
	}
}
