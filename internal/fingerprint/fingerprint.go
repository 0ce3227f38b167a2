// Package fingerprint implements the Index Fingerprint contract
// (spec.md §1, §4.D, GLOSSARY): a deterministic digest over all
// document versions at-or-below a version ceiling, used by Peer Sync to
// declare "already in sync" without transferring updates. The hashing
// scheme (sorted keys, FNV-1a over a deterministic string) is grounded
// on internal/core/services/fingerprint.go's alertmanager-compatible
// generator.
package fingerprint

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/shardcore/updatecore/internal/updatelog"
)

// Fingerprint is an opaque, comparable digest ceiling-scoped to MaxVersion.
type Fingerprint struct {
	MaxVersion int64
	Digest     string
	NumVersions int64
}

// Equals reports whether two fingerprints describe identical visible
// state: both the ceilings and the digests must match, so fingerprints
// taken at different ceilings never compare equal.
func (f Fingerprint) Equals(other Fingerprint) bool {
	return f.MaxVersion == other.MaxVersion && f.Digest == other.Digest
}

// Generator computes fingerprints from a log's record stream.
type Generator interface {
	Compute(ctx context.Context, maxVersion int64) (Fingerprint, error)
}

// LogGenerator computes a fingerprint by scanning the Update Log's
// recent-updates view, keeping the latest version per document id at or
// below maxVersion, the FNV-1a hashing the sorted (id, absVersion) pairs —
// the same "sort then FNV-1a" shape as the teacher's label fingerprinting.
type LogGenerator struct {
	log UpdateLogReader
}

// UpdateLogReader is the subset of updatelog.UpdateLog a fingerprint
// generator needs; kept narrow so tests can supply a stub.
type UpdateLogReader interface {
	GetRecentUpdates(ctx context.Context, n int) (updatelog.RecentUpdatesIterator, error)
}

// NewLogGenerator wraps log for fingerprint computation.
func NewLogGenerator(log UpdateLogReader) *LogGenerator {
	return &LogGenerator{log: log}
}

// Compute implements Generator.
func (g *LogGenerator) Compute(ctx context.Context, maxVersion int64) (Fingerprint, error) {
	it, err := g.log.GetRecentUpdates(ctx, -1)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("read recent updates: %w", err)
	}
	defer it.Close()

	// Records arrive |version|-descending (newest first), so the first
	// record seen for an id is its current state; a later, older record
	// for the same id must never overwrite it — otherwise a tombstone
	// seen before a stale add would let the deleted id reappear.
	latest := make(map[string]int64)
	seen := make(map[string]struct{})
	for {
		rec, ok, err := it.Next()
		if err != nil {
			return Fingerprint{}, fmt.Errorf("iterate recent updates: %w", err)
		}
		if !ok {
			break
		}
		v := rec.AbsVersion()
		if maxVersion > 0 && v > maxVersion {
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		if rec.Version < 0 {
			continue
		}
		latest[rec.ID] = v
	}

	ids := make([]string, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := fnv.New64a()
	for _, id := range ids {
		fmt.Fprintf(h, "%s=%d|", id, latest[id])
	}

	return Fingerprint{
		MaxVersion:  maxVersion,
		Digest:      fmt.Sprintf("%016x", h.Sum64()),
		NumVersions: int64(len(latest)),
	}, nil
}
