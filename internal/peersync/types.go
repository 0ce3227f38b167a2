// Package peersync implements the Peer Sync recovery protocol (spec.md
// §4.D): bringing a local replica up to date by pulling the at-most-N
// most recent updates from a set of peers, with a fingerprint-based
// short-circuit for the common "already in sync" case. Grounded on the
// retrying HTTP client shape of
// internal/infrastructure/publishing/webhook_client.go and the
// async-fan-out-then-drain shape of internal/core/processing/async_processor.go.
package peersync

import (
	"context"
	"time"

	"github.com/shardcore/updatecore/internal/corecmd"
	"github.com/shardcore/updatecore/internal/fingerprint"
	"github.com/shardcore/updatecore/internal/updatelog"
)

// Config mirrors spec.md §6's peer-sync configuration block.
type Config struct {
	NUpdates               int
	CantReachIsSuccess     bool
	GetNoVersionsIsSuccess bool
	OnlyIfActive           bool
	DoFingerprint          bool
	UseRangeVersions       bool
	DisableFingerprint     bool
	MaxUpdates             int
	RequestTimeout         time.Duration
	RequestsPerSecond      float64
}

// Result is what a Sync run reports back (spec.md §4.D "Result").
type Result struct {
	Success         bool
	OtherHasVersions bool
}

// VersionsResponse is a peer's answer to getVersions[+fingerprint].
type VersionsResponse struct {
	Versions               []int64                 `json:"versions"`
	CanHandleVersionRanges bool                     `json:"canHandleVersionRanges"`
	Fingerprint            *fingerprint.Fingerprint `json:"fingerprint,omitempty"`
}

// UpdatesResponse is a peer's answer to getUpdates[+fingerprint].
type UpdatesResponse struct {
	Records     []WireRecord             `json:"updates"`
	Fingerprint *fingerprint.Fingerprint `json:"fingerprint,omitempty"`
}

// WireRecord is the JSON shape of an updatelog.Record crossing the
// peer-sync wire — Doc is flattened to its id/fields since the
// transport doesn't know how to serialize corecmd.Term.
type WireRecord struct {
	Op        int             `json:"op"`
	Version   int64           `json:"version"`
	ID        string          `json:"id"`
	IndexedID []byte          `json:"indexedId,omitempty"`
	Doc       *WireDoc        `json:"doc,omitempty"`
	Query     string          `json:"query,omitempty"`
}

// WireDoc is the wire shape of corecmd.Doc.
type WireDoc struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields,omitempty"`
}

// ToRecord converts a WireRecord into the internal updatelog.Record shape.
func (w WireRecord) ToRecord() updatelog.Record {
	rec := updatelog.Record{
		Op:        updatelog.OpCode(w.Op),
		Version:   w.Version,
		ID:        w.ID,
		IndexedID: w.IndexedID,
		Query:     w.Query,
	}
	if w.Doc != nil {
		rec.Doc = docFromWire(*w.Doc)
	}
	return rec
}

func docFromWire(w WireDoc) *corecmd.Doc {
	return &corecmd.Doc{ID: w.ID, Fields: w.Fields}
}

func docToWire(d *corecmd.Doc) *WireDoc {
	if d == nil {
		return nil
	}
	return &WireDoc{ID: d.ID, Fields: d.Fields}
}

// FromRecord converts an internal updatelog.Record to its wire shape.
func FromRecord(rec updatelog.Record) WireRecord {
	return WireRecord{
		Op:        int(rec.Op),
		Version:   rec.Version,
		ID:        rec.ID,
		IndexedID: rec.IndexedID,
		Doc:       docToWire(rec.Doc),
		Query:     rec.Query,
	}
}

// PeerClient is the wire contract Sync drives against each peer. One
// instance is created per peer address.
type PeerClient interface {
	Addr() string
	GetFingerprint(ctx context.Context, maxVersion int64) (fingerprint.Fingerprint, error)
	GetVersions(ctx context.Context, n int, withFingerprint bool) (VersionsResponse, error)
	CheckCanHandleVersionRanges(ctx context.Context) (bool, error)
	GetUpdates(ctx context.Context, spec string, withFingerprint bool) (UpdatesResponse, error)
}

// LocalView is what Sync reads from/writes to the local replica: its
// own fingerprint generator, its own recent-updates log, and the
// Update Handler to replay accepted records through.
type LocalView interface {
	Fingerprint(ctx context.Context, maxVersion int64) (fingerprint.Fingerprint, error)
	RecentVersions(ctx context.Context, n int) ([]int64, error)
	Replay(ctx context.Context, rec updatelog.Record) error
}
