// Package updatelog defines the Update Log contract (spec.md §1) — the
// append-only journal the Update Handler durably records every mutation
// to before acknowledging it, and that Peer Sync mines for recent
// updates during recovery. Like the index writer, the log is named in
// spec.md only by the methods it exposes; this package also supplies
// two concrete implementations (in-memory for tests, pgx-backed for
// production) since nothing downstream is exercisable without one.
package updatelog

import (
	"context"

	"github.com/shardcore/updatecore/internal/corecmd"
)

// OpCode tags a journal Record with the operation it represents
// (spec.md §4.D "Operation encoding").
type OpCode int

const (
	OpAdd OpCode = iota
	OpDelete
	OpDeleteByQuery
	OpUpdateInPlace
)

// Record is one journal entry. Version's sign encodes intent at the log
// level: negative denotes a delete-shaped tombstone (spec.md §3).
type Record struct {
	Op        OpCode
	Version   int64
	ID        string
	IndexedID []byte
	Doc       *corecmd.Doc
	Query     string
}

// AbsVersion returns the monotonic version regardless of tombstone sign.
func (r Record) AbsVersion() int64 {
	if r.Version < 0 {
		return -r.Version
	}
	return r.Version
}

// RecentUpdatesIterator is a scoped, closeable view over the log's
// recent-updates window (spec.md §3 "Lifecycles": "opened, read, closed
// on all exit paths").
type RecentUpdatesIterator interface {
	Next() (Record, bool, error)
	Close() error
}

// UpdateLog is the contract spec.md §1 names.
type UpdateLog interface {
	// Add appends an add/update record. underLock indicates the caller
	// already holds the update lock (the reordered-DBQ replay path,
	// spec.md §4.C step 4) and the log must not attempt to acquire it again.
	Add(ctx context.Context, rec Record, underLock bool) error
	Delete(ctx context.Context, rec Record) error
	DeleteByQuery(ctx context.Context, rec Record) error

	// LookupVersion returns the current version for id, or (0, false) if absent.
	LookupVersion(ctx context.Context, id string) (int64, bool, error)

	// GetRecentUpdates returns up to n of the most recent records sorted
	// by |version| descending.
	GetRecentUpdates(ctx context.Context, n int) (RecentUpdatesIterator, error)

	// GetDBQNewer returns delete-by-query records with |version| > v
	// (spec.md §4.C step 4, "Reordered DBQ path").
	GetDBQNewer(ctx context.Context, v int64) ([]Record, error)

	PreCommit(ctx context.Context) error
	PostCommit(ctx context.Context) error
	PreSoftCommit(ctx context.Context) error
	PostSoftCommit(ctx context.Context) error

	// OpenRealtimeSearcher refreshes the view used by realtime-get.
	OpenRealtimeSearcher(ctx context.Context) error

	// TotalSize and TotalFiles back the txnLogsTotalSize/txnLogsTotalNumber gauges.
	TotalSize() int64
	TotalFiles() int

	Close(ctx context.Context) error
}
