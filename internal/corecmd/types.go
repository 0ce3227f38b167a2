// Package corecmd defines the wire-level commands the Update Handler
// consumes: adds, deletes, commits, and the administrative operations
// (merge, rollback, split). None of these types talk to the writer or
// log directly; they are pure data carried across the handler boundary.
package corecmd

// Flag is a bitmask of per-command execution hints.
type Flag uint32

const (
	// FlagIgnoreAutoCommit suppresses notifying commit trackers for this command.
	FlagIgnoreAutoCommit Flag = 1 << iota
	// FlagPeerSync marks a command as replayed from a peer during recovery.
	FlagPeerSync
	// FlagRepeated marks a command that is being retried after a transient failure.
	FlagRepeated
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// Doc is an opaque, already-analyzed document ready for the writer.
// UpdateHandler never inspects its fields beyond the unique key/version
// extraction helpers supplied by the schema adapter at construction time.
type Doc struct {
	ID     string
	Term   Term
	Fields map[string]any
}

// Term identifies a postable term in the underlying index (e.g. the
// indexed form of a unique-key field value).
type Term struct {
	Field string
	Value string
}

// AddCmd adds or updates a single document.
//
// RequestedVersion encodes intent per spec.md §3: -1 means insert-only,
// >0 means "update exactly this version", 0 means no assertion.
type AddCmd struct {
	Doc              *Doc
	ID               string `validate:"required"`
	IndexedID        Term
	RequestedVersion int64
	Version          int64
	IsBlock          bool
	IsInPlaceUpdate  bool
	IsLeaderLogic    bool
	UpdateTerm       *Term
	Flags            Flag
	NonKeyFields     map[string]any
}

// DeleteCmd deletes a single document by id.
type DeleteCmd struct {
	ID               string `validate:"required"`
	IndexedID        Term
	RequestedVersion int64
	Version          int64
	Query            string
	IsLeaderLogic    bool
	Flags            Flag
}

// CommitCmd drives a hard or soft commit.
type CommitCmd struct {
	SoftCommit           bool
	OpenSearcher         bool
	WaitSearcher         bool
	ExpungeDeletes       bool
	Optimize             bool
	MaxOptimizeSegments  int
	PrepareCommit        bool
}

// Strength orders two commits by how much state they touch: a hard
// commit outranks a soft one, and between commits of the same kind one
// that opens a searcher outranks one that doesn't.
func (c CommitCmd) Strength() int {
	s := 0
	if c.OpenSearcher {
		s++
	}
	if !c.SoftCommit {
		s += 2
	}
	return s
}

// RollbackCmd requests a writer rollback. Rejected in cluster-aware mode.
type RollbackCmd struct{}

// MergeIndexesCmd merges external readers into the local index.
type MergeIndexesCmd struct {
	Readers []string
}

// SplitCmd splits the local index by a partition function.
type SplitCmd struct {
	Paths      []string
	NumPieces  int
	HashField  string
}
