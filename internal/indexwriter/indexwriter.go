// Package indexwriter defines the contract the Update Handler drives
// against the inverted-index writer (spec.md §1: "out of scope ...
// named only by the contracts they expose") and supplies an in-memory
// reference implementation so the handler and peer-sync algorithms are
// exercisable without a real index. Grounded on the thread-safe,
// capacity-bounded map pattern of internal/storage/memory/memory_storage.go.
package indexwriter

import (
	"fmt"
	"sync"

	"github.com/shardcore/updatecore/internal/corecmd"
)

// Writer is the inverted-index writer contract named in spec.md §1.
// Every call is made while the caller holds a scoped borrow (see Handle).
type Writer interface {
	AddDocument(doc *corecmd.Doc) error
	AddDocuments(docs []*corecmd.Doc) error
	UpdateDocument(term corecmd.Term, doc *corecmd.Doc) error
	UpdateDocValues(term corecmd.Term, fields map[string]any) error
	DeleteDocuments(term corecmd.Term) error
	DeleteDocumentsByQuery(query string) error
	DeleteAll() error
	ForceMerge(maxSegments int) error
	ForceMergeDeletes() error
	Commit(commitData map[string]string) error
	// PrepareCommit flushes pending changes durably without reopening the
	// searcher or clearing HasUncommittedChanges, distinct from a full Commit.
	PrepareCommit() error
	HasUncommittedChanges() bool
	Rollback() error
	AddIndexes(readers []string) error
}

// Handle is a reference-counted, scoped borrow of a Writer (spec.md §3
// "Lifecycles": "every use is a scoped acquisition that guarantees
// release"). It is not re-entrant; callers pass the acquired Writer
// down rather than re-acquiring.
type Handle struct {
	mu      sync.Mutex
	writer  Writer
	refs    int
	closing bool
}

// NewHandle wraps w in a reference-counted handle.
func NewHandle(w Writer) *Handle {
	return &Handle{writer: w}
}

// Acquire borrows the writer. Callers MUST call the returned release
// func exactly once, on every exit path (including panics via defer).
func (h *Handle) Acquire() (Writer, func(), error) {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return nil, nil, fmt.Errorf("writer handle is closing")
	}
	h.refs++
	w := h.writer
	h.mu.Unlock()

	release := func() {
		h.mu.Lock()
		h.refs--
		h.mu.Unlock()
	}
	return w, release, nil
}

// BeginClose marks the handle as closing: no further Acquire calls
// succeed. It does not itself wait for outstanding borrows: if wait is
// non-nil it is called after the handle is marked, and BeginClose
// returns when wait does.
func (h *Handle) BeginClose(wait func()) {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()
	if wait != nil {
		wait()
	}
}

// RefCount returns the current outstanding borrow count (diagnostics/tests only).
func (h *Handle) RefCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs
}
