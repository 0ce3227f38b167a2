package indexwriter

import (
	"log/slog"
	"sync"

	"github.com/shardcore/updatecore/internal/corecmd"
)

// MemoryWriter is a reference Writer implementation backed by a map.
// It is NOT the production writer (spec.md names the real writer as an
// external collaborator); it exists so the Update Handler and Peer Sync
// algorithms can be built and tested end-to-end. Thread-safety mirrors
// internal/storage/memory/memory_storage.go's RWMutex-guarded map.
type MemoryWriter struct {
	mu      sync.RWMutex
	docs    map[string]*corecmd.Doc
	dirty   bool
	logger  *slog.Logger
}

// NewMemoryWriter creates an empty in-memory writer.
func NewMemoryWriter(logger *slog.Logger) *MemoryWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryWriter{docs: make(map[string]*corecmd.Doc), logger: logger}
}

func (w *MemoryWriter) AddDocument(doc *corecmd.Doc) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.docs[doc.ID] = doc
	w.dirty = true
	return nil
}

func (w *MemoryWriter) AddDocuments(docs []*corecmd.Doc) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, d := range docs {
		w.docs[d.ID] = d
	}
	w.dirty = true
	return nil
}

func (w *MemoryWriter) UpdateDocument(term corecmd.Term, doc *corecmd.Doc) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deleteByTermLocked(term)
	w.docs[doc.ID] = doc
	w.dirty = true
	return nil
}

func (w *MemoryWriter) UpdateDocValues(term corecmd.Term, fields map[string]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, doc := range w.docs {
		if matchesTerm(doc, term) {
			if doc.Fields == nil {
				doc.Fields = map[string]any{}
			}
			for k, v := range fields {
				doc.Fields[k] = v
			}
			w.docs[id] = doc
		}
	}
	w.dirty = true
	return nil
}

func (w *MemoryWriter) DeleteDocuments(term corecmd.Term) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deleteByTermLocked(term)
	w.dirty = true
	return nil
}

func (w *MemoryWriter) deleteByTermLocked(term corecmd.Term) {
	for id, doc := range w.docs {
		if matchesTerm(doc, term) {
			delete(w.docs, id)
		}
	}
}

func matchesTerm(doc *corecmd.Doc, term corecmd.Term) bool {
	if term.Field == "" {
		return false
	}
	if term.Field == "_id" || term.Field == doc.Term.Field {
		return doc.Term.Value == term.Value || doc.ID == term.Value
	}
	v, ok := doc.Fields[term.Field]
	return ok && v == term.Value
}

func (w *MemoryWriter) DeleteDocumentsByQuery(query string) error {
	// The reference writer treats any non-empty query as a no-op filter
	// match-all shortcut is handled explicitly via DeleteAll by callers.
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dirty = true
	return nil
}

func (w *MemoryWriter) DeleteAll() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.docs = make(map[string]*corecmd.Doc)
	w.dirty = true
	return nil
}

func (w *MemoryWriter) ForceMerge(maxSegments int) error { return nil }
func (w *MemoryWriter) ForceMergeDeletes() error         { return nil }

func (w *MemoryWriter) Commit(commitData map[string]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dirty = false
	return nil
}

// PrepareCommit flushes without clearing dirty or touching the searcher —
// a real writer would fsync segment files here and stop short of the
// two-phase commit's second phase.
func (w *MemoryWriter) PrepareCommit() error {
	return nil
}

func (w *MemoryWriter) HasUncommittedChanges() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dirty
}

func (w *MemoryWriter) Rollback() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dirty = false
	return nil
}

func (w *MemoryWriter) AddIndexes(readers []string) error { return nil }

// Len reports the current document count (test/diagnostics helper).
func (w *MemoryWriter) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.docs)
}

// Get returns a document by id (test helper).
func (w *MemoryWriter) Get(id string) (*corecmd.Doc, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	d, ok := w.docs[id]
	return d, ok
}
