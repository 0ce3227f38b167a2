// Package updatehandler implements the Local Update Handler (spec.md
// §4.C): the orchestrator that turns an AddCmd/DeleteCmd/CommitCmd into
// writer calls and log records under the commit-lock/update-lock
// nesting described there. Grounded on the request-orchestration shape
// of internal/core/services/deduplication.go (lookup-then-decide under
// a narrow critical section) and the lifecycle discipline of
// internal/core/processing/async_processor.go (every exit path releases
// what it acquired).
package updatehandler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shardcore/updatecore/internal/committracker"
	"github.com/shardcore/updatecore/internal/config"
	"github.com/shardcore/updatecore/internal/corecmd"
	"github.com/shardcore/updatecore/internal/indexwriter"
	"github.com/shardcore/updatecore/internal/metrics"
	"github.com/shardcore/updatecore/internal/semantics"
	"github.com/shardcore/updatecore/internal/updatelog"
)

// SchemaInfo answers the two schema questions semantics.Rules needs
// that this package has no other way to learn, since the document
// schema itself is out of scope (spec.md §1).
type SchemaInfo struct {
	HasUniqueKeyField bool
	HasVersionField   bool
}

// Handler is the Local Update Handler. One Handler owns one writer
// handle, one log, and the pair of commit trackers (hard, soft); it is
// safe for concurrent use by multiple callers.
type Handler struct {
	cfg          config.HandlerConfig
	clusterAware bool
	commitOnClose bool
	schema       SchemaInfo
	mode         semantics.Mode

	writer *indexwriter.Handle
	log    updatelog.UpdateLog

	hard *committracker.Tracker
	soft *committracker.Tracker

	metrics *metrics.Metrics
	logger  *slog.Logger
	clock   *versionClock

	// commitMu serializes hard commits and nests outside updateMu
	// (spec.md §4.C: "commit lock ⊃ update lock" — never acquire them
	// in the reverse order).
	commitMu sync.Mutex
	// updateMu serializes the log's preCommit and soft-commit phases,
	// delete-by-query and the reordered-DBQ replay path with one another;
	// the normal add and delete-by-id paths and the final log postCommit
	// do not take it.
	updateMu sync.Mutex
}

// New wires a Handler from its collaborators and builds its hard and
// soft commit trackers from cfg, with the Handler itself as their
// committer.
func New(
	cfg config.HandlerConfig,
	clusterAware, commitOnClose bool,
	schema SchemaInfo,
	writer *indexwriter.Handle,
	log updatelog.UpdateLog,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		cfg:           cfg,
		clusterAware:  clusterAware,
		commitOnClose: commitOnClose,
		schema:        schema,
		mode:          cfg.SemanticsMode,
		writer:        writer,
		log:           log,
		metrics:       m,
		logger:        logger,
		clock:         newVersionClock(),
	}
	h.hard = committracker.New(committracker.Config{
		DocsUpperBound:       cfg.AutoCommitMaxDocs,
		TimeUpperBound:       cfg.AutoCommitMaxTime,
		OpenSearcherOnCommit: cfg.AutoCommitOpenSearcher,
		IsSoft:               false,
	}, h, logger)
	h.soft = committracker.New(committracker.Config{
		DocsUpperBound:       cfg.AutoSoftCommitMaxDocs,
		TimeUpperBound:       cfg.AutoSoftCommitMaxTime,
		OpenSearcherOnCommit: true,
		IsSoft:               true,
	}, h, logger)
	return h
}

func (h *Handler) withWriter(op string, fn func(indexwriter.Writer) error) error {
	w, release, err := h.writer.Acquire()
	if err != nil {
		return &corecmd.IOFailureError{Op: op, Cause: err}
	}
	defer release()
	return fn(w)
}

func (h *Handler) trackerFor(commitWithinSoft bool) *committracker.Tracker {
	if commitWithinSoft {
		return h.soft
	}
	return h.hard
}

func (h *Handler) notifyAdded(flags corecmd.Flag) {
	if flags.Has(corecmd.FlagIgnoreAutoCommit) {
		return
	}
	h.hard.AddedDocument(0)
	if h.cfg.CommitWithinSoftCommit {
		h.soft.AddedDocument(0)
	}
}

func (h *Handler) notifyDeleted(flags corecmd.Flag) {
	if flags.Has(corecmd.FlagIgnoreAutoCommit) {
		return
	}
	h.hard.DeletedDocument(0)
	if h.cfg.CommitWithinSoftCommit {
		h.soft.DeletedDocument(0)
	}
}

func (h *Handler) checkPrerequisites(rules semantics.Rules) error {
	if rules.RequireUniqueKeyFieldInSchema.Enforced && !h.schema.HasUniqueKeyField {
		return &corecmd.WrongUsageError{Reason: rules.RequireUniqueKeyFieldInSchema.Reason}
	}
	if rules.RequireVersionFieldInSchema.Enforced && !h.schema.HasVersionField {
		return &corecmd.WrongUsageError{Reason: rules.RequireVersionFieldInSchema.Reason}
	}
	if rules.RequireUpdateLog.Enforced && h.log == nil {
		return &corecmd.WrongUsageError{Reason: rules.RequireUpdateLog.Reason}
	}
	return nil
}

// checkExistence performs the leader-side version lookup and the
// existence/equality assertions spec.md §4.B's table demands, returning
// the current version (0 if absent) to callers that still need it.
func (h *Handler) checkExistence(ctx context.Context, id string, requestedVersion int64, rules semantics.Rules) (int64, error) {
	if !rules.NeedToLookupExistingVersion.Enforced {
		return 0, nil
	}

	current, found, err := h.log.LookupVersion(ctx, id)
	if err != nil {
		return 0, &corecmd.IOFailureError{Op: "lookup version", Cause: err}
	}
	if !found {
		if rules.RequireExistingDocument.Enforced {
			return 0, &corecmd.DocDoesNotExistError{ID: id}
		}
		return 0, nil
	}

	if rules.RequireNoExistingDocument.Enforced {
		return current, &corecmd.DocAlreadyExistsError{ID: id}
	}
	if rules.RequireVersionEquality.Enforced && current != requestedVersion {
		return current, &corecmd.VersionConflictError{ID: id, Current: current}
	}
	return current, nil
}
