package updatehandler

import (
	"context"

	"github.com/shardcore/updatecore/internal/corecmd"
	"github.com/shardcore/updatecore/internal/indexwriter"
	"github.com/shardcore/updatecore/internal/semantics"
	"github.com/shardcore/updatecore/internal/updatelog"
)

// Add resolves semantics, validates prerequisites and existence, writes
// the document, journals it, and notifies the commit trackers — spec.md
// §4.C's add algorithm, steps 1 through 6.
func (h *Handler) Add(ctx context.Context, cmd *corecmd.AddCmd) error {
	if err := corecmd.Validate(cmd); err != nil {
		return err
	}

	intent := semantics.Intent{RequestedVersion: cmd.RequestedVersion, IsUpdate: true}
	rules := semantics.Evaluate(h.mode, intent)

	if err := h.checkPrerequisites(rules); err != nil {
		return err
	}
	if rules.RequireUniqueKeyInDoc.Enforced && cmd.ID == "" {
		return &corecmd.WrongUsageError{Reason: rules.RequireUniqueKeyInDoc.Reason}
	}

	if cmd.IsLeaderLogic {
		if _, err := h.checkExistence(ctx, cmd.ID, cmd.RequestedVersion, rules); err != nil {
			return err
		}
		if cmd.Version == 0 {
			cmd.Version = h.clock.next()
		}
	}

	// Insert-only fastpath: a pure insert (requestedVersion < 0) that
	// isn't part of a block skips the delete-old-version step entirely,
	// since no prior version can legally exist once checkExistence has
	// passed. Every other case replaces by unique key (spec.md §4.B
	// table: needToDeleteOldVersion is enforced for every mode).
	needToDelete := rules.NeedToDeleteOldVersion.Enforced
	if cmd.RequestedVersion < 0 && !cmd.IsBlock {
		needToDelete = false
	}

	if !needToDelete {
		return h.addFastpath(ctx, cmd)
	}
	return h.addWithDelete(ctx, cmd)
}

func (h *Handler) addFastpath(ctx context.Context, cmd *corecmd.AddCmd) error {
	err := h.withWriter("add document", func(w indexwriter.Writer) error {
		return w.AddDocument(cmd.Doc)
	})
	if err != nil {
		return err
	}

	rec := updatelog.Record{Op: updatelog.OpAdd, Version: cmd.Version, ID: cmd.ID, IndexedID: []byte(cmd.IndexedID.Value), Doc: cmd.Doc}
	if err := h.log.Add(ctx, rec, false); err != nil {
		return &corecmd.IOFailureError{Op: "journal add", Cause: err}
	}

	h.notifyAdded(cmd.Flags)
	h.metrics.Adds.WithLabelValues(metricsScope).Inc()
	return nil
}

func (h *Handler) addWithDelete(ctx context.Context, cmd *corecmd.AddCmd) error {
	newer, err := h.log.GetDBQNewer(ctx, cmd.Version)
	if err != nil {
		return &corecmd.IOFailureError{Op: "query dbq newer", Cause: err}
	}

	if len(newer) > 0 {
		return h.addReordered(ctx, cmd, newer)
	}

	err = h.withWriter("update document", func(w indexwriter.Writer) error {
		if cmd.IsInPlaceUpdate {
			if err := w.UpdateDocValues(cmd.IndexedID, cmd.NonKeyFields); err != nil {
				return err
			}
		} else {
			if err := w.UpdateDocument(cmd.IndexedID, cmd.Doc); err != nil {
				return err
			}
		}
		if cmd.UpdateTerm != nil && *cmd.UpdateTerm != cmd.IndexedID {
			if err := w.DeleteDocuments(*cmd.UpdateTerm); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	op := updatelog.OpAdd
	if cmd.IsInPlaceUpdate {
		op = updatelog.OpUpdateInPlace
	}
	rec := updatelog.Record{Op: op, Version: cmd.Version, ID: cmd.ID, IndexedID: []byte(cmd.IndexedID.Value), Doc: cmd.Doc}
	if err := h.log.Add(ctx, rec, false); err != nil {
		return &corecmd.IOFailureError{Op: "journal add", Cause: err}
	}

	h.notifyAdded(cmd.Flags)
	h.metrics.Adds.WithLabelValues(metricsScope).Inc()
	return nil
}

// addReordered handles an add that arrives after a delete-by-query with
// a higher version has already been journaled: the add must be applied
// and then the intervening DBQs replayed against it, under the update
// lock, so a late-arriving add never resurrects a document a DBQ meant
// to remove (spec.md §4.C step 4, "Reordered DBQ path").
func (h *Handler) addReordered(ctx context.Context, cmd *corecmd.AddCmd, newer []updatelog.Record) error {
	h.updateMu.Lock()
	defer h.updateMu.Unlock()

	err := h.withWriter("reordered update", func(w indexwriter.Writer) error {
		if err := w.UpdateDocument(cmd.IndexedID, cmd.Doc); err != nil {
			return err
		}
		if cmd.IsInPlaceUpdate {
			if err := h.log.OpenRealtimeSearcher(ctx); err != nil {
				return err
			}
		}
		for _, dbq := range newer {
			if err := w.DeleteDocumentsByQuery(dbq.Query); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	rec := updatelog.Record{Op: updatelog.OpAdd, Version: cmd.Version, ID: cmd.ID, IndexedID: []byte(cmd.IndexedID.Value), Doc: cmd.Doc}
	if err := h.log.Add(ctx, rec, true); err != nil {
		return &corecmd.IOFailureError{Op: "journal reordered add", Cause: err}
	}

	h.notifyAdded(cmd.Flags)
	h.metrics.Adds.WithLabelValues(metricsScope).Inc()
	return nil
}

// AddBatch applies each command independently, collecting per-index
// failures instead of aborting on the first error (spec.md §8 "partial
// batch" scenario). A nil return with a nil *corecmd.PartialErrors means
// every element succeeded.
func (h *Handler) AddBatch(ctx context.Context, cmds []*corecmd.AddCmd) *corecmd.PartialErrors {
	errs := make(map[int]error)
	for i, cmd := range cmds {
		if err := h.Add(ctx, cmd); err != nil {
			errs[i] = err
			h.metrics.Errors.WithLabelValues(metricsScope, string(corecmd.ClassifyError(err))).Inc()
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &corecmd.PartialErrors{Total: len(cmds), Errors: errs}
}

const metricsScope = "cumulative"
