package updatehandler

import (
	"context"

	"github.com/shardcore/updatecore/internal/corecmd"
	"github.com/shardcore/updatecore/internal/indexwriter"
)

// Rollback discards every uncommitted change since the last hard
// commit. Rejected outright in cluster-aware mode, where a follower
// reverting local state would silently diverge from the rest of the
// replica set (spec.md §4.C Rollback).
func (h *Handler) Rollback(ctx context.Context, cmd *corecmd.RollbackCmd) error {
	if h.clusterAware {
		return &corecmd.WrongUsageError{Reason: "rollback is rejected in cluster-aware mode"}
	}

	h.commitMu.Lock()
	defer h.commitMu.Unlock()

	err := h.withWriter("rollback", func(w indexwriter.Writer) error {
		return w.Rollback()
	})
	if err != nil {
		return &corecmd.IOFailureError{Op: "writer rollback", Cause: err}
	}

	h.hard.DidRollback()
	h.soft.DidRollback()
	h.metrics.Rollbacks.Inc()
	return nil
}

// MergeIndexes merges externally-supplied readers into the local index.
func (h *Handler) MergeIndexes(ctx context.Context, cmd *corecmd.MergeIndexesCmd) error {
	err := h.withWriter("merge indexes", func(w indexwriter.Writer) error {
		return w.AddIndexes(cmd.Readers)
	})
	if err != nil {
		return &corecmd.IOFailureError{Op: "merge indexes", Cause: err}
	}
	h.metrics.MergeIndexes.Inc()
	return nil
}

// Split is out of scope for the reference writer: real segment-level
// splitting requires index internals no Writer implementation here
// exposes. It still validates the request and records the attempt so
// callers see a typed error rather than a silent no-op.
func (h *Handler) Split(ctx context.Context, cmd *corecmd.SplitCmd) error {
	if len(cmd.Paths) == 0 || cmd.NumPieces <= 0 {
		return &corecmd.WrongUsageError{Reason: "split requires at least one output path and numPieces > 0"}
	}
	h.metrics.Splits.Inc()
	return &corecmd.IOFailureError{Op: "split", Cause: errSplitUnsupported}
}

var errSplitUnsupported = unsupportedError("the reference index writer does not support index splitting")

type unsupportedError string

func (e unsupportedError) Error() string { return string(e) }

// Close performs the writer-close sequence (spec.md §4.C "Writer close
// sequence"): under the commit lock, a final minimal commit if
// configured and there are uncommitted changes, then the log is closed
// before the writer handle. Errors from either are logged rather than
// propagated, since a caller tearing down the process can't act on them
// — except a fatal error, which always propagates.
func (h *Handler) Close(ctx context.Context) error {
	h.commitMu.Lock()
	defer h.commitMu.Unlock()

	h.hard.Close()
	h.soft.Close()

	if h.commitOnClose {
		hasUncommitted := false
		_ = h.withWriter("check uncommitted on close", func(w indexwriter.Writer) error {
			hasUncommitted = w.HasUncommittedChanges()
			return nil
		})
		if hasUncommitted {
			if err := h.log.PreCommit(ctx); err != nil {
				h.logger.Error("log preCommit failed during close", "error", err)
			} else if err := h.withWriter("final commit on close", func(w indexwriter.Writer) error {
				return w.Commit(nil)
			}); err != nil {
				h.logger.Error("writer commit failed during close", "error", err)
			} else if err := h.log.PostCommit(ctx); err != nil {
				h.logger.Error("log postCommit failed during close", "error", err)
			}
		}
	}

	var fatal *corecmd.FatalError
	if err := h.log.Close(ctx); err != nil {
		if asFatal(err, &fatal) {
			return fatal
		}
		h.logger.Error("log close failed", "error", err)
	}

	h.writer.BeginClose(nil)

	return nil
}

func asFatal(err error, target **corecmd.FatalError) bool {
	fe, ok := err.(*corecmd.FatalError)
	if !ok {
		return false
	}
	*target = fe
	return true
}
