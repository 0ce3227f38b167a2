package updatehandler

import (
	"context"

	"github.com/shardcore/updatecore/internal/corecmd"
	"github.com/shardcore/updatecore/internal/indexwriter"
)

// Commit implements committracker.Committer: it is what the hard and
// soft trackers call when their deadline fires. Auto-commits are
// fire-and-forget (the tracker logs the error, nothing propagates back
// to a caller), so this just forwards into CommitCmd.
func (h *Handler) Commit(ctx context.Context, soft, openSearcher bool) error {
	return h.CommitCmd(ctx, &corecmd.CommitCmd{SoftCommit: soft, OpenSearcher: openSearcher})
}

// CommitCmd drives a hard or soft commit, per spec.md §4.C's commit
// algorithm.
func (h *Handler) CommitCmd(ctx context.Context, cmd *corecmd.CommitCmd) error {
	if cmd.PrepareCommit {
		return h.withWriter("prepare commit", func(w indexwriter.Writer) error {
			return w.PrepareCommit()
		})
	}

	if cmd.OpenSearcher {
		h.soft.CancelPendingCommit()
	}
	if !cmd.SoftCommit {
		h.hard.CancelPendingCommit()
	}

	if cmd.Optimize {
		if err := h.withWriter("optimize", func(w indexwriter.Writer) error {
			return w.ForceMerge(cmd.MaxOptimizeSegments)
		}); err != nil {
			return err
		}
		h.metrics.Optimizes.Inc()
	}
	if cmd.ExpungeDeletes {
		if err := h.withWriter("expunge deletes", func(w indexwriter.Writer) error {
			return w.ForceMergeDeletes()
		}); err != nil {
			return err
		}
		h.metrics.ExpungeDeletes.Inc()
	}

	if cmd.SoftCommit {
		if err := h.doSoftCommit(ctx); err != nil {
			return err
		}
	} else {
		if err := h.doHardCommit(ctx); err != nil {
			return err
		}
	}

	if !cmd.SoftCommit && !cmd.OpenSearcher {
		if err := h.log.OpenRealtimeSearcher(ctx); err != nil {
			return &corecmd.IOFailureError{Op: "open realtime searcher", Cause: err}
		}
	}

	if err := h.log.PostCommit(ctx); err != nil {
		h.logger.Warn("log postCommit failed", "error", err)
	}

	return nil
}

func (h *Handler) doSoftCommit(ctx context.Context) error {
	h.updateMu.Lock()
	defer h.updateMu.Unlock()

	if err := h.log.PreSoftCommit(ctx); err != nil {
		return &corecmd.IOFailureError{Op: "log preSoftCommit", Cause: err}
	}
	if err := h.log.OpenRealtimeSearcher(ctx); err != nil {
		return &corecmd.IOFailureError{Op: "open realtime searcher", Cause: err}
	}
	if err := h.log.PostSoftCommit(ctx); err != nil {
		return &corecmd.IOFailureError{Op: "log postSoftCommit", Cause: err}
	}

	h.soft.DidCommit()
	h.metrics.SoftCommits.Inc()
	return nil
}

func (h *Handler) doHardCommit(ctx context.Context) error {
	h.commitMu.Lock()
	defer h.commitMu.Unlock()

	h.updateMu.Lock()
	err := h.log.PreCommit(ctx)
	h.updateMu.Unlock()
	if err != nil {
		return &corecmd.IOFailureError{Op: "log preCommit", Cause: err}
	}

	err = h.withWriter("hard commit", func(w indexwriter.Writer) error {
		if !w.HasUncommittedChanges() {
			return nil
		}
		return w.Commit(nil)
	})
	if err != nil {
		return &corecmd.IOFailureError{Op: "writer commit", Cause: err}
	}

	h.hard.DidCommit()
	h.metrics.Commits.Inc()
	h.metrics.DocsPending.Set(0)
	return nil
}
