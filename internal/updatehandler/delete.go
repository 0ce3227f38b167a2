package updatehandler

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/shardcore/updatecore/internal/corecmd"
	"github.com/shardcore/updatecore/internal/indexwriter"
	"github.com/shardcore/updatecore/internal/semantics"
	"github.com/shardcore/updatecore/internal/updatelog"
)

// matchAllVersion is the sentinel requestedVersion marking a
// delete-by-query as the special "wipe everything" case (spec.md §4.C
// Delete-by-query): no version-range guard is applied and no log entry
// is written, since there is no narrower scope left to reconstruct.
const matchAllVersion = math.MinInt64

// Delete removes a single document by id.
func (h *Handler) Delete(ctx context.Context, cmd *corecmd.DeleteCmd) error {
	if err := corecmd.Validate(cmd); err != nil {
		return err
	}

	intent := semantics.Intent{RequestedVersion: cmd.RequestedVersion, IsUpdate: false}
	rules := semantics.Evaluate(h.mode, intent)

	if err := h.checkPrerequisites(rules); err != nil {
		return err
	}

	if cmd.IsLeaderLogic {
		if _, err := h.checkExistence(ctx, cmd.ID, cmd.RequestedVersion, rules); err != nil {
			return err
		}
		if cmd.Version == 0 {
			cmd.Version = h.clock.next()
		}
	}

	err := h.withWriter("delete document", func(w indexwriter.Writer) error {
		return w.DeleteDocuments(cmd.IndexedID)
	})
	if err != nil {
		return err
	}

	rec := updatelog.Record{Op: updatelog.OpDelete, Version: -cmd.Version, ID: cmd.ID, IndexedID: []byte(cmd.IndexedID.Value)}
	if err := h.log.Delete(ctx, rec); err != nil {
		return &corecmd.IOFailureError{Op: "journal delete", Cause: err}
	}

	h.notifyDeleted(cmd.Flags)
	h.metrics.DeletesByID.WithLabelValues(metricsScope).Inc()
	return nil
}

// DeleteByQuery removes every document matching cmd.Query. A version of
// matchAllVersion on a "*:*"-shaped query wipes the index unconditionally
// and skips the journal entirely (spec.md §4.C step 3 special case);
// every other call with a non-zero version wraps the query with a version-range guard so the
// delete can't retroactively remove a document added after it was issued.
func (h *Handler) DeleteByQuery(ctx context.Context, cmd *corecmd.DeleteCmd) error {
	if cmd.RequestedVersion == matchAllVersion && isMatchAllQuery(cmd.Query) {
		return h.withWriter("delete all", func(w indexwriter.Writer) error {
			return w.DeleteAll()
		})
	}

	if cmd.IsLeaderLogic && cmd.Version == 0 {
		cmd.Version = h.clock.next()
	}

	query := cmd.Query
	if cmd.Version != 0 {
		query = wrapVersionGuard(query, cmd.Version)
	}

	h.updateMu.Lock()
	defer h.updateMu.Unlock()

	if err := h.log.OpenRealtimeSearcher(ctx); err != nil {
		return &corecmd.IOFailureError{Op: "open realtime searcher", Cause: err}
	}

	err := h.withWriter("delete by query", func(w indexwriter.Writer) error {
		return w.DeleteDocumentsByQuery(query)
	})
	if err != nil {
		return err
	}

	rec := updatelog.Record{Op: updatelog.OpDeleteByQuery, Version: -cmd.Version, Query: query}
	if err := h.log.DeleteByQuery(ctx, rec); err != nil {
		return &corecmd.IOFailureError{Op: "journal delete-by-query", Cause: err}
	}

	h.notifyDeleted(cmd.Flags)
	h.metrics.DeletesByQuery.WithLabelValues(metricsScope).Inc()
	return nil
}

func isMatchAllQuery(q string) bool {
	q = strings.TrimSpace(q)
	return q == "*:*" || q == "*"
}

// wrapVersionGuard scopes query to documents indexed at or below v, the
// wire-level equivalent of ANDing in a version-field range clause. The
// reference writer treats queries as opaque strings, so this is a
// textual annotation rather than a real query rewrite.
func wrapVersionGuard(query string, v int64) string {
	if v < 0 {
		v = -v
	}
	return query + " AND NOT _version_:{" + strconv.FormatInt(v, 10) + " TO *]"
}
