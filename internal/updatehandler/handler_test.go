package updatehandler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardcore/updatecore/internal/config"
	"github.com/shardcore/updatecore/internal/corecmd"
	"github.com/shardcore/updatecore/internal/indexwriter"
	"github.com/shardcore/updatecore/internal/metrics"
	"github.com/shardcore/updatecore/internal/updatelog"
)

func newTestHandler(t *testing.T, mode config.SemanticsMode) (*Handler, *indexwriter.MemoryWriter, *updatelog.MemLog) {
	t.Helper()

	mw := indexwriter.NewMemoryWriter(nil)
	handle := indexwriter.NewHandle(mw)

	log, err := updatelog.NewMemLog(1000, nil)
	require.NoError(t, err)

	cfg := config.HandlerConfig{
		SemanticsMode:          mode,
		AutoCommitMaxDocs:      -1,
		AutoCommitMaxTime:      0,
		AutoSoftCommitMaxDocs:  -1,
		AutoSoftCommitMaxTime:  0,
		CommitWithinSoftCommit: false,
	}

	h := New(cfg, false, true, SchemaInfo{HasUniqueKeyField: true, HasVersionField: true}, handle, log, metrics.NewForTest(), nil)
	return h, mw, log
}

func idTerm(id string) corecmd.Term { return corecmd.Term{Field: "id", Value: id} }

func TestAdd_Classic_InsertThenUpdate(t *testing.T) {
	h, mw, _ := newTestHandler(t, config.ModeClassic)
	ctx := context.Background()

	cmd := &corecmd.AddCmd{
		Doc:           &corecmd.Doc{ID: "doc1", Term: idTerm("doc1")},
		ID:            "doc1",
		IndexedID:     idTerm("doc1"),
		IsLeaderLogic: true,
	}
	require.NoError(t, h.Add(ctx, cmd))
	require.Equal(t, 1, mw.Len())

	cmd2 := &corecmd.AddCmd{
		Doc:           &corecmd.Doc{ID: "doc1", Term: idTerm("doc1"), Fields: map[string]any{"v": 2}},
		ID:            "doc1",
		IndexedID:     idTerm("doc1"),
		IsLeaderLogic: true,
	}
	require.NoError(t, h.Add(ctx, cmd2))
	require.Equal(t, 1, mw.Len())

	got, ok := mw.Get("doc1")
	require.True(t, ok)
	require.Equal(t, 2, got.Fields["v"])
}

func TestAdd_StrictUpdate_RejectsMissingDocument(t *testing.T) {
	h, _, _ := newTestHandler(t, config.ModeStrictUpdate)
	ctx := context.Background()

	cmd := &corecmd.AddCmd{
		Doc:              &corecmd.Doc{ID: "ghost", Term: idTerm("ghost")},
		ID:               "ghost",
		IndexedID:        idTerm("ghost"),
		RequestedVersion: 5,
		IsLeaderLogic:    true,
	}
	err := h.Add(ctx, cmd)
	require.Error(t, err)
	require.Equal(t, corecmd.KindDocDoesNotExist, corecmd.ClassifyError(err))
}

func TestAdd_StrictInsert_RejectsExistingDocument(t *testing.T) {
	h, _, _ := newTestHandler(t, config.ModeStrictInsert)
	ctx := context.Background()

	cmd := &corecmd.AddCmd{
		Doc:           &corecmd.Doc{ID: "doc1", Term: idTerm("doc1")},
		ID:            "doc1",
		IndexedID:     idTerm("doc1"),
		IsLeaderLogic: true,
	}
	require.NoError(t, h.Add(ctx, cmd))

	err := h.Add(ctx, &corecmd.AddCmd{
		Doc:           &corecmd.Doc{ID: "doc1", Term: idTerm("doc1")},
		ID:            "doc1",
		IndexedID:     idTerm("doc1"),
		IsLeaderLogic: true,
	})
	require.Error(t, err)
	require.Equal(t, corecmd.KindDocAlreadyExists, corecmd.ClassifyError(err))
}

func TestAdd_VersionHybrid_VersionConflict(t *testing.T) {
	h, _, _ := newTestHandler(t, config.ModeVersionHybrid)
	ctx := context.Background()

	cmd := &corecmd.AddCmd{
		Doc:              &corecmd.Doc{ID: "doc1", Term: idTerm("doc1")},
		ID:               "doc1",
		IndexedID:        idTerm("doc1"),
		RequestedVersion: -1,
		IsLeaderLogic:    true,
	}
	require.NoError(t, h.Add(ctx, cmd))

	conflict := &corecmd.AddCmd{
		Doc:              &corecmd.Doc{ID: "doc1", Term: idTerm("doc1")},
		ID:               "doc1",
		IndexedID:        idTerm("doc1"),
		RequestedVersion: 999,
		IsLeaderLogic:    true,
	}
	err := h.Add(ctx, conflict)
	require.Error(t, err)
	var vc *corecmd.VersionConflictError
	require.ErrorAs(t, err, &vc)
}

func TestAddBatch_PartialFailure(t *testing.T) {
	h, _, _ := newTestHandler(t, config.ModeStrictUpdate)
	ctx := context.Background()

	cmds := []*corecmd.AddCmd{
		{Doc: &corecmd.Doc{ID: "a"}, ID: "a", IndexedID: idTerm("a"), RequestedVersion: 1, IsLeaderLogic: true}, // fails: doesn't exist
		{Doc: &corecmd.Doc{ID: "b"}, ID: "b", IndexedID: idTerm("b"), RequestedVersion: -1, IsLeaderLogic: true}, // also fails: strict-update has no insert form
	}
	partial := h.AddBatch(ctx, cmds)
	require.NotNil(t, partial)
	require.Equal(t, 2, partial.Total)
	require.Len(t, partial.Errors, 2)
}

func TestDeleteByQuery_MatchAllWipesIndex(t *testing.T) {
	h, mw, log := newTestHandler(t, config.ModeClassic)
	ctx := context.Background()

	require.NoError(t, h.Add(ctx, &corecmd.AddCmd{
		Doc: &corecmd.Doc{ID: "doc1", Term: idTerm("doc1")}, ID: "doc1", IndexedID: idTerm("doc1"), IsLeaderLogic: true,
	}))
	require.Equal(t, 1, mw.Len())

	recordsBefore := len(log.AllRecords())

	err := h.DeleteByQuery(ctx, &corecmd.DeleteCmd{Query: "*:*", RequestedVersion: matchAllVersion})
	require.NoError(t, err)
	require.Equal(t, 0, mw.Len())
	require.Equal(t, recordsBefore, len(log.AllRecords()), "match-all DBQ must not write a journal entry")
}

func TestCommit_ResetsDocsPendingAndHasNoUncommittedChanges(t *testing.T) {
	h, mw, _ := newTestHandler(t, config.ModeClassic)
	ctx := context.Background()

	require.NoError(t, h.Add(ctx, &corecmd.AddCmd{
		Doc: &corecmd.Doc{ID: "doc1", Term: idTerm("doc1")}, ID: "doc1", IndexedID: idTerm("doc1"), IsLeaderLogic: true,
	}))
	require.True(t, mw.HasUncommittedChanges())
	require.Equal(t, 1, h.hard.PendingCount())

	require.NoError(t, h.CommitCmd(ctx, &corecmd.CommitCmd{}))
	require.False(t, mw.HasUncommittedChanges())
	require.Equal(t, 0, h.hard.PendingCount())
}

func TestCommit_PrepareCommitSkipsSearcherReopenAndPendingReset(t *testing.T) {
	h, _, _ := newTestHandler(t, config.ModeClassic)
	ctx := context.Background()

	require.NoError(t, h.Add(ctx, &corecmd.AddCmd{
		Doc: &corecmd.Doc{ID: "doc1", Term: idTerm("doc1")}, ID: "doc1", IndexedID: idTerm("doc1"), IsLeaderLogic: true,
	}))
	pendingBefore := h.hard.PendingCount()

	require.NoError(t, h.CommitCmd(ctx, &corecmd.CommitCmd{PrepareCommit: true}))
	require.Equal(t, pendingBefore, h.hard.PendingCount())
}

func TestRollback_RejectedWhenClusterAware(t *testing.T) {
	h, mw, _ := newTestHandler(t, config.ModeClassic)
	h.clusterAware = true
	ctx := context.Background()

	_ = mw
	err := h.Rollback(ctx, &corecmd.RollbackCmd{})
	require.Error(t, err)
	require.Equal(t, corecmd.KindWrongUsage, corecmd.ClassifyError(err))
}

func TestRollback_ResetsPendingWithoutCommitting(t *testing.T) {
	h, mw, _ := newTestHandler(t, config.ModeClassic)
	ctx := context.Background()

	require.NoError(t, h.Add(ctx, &corecmd.AddCmd{
		Doc: &corecmd.Doc{ID: "doc1", Term: idTerm("doc1")}, ID: "doc1", IndexedID: idTerm("doc1"), IsLeaderLogic: true,
	}))

	require.NoError(t, h.Rollback(ctx, &corecmd.RollbackCmd{}))
	require.Equal(t, 0, h.hard.PendingCount())
	require.Equal(t, int64(0), h.hard.Commits())
	require.False(t, mw.HasUncommittedChanges())
}

func TestClose_CommitsOnCloseWhenConfigured(t *testing.T) {
	h, mw, _ := newTestHandler(t, config.ModeClassic)
	ctx := context.Background()

	require.NoError(t, h.Add(ctx, &corecmd.AddCmd{
		Doc: &corecmd.Doc{ID: "doc1", Term: idTerm("doc1")}, ID: "doc1", IndexedID: idTerm("doc1"), IsLeaderLogic: true,
	}))
	require.NoError(t, h.Close(ctx))
	require.False(t, mw.HasUncommittedChanges())
}

func TestSequentialAdds_ReadCurrentThenWriteExactNeverConflicts(t *testing.T) {
	h, _, log := newTestHandler(t, config.ModeVersionHybrid)
	ctx := context.Background()

	require.NoError(t, h.Add(ctx, &corecmd.AddCmd{
		Doc: &corecmd.Doc{ID: "counter", Fields: map[string]any{"n": 0}}, ID: "counter",
		IndexedID: idTerm("counter"), RequestedVersion: -1, IsLeaderLogic: true,
	}))

	const attempts = 20
	successes := 0
	for i := 0; i < attempts; i++ {
		current, found, err := log.LookupVersion(ctx, "counter")
		require.NoError(t, err)
		require.True(t, found)

		err = h.Add(ctx, &corecmd.AddCmd{
			Doc:              &corecmd.Doc{ID: "counter", Fields: map[string]any{"n": i + 1}},
			ID:               "counter",
			IndexedID:        idTerm("counter"),
			RequestedVersion: current,
			IsLeaderLogic:    true,
		})
		if err == nil {
			successes++
		}
	}
	require.Equal(t, attempts, successes, "sequential read-current-then-write-exact should never conflict")
}
