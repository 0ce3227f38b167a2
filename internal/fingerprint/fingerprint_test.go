package fingerprint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardcore/updatecore/internal/updatelog"
)

func TestLogGenerator_Compute_IgnoresDocsDeletedAfterAStaleAdd(t *testing.T) {
	log, err := updatelog.NewMemLog(100, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, log.Add(ctx, updatelog.Record{Op: updatelog.OpAdd, Version: 1, ID: "doc-1"}, false))
	require.NoError(t, log.Delete(ctx, updatelog.Record{Op: updatelog.OpDelete, Version: -2, ID: "doc-1"}))

	gen := NewLogGenerator(log)
	withoutDoc1, err := gen.Compute(ctx, 0)
	require.NoError(t, err)

	require.NoError(t, log.Add(ctx, updatelog.Record{Op: updatelog.OpAdd, Version: 3, ID: "doc-2"}, false))
	withDoc2, err := gen.Compute(ctx, 0)
	require.NoError(t, err)

	require.NotEqual(t, withoutDoc1.Digest, withDoc2.Digest)
	require.Equal(t, int64(1), withDoc2.NumVersions, "doc-1 stays deleted even though its add is newer |version| than nothing else for it")
}

func TestLogGenerator_Compute_CeilingExcludesLaterVersions(t *testing.T) {
	log, err := updatelog.NewMemLog(100, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, log.Add(ctx, updatelog.Record{Op: updatelog.OpAdd, Version: 1, ID: "doc-1"}, false))
	require.NoError(t, log.Add(ctx, updatelog.Record{Op: updatelog.OpAdd, Version: 2, ID: "doc-2"}, false))

	gen := NewLogGenerator(log)
	fp, err := gen.Compute(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), fp.NumVersions)
}

func TestFingerprint_Equals_RequiresMatchingCeiling(t *testing.T) {
	a := Fingerprint{MaxVersion: 10, Digest: "x"}
	b := Fingerprint{MaxVersion: 20, Digest: "x"}
	require.False(t, a.Equals(b))
	require.True(t, a.Equals(Fingerprint{MaxVersion: 10, Digest: "x"}))
}
