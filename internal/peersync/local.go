package peersync

import (
	"context"

	"github.com/shardcore/updatecore/internal/corecmd"
	"github.com/shardcore/updatecore/internal/fingerprint"
	"github.com/shardcore/updatecore/internal/updatelog"
)

// ReplayHandler is the subset of updatehandler.Handler that replay
// needs, kept narrow so this package doesn't import updatehandler and
// create a cycle (updatehandler has no reason to import peersync).
type ReplayHandler interface {
	Add(ctx context.Context, cmd *corecmd.AddCmd) error
	Delete(ctx context.Context, cmd *corecmd.DeleteCmd) error
	DeleteByQuery(ctx context.Context, cmd *corecmd.DeleteCmd) error
}

// HandlerLocalView adapts a fingerprint.Generator, an updatelog.UpdateLog,
// and a ReplayHandler into the LocalView Sync needs.
type HandlerLocalView struct {
	FP      fingerprint.Generator
	Log     updatelog.UpdateLog
	Handler ReplayHandler
}

func (v *HandlerLocalView) Fingerprint(ctx context.Context, maxVersion int64) (fingerprint.Fingerprint, error) {
	return v.FP.Compute(ctx, maxVersion)
}

func (v *HandlerLocalView) RecentVersions(ctx context.Context, n int) ([]int64, error) {
	it, err := v.Log.GetRecentUpdates(ctx, n)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []int64
	for {
		rec, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, rec.Version)
	}
	return out, nil
}

// Replay applies one record from a peer through the local Update
// Handler with PEER_SYNC|IGNORE_AUTOCOMMIT flags and leaderLogic=false
// (spec.md §4.D "Replay"): the version and existence checks a leader
// would run are skipped entirely, since the record already carries an
// assigned version from whichever replica originated it.
func (v *HandlerLocalView) Replay(ctx context.Context, rec updatelog.Record) error {
	flags := corecmd.FlagPeerSync | corecmd.FlagIgnoreAutoCommit
	term := corecmd.Term{Field: "id", Value: rec.ID}

	switch rec.Op {
	case updatelog.OpAdd, updatelog.OpUpdateInPlace:
		return v.Handler.Add(ctx, &corecmd.AddCmd{
			Doc:             rec.Doc,
			ID:              rec.ID,
			IndexedID:       term,
			Version:         rec.Version,
			IsInPlaceUpdate: rec.Op == updatelog.OpUpdateInPlace,
			IsLeaderLogic:   false,
			Flags:           flags,
		})
	case updatelog.OpDelete:
		return v.Handler.Delete(ctx, &corecmd.DeleteCmd{
			ID:            rec.ID,
			IndexedID:     term,
			Version:       rec.AbsVersion(),
			IsLeaderLogic: false,
			Flags:         flags,
		})
	case updatelog.OpDeleteByQuery:
		return v.Handler.DeleteByQuery(ctx, &corecmd.DeleteCmd{
			Query:         rec.Query,
			Version:       rec.AbsVersion(),
			IsLeaderLogic: false,
			Flags:         flags,
		})
	default:
		return nil
	}
}
