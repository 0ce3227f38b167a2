package peersync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardcore/updatecore/internal/fingerprint"
	"github.com/shardcore/updatecore/internal/updatelog"
)

type fakePeerClient struct {
	addr                   string
	fingerprint            fingerprint.Fingerprint
	fingerprintErr         error
	versions               VersionsResponse
	versionsErr            error
	canHandleRanges        bool
	updates                UpdatesResponse
	updatesErr             error
	gotUpdateSpec          string
}

func (c *fakePeerClient) Addr() string { return c.addr }
func (c *fakePeerClient) GetFingerprint(ctx context.Context, maxVersion int64) (fingerprint.Fingerprint, error) {
	// Like a real peer, report the fingerprint at the requested ceiling.
	fp := c.fingerprint
	fp.MaxVersion = maxVersion
	return fp, c.fingerprintErr
}
func (c *fakePeerClient) GetVersions(ctx context.Context, n int, withFingerprint bool) (VersionsResponse, error) {
	return c.versions, c.versionsErr
}
func (c *fakePeerClient) CheckCanHandleVersionRanges(ctx context.Context) (bool, error) {
	return c.canHandleRanges, nil
}
func (c *fakePeerClient) GetUpdates(ctx context.Context, spec string, withFingerprint bool) (UpdatesResponse, error) {
	c.gotUpdateSpec = spec
	return c.updates, c.updatesErr
}

type fakeLocalView struct {
	fp       fingerprint.Fingerprint
	fpErr    error
	recent   []int64
	replayed []updatelog.Record
}

func (v *fakeLocalView) Fingerprint(ctx context.Context, maxVersion int64) (fingerprint.Fingerprint, error) {
	return v.fp, v.fpErr
}
func (v *fakeLocalView) RecentVersions(ctx context.Context, n int) ([]int64, error) {
	return v.recent, nil
}
func (v *fakeLocalView) Replay(ctx context.Context, rec updatelog.Record) error {
	v.replayed = append(v.replayed, rec)
	return nil
}

func TestSync_AlreadyInSyncShortCircuitsOnMatchingFingerprint(t *testing.T) {
	fp := fingerprint.Fingerprint{MaxVersion: 9223372036854775807, Digest: "same", NumVersions: 3}
	local := &fakeLocalView{fp: fp, recent: []int64{100, 110, 120}}
	peer := &fakePeerClient{addr: "peer-1", fingerprint: fp}

	e := NewEngine(Config{DoFingerprint: true, NUpdates: 100}, local, nil, nil)
	result, err := e.Sync(context.Background(), []PeerClient{peer}, nil)

	require.NoError(t, err)
	require.True(t, result.Success)
	require.Empty(t, peer.gotUpdateSpec, "already-in-sync shortcut must not request updates")
}

func TestSync_RangeMode_RequestsExactlyOneRangeAndConverges(t *testing.T) {
	// Our versions 100..120, peer versions 110..130: expect range 121...130.
	ourVersions := rangeVersions(100, 120)
	peerVersions := rangeVersions(110, 130)

	local := &fakeLocalView{
		fp:     fingerprint.Fingerprint{MaxVersion: 130, Digest: "converged"},
		recent: ourVersions,
	}
	peer := &fakePeerClient{
		addr: "peer-1",
		versions: VersionsResponse{
			Versions:               peerVersions,
			CanHandleVersionRanges: true,
		},
		canHandleRanges: true,
		updates: UpdatesResponse{
			Records: wireRecordsForRange(121, 130),
		},
		fingerprint: fingerprint.Fingerprint{MaxVersion: 130, Digest: "converged"},
	}

	e := NewEngine(Config{
		NUpdates:         100,
		DoFingerprint:    true,
		UseRangeVersions: true,
	}, local, nil, nil)

	result, err := e.Sync(context.Background(), []PeerClient{peer}, nil)

	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "121...130", peer.gotUpdateSpec)
	require.Len(t, local.replayed, 10)
}

func TestSync_IndividualMode_WhenPeerCannotHandleRanges(t *testing.T) {
	local := &fakeLocalView{
		fp:     fingerprint.Fingerprint{MaxVersion: 103, Digest: "x"},
		recent: []int64{100, 101, 102},
	}
	peer := &fakePeerClient{
		addr:            "peer-1",
		versions:        VersionsResponse{Versions: []int64{100, 101, 102, 103}, CanHandleVersionRanges: false},
		canHandleRanges: false,
		updates: UpdatesResponse{Records: []WireRecord{
			{Op: int(updatelog.OpAdd), Version: 103, ID: "doc-103"},
		}},
		fingerprint: fingerprint.Fingerprint{MaxVersion: 103, Digest: "x"},
	}

	e := NewEngine(Config{NUpdates: 100, DoFingerprint: true, UseRangeVersions: true}, local, nil, nil)
	result, err := e.Sync(context.Background(), []PeerClient{peer}, nil)

	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "103", peer.gotUpdateSpec)
}

func TestSync_PeerTooFarAhead_ReturnsFailure(t *testing.T) {
	local := &fakeLocalView{recent: []int64{1, 2, 3}}
	peer := &fakePeerClient{
		addr:     "peer-1",
		versions: VersionsResponse{Versions: rangeVersions(5000, 5010)},
	}

	e := NewEngine(Config{NUpdates: 100}, local, nil, nil)
	result, err := e.Sync(context.Background(), []PeerClient{peer}, nil)

	require.NoError(t, err)
	require.False(t, result.Success)
}

func TestSync_TransportErrorCountedAsSuccessWhenConfigured(t *testing.T) {
	local := &fakeLocalView{recent: []int64{100, 101}}
	peer := &fakePeerClient{
		addr:        "peer-1",
		versionsErr: &TransportError{Peer: "peer-1", Class: ErrConnectRefused, Cause: errFakeConnRefused},
	}

	e := NewEngine(Config{NUpdates: 100, CantReachIsSuccess: true}, local, nil, nil)
	result, err := e.Sync(context.Background(), []PeerClient{peer}, nil)

	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestSync_TransportErrorPropagatesWhenNotConfigured(t *testing.T) {
	local := &fakeLocalView{recent: []int64{100, 101}}
	peer := &fakePeerClient{
		addr:        "peer-1",
		versionsErr: &TransportError{Peer: "peer-1", Class: ErrConnectRefused, Cause: errFakeConnRefused},
	}

	e := NewEngine(Config{NUpdates: 100, CantReachIsSuccess: false}, local, nil, nil)
	_, err := e.Sync(context.Background(), []PeerClient{peer}, nil)

	require.Error(t, err)
}

func TestSelectRanges_ContiguousMissingSegment(t *testing.T) {
	peerDesc := reverseCopy(rangeVersions(110, 130))
	ourDesc := reverseCopy(rangeVersions(100, 120))
	sortDesc(peerDesc)
	sortDesc(ourDesc)

	spec := selectRanges(peerDesc, ourDesc, percentile(ourDesc, 0.8), 0)
	require.Equal(t, "121...130", spec)
}

func TestSelectIndividual_OnlyMissingAboveThreshold(t *testing.T) {
	peerDesc := []int64{103, 102, 101, 50}
	ourDesc := []int64{101, 100}

	spec := selectIndividual(peerDesc, ourDesc, 60, 0)
	require.Equal(t, "103,102", spec)
}

func TestEngineReplay_DedupesConsecutiveIdenticalVersions(t *testing.T) {
	local := &fakeLocalView{}
	e := NewEngine(Config{}, local, nil, nil)

	err := e.replay(context.Background(), []WireRecord{
		{Op: int(updatelog.OpAdd), Version: 100, ID: "a"},
		{Op: int(updatelog.OpAdd), Version: 100, ID: "a"},
		{Op: int(updatelog.OpAdd), Version: 101, ID: "b"},
	})

	require.NoError(t, err)
	require.Len(t, local.replayed, 2)
}

var errFakeConnRefused = &fakeErr{"connection refused"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

func rangeVersions(lo, hi int64) []int64 {
	out := make([]int64, 0, hi-lo+1)
	for v := lo; v <= hi; v++ {
		out = append(out, v)
	}
	return out
}

func reverseCopy(in []int64) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}

func wireRecordsForRange(lo, hi int64) []WireRecord {
	var out []WireRecord
	for v := lo; v <= hi; v++ {
		out = append(out, WireRecord{Op: int(updatelog.OpAdd), Version: v, ID: "doc"})
	}
	return out
}
