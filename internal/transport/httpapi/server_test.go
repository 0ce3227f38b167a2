package httpapi

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardcore/updatecore/internal/corecmd"
	"github.com/shardcore/updatecore/internal/fingerprint"
	"github.com/shardcore/updatecore/internal/peersync"
	"github.com/shardcore/updatecore/internal/updatelog"
)

func newTestServer(t *testing.T, canHandleRanges bool, active func() bool) (*Server, *updatelog.MemLog) {
	t.Helper()
	log, err := updatelog.NewMemLog(1000, nil)
	require.NoError(t, err)
	fp := fingerprint.NewLogGenerator(log)
	return NewServer(log, fp, canHandleRanges, active), log
}

func seedAdd(t *testing.T, log *updatelog.MemLog, id string, version int64) {
	t.Helper()
	rec := updatelog.Record{
		Op:        updatelog.OpAdd,
		Version:   version,
		ID:        id,
		IndexedID: []byte(id),
		Doc:       &corecmd.Doc{ID: id, Fields: map[string]any{"id": id}},
	}
	require.NoError(t, log.Add(context.Background(), rec, false))
}

func TestHandleGetVersions_ReturnsRecentVersionsDescending(t *testing.T) {
	s, log := newTestServer(t, true, nil)
	seedAdd(t, log, "a", 100)
	seedAdd(t, log, "b", 110)
	seedAdd(t, log, "c", 120)

	req := httptest.NewRequest("GET", "/get?qt=/get&distrib=false&getVersions=10", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	var resp peersync.VersionsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, []int64{120, 110, 100}, resp.Versions)
	require.True(t, resp.CanHandleVersionRanges)
	require.Nil(t, resp.Fingerprint)
}

func TestHandleGetVersions_WithFingerprintAttaches(t *testing.T) {
	s, log := newTestServer(t, false, nil)
	seedAdd(t, log, "a", 100)

	req := httptest.NewRequest("GET", "/get?getVersions=10&fingerprint=true", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	var resp peersync.VersionsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Fingerprint)
}

func TestHandleGetFingerprint(t *testing.T) {
	s, log := newTestServer(t, true, nil)
	seedAdd(t, log, "a", 100)
	seedAdd(t, log, "b", 200)

	req := httptest.NewRequest("GET", "/get?getFingerprint=150", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	var fp fingerprint.Fingerprint
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fp))
	require.Equal(t, int64(150), fp.MaxVersion)
	require.Equal(t, int64(1), fp.NumVersions)
}

func TestHandleCheckCanHandleVersionRanges(t *testing.T) {
	s, _ := newTestServer(t, true, nil)

	req := httptest.NewRequest("GET", "/get?checkCanHandleVersionRanges=true", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	var body map[string]bool
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.True(t, body["canHandleVersionRanges"])
}

func TestHandleGetUpdates_RangeSpec(t *testing.T) {
	s, log := newTestServer(t, true, nil)
	seedAdd(t, log, "a", 121)
	seedAdd(t, log, "b", 125)
	seedAdd(t, log, "c", 130)
	seedAdd(t, log, "d", 999)

	req := httptest.NewRequest("GET", "/get?getUpdates=121...130", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	var resp peersync.UpdatesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 3)
}

func TestHandleGetUpdates_IndividualCSVSpec(t *testing.T) {
	s, log := newTestServer(t, true, nil)
	seedAdd(t, log, "a", 101)
	seedAdd(t, log, "b", 102)
	seedAdd(t, log, "c", 103)

	req := httptest.NewRequest("GET", "/get?getUpdates=101,103", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	var resp peersync.UpdatesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 2)
}

func TestHandleGet_OnlyIfActiveRejectsWhenInactive(t *testing.T) {
	s, _ := newTestServer(t, true, func() bool { return false })

	req := httptest.NewRequest("GET", "/get?getVersions=10&onlyIfActive=true", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, 503, w.Code)
}

func TestHandleGet_MissingQueryTypeParam(t *testing.T) {
	s, _ := newTestServer(t, true, nil)

	req := httptest.NewRequest("GET", "/get", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, 400, w.Code)
}

func TestParseUpdateSpec_MixedRangesAndSingles(t *testing.T) {
	versions, err := parseUpdateSpec("100,105...107,120")
	require.NoError(t, err)
	require.Equal(t, []int64{100, 105, 106, 107, 120}, versions)
}

func TestParseUpdateSpec_InvalidTokenErrors(t *testing.T) {
	_, err := parseUpdateSpec("not-a-number")
	require.Error(t, err)
}
