// Package httpapi implements the peer-sync wire API: a single "/get"
// endpoint answering the query-string parameters spec.md §6 names
// (qt, distrib, getVersions, getFingerprint, getUpdates, fingerprint,
// checkCanHandleVersionRanges, onlyIfActive, peersync). Routed with
// gorilla/mux and logged through the same middleware the rest of the
// pack uses for its HTTP surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/shardcore/updatecore/internal/fingerprint"
	"github.com/shardcore/updatecore/internal/logging"
	"github.com/shardcore/updatecore/internal/peersync"
	"github.com/shardcore/updatecore/internal/updatelog"
)

// RecentVersionsSource answers getVersions/getUpdates by scanning the
// local log; kept as a narrow interface so the server doesn't need the
// whole updatehandler.Handler.
type RecentVersionsSource interface {
	GetRecentUpdates(ctx context.Context, n int) (updatelog.RecentUpdatesIterator, error)
}

// Server answers peer-sync RPCs over HTTP.
type Server struct {
	log                    RecentVersionsSource
	fp                     fingerprint.Generator
	canHandleVersionRanges bool
	isActive               func() bool
}

// NewServer builds a Server. isActive reports whether this replica is
// currently eligible to serve peer-sync RPCs (the "onlyIfActive" gate);
// pass nil to always answer.
func NewServer(log RecentVersionsSource, fp fingerprint.Generator, canHandleVersionRanges bool, isActive func() bool) *Server {
	return &Server{log: log, fp: fp, canHandleVersionRanges: canHandleVersionRanges, isActive: isActive}
}

// Router builds the mux.Router exposing /get, wrapped in the shared
// request-logging middleware from internal/logging.
func (s *Server) Router(logger *slog.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(logging.Middleware(logger))
	r.HandleFunc("/get", s.handleGet).Methods(http.MethodGet)
	return r
}

// Handler returns the bare /get handler with no logging middleware, for
// callers that want to compose their own middleware chain or for tests.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/get", s.handleGet).Methods(http.MethodGet)
	return r
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if q.Get("onlyIfActive") == "true" && s.isActive != nil && !s.isActive() {
		http.Error(w, "replica not active", http.StatusServiceUnavailable)
		return
	}

	switch {
	case q.Has("getFingerprint"):
		s.handleGetFingerprint(ctx, w, q)
	case q.Has("checkCanHandleVersionRanges"):
		s.handleCheckRanges(w)
	case q.Has("getUpdates"):
		s.handleGetUpdates(ctx, w, q)
	case q.Has("getVersions"):
		s.handleGetVersions(ctx, w, q)
	default:
		http.Error(w, "missing qt-specific parameter", http.StatusBadRequest)
	}
}

func (s *Server) handleGetFingerprint(ctx context.Context, w http.ResponseWriter, q map[string][]string) {
	maxVersion, err := strconv.ParseInt(first(q, "getFingerprint"), 10, 64)
	if err != nil {
		http.Error(w, "invalid getFingerprint", http.StatusBadRequest)
		return
	}
	fp, err := s.fp.Compute(ctx, maxVersion)
	if err != nil {
		http.Error(w, "compute fingerprint: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, fp)
}

func (s *Server) handleCheckRanges(w http.ResponseWriter) {
	writeJSON(w, map[string]bool{"canHandleVersionRanges": s.canHandleVersionRanges})
}

func (s *Server) handleGetVersions(ctx context.Context, w http.ResponseWriter, q map[string][]string) {
	n, err := strconv.Atoi(first(q, "getVersions"))
	if err != nil {
		http.Error(w, "invalid getVersions", http.StatusBadRequest)
		return
	}

	it, err := s.log.GetRecentUpdates(ctx, n)
	if err != nil {
		http.Error(w, "get recent updates: "+err.Error(), http.StatusInternalServerError)
		return
	}
	defer it.Close()

	var versions []int64
	for {
		rec, ok, err := it.Next()
		if err != nil {
			http.Error(w, "iterate updates: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if !ok {
			break
		}
		versions = append(versions, rec.Version)
	}

	resp := peersync.VersionsResponse{Versions: versions, CanHandleVersionRanges: s.canHandleVersionRanges}
	if len(q["fingerprint"]) > 0 && q["fingerprint"][0] == "true" && len(versions) > 0 {
		fp, err := s.fp.Compute(ctx, abs64(versions[0]))
		if err == nil {
			resp.Fingerprint = &fp
		}
	}
	writeJSON(w, resp)
}

func (s *Server) handleGetUpdates(ctx context.Context, w http.ResponseWriter, q map[string][]string) {
	spec := first(q, "getUpdates")
	versions, err := parseUpdateSpec(spec)
	if err != nil {
		http.Error(w, "invalid getUpdates: "+err.Error(), http.StatusBadRequest)
		return
	}

	want := make(map[int64]struct{}, len(versions))
	for _, v := range versions {
		want[v] = struct{}{}
	}

	it, err := s.log.GetRecentUpdates(ctx, -1)
	if err != nil {
		http.Error(w, "get recent updates: "+err.Error(), http.StatusInternalServerError)
		return
	}
	defer it.Close()

	var records []peersync.WireRecord
	for {
		rec, ok, err := it.Next()
		if err != nil {
			http.Error(w, "iterate updates: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if !ok {
			break
		}
		if _, ok := want[abs64(rec.Version)]; ok {
			records = append(records, peersync.FromRecord(rec))
		}
	}

	resp := peersync.UpdatesResponse{Records: records}
	if len(q["fingerprint"]) > 0 && q["fingerprint"][0] == "true" && len(versions) > 0 {
		max := versions[0]
		for _, v := range versions {
			if v > max {
				max = v
			}
		}
		fp, err := s.fp.Compute(ctx, max)
		if err == nil {
			resp.Fingerprint = &fp
		}
	}
	writeJSON(w, resp)
}

// parseUpdateSpec parses a comma-separated list of versions and/or
// "lo...hi" ranges into the expanded list of individual versions.
func parseUpdateSpec(spec string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.Index(part, "..."); idx >= 0 {
			lo, err := strconv.ParseInt(part[:idx], 10, 64)
			if err != nil {
				return nil, err
			}
			hi, err := strconv.ParseInt(part[idx+3:], 10, 64)
			if err != nil {
				return nil, err
			}
			for v := lo; v <= hi; v++ {
				out = append(out, v)
			}
			continue
		}
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func first(q map[string][]string, key string) string {
	if vs, ok := q[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
