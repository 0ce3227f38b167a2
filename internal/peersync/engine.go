package peersync

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shardcore/updatecore/internal/metrics"
)

// Engine drives the Peer Sync algorithm against a fixed (or
// dynamically discovered, via discovery.Source) set of peers.
type Engine struct {
	cfg     Config
	local   LocalView
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewEngine builds an Engine.
func NewEngine(cfg Config, local LocalView, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, local: local, metrics: m, logger: logger}
}

type peerResponse struct {
	client   PeerClient
	versions VersionsResponse
	err      error
}

// Sync runs one recovery pass against peers, per spec.md §4.D.
func (e *Engine) Sync(ctx context.Context, peers []PeerClient, startingVersions []int64) (Result, error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.PeerSyncTime.Observe(time.Since(start).Seconds())
		}
	}()

	if len(peers) == 0 {
		return Result{Success: true}, nil
	}

	if e.cfg.DoFingerprint && !e.cfg.DisableFingerprint {
		if inSync, err := e.alreadyInSync(ctx, peers); err == nil && inSync {
			return Result{Success: true}, nil
		}
	}

	responses := e.fetchVersionsConcurrently(ctx, peers)

	ourVersions, err := e.local.RecentVersions(ctx, e.cfg.NUpdates)
	if err != nil {
		e.countError()
		return Result{}, fmt.Errorf("load local recent versions: %w", err)
	}
	sortDesc(ourVersions)

	if len(ourVersions) == 0 {
		for _, r := range responses {
			if r.err == nil && len(r.versions.Versions) > 0 {
				return Result{Success: false, OtherHasVersions: true}, nil
			}
		}
		return Result{Success: false}, nil
	}

	if len(startingVersions) > 0 {
		sortDesc(startingVersions)
		oldestNew := ourVersions[len(ourVersions)-1]
		newestStarting := startingVersions[0]
		if !(abs64(oldestNew) < abs64(newestStarting)) {
			e.countError()
			return Result{}, fmt.Errorf("too many updates since start: oldest new %d not older than newest starting %d", oldestNew, newestStarting)
		}
		for _, v := range startingVersions {
			if abs64(v) < abs64(oldestNew) {
				ourVersions = append(ourVersions, v)
			}
		}
		sortDesc(ourVersions)
	}

	ourLowThreshold := percentile(ourVersions, 0.8)
	ourHighThreshold := percentile(ourVersions, 0.2)

	type pendingFingerprintCheck struct {
		client PeerClient
		maxVer int64
	}
	var deferredChecks []pendingFingerprintCheck

	for _, r := range responses {
		if r.err != nil {
			if te, ok := r.err.(*TransportError); ok && e.cfg.CantReachIsSuccess && te.IsCountableAsSuccess() {
				continue
			}
			e.countError()
			return Result{}, fmt.Errorf("peer %s versions request failed: %w", r.client.Addr(), r.err)
		}

		if len(r.versions.Versions) == 0 {
			if e.cfg.GetNoVersionsIsSuccess {
				continue
			}
			e.countError()
			return Result{}, fmt.Errorf("peer %s returned no versions", r.client.Addr())
		}

		peerVersions := append([]int64(nil), r.versions.Versions...)
		sortDesc(peerVersions)
		otherHigh := percentile(peerVersions, 0.2)
		otherLow := percentile(peerVersions, 0.8)

		if ourHighThreshold < otherLow {
			return Result{Success: false}, nil
		}
		if ourLowThreshold > otherHigh {
			// peer is behind us; nothing to request from it.
			continue
		}

		var spec string
		if e.cfg.UseRangeVersions && r.versions.CanHandleVersionRanges {
			spec = selectRanges(peerVersions, ourVersions, ourLowThreshold, e.cfg.MaxUpdates)
		} else {
			spec = selectIndividual(peerVersions, ourVersions, ourLowThreshold, e.cfg.MaxUpdates)
		}

		if spec == "" {
			if e.cfg.DoFingerprint {
				deferredChecks = append(deferredChecks, pendingFingerprintCheck{client: r.client, maxVer: abs64(peerVersions[0])})
			}
			continue
		}

		updates, err := r.client.GetUpdates(ctx, spec, e.cfg.DoFingerprint)
		if err != nil {
			e.countError()
			return Result{}, fmt.Errorf("peer %s getUpdates failed: %w", r.client.Addr(), err)
		}

		if err := e.replay(ctx, updates.Records); err != nil {
			e.countError()
			return Result{}, fmt.Errorf("replay updates from %s: %w", r.client.Addr(), err)
		}

		if e.cfg.DoFingerprint {
			deferredChecks = append(deferredChecks, pendingFingerprintCheck{client: r.client, maxVer: abs64(peerVersions[0])})
		}
	}

	for _, chk := range deferredChecks {
		ourFp, err := e.local.Fingerprint(ctx, chk.maxVer)
		if err != nil {
			e.countError()
			return Result{}, fmt.Errorf("compute local fingerprint for peer %s: %w", chk.client.Addr(), err)
		}
		peerFp, err := chk.client.GetFingerprint(ctx, chk.maxVer)
		if err != nil {
			e.countError()
			return Result{}, fmt.Errorf("fetch fingerprint from %s: %w", chk.client.Addr(), err)
		}
		if !ourFp.Equals(peerFp) {
			return Result{Success: false}, nil
		}
	}

	return Result{Success: true}, nil
}

func (e *Engine) alreadyInSync(ctx context.Context, peers []PeerClient) (bool, error) {
	ourFp, err := e.local.Fingerprint(ctx, math.MaxInt64)
	if err != nil {
		return false, err
	}
	for _, p := range peers {
		peerFp, err := p.GetFingerprint(ctx, math.MaxInt64)
		if err != nil {
			continue
		}
		if ourFp.Equals(peerFp) {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) fetchVersionsConcurrently(ctx context.Context, peers []PeerClient) []peerResponse {
	out := make([]peerResponse, len(peers))
	var wg sync.WaitGroup
	for i, p := range peers {
		wg.Add(1)
		go func(i int, p PeerClient) {
			defer wg.Done()
			v, err := p.GetVersions(ctx, e.cfg.NUpdates, e.cfg.DoFingerprint)
			out[i] = peerResponse{client: p, versions: v, err: err}
		}(i, p)
	}
	wg.Wait()
	return out
}

func (e *Engine) replay(ctx context.Context, wire []WireRecord) error {
	sorted := append([]WireRecord(nil), wire...)
	sort.Slice(sorted, func(i, j int) bool { return abs64(sorted[i].Version) < abs64(sorted[j].Version) })

	var lastVersion int64
	haveLast := false
	for _, w := range sorted {
		if haveLast && w.Version != 0 && w.Version == lastVersion {
			continue // dedupe consecutive identical non-zero versions
		}
		if err := e.local.Replay(ctx, w.ToRecord()); err != nil {
			return err
		}
		lastVersion = w.Version
		haveLast = true
	}
	return nil
}

func (e *Engine) countError() {
	if e.metrics != nil {
		e.metrics.PeerSyncErrors.Inc()
	}
}

// selectRanges implements spec.md §4.D "Range mode selection": walk
// both sorted (ascending, by |v|) lists from the oldest end, emitting
// contiguous "lo...hi" ranges of peer versions our replica lacks.
func selectRanges(peerDesc, ourDesc []int64, ourLowThreshold int64, maxUpdates int) string {
	peerAsc := ascendingCopy(peerDesc)
	ourAsc := ascendingCopy(ourDesc)

	var ranges []string
	i, j := 0, 0
	total := 0
	for i < len(peerAsc) {
		pv := peerAsc[i]
		if abs64(pv) < abs64(ourLowThreshold) {
			i++
			continue
		}
		if j < len(ourAsc) && abs64(ourAsc[j]) == abs64(pv) {
			i++
			j++
			continue
		}
		if j < len(ourAsc) && abs64(ourAsc[j]) < abs64(pv) {
			j++
			continue
		}

		lo := pv
		last := pv
		i++
		total++
		for i < len(peerAsc) && (j >= len(ourAsc) || abs64(peerAsc[i]) < abs64(ourAsc[j])) {
			last = peerAsc[i]
			i++
			total++
		}
		ranges = append(ranges, fmt.Sprintf("%d...%d", abs64(lo), abs64(last)))

		if maxUpdates > 0 && total > maxUpdates {
			return ""
		}
	}

	if len(ranges) == 0 {
		return ""
	}
	return strings.Join(ranges, ",")
}

// selectIndividual implements spec.md §4.D "Individual mode": collect
// peer versions above ourLowThreshold that we don't already have.
func selectIndividual(peerDesc, ourDesc []int64, ourLowThreshold int64, maxUpdates int) string {
	have := make(map[int64]struct{}, len(ourDesc))
	for _, v := range ourDesc {
		have[abs64(v)] = struct{}{}
	}

	var missing []string
	count := 0
	for _, pv := range peerDesc {
		if abs64(pv) < abs64(ourLowThreshold) {
			continue
		}
		if _, ok := have[abs64(pv)]; ok {
			continue
		}
		missing = append(missing, strconv.FormatInt(abs64(pv), 10))
		count++
		if maxUpdates > 0 && count > maxUpdates {
			return ""
		}
	}

	if len(missing) == 0 {
		return ""
	}
	return strings.Join(missing, ",")
}

func ascendingCopy(sortedDesc []int64) []int64 {
	out := make([]int64, len(sortedDesc))
	copy(out, sortedDesc)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
