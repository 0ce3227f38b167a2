package updatelog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemLog is an in-memory UpdateLog reference implementation. Production
// deployments use pgstore.Log; MemLog exists for unit tests and for the
// in-process single-node mode. The bounded id->version LRU mirrors the
// L1 cache shape in internal/infrastructure/template/cache.go.
type MemLog struct {
	mu       sync.Mutex
	records  []Record // append-only, ascending |version|
	versions *lru.Cache[string, int64]
	dbqs     []Record // delete-by-query records, ascending |version|
	logger   *slog.Logger
}

// NewMemLog creates an empty log with a bounded id->version lookup cache.
func NewMemLog(recentWindow int, logger *slog.Logger) (*MemLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if recentWindow <= 0 {
		recentWindow = 10000
	}
	cache, err := lru.New[string, int64](recentWindow)
	if err != nil {
		return nil, fmt.Errorf("create version cache: %w", err)
	}
	return &MemLog{versions: cache, logger: logger}, nil
}

func (l *MemLog) Add(ctx context.Context, rec Record, underLock bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	l.versions.Add(rec.ID, rec.AbsVersion())
	return nil
}

func (l *MemLog) Delete(ctx context.Context, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	// A deleted id has no current version: LookupVersion reports it absent.
	l.versions.Remove(rec.ID)
	return nil
}

func (l *MemLog) DeleteByQuery(ctx context.Context, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	l.dbqs = append(l.dbqs, rec)
	return nil
}

func (l *MemLog) LookupVersion(ctx context.Context, id string) (int64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.versions.Get(id)
	return v, ok, nil
}

func (l *MemLog) GetRecentUpdates(ctx context.Context, n int) (RecentUpdatesIterator, error) {
	l.mu.Lock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	l.mu.Unlock()

	sortByAbsVersionDesc(out)
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return &sliceIterator{records: out}, nil
}

func (l *MemLog) GetDBQNewer(ctx context.Context, v int64) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Record
	for _, rec := range l.dbqs {
		if rec.AbsVersion() > v {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (l *MemLog) PreCommit(ctx context.Context) error      { return nil }
func (l *MemLog) PostCommit(ctx context.Context) error     { return nil }
func (l *MemLog) PreSoftCommit(ctx context.Context) error  { return nil }
func (l *MemLog) PostSoftCommit(ctx context.Context) error { return nil }
func (l *MemLog) OpenRealtimeSearcher(ctx context.Context) error { return nil }

func (l *MemLog) TotalSize() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.records)) * 128
}

func (l *MemLog) TotalFiles() int { return 1 }

func (l *MemLog) Close(ctx context.Context) error { return nil }

// AllRecords returns a defensive copy, ascending insertion order (test helper).
func (l *MemLog) AllRecords() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

func sortByAbsVersionDesc(recs []Record) {
	// insertion sort: logs are expected to be near-sorted already since
	// versions are assigned monotonically at append time.
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && recs[j].AbsVersion() > recs[j-1].AbsVersion(); j-- {
			recs[j], recs[j-1] = recs[j-1], recs[j]
		}
	}
}

type sliceIterator struct {
	records []Record
	pos     int
	closed  bool
}

func (it *sliceIterator) Next() (Record, bool, error) {
	if it.pos >= len(it.records) {
		return Record{}, false, nil
	}
	rec := it.records[it.pos]
	it.pos++
	return rec, true, nil
}

func (it *sliceIterator) Close() error {
	it.closed = true
	return nil
}
