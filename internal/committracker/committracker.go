// Package committracker implements the auto-commit scheduler described
// in spec.md §4.A: one instance tracks hard commits, a second tracks
// soft commits, each rearming a single timer rather than spawning one
// per pending document. Grounded on the single-timer rearm pattern the
// teacher uses for cache TTL expiry (pkg/history/cache/l1_cache.go) and
// the worker-lifecycle shape of internal/core/processing/async_processor.go.
package committracker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Config mirrors spec.md §4.A: -1 disables either bound.
type Config struct {
	DocsUpperBound       int
	TimeUpperBound       time.Duration
	OpenSearcherOnCommit bool
	IsSoft               bool
}

// Committer performs the actual commit when the tracker fires.
type Committer interface {
	// Commit executes a commit with the tracker's configured strength
	// (soft vs hard, open-searcher-or-not). Errors are logged, not
	// returned to the scheduler — spec.md makes auto-commit fire-and-forget.
	Commit(ctx context.Context, soft, openSearcher bool) error
}

// Tracker schedules and fires auto-commits. One Tracker instance is
// "hard", another is "soft"; they never share state (spec.md invariant 4:
// soft and hard commits never overlap, enforced by the Update Handler's
// locks, not by this type).
type Tracker struct {
	cfg      Config
	commit   Committer
	logger   *slog.Logger

	mu            sync.Mutex
	pending       int
	commits       int64
	timer         *time.Timer
	deadline      time.Time
	scheduled     bool
	closed        bool
}

// New creates a Tracker. commit is invoked (on its own goroutine) when
// a scheduled deadline elapses.
func New(cfg Config, commit Committer, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{cfg: cfg, commit: commit, logger: logger}
}

// PendingCount returns the number of adds/deletes since the last commit/rollback.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// AddedDocument records a pending add and schedules a commit per spec.md §4.A.
func (t *Tracker) AddedDocument(commitWithin time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending++
	t.noteActivityLocked(commitWithin)
}

// DeletedDocument records a pending delete; symmetric to AddedDocument.
func (t *Tracker) DeletedDocument(commitWithin time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending++
	t.noteActivityLocked(commitWithin)
}

func (t *Tracker) noteActivityLocked(commitWithin time.Duration) {
	if t.closed {
		return
	}

	if t.cfg.DocsUpperBound > 0 && t.pending >= t.cfg.DocsUpperBound {
		t.scheduleLocked(0)
		return
	}

	if commitWithin > 0 {
		t.scheduleLocked(commitWithin)
		return
	}

	if !t.scheduled && t.cfg.TimeUpperBound > 0 {
		t.scheduleLocked(t.cfg.TimeUpperBound)
	}
}

// ScheduleCommitWithin schedules a commit at now+delay. Idempotent: an
// earlier deadline always wins over a later one (spec.md §4.A).
func (t *Tracker) ScheduleCommitWithin(delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scheduleLocked(delay)
}

func (t *Tracker) scheduleLocked(delay time.Duration) {
	deadline := time.Now().Add(delay)
	if t.scheduled && !deadline.Before(t.deadline) {
		return // later-or-equal schedule is a no-op; earlier wins
	}

	if t.timer != nil {
		t.timer.Stop()
	}

	t.deadline = deadline
	t.scheduled = true
	t.timer = time.AfterFunc(delay, t.fire)
}

func (t *Tracker) fire() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.scheduled = false
	t.mu.Unlock()

	ctx := context.Background()
	if err := t.commit.Commit(ctx, t.cfg.IsSoft, t.cfg.OpenSearcherOnCommit); err != nil {
		t.logger.Error("auto-commit failed", "soft", t.cfg.IsSoft, "error", err)
	}
}

// CancelPendingCommit cancels any scheduled future commit without firing it.
func (t *Tracker) CancelPendingCommit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

func (t *Tracker) cancelLocked() {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.scheduled = false
}

// DidCommit resets the pending count and bumps the commit counter. Call
// after a successful hard (or, for the soft tracker, soft) commit.
func (t *Tracker) DidCommit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = 0
	t.commits++
	t.cancelLocked()
}

// DidRollback resets the pending count without counting a commit.
func (t *Tracker) DidRollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = 0
	t.cancelLocked()
}

// Scheduled reports whether a future commit is currently armed.
func (t *Tracker) Scheduled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scheduled
}

// Close stops the timer permanently; no further commits will be scheduled.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.cancelLocked()
}

// Commits returns the cumulative commit counter, for the "commits"/"softCommits" meter.
func (t *Tracker) Commits() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commits
}
