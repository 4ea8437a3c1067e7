package cache

import (
	"context"
	"sync"
)

// lockEntry is one per-key exclusion slot. The channel holds a single token
// while the key is locked, which keeps acquisition cancelable. gen and err
// latch the outcome of a failed fetch so that callers already waiting when
// the failure happened observe the same error instead of fetching again.
type lockEntry struct {
	ch   chan struct{}
	refs int
	gen  uint64
	err  error
}

// lockTable is the per-key lock arena. Entries are created lazily and
// retained as zero-waiter stubs until the table grows past pruneThreshold,
// at which point every idle stub is dropped. A threshold of zero prunes
// eagerly on each release.
type lockTable struct {
	mu             sync.Mutex
	entries        map[string]*lockEntry
	pruneThreshold int
}

func newLockTable(pruneThreshold int) *lockTable {
	return &lockTable{
		entries:        make(map[string]*lockEntry),
		pruneThreshold: pruneThreshold,
	}
}

// acquire blocks until the key's lock is held or ctx is done. Abandoning
// the wait removes this caller from the wait set without disturbing the
// holder. The returned generation identifies the fetch attempt the caller
// queued behind; latchedFailure compares against it.
func (t *lockTable) acquire(ctx context.Context, key string) (*lockEntry, uint64, error) {
	t.mu.Lock()
	e := t.entries[key]
	if e == nil {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		t.entries[key] = e
	}
	e.refs++
	start := e.gen
	t.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return e, start, nil
	case <-ctx.Done():
		t.mu.Lock()
		e.refs--
		t.pruneLocked()
		t.mu.Unlock()
		return nil, 0, ctx.Err()
	}
}

// release drops the lock token and this caller's reference. The token must
// be freed before the reference count is touched so a pruned entry can
// never have a live holder.
func (t *lockTable) release(e *lockEntry) {
	<-e.ch

	t.mu.Lock()
	e.refs--
	t.pruneLocked()
	t.mu.Unlock()
}

// latchFailure records a failed fetch on the entry. Must be called while
// holding the entry's token.
func (t *lockTable) latchFailure(e *lockEntry, err error) {
	t.mu.Lock()
	e.gen++
	e.err = err
	t.mu.Unlock()
}

// clearFailure consumes a latched failure before a fresh fetch attempt.
func (t *lockTable) clearFailure(e *lockEntry) {
	t.mu.Lock()
	e.err = nil
	t.mu.Unlock()
}

// latchedFailure returns the error from a fetch that failed while the
// caller was queued, or nil when the caller should attempt its own fetch.
func (t *lockTable) latchedFailure(e *lockEntry, since uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.gen != since && e.err != nil {
		return e.err
	}
	return nil
}

// pruneLocked drops idle entries once the table outgrows the threshold.
// Callers must hold t.mu.
func (t *lockTable) pruneLocked() {
	if len(t.entries) <= t.pruneThreshold {
		return
	}
	for key, e := range t.entries {
		if e.refs == 0 {
			delete(t.entries, key)
		}
	}
}

// size reports the number of live lock entries, idle stubs included.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
