package cache

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
)

// Coordinator serializes concurrent fetch attempts per content key and
// orchestrates the fetch, transform, commit, index-update sequence. For any
// key, at most one fetch is in flight process-wide; every caller contending
// for that key observes either the same committed result or the same
// propagated failure.
type Coordinator struct {
	idx   *Index
	store *Store
	locks *lockTable
	log   *log.Logger
}

// NewCoordinator wires a coordinator over the given index and store. A nil
// index puts the coordinator into always-miss mode: every resolve fetches
// fresh into the scratch directory and nothing is cached.
func NewCoordinator(idx *Index, store *Store, locks *lockTable, logger *log.Logger) *Coordinator {
	return &Coordinator{idx: idx, store: store, locks: locks, log: logger}
}

// Degraded reports whether the coordinator runs without a metadata index.
func (c *Coordinator) Degraded() bool { return c.idx == nil }

// Resolve returns the artifact paths for key, fetching at most once across
// all concurrent callers. The second result reports whether the artifacts
// came from cache. Ephemeral keys bypass the index and the lock table
// entirely.
func (c *Coordinator) Resolve(ctx context.Context, key, locator string, fetch FetchFunc, transform TransformFunc) (ArtifactPaths, bool, error) {
	if c.idx == nil && !IsEphemeral(key) {
		c.log.Warn("index unavailable, resolving without cache", "key", key)
		key = EphemeralKey()
	}
	if IsEphemeral(key) {
		paths, err := c.resolveEphemeral(ctx, key, locator, fetch, transform)
		return paths, false, err
	}

	// Fast path: no lock taken on a verified hit.
	if entry, ok := c.lookup(ctx, key); ok {
		if c.store.Exists(entry.PrimaryPath) {
			return c.hit(ctx, entry), true, nil
		}
		c.log.Warn("entry lost its primary file, repairing", "key", key)
	}

	e, since, err := c.locks.acquire(ctx, key)
	if err != nil {
		return ArtifactPaths{}, false, err
	}
	defer c.locks.release(e)

	// Double-check: another caller may have committed while we waited.
	if entry, ok := c.lookup(ctx, key); ok {
		if c.store.Exists(entry.PrimaryPath) {
			return c.hit(ctx, entry), true, nil
		}
		c.repairGhost(ctx, entry)
	}

	// A fetch that failed while we were queued is this caller's failure
	// too; only callers arriving afterwards start over.
	if lerr := c.locks.latchedFailure(e, since); lerr != nil {
		return ArtifactPaths{}, false, lerr
	}
	c.locks.clearFailure(e)

	paths, err := c.fetchAndCommit(ctx, key, locator, fetch, transform)
	if err != nil {
		c.locks.latchFailure(e, err)
		return ArtifactPaths{}, false, err
	}
	return paths, false, nil
}

// hit records the access and returns the entry's paths. Touch failures are
// absorbed; a hit must not fail because bookkeeping did.
func (c *Coordinator) hit(ctx context.Context, entry CacheEntry) ArtifactPaths {
	if err := c.idx.Touch(ctx, entry.Key); err != nil {
		c.log.Warn("access bookkeeping failed", "key", entry.Key, "err", err)
	}
	paths := ArtifactPaths{Primary: entry.PrimaryPath}
	if entry.DerivedPath != "" && c.store.Exists(entry.DerivedPath) {
		paths.Derived = entry.DerivedPath
	}
	c.log.Debug("cache hit", "key", entry.Key)
	return paths
}

// lookup queries the index, absorbing errors into a miss so a flaky index
// degrades service to fetching instead of failing it.
func (c *Coordinator) lookup(ctx context.Context, key string) (CacheEntry, bool) {
	entry, ok, err := c.idx.Get(ctx, key)
	if err != nil {
		c.log.Warn("index lookup failed, treating as miss", "key", key, "err", err)
		return CacheEntry{}, false
	}
	return entry, ok
}

// repairGhost removes an index record whose primary file is gone, along
// with any surviving derived artifact. Called with the key's lock held.
func (c *Coordinator) repairGhost(ctx context.Context, entry CacheEntry) {
	if entry.DerivedPath != "" {
		if err := os.Remove(entry.DerivedPath); err != nil && !os.IsNotExist(err) {
			c.log.Warn("removing stale derived artifact failed", "key", entry.Key, "err", err)
		}
	}
	if err := c.idx.Remove(ctx, entry.Key); err != nil {
		c.log.Warn("removing ghost record failed", "key", entry.Key, "err", err)
	}
}

// fetchAndCommit runs the miss path under the key's lock: fetch into a
// staged file, transform best-effort, move both into place, then upsert
// the index. Any failure leaves neither partial artifacts nor an entry.
func (c *Coordinator) fetchAndCommit(ctx context.Context, key, locator string, fetch FetchFunc, transform TransformFunc) (ArtifactPaths, error) {
	final := c.store.PrimaryPath(key)
	staged := c.store.StagePath(final)

	c.log.Info("fetching", "key", key)
	info, err := fetch(ctx, locator, staged)
	if err != nil {
		removeIfPresent(staged)
		return ArtifactPaths{}, NewCacheError(ErrorCodeFetchFailure, "fetch collaborator failed", err).WithContext("key", key)
	}
	if !c.store.Exists(staged) {
		return ArtifactPaths{}, NewCacheError(ErrorCodeFetchFailure, "fetch produced no artifact", ErrFetchFailed).WithContext("key", key)
	}

	derivedFinal := c.store.DerivedPath(key)
	derivedStaged := c.store.StagePath(derivedFinal)
	haveDerived := false
	if transform != nil {
		if terr := transform(ctx, staged, derivedStaged); terr != nil {
			c.log.Warn("transform failed, keeping raw artifact only", "key", key, "err", terr)
			removeIfPresent(derivedStaged)
		} else {
			haveDerived = c.store.Exists(derivedStaged)
		}
	}

	wonPrimary, err := c.store.Commit(staged, final)
	if err != nil {
		removeIfPresent(staged)
		removeIfPresent(derivedStaged)
		return ArtifactPaths{}, NewCacheError(ErrorCodeStoreWrite, "commit primary artifact", err).WithContext("key", key)
	}
	if !wonPrimary {
		c.log.Debug("another writer committed first, adopting its artifact", "key", key)
	}

	wonDerived := false
	if haveDerived {
		wonDerived, err = c.store.Commit(derivedStaged, derivedFinal)
		if err != nil {
			c.log.Warn("derived artifact commit failed, keeping raw only", "key", key, "err", err)
			removeIfPresent(derivedStaged)
			haveDerived = c.store.Exists(derivedFinal)
		} else {
			haveDerived = true
		}
	} else {
		haveDerived = c.store.Exists(derivedFinal)
	}

	draft := EntryDraft{
		Key:             key,
		Title:           info.Title,
		DurationSeconds: info.DurationSeconds,
		PrimaryPath:     final,
		SizeBytes:       FileSize(final),
	}
	if haveDerived {
		draft.DerivedPath = derivedFinal
		draft.SizeBytes += FileSize(derivedFinal)
	}

	entry, err := c.idx.Upsert(ctx, draft)
	if err != nil {
		// Only artifacts this call created are rolled back; a file another
		// writer committed may be backed by its own entry.
		if wonPrimary {
			removeIfPresent(final)
		}
		if wonDerived {
			removeIfPresent(derivedFinal)
		}
		return ArtifactPaths{}, NewCacheError(ErrorCodeIndexWrite, "record cache entry", err).WithContext("key", key)
	}

	c.log.Info("cached", "key", key, "title", entry.Title, "bytes", entry.SizeBytes)
	paths := ArtifactPaths{Primary: entry.PrimaryPath}
	if haveDerived {
		paths.Derived = entry.DerivedPath
	}
	return paths, nil
}

// resolveEphemeral fetches uncacheable content into the scratch directory.
// Nothing is indexed and no locks are taken; each caller gets its own copy.
func (c *Coordinator) resolveEphemeral(ctx context.Context, key, locator string, fetch FetchFunc, transform TransformFunc) (ArtifactPaths, error) {
	dest := c.store.ScratchPath(key)
	if _, err := fetch(ctx, locator, dest); err != nil {
		removeIfPresent(dest)
		return ArtifactPaths{}, NewCacheError(ErrorCodeFetchFailure, "fetch collaborator failed", err).WithContext("key", key)
	}
	if !c.store.Exists(dest) {
		return ArtifactPaths{}, NewCacheError(ErrorCodeFetchFailure, "fetch produced no artifact", ErrFetchFailed).WithContext("key", key)
	}

	paths := ArtifactPaths{Primary: dest}
	if transform != nil {
		derived := c.store.ScratchDerivedPath(key)
		if err := transform(ctx, dest, derived); err != nil {
			c.log.Warn("transform failed, keeping raw artifact only", "key", key, "err", err)
			removeIfPresent(derived)
		} else if c.store.Exists(derived) {
			paths.Derived = derived
		}
	}
	c.log.Debug("resolved outside cache", "key", key)
	return paths, nil
}

func removeIfPresent(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("cleanup failed", "path", path, "err", err)
	}
}
