package cache

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// Guard reconciles the metadata index against the store's actual contents.
// It deletes orphan files (artifacts with no record) and ghost records
// (records with no primary file), and purges abandoned temp files. The pass
// is idempotent and safe alongside live resolution: each key is repaired
// under its coordinator lock, so an in-flight commit is never mistaken for
// an orphan.
type Guard struct {
	idx   *Index
	store *Store
	locks *lockTable
	log   *log.Logger
}

// NewGuard wires a reconciliation guard over the index and store.
func NewGuard(idx *Index, store *Store, locks *lockTable, logger *log.Logger) *Guard {
	return &Guard{idx: idx, store: store, locks: locks, log: logger}
}

// Reconcile scans both artifact trees and the index, then repairs every
// key that appears on either side. After a pass, an entry exists exactly
// when its primary file does.
func (g *Guard) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var (
		primaries, derived     map[string]string
		rawTemps, derivedTemps []string
		strayRaw, strayDerived []string
	)

	var eg errgroup.Group
	eg.Go(func() error {
		var err error
		primaries, rawTemps, strayRaw, err = g.store.ListPrimaries()
		return err
	})
	eg.Go(func() error {
		var err error
		derived, derivedTemps, strayDerived, err = g.store.ListDerived()
		return err
	})
	if err := eg.Wait(); err != nil {
		return ReconcileResult{}, NewCacheError(ErrorCodeReconcile, "scan store", err)
	}
	tempFiles := append(rawTemps, derivedTemps...)

	entries, err := g.idx.All(ctx)
	if err != nil {
		return ReconcileResult{}, NewCacheError(ErrorCodeReconcile, "list index", err)
	}

	keys := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		keys[e.Key] = struct{}{}
	}
	for k := range primaries {
		keys[k] = struct{}{}
	}
	for k := range derived {
		keys[k] = struct{}{}
	}

	var result ReconcileResult
	for key := range keys {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}
		orphans, ghosts := g.repairKey(ctx, key, primaries[key], derived[key])
		result.OrphanFiles += orphans
		result.GhostRecords += ghosts
	}

	for _, path := range append(strayRaw, strayDerived...) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			g.log.Warn("removing unrecognized file failed", "path", path, "err", err)
			continue
		}
		g.log.Debug("removed unrecognized file", "path", path)
		result.OrphanFiles++
	}
	for _, path := range tempFiles {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			g.log.Warn("removing temp file failed", "path", path, "err", err)
			continue
		}
		result.TempFiles++
	}

	if result.OrphanFiles > 0 || result.GhostRecords > 0 || result.TempFiles > 0 {
		g.log.Info("reconciled cache state",
			"orphan_files", result.OrphanFiles,
			"ghost_records", result.GhostRecords,
			"temp_files", result.TempFiles)
	}
	return result, nil
}

// repairKey restores the entry/file invariant for one key under its
// coordinator lock. Repair failures are logged and absorbed; the next pass
// will see whatever is left.
func (g *Guard) repairKey(ctx context.Context, key, primaryPath, derivedPath string) (orphans, ghosts int) {
	e, _, err := g.locks.acquire(ctx, key)
	if err != nil {
		return 0, 0
	}
	defer g.locks.release(e)

	entry, ok, err := g.idx.Get(ctx, key)
	if err != nil {
		g.log.Warn("reconcile lookup failed", "key", key, "err", err)
		return 0, 0
	}

	if ok {
		if g.store.Exists(entry.PrimaryPath) {
			return 0, 0
		}
		// Ghost record: drop it together with any surviving derived file.
		if entry.DerivedPath != "" {
			if err := os.Remove(entry.DerivedPath); err == nil {
				orphans++
			}
		}
		if err := g.idx.Remove(ctx, key); err != nil {
			g.log.Warn("removing ghost record failed", "key", key, "err", err)
			return orphans, 0
		}
		g.log.Debug("removed ghost record", "key", key)
		return orphans, 1
	}

	// No record: whatever files the scan found for this key are orphans.
	for _, path := range []string{primaryPath, derivedPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			g.log.Warn("removing orphan file failed", "path", path, "err", err)
			continue
		}
		g.log.Debug("removed orphan file", "path", path)
		orphans++
	}
	return orphans, 0
}
