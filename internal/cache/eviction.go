package cache

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
)

// Evictor reclaims cache space against the age and size policy. Sweeps are
// safe to run concurrently with resolution: every candidate is re-read
// immediately before deletion, so an entry refreshed by a hit or a racing
// commit survives.
type Evictor struct {
	idx      *Index
	store    *Store
	log      *log.Logger
	maxAge   time.Duration
	maxBytes int64

	// now is swapped out by tests that need deterministic cutoffs
	now func() time.Time
}

// NewEvictor builds an evictor with the configured default limits.
func NewEvictor(idx *Index, store *Store, logger *log.Logger, maxAge time.Duration, maxBytes int64) *Evictor {
	return &Evictor{
		idx:      idx,
		store:    store,
		log:      logger,
		maxAge:   maxAge,
		maxBytes: maxBytes,
		now:      time.Now,
	}
}

// Sweep runs the age pass, then the size pass against whatever remains.
// Zero policy fields fall back to the configured limits; negative fields
// disable that pass. A failure on one entry never aborts the sweep.
func (ev *Evictor) Sweep(ctx context.Context, policy EvictionPolicy) (SweepResult, error) {
	maxAge := policy.MaxAge
	if maxAge == 0 {
		maxAge = ev.maxAge
	}
	maxBytes := policy.MaxTotalBytes
	if maxBytes == 0 {
		maxBytes = ev.maxBytes
	}

	var result SweepResult
	if maxAge >= 0 {
		aged := ev.agePass(ctx, ev.now().Add(-maxAge))
		result.RemovedCount += aged.RemovedCount
		result.BytesFreed += aged.BytesFreed
	}
	if maxBytes >= 0 {
		sized, err := ev.sizePass(ctx, maxBytes)
		result.RemovedCount += sized.RemovedCount
		result.BytesFreed += sized.BytesFreed
		if err != nil {
			return result, err
		}
	}
	if result.RemovedCount > 0 {
		ev.log.Info("sweep reclaimed space",
			"removed", result.RemovedCount,
			"freed", humanize.IBytes(uint64(result.BytesFreed)))
	}
	return result, nil
}

// agePass removes every entry idle since before cutoff, oldest first.
func (ev *Evictor) agePass(ctx context.Context, cutoff time.Time) SweepResult {
	var result SweepResult
	candidates, err := ev.idx.AgeCandidates(ctx, cutoff)
	if err != nil {
		ev.log.Warn("age pass could not list candidates", "err", err)
		return result
	}
	for _, candidate := range candidates {
		// Re-read: a hit since the listing keeps the entry alive.
		entry, ok, err := ev.idx.Get(ctx, candidate.Key)
		if err != nil || !ok || !entry.LastAccessedAt.Before(cutoff) {
			continue
		}
		freed, err := ev.removeEntry(ctx, entry)
		if err != nil {
			ev.log.Warn("age eviction failed, continuing", "key", entry.Key, "err", err)
			continue
		}
		result.RemovedCount++
		result.BytesFreed += freed
	}
	return result
}

// sizePass removes entries least-frequently used first (ties to the least
// recently used) until total indexed bytes fit under maxBytes.
func (ev *Evictor) sizePass(ctx context.Context, maxBytes int64) (SweepResult, error) {
	var result SweepResult
	total, err := ev.idx.TotalBytes(ctx)
	if err != nil {
		return result, err
	}
	if total <= maxBytes {
		return result, nil
	}

	candidates, err := ev.idx.SizeCandidates(ctx)
	if err != nil {
		return result, err
	}
	for _, candidate := range candidates {
		if total <= maxBytes {
			break
		}
		entry, ok, err := ev.idx.Get(ctx, candidate.Key)
		if err != nil || !ok {
			continue
		}
		freed, err := ev.removeEntry(ctx, entry)
		if err != nil {
			ev.log.Warn("size eviction failed, continuing", "key", entry.Key, "err", err)
			continue
		}
		total -= entry.SizeBytes
		result.RemovedCount++
		result.BytesFreed += freed
	}
	return result, nil
}

// removeEntry deletes the entry's artifacts and its index record as one
// unit from the caller's point of view. Partial failures are surfaced so
// the sweep can log and move on; the reconciliation pass heals whichever
// half survived.
func (ev *Evictor) removeEntry(ctx context.Context, entry CacheEntry) (int64, error) {
	if err := ev.store.Remove(entry); err != nil {
		return 0, NewCacheError(ErrorCodeEvictionStep, "remove artifacts", err).WithContext("key", entry.Key)
	}
	if err := ev.idx.Remove(ctx, entry.Key); err != nil {
		return 0, NewCacheError(ErrorCodeEvictionStep, "remove record", err).WithContext("key", entry.Key)
	}
	ev.log.Debug("evicted", "key", entry.Key, "bytes", entry.SizeBytes)
	return entry.SizeBytes, nil
}
