package cache

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// statsListLimit bounds the top-accessed and oldest lists in Stats
const statsListLimit = 5

// Manager is the application-facing surface of the cache subsystem. It
// owns construction, the background sweep loop, and shutdown; resolution
// is delegated to the Coordinator and maintenance to the Evictor and
// Guard. If the metadata index cannot be opened the manager still comes
// up, degraded to always-miss resolution.
type Manager struct {
	cfg   Config
	idx   *Index // nil when degraded
	store *Store
	locks *lockTable
	coord *Coordinator
	evict *Evictor
	guard *Guard
	log   *log.Logger

	// Sweep goroutine control
	sweepStop chan struct{}
	sweepWg   sync.WaitGroup
	closeOnce sync.Once
}

// New builds the cache subsystem under cfg.CacheDir: prepares the store
// tree, opens the index, purges stale scratch files, reconciles index
// against store, and starts the periodic sweep when configured.
func New(cfg Config, logger *log.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}

	store, err := NewStore(cfg.CacheDir)
	if err != nil {
		return nil, err
	}

	idx, err := OpenIndex(cfg.IndexPath)
	if err != nil {
		// Degraded mode: resolution still works, nothing is cached.
		logger.Error("metadata index unavailable, running without cache", "path", cfg.IndexPath, "err", err)
		idx = nil
	}

	locks := newLockTable(cfg.LockTablePrune)
	m := &Manager{
		cfg:       cfg,
		idx:       idx,
		store:     store,
		locks:     locks,
		coord:     NewCoordinator(idx, store, locks, logger),
		log:       logger,
		sweepStop: make(chan struct{}),
	}

	if purged, err := store.PurgeScratch(); err != nil {
		logger.Warn("scratch purge failed", "err", err)
	} else if purged > 0 {
		logger.Debug("purged scratch files", "count", purged)
	}

	if idx != nil {
		m.evict = NewEvictor(idx, store, logger, cfg.MaxAge, cfg.MaxTotalBytes)
		m.guard = NewGuard(idx, store, locks, logger)

		if _, err := m.guard.Reconcile(context.Background()); err != nil {
			logger.Warn("startup reconciliation failed", "err", err)
		}
		if cfg.SweepInterval > 0 {
			m.startSweepLoop()
		}
	}
	return m, nil
}

// Degraded reports whether the manager runs without a metadata index.
func (m *Manager) Degraded() bool { return m.idx == nil }

// Resolve returns artifact paths for the content behind locator, fetching
// it at most once across concurrent callers. Locators without a
// recognizable content key resolve through the scratch path and are never
// cached. The bool result reports a cache hit.
func (m *Manager) Resolve(ctx context.Context, locator string, fetch FetchFunc, transform TransformFunc) (ArtifactPaths, bool, error) {
	key, err := ExtractKey(locator)
	if err != nil {
		key = EphemeralKey()
		m.log.Debug("locator has no content key, resolving outside cache", "locator", locator)
	}
	return m.coord.Resolve(ctx, key, locator, fetch, transform)
}

// Stats summarizes the cache. Unavailable while degraded.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	if m.idx == nil {
		return Stats{}, ErrIndexUnavailable
	}
	var (
		stats Stats
		err   error
	)
	if stats.EntryCount, err = m.idx.Count(ctx); err != nil {
		return Stats{}, err
	}
	if stats.TotalBytes, err = m.idx.TotalBytes(ctx); err != nil {
		return Stats{}, err
	}
	if stats.DiskBytes, err = m.store.UsedBytes(); err != nil {
		return Stats{}, err
	}
	if stats.TopAccessed, err = m.idx.TopAccessed(ctx, statsListLimit); err != nil {
		return Stats{}, err
	}
	if stats.Oldest, err = m.idx.Oldest(ctx, statsListLimit); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// Evict runs one synchronous sweep under policy. Unavailable while degraded.
func (m *Manager) Evict(ctx context.Context, policy EvictionPolicy) (SweepResult, error) {
	if m.evict == nil {
		return SweepResult{}, ErrIndexUnavailable
	}
	return m.evict.Sweep(ctx, policy)
}

// Clear removes every entry and artifact, returning the bytes freed.
func (m *Manager) Clear(ctx context.Context) (int64, error) {
	used, err := m.store.UsedBytes()
	if err != nil {
		m.log.Warn("could not measure store before clear", "err", err)
		used = 0
	}
	if err := m.store.Clear(); err != nil {
		return 0, err
	}
	if m.idx != nil {
		if err := m.idx.RemoveAll(ctx); err != nil {
			return used, err
		}
	}
	m.log.Info("cache cleared", "bytes_freed", used)
	return used, nil
}

// Reconcile runs one on-demand reconciliation pass. Unavailable while
// degraded.
func (m *Manager) Reconcile(ctx context.Context) (ReconcileResult, error) {
	if m.guard == nil {
		return ReconcileResult{}, ErrIndexUnavailable
	}
	return m.guard.Reconcile(ctx)
}

// Close stops the sweep loop and closes the index. Safe to call twice.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.sweepStop)
		m.sweepWg.Wait()
		if m.idx != nil {
			err = m.idx.Close()
		}
	})
	return err
}

// startSweepLoop runs periodic sweeps after an initial delay. The delay
// keeps startup cheap and spaces full sweeps out across restarts.
func (m *Manager) startSweepLoop() {
	m.sweepWg.Add(1)
	go func() {
		defer m.sweepWg.Done()

		delay := time.NewTimer(m.cfg.SweepInitialDelay)
		defer delay.Stop()
		select {
		case <-delay.C:
		case <-m.sweepStop:
			return
		}
		m.runSweep()

		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.runSweep()
			case <-m.sweepStop:
				return
			}
		}
	}()
}

func (m *Manager) runSweep() {
	if _, err := m.evict.Sweep(context.Background(), EvictionPolicy{}); err != nil {
		m.log.Warn("periodic sweep failed", "err", err)
	}
}
