package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS entries (
	key              TEXT PRIMARY KEY,
	title            TEXT NOT NULL DEFAULT '',
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	primary_path     TEXT NOT NULL,
	derived_path     TEXT NOT NULL DEFAULT '',
	size_bytes       INTEGER NOT NULL DEFAULT 0,
	created_at       INTEGER NOT NULL,
	last_accessed_at INTEGER NOT NULL,
	access_count     INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_entries_last_accessed ON entries(last_accessed_at);
CREATE INDEX IF NOT EXISTS idx_entries_eviction ON entries(access_count, last_accessed_at);
`

// Index is the durable metadata index backing the cache. All mutations are
// committed before the call returns; upserts are single atomic statements
// so racing commits can never produce duplicate rows for one key.
type Index struct {
	db *sql.DB

	// now is swapped out by tests that need deterministic timestamps
	now func() time.Time
}

// OpenIndex opens (creating if needed) the SQLite index at path. The
// database runs in WAL mode with a busy timeout so concurrent readers do
// not block behind the single writer.
func OpenIndex(path string) (*Index, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, NewCacheError(ErrorCodeIndexOpen, "open index", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewCacheError(ErrorCodeIndexOpen, "ping index", err)
	}
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, NewCacheError(ErrorCodeIndexOpen, "create schema", err)
	}
	return &Index{db: db, now: time.Now}, nil
}

// Close releases the underlying database handle.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Upsert inserts the draft as a new entry or updates the existing row for
// the same key in place. A fresh insert starts AccessCount at 1 (creation
// counts as the first access); a conflicting insert refreshes the artifact
// fields and counts as one more access while keeping CreatedAt.
func (ix *Index) Upsert(ctx context.Context, draft EntryDraft) (CacheEntry, error) {
	now := ix.now().UnixNano()
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return CacheEntry{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (key, title, duration_seconds, primary_path, derived_path, size_bytes, created_at, last_accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(key) DO UPDATE SET
			title            = excluded.title,
			duration_seconds = excluded.duration_seconds,
			primary_path     = excluded.primary_path,
			derived_path     = excluded.derived_path,
			size_bytes       = excluded.size_bytes,
			last_accessed_at = excluded.last_accessed_at,
			access_count     = access_count + 1`,
		draft.Key, draft.Title, draft.DurationSeconds, draft.PrimaryPath, draft.DerivedPath, draft.SizeBytes, now, now)
	if err != nil {
		return CacheEntry{}, fmt.Errorf("upsert %q: %w", draft.Key, err)
	}

	entry, err := scanEntry(tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE key = ?`, draft.Key))
	if err != nil {
		return CacheEntry{}, fmt.Errorf("read back %q: %w", draft.Key, err)
	}
	if err := tx.Commit(); err != nil {
		return CacheEntry{}, fmt.Errorf("commit upsert: %w", err)
	}
	return entry, nil
}

// Get returns the entry for key. The second result is false on a miss.
func (ix *Index) Get(ctx context.Context, key string) (CacheEntry, bool, error) {
	entry, err := scanEntry(ix.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, fmt.Errorf("get %q: %w", key, err)
	}
	return entry, true, nil
}

// Touch bumps LastAccessedAt and increments AccessCount by exactly one.
func (ix *Index) Touch(ctx context.Context, key string) error {
	res, err := ix.db.ExecContext(ctx,
		`UPDATE entries SET last_accessed_at = ?, access_count = access_count + 1 WHERE key = ?`,
		ix.now().UnixNano(), key)
	if err != nil {
		return fmt.Errorf("touch %q: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Remove deletes the entry for key. Removing an absent key is not an error.
func (ix *Index) Remove(ctx context.Context, key string) error {
	if _, err := ix.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// RemoveAll wipes every entry. Used by the full-clear operation.
func (ix *Index) RemoveAll(ctx context.Context) error {
	if _, err := ix.db.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return fmt.Errorf("remove all entries: %w", err)
	}
	return nil
}

// AgeCandidates returns entries last accessed before cutoff, oldest first.
func (ix *Index) AgeCandidates(ctx context.Context, cutoff time.Time) ([]CacheEntry, error) {
	return ix.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE last_accessed_at < ? ORDER BY last_accessed_at ASC`,
		cutoff.UnixNano())
}

// SizeCandidates returns all entries in eviction order for the size pass:
// least-frequently used first, ties broken by least-recently used.
func (ix *Index) SizeCandidates(ctx context.Context) ([]CacheEntry, error) {
	return ix.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM entries ORDER BY access_count ASC, last_accessed_at ASC`)
}

// All returns every entry, unordered.
func (ix *Index) All(ctx context.Context) ([]CacheEntry, error) {
	return ix.queryEntries(ctx, `SELECT `+entryColumns+` FROM entries`)
}

// Count returns the number of entries.
func (ix *Index) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// TotalBytes returns the sum of SizeBytes across all entries.
func (ix *Index) TotalBytes(ctx context.Context) (int64, error) {
	var n int64
	if err := ix.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size_bytes), 0) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sum entry sizes: %w", err)
	}
	return n, nil
}

// TopAccessed returns up to n entries with the highest access counts.
func (ix *Index) TopAccessed(ctx context.Context, n int) ([]CacheEntry, error) {
	return ix.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM entries ORDER BY access_count DESC, last_accessed_at DESC LIMIT ?`, n)
}

// Oldest returns up to n entries least recently accessed, oldest first.
func (ix *Index) Oldest(ctx context.Context, n int) ([]CacheEntry, error) {
	return ix.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM entries ORDER BY last_accessed_at ASC LIMIT ?`, n)
}

const entryColumns = `key, title, duration_seconds, primary_path, derived_path, size_bytes, created_at, last_accessed_at, access_count`

// rowScanner abstracts *sql.Row and *sql.Rows for scanEntry
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (CacheEntry, error) {
	var e CacheEntry
	var created, accessed int64
	err := row.Scan(&e.Key, &e.Title, &e.DurationSeconds, &e.PrimaryPath, &e.DerivedPath,
		&e.SizeBytes, &created, &accessed, &e.AccessCount)
	if err != nil {
		return CacheEntry{}, err
	}
	e.CreatedAt = time.Unix(0, created)
	e.LastAccessedAt = time.Unix(0, accessed)
	return e, nil
}

func (ix *Index) queryEntries(ctx context.Context, query string, args ...any) ([]CacheEntry, error) {
	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []CacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
