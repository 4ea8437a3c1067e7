package cache

import (
	"context"
	"time"
)

// FetchFunc downloads the content behind a locator and writes the raw
// artifact to destPath. Implementations must honor ctx cancellation and
// return the metadata they learned about the content.
type FetchFunc func(ctx context.Context, locator, destPath string) (TrackInfo, error)

// TransformFunc produces a derived artifact from a raw one at destPath.
// Transform failures are non-fatal; callers proceed with the raw artifact.
type TransformFunc func(ctx context.Context, rawPath, destPath string) error

// TrackInfo carries descriptive metadata reported by the fetch collaborator
type TrackInfo struct {
	Title           string // Human-readable title
	DurationSeconds int64  // Track length in seconds, 0 when unknown
}

// ArtifactPaths points at the on-disk artifacts for one resolution
type ArtifactPaths struct {
	Primary string // Raw artifact, always set on success
	Derived string // Normalized artifact, empty when the transform was skipped or failed
}

// CacheEntry is the durable record describing cached artifacts for one key
type CacheEntry struct {
	Key             string    // Canonical content key, unique
	Title           string    // Immutable after creation
	DurationSeconds int64     // Immutable after creation
	PrimaryPath     string    // Must resolve to a real file while the entry exists
	DerivedPath     string    // Optional, empty when absent
	SizeBytes       int64     // Total bytes across both artifacts
	CreatedAt       time.Time // When the entry was committed
	LastAccessedAt  time.Time // Bumped on every hit
	AccessCount     int64     // Starts at 1 on creation, +1 per hit
}

// EntryDraft is the pre-commit form of a cache entry. The index assigns
// timestamps and the initial access count during upsert.
type EntryDraft struct {
	Key             string
	Title           string
	DurationSeconds int64
	PrimaryPath     string
	DerivedPath     string
	SizeBytes       int64
}

// Stats summarizes the cache for operators
type Stats struct {
	EntryCount  int64        // Rows in the index
	TotalBytes  int64        // Sum of entry SizeBytes
	DiskBytes   int64        // Bytes actually on disk (store walk)
	TopAccessed []CacheEntry // Most-played entries, highest first
	Oldest      []CacheEntry // Least-recently accessed entries, oldest first
}

// EvictionPolicy bounds a sweep. Zero values fall back to the configured
// limits; MaxAge < 0 disables the age pass and MaxTotalBytes < 0 disables
// the size pass for that sweep.
type EvictionPolicy struct {
	MaxAge        time.Duration // Entries idle longer than this are removed
	MaxTotalBytes int64         // Target ceiling for total stored bytes
}

// SweepResult reports what one eviction sweep reclaimed
type SweepResult struct {
	RemovedCount int   // Entries removed
	BytesFreed   int64 // Artifact bytes reclaimed
}

// ReconcileResult reports what one reconciliation pass repaired
type ReconcileResult struct {
	OrphanFiles  int // Files deleted for having no index record
	GhostRecords int // Records deleted for having no primary file
	TempFiles    int // Abandoned temporaries purged
}
