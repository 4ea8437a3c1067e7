// Package cache provides a content-addressed cache for downloaded media.
// It coordinates concurrent downloads so each track is fetched at most once,
// stores raw and normalized artifacts under deterministic names, and keeps a
// durable SQLite index that is reconciled against the filesystem on startup.
package cache
