package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	rawDirName     = "audio"
	derivedDirName = "normalized"
	scratchDirName = "scratch"

	rawExt        = ".mp3"
	derivedSuffix = "_normalized.mp3"
	tempSuffix    = ".tmp"
)

// Store is the filesystem tree holding cached artifacts. Raw and derived
// artifacts live in sibling directories under deterministic key-derived
// names, so a commit for a key always targets the same final path.
// Ephemeral downloads land in a scratch directory that is never indexed.
type Store struct {
	root       string
	rawDir     string
	derivedDir string
	scratchDir string
}

// NewStore prepares the directory tree under root.
func NewStore(root string) (*Store, error) {
	s := &Store{
		root:       root,
		rawDir:     filepath.Join(root, rawDirName),
		derivedDir: filepath.Join(root, derivedDirName),
		scratchDir: filepath.Join(root, scratchDirName),
	}
	for _, dir := range []string{s.rawDir, s.derivedDir, s.scratchDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	return s, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// PrimaryPath returns the final path for a key's raw artifact.
func (s *Store) PrimaryPath(key string) string {
	return filepath.Join(s.rawDir, key+rawExt)
}

// DerivedPath returns the final path for a key's normalized artifact.
func (s *Store) DerivedPath(key string) string {
	return filepath.Join(s.derivedDir, key+derivedSuffix)
}

// StagePath returns the temporary path used while writing toward final.
// Temp files always sit beside their destination so the commit rename
// stays within one filesystem.
func (s *Store) StagePath(final string) string {
	return final + tempSuffix
}

// ScratchPath returns where an ephemeral key's download lands.
func (s *Store) ScratchPath(key string) string {
	return filepath.Join(s.scratchDir, key+rawExt)
}

// ScratchDerivedPath returns where an ephemeral key's normalized copy lands.
func (s *Store) ScratchDerivedPath(key string) string {
	return filepath.Join(s.scratchDir, key+derivedSuffix)
}

// Commit moves a staged file into its final place. If the final path is
// already occupied the staged file is discarded and the existing artifact
// wins (first-writer-wins); the bool result reports whether this staged
// file became the authoritative copy.
func (s *Store) Commit(staged, final string) (bool, error) {
	if _, err := os.Stat(final); err == nil {
		if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
			return false, fmt.Errorf("discard staged file: %w", err)
		}
		return false, nil
	}
	if err := os.Rename(staged, final); err != nil {
		return false, fmt.Errorf("commit %s: %w", filepath.Base(final), err)
	}
	return true, nil
}

// Remove deletes the artifacts referenced by entry. Missing files are not
// an error; eviction races startup reconciliation and repeated removals
// must stay idempotent.
func (s *Store) Remove(entry CacheEntry) error {
	var errs []error
	for _, p := range []string{entry.PrimaryPath, entry.DerivedPath} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Exists reports whether path resolves to a regular file.
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// UsedBytes walks the raw and derived trees and returns the bytes on disk.
func (s *Store) UsedBytes() (int64, error) {
	var total int64
	for _, dir := range []string{s.rawDir, s.derivedDir} {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("walk %s: %w", dir, err)
		}
	}
	return total, nil
}

// Clear removes every artifact and recreates the empty tree.
func (s *Store) Clear() error {
	for _, dir := range []string{s.rawDir, s.derivedDir, s.scratchDir} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clear %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("recreate %s: %w", dir, err)
		}
	}
	return nil
}

// listArtifacts returns key -> path for every committed artifact in dir,
// along with the temp-suffixed leftovers it encountered. Files that match
// neither shape are reported as unknown paths with an empty key.
func listArtifacts(dir string, keyFromName func(string) (string, bool)) (byKey map[string]string, temps, unknown []string, err error) {
	byKey = make(map[string]string)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read %s: %w", dir, err)
	}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		path := filepath.Join(dir, name)
		if strings.HasSuffix(name, tempSuffix) {
			temps = append(temps, path)
			continue
		}
		if key, ok := keyFromName(name); ok {
			byKey[key] = path
		} else {
			unknown = append(unknown, path)
		}
	}
	return byKey, temps, unknown, nil
}

// ListPrimaries maps content key -> raw artifact path for the raw tree.
func (s *Store) ListPrimaries() (map[string]string, []string, []string, error) {
	return listArtifacts(s.rawDir, func(name string) (string, bool) {
		key := strings.TrimSuffix(name, rawExt)
		return key, key != name && key != ""
	})
}

// ListDerived maps content key -> derived artifact path for the derived tree.
func (s *Store) ListDerived() (map[string]string, []string, []string, error) {
	return listArtifacts(s.derivedDir, func(name string) (string, bool) {
		key := strings.TrimSuffix(name, derivedSuffix)
		return key, key != name && key != ""
	})
}

// PurgeScratch empties the scratch directory and returns how many files
// were removed.
func (s *Store) PurgeScratch() (int, error) {
	entries, err := os.ReadDir(s.scratchDir)
	if err != nil {
		return 0, fmt.Errorf("read scratch: %w", err)
	}
	removed := 0
	for _, de := range entries {
		if err := os.Remove(filepath.Join(s.scratchDir, de.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// FileSize returns the size of path, or 0 when it cannot be measured.
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
