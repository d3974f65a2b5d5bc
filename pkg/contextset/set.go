// Package contextset tracks which workspace files are offered to the model as context.
//
// A path is in at most one of two sets: included (bounded by MaxSize) or excluded. The sets are
// rebuilt from disk using doublestar include/exclude globs and mutated by explicit Include and
// Exclude calls, by the materializer when it creates files, and by the optional Watcher.
package contextset

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"taskpilot/pkg/logx"
)

// ErrCapacityExceeded is returned by Include when the included set is full.
var ErrCapacityExceeded = errors.New("context capacity exceeded")

// DefaultMaxSize bounds the included set when Options.MaxSize is not positive.
const DefaultMaxSize = 200

// Options configures a Set.
type Options struct {
	MaxSize int
	Include []string
	Exclude []string
}

// Set is the included/excluded path partition for one workspace. Safe for concurrent use.
type Set struct {
	mu       sync.RWMutex
	root     string
	maxSize  int
	include  []string
	exclude  []string
	included map[string]struct{}
	excluded map[string]struct{}
	logger   *logx.Logger
}

// New creates an empty set rooted at root. Call Rebuild to populate it from disk.
func New(root string, opts Options) *Set {
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	include := opts.Include
	if len(include) == 0 {
		include = []string{"**/*"}
	}
	return &Set{
		root:     root,
		maxSize:  maxSize,
		include:  append([]string(nil), include...),
		exclude:  append([]string(nil), opts.Exclude...),
		included: make(map[string]struct{}),
		excluded: make(map[string]struct{}),
		logger:   logx.NewLogger("context"),
	}
}

// Root returns the workspace root.
func (s *Set) Root() string {
	return s.root
}

// MaxSize returns the included-set bound.
func (s *Set) MaxSize() int {
	return s.maxSize
}

// ValidatePatterns reports the first malformed glob.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	return nil
}

// Normalize converts p to a clean, slash-separated path relative to the workspace root.
func (s *Set) Normalize(p string) string {
	if filepath.IsAbs(p) {
		if rel, err := filepath.Rel(s.root, p); err == nil {
			p = rel
		}
	}
	p = path.Clean(filepath.ToSlash(p))
	return strings.TrimPrefix(p, "./")
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func (s *Set) isExcluded(rel string) bool {
	return matchAny(s.exclude, rel)
}

// dirExcluded reports whether everything below rel is excluded, so the walk can prune it.
func (s *Set) dirExcluded(rel string) bool {
	if s.isExcluded(rel) {
		return true
	}
	for _, p := range s.exclude {
		if prefix, ok := strings.CutSuffix(p, "/**"); ok {
			if hit, _ := doublestar.Match(prefix, rel); hit {
				return true
			}
		}
	}
	return false
}

// Matches reports whether p passes the include globs and no exclude glob.
func (s *Set) Matches(p string) bool {
	rel := s.Normalize(p)
	return !s.isExcluded(rel) && matchAny(s.include, rel)
}

// Rebuild rescans the workspace. Excluded-by-glob paths are skipped entirely; matching files
// are included in first-seen order up to the cap; every other scanned file is excluded.
func (s *Set) Rebuild() error {
	included := make(map[string]struct{})
	excluded := make(map[string]struct{})

	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == s.root {
				return walkErr
			}
			s.logger.Warn("Skipping unreadable path %s: %v", p, walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p == s.root {
			return nil
		}

		rel := s.Normalize(p)
		if d.IsDir() {
			if s.dirExcluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.isExcluded(rel) {
			return nil
		}

		if matchAny(s.include, rel) && len(included) < s.maxSize {
			included[rel] = struct{}{}
		} else {
			excluded[rel] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan workspace %s: %w", s.root, err)
	}

	s.mu.Lock()
	s.included = included
	s.excluded = excluded
	s.mu.Unlock()

	s.logger.Info("Context rebuilt: %d included, %d excluded (max %d)", len(included), len(excluded), s.maxSize)
	return nil
}

// Include adds p to the included set and removes it from the excluded set.
// Including an already-included path is a no-op.
func (s *Set) Include(p string) error {
	rel := s.Normalize(p)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.included[rel]; ok {
		return nil
	}
	if len(s.included) >= s.maxSize {
		return fmt.Errorf("%w: cannot include %s, %d of %d paths already included", ErrCapacityExceeded, rel, len(s.included), s.maxSize)
	}
	s.included[rel] = struct{}{}
	delete(s.excluded, rel)
	return nil
}

// Exclude moves p to the excluded set.
func (s *Set) Exclude(p string) {
	rel := s.Normalize(p)

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.included, rel)
	s.excluded[rel] = struct{}{}
}

// Forget drops p, and anything below it when p is a directory, from both sets.
func (s *Set) Forget(p string) {
	rel := s.Normalize(p)
	prefix := rel + "/"

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range []map[string]struct{}{s.included, s.excluded} {
		delete(m, rel)
		for k := range m {
			if strings.HasPrefix(k, prefix) {
				delete(m, k)
			}
		}
	}
}

// IsIncluded reports whether p is in the included set.
func (s *Set) IsIncluded(p string) bool {
	rel := s.Normalize(p)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.included[rel]
	return ok
}

// Len returns the sizes of both sets.
func (s *Set) Len() (included, excluded int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.included), len(s.excluded)
}

// SnapshotIncluded returns a sorted copy of the included paths.
func (s *Set) SnapshotIncluded() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.included)
}

// SnapshotExcluded returns a sorted copy of the excluded paths.
func (s *Set) SnapshotExcluded() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.excluded)
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
