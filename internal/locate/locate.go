// Package locate finds the real project root inside an extracted archive
// whose internal layout is not known in advance.
package locate

import (
	"errors"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/sdlite/sdlite-setup/internal/fsutil"
	"github.com/sdlite/sdlite-setup/internal/logging"
)

// ErrNotFound is returned when no directory satisfies the root
// predicate. It is recoverable: Locate still returns its best guess.
var ErrNotFound = errors.New("project root not found")

const (
	DefaultMaxUnwrap     = 10
	DefaultThreshold     = 2
	DefaultMaxCandidates = 32
)

// Locator holds the root predicate and the search bounds.
type Locator struct {
	// Markers are subdirectory names expected directly inside a root.
	Markers []string
	// Threshold is how many markers must be present. At least 2 of the
	// default three is deliberately lenient.
	Threshold     int
	MaxUnwrap     int
	MaxCandidates int
}

// New returns a Locator for markers with the default bounds.
func New(markers []string) *Locator {
	return &Locator{
		Markers:       markers,
		Threshold:     DefaultThreshold,
		MaxUnwrap:     DefaultMaxUnwrap,
		MaxCandidates: DefaultMaxCandidates,
	}
}

// LooksLikeRoot reports whether at least Threshold markers exist as
// directories directly inside dir.
func (l *Locator) LooksLikeRoot(dir string) bool {
	threshold := l.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if threshold > len(l.Markers) {
		threshold = len(l.Markers)
	}
	if threshold == 0 {
		return false
	}

	hits := 0
	for _, m := range l.Markers {
		if fsutil.IsDir(filepath.Join(dir, m)) {
			hits++
			if hits >= threshold {
				return true
			}
		}
	}
	return false
}

// Locate searches for the project root below start. It first unwraps
// pure wrapper directories (one child directory, no files), then checks
// the children and grandchildren of where unwrapping stopped. When
// nothing matches it returns the unwrapped directory together with
// ErrNotFound.
func (l *Locator) Locate(start string) (string, error) {
	maxUnwrap := l.MaxUnwrap
	if maxUnwrap <= 0 {
		maxUnwrap = DefaultMaxUnwrap
	}
	maxCandidates := l.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}

	cur := start
	for depth := 0; depth < maxUnwrap; depth++ {
		if l.LooksLikeRoot(cur) {
			return cur, nil
		}
		c, err := fsutil.CensusOneLevel(cur)
		if err != nil {
			return cur, err
		}
		if !c.IsWrapper() {
			break
		}
		cur = filepath.Join(cur, c.Only)
	}
	if l.LooksLikeRoot(cur) {
		return cur, nil
	}

	children, err := fsutil.ChildDirs(cur)
	if err != nil {
		return cur, err
	}
	var candidates []string
	for _, child := range children {
		if l.LooksLikeRoot(child) {
			return child, nil
		}
		if len(candidates) < maxCandidates {
			candidates = append(candidates, child)
		}
	}

	for _, cand := range candidates {
		grandchildren, err := fsutil.ChildDirs(cand)
		if err != nil {
			logging.Debug("skipping unreadable candidate", zap.String("dir", cand), zap.Error(err))
			continue
		}
		for _, gc := range grandchildren {
			if l.LooksLikeRoot(gc) {
				return gc, nil
			}
		}
	}

	return cur, ErrNotFound
}
