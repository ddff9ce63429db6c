// Package layout collapses wrapper directories so that expected marker
// files end up at a fixed relative path.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/sdlite/sdlite-setup/internal/fsutil"
	"github.com/sdlite/sdlite-setup/internal/logging"
	"github.com/sdlite/sdlite-setup/internal/progress"
)

// DefaultMaxFlatten bounds FlattenUntilMarker.
const DefaultMaxFlatten = 12

// FlattenSingleWrapper moves the contents of dir's only child directory
// up into dir and removes the child. It does nothing and returns false
// unless dir has exactly one child directory and no files.
func FlattenSingleWrapper(dir string) (bool, error) {
	c, err := fsutil.CensusOneLevel(dir)
	if err != nil {
		return false, err
	}
	if !c.IsWrapper() {
		return false, nil
	}
	if err := dissolve(dir, c.Only); err != nil {
		return false, err
	}
	logging.Debug("flattened wrapper", zap.String("dir", dir), zap.String("wrapper", c.Only))
	return true, nil
}

// FlattenUntilMarker flattens single wrappers in dir until the file at
// marker (relative to dir) exists, no wrapper is left, or max iterations
// have run. It reports whether the marker was found.
func FlattenUntilMarker(dir, marker string, max int, sink progress.Sink) (bool, error) {
	if max <= 0 {
		max = DefaultMaxFlatten
	}
	target := filepath.Join(dir, filepath.FromSlash(marker))
	for i := 0; i < max; i++ {
		if fsutil.IsFile(target) {
			return true, nil
		}
		ok, err := FlattenSingleWrapper(dir)
		if err != nil {
			return false, err
		}
		if !ok {
			break
		}
		sink.Pump()
	}
	return fsutil.IsFile(target), nil
}

// FlattenNamedFolder dissolves dir/name into dir when it exists, even if
// dir holds other entries. Entries from the folder overwrite same-named
// entries in dir.
func FlattenNamedFolder(dir, name string) (bool, error) {
	if !fsutil.IsDir(filepath.Join(dir, name)) {
		return false, nil
	}
	if err := dissolve(dir, name); err != nil {
		return false, err
	}
	logging.Debug("flattened named folder", zap.String("dir", dir), zap.String("folder", name))
	return true, nil
}

// dissolve moves every entry of dir/child into dir. The child is renamed
// to a private name first so an entry that shares the child's name can
// land in dir without colliding with the folder being emptied.
func dissolve(dir, child string) error {
	inner := filepath.Join(dir, child)
	staging := filepath.Join(dir, fmt.Sprintf(".flatten-%d", time.Now().UnixNano()))
	if err := os.Rename(inner, staging); err != nil {
		return fsutil.Wrap("rename", inner, err)
	}

	entries, err := os.ReadDir(staging)
	if err != nil {
		return fsutil.Wrap("readdir", staging, err)
	}
	for _, e := range entries {
		if err := fsutil.MoveTree(filepath.Join(staging, e.Name()), filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return fsutil.DeleteTree(staging)
}
