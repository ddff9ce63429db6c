package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Census counts the immediate children of a directory.
type Census struct {
	Dirs  int
	Files int
	// Only names the sole child directory when Dirs == 1 and Files == 0.
	Only string
}

// IsWrapper reports whether the directory has exactly one child
// directory and no files.
func (c Census) IsWrapper() bool {
	return c.Dirs == 1 && c.Files == 0 && c.Only != ""
}

// CensusOneLevel enumerates the immediate children of dir. Symlinks
// count as files. A missing directory has an empty census.
func CensusOneLevel(dir string) (Census, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Census{}, nil
		}
		return Census{}, &Error{Op: "readdir", Path: dir, Err: err}
	}

	var c Census
	var lastDir string
	for _, e := range entries {
		if e.IsDir() {
			c.Dirs++
			lastDir = e.Name()
		} else {
			c.Files++
		}
	}
	if c.Dirs == 1 && c.Files == 0 {
		c.Only = lastDir
	}
	return c, nil
}

// ChildDirs returns the full paths of the immediate child directories of
// dir, in name order.
func ChildDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &Error{Op: "readdir", Path: dir, Err: err}
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(dir, e.Name()))
		}
	}
	return dirs, nil
}

// Snapshot is the recursive size of a directory tree. It has no identity
// beyond its counts and is only compared for equality.
type Snapshot struct {
	Files int64
	Dirs  int64
	Bytes int64
}

// Empty reports whether the tree has no entries at all.
func (s Snapshot) Empty() bool {
	return s.Files+s.Dirs == 0
}

// Scan walks dir recursively and counts files, directories and file
// bytes. The tree may be changing underneath the walk; entries that
// vanish or cannot be read are skipped, and a missing dir yields a zero
// Snapshot.
func Scan(dir string) Snapshot {
	var s Snapshot
	filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return fs.SkipDir
			}
			return nil
		}
		if p == dir {
			return nil
		}
		if d.IsDir() {
			s.Dirs++
			return nil
		}
		s.Files++
		if info, err := d.Info(); err == nil {
			s.Bytes += info.Size()
		}
		return nil
	})
	return s
}
