// Package fsutil provides the directory tree primitives the installer is
// built on: directory creation that never mistakes a file for a
// directory, overwrite-semantics moves, safe recursive delete, one-level
// child census and recursive size snapshots.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/sdlite/sdlite-setup/internal/logging"
)

// Error is a filesystem failure: a create, write, move or delete that
// did not complete.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError checks if an error is a filesystem Error and returns it.
func AsError(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// Wrap builds a filesystem Error. It returns nil for a nil err.
func Wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Path: path, Err: err}
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// IsFile reports whether path exists and is not a directory.
func IsFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Exists reports whether anything exists at path. Symlinks are not followed.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// EnsureDir creates every missing segment of a directory path, one
// segment at a time from left to right. The volume or filesystem root is
// never created. A segment that exists as a file is an error: the path
// must name a directory.
func EnsureDir(path string) error {
	if path == "" {
		return &Error{Op: "mkdir", Path: path, Err: errors.New("empty path")}
	}

	clean := filepath.Clean(path)
	vol := filepath.VolumeName(clean)
	rest := clean[len(vol):]
	sep := string(filepath.Separator)

	cur := vol
	if strings.HasPrefix(rest, sep) {
		cur += sep
		rest = strings.TrimLeft(rest, sep)
	}

	for _, seg := range strings.Split(rest, sep) {
		if seg == "" || seg == "." {
			continue
		}
		if cur == "" {
			cur = seg
		} else {
			cur = filepath.Join(cur, seg)
		}

		info, err := os.Stat(cur)
		if err == nil {
			if !info.IsDir() {
				return &Error{Op: "mkdir", Path: cur, Err: errors.New("exists and is not a directory")}
			}
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return &Error{Op: "mkdir", Path: cur, Err: err}
		}
		if err := os.Mkdir(cur, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return &Error{Op: "mkdir", Path: cur, Err: err}
		}
	}
	return nil
}

// EnsureParentDirs creates the parent directories of a file path. The
// last segment is never created.
func EnsureParentDirs(filePath string) error {
	parent := filepath.Dir(filepath.Clean(filePath))
	if parent == "." || parent == filepath.VolumeName(parent)+string(filepath.Separator) {
		return nil
	}
	return EnsureDir(parent)
}

// MoveFile moves a single file (or symlink) to dst, replacing whatever
// is there. It renames when possible and falls back to copy then
// delete-source when rename fails, e.g. across volumes.
func MoveFile(src, dst string) error {
	if err := EnsureParentDirs(dst); err != nil {
		return err
	}
	if Exists(dst) {
		if err := DeleteTree(dst); err != nil {
			return err
		}
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	logging.Debug("rename failed, copying instead",
		zap.String("src", src), zap.String("dst", dst), zap.Error(err))

	if err := copyEntry(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return &Error{Op: "remove", Path: src, Err: err}
	}
	return nil
}

// copyEntry copies a file via a temp file and rename in the destination
// directory, so dst is never observed half-written.
func copyEntry(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return &Error{Op: "stat", Path: src, Err: err}
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return &Error{Op: "readlink", Path: src, Err: err}
		}
		if err := os.Symlink(target, dst); err != nil {
			return &Error{Op: "symlink", Path: dst, Err: err}
		}
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return &Error{Op: "open", Path: src, Err: err}
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".sdlite-*.tmp")
	if err != nil {
		return &Error{Op: "create", Path: dst, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &Error{Op: "copy", Path: dst, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &Error{Op: "close", Path: dst, Err: err}
	}
	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		os.Remove(tmpName)
		return &Error{Op: "chmod", Path: dst, Err: err}
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return &Error{Op: "rename", Path: dst, Err: err}
	}
	return nil
}

// MoveTree moves src (a directory or a single file) to dst. Directories
// are merged: entries already in dst are overwritten by entries from
// src, other entries in dst are kept. Source directories are removed
// once emptied. A missing src is not an error.
func MoveTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &Error{Op: "stat", Path: src, Err: err}
	}

	if !info.IsDir() {
		return MoveFile(src, dst)
	}

	dstInfo, err := os.Lstat(dst)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := EnsureParentDirs(dst); err != nil {
			return err
		}
		if err := os.Rename(src, dst); err == nil {
			return nil
		}
	case err != nil:
		return &Error{Op: "stat", Path: dst, Err: err}
	case !dstInfo.IsDir():
		if err := DeleteTree(dst); err != nil {
			return err
		}
	}

	if err := EnsureDir(dst); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return &Error{Op: "readdir", Path: src, Err: err}
	}
	for _, e := range entries {
		if err := MoveTree(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}

	if err := os.Remove(src); err != nil {
		logging.Debug("source directory not removed", zap.String("dir", src), zap.Error(err))
	}
	return nil
}

// DeleteTree removes path and everything below it. Read-only entries,
// common in extracted archives, are made writable and the removal is
// retried once. A missing path is not an error.
func DeleteTree(path string) error {
	if !Exists(path) {
		return nil
	}
	if err := os.RemoveAll(path); err == nil {
		return nil
	}

	makeWritable(path)
	if err := os.RemoveAll(path); err != nil {
		return &Error{Op: "delete", Path: path, Err: err}
	}
	return nil
}

func makeWritable(root string) {
	filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			os.Chmod(p, 0o755)
		} else {
			os.Chmod(p, 0o644)
		}
		return nil
	})
}
