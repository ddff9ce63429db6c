package installer

import (
	"path/filepath"

	"github.com/sdlite/sdlite-setup/internal/config"
	"github.com/sdlite/sdlite-setup/internal/fsutil"
)

// Status is the outcome of one validation check.
type Status string

const (
	StatusOK      Status = "OK"
	StatusWarning Status = "WARNING"
)

// Check is one advisory validation result.
type Check struct {
	// Name is the marker name, or the directory for root markers.
	Name string `json:"name"`
	// Path is relative to the install directory, slash separated.
	Path   string `json:"path"`
	Dir    bool   `json:"dir"`
	Status Status `json:"status"`
}

func (c Check) String() string {
	p := c.Path
	if c.Dir {
		p += "/"
	}
	if c.Name != "" && c.Name != c.Path {
		return string(c.Status) + ": " + c.Name + " -> " + p
	}
	return string(c.Status) + ": " + p
}

// EnsureStructure creates every create_dirs entry below dir. Existing
// content is never touched.
func EnsureStructure(dir string, s *config.Structure) error {
	for _, d := range s.CreateDirs {
		if err := fsutil.EnsureDir(filepath.Join(dir, filepath.FromSlash(d))); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that the project root markers exist as directories,
// that every archive's toolchain folder has been dissolved and that
// every marker file exists. It never fails; problems are WARNING
// entries.
func Validate(dir string, s *config.Structure) []Check {
	var checks []Check
	for _, m := range s.RepoRootMarkers {
		checks = append(checks, check(m, m, fsutil.IsDir(join(dir, m)), true))
	}
	for _, a := range s.Archives {
		if a.Toolchain == "" {
			continue
		}
		target := "."
		if a.Role == config.RoleDependency {
			target = a.Target
		}
		leftover := filepath.ToSlash(filepath.Join(target, a.Toolchain))
		checks = append(checks, Check{
			Name:   a.Name + " toolchain flattened",
			Path:   leftover,
			Dir:    true,
			Status: statusOf(!fsutil.Exists(join(dir, leftover))),
		})
	}
	for _, name := range s.MarkerNames() {
		rel := s.Markers[name]
		checks = append(checks, check(name, rel, fsutil.IsFile(join(dir, rel)), false))
	}
	return checks
}

// Warnings counts the WARNING entries in checks.
func Warnings(checks []Check) int {
	n := 0
	for _, c := range checks {
		if c.Status == StatusWarning {
			n++
		}
	}
	return n
}

func check(name, rel string, ok, dir bool) Check {
	return Check{Name: name, Path: rel, Dir: dir, Status: statusOf(ok)}
}

func statusOf(ok bool) Status {
	if ok {
		return StatusOK
	}
	return StatusWarning
}

func join(dir, rel string) string {
	return filepath.Join(dir, filepath.FromSlash(rel))
}
