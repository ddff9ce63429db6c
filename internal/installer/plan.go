package installer

import (
	"path/filepath"

	"github.com/sdlite/sdlite-setup/internal/config"
	"github.com/sdlite/sdlite-setup/internal/source"
)

// PlannedArchive is what Run will do with one archive.
type PlannedArchive struct {
	Name        string      `json:"name"`
	Role        config.Role `json:"role"`
	URL         string      `json:"url"`
	Source      string      `json:"source"`
	Target      string      `json:"target"`
	Download    string      `json:"download"`
	TempDir     string      `json:"temp_dir"`
	Marker      string      `json:"marker,omitempty"`
	Toolchain   string      `json:"toolchain,omitempty"`
	RootMarkers []string    `json:"root_markers"`
}

// Plan resolves the archives of opts without touching the filesystem.
func Plan(opts Options) []PlannedArchive {
	s := opts.Structure
	if s == nil {
		s = config.DefaultStructure()
	}
	plan := make([]PlannedArchive, 0, len(s.Archives))
	for _, a := range s.Archives {
		target := opts.InstallDir
		if a.Role == config.RoleDependency {
			target = filepath.Join(opts.InstallDir, filepath.FromSlash(a.Target))
		}
		scheme := source.Scheme(a.URL)
		if scheme == "" {
			scheme = "file"
		}
		plan = append(plan, PlannedArchive{
			Name:        a.Name,
			Role:        a.Role,
			URL:         a.URL,
			Source:      scheme,
			Target:      target,
			Download:    filepath.Join(opts.InstallDir, downloadsDir, downloadName(a)),
			TempDir:     filepath.Join(opts.InstallDir, tempName(a)),
			Marker:      a.Marker,
			Toolchain:   a.Toolchain,
			RootMarkers: a.RootMarkersOr(s.RepoRootMarkers),
		})
	}
	return plan
}
