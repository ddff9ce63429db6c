package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ErrInvalidStructure wraps every structure validation failure.
var ErrInvalidStructure = errors.New("invalid structure")

// Role says where an archive's content is merged.
type Role string

const (
	// RoleProject archives are merged into the install directory itself.
	RoleProject Role = "project"
	// RoleDependency archives replace their own target subdirectory.
	RoleDependency Role = "dependency"
)

// ToolchainFolder is the wrapper folder MinGW development archives put
// their payload in.
const ToolchainFolder = "x86_64-w64-mingw32"

// Archive is one configured download.
type Archive struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Role Role   `json:"role"`
	// Target is the install-relative directory a dependency is placed in.
	Target string `json:"target,omitempty"`
	// Marker is a file path, relative to the archive root, that proves
	// the payload is at the right depth.
	Marker      string   `json:"marker,omitempty"`
	Toolchain   string   `json:"toolchain,omitempty"`
	RootMarkers []string `json:"root_markers,omitempty"`
}

// Structure describes the expected install layout and the archives that
// populate it.
type Structure struct {
	CreateDirs      []string          `json:"create_dirs"`
	Markers         map[string]string `json:"markers"`
	RepoRootMarkers []string          `json:"repo_root_markers,omitempty"`
	Archives        []Archive         `json:"archives,omitempty"`
}

// Default archive sources.
const (
	DefaultRepoURL      = "https://github.com/therealpixeles/SDLite/archive/refs/heads/main.zip"
	DefaultSDL2URL      = "https://github.com/libsdl-org/SDL/releases/download/release-2.32.10/SDL2-devel-2.32.10-mingw.zip"
	DefaultSDL2ImageURL = "https://github.com/libsdl-org/SDL_image/releases/download/release-2.8.8/SDL2_image-devel-2.8.8-mingw.zip"
)

// DefaultRootMarkers identify the project root inside the repo archive.
var DefaultRootMarkers = []string{"include", "src", "res"}

// DefaultDependencyRootMarkers identify the payload root of a dependency.
var DefaultDependencyRootMarkers = []string{"include", "lib", "bin"}

// DefaultArchives returns the SDLite repo plus SDL2 and SDL2_image.
func DefaultArchives() []Archive {
	return []Archive{
		{Name: "SDLite", URL: DefaultRepoURL, Role: RoleProject},
		{
			Name:      "SDL2",
			URL:       DefaultSDL2URL,
			Role:      RoleDependency,
			Target:    "external/SDL2",
			Marker:    "include/SDL2/SDL.h",
			Toolchain: ToolchainFolder,
		},
		{
			Name:      "SDL2_image",
			URL:       DefaultSDL2ImageURL,
			Role:      RoleDependency,
			Target:    "external/SDL2_image",
			Marker:    "include/SDL2/SDL_image.h",
			Toolchain: ToolchainFolder,
		},
	}
}

// DefaultStructure returns the built-in layout.
func DefaultStructure() *Structure {
	s := &Structure{
		CreateDirs: []string{
			"include", "src", "res",
			"external/SDL2", "external/SDL2_image",
			"bin/debug", "bin/release",
		},
		Markers: map[string]string{
			"SDL2":       "external/SDL2/include/SDL2/SDL.h",
			"SDL2_image": "external/SDL2_image/include/SDL2/SDL_image.h",
		},
		RepoRootMarkers: append([]string(nil), DefaultRootMarkers...),
		Archives:        DefaultArchives(),
	}
	return s
}

// LoadStructureFile reads and validates a structure JSON file.
func LoadStructureFile(p string) (*Structure, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read structure file: %w", err)
	}
	s, err := ParseStructure(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return s, nil
}

// ParseStructure decodes a structure document. create_dirs and markers
// are required; repo_root_markers and archives fall back to the defaults
// when absent.
func ParseStructure(data []byte) (*Structure, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, invalid("structure must be a JSON object: %v", err)
	}
	if _, ok := raw["create_dirs"]; !ok {
		return nil, invalid("'create_dirs' is required")
	}
	if _, ok := raw["markers"]; !ok {
		return nil, invalid("'markers' is required")
	}

	var s Structure
	if err := json.Unmarshal(raw["create_dirs"], &s.CreateDirs); err != nil {
		return nil, invalid("'create_dirs' must be a list of strings")
	}
	if err := json.Unmarshal(raw["markers"], &s.Markers); err != nil {
		return nil, invalid("'markers' must be an object of strings")
	}
	if v, ok := raw["repo_root_markers"]; ok {
		if err := json.Unmarshal(v, &s.RepoRootMarkers); err != nil {
			return nil, invalid("'repo_root_markers' must be a list of strings")
		}
	} else {
		s.RepoRootMarkers = append([]string(nil), DefaultRootMarkers...)
	}
	if v, ok := raw["archives"]; ok {
		if err := json.Unmarshal(v, &s.Archives); err != nil {
			return nil, invalid("'archives' must be a list of archive objects: %v", err)
		}
	} else {
		s.Archives = DefaultArchives()
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the structure. Every path must be relative and stay
// inside the install directory, and exactly one archive must be the
// project.
func (s *Structure) Validate() error {
	for _, d := range s.CreateDirs {
		if !localPath(d) {
			return invalid("create_dirs entry %q must be a relative path inside the install directory", d)
		}
	}
	for name, rel := range s.Markers {
		if !localPath(rel) {
			return invalid("marker %s -> %q must be a relative path inside the install directory", name, rel)
		}
	}
	if len(s.RepoRootMarkers) == 0 {
		return invalid("'repo_root_markers' must not be empty")
	}
	if len(s.Archives) == 0 {
		return invalid("at least one archive is required")
	}

	projects := 0
	seen := make(map[string]bool)
	for i := range s.Archives {
		a := &s.Archives[i]
		if a.Name == "" {
			return invalid("archive %d has no name", i)
		}
		// Names become temp and download file names, which are lower case.
		key := strings.ToLower(a.Name)
		if seen[key] {
			return invalid("archive name %q is used twice", a.Name)
		}
		seen[key] = true
		if strings.TrimSpace(a.URL) == "" {
			return invalid("archive %s has no url", a.Name)
		}
		if a.Marker != "" && !localPath(a.Marker) {
			return invalid("archive %s marker %q must be a relative path", a.Name, a.Marker)
		}
		if a.Toolchain != "" && (strings.ContainsAny(a.Toolchain, `/\`) || a.Toolchain == "." || a.Toolchain == "..") {
			return invalid("archive %s toolchain %q must be a single folder name", a.Name, a.Toolchain)
		}

		switch a.Role {
		case RoleProject:
			projects++
			if a.Target != "" {
				return invalid("project archive %s must not set a target", a.Name)
			}
		case RoleDependency:
			if a.Target == "" || !localPath(a.Target) {
				return invalid("dependency %s needs a relative target inside the install directory", a.Name)
			}
		default:
			return invalid("archive %s has unknown role %q", a.Name, a.Role)
		}
	}
	if projects != 1 {
		return invalid("exactly one project archive is required, found %d", projects)
	}
	return nil
}

// SetURL replaces the URL of the named archive.
func (s *Structure) SetURL(name, u string) error {
	for i := range s.Archives {
		if s.Archives[i].Name == name {
			s.Archives[i].URL = u
			return nil
		}
	}
	return invalid("no archive named %q to override", name)
}

// Project returns the project archive.
func (s *Structure) Project() Archive {
	for _, a := range s.Archives {
		if a.Role == RoleProject {
			return a
		}
	}
	return Archive{}
}

// MarkerNames returns the marker names in a stable order.
func (s *Structure) MarkerNames() []string {
	names := make([]string, 0, len(s.Markers))
	for name := range s.Markers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RootMarkersOr returns the markers that identify this archive's root,
// falling back to projectMarkers for the project archive.
func (a Archive) RootMarkersOr(projectMarkers []string) []string {
	if len(a.RootMarkers) > 0 {
		return a.RootMarkers
	}
	if a.Role == RoleProject {
		return projectMarkers
	}
	return DefaultDependencyRootMarkers
}

// localPath reports whether p is a non-empty relative path that does not
// climb out of its base.
func localPath(p string) bool {
	if p == "" || filepath.IsAbs(p) || filepath.VolumeName(p) != "" || strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) {
		return false
	}
	clean := path.Clean(strings.ReplaceAll(p, `\`, "/"))
	return clean != "." && clean != ".." && !strings.HasPrefix(clean, "../")
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidStructure, fmt.Sprintf(format, args...))
}
