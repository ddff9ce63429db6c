// Package installer runs the bootstrap pipeline: for every configured
// archive it downloads, extracts, locates the payload root and merges it
// into the install directory, then creates the expected structure,
// validates it and cleans up.
package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/sdlite/sdlite-setup/internal/config"
	"github.com/sdlite/sdlite-setup/internal/extract"
	"github.com/sdlite/sdlite-setup/internal/fsutil"
	"github.com/sdlite/sdlite-setup/internal/layout"
	"github.com/sdlite/sdlite-setup/internal/locate"
	"github.com/sdlite/sdlite-setup/internal/logging"
	"github.com/sdlite/sdlite-setup/internal/metrics"
	"github.com/sdlite/sdlite-setup/internal/progress"
	"github.com/sdlite/sdlite-setup/internal/source"
)

const (
	downloadsDir   = ".downloads"
	projectTempDir = ".tmp_repo"
	tempPrefix     = ".tmp_"

	// fallbackFlatten bounds the extra unwrapping applied to a project
	// root the locator could not recognise.
	fallbackFlatten = 6

	// Share of the overall percentage used by the per-archive steps.
	archiveSpan = 90
)

// Options configures one installation.
type Options struct {
	// InstallDir is the destination with the project subfolder appended.
	InstallDir    string
	Structure     *config.Structure
	KeepDownloads bool
	KeepTemp      bool
}

// Deps are the components the installer drives.
type Deps struct {
	Fetcher   source.Fetcher
	Extractor extract.Extractor
	Poller    extract.Poller
}

// ArchiveResult describes how one archive was installed.
type ArchiveResult struct {
	Name   string      `json:"name"`
	Role   config.Role `json:"role"`
	Target string      `json:"target"`
	// Root is the payload root relative to the extraction directory.
	Root      string `json:"root"`
	RootFound bool   `json:"root_found"`
	Bytes     int64  `json:"bytes"`
}

// Report is the outcome of a run. It is returned even when the run
// fails, with the transitions up to the failure.
type Report struct {
	InstallDir  string          `json:"install_dir"`
	Archives    []ArchiveResult `json:"archives"`
	Validation  []Check         `json:"validation"`
	Transitions []Transition    `json:"transitions"`
	Warnings    []string        `json:"warnings,omitempty"`
}

// Installer runs installations. A single Installer runs at most one
// installation at a time.
type Installer struct {
	opts    Options
	deps    Deps
	running atomic.Bool
}

// New creates an Installer. A nil Structure means the default structure,
// and a nil Extractor means the built-in ZIP extractor.
func New(opts Options, deps Deps) *Installer {
	if opts.Structure == nil {
		opts.Structure = config.DefaultStructure()
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.ZipExtractor{}
	}
	return &Installer{opts: opts, deps: deps}
}

// Running reports whether Run is in progress. Hosts use it to refuse
// closing while the install directory is being modified.
func (in *Installer) Running() bool {
	return in.running.Load()
}

// run is the state of one Run call.
type run struct {
	*Installer
	ctx      context.Context
	sink     progress.Sink
	report   *Report
	reserved map[string]bool

	state   State
	archive string
	since   time.Time
}

// Run performs the installation. Every fatal error is returned as an
// *Error naming the state it happened in; unrecognised archive layouts
// and missing markers only add warnings to the report.
func (in *Installer) Run(ctx context.Context, sink progress.Sink) (*Report, error) {
	if !in.running.CompareAndSwap(false, true) {
		return nil, ErrRunning
	}
	defer in.running.Store(false)
	if sink == nil {
		sink = progress.Nop{}
	}

	r := &run{
		Installer: in,
		ctx:       ctx,
		sink:      sink,
		report:    &Report{InstallDir: in.opts.InstallDir},
		reserved:  reservedNames(in.opts.Structure),
	}
	if err := r.execute(); err != nil {
		return r.report, r.fail(err)
	}
	metrics.RecordRun("success")
	return r.report, nil
}

func (r *run) execute() error {
	dir := r.opts.InstallDir
	s := r.opts.Structure

	r.enter(StateSelectingDestination, "")
	if strings.TrimSpace(dir) == "" {
		return errors.New("no install directory given")
	}
	r.sink.Status("Preparing " + dir)
	r.sink.Percent(0)
	if err := fsutil.EnsureDir(dir); err != nil {
		return err
	}
	progress.Logf(r.sink, "Installing into %s", dir)
	if err := r.removeTemp(true); err != nil {
		return err
	}

	n := len(s.Archives)
	for i, a := range s.Archives {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		if err := r.installArchive(i, n, a); err != nil {
			return err
		}
	}

	r.enter(StateCreatingStructure, "")
	r.sink.Status("Creating folder structure...")
	if err := EnsureStructure(dir, s); err != nil {
		return err
	}
	r.sink.Percent(92)

	r.enter(StateValidating, "")
	r.sink.Status("Validating installation...")
	r.report.Validation = Validate(dir, s)
	for _, c := range r.report.Validation {
		r.sink.Log(c.String())
		metrics.RecordValidation(string(c.Status))
	}
	r.sink.Percent(95)

	r.enter(StateCleaningUp, "")
	r.sink.Status("Cleaning up...")
	if err := r.removeTemp(false); err != nil {
		return err
	}
	r.sink.Percent(98)

	r.enter(StateDone, "")
	r.sink.Status("Done!")
	r.sink.Percent(100)
	progress.Logf(r.sink, "Installed into %s", dir)
	return nil
}

// installArchive runs the per-archive steps. Archive i of n moves the
// overall percentage from i*90/n up to (i+1)*90/n; while downloading
// the sink shows that download's own percentage.
func (r *run) installArchive(i, n int, a config.Archive) error {
	lo := i * archiveSpan / n
	hi := (i + 1) * archiveSpan / n
	step := func(tenths int) { r.sink.Percent(lo + (hi-lo)*tenths/10) }

	dir := r.opts.InstallDir
	tmp := filepath.Join(dir, tempName(a))
	archivePath := filepath.Join(dir, downloadsDir, downloadName(a))
	log := logging.WithContext(logging.WithFields(r.ctx, zap.String("archive", a.Name)))
	res := ArchiveResult{Name: a.Name, Role: a.Role, Target: a.Target}

	r.enter(StateDownloading, a.Name)
	r.sink.Status(fmt.Sprintf("Downloading %s...", a.Name))
	progress.Logf(r.sink, "Downloading %s from %s", a.Name, a.URL)
	size, err := r.deps.Fetcher.Fetch(r.ctx, a.URL, archivePath, r.sink)
	if err != nil {
		return err
	}
	res.Bytes = size
	step(4)

	r.enter(StateExtracting, a.Name)
	r.sink.Status(fmt.Sprintf("Extracting %s...", a.Name))
	if err := fsutil.DeleteTree(tmp); err != nil {
		return err
	}
	if err := fsutil.EnsureDir(tmp); err != nil {
		return err
	}
	if err := r.deps.Extractor.Extract(r.ctx, archivePath, tmp); err != nil {
		return err
	}
	var exit <-chan error
	if er, ok := r.deps.Extractor.(extract.ExitReporter); ok {
		exit = er.Exit(tmp)
	}
	if err := r.deps.Poller.AwaitExit(r.ctx, tmp, a.Name, exit, r.sink); err != nil {
		return err
	}
	step(7)

	r.enter(StateLocatingRoot, a.Name)
	r.sink.Status(fmt.Sprintf("Locating %s root...", a.Name))
	if a.Marker != "" {
		found, err := layout.FlattenUntilMarker(tmp, a.Marker, layout.DefaultMaxFlatten, r.sink)
		if err != nil {
			return err
		}
		if !found {
			log.Info("marker not reached by flattening", zap.String("marker", a.Marker))
		}
	}
	if a.Toolchain != "" {
		if _, err := layout.FlattenNamedFolder(tmp, a.Toolchain); err != nil {
			return err
		}
	}
	root, err := locate.New(a.RootMarkersOr(r.opts.Structure.RepoRootMarkers)).Locate(tmp)
	switch {
	case errors.Is(err, locate.ErrNotFound):
		root, err = r.fallbackRoot(a, root)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		res.RootFound = true
		progress.Logf(r.sink, "%s root: %s", a.Name, relOrSelf(tmp, root))
	}
	res.Root = relOrSelf(tmp, root)
	step(8)

	r.enter(StateMerging, a.Name)
	target := dir
	if a.Role == config.RoleDependency {
		target = filepath.Join(dir, filepath.FromSlash(a.Target))
		r.sink.Status(fmt.Sprintf("Placing %s in %s...", a.Name, a.Target))
		if err := fsutil.DeleteTree(target); err != nil {
			return err
		}
	} else {
		r.sink.Status(fmt.Sprintf("Merging %s...", a.Name))
	}
	if err := r.merge(root, target); err != nil {
		return err
	}
	step(9)

	r.enter(StateFlatteningToolchain, a.Name)
	if a.Toolchain != "" {
		ok, err := layout.FlattenNamedFolder(target, a.Toolchain)
		if err != nil {
			return err
		}
		if ok {
			progress.Logf(r.sink, "Flattened %s in %s", a.Toolchain, relOrSelf(dir, target))
		}
	}
	r.report.Archives = append(r.report.Archives, res)
	log.Info("archive installed",
		zap.String("root", res.Root),
		zap.Bool("root_found", res.RootFound),
		zap.String("size", humanize.Bytes(uint64(size))))
	step(10)
	return nil
}

// fallbackRoot handles an archive whose root could not be located. The
// best-effort directory is used as is, after a few more single-wrapper
// flattens for the project archive.
func (r *run) fallbackRoot(a config.Archive, best string) (string, error) {
	if a.Role == config.RoleProject {
		for i := 0; i < fallbackFlatten; i++ {
			ok, err := layout.FlattenSingleWrapper(best)
			if err != nil {
				return "", err
			}
			if !ok {
				break
			}
		}
	}
	metrics.RecordRootFallback()
	r.warn(fmt.Sprintf("Could not locate the %s root; using %s as is", a.Name, best))
	return best, nil
}

// merge moves every entry of src into dst, skipping the installer's own
// working folders should the archive happen to contain them.
func (r *run) merge(src, dst string) error {
	if err := fsutil.EnsureDir(dst); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return fsutil.Wrap("readdir", src, err)
	}
	for _, e := range entries {
		if r.reserved[e.Name()] {
			logging.Debug("skipping reserved name", zap.String("name", e.Name()), zap.String("src", src))
			continue
		}
		if err := fsutil.MoveTree(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
		r.sink.Pump()
	}
	return nil
}

// removeTemp deletes the extraction folders and, unless downloads are
// kept, the downloads folder. At the start of a run everything left by
// an earlier run is removed regardless of the keep options.
func (r *run) removeTemp(stale bool) error {
	dir := r.opts.InstallDir
	var paths []string
	if stale || !r.opts.KeepTemp {
		for _, a := range r.opts.Structure.Archives {
			paths = append(paths, filepath.Join(dir, tempName(a)))
		}
	}
	if stale || !r.opts.KeepDownloads {
		paths = append(paths, filepath.Join(dir, downloadsDir))
	}
	for _, p := range paths {
		if !fsutil.Exists(p) {
			continue
		}
		if stale {
			progress.Logf(r.sink, "Removing leftover %s", filepath.Base(p))
		}
		if err := fsutil.DeleteTree(p); err != nil {
			return err
		}
		r.sink.Pump()
	}
	return nil
}

func (r *run) enter(s State, archive string) {
	now := time.Now()
	if !r.since.IsZero() {
		metrics.RecordStage(r.state.String(), now.Sub(r.since))
	}
	r.state, r.archive, r.since = s, archive, now
	r.report.Transitions = append(r.report.Transitions, Transition{State: s, Archive: archive, At: now})
	logging.Debug("state", zap.Stringer("state", s), zap.String("archive", archive))
}

func (r *run) warn(msg string) {
	r.report.Warnings = append(r.report.Warnings, msg)
	r.sink.Log("WARNING: " + msg)
	logging.Warn(msg)
}

// fail records the failure and cleans up like a successful run would.
func (r *run) fail(err error) error {
	e := &Error{State: r.state, Archive: r.archive, Err: err}
	r.enter(StateFailed, "")
	r.sink.Indeterminate(false)
	r.sink.Status("Failed: " + e.Error())
	r.sink.Log("ERROR: " + e.Error())
	logging.Error("installation failed",
		zap.String("state", e.State.String()),
		zap.String("archive", e.Archive),
		zap.String("kind", string(KindOf(err))),
		zap.Error(err))

	if strings.TrimSpace(r.opts.InstallDir) != "" {
		if derr := r.removeTemp(false); derr != nil {
			logging.Warn("temp folders not removed", zap.Error(derr))
		}
	}
	metrics.RecordRun("failure")
	return e
}

// tempName is the extraction folder of an archive inside the install
// directory.
func tempName(a config.Archive) string {
	if a.Role == config.RoleProject {
		return projectTempDir
	}
	return tempPrefix + strings.ToLower(a.Name)
}

// downloadName is the file an archive is downloaded to inside the
// downloads folder.
func downloadName(a config.Archive) string {
	base := "repo"
	if a.Role != config.RoleProject {
		base = strings.ToLower(a.Name)
	}
	return base + archiveExt(a.URL)
}

var knownExts = []string{".tar.gz", ".tar.xz", ".tar.bz2", ".tgz", ".tar", ".7z", ".zip"}

func archiveExt(rawURL string) string {
	name := strings.ToLower(rawURL)
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	for _, ext := range knownExts {
		if strings.HasSuffix(name, ext) {
			return ext
		}
	}
	return ".zip"
}

func reservedNames(s *config.Structure) map[string]bool {
	names := map[string]bool{downloadsDir: true}
	for _, a := range s.Archives {
		names[tempName(a)] = true
	}
	return names
}

func relOrSelf(base, p string) string {
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(rel)
}
