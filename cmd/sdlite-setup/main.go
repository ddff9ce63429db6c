// SDLite Setup
//
// Bootstraps an SDLite project folder:
// - downloads the SDLite repository and the SDL2 / SDL2_image MinGW archives
// - extracts them and finds the real payload root inside each archive
// - merges everything into <dest>/<subfolder> and validates the result
//
// Sources may be http(s)://, s3://bucket/key or local paths.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/sdlite/sdlite-setup/internal/cache"
	"github.com/sdlite/sdlite-setup/internal/config"
	"github.com/sdlite/sdlite-setup/internal/download"
	"github.com/sdlite/sdlite-setup/internal/extract"
	"github.com/sdlite/sdlite-setup/internal/installer"
	"github.com/sdlite/sdlite-setup/internal/logging"
	"github.com/sdlite/sdlite-setup/internal/metrics"
	"github.com/sdlite/sdlite-setup/internal/progress"
	"github.com/sdlite/sdlite-setup/internal/retry"
	"github.com/sdlite/sdlite-setup/internal/source"
)

// Exit codes.
const (
	exitOK         = 0
	exitUsage      = 1
	exitNetwork    = 2
	exitFileSystem = 3
	exitExtraction = 4
	exitFailed     = 5
	exitCanceled   = 130
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// options are the command-line settings layered over config.Load.
type options struct {
	dest          string
	subfolder     string
	structure     string
	keepDownloads bool
	keepTemp      bool
	extractCmd    string
	timeout       time.Duration
	cacheDir      string
	metricsFile   string
	events        bool
	jsonOut       bool
	verbose       bool
	urls          urlFlags
}

// urlFlags collects repeated -url name=URL overrides.
type urlFlags map[string]string

func (u urlFlags) String() string {
	parts := make([]string, 0, len(u))
	for name, v := range u {
		parts = append(parts, name+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (u urlFlags) Set(v string) error {
	name, rawURL, ok := strings.Cut(v, "=")
	if !ok || name == "" || rawURL == "" {
		return fmt.Errorf("expected name=URL, got %q", v)
	}
	u[name] = rawURL
	return nil
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return exitUsage
	}

	opts := options{urls: urlFlags{}}
	fs := flag.NewFlagSet("sdlite-setup", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(stderr) }
	fs.StringVar(&opts.dest, "dest", cfg.Dest, "Destination parent folder")
	fs.StringVar(&opts.subfolder, "subfolder", cfg.Subfolder, "Project folder created inside the destination")
	fs.StringVar(&opts.structure, "structure", cfg.StructureFile, "Custom structure JSON file")
	fs.BoolVar(&opts.keepDownloads, "keep-downloads", cfg.KeepDownloads, "Keep downloaded archives in .downloads")
	fs.BoolVar(&opts.keepTemp, "keep-temp", cfg.KeepTemp, "Keep extraction folders for debugging")
	fs.StringVar(&opts.extractCmd, "extract-cmd", cfg.ExtractCommand, "External extractor, e.g. \"unzip -o -q {archive} -d {dest}\"")
	fs.DurationVar(&opts.timeout, "timeout", cfg.ExtractTimeout, "Maximum wait for an extraction to settle")
	fs.StringVar(&opts.cacheDir, "cache", cfg.CacheDir, "Archive cache folder (empty disables the cache)")
	fs.StringVar(&opts.metricsFile, "metrics-file", cfg.MetricsFile, "Write Prometheus metrics to this file on exit")
	fs.BoolVar(&opts.events, "events", false, "Print progress events as JSON lines on stdout")
	fs.BoolVar(&opts.jsonOut, "json", false, "Print results as JSON")
	fs.BoolVar(&opts.verbose, "v", false, "Verbose logging")
	fs.Var(opts.urls, "url", "Override an archive source, name=URL (repeatable)")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return exitOK
		}
		return exitUsage
	}

	cfg.Dest = opts.dest
	cfg.Subfolder = opts.subfolder
	cfg.StructureFile = opts.structure
	cfg.KeepDownloads = opts.keepDownloads
	cfg.KeepTemp = opts.keepTemp
	cfg.ExtractCommand = opts.extractCmd
	cfg.ExtractTimeout = opts.timeout
	cfg.CacheDir = opts.cacheDir
	cfg.MetricsFile = opts.metricsFile
	for name, u := range opts.urls {
		cfg.URLOverrides[name] = u
	}
	if opts.verbose {
		cfg.LogLevel = "debug"
	}

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		fmt.Fprintf(stderr, "Logging init error: %v\n", err)
		return exitUsage
	}
	defer logging.Sync()

	cmd := "install"
	if rest := fs.Args(); len(rest) > 0 {
		cmd = rest[0]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var code int
	switch cmd {
	case "install":
		code = cmdInstall(ctx, cfg, opts, stdout, stderr)
	case "validate":
		code = cmdValidate(cfg, opts, stdout, stderr)
	case "plan":
		code = cmdPlan(cfg, opts, stdout, stderr)
	case "cache":
		code = cmdCache(cfg, opts, stdout, stderr)
	case "help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		printUsage(stderr)
		code = exitUsage
	}

	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			logging.Warn("failed to write metrics file", zap.String("path", cfg.MetricsFile), zap.Error(err))
		}
	}
	return code
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `SDLite Setup

Usage: sdlite-setup [flags] [command]

Flags:
  -dest <dir>            Destination parent folder (SDLITE_DEST)
  -subfolder <name>      Project folder inside the destination (default: SDLite)
  -structure <file>      Custom structure JSON file
  -url <name=URL>        Override an archive source; http(s)://, s3:// or a path
  -keep-downloads        Keep downloaded archives in .downloads
  -keep-temp             Keep extraction folders for debugging
  -extract-cmd <cmd>     External extractor with {archive} and {dest} placeholders
  -timeout <duration>    Maximum wait for an extraction to settle (default: 60s)
  -cache <dir>           Archive cache folder
  -metrics-file <file>   Write Prometheus metrics on exit
  -events                Print progress events as JSON lines on stdout
  -json                  Print results as JSON
  -v                     Verbose logging

Commands:
  install                Download, extract, merge and validate (default)
  validate               Check an existing installation
  plan                   Show what install would do
  cache                  List cached archives
  help                   Show this help message

Examples:
  sdlite-setup -dest ~/dev
  sdlite-setup -dest ~/dev -url SDL2=s3://mirror/SDL2-devel-2.32.10-mingw.zip
  sdlite-setup -dest ~/dev -extract-cmd "tar -xf {archive} -C {dest}"
  sdlite-setup -dest ~/dev validate`)
}

func cmdInstall(ctx context.Context, cfg *config.Config, opts options, stdout, stderr io.Writer) int {
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	s, err := cfg.Structure()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	deps, err := buildDeps(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}

	logging.Info("SDLite Setup starting...",
		zap.String("install_dir", cfg.InstallDir()),
		zap.String("extractor", deps.Extractor.Name()),
		zap.Int("archives", len(s.Archives)))

	var sinks []progress.Sink
	var term *progress.TermSink
	if opts.events {
		b := progress.NewBroadcaster()
		ch := b.Subscribe()
		done := make(chan struct{})
		go func() {
			defer close(done)
			for ev := range ch {
				if data, err := progress.MarshalEvent(ev); err == nil {
					fmt.Fprintln(stdout, string(data))
				}
			}
		}()
		defer func() {
			b.Unsubscribe(ch)
			<-done
		}()
		sinks = append(sinks, b, progress.NewLogSink())
	} else {
		term = progress.NewTermSink(stdout)
		sinks = append(sinks, term)
		if opts.verbose {
			sinks = append(sinks, progress.NewLogSink())
		}
	}

	in := installer.New(installer.Options{
		InstallDir:    cfg.InstallDir(),
		Structure:     s,
		KeepDownloads: cfg.KeepDownloads,
		KeepTemp:      cfg.KeepTemp,
	}, deps)

	report, err := in.Run(ctx, progress.Multi(sinks...))
	if term != nil {
		term.Finish()
	}

	if opts.jsonOut && !opts.events {
		writeJSON(stdout, report)
	} else if !opts.events {
		printSummary(stdout, report)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error [%s]: %v\n", installer.KindOf(err), err)
		return exitCode(err)
	}
	return exitOK
}

func cmdValidate(cfg *config.Config, opts options, stdout, stderr io.Writer) int {
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	s, err := cfg.Structure()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	checks := installer.Validate(cfg.InstallDir(), s)
	if opts.jsonOut {
		writeJSON(stdout, checks)
		return exitOK
	}
	for _, c := range checks {
		fmt.Fprintln(stdout, c.String())
	}
	fmt.Fprintf(stdout, "%d check(s), %d warning(s)\n", len(checks), installer.Warnings(checks))
	return exitOK
}

func cmdPlan(cfg *config.Config, opts options, stdout, stderr io.Writer) int {
	s, err := cfg.Structure()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	dir := cfg.InstallDir()
	if cfg.Dest == "" {
		dir = "<dest>/" + cfg.Subfolder
	}
	plan := installer.Plan(installer.Options{InstallDir: dir, Structure: s})
	if opts.jsonOut {
		writeJSON(stdout, plan)
		return exitOK
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tROLE\tSOURCE\tTARGET\tMARKER\tURL")
	for _, p := range plan {
		marker := p.Marker
		if marker == "" {
			marker = strings.Join(p.RootMarkers, ",")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", p.Name, p.Role, p.Source, p.Target, marker, p.URL)
	}
	w.Flush()
	return exitOK
}

func cmdCache(cfg *config.Config, opts options, stdout, stderr io.Writer) int {
	if cfg.CacheDir == "" {
		fmt.Fprintln(stderr, "No cache folder configured (-cache or SDLITE_CACHE_DIR)")
		return exitUsage
	}
	c, err := cache.New(cfg.CacheDir, cfg.CacheEntries)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening cache: %v\n", err)
		return exitFileSystem
	}
	entries := c.List()
	if opts.jsonOut {
		writeJSON(stdout, entries)
		return exitOK
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "Cache is empty")
		return exitOK
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSIZE\tSTORED\tURL")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Key, humanize.Bytes(uint64(e.Size)), humanize.Time(e.StoredAt), e.URL)
	}
	w.Flush()
	return exitOK
}

// buildDeps wires the fetcher chain, the extractor and the poller.
func buildDeps(cfg *config.Config) (installer.Deps, error) {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.RetryAttempts
	dl := download.New(download.Config{
		Timeout:     cfg.HTTPTimeout,
		UserAgent:   cfg.UserAgent,
		RetryConfig: rc,
	})

	var fetcher source.Fetcher = source.NewRouter(dl, source.S3Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	})
	if cfg.CacheDir != "" {
		c, err := cache.New(cfg.CacheDir, cfg.CacheEntries)
		if err != nil {
			return installer.Deps{}, err
		}
		fetcher = source.Cached(fetcher, c)
	}

	ex, err := extract.New(cfg.ExtractCommand)
	if err != nil {
		return installer.Deps{}, err
	}
	return installer.Deps{
		Fetcher:   fetcher,
		Extractor: ex,
		Poller: extract.Poller{
			Interval:    cfg.PollInterval,
			StableTicks: cfg.StableTicks,
			Timeout:     cfg.ExtractTimeout,
		},
	}, nil
}

func printSummary(w io.Writer, r *installer.Report) {
	if r == nil {
		return
	}
	fmt.Fprintln(w)
	for _, a := range r.Archives {
		root := a.Root
		if !a.RootFound {
			root += " (best guess)"
		}
		fmt.Fprintf(w, "  %-12s %8s  root: %s\n", a.Name, humanize.Bytes(uint64(a.Bytes)), root)
	}
	if n := installer.Warnings(r.Validation); n > 0 {
		fmt.Fprintf(w, "Validation: %d warning(s)\n", n)
	}
	for _, msg := range r.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", msg)
	}
	if len(r.Transitions) > 0 && r.Transitions[len(r.Transitions)-1].State == installer.StateDone {
		fmt.Fprintf(w, "SDLite is ready in %s\n", r.InstallDir)
	}
}

func writeJSON(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logging.Error("failed to encode output", zap.Error(err))
	}
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch installer.KindOf(err) {
	case installer.KindNone:
		return exitOK
	case installer.KindNetwork, installer.KindHTTPStatus, installer.KindRedirect:
		return exitNetwork
	case installer.KindFileSystem:
		return exitFileSystem
	case installer.KindExtraction, installer.KindTimeout:
		return exitExtraction
	case installer.KindConfig:
		return exitUsage
	case installer.KindCanceled:
		return exitCanceled
	default:
		return exitFailed
	}
}
