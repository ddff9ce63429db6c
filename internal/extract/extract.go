// Package extract unpacks downloaded archives. Extractors may return
// before the work is done; completion is established separately by
// Poller.AwaitStable.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/sdlite/sdlite-setup/internal/fsutil"
	"github.com/sdlite/sdlite-setup/internal/logging"
)

// Extractor unpacks an archive into a directory.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string) error
	Name() string
}

// New returns the external command extractor when command is set and
// the built-in ZIP extractor otherwise.
func New(command string) (Extractor, error) {
	if strings.TrimSpace(command) == "" {
		return ZipExtractor{}, nil
	}
	return NewCommandExtractor(command)
}

// ZipExtractor decodes ZIP archives in-process. It finishes synchronously
// but is still followed by stability polling like any other extractor.
type ZipExtractor struct{}

func (ZipExtractor) Name() string { return "zip" }

// Extract writes every entry of the archive below destDir. Entries whose
// cleaned path would land outside destDir are rejected.
func (ZipExtractor) Extract(ctx context.Context, archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return &Error{Archive: archivePath, Dest: destDir, Err: err}
	}
	defer r.Close()

	if err := fsutil.EnsureDir(destDir); err != nil {
		return err
	}
	root, err := filepath.Abs(destDir)
	if err != nil {
		return &Error{Archive: archivePath, Dest: destDir, Err: err}
	}

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := entryPath(root, f.Name)
		if err != nil {
			return &Error{Archive: archivePath, Dest: destDir, Err: err}
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := fsutil.EnsureDir(target); err != nil {
				return err
			}
		case mode&os.ModeSymlink != 0:
			if err := writeSymlink(root, target, f); err != nil {
				return &Error{Archive: archivePath, Dest: destDir, Err: err}
			}
		default:
			if err := writeFile(target, f); err != nil {
				if de, ok := err.(*decodeError); ok {
					return &Error{Archive: archivePath, Dest: destDir, Err: fmt.Errorf("%s: %w", f.Name, de.err)}
				}
				return err
			}
		}
	}

	logging.Debug("zip extracted",
		zap.String("archive", archivePath),
		zap.String("dest", destDir),
		zap.Int("entries", len(r.File)))
	return nil
}

// entryPath joins an archive entry name onto root and rejects names that
// escape it.
func entryPath(root, name string) (string, error) {
	rel := filepath.FromSlash(strings.ReplaceAll(name, `\`, "/"))
	if filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", fmt.Errorf("entry %q has an absolute path", name)
	}
	target := filepath.Join(root, rel)
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %q escapes the destination", name)
	}
	return target, nil
}

func writeFile(target string, f *zip.File) error {
	if err := fsutil.EnsureParentDirs(target); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return &decodeError{err: err}
	}
	defer rc.Close()

	perm := f.Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm|0o200)
	if err != nil {
		return fsutil.Wrap("create", target, err)
	}
	if _, err := io.Copy(out, decodeReader{rc}); err != nil {
		out.Close()
		if de, ok := err.(*decodeError); ok {
			return de
		}
		return fsutil.Wrap("write", target, err)
	}
	return fsutil.Wrap("close", target, out.Close())
}

// decodeError is a failure reading an entry out of the archive, such as
// a checksum mismatch or a corrupt deflate stream.
type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return e.err.Error() }

// decodeReader tags read errors so io.Copy failures can be told apart
// from write failures.
type decodeReader struct {
	r io.Reader
}

func (d decodeReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err != nil && err != io.EOF {
		err = &decodeError{err: err}
	}
	return n, err
}

func writeSymlink(root, target string, f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	link, err := io.ReadAll(io.LimitReader(rc, 4096))
	if err != nil {
		return err
	}

	dest := string(link)
	resolved := dest
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(filepath.Dir(target), resolved)
	}
	if resolved != root && !strings.HasPrefix(filepath.Clean(resolved), root+string(filepath.Separator)) {
		return fmt.Errorf("symlink %q points outside the destination", f.Name)
	}
	if err := fsutil.EnsureParentDirs(target); err != nil {
		return err
	}
	if err := fsutil.DeleteTree(target); err != nil {
		return err
	}
	return os.Symlink(dest, target)
}

// CommandExtractor runs an external program such as unzip or tar. The
// program is started and left running; a failed exit is reported on the
// channel returned by Exit.
type CommandExtractor struct {
	args []string

	mu    sync.Mutex
	exits map[string]chan error
}

// ExitReporter is implemented by extractors that can report the outcome
// of work still running after Extract returned.
type ExitReporter interface {
	// Exit returns a channel that receives the error of a failed run into
	// destDir, or is closed once the run succeeded. It is nil when no run
	// into destDir was started.
	Exit(destDir string) <-chan error
}

// NewCommandExtractor parses a command template. The template is split
// on whitespace and must reference both {archive} and {dest}.
func NewCommandExtractor(template string) (*CommandExtractor, error) {
	args := strings.Fields(template)
	if len(args) == 0 {
		return nil, errors.New("empty extract command")
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "{archive}") || !strings.Contains(joined, "{dest}") {
		return nil, fmt.Errorf("extract command %q must contain {archive} and {dest}", template)
	}
	return &CommandExtractor{args: args, exits: make(map[string]chan error)}, nil
}

func (c *CommandExtractor) Name() string { return c.args[0] }

// Extract starts the command and returns as soon as it is running.
func (c *CommandExtractor) Extract(ctx context.Context, archivePath, destDir string) error {
	if err := fsutil.EnsureDir(destDir); err != nil {
		return err
	}

	argv := make([]string, len(c.args))
	for i, a := range c.args {
		a = strings.ReplaceAll(a, "{archive}", archivePath)
		argv[i] = strings.ReplaceAll(a, "{dest}", destDir)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderr, n: 8192}
	if err := cmd.Start(); err != nil {
		return &Error{Archive: archivePath, Dest: destDir, Err: err}
	}

	exit := make(chan error, 1)
	c.mu.Lock()
	c.exits[destDir] = exit
	c.mu.Unlock()

	log := logging.WithContext(ctx)
	log.Debug("extract command started", zap.Strings("argv", argv), zap.Int("pid", cmd.Process.Pid))
	go func() {
		defer close(exit)
		if err := cmd.Wait(); err != nil {
			msg := strings.TrimSpace(stderr.String())
			log.Warn("extract command exited with error",
				zap.Strings("argv", argv),
				zap.String("stderr", msg),
				zap.Error(err))
			if msg != "" {
				err = fmt.Errorf("%w: %s", err, msg)
			}
			exit <- &Error{Archive: archivePath, Dest: destDir, Err: err}
			return
		}
		log.Debug("extract command finished", zap.String("archive", archivePath))
	}()
	return nil
}

func (c *CommandExtractor) Exit(destDir string) <-chan error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.exits[destDir]; ok {
		return ch
	}
	return nil
}

// limitedWriter keeps the first n bytes and silently drops the rest.
type limitedWriter struct {
	w io.Writer
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.n <= 0 {
		return len(p), nil
	}
	keep := p
	if len(keep) > l.n {
		keep = keep[:l.n]
	}
	l.n -= len(keep)
	if _, err := l.w.Write(keep); err != nil {
		return 0, err
	}
	return len(p), nil
}
