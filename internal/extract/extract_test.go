package extract

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sdlite/sdlite-setup/internal/fsutil"
	"github.com/sdlite/sdlite-setup/internal/logging"
	"github.com/sdlite/sdlite-setup/internal/progress"
)

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if body != "" {
			if _, err := w.Write([]byte(body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestZipExtract(t *testing.T) {
	root := t.TempDir()
	archive := filepath.Join(root, "repo.zip")
	writeZip(t, archive, map[string]string{
		"SDLite-main/":                 "",
		"SDLite-main/include/sdlite.h": "#pragma once",
		"SDLite-main/src/main.c":       "int main(void){return 0;}",
		"SDLite-main/res/":             "",
	})

	dest := filepath.Join(root, ".tmp_repo")
	if err := (ZipExtractor{}).Extract(context.Background(), archive, dest); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	for _, rel := range []string{"SDLite-main/include/sdlite.h", "SDLite-main/src/main.c"} {
		if !fsutil.IsFile(filepath.Join(dest, filepath.FromSlash(rel))) {
			t.Errorf("%s missing after extraction", rel)
		}
	}
	if !fsutil.IsDir(filepath.Join(dest, "SDLite-main", "res")) {
		t.Error("empty directory entry should be created")
	}
}

func TestZipExtractRejectsEscapingEntries(t *testing.T) {
	tests := []string{"../evil.txt", "a/../../evil.txt", "/abs/evil.txt"}
	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			archive := filepath.Join(root, "bad.zip")
			writeZip(t, archive, map[string]string{name: "boom"})

			dest := filepath.Join(root, "out")
			err := (ZipExtractor{}).Extract(context.Background(), archive, dest)
			if _, ok := AsError(err); !ok {
				t.Fatalf("expected extraction Error, got %v", err)
			}
			if fsutil.Exists(filepath.Join(root, "evil.txt")) {
				t.Fatal("entry was written outside the destination")
			}
		})
	}
}

func TestZipExtractNotAnArchive(t *testing.T) {
	root := t.TempDir()
	archive := filepath.Join(root, "page.zip")
	if err := os.WriteFile(archive, []byte("<html>not found</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := (ZipExtractor{}).Extract(context.Background(), archive, filepath.Join(root, "out"))
	ee, ok := AsError(err)
	if !ok {
		t.Fatalf("expected extraction Error, got %v", err)
	}
	if ee.Archive != archive {
		t.Errorf("Archive = %q, want %q", ee.Archive, archive)
	}
}

func TestNewCommandExtractor(t *testing.T) {
	tests := []struct {
		template string
		wantErr  bool
	}{
		{"unzip -o -q {archive} -d {dest}", false},
		{"tar -xf {archive} -C {dest}", false},
		{"unzip {archive}", true},
		{"   ", true},
	}
	for _, tt := range tests {
		_, err := NewCommandExtractor(tt.template)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewCommandExtractor(%q) error = %v, wantErr %v", tt.template, err, tt.wantErr)
		}
	}
}

func TestCommandExtractorStartFailure(t *testing.T) {
	c, err := NewCommandExtractor("sdlite-no-such-binary {archive} {dest}")
	if err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	err = c.Extract(context.Background(), filepath.Join(root, "a.zip"), filepath.Join(root, "out"))
	if _, ok := AsError(err); !ok {
		t.Fatalf("expected extraction Error for a missing binary, got %v", err)
	}
}

func TestZipExtractCorruptEntry(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "include/SDL.h", Method: zip.Store})
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte("#define SDL_MAJOR_VERSION 2")
	if _, err := w.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	i := bytes.Index(data, payload)
	if i < 0 {
		t.Fatal("payload not found in archive")
	}
	data[i] ^= 0xff

	root := t.TempDir()
	archive := filepath.Join(root, "sdl2.zip")
	if err := os.WriteFile(archive, data, 0o644); err != nil {
		t.Fatal(err)
	}
	err = (ZipExtractor{}).Extract(context.Background(), archive, filepath.Join(root, "out"))
	if _, ok := AsError(err); !ok {
		t.Fatalf("expected extraction Error for a checksum mismatch, got %v", err)
	}
	if _, ok := fsutil.AsError(err); ok {
		t.Errorf("checksum mismatch reported as a file system error: %v", err)
	}
}

func lookCommand(t *testing.T, name string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX userland")
	}
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not on PATH", name)
	}
}

func TestCommandExtractorReportsFailedExit(t *testing.T) {
	lookCommand(t, "false")
	core, logs := observer.New(zapcore.WarnLevel)
	defer logging.UseLogger(zap.New(core))()

	c, err := NewCommandExtractor("false {archive} {dest}")
	if err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	dest := filepath.Join(root, "out")
	if err := c.Extract(context.Background(), filepath.Join(root, "a.zip"), dest); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	p := Poller{Interval: 10 * time.Millisecond, StableTicks: 3, Timeout: 5 * time.Second}
	start := time.Now()
	err = p.AwaitExit(context.Background(), dest, "a", c.Exit(dest), progress.Nop{})
	if _, ok := AsError(err); !ok {
		t.Fatalf("expected extraction Error for a failed command, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("failure reported after %s, want well before the timeout", elapsed)
	}
	if logs.FilterMessage("extraction failed").Len() != 1 {
		t.Errorf("expected one extraction failed warning, got %v", logs.All())
	}
}

func TestCommandExtractorSuccess(t *testing.T) {
	lookCommand(t, "cp")
	c, err := NewCommandExtractor("cp {archive} {dest}")
	if err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	archive := filepath.Join(root, "a.zip")
	writeZip(t, archive, map[string]string{"include/a.h": "x"})
	dest := filepath.Join(root, "out")
	if err := c.Extract(context.Background(), archive, dest); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	p := Poller{Interval: 10 * time.Millisecond, StableTicks: 3, Timeout: 5 * time.Second}
	if err := p.AwaitExit(context.Background(), dest, "a", c.Exit(dest), progress.Nop{}); err != nil {
		t.Fatalf("AwaitExit: %v", err)
	}
	if !fsutil.IsFile(filepath.Join(dest, "a.zip")) {
		t.Error("command output missing from destination")
	}
	if c.Exit(filepath.Join(root, "other")) != nil {
		t.Error("Exit for a directory never extracted into should be nil")
	}
}

func TestNewPicksExtractor(t *testing.T) {
	ex, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	if ex.Name() != "zip" {
		t.Errorf("default extractor = %s, want zip", ex.Name())
	}
	ex, err = New("unzip -o -q {archive} -d {dest}")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ex.Name(), "unzip") {
		t.Errorf("command extractor name = %s", ex.Name())
	}
}
