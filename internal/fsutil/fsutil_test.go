package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func mkdirs(t *testing.T, root string, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(d)), 0o755); err != nil {
			t.Fatal(err)
		}
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestEnsureParentDirsDoesNotCreateFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "a", "b", "report.txt")

	if err := EnsureParentDirs(file); err != nil {
		t.Fatalf("EnsureParentDirs: %v", err)
	}
	if !IsDir(filepath.Join(root, "a")) || !IsDir(filepath.Join(root, "a", "b")) {
		t.Fatal("expected a and a/b to be directories")
	}
	if Exists(file) {
		t.Fatal("report.txt must not be created")
	}
	if err := os.WriteFile(file, []byte("ok"), 0o644); err != nil {
		t.Fatalf("writing the file after EnsureParentDirs failed: %v", err)
	}
}

func TestEnsureDirIdempotent(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "x", "y", "z")
	for i := 0; i < 2; i++ {
		if err := EnsureDir(dir); err != nil {
			t.Fatalf("EnsureDir run %d: %v", i, err)
		}
	}
	if !IsDir(dir) {
		t.Fatal("expected directory to exist")
	}
}

func TestEnsureDirRejectsFileSegment(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "blocker", "x")

	err := EnsureDir(filepath.Join(root, "blocker", "sub"))
	if err == nil {
		t.Fatal("expected error when a segment is a file")
	}
	if _, ok := AsError(err); !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !IsFile(filepath.Join(root, "blocker")) {
		t.Fatal("the blocking file must be left alone")
	}
}

func TestEnsureDirFilesystemRoot(t *testing.T) {
	if err := EnsureDir(string(filepath.Separator)); err != nil {
		t.Fatalf("EnsureDir on the root should be a no-op, got %v", err)
	}
	if err := EnsureDir(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestMoveFileOverwrites(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/file.txt", "new")
	writeFile(t, root, "dst/file.txt", "old")

	src := filepath.Join(root, "src", "file.txt")
	dst := filepath.Join(root, "dst", "file.txt")
	if err := MoveFile(src, dst); err != nil {
		t.Fatalf("MoveFile: %v", err)
	}
	if got := readFile(t, dst); got != "new" {
		t.Errorf("dst content = %q, want new", got)
	}
	if Exists(src) {
		t.Error("src should be gone")
	}
}

func TestMoveFileReplacesDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src.txt", "data")
	mkdirs(t, root, "dst.txt/inner")

	if err := MoveFile(filepath.Join(root, "src.txt"), filepath.Join(root, "dst.txt")); err != nil {
		t.Fatalf("MoveFile: %v", err)
	}
	if !IsFile(filepath.Join(root, "dst.txt")) {
		t.Fatal("dst should now be a file")
	}
}

func TestCopyEntryFallback(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.bin", "payload")
	if err := os.Chmod(filepath.Join(root, "a.bin"), 0o600); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(root, "b.bin")
	if err := copyEntry(filepath.Join(root, "a.bin"), dst); err != nil {
		t.Fatalf("copyEntry: %v", err)
	}
	if got := readFile(t, dst); got != "payload" {
		t.Errorf("copy content = %q", got)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestMoveTreeMerges(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/include/a.h", "a-new")
	writeFile(t, root, "src/src/main.c", "main")
	writeFile(t, root, "src/README", "readme")
	writeFile(t, root, "dst/include/a.h", "a-old")
	writeFile(t, root, "dst/include/keep.h", "keep")

	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	if err := MoveTree(src, dst); err != nil {
		t.Fatalf("MoveTree: %v", err)
	}

	tests := []struct{ rel, want string }{
		{"include/a.h", "a-new"},
		{"include/keep.h", "keep"},
		{"src/main.c", "main"},
		{"README", "readme"},
	}
	for _, tt := range tests {
		if got := readFile(t, filepath.Join(dst, filepath.FromSlash(tt.rel))); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.rel, got, tt.want)
		}
	}
	if Exists(src) {
		t.Error("emptied source tree should be removed")
	}
}

func TestMoveTreeIntoMissingDestination(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/lib/libSDL2.a", "lib")

	dst := filepath.Join(root, "external", "SDL2")
	if err := MoveTree(filepath.Join(root, "src"), dst); err != nil {
		t.Fatalf("MoveTree: %v", err)
	}
	if got := readFile(t, filepath.Join(dst, "lib", "libSDL2.a")); got != "lib" {
		t.Errorf("moved content = %q", got)
	}
}

func TestMoveTreeMissingSource(t *testing.T) {
	root := t.TempDir()
	if err := MoveTree(filepath.Join(root, "nope"), filepath.Join(root, "dst")); err != nil {
		t.Fatalf("missing source should be a no-op, got %v", err)
	}
	if Exists(filepath.Join(root, "dst")) {
		t.Error("nothing should be created for a missing source")
	}
}

func TestDeleteTree(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "tmp/a/b/c.txt", "x")
	ro := filepath.Join(root, "tmp", "a", "b", "c.txt")
	if err := os.Chmod(ro, 0o444); err != nil {
		t.Fatal(err)
	}

	if err := DeleteTree(filepath.Join(root, "tmp")); err != nil {
		t.Fatalf("DeleteTree: %v", err)
	}
	if Exists(filepath.Join(root, "tmp")) {
		t.Fatal("tree should be gone")
	}
	if err := DeleteTree(filepath.Join(root, "tmp")); err != nil {
		t.Fatalf("deleting a missing tree should succeed, got %v", err)
	}
}

func TestCensusOneLevel(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "wrapper/inner", "mixed/include")
	writeFile(t, root, "mixed/LICENSE", "mit")

	tests := []struct {
		dir     string
		want    Census
		wrapper bool
	}{
		{"wrapper", Census{Dirs: 1, Files: 0, Only: "inner"}, true},
		{"mixed", Census{Dirs: 1, Files: 1}, false},
		{"wrapper/inner", Census{}, false},
		{"missing", Census{}, false},
	}
	for _, tt := range tests {
		got, err := CensusOneLevel(filepath.Join(root, tt.dir))
		if err != nil {
			t.Fatalf("CensusOneLevel(%s): %v", tt.dir, err)
		}
		if got != tt.want {
			t.Errorf("CensusOneLevel(%s) = %+v, want %+v", tt.dir, got, tt.want)
		}
		if got.IsWrapper() != tt.wrapper {
			t.Errorf("CensusOneLevel(%s).IsWrapper() = %v", tt.dir, got.IsWrapper())
		}
	}
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a/b/one.txt", "12345")
	writeFile(t, root, "a/two.txt", "123")
	mkdirs(t, root, "empty")

	got := Scan(root)
	want := Snapshot{Files: 2, Dirs: 3, Bytes: 8}
	if got != want {
		t.Errorf("Scan = %+v, want %+v", got, want)
	}
	if got.Empty() {
		t.Error("snapshot should not be empty")
	}

	if s := Scan(filepath.Join(root, "missing")); !s.Empty() {
		t.Errorf("Scan(missing) = %+v, want empty", s)
	}
}

func TestChildDirs(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "b", "a")
	writeFile(t, root, "c.txt", "x")

	dirs, err := ChildDirs(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 2 || filepath.Base(dirs[0]) != "a" || filepath.Base(dirs[1]) != "b" {
		t.Errorf("ChildDirs = %v", dirs)
	}
}
