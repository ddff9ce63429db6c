package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func writeArchive(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestCache_PutAndGet(t *testing.T) {
	src := writeArchive(t, t.TempDir(), "sdl2.zip", "PK-sdl2")
	c, err := New(t.TempDir(), 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const url = "https://github.com/libsdl-org/SDL/releases/download/release-2.32.10/SDL2-devel-2.32.10-mingw.zip"
	path, err := c.Put(url, src)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := c.Get(url)
	if !ok {
		t.Fatal("Get returned not ok")
	}
	if got != path {
		t.Errorf("Get path = %q, want %q", got, path)
	}
	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "PK-sdl2" {
		t.Errorf("cached content = %q", data)
	}

	if _, ok := c.Get("https://example.com/other.zip"); ok {
		t.Error("Get returned ok for an uncached URL")
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	srcDir := t.TempDir()
	c, err := New(t.TempDir(), 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pathA, _ := c.Put("a", writeArchive(t, srcDir, "a.zip", "a"))
	if _, err := c.Put("b", writeArchive(t, srcDir, "b.zip", "b")); err != nil {
		t.Fatal(err)
	}
	c.Get("a")
	pathB, _ := c.Get("b")
	c.Get("a")

	if _, err := c.Put("c", writeArchive(t, srcDir, "c.zip", "c")); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, err := os.Stat(pathB); !os.IsNotExist(err) {
		t.Error("evicted archive file should be removed")
	}
	if _, err := os.Stat(pathA); err != nil {
		t.Errorf("a should survive: %v", err)
	}
}

func TestCache_IndexSurvivesReopen(t *testing.T) {
	srcDir := t.TempDir()
	dir := t.TempDir()
	c, err := New(dir, 4)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Put("https://example.com/repo.zip", writeArchive(t, srcDir, "r.zip", "repo")); err != nil {
		t.Fatal(err)
	}

	reopened, err := New(dir, 4)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reopened.Get("https://example.com/repo.zip"); !ok {
		t.Fatal("entry should be restored from the index")
	}
	entries := reopened.List()
	if len(entries) != 1 || entries[0].URL != "https://example.com/repo.zip" || entries[0].Size != 4 {
		t.Errorf("List = %+v", entries)
	}
}

func TestCache_GetDropsVanishedFiles(t *testing.T) {
	c, err := New(t.TempDir(), 4)
	if err != nil {
		t.Fatal(err)
	}
	path, err := c.Put("u", writeArchive(t, t.TempDir(), "u.zip", "data"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("u"); ok {
		t.Error("Get should miss when the cached file is gone")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0", c.Len())
	}
}

func TestCache_Remove(t *testing.T) {
	c, err := New(t.TempDir(), 4)
	if err != nil {
		t.Fatal(err)
	}
	path, _ := c.Put("u", writeArchive(t, t.TempDir(), "u.zip", "data"))
	if !c.Remove("u") {
		t.Fatal("Remove returned false")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should be removed")
	}
	if c.Remove("u") {
		t.Error("second Remove should return false")
	}
}

func TestKeyStable(t *testing.T) {
	if Key("x") != Key("x") {
		t.Error("Key is not deterministic")
	}
	if Key("x") == Key("y") {
		t.Error("different URLs share a key")
	}
	if len(Key("x")) != 32 {
		t.Errorf("key length = %d, want 32", len(Key("x")))
	}
}
