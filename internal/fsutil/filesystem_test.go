package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_WriteFileReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	var o OSFileSystem
	name := filepath.Join(dir, "scene.json")

	if err := o.WriteFile(name, []byte("first"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := o.WriteFile(name, []byte("second"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	data, err := o.ReadFile(name)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("expected %q, got %q", "second", data)
	}
	info, err := os.Stat(name)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the written file, found %d entries", len(entries))
	}
}

func TestOSFileSystem_WriteFileMissingDir(t *testing.T) {
	var o OSFileSystem
	err := o.WriteFile(filepath.Join(t.TempDir(), "missing", "x.json"), []byte("{}"), 0644)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.MkdirAll("/out/v1.0", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	data := []byte("hello, world")
	if err := mfs.WriteFile("/out/v1.0/test.txt", data, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	data[0] = 'H'

	got, err := mfs.ReadFile("/out/v1.0/test.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != "hello, world" {
		t.Errorf("expected stored copy to be unaffected, got %q", got)
	}
}

func TestMemoryFileSystem_RequiresParentDir(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.WriteFile("/out/a.json", nil, 0644); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("WriteFile: expected ErrNotExist, got %v", err)
	}
	if _, err := mfs.ReadFile("/out/a.json"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile: expected ErrNotExist, got %v", err)
	}
}

func TestMemoryFileSystem_Files(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.MkdirAll("out/b", 0755)
	mfs.MkdirAll("out/a", 0755)
	mfs.WriteFile("out/b/2.json", nil, 0644)
	mfs.WriteFile("out/a/1.json", nil, 0644)
	mfs.WriteFile("out/a/1.json", []byte("{}"), 0644)

	got := mfs.Files()
	want := []string{"out/a/1.json", "out/b/2.json"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Files()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMemoryFileSystem_FileBlocksDirectory(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.MkdirAll("out", 0755)
	mfs.WriteFile("out/v1", []byte("x"), 0644)

	if err := mfs.MkdirAll("out/v1/tables", 0755); !errors.Is(err, fs.ErrExist) {
		t.Errorf("expected ErrExist, got %v", err)
	}
	if err := mfs.WriteFile("out", nil, 0644); !errors.Is(err, fs.ErrExist) {
		t.Errorf("expected ErrExist writing over a directory, got %v", err)
	}
}
