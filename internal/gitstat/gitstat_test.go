package gitstat

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, dir, name string, args ...string) {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("%s %s failed: %s: %v", name, strings.Join(args, " "), out, err)
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(orig) })
}

func initRepo(t *testing.T, dir string) {
	t.Helper()
	run(t, dir, "git", "init")
	run(t, dir, "git", "config", "user.email", "test@test.com")
	run(t, dir, "git", "config", "user.name", "Test")
	os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644)
	run(t, dir, "git", "add", ".")
	run(t, dir, "git", "commit", "-m", "initial")
}

func TestCollectReturnsNilOutsideWorkTree(t *testing.T) {
	chdir(t, t.TempDir())
	if got := Collect(); got != nil {
		t.Fatalf("expected nil outside a git work tree, got %+v", got)
	}
}

func TestCollectReturnsNilWithNoChanges(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir)
	chdir(t, dir)

	if got := Collect(); got != nil {
		t.Fatalf("expected nil with a clean work tree, got %+v", got)
	}
}

func TestCollectCountsStagedAndUnstagedChanges(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir)

	os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\nworld\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "new.txt"), []byte("line1\nline2\n"), 0o644)
	run(t, dir, "git", "add", "new.txt")
	chdir(t, dir)

	got := Collect()
	if got == nil {
		t.Fatal("expected non-nil stats with pending changes")
	}
	if got.FilesChanged != 2 {
		t.Errorf("FilesChanged = %d, want 2", got.FilesChanged)
	}
	if got.LinesAdded != 3 {
		t.Errorf("LinesAdded = %d, want 3", got.LinesAdded)
	}
	if got.LinesRemoved != 0 {
		t.Errorf("LinesRemoved = %d, want 0", got.LinesRemoved)
	}
}
