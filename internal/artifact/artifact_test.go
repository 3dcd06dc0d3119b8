package artifact

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireCreatesDirAndPaths(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	s, err := Acquire("sess-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer s.Release(true)

	if fi, err := os.Stat(s.Path); err != nil || !fi.IsDir() {
		t.Fatalf("expected session dir to exist: %v", err)
	}
	if filepath.Base(s.HookPipePath()) != "hook.pipe" {
		t.Errorf("unexpected hook pipe path: %s", s.HookPipePath())
	}
	if filepath.Base(s.ConfigPath()) != "config.yaml" {
		t.Errorf("unexpected config path: %s", s.ConfigPath())
	}
}

func TestAcquireTwiceFails(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	s, err := Acquire("sess-2")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer s.Release(true)

	if _, err := Acquire("sess-2"); err == nil {
		t.Fatal("expected second Acquire of the same session id to fail")
	}
}

func TestHookPipePathMatchesAcquired(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	want := HookPipePath("sess-4")

	s, err := Acquire("sess-4")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer s.Release(true)

	if got := s.HookPipePath(); got != want {
		t.Fatalf("HookPipePath(id) = %q, want %q to match acquired session's own path", want, got)
	}
}

func TestReleaseRemovesDir(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	s, err := Acquire("sess-3")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	path := s.Path
	if err := s.Release(true); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected session dir removed after Release(true)")
	}
}
