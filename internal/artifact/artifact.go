// Package artifact manages coop's per-session directory: the hook FIFO,
// persisted config, and transcript copies, mirroring the teacher's
// ~/.h2/sessions/<name>/ convention but rooted under XDG_STATE_HOME and
// guarded by a flock so two coop processes never share one session id.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Root returns the base directory all coop session artifacts live under:
// $XDG_STATE_HOME/coop/sessions, falling back to ~/.local/state when
// XDG_STATE_HOME is unset, matching the XDG Base Directory spec.
func Root() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "coop", "sessions")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".local", "state", "coop", "sessions")
}

// Dir returns the session directory for a given session id.
func Dir(sessionID string) string {
	return filepath.Join(Root(), sessionID)
}

// HookPipePath returns where the hook FIFO for a session id will live,
// without acquiring the session directory. The CLI needs this path before
// the session loop (which does the acquiring) exists, since the FIFO path
// is part of the child's launch env.
func HookPipePath(sessionID string) string {
	return filepath.Join(Dir(sessionID), "hook.pipe")
}

// Session represents an acquired, on-disk session artifact directory. The
// caller must call Release when the session ends to drop the lock and
// (optionally) remove the directory.
type Session struct {
	ID   string
	Path string

	lock *flock.Flock
}

// Acquire creates (if needed) the session directory for id and takes an
// exclusive, non-blocking flock on a lockfile inside it. Returns an error
// if another coop process already holds the lock — two sidecars must
// never drive the same session id at once.
func Acquire(sessionID string) (*Session, error) {
	dir := Dir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create session dir: %w", err)
	}

	lockPath := filepath.Join(dir, "session.lock")
	l := flock.New(lockPath)
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("artifact: lock session dir: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("artifact: session %q is already active", sessionID)
	}

	return &Session{ID: sessionID, Path: dir, lock: l}, nil
}

// HookPipePath is the named FIFO tier 1 reads hook events from.
func (s *Session) HookPipePath() string {
	return filepath.Join(s.Path, "hook.pipe")
}

// ConfigPath is where the session's persisted YAML config (profiles,
// stop/start hooks) lives.
func (s *Session) ConfigPath() string {
	return filepath.Join(s.Path, "config.yaml")
}

// ActivityLogPath is where JSONL domain events are appended.
func (s *Session) ActivityLogPath() string {
	return filepath.Join(s.Path, "activity.log")
}

// TranscriptDir holds copy-on-compact snapshots of the agent's session
// transcript, taken by the Start hook handler (C11) on source=compact.
func (s *Session) TranscriptDir() string {
	return filepath.Join(s.Path, "transcripts")
}

// Release drops the session lock. removeDir additionally deletes the
// session directory tree — callers pass true on a clean exit, false when
// leaving artifacts behind intentionally (e.g. crash diagnostics).
func (s *Session) Release(removeDir bool) error {
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("artifact: unlock session dir: %w", err)
	}
	if removeDir {
		return os.RemoveAll(s.Path)
	}
	return nil
}
