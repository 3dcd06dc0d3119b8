package sessionlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coopdev/coop/internal/agentstate"
	"github.com/coopdev/coop/internal/harness"
)

func TestDiscoverExplicitPathWins(t *testing.T) {
	path, err := Discover(&harness.Driver{Name: "claude"}, "/tmp/explicit.jsonl")
	if err != nil || path != "/tmp/explicit.jsonl" {
		t.Fatalf("got %q, %v", path, err)
	}
}

func TestDiscoverNewestGlobMatch(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "a.jsonl")
	newer := filepath.Join(dir, "b.jsonl")
	if err := os.WriteFile(older, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(newer, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	driver := &harness.Driver{Name: "claude", SessionLogGlob: filepath.Join(dir, "*.jsonl")}
	path, err := Discover(driver, "")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if path != newer {
		t.Fatalf("expected newest match %s, got %s", newer, path)
	}
}

func TestRunEmitsParsedStates(t *testing.T) {
	SetPollInterval(10 * time.Millisecond)
	defer SetPollInterval(3 * time.Second)

	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	driver := &harness.Driver{
		Name: "test",
		ParseLogLine: func(line []byte) (agentstate.State, bool) {
			if string(line) == `{"type":"assistant"}` {
				return agentstate.State{Kind: agentstate.Idle}, true
			}
			return agentstate.State{}, false
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan agentstate.DetectionSignal, 4)
	go Run(ctx, path, driver, out)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"type":"assistant"}` + "\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	select {
	case sig := <-out:
		if sig.State.Kind != agentstate.Idle || sig.TierID != 2 || sig.Source != agentstate.SourceLog {
			t.Fatalf("unexpected signal: %+v", sig)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal")
	}
}
