package hook

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coopdev/coop/internal/activitylog"
	"github.com/coopdev/coop/internal/agentstate"
	"github.com/coopdev/coop/internal/harness"
)

func testDriver() *harness.Driver {
	return &harness.Driver{
		Name: "test",
		ClassifyHook: func(event string, payload json.RawMessage) (agentstate.State, bool) {
			if event == "Stop" {
				return agentstate.State{Kind: agentstate.Idle}, true
			}
			return agentstate.State{}, false
		},
	}
}

func TestCreatePipeThenRunClassifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hook.fifo")
	if err := CreatePipe(path); err != nil {
		t.Fatalf("CreatePipe: %v", err)
	}
	if fi, err := os.Stat(path); err != nil || fi.Mode()&os.ModeNamedPipe == 0 {
		t.Fatalf("expected named pipe at %s", path)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan agentstate.DetectionSignal, 4)
	go Run(ctx, path, testDriver(), nil, out)

	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte(`{"event":"Stop","payload":{}}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case sig := <-out:
		if sig.State.Kind != agentstate.Idle || sig.TierID != 1 || sig.Source != agentstate.SourceHook {
			t.Fatalf("unexpected signal: %+v", sig)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for detection signal")
	}
}

func TestUnclassifiableEventDropped(t *testing.T) {
	out := make(chan agentstate.DetectionSignal, 1)
	handleLine([]byte(`{"event":"PreToolUse","payload":{"tool_name":"Bash"}}`), testDriver(), activitylog.Nop(), out)
	select {
	case sig := <-out:
		t.Fatalf("expected no signal, got %+v", sig)
	default:
	}
}
