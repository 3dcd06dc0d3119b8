package stdout

import (
	"testing"

	"github.com/coopdev/coop/internal/agentstate"
	"github.com/coopdev/coop/internal/harness"
)

func testDriver() *harness.Driver {
	return &harness.Driver{
		Name: "test",
		ParseLogLine: func(line []byte) (agentstate.State, bool) {
			if string(line) == `{"type":"assistant"}` {
				return agentstate.State{Kind: agentstate.Idle}, true
			}
			return agentstate.State{}, false
		},
	}
}

func TestFeedSplitAcrossChunks(t *testing.T) {
	out := make(chan agentstate.DetectionSignal, 1)
	p := New(testDriver(), true, out)

	p.Feed([]byte(`{"type":"assist`))
	select {
	case sig := <-out:
		t.Fatalf("unexpected early signal: %+v", sig)
	default:
	}
	p.Feed([]byte("ant\"}\n"))

	select {
	case sig := <-out:
		if sig.State.Kind != agentstate.Idle || sig.TierID != 3 || sig.Source != agentstate.SourceStdout {
			t.Fatalf("unexpected signal: %+v", sig)
		}
	default:
		t.Fatal("expected signal after line completed")
	}
}

func TestFeedDisabledIsNoop(t *testing.T) {
	out := make(chan agentstate.DetectionSignal, 1)
	p := New(testDriver(), false, out)
	p.Feed([]byte(`{"type":"assistant"}` + "\n"))
	select {
	case sig := <-out:
		t.Fatalf("expected no signal when disabled, got %+v", sig)
	default:
	}
}

func TestFeedDropsNonJSONLines(t *testing.T) {
	out := make(chan agentstate.DetectionSignal, 1)
	p := New(testDriver(), true, out)
	p.Feed([]byte("Welcome to the agent CLI\n"))
	select {
	case sig := <-out:
		t.Fatalf("expected no signal for non-JSON line, got %+v", sig)
	default:
	}
}
