package process

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/coopdev/coop/internal/agentstate"
)

func TestRunEmitsExitedOnReap(t *testing.T) {
	SetPollInterval(10 * time.Millisecond)
	defer SetPollInterval(10 * time.Second)

	cmd := exec.Command("sleep", "0.05")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := cmd.Process.Pid
	go cmd.Wait()

	out := make(chan agentstate.DetectionSignal, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	Run(ctx, NewMonitor(pid, 0), out)

	select {
	case sig := <-out:
		if sig.State.Kind != agentstate.Exited || sig.TierID != 4 {
			t.Fatalf("unexpected signal: %+v", sig)
		}
	default:
		t.Fatal("expected Exited signal after process reaped")
	}
}

func TestAliveDetectsCurrentProcess(t *testing.T) {
	if !alive(os.Getpid()) {
		t.Fatal("expected current process to be alive")
	}
}

func TestAliveFalseForReapedPID(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Skip("no /usr/bin/true available")
	}
	if alive(cmd.Process.Pid) {
		t.Skip("pid reused by OS before check; flaky on this platform")
	}
}
