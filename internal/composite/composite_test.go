package composite

import (
	"context"
	"testing"
	"time"

	"github.com/coopdev/coop/internal/agentstate"
)

func TestCompositePriorityScenario(t *testing.T) {
	// Scenario 3 from spec §8: tier-4 emits Idle, then tier-2 emits
	// Working. Final state must be Working; a subsequent tier-4 Idle must
	// not downgrade it.
	d, sigCh := New(16)
	out := make(chan Transition, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, sigCh, out)

	sigCh <- agentstate.DetectionSignal{State: agentstate.State{Kind: agentstate.Idle}, TierID: 4, Source: agentstate.SourceProcess}
	sigCh <- agentstate.DetectionSignal{State: agentstate.State{Kind: agentstate.Working}, TierID: 2, Source: agentstate.SourceLog}

	var last Transition
	for i := 0; i < 2; i++ {
		select {
		case last = <-out:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for transition")
		}
	}
	if last.Next.Kind != agentstate.Working {
		t.Fatalf("expected Working after tier-2 signal, got %v", last.Next.Kind)
	}

	sigCh <- agentstate.DetectionSignal{State: agentstate.State{Kind: agentstate.Idle}, TierID: 4, Source: agentstate.SourceProcess}
	select {
	case tr := <-out:
		t.Fatalf("tier-4 Idle must not downgrade Working, got %v", tr.Next.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTerminalExitedAlwaysAccepted(t *testing.T) {
	d, sigCh := New(4)
	out := make(chan Transition, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, sigCh, out)

	sigCh <- agentstate.DetectionSignal{State: agentstate.State{Kind: agentstate.Working}, TierID: 2}
	<-out
	sigCh <- agentstate.DetectionSignal{State: agentstate.State{Kind: agentstate.Exited}, TierID: 5}

	select {
	case tr := <-out:
		if tr.Next.Kind != agentstate.Exited {
			t.Fatalf("expected Exited, got %v", tr.Next.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for exited transition")
	}
}

func TestPromptSpecificityException(t *testing.T) {
	d, sigCh := New(4)
	out := make(chan Transition, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, sigCh, out)

	sigCh <- agentstate.DetectionSignal{
		State:  agentstate.State{Kind: agentstate.Prompt, Prompt: &agentstate.PromptContext{Kind: agentstate.PromptPlan}},
		TierID: 1,
	}
	<-out

	sigCh <- agentstate.DetectionSignal{
		State:  agentstate.State{Kind: agentstate.Prompt, Prompt: &agentstate.PromptContext{Kind: agentstate.PromptPermission}},
		TierID: 1,
	}
	select {
	case tr := <-out:
		t.Fatalf("generic permission from same tier must not clobber specific plan prompt, got %+v", tr.Next.Prompt)
	case <-time.After(100 * time.Millisecond):
	}
}
