package promptenrich

import (
	"context"
	"testing"
	"time"

	"github.com/coopdev/coop/internal/agentstate"
)

func TestExtractOptionsOrdersByNumber(t *testing.T) {
	lines := []string{"some preamble", "2. No", "1. Yes", "trailing junk"}
	opts := ExtractOptions(lines)
	if len(opts) != 2 || opts[0] != "Yes" || opts[1] != "No" {
		t.Fatalf("got %v", opts)
	}
}

func TestExtractOptionsNoneFound(t *testing.T) {
	if opts := ExtractOptions([]string{"nothing numbered here"}); opts != nil {
		t.Fatalf("expected nil, got %v", opts)
	}
}

func TestRunFindsOptionsOnSecondPoll(t *testing.T) {
	SetTuning(5*time.Millisecond, 10)
	defer SetTuning(200*time.Millisecond, 10)

	calls := 0
	snapshot := func() []string {
		calls++
		if calls < 2 {
			return []string{"rendering..."}
		}
		return []string{"1. Yes", "2. No"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, ok := Run(ctx, snapshot)
	if !ok || res.Fallback || len(res.Options) != 2 {
		t.Fatalf("got %+v, %v", res, ok)
	}
}

func TestRunTimesOutWithFallback(t *testing.T) {
	SetTuning(2*time.Millisecond, 3)
	defer SetTuning(200*time.Millisecond, 10)

	snapshot := func() []string { return []string{"still rendering"} }

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, ok := Run(ctx, snapshot)
	if !ok || !res.Fallback || len(res.Options) == 0 {
		t.Fatalf("got %+v, %v", res, ok)
	}
}

func TestRunCancelledReturnsNotOK(t *testing.T) {
	SetTuning(50*time.Millisecond, 10)
	defer SetTuning(200*time.Millisecond, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := Run(ctx, func() []string { return nil })
	if ok {
		t.Fatal("expected cancelled run to report not-ok")
	}
}

func TestApplyResultSetsReadyAndFallback(t *testing.T) {
	p := &agentstate.PromptContext{Kind: agentstate.PromptPermission}
	ApplyResult(p, Result{Options: DefaultFallback(), Fallback: true})
	if !p.Ready || !p.OptionsFallback || len(p.Options) != 2 {
		t.Fatalf("got %+v", p)
	}
}
