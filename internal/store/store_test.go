package store

import (
	"testing"
	"time"

	"github.com/coopdev/coop/internal/agentstate"
	"github.com/coopdev/coop/internal/ring"
	"github.com/coopdev/coop/internal/screen"
)

func newTestStore() *Store {
	return New(ring.New(1<<16), screen.New(24, 80), "", "claude")
}

func TestSetStateBumpsSeqAndPublishesInOrder(t *testing.T) {
	s := newTestStore()
	sub := s.Transition().Subscribe(4)
	defer s.Transition().Unsubscribe(sub)

	prev, seq := s.SetState(agentstate.State{Kind: agentstate.Working}, 2)
	if prev.Kind != agentstate.Starting {
		t.Fatalf("expected prev Starting, got %v", prev.Kind)
	}
	if seq != 1 {
		t.Fatalf("expected seq 1, got %d", seq)
	}
	s.PublishTransition(prev, agentstate.State{Kind: agentstate.Working}, seq, 2)

	select {
	case ev := <-sub:
		if ev.Next.Kind != agentstate.Working || ev.Seq != 1 {
			t.Fatalf("unexpected transition event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transition broadcast")
	}

	gotState, gotSeq, gotTier := s.AgentState()
	if gotState.Kind != agentstate.Working || gotSeq != 1 || gotTier != 2 {
		t.Fatalf("AgentState mismatch: %v %d %d", gotState.Kind, gotSeq, gotTier)
	}
}

func TestErrorStateAtomicWrite(t *testing.T) {
	s := newTestStore()
	errState := agentstate.State{
		Kind:          agentstate.Error,
		ErrorDetail:   "rate_limit_error: too many requests",
		ErrorCategory: agentstate.ErrRateLimited,
	}
	s.SetState(errState, 2)

	got, _, _ := s.AgentState()
	if got.ErrorDetail != errState.ErrorDetail || got.ErrorCategory != errState.ErrorCategory {
		t.Fatalf("expected atomic error fields, got %+v", got)
	}
}

func TestExitCodeWrittenBeforeExitedBroadcast(t *testing.T) {
	s := newTestStore()
	sub := s.Transition().Subscribe(2)
	defer s.Transition().Unsubscribe(sub)

	s.SetExitCode(0)
	prev, seq := s.SetState(agentstate.State{Kind: agentstate.Exited}, 4)
	s.PublishTransition(prev, agentstate.State{Kind: agentstate.Exited}, seq, 4)

	select {
	case ev := <-sub:
		if ev.Next.Kind != agentstate.Exited {
			t.Fatalf("expected Exited transition, got %v", ev.Next.Kind)
		}
		code, ok := s.ExitCode()
		if !ok || code != 0 {
			t.Fatalf("expected exit code already visible, got %d, %v", code, ok)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestPromptTransitionAlsoPublishesPromptOutcome(t *testing.T) {
	s := newTestStore()
	sub := s.PromptOutcome().Subscribe(2)
	defer s.PromptOutcome().Unsubscribe(sub)

	p := &agentstate.PromptContext{Kind: agentstate.PromptPermission, Ready: true}
	prev, seq := s.SetState(agentstate.State{Kind: agentstate.Prompt, Prompt: p}, 1)
	s.PublishTransition(prev, agentstate.State{Kind: agentstate.Prompt, Prompt: p}, seq, 1)

	select {
	case got := <-sub:
		if got.Kind != agentstate.PromptPermission {
			t.Fatalf("unexpected prompt outcome: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for prompt outcome broadcast")
	}
}

func TestBroadcasterDropsRatherThanBlocks(t *testing.T) {
	b := NewBroadcaster[int]()
	sub := b.Subscribe(1)
	defer b.Unsubscribe(sub)

	b.Publish(1)
	b.Publish(2) // buffer full; must not block
	b.Publish(3)

	if got := <-sub; got != 1 {
		t.Fatalf("expected first published value retained, got %d", got)
	}
}

func TestInputChannelRoundTrip(t *testing.T) {
	s := newTestStore()
	done := make(chan error, 1)
	s.Input() <- InputEvent{Bytes: []byte("hello"), Done: done}

	select {
	case ev := <-s.ReadInput():
		if string(ev.Bytes) != "hello" {
			t.Fatalf("unexpected input event: %+v", ev)
		}
		ev.Done <- nil
	case <-time.After(time.Second):
		t.Fatal("timed out reading input event")
	}
}

func TestFormatStateDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "1s"},
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m"},
		{2 * time.Hour, "2h"},
		{50 * time.Hour, "2d"},
	}
	for _, tc := range cases {
		if got := FormatStateDuration(tc.d); got != tc.want {
			t.Errorf("FormatStateDuration(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestStateDurationResetsOnTransition(t *testing.T) {
	s := newTestStore()
	first := s.StateDuration()
	if first < 0 {
		t.Fatalf("expected non-negative duration, got %v", first)
	}

	s.SetState(agentstate.State{Kind: agentstate.Idle}, 5)
	if got := s.StateDuration(); got >= first+time.Second {
		t.Fatalf("expected StateDuration to reset after SetState, got %v", got)
	}
}

func TestLastUsageCachesMostRecentPublish(t *testing.T) {
	s := newTestStore()
	if u := s.LastUsage(); u != (UsageEvent{}) {
		t.Fatalf("expected zero value before any publish, got %+v", u)
	}

	sub := s.Usage().Subscribe(2)
	defer s.Usage().Unsubscribe(sub)

	want := UsageEvent{InputTokens: 100, OutputTokens: 40, CachedTokens: 10, TotalCostUSD: 1.25}
	s.PublishUsage(want)

	select {
	case got := <-sub:
		if got != want {
			t.Fatalf("broadcast = %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for usage broadcast")
	}

	if got := s.LastUsage(); got != want {
		t.Fatalf("LastUsage() = %+v, want %+v", got, want)
	}
}

func TestSubscriberCountTracksWsClients(t *testing.T) {
	s := newTestStore()
	if s.Output().SubscriberCount() != 0 {
		t.Fatal("expected zero subscribers initially")
	}
	sub := s.Output().Subscribe(1)
	if s.Output().SubscriberCount() != 1 {
		t.Fatal("expected one subscriber after Subscribe")
	}
	s.Output().Unsubscribe(sub)
	if s.Output().SubscriberCount() != 0 {
		t.Fatal("expected zero subscribers after Unsubscribe")
	}
}
