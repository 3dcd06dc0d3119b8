package inputgate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coopdev/coop/internal/agentstate"
	"github.com/coopdev/coop/internal/harness"
)

func testDriver() *harness.Driver {
	return &harness.Driver{
		Name:         "test",
		EncodeNudge:  func(m string) []byte { return []byte(m + "\r") },
		EncodeRespond: func(p agentstate.PromptContext, req harness.RespondRequest) []harness.Delivery {
			if req.Option != nil {
				return []harness.Delivery{{Bytes: []byte("opt\r")}}
			}
			return nil
		},
	}
}

func recordingWriter() (Writer, func() [][]byte) {
	var mu sync.Mutex
	var writes [][]byte
	w := func(p []byte) error {
		mu.Lock()
		writes = append(writes, append([]byte(nil), p...))
		mu.Unlock()
		return nil
	}
	return w, func() [][]byte {
		mu.Lock()
		defer mu.Unlock()
		return append([][]byte(nil), writes...)
	}
}

func TestWriteRawDelivers(t *testing.T) {
	SetTuning(time.Millisecond, 0, 0, 0, 0, 0)
	defer SetTuning(200*time.Millisecond, time.Millisecond, 5*time.Second, 200*time.Millisecond, 30*time.Second, 4*time.Second)

	w, get := recordingWriter()
	g := New(w, nil)
	if err := g.WriteRaw("client-a", []byte("hello")); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	if len(get()) != 1 {
		t.Fatalf("expected 1 write, got %d", len(get()))
	}
}

func TestLockPreventsOtherOwner(t *testing.T) {
	w, _ := recordingWriter()
	g := New(w, nil)
	if err := g.Lock("ws-1"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := g.WriteRaw("http-req", []byte("x")); err != ErrWriterBusy {
		t.Fatalf("expected ErrWriterBusy, got %v", err)
	}
	if err := g.Unlock("ws-1"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if err := g.WriteRaw("http-req", []byte("x")); err != nil {
		t.Fatalf("expected success after unlock, got %v", err)
	}
}

func TestNudgeRejectedWhenNotIdle(t *testing.T) {
	SetTuning(time.Millisecond, 0, 0, 0, 0, time.Hour)
	defer SetTuning(200*time.Millisecond, time.Millisecond, 5*time.Second, 200*time.Millisecond, 30*time.Second, 4*time.Second)

	w, _ := recordingWriter()
	g := New(w, nil)
	err := g.Nudge(context.Background(), testDriver(), agentstate.State{Kind: agentstate.Working}, "hi", nil)
	if err != ErrAgentBusy {
		t.Fatalf("expected ErrAgentBusy, got %v", err)
	}
}

func TestNudgeRetriesOnTimeout(t *testing.T) {
	SetTuning(time.Millisecond, 0, 0, time.Millisecond, time.Second, 10*time.Millisecond)
	defer SetTuning(200*time.Millisecond, time.Millisecond, 5*time.Second, 200*time.Millisecond, 30*time.Second, 4*time.Second)

	w, get := recordingWriter()
	g := New(w, nil)
	outcomes := make(chan Outcome, 4)
	g.outcomes = outcomes

	transitioned := make(chan struct{})
	if err := g.Nudge(context.Background(), testDriver(), agentstate.State{Kind: agentstate.Idle}, "hi", transitioned); err != nil {
		t.Fatalf("Nudge: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	writes := get()
	if len(writes) < 2 {
		t.Fatalf("expected at least 2 writes (initial + retry), got %d", len(writes))
	}
}

func TestRespondRejectedWithoutPrompt(t *testing.T) {
	w, _ := recordingWriter()
	g := New(w, nil)
	err := g.Respond("http", testDriver(), agentstate.State{Kind: agentstate.Working}, harness.RespondRequest{})
	if err != ErrNoPrompt {
		t.Fatalf("expected ErrNoPrompt, got %v", err)
	}
}

func TestRespondDeliversEncodedBytes(t *testing.T) {
	SetTuning(time.Millisecond, 0, 0, 0, 0, 0)
	defer SetTuning(200*time.Millisecond, time.Millisecond, 5*time.Second, 200*time.Millisecond, 30*time.Second, 4*time.Second)

	w, get := recordingWriter()
	g := New(w, nil)
	opt := 1
	state := agentstate.State{Kind: agentstate.Prompt, Prompt: &agentstate.PromptContext{Kind: agentstate.PromptPermission}}
	if err := g.Respond("http", testDriver(), state, harness.RespondRequest{Option: &opt}); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if len(get()) != 1 || string(get()[0]) != "opt\r" {
		t.Fatalf("unexpected writes: %v", get())
	}
}

func TestIsDisruption(t *testing.T) {
	if !IsDisruption(&agentstate.PromptContext{Subtype: "trust"}) {
		t.Error("expected trust to be a disruption subtype")
	}
	if IsDisruption(&agentstate.PromptContext{Subtype: "oauth_login"}) {
		t.Error("expected oauth_login to not be a disruption subtype")
	}
}
