package coopsession

import (
	"context"

	"github.com/coopdev/coop/internal/agentstate"
	"github.com/coopdev/coop/internal/harness"
	"github.com/coopdev/coop/internal/inputgate"
	"github.com/coopdev/coop/internal/ptybackend"
)

// Resize changes the PTY and screen dimensions. Called directly by
// transports (not routed through the select loop's input channel): resize
// never touches the ring or the Driver-aggregate lock, so it can't race
// with the loop's single-writer fields per spec §5.
func (l *Loop) Resize(cols, rows int) error {
	if err := l.backend.Resize(cols, rows); err != nil {
		return err
	}
	l.screen.Resize(cols, rows)
	l.Store.BumpScreenSeq()
	return nil
}

// Signal delivers kind to the child process group.
func (l *Loop) Signal(kind ptybackend.Signal) error {
	return l.backend.Signal(kind)
}

// WriteRaw delivers raw bytes under the HTTP per-request writer-lock
// semantics (owner is typically a request-scoped token or client id).
func (l *Loop) WriteRaw(owner string, p []byte) error {
	return l.gate.WriteRaw(owner, p)
}

// WriteText delivers text, optionally appending a carriage return.
func (l *Loop) WriteText(owner, text string, withCR bool) error {
	return l.gate.WriteText(owner, text, withCR)
}

// LockWriter and UnlockWriter expose the WS-path explicit lock/unlock.
func (l *Loop) LockWriter(owner string) error   { return l.gate.Lock(owner) }
func (l *Loop) UnlockWriter(owner string) error { return l.gate.Unlock(owner) }

// Nudge delivers message to an Idle agent, arming the retry-on-timeout
// watcher described in spec §4.7. The watcher is cancelled by the next
// accepted transition (subscribed internally for the lifetime of one
// nudge call).
func (l *Loop) Nudge(ctx context.Context, message string) error {
	state, _, _ := l.Store.AgentState()
	sub := l.Store.Transition().Subscribe(1)
	transitioned := make(chan struct{})
	go func() {
		defer l.Store.Transition().Unsubscribe(sub)
		select {
		case <-sub:
			close(transitioned)
		case <-ctx.Done():
		}
	}()
	return l.gate.Nudge(ctx, l.driver, state, message, transitioned)
}

// Respond answers the current prompt with req.
func (l *Loop) Respond(owner string, req harness.RespondRequest) (agentstate.PromptKind, error) {
	state, _, _ := l.Store.AgentState()
	if state.Kind != agentstate.Prompt || state.Prompt == nil {
		return "", inputgate.ErrNoPrompt
	}
	kind := state.Prompt.Kind
	return kind, l.gate.Respond(owner, l.driver, state, req)
}
