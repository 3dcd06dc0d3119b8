package coopsession

import (
	"context"
	"fmt"

	"github.com/coopdev/coop/internal/agentstate"
	"github.com/coopdev/coop/internal/config"
	"github.com/coopdev/coop/internal/detect/sessionlog"
	"github.com/coopdev/coop/internal/hooks"
	"github.com/coopdev/coop/internal/profile"
)

// HandleStartHook composes the shell script for POST /api/v1/hooks/start
// (C11) and, for source=compact, kicks off a background transcript-copy
// side effect per spec §4.11.
func (l *Loop) HandleStartHook(source string) (string, error) {
	script, err := hooks.ComposeStartScript(l.cfgStore.Snapshot().Start, source)
	if err != nil {
		return "", err
	}
	if source == "compact" {
		go l.saveTranscriptOnCompact()
	}
	return script, nil
}

// saveTranscriptOnCompact copies the current session log into
// sessions/<id>/transcripts/{N}.jsonl and emits a transcript:saved
// activity-log entry.
func (l *Loop) saveTranscriptOnCompact() {
	path, err := sessionlog.Discover(l.driver, "")
	if err != nil {
		return
	}
	dst, err := hooks.SaveTranscript(path, l.session.TranscriptDir())
	if err != nil {
		return
	}
	l.activity.HookEvent("transcript:saved", dst)
}

// HandleStopHook consults the configured StopConfig and the resolver's
// one-shot allow flag to decide whether the agent may stop (C11).
func (l *Loop) HandleStopHook() *hooks.StopDecision {
	return l.Resolver.Decide(l.Store.StopConfig())
}

// ResolveStop flips the one-shot "allow next stop" flag consumed by
// POST /api/v1/stop/resolve.
func (l *Loop) ResolveStop() { l.Resolver.Resolve() }

// WaitForIdleOrExited blocks until the agent reaches Idle or Exited, or ctx
// is cancelled, for C12's non-forced session/switch path. Returns false on
// cancellation.
func (l *Loop) WaitForIdleOrExited(ctx context.Context) bool {
	if cur, _, _ := l.Store.AgentState(); cur.Kind == agentstate.Idle || cur.Kind == agentstate.Exited {
		return true
	}
	sub := l.Store.Transition().Subscribe(8)
	defer l.Store.Transition().Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return false
		case tr := <-sub:
			if tr.Next.Kind == agentstate.Idle || tr.Next.Kind == agentstate.Exited {
				return true
			}
		}
	}
}

// SetStopConfig persists a new stop-hook configuration and updates the
// Store's cached copy that the hook handler and /config/stop GET consult.
func (l *Loop) SetStopConfig(c config.StopConfig) error {
	if err := l.cfgStore.SetStop(c); err != nil {
		return err
	}
	l.Store.SetStopConfig(c)
	return nil
}

// SetStartConfig persists a new start-hook configuration and updates the
// Store's cached copy.
func (l *Loop) SetStartConfig(c config.StartConfig) error {
	if err := l.cfgStore.SetStart(c); err != nil {
		return err
	}
	l.Store.SetStartConfig(c)
	return nil
}

// validGroomModes are the values accepted by --groom / profiles:mode:set.
var validGroomModes = map[string]bool{"auto": true, "manual": true, "pristine": true}

// SetGroomMode updates the live disruption-prompt handling mode.
func (l *Loop) SetGroomMode(mode string) error {
	if !validGroomModes[mode] {
		return fmt.Errorf("coopsession: invalid groom mode %q", mode)
	}
	l.Store.SetGroomMode(mode)
	return nil
}

// RequestRestart enqueues a plain restart (SIGHUP + respawn, resuming the
// same driver conversation) with no credential change, for a consumer that
// just wants the child process cycled.
func (l *Loop) RequestRestart() {
	l.RequestSwitch(profile.SwitchAction{ResumeDriver: true})
}

// ID returns the session's UUID.
func (l *Loop) ID() string { return l.id }

// SessionLogPath resolves the current session's transcript path via the
// driver's discovery rules, for transports that expose it diagnostically.
func (l *Loop) SessionLogPath() (string, error) {
	path, err := sessionlog.Discover(l.driver, "")
	if err != nil {
		return "", fmt.Errorf("coopsession: %w", err)
	}
	return path, nil
}
