// Package process implements detector tier 4: a coarse, agent-agnostic
// liveness poll. It knows nothing about hook or transcript formats — its
// only duty is reaping detection, with optional coarse working/idle
// inference from PTY activity recency.
package process

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"github.com/coopdev/coop/internal/agentstate"
)

const tierID = 4

var defaultPollInterval = 10 * time.Second

// SetPollInterval overrides the liveness poll cadence; wired to
// COOP_PROCESS_POLL_MS at startup.
func SetPollInterval(d time.Duration) {
	if d > 0 {
		defaultPollInterval = d
	}
}

// Monitor polls a PID for liveness and tracks PTY output recency to offer
// a coarse (optional) working/idle signal. Its primary duty per spec §4.4
// is terminal-state detection: it is the tier that reliably notices the
// child has been reaped even when no other tier ever classifies anything.
type Monitor struct {
	pid          int
	idleAfter    time.Duration
	lastActivity time.Time
}

// NewMonitor creates a Monitor for pid. idleAfter of zero disables the
// coarse working/idle inference entirely — only the liveness check runs.
func NewMonitor(pid int, idleAfter time.Duration) *Monitor {
	return &Monitor{pid: pid, idleAfter: idleAfter, lastActivity: time.Now()}
}

// NoteActivity records PTY output, used for the coarse idle inference.
func (m *Monitor) NoteActivity() {
	m.lastActivity = time.Now()
}

// Run polls until the process is no longer reachable (ESRCH) or ctx is
// cancelled, in which case it returns without emitting Exited — the
// session loop's own `cmd.Wait()` reap already owns real exit-status
// delivery; this tier exists for the case where nothing else is watching.
func Run(ctx context.Context, m *Monitor, out chan<- agentstate.DetectionSignal) {
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	var lastCoarse agentstate.Kind = agentstate.Unknown
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !alive(m.pid) {
				emit(out, agentstate.State{Kind: agentstate.Exited}, agentstate.SourceProcess)
				return
			}
			if m.idleAfter <= 0 {
				continue
			}
			coarse := agentstate.Working
			if time.Since(m.lastActivity) >= m.idleAfter {
				coarse = agentstate.Idle
			}
			if coarse != lastCoarse {
				lastCoarse = coarse
				emit(out, agentstate.State{Kind: coarse}, agentstate.SourceProcess)
			}
		}
	}
}

func emit(out chan<- agentstate.DetectionSignal, state agentstate.State, source agentstate.Source) {
	select {
	case out <- agentstate.DetectionSignal{State: state, TierID: tierID, Source: source}:
	default:
	}
}

// alive reports whether pid still exists, using the signal-0 idiom: no
// signal is delivered, only the error from the permission/existence check
// is observed.
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err != unix.ESRCH
}
