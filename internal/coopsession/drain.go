package coopsession

import (
	"context"
	"time"

	"github.com/coopdev/coop/internal/agentstate"
	"github.com/coopdev/coop/internal/ptybackend"
)

// runShutdown implements spec §4.8.1's drain-and-shutdown sequence. It is
// invoked synchronously from the session loop's own select, so the loop's
// other cases do not run meanwhile; drainToIdle consumes PTY output and
// detector transitions itself while it drains. It is the only caller of
// backend Signal/Wait during a shutdown.
func (l *Loop) runShutdown(ctx context.Context, force bool) int {
	cur, _, _ := l.Store.AgentState()
	skipDrain := force || cur.Kind == agentstate.Idle || cur.Kind == agentstate.Exited

	if !skipDrain {
		l.drainToIdle(ctx)
	}

	waitDone := l.startWait()

	_ = l.backend.Signal(ptybackend.SignalHangup)

	status, reaped := waitFor(waitDone, l.tuning.ShutdownTimeout)
	if !reaped {
		_ = l.backend.Signal(ptybackend.SignalKill)
		status, _ = waitFor(waitDone, 2*time.Second)
	}

	l.Store.SetExitCode(codeOf(status))
	next := agentstate.State{
		Kind: agentstate.Exited,
		Exit: &agentstate.ExitInfo{Code: status.Code, Signal: status.Signal},
	}
	prev, seq := l.Store.SetState(next, 0)
	l.Store.PublishTransition(prev, next, seq, 0)

	l.publishUsage()
	l.metricsSrv.Stop()
	l.activity.Close()
	l.session.Release(false)

	return codeOf(status)
}

// drainToIdle sends an Escape byte through the internal write path (which
// bypasses InputGate but is still accounted in bytes_written, per spec
// §4.8.1) every 2s until the state becomes Idle or drainTimeout elapses.
func (l *Loop) drainToIdle(ctx context.Context) {
	deadline := time.Now().Add(l.tuning.DrainTimeout)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	_ = l.writeRaw([]byte{0x1b})
	for {
		if cur, _, _ := l.Store.AgentState(); cur.Kind == agentstate.Idle {
			return
		}
		if time.Now().After(deadline) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case pr := <-l.ptyCh:
			if pr.err != nil {
				return
			}
			l.handlePTYChunk(pr.data)
		case tr := <-l.transCh:
			l.handleTransition(ctx, tr)
			if tr.Next.Kind == agentstate.Exited {
				return
			}
		case <-ticker.C:
			if cur, _, _ := l.Store.AgentState(); cur.Kind == agentstate.Idle {
				return
			}
			_ = l.writeRaw([]byte{0x1b})
		}
	}
}

// startWait spawns the single goroutine that calls backend.Wait() for this
// shutdown. runShutdown's pre- and post-SIGKILL timeout windows both read
// from the channel it returns, instead of each spawning their own Wait()
// call — exec.Cmd.Wait() is unsafe to call concurrently from two
// goroutines, and a second independent call racing the first could
// corrupt the exit code/signal recorded for the final Exited broadcast.
func (l *Loop) startWait() <-chan result {
	done := make(chan result, 1)
	go func() {
		st, err := l.backend.Wait()
		done <- result{st, err}
	}()
	return done
}

type result struct {
	status ptybackend.ExitStatus
	err    error
}

// waitFor blocks on done up to timeout. If the wait already completed
// (buffered in done) by a prior, timed-out waitFor call, it returns
// immediately with that result.
func waitFor(done <-chan result, timeout time.Duration) (ptybackend.ExitStatus, bool) {
	select {
	case r := <-done:
		return r.status, r.err == nil
	case <-time.After(timeout):
		return ptybackend.ExitStatus{}, false
	}
}
