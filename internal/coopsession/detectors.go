package coopsession

import (
	"context"
	"time"

	"github.com/coopdev/coop/internal/detect/hook"
	"github.com/coopdev/coop/internal/detect/process"
	screentier "github.com/coopdev/coop/internal/detect/screen"
	"github.com/coopdev/coop/internal/detect/sessionlog"
	"github.com/coopdev/coop/internal/ptybackend"
)

// startDetectors launches the five detector tiers as long-running
// goroutines, each feeding l.signalCh. Per spec §4.4 all tiers respect the
// cancellation token for shutdown; per §9 a tier task panic restarts the
// tier once, then marks it dead.
func (l *Loop) startDetectors(ctx context.Context) {
	if l.cfg.HookPipePath != "" {
		l.runTierSupervised(ctx, "hook", func(ctx context.Context) {
			hook.Run(ctx, l.cfg.HookPipePath, l.driver, l.activity, l.signalCh)
		})
	}

	if l.driver.ParseLogLine != nil {
		l.runTierSupervised(ctx, "sessionlog", func(ctx context.Context) {
			path, err := sessionlog.Discover(l.driver, "")
			if err != nil {
				return
			}
			sessionlog.Run(ctx, path, l.driver, l.signalCh)
		})
	}

	// Tier 3 (stdout JSONL) has no independent goroutine: it is fed
	// synchronously from handlePTYChunk's tee-off, matching spec §4.4's
	// "observes raw PTY bytes out-of-band from the ring-feed path".

	l.procMon = process.NewMonitor(l.backend.ChildPID(), 0)
	l.runTierSupervised(ctx, "process", func(ctx context.Context) {
		process.Run(ctx, l.procMon, l.signalCh)
	})

	matcher := screentier.NewMatcher(screentier.DefaultDialogClasses())
	l.runTierSupervised(ctx, "screen", func(ctx context.Context) {
		screentier.Run(ctx, matcher, func() []string {
			return l.screen.Snapshot(false).Lines
		}, l.signalCh)
	})
}

// runTierSupervised runs fn in a goroutine, restarting it once if it
// panics before giving up on that tier (spec §9: "Detector tier task panic
// → restart the tier once, then mark it dead").
func (l *Loop) runTierSupervised(ctx context.Context, name string, fn func(context.Context)) {
	go func() {
		restarted := false
		for {
			if l.runOnce(ctx, fn) {
				return
			}
			if restarted {
				return
			}
			restarted = true
		}
	}()
}

// runOnce runs fn and recovers a panic, returning true if fn returned
// normally (including via ctx cancellation) and false if it panicked.
func (l *Loop) runOnce(ctx context.Context, fn func(context.Context)) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	fn(ctx)
	return true
}

// pumpPTY drives the non-blocking PTY read loop, translating backend
// readiness into ptyRead messages the session loop's select consumes. It
// is the only goroutine that calls Backend.ReadNonblocking, so reads are
// strictly ordered.
func (l *Loop) pumpPTY(ctx context.Context) {
	buf := make([]byte, 8192)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := l.backend.ReadNonblocking(buf)
		if err == ptybackend.ErrWouldBlock {
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
			continue
		}
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case l.ptyCh <- ptyRead{data: chunk}:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			select {
			case l.ptyCh <- ptyRead{err: err}:
			case <-ctx.Done():
			}
			return
		}
	}
}

// DriverName exposes the active agent driver's name, used by logging and
// the /health endpoint.
func (l *Loop) DriverName() string { return l.driver.Name }
