// Package coopsession implements C8: the single-threaded cooperative
// session loop that ties the ring/screen/PTY backend, the five detector
// tiers, the composite detector, prompt enrichment, the send pipeline, the
// store, hooks, and profile rotation together. It is grounded on the
// teacher's internal/session/session.go lifecycle loop, generalized from
// h2's multi-client TUI orchestration to coop's sidecar shape: one PTY, one
// authoritative Store, many transport-driven readers.
package coopsession

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coopdev/coop/internal/activitylog"
	"github.com/coopdev/coop/internal/agentstate"
	"github.com/coopdev/coop/internal/artifact"
	"github.com/coopdev/coop/internal/composite"
	"github.com/coopdev/coop/internal/config"
	"github.com/coopdev/coop/internal/detect/hook"
	"github.com/coopdev/coop/internal/detect/process"
	"github.com/coopdev/coop/internal/detect/stdout"
	"github.com/coopdev/coop/internal/harness"
	"github.com/coopdev/coop/internal/hooks"
	"github.com/coopdev/coop/internal/inputgate"
	"github.com/coopdev/coop/internal/metrics"
	"github.com/coopdev/coop/internal/profile"
	"github.com/coopdev/coop/internal/promptenrich"
	"github.com/coopdev/coop/internal/ptybackend"
	"github.com/coopdev/coop/internal/ring"
	"github.com/coopdev/coop/internal/screen"
	"github.com/coopdev/coop/internal/store"
)

// Tuning mirrors the env-var-driven knobs from spec §6's table. Durations
// of zero fall back to the package defaults below.
type Tuning struct {
	DrainTimeout     time.Duration
	ShutdownTimeout  time.Duration
	IdleTimeout      time.Duration // 0 disables the idle timer
	ScreenDebounce   time.Duration
	ReapPoll         time.Duration
	RotateCooldown   time.Duration
	RotateMaxPerHour int
}

var defaultTuning = Tuning{
	DrainTimeout:     20 * time.Second,
	ShutdownTimeout:  10 * time.Second,
	IdleTimeout:      0,
	ScreenDebounce:   50 * time.Millisecond,
	ReapPoll:         50 * time.Millisecond,
	RotateCooldown:   300 * time.Second,
	RotateMaxPerHour: 20,
}

func (t Tuning) withDefaults() Tuning {
	d := defaultTuning
	if t.DrainTimeout > 0 {
		d.DrainTimeout = t.DrainTimeout
	}
	if t.ShutdownTimeout > 0 {
		d.ShutdownTimeout = t.ShutdownTimeout
	}
	if t.IdleTimeout > 0 {
		d.IdleTimeout = t.IdleTimeout
	}
	if t.ScreenDebounce > 0 {
		d.ScreenDebounce = t.ScreenDebounce
	}
	if t.ReapPoll > 0 {
		d.ReapPoll = t.ReapPoll
	}
	if t.RotateCooldown > 0 {
		d.RotateCooldown = t.RotateCooldown
	}
	if t.RotateMaxPerHour > 0 {
		d.RotateMaxPerHour = t.RotateMaxPerHour
	}
	return d
}

// Config describes how to launch and supervise one agent session.
type Config struct {
	SessionID string // empty generates a new uuid

	Command string
	Args    []string
	Env     map[string]string

	AgentType string // driver name, e.g. "claude"
	Rows      int
	Cols      int
	RingSize  int

	AuthToken string

	// Attach, if non-nil, runs against an existing tmux/screen pane
	// instead of spawning a native PTY child.
	Attach ptybackend.Backend

	HookPipePath string // empty disables tier 1

	// GroomMode selects how disruption prompts are handled: "auto" (the
	// default) dismisses them per spec §4.7; "manual" and "pristine" both
	// leave them for a client to resolve like any other prompt.
	GroomMode string

	Tuning Tuning
}

// Loop owns one agent session's full lifecycle: the backend, the five
// detector tiers, composite merge, prompt enrichment, the send pipeline,
// and the store every transport reads from.
type Loop struct {
	id      string
	cfg     Config
	tuning  Tuning
	driver  *harness.Driver
	backend ptybackend.Backend

	ring   *ring.Buffer
	screen *screen.Screen
	Store  *store.Store

	gate      *inputgate.Gate
	gateOut   chan inputgate.Outcome
	stdoutTap *stdout.Parser
	procMon   *process.Monitor

	activity *activitylog.Logger
	cfgStore *config.Store
	profiles *profile.Manager
	Resolver *hooks.Resolver
	session  *artifact.Session

	signalCh  chan agentstate.DetectionSignal
	composite *composite.Detector
	transCh   chan composite.Transition
	switchCh  chan profile.SwitchAction
	shutdownCh chan shutdownRequest

	metricsCollector *metrics.Collector
	metricsSrv       *metrics.Server
	lastUsage        store.UsageEvent

	ptyCh chan ptyRead

	parkRetryTimer *time.Timer
	parkRetryC     <-chan time.Time
}

// shutdownRequest carries a drain-or-force shutdown request from a
// transport handler or the CLI's signal handler into the session loop.
type shutdownRequest struct {
	force bool
	done  chan int // receives the process exit code to use
}

type ptyRead struct {
	data []byte
	err  error
}

// New constructs a Loop, wiring every detector tier and the send pipeline,
// but does not start the child process — call Spawn, then Run.
func New(cfg Config) (*Loop, error) {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.New().String()
	}
	if cfg.Rows <= 0 {
		cfg.Rows = 24
	}
	if cfg.Cols <= 0 {
		cfg.Cols = 80
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = 4 << 20
	}
	driverName := cfg.AgentType
	if driverName == "" {
		driverName = "generic"
	}
	groomMode := cfg.GroomMode
	if groomMode == "" {
		groomMode = "auto"
	}
	drv, err := harness.Lookup(driverName)
	if err != nil {
		return nil, err
	}

	sess, err := artifact.Acquire(cfg.SessionID)
	if err != nil {
		return nil, fmt.Errorf("coopsession: acquire artifact dir: %w", err)
	}

	actLog := activitylog.New(true, sess.ActivityLogPath(), drv.Name, cfg.SessionID)

	cfgStore, err := config.Load(sess.ConfigPath())
	if err != nil {
		actLog.Close()
		sess.Release(false)
		return nil, fmt.Errorf("coopsession: load config: %w", err)
	}

	l := &Loop{
		id:       cfg.SessionID,
		cfg:      cfg,
		tuning:   cfg.Tuning.withDefaults(),
		driver:   drv,
		ring:     ring.New(cfg.RingSize),
		screen:   screen.New(cfg.Rows, cfg.Cols),
		activity: actLog,
		cfgStore: cfgStore,
		session:  sess,
		profiles: profile.NewManager(cfgStore),
		Resolver: &hooks.Resolver{},

		switchCh:   make(chan profile.SwitchAction, 1),
		shutdownCh: make(chan shutdownRequest, 1),
		ptyCh:      make(chan ptyRead, 1),
	}

	l.Store = store.New(l.ring, l.screen, cfg.AuthToken, drv.Name)
	l.Store.SetStartConfig(cfgStore.Snapshot().Start)
	l.Store.SetStopConfig(cfgStore.Snapshot().Stop)
	l.Store.SetGroomMode(groomMode)

	l.metricsCollector = metrics.NewCollector(actLog)
	metricsSrv, err := metrics.NewServer(l.metricsCollector)
	if err != nil {
		actLog.Close()
		sess.Release(false)
		return nil, fmt.Errorf("coopsession: start metrics collector: %w", err)
	}
	l.metricsSrv = metricsSrv

	l.gateOut = make(chan inputgate.Outcome, 16)
	l.gate = inputgate.New(l.writeRaw, l.gateOut)

	// The composite detector's input channel is created once here (not in
	// Run) so every tier wired up before Run — including the stdout tap
	// constructed right below, which holds a fixed channel reference — sends
	// into the same channel Run's composite.Detector eventually drains.
	l.composite, l.signalCh = composite.New(256)

	l.stdoutTap = stdout.New(drv, driverSupportsStructuredStdout(drv), l.signalCh)

	if cfg.Attach != nil {
		l.backend = cfg.Attach
	} else {
		l.backend = ptybackend.NewNative()
	}

	profile.SetTuning(l.tuning.RotateCooldown, l.tuning.RotateMaxPerHour)

	return l, nil
}

// driverSupportsStructuredStdout reports whether this driver emits
// structured-output-mode JSONL on stdout (tier 3's gating condition per
// spec §4.4).
func driverSupportsStructuredStdout(d *harness.Driver) bool {
	return d.ParseLogLine != nil
}

// writeRaw is the inputgate.Writer passed to inputgate.New: it writes
// straight to the backend and records bytes_written on the store.
func (l *Loop) writeRaw(p []byte) error {
	remaining := p
	for len(remaining) > 0 {
		n, err := l.backend.Write(remaining)
		if err != nil && err != ptybackend.ErrWouldBlock {
			return err
		}
		if n > 0 {
			l.Store.AddBytesWritten(n)
			remaining = remaining[n:]
		}
		if err == ptybackend.ErrWouldBlock || n == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	return nil
}

// Gate exposes the send-pipeline InputGate for transports to call
// Lock/Unlock/Nudge/Respond/WriteText against.
func (l *Loop) Gate() *inputgate.Gate { return l.gate }

// Driver returns the agent driver this session was launched with.
func (l *Loop) Driver() *harness.Driver { return l.driver }

// ConfigStore exposes the persisted session config (stop/start hooks,
// profiles) for transports implementing config/profile CRUD endpoints.
func (l *Loop) ConfigStore() *config.Store { return l.cfgStore }

// Profiles exposes the credential rotation manager for /session/switch and
// /session/profiles.
func (l *Loop) Profiles() *profile.Manager { return l.profiles }

// RequestSwitch enqueues an orchestrator-driven credential switch; the
// session loop performs it on its next iteration.
func (l *Loop) RequestSwitch(act profile.SwitchAction) {
	select {
	case l.switchCh <- act:
	default:
	}
}

// RequestShutdown asks the session loop to begin the drain-then-SIGHUP
// sequence (spec §4.8.1); force skips the drain but still sends SIGHUP and
// waits for the reap. The returned channel receives the process exit code
// once the child has been reaped. Only one request is queued at a time: a
// call made while another request is still queued is not forwarded, and its
// channel receives 130 immediately (the CLI treats a second SIGTERM/SIGINT
// as a direct process exit at code 130 instead of calling this again).
func (l *Loop) RequestShutdown(force bool) <-chan int {
	done := make(chan int, 1)
	select {
	case l.shutdownCh <- shutdownRequest{force: force, done: done}:
	default:
		done <- 130
	}
	return done
}

// Spawn starts the child process (or confirms the attach target) and kicks
// off the hook-pipe FIFO, if configured.
func (l *Loop) Spawn() error {
	env := make(map[string]string, len(l.cfg.Env)+2)
	for k, v := range l.cfg.Env {
		env[k] = v
	}
	env["COOP"] = "1"
	env["COOP_SESSION_ID"] = l.id
	if env["TERM"] == "" {
		env["TERM"] = "xterm-256color"
	}
	if env["OTEL_EXPORTER_OTLP_ENDPOINT"] == "" {
		env["OTEL_EXPORTER_OTLP_ENDPOINT"] = fmt.Sprintf("http://127.0.0.1:%d", l.metricsSrv.Port)
	}
	if l.cfg.HookPipePath != "" {
		env["COOP_HOOK_PIPE"] = l.cfg.HookPipePath
		if err := hook.CreatePipe(l.cfg.HookPipePath); err != nil {
			return fmt.Errorf("coopsession: create hook pipe: %w", err)
		}
	}

	args := l.cfg.Args
	if l.driver.BuildArgs != nil {
		args = l.driver.BuildArgs("", l.cfg.Args)
	}
	command := l.cfg.Command
	if command == "" {
		command = l.driver.DefaultCommand
	}

	if err := l.backend.Spawn(command, args, env, l.cfg.Cols, l.cfg.Rows); err != nil {
		return fmt.Errorf("coopsession: spawn: %w", err)
	}
	l.Store.SetChildPID(l.backend.ChildPID())
	l.Store.SetReady(true)
	return nil
}

// Run drives the single-writer select loop until ctx is cancelled or the
// child exits and drain/shutdown completes. It is the sole writer of
// current_state, state_seq, prompt, error_detail, error_category, ring,
// and screen, per spec §5.
func (l *Loop) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.transCh = make(chan composite.Transition, 16)
	go l.composite.Run(ctx, l.signalCh, l.transCh)

	l.startDetectors(ctx)
	go l.pumpPTY(ctx)
	go l.pumpGateOutcomes(ctx)

	var idleTimer *time.Timer
	var idleC <-chan time.Time
	if l.tuning.IdleTimeout > 0 {
		idleTimer = time.NewTimer(l.tuning.IdleTimeout)
		idleC = idleTimer.C
		defer idleTimer.Stop()
	}

	screenTicker := time.NewTicker(l.tuning.ScreenDebounce)
	defer screenTicker.Stop()
	lastScreenSeq := uint64(0)

	usageTicker := time.NewTicker(time.Second)
	defer usageTicker.Stop()

	defer func() {
		if l.parkRetryTimer != nil {
			l.parkRetryTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case pr := <-l.ptyCh:
			if idleTimer != nil {
				idleTimer.Reset(l.tuning.IdleTimeout)
			}
			if pr.err != nil {
				return l.handleExit(ctx)
			}
			l.handlePTYChunk(pr.data)

		case <-screenTicker.C:
			if seq := l.screen.Seq(); seq != lastScreenSeq {
				lastScreenSeq = seq
				l.Store.BumpScreenSeq()
			}

		case <-usageTicker.C:
			l.publishUsage()

		case tr := <-l.transCh:
			l.handleTransition(ctx, tr)
			if tr.Next.Kind == agentstate.Exited {
				return l.finalizeExit()
			}

		case ev := <-l.Store.ReadInput():
			err := l.gate.WriteRaw(ev.Owner, ev.Bytes)
			if ev.Done != nil {
				ev.Done <- err
			}

		case act := <-l.switchCh:
			go l.performSwitch(act)

		case req := <-l.shutdownCh:
			code := l.runShutdown(ctx, req.force)
			req.done <- code
			return nil

		case <-idleC:
			if idleTimer != nil {
				idleTimer.Reset(l.tuning.IdleTimeout)
			}
			if cur, _, _ := l.Store.AgentState(); cur.Kind == agentstate.Idle {
				go func() { l.RequestShutdown(false) }()
			}

		case <-l.parkRetryC:
			l.parkRetryC = nil
			l.retryParkedRotation()
		}
	}
}

// publishUsage compares the metrics collector's running snapshot against
// the last one broadcast and republishes on the usage channel only when a
// driver turn has actually reported new token/cost figures.
func (l *Loop) publishUsage() {
	snp := l.metricsCollector.Snapshot()
	u := store.UsageEvent{
		InputTokens:  snp.InputTokens,
		OutputTokens: snp.OutputTokens,
		CachedTokens: snp.CachedTokens,
		TotalCostUSD: snp.TotalCostUSD,
	}
	if u == l.lastUsage {
		return
	}
	l.lastUsage = u
	l.Store.PublishUsage(u)
}

// handlePTYChunk appends a chunk to the ring, feeds the screen, feeds the
// tier-3 parser, and broadcasts the OutputEvent — all in lockstep per
// spec §5's ordering guarantee.
func (l *Loop) handlePTYChunk(p []byte) {
	offset := l.ring.TotalWritten()
	l.ring.Write(p)
	l.screen.Feed(p)
	l.Store.AddBytesRead(len(p))
	l.stdoutTap.Feed(p)
	if l.procMon != nil {
		l.procMon.NoteActivity()
	}
	l.Store.PublishOutput(offset, p)
}

// handleTransition performs the single-writer state write + seq bump, then
// broadcasts, matching spec §5: "a TransitionEvent is broadcast only after
// its state write and seq bump."
func (l *Loop) handleTransition(ctx context.Context, tr composite.Transition) {
	prev, seq := l.Store.SetState(tr.Next, tr.Tier)
	l.activity.StateChange(prev.Kind.String(), tr.Next.Kind.String())
	l.Store.PublishTransition(prev, tr.Next, seq, tr.Tier)

	switch tr.Next.Kind {
	case agentstate.Prompt:
		if tr.Next.Prompt != nil && !tr.Next.Prompt.Ready {
			go l.enrichPrompt(ctx, *tr.Next.Prompt, seq)
		}
		if l.Store.GroomMode() == "auto" && inputgate.IsDisruption(tr.Next.Prompt) {
			go l.autoGroomAfterDelay(*tr.Next.Prompt)
		}
	case agentstate.Error:
		if tr.Next.ErrorCategory == agentstate.ErrRateLimited {
			l.handleRateLimitedError()
		}
	}
}

// enrichPrompt runs C6's polling extraction for a not-ready prompt and, on
// success or fallback, republishes the prompt with options filled in.
func (l *Loop) enrichPrompt(ctx context.Context, p agentstate.PromptContext, atSeq uint64) {
	result, ok := promptenrich.Run(ctx, func() []string {
		return l.screen.Snapshot(false).Lines
	})
	if !ok {
		return
	}
	promptenrich.ApplyResult(&p, result)

	cur, seq, tier := l.Store.AgentState()
	if seq != atSeq || cur.Kind != agentstate.Prompt {
		return // superseded by a newer transition; drop the enrichment
	}
	next := agentstate.State{Kind: agentstate.Prompt, Prompt: &p}
	prev, newSeq := l.Store.SetState(next, tier)
	l.Store.PublishTransition(prev, next, newSeq, tier)
}

// autoGroomAfterDelay dismisses a disruption-class prompt (subtypes that
// should never surface to a human, e.g. a stray theme picker) after the
// configured grace delay, using option 1 as the default dismissal.
func (l *Loop) autoGroomAfterDelay(p agentstate.PromptContext) {
	time.Sleep(groomDismissDelay)
	_ = l.gate.AutoGroom(l.driver, agentstate.State{Kind: agentstate.Prompt, Prompt: &p}, 1)
}

// handleRateLimitedError hands the rate_limited Error off to C12's
// rotation algorithm: a Switch outcome requests the session loop perform
// the restart via switchCh, a Parked outcome transitions to Parked and
// schedules a retry per spec §4.12 step 4.
func (l *Loop) handleRateLimitedError() {
	outcome, err := l.profiles.HandleRateLimit(time.Now())
	if err != nil {
		return
	}
	l.applyRotationOutcome(outcome)
}

// retryParkedRotation re-attempts rotation when a scheduled Parked retry
// fires; unlike handleRateLimitedError it doesn't require an active
// profile to rotate away from, since none remains while parked.
func (l *Loop) retryParkedRotation() {
	outcome, err := l.profiles.RetryParked(time.Now())
	if err != nil {
		return
	}
	l.applyRotationOutcome(outcome)
}

// applyRotationOutcome carries out whichever of Switch/Parked C12's
// rotation algorithm decided on.
func (l *Loop) applyRotationOutcome(outcome profile.RotationOutcome) {
	if outcome.Switch != nil {
		l.RequestSwitch(*outcome.Switch)
		return
	}
	if outcome.Parked == nil {
		return
	}

	info := *outcome.Parked
	next := agentstate.State{Kind: agentstate.Parked, Parked: &info}
	prev, seq := l.Store.SetState(next, 0)
	l.Store.PublishTransition(prev, next, seq, 0)

	resumeAt, err := profile.NextRetryTime(info.ResumeAtEpochMS)
	if err != nil {
		resumeAt = time.UnixMilli(info.ResumeAtEpochMS)
	}
	delay := time.Until(resumeAt)
	if delay < 0 {
		delay = 0
	}
	if l.parkRetryTimer != nil {
		l.parkRetryTimer.Stop()
	}
	l.parkRetryTimer = time.NewTimer(delay)
	l.parkRetryC = l.parkRetryTimer.C
}

// performSwitch carries out spec §4.12's POST /session/switch sequence:
// broadcast Restarting, SIGHUP, respawn with merged env, reset
// ready_flag/state. Runs off the main select loop (child reap can block);
// its state writes go through the Store, which is safe for concurrent
// writers.
func (l *Loop) performSwitch(act profile.SwitchAction) {
	prev, seq := l.Store.SetState(agentstate.State{Kind: agentstate.Restarting}, 0)
	l.Store.PublishTransition(prev, agentstate.State{Kind: agentstate.Restarting}, seq, 0)

	l.Store.SetReady(false)
	_ = l.backend.Signal(ptybackend.SignalHangup)
	_, _ = l.backend.Wait()

	if l.cfg.Env == nil {
		l.cfg.Env = map[string]string{}
	}
	for k, v := range act.Env {
		l.cfg.Env[k] = v
	}
	resumeID := ""
	if act.ResumeDriver {
		resumeID = l.id
	}
	args := l.cfg.Args
	if l.driver.BuildArgs != nil {
		args = l.driver.BuildArgs(resumeID, l.cfg.Args)
	}
	command := l.cfg.Command
	if command == "" {
		command = l.driver.DefaultCommand
	}

	prev, seq = l.Store.SetState(agentstate.State{Kind: agentstate.Starting}, 0)
	l.Store.PublishTransition(prev, agentstate.State{Kind: agentstate.Starting}, seq, 0)

	if err := l.backend.Spawn(command, args, l.mergeEnv(l.cfg.Env), l.cfg.Cols, l.cfg.Rows); err != nil {
		errState := agentstate.State{Kind: agentstate.Error, ErrorDetail: err.Error(), ErrorCategory: agentstate.ErrOther}
		prev, seq = l.Store.SetState(errState, 0)
		l.Store.PublishTransition(prev, errState, seq, 0)
		return
	}
	l.Store.SetChildPID(l.backend.ChildPID())
	l.Store.SetReady(true)
}

func (l *Loop) mergeEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env)+2)
	for k, v := range env {
		out[k] = v
	}
	out["COOP"] = "1"
	if out["OTEL_EXPORTER_OTLP_ENDPOINT"] == "" {
		out["OTEL_EXPORTER_OTLP_ENDPOINT"] = fmt.Sprintf("http://127.0.0.1:%d", l.metricsSrv.Port)
	}
	return out
}

// handleExit is invoked when the PTY backend reports EOF/EIO: reap the
// child and synthesize an Exited DetectionSignal through the normal
// composite path so the usual transition/broadcast machinery applies.
func (l *Loop) handleExit(ctx context.Context) error {
	status, _ := l.backend.Wait()
	l.Store.SetExitCode(codeOf(status))

	sig := agentstate.DetectionSignal{
		State:  agentstate.State{Kind: agentstate.Exited, Exit: &agentstate.ExitInfo{Code: status.Code, Signal: status.Signal}},
		TierID: 4,
		Source: agentstate.SourceProcess,
	}
	select {
	case l.signalCh <- sig:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case tr := <-l.transCh:
		l.handleTransition(ctx, tr)
		return l.finalizeExit()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
		return fmt.Errorf("coopsession: timed out waiting for exit transition")
	}
}

func codeOf(status ptybackend.ExitStatus) int {
	if status.Code != nil {
		return *status.Code
	}
	return -1
}

// finalizeExit releases session resources once the child has already
// exited (naturally or via the shutdown/drain sequence in drain.go, which
// has already run by the time its own Exited transition lands here).
func (l *Loop) finalizeExit() error {
	l.publishUsage()
	l.metricsSrv.Stop()
	l.activity.Close()
	l.session.Release(false)
	return nil
}

var groomDismissDelay = 500 * time.Millisecond

// SetGroomDismissDelay overrides the auto-groom dismissal delay; wired to
// COOP_GROOM_DISMISS_DELAY_MS at startup.
func SetGroomDismissDelay(d time.Duration) {
	if d > 0 {
		groomDismissDelay = d
	}
}

// pumpGateOutcomes mirrors every send-pipeline delivery into the activity
// log (hook-agnostic, always-on observability for nudge/respond/groom).
func (l *Loop) pumpGateOutcomes(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-l.gateOut:
			opt := "-"
			if o.Option != nil {
				opt = fmt.Sprintf("%d", *o.Option)
			}
			l.activity.PermissionDecision(string(o.Kind), o.Source, opt+":"+o.Subtype)
		}
	}
}
