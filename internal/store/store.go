// Package store implements C9: the concrete shared-state hub the session
// loop writes to and all three transports read from. It is organized into
// the five sub-aggregates spec §4.9 names (Terminal, Driver, Lifecycle,
// Config, Broadcast), generalizing the teacher's AgentMonitor
// (single-subscriber, closed-channel-on-change) into a multi-subscriber
// broadcast hub since coop serves many concurrent WS/gRPC stream clients.
package store

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coopdev/coop/internal/agentstate"
	"github.com/coopdev/coop/internal/config"
	"github.com/coopdev/coop/internal/ring"
	"github.com/coopdev/coop/internal/screen"
)

// OutputEvent is broadcast every time a PTY chunk is appended to the ring.
type OutputEvent struct {
	Offset uint64
	Bytes  []byte
}

// TransitionEvent is broadcast after a state write and its seq bump.
type TransitionEvent struct {
	Prev agentstate.State
	Next agentstate.State
	Seq  uint64
	Tier uint8
}

// UsageEvent mirrors a metrics.Snapshot update for WS usage subscribers.
type UsageEvent struct {
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
	TotalCostUSD float64
}

// InputEvent is one queued write request from a transport handler to the
// session loop's single-writer input channel.
type InputEvent struct {
	Owner string // lock owner, for InputGate's per-request acquire
	Bytes []byte
	Done  chan error // receives the write result exactly once, if non-nil
}

// driverState bundles current_state + state_seq + prompt + error_detail +
// error_category under one lock, matching spec §4.9's "all under one lock
// for atomicity" requirement for the Driver aggregate.
type driverState struct {
	mu            sync.RWMutex
	state         agentstate.State
	seq           uint64
	since         time.Time
	detectionTier atomic.Uint32
}

// Store is the Arc-shared hub referenced by the session loop and every
// transport handler. All fields are safe for concurrent access; callers
// obtain a *Store once (via New) and clone the pointer everywhere.
type Store struct {
	// Terminal aggregate.
	Ring      *ring.Buffer
	Screen    *screen.Screen
	screenSeq atomic.Uint64

	driver driverState

	// Lifecycle aggregate.
	childPID  atomic.Int64
	exitCode  atomic.Int64
	hasExit   atomic.Bool
	readyFlag atomic.Bool
	bytesRead atomic.Uint64
	bytesWrit atomic.Uint64
	startedAt time.Time

	// Config aggregate.
	authToken string
	agentType string
	cfgMu     sync.RWMutex
	stop      config.StopConfig
	start     config.StartConfig
	groomMode string

	// Broadcast aggregate.
	output        *Broadcaster[OutputEvent]
	transition    *Broadcaster[TransitionEvent]
	promptOutcome *Broadcaster[agentstate.PromptContext]
	stopOutcome   *Broadcaster[string]
	startOutcome  *Broadcaster[string]
	usage         *Broadcaster[UsageEvent]
	usageMu       sync.RWMutex
	lastUsage     UsageEvent

	input chan InputEvent
}

// New creates a Store wired to the given ring/screen handles (owned by the
// session loop, which is the only writer of them).
func New(r *ring.Buffer, scr *screen.Screen, authToken, agentType string) *Store {
	s := &Store{
		Ring:      r,
		Screen:    scr,
		authToken: authToken,
		agentType: agentType,
		startedAt: time.Now(),

		output:        NewBroadcaster[OutputEvent](),
		transition:    NewBroadcaster[TransitionEvent](),
		promptOutcome: NewBroadcaster[agentstate.PromptContext](),
		stopOutcome:   NewBroadcaster[string](),
		startOutcome:  NewBroadcaster[string](),
		usage:         NewBroadcaster[UsageEvent](),

		input: make(chan InputEvent, 64),
	}
	s.driver.state = agentstate.State{Kind: agentstate.Starting}
	s.driver.since = s.startedAt
	return s
}

// --- Terminal aggregate ---

// BumpScreenSeq records that the screen changed; transports compare against
// this instead of re-deriving it from screen.Seq() on every poll.
func (s *Store) BumpScreenSeq() uint64 {
	return s.screenSeq.Add(1)
}

// ScreenSeq returns the last recorded screen change sequence.
func (s *Store) ScreenSeq() uint64 {
	return s.screenSeq.Load()
}

// --- Driver aggregate ---

// AgentState returns a copy of the current state, its seq, and the tier
// that produced it — consistent with each other since they're read under
// one lock.
func (s *Store) AgentState() (agentstate.State, uint64, uint8) {
	s.driver.mu.RLock()
	defer s.driver.mu.RUnlock()
	return s.driver.state, s.driver.seq, uint8(s.driver.detectionTier.Load())
}

// SetState performs the single-writer state write + seq bump required
// before a TransitionEvent broadcast (spec §5 ordering guarantee: "a
// TransitionEvent is broadcast only after its state write and seq bump").
// It returns the new seq so the caller can build the TransitionEvent
// without re-acquiring the lock.
func (s *Store) SetState(next agentstate.State, tier uint8) (prev agentstate.State, seq uint64) {
	s.driver.mu.Lock()
	prev = s.driver.state
	s.driver.state = next
	s.driver.seq++
	seq = s.driver.seq
	s.driver.since = time.Now()
	s.driver.detectionTier.Store(uint32(tier))
	s.driver.mu.Unlock()
	return prev, seq
}

// StateDuration reports how long the current state has been held.
func (s *Store) StateDuration() time.Duration {
	s.driver.mu.RLock()
	since := s.driver.since
	s.driver.mu.RUnlock()
	return time.Since(since)
}

// PublishTransition broadcasts a TransitionEvent. Callers must have already
// called SetState so the seq in the event matches what readers will observe
// via AgentState.
func (s *Store) PublishTransition(prev, next agentstate.State, seq uint64, tier uint8) {
	s.transition.Publish(TransitionEvent{Prev: prev, Next: next, Seq: seq, Tier: tier})
	if next.Kind == agentstate.Prompt && next.Prompt != nil {
		s.promptOutcome.Publish(*next.Prompt)
	}
}

// --- Lifecycle aggregate ---

func (s *Store) SetChildPID(pid int)  { s.childPID.Store(int64(pid)) }
func (s *Store) ChildPID() int        { return int(s.childPID.Load()) }

// SetExitCode records the exit code. Per spec §5's exit-path ordering
// guarantee, callers must call this *before* SetState(Exited, ...) /
// PublishTransition so readers that observe the Exited broadcast can
// already see a consistent exit code.
func (s *Store) SetExitCode(code int) {
	s.exitCode.Store(int64(code))
	s.hasExit.Store(true)
}

// ExitCode returns the recorded exit code and whether one has been set.
func (s *Store) ExitCode() (int, bool) {
	return int(s.exitCode.Load()), s.hasExit.Load()
}

func (s *Store) SetReady(v bool)  { s.readyFlag.Store(v) }
func (s *Store) Ready() bool      { return s.readyFlag.Load() }

func (s *Store) AddBytesRead(n int)    { s.bytesRead.Add(uint64(n)) }
func (s *Store) AddBytesWritten(n int) { s.bytesWrit.Add(uint64(n)) }
func (s *Store) BytesRead() uint64     { return s.bytesRead.Load() }
func (s *Store) BytesWritten() uint64  { return s.bytesWrit.Load() }

func (s *Store) Uptime() time.Duration { return time.Since(s.startedAt) }

// --- Config aggregate ---

func (s *Store) AuthToken() string { return s.authToken }
func (s *Store) AgentType() string { return s.agentType }

func (s *Store) StopConfig() config.StopConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.stop
}

func (s *Store) SetStopConfig(c config.StopConfig) {
	s.cfgMu.Lock()
	s.stop = c
	s.cfgMu.Unlock()
	s.stopOutcome.Publish(string(c.Mode))
}

func (s *Store) StartConfig() config.StartConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.start
}

func (s *Store) SetStartConfig(c config.StartConfig) {
	s.cfgMu.Lock()
	s.start = c
	s.cfgMu.Unlock()
}

// GroomMode returns the current disruption-prompt handling mode
// (auto|manual|pristine).
func (s *Store) GroomMode() string {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.groomMode
}

// SetGroomMode updates the live groom mode; takes effect on the next
// disruption prompt.
func (s *Store) SetGroomMode(mode string) {
	s.cfgMu.Lock()
	s.groomMode = mode
	s.cfgMu.Unlock()
}

// --- Broadcast aggregate ---

func (s *Store) Output() *Broadcaster[OutputEvent]                    { return s.output }
func (s *Store) Transition() *Broadcaster[TransitionEvent]            { return s.transition }
func (s *Store) PromptOutcome() *Broadcaster[agentstate.PromptContext] { return s.promptOutcome }
func (s *Store) StopOutcome() *Broadcaster[string]                    { return s.stopOutcome }
func (s *Store) StartOutcome() *Broadcaster[string]                   { return s.startOutcome }
func (s *Store) Usage() *Broadcaster[UsageEvent]                      { return s.usage }

// Input returns the MPSC channel transports enqueue InputEvents onto; the
// session loop is the sole receiver.
func (s *Store) Input() chan<- InputEvent { return s.input }

// ReadInput is the session loop's receive side of the input channel.
func (s *Store) ReadInput() <-chan InputEvent { return s.input }

// PublishOutput broadcasts the OutputEvent for p. It does not write to the
// ring or the screen: the session loop appends p to Ring and feeds Screen
// itself, in lockstep, before calling this.
func (s *Store) PublishOutput(offset uint64, p []byte) {
	s.output.Publish(OutputEvent{Offset: offset, Bytes: p})
}

// PublishUsage broadcasts a usage snapshot update and caches it for
// LastUsage, so a client that connects after the update still sees it.
func (s *Store) PublishUsage(u UsageEvent) {
	s.usageMu.Lock()
	s.lastUsage = u
	s.usageMu.Unlock()
	s.usage.Publish(u)
}

// LastUsage returns the most recently published usage snapshot, or the
// zero value if none has been published yet.
func (s *Store) LastUsage() UsageEvent {
	s.usageMu.RLock()
	defer s.usageMu.RUnlock()
	return s.lastUsage
}

// FormatStateDuration renders d the way the teacher's terminal overlay
// does: whole seconds under a minute, then whole minutes/hours/days.
func FormatStateDuration(d time.Duration) string {
	if d < time.Minute {
		secs := int(d.Seconds())
		if secs < 1 {
			secs = 1
		}
		return fmt.Sprintf("%ds", secs)
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
