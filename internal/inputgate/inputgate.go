// Package inputgate implements C7: the funnel all external input passes
// through before reaching the agent's PTY, enforcing the writer lock,
// minimum inter-delivery spacing, and the per-prompt-kind encoding table
// that turns an API-level respond/nudge request into PTY bytes.
package inputgate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coopdev/coop/internal/agentstate"
	"github.com/coopdev/coop/internal/harness"
)

// ErrWriterBusy is returned when the writer lock is held by another
// client (HTTP 409 WRITER_BUSY).
var ErrWriterBusy = errors.New("inputgate: writer lock held")

// ErrAgentBusy is returned by Nudge when the agent isn't Idle (HTTP 409
// AGENT_BUSY).
var ErrAgentBusy = errors.New("inputgate: agent not idle")

// ErrNoPrompt is returned by Respond when the agent isn't in a Prompt
// state (HTTP 409 NO_PROMPT).
var ErrNoPrompt = errors.New("inputgate: no active prompt")

var (
	delayBase    = 200 * time.Millisecond
	delayPerByte = 1 * time.Millisecond
	delayMax     = 5 * time.Second
	minGap       = 200 * time.Millisecond
	lockTTL      = 30 * time.Second
	nudgeTimeout = 4 * time.Second
)

// SetTuning overrides the package-level delay/timeout constants; wired to
// the COOP_INPUT_DELAY_*, COOP_NUDGE_TIMEOUT_MS env vars at startup. Zero
// values leave the corresponding setting unchanged.
func SetTuning(base, perByte, max, gap, lockTTLVal, nudgeTimeoutVal time.Duration) {
	if base > 0 {
		delayBase = base
	}
	if perByte > 0 {
		delayPerByte = perByte
	}
	if max > 0 {
		delayMax = max
	}
	if gap > 0 {
		minGap = gap
	}
	if lockTTLVal > 0 {
		lockTTL = lockTTLVal
	}
	if nudgeTimeoutVal > 0 {
		nudgeTimeout = nudgeTimeoutVal
	}
}

// computeDelay is the base+per-byte-over-256, capped formula spec §4.7
// defines for nudge encoding. Only nudge deliveries use it; every other
// delivery waits the flat minGap.
func computeDelay(payloadLen int) time.Duration {
	extra := payloadLen - 256
	if extra < 0 {
		extra = 0
	}
	d := delayBase + time.Duration(extra)*delayPerByte
	if d > delayMax {
		return delayMax
	}
	return d
}

// Writer delivers raw bytes to the agent's PTY.
type Writer func(p []byte) error

// Outcome is emitted on every successful delivery, per spec §4.7's
// prompt_outcome event.
type Outcome struct {
	Source  string // nudge | respond | auto_groom
	Kind    agentstate.PromptKind
	Subtype string
	Option  *int
}

// Gate serializes all writes into the agent's PTY: a single writer lock,
// a minimum inter-delivery gap, and the nudge/respond encoding logic.
type Gate struct {
	mu sync.Mutex

	holder    string
	expiresAt time.Time

	lastDelivery time.Time

	write    Writer
	outcomes chan<- Outcome

	nudgeCancel context.CancelFunc
}

// New creates a Gate that writes accepted payloads via write and, if
// outcomes is non-nil, reports a prompt_outcome event per delivery.
func New(write Writer, outcomes chan<- Outcome) *Gate {
	return &Gate{write: write, outcomes: outcomes}
}

// Lock acquires the writer lock explicitly (the WebSocket path) for owner,
// auto-releasing after lockTTL. Returns ErrWriterBusy if already held by a
// different, unexpired owner.
func (g *Gate) Lock(owner string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holder != "" && g.holder != owner && time.Now().Before(g.expiresAt) {
		return ErrWriterBusy
	}
	g.holder = owner
	g.expiresAt = time.Now().Add(lockTTL)
	return nil
}

// Unlock releases the writer lock if held by owner.
func (g *Gate) Unlock(owner string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holder != owner {
		return fmt.Errorf("inputgate: %q does not hold the writer lock", owner)
	}
	g.holder = ""
	return nil
}

// withAtomicLock is the HTTP path: acquire-per-request, always release.
func (g *Gate) withAtomicLock(owner string, fn func() error) error {
	g.mu.Lock()
	if g.holder != "" && g.holder != owner && time.Now().Before(g.expiresAt) {
		g.mu.Unlock()
		return ErrWriterBusy
	}
	prevHolder, prevExpiry := g.holder, g.expiresAt
	g.holder = owner
	g.expiresAt = time.Now().Add(lockTTL)
	if g.nudgeCancel != nil {
		// External input supersedes a pending nudge retry.
		g.nudgeCancel()
		g.nudgeCancel = nil
	}
	g.mu.Unlock()

	err := fn()

	g.mu.Lock()
	if g.holder == owner {
		g.holder, g.expiresAt = prevHolder, prevExpiry
	}
	g.mu.Unlock()
	return err
}

// deliver enforces the flat minimum inter-delivery gap, then writes payload.
func (g *Gate) deliver(payload []byte) error {
	return g.deliverWithGap(payload, minGap)
}

// deliverNudge enforces the nudge-specific length-scaled gap (computeDelay)
// instead of the flat minGap, since a nudge's own encoding is what spec
// §4.7 scales the inter-delivery wait against.
func (g *Gate) deliverNudge(payload []byte) error {
	return g.deliverWithGap(payload, computeDelay(len(payload)))
}

func (g *Gate) deliverWithGap(payload []byte, gap time.Duration) error {
	g.mu.Lock()
	wait := gap - time.Since(g.lastDelivery)
	g.mu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}
	g.mu.Lock()
	g.lastDelivery = time.Now()
	g.mu.Unlock()
	return g.write(payload)
}

// WriteRaw delivers raw bytes under the HTTP per-request lock semantics.
func (g *Gate) WriteRaw(owner string, p []byte) error {
	return g.withAtomicLock(owner, func() error { return g.deliver(p) })
}

// WriteText delivers text, optionally appending a carriage return.
func (g *Gate) WriteText(owner, text string, withCR bool) error {
	payload := []byte(text)
	if withCR {
		payload = append(payload, '\r')
	}
	return g.WriteRaw(owner, payload)
}

// Nudge delivers driver.EncodeNudge(message) if the agent is Idle, then
// starts a background watcher that retransmits a single "\r" if no
// Working transition arrives within nudgeTimeout. The caller closes
// transitioned on the next state transition; input delivered through
// WriteRaw, WriteText or Respond, and a subsequent nudge, cancel a pending
// retry inside the Gate. Each of those supersedes the retry.
func (g *Gate) Nudge(ctx context.Context, driver *harness.Driver, state agentstate.State, message string, transitioned <-chan struct{}) error {
	if state.Kind != agentstate.Idle {
		return ErrAgentBusy
	}
	if driver == nil || driver.EncodeNudge == nil {
		return fmt.Errorf("inputgate: driver has no nudge encoder")
	}

	g.mu.Lock()
	if g.nudgeCancel != nil {
		g.nudgeCancel()
	}
	retryCtx, cancel := context.WithCancel(ctx)
	g.nudgeCancel = cancel
	g.mu.Unlock()

	payload := driver.EncodeNudge(message)
	if err := g.deliverNudge(payload); err != nil {
		cancel()
		return err
	}
	g.emit(Outcome{Source: "nudge"})

	go g.watchNudgeTimeout(retryCtx, transitioned)
	return nil
}

func (g *Gate) watchNudgeTimeout(ctx context.Context, transitioned <-chan struct{}) {
	timer := time.NewTimer(nudgeTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-transitioned:
	case <-timer.C:
		g.deliverNudge([]byte("\r"))
		g.emit(Outcome{Source: "nudge"})
	}
}

// Respond delivers a prompt-kind-specific encoding if the agent is in a
// Prompt state, else ErrNoPrompt.
func (g *Gate) Respond(owner string, driver *harness.Driver, state agentstate.State, req harness.RespondRequest) error {
	if state.Kind != agentstate.Prompt || state.Prompt == nil {
		return ErrNoPrompt
	}
	if driver == nil || driver.EncodeRespond == nil {
		return fmt.Errorf("inputgate: driver has no respond encoder")
	}
	deliveries := driver.EncodeRespond(*state.Prompt, req)
	if len(deliveries) == 0 {
		return fmt.Errorf("inputgate: respond request did not encode to any delivery")
	}
	return g.withAtomicLock(owner, func() error {
		for i, d := range deliveries {
			if i > 0 && d.DelayBeforeMS > 0 {
				time.Sleep(time.Duration(d.DelayBeforeMS) * time.Millisecond)
			}
			if err := g.deliver(d.Bytes); err != nil {
				return err
			}
		}
		g.emit(Outcome{Source: "respond", Kind: state.Prompt.Kind, Subtype: state.Prompt.Subtype, Option: req.Option})
		return nil
	})
}

// AutoGroom issues the configured default response to a disruption prompt
// without consumer action, per spec §4.7. Callers invoke this after first
// broadcasting the prompt transition so observers see it before it's
// dismissed.
func (g *Gate) AutoGroom(driver *harness.Driver, state agentstate.State, optionN int) error {
	if state.Kind != agentstate.Prompt || state.Prompt == nil {
		return ErrNoPrompt
	}
	if driver == nil || driver.EncodeRespond == nil {
		return fmt.Errorf("inputgate: driver has no respond encoder")
	}
	opt := optionN
	deliveries := driver.EncodeRespond(*state.Prompt, harness.RespondRequest{Option: &opt})
	for i, d := range deliveries {
		if i > 0 && d.DelayBeforeMS > 0 {
			time.Sleep(time.Duration(d.DelayBeforeMS) * time.Millisecond)
		}
		if err := g.deliver(d.Bytes); err != nil {
			return err
		}
	}
	g.emit(Outcome{Source: "auto_groom", Kind: state.Prompt.Kind, Subtype: state.Prompt.Subtype, Option: &opt})
	return nil
}

func (g *Gate) emit(o Outcome) {
	if g.outcomes == nil {
		return
	}
	select {
	case g.outcomes <- o:
	default:
	}
}

// DisruptionSubtypes is the set of setup/permission subtypes eligible for
// auto-grooming per spec §4.7.
var DisruptionSubtypes = map[string]bool{
	"security_notes": true, "login_success": true, "terminal_setup": true,
	"theme_picker": true, "settings_error": true, "trust": true,
}

// IsDisruption reports whether p is eligible for auto-grooming.
func IsDisruption(p *agentstate.PromptContext) bool {
	return p != nil && DisruptionSubtypes[p.Subtype]
}
