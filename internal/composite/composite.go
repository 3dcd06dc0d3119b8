// Package composite implements the merge rules that turn many detector
// tiers' DetectionSignals into a single accepted transition stream (C5).
package composite

import (
	"context"

	"github.com/coopdev/coop/internal/agentstate"
)

// Transition is an accepted state change, ready for the session loop to
// perform the single-writer state write + seq bump + broadcast.
type Transition struct {
	Prev agentstate.State
	Next agentstate.State
	Tier uint8
}

// Detector merges DetectionSignals from all tiers applying the ordered
// rules from spec §4.5. It is not safe for concurrent use by multiple
// goroutines calling Accept; it is intended to be driven by a single
// consumer loop (the session loop), matching the "only one task mutates
// current_state" guarantee in §4.8.
type Detector struct {
	state       agentstate.State
	tierOfCur   uint8
	terminal    bool
	sink        chan<- agentstate.DetectionSignal
}

// New creates a Detector seeded at agentstate.Starting and returns it along
// with the channel tiers should send DetectionSignals to.
func New(bufSize int) (*Detector, chan agentstate.DetectionSignal) {
	ch := make(chan agentstate.DetectionSignal, bufSize)
	d := &Detector{
		state:     agentstate.State{Kind: agentstate.Starting},
		tierOfCur: 0,
		sink:      ch,
	}
	return d, ch
}

// Run drains signalCh, applying the merge rules, and sends every accepted
// Transition to out. It returns when ctx is cancelled or after forwarding a
// terminal Exited transition.
func (d *Detector) Run(ctx context.Context, signalCh <-chan agentstate.DetectionSignal, out chan<- Transition) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signalCh:
			if !ok {
				return
			}
			if t, accepted := d.accept(sig); accepted {
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
				if d.terminal {
					return
				}
			}
		}
	}
}

// accept applies the ordered rules from spec §4.5 and returns the
// Transition plus whether it should be forwarded.
func (d *Detector) accept(sig agentstate.DetectionSignal) (Transition, bool) {
	// Rule 1: terminal override.
	if sig.State.Kind == agentstate.Exited {
		prev := d.state
		d.state = sig.State
		d.tierOfCur = sig.TierID
		d.terminal = true
		return Transition{Prev: prev, Next: d.state, Tier: sig.TierID}, true
	}
	if d.terminal {
		return Transition{}, false
	}

	// Rule 2: duplicate suppression.
	if sig.State.Equal(d.state) {
		if sig.TierID < d.tierOfCur {
			d.tierOfCur = sig.TierID
		}
		return Transition{}, false
	}

	// Rule 3: same-or-higher confidence, with prompt-specificity exception.
	if sig.TierID <= d.tierOfCur {
		if sig.TierID == d.tierOfCur && isGenericPermissionOverSpecific(d.state, sig) {
			return Transition{}, false
		}
		prev := d.state
		d.state = sig.State
		d.tierOfCur = sig.TierID
		return Transition{Prev: prev, Next: d.state, Tier: sig.TierID}, true
	}

	// Rule 4: lower confidence, escalation only.
	if sig.State.Kind.Priority() > d.state.Kind.Priority() {
		prev := d.state
		d.state = sig.State
		d.tierOfCur = sig.TierID
		return Transition{Prev: prev, Next: d.state, Tier: sig.TierID}, true
	}

	// Rule 5: lower confidence, downgrade — silently rejected.
	return Transition{}, false
}

// isGenericPermissionOverSpecific implements the exception carved out of
// rule 3: a same-tier Prompt(permission) signal must not clobber a more
// specific Prompt(plan|question|setup) that's already current.
func isGenericPermissionOverSpecific(current agentstate.State, sig agentstate.DetectionSignal) bool {
	if current.Kind != agentstate.Prompt || current.Prompt == nil {
		return false
	}
	if sig.State.Kind != agentstate.Prompt || sig.State.Prompt == nil {
		return false
	}
	specific := current.Prompt.Kind == agentstate.PromptPlan ||
		current.Prompt.Kind == agentstate.PromptQuestion ||
		current.Prompt.Kind == agentstate.PromptSetup
	return specific && sig.State.Prompt.Kind == agentstate.PromptPermission
}

// State returns the detector's current accepted state (for tests/inspection
// outside the Run loop).
func (d *Detector) State() agentstate.State { return d.state }

// TierOfCurrent returns the tier that last set the current state.
func (d *Detector) TierOfCurrent() uint8 { return d.tierOfCur }
