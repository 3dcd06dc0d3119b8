// Package harness defines the per-agent adapter surface (detector wiring,
// nudge/respond encoders, hook templates) that keeps the session loop
// agent-agnostic, and a self-registering driver registry in the style of
// the teacher's agent/harness package.
package harness

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coopdev/coop/internal/agentstate"
)

// ClassifyFunc maps one hook event (or session-log / stdout JSONL entry) to
// a detected state. ok is false when the payload carries no classifiable
// signal (the tier should drop it).
type ClassifyFunc func(eventName string, payload json.RawMessage) (agentstate.State, bool)

// LogParseFunc classifies one parsed JSON line from a session-log or
// stdout-JSONL source (tiers 2 and 3 share the same per-agent semantics per
// spec §4.4).
type LogParseFunc func(line []byte) (agentstate.State, bool)

// NudgeEncoder renders a nudge message into PTY bytes for this driver.
type NudgeEncoder func(message string) []byte

// RespondRequest is the normalized shape of a respond operation; only the
// fields relevant to PromptKind are populated.
type RespondRequest struct {
	Option  *int
	Text    string
	Accept  bool
	Answers []string
}

// RespondEncoder renders a respond request into one or more timed PTY
// writes for the given prompt context. Before each Delivery after the
// first, the gate waits its DelayBeforeMS, then writes its Bytes.
type RespondEncoder func(p agentstate.PromptContext, req RespondRequest) []Delivery

// Delivery is one timed write in a respond/nudge encoding.
type Delivery struct {
	Bytes []byte
	DelayBeforeMS int
}

// Driver bundles everything agent-specific: detector classification,
// encoders, and the command/env it takes to launch the agent CLI.
type Driver struct {
	Name string

	DefaultCommand string

	// ClassifyHook maps a Tier-1 hook event to a state, or false if the
	// event isn't classifiable on its own.
	ClassifyHook ClassifyFunc

	// ParseLogLine classifies one JSON line from the session log (tier 2)
	// or structured stdout (tier 3).
	ParseLogLine LogParseFunc

	// SessionLogGlob is the default file-glob pattern (after
	// $HOME-expansion) where this agent writes its session transcript,
	// used by tier 2 discovery when no env override is set.
	SessionLogGlob string

	// ConfigDirEnv is the environment variable that, if set, overrides
	// SessionLogGlob's base directory (tier 2 discovery rule (a)).
	ConfigDirEnv string

	EncodeNudge   NudgeEncoder
	EncodeRespond RespondEncoder

	// BuildArgs turns the generic launch configuration into this driver's
	// CLI flags (e.g. --resume, structured-output mode flags).
	BuildArgs func(resumeID string, extraArgs []string) []string
}

var (
	mu       sync.RWMutex
	registry = map[string]*Driver{}
)

// Register adds a driver to the registry. Called from each driver
// package's init().
func Register(d *Driver) {
	mu.Lock()
	defer mu.Unlock()
	registry[d.Name] = d
}

// Lookup returns the registered driver for name, or an error if none is
// registered (NO_DRIVER per the error-code table in spec §4.10).
func Lookup(name string) (*Driver, error) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("harness: no driver registered for %q", name)
	}
	return d, nil
}

// Names returns all registered driver names.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return names
}
