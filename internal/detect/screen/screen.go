// Package screen implements detector tier 5: pattern matching over
// rendered terminal content. Exact glyphs and phrases are agent-version
// specific, so dialog classes are configuration here, not code (spec §9).
package screen

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/coopdev/coop/internal/agentstate"
)

const tierID = 5

// DialogClass describes one interactive dialog coop can recognize purely
// from rendered screen text: a set of phrases where at least MinMatches
// must appear for the class to fire, classified into either a setup prompt
// (subtype is the class Name) or a permission/trust prompt.
type DialogClass struct {
	Name       string
	Phrases    []string
	MinMatches int
	Permission bool // true: Prompt(permission, subtype=trust); false: Prompt(setup, subtype=Name)
}

// DefaultDialogClasses mirrors the "disruption" subtypes spec §4.6 names
// for auto-grooming eligibility: security notices, login confirmations,
// first-run terminal setup, theme pickers, settings errors, and the
// trust-this-folder permission prompt.
func DefaultDialogClasses() []DialogClass {
	return []DialogClass{
		{Name: "trust", Permission: true, MinMatches: 2, Phrases: []string{
			"do you trust the files in this folder",
			"trust the authors",
		}},
		{Name: "security_notes", MinMatches: 2, Phrases: []string{
			"security notes",
			"claude code can make mistakes",
		}},
		{Name: "login_success", MinMatches: 2, Phrases: []string{
			"login successful",
			"press enter to continue",
		}},
		{Name: "terminal_setup", MinMatches: 2, Phrases: []string{
			"terminal setup",
			"recommended settings",
		}},
		{Name: "theme_picker", MinMatches: 2, Phrases: []string{
			"choose the text style",
			"dark mode",
		}},
		{Name: "settings_error", MinMatches: 2, Phrases: []string{
			"settings file",
			"could not be parsed",
		}},
	}
}

var idleCursorGlyphs = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*❯\s*$`),
	regexp.MustCompile(`(?m)^\s*>\s*$`),
}

// Matcher classifies a rendered screen (plain-text lines) into a Prompt or
// Idle DetectionSignal, or returns ok=false when nothing matches.
type Matcher struct {
	classes []DialogClass
}

// NewMatcher creates a Matcher over the given dialog classes.
func NewMatcher(classes []DialogClass) *Matcher {
	return &Matcher{classes: classes}
}

// Classify inspects the joined screen lines and returns the first matching
// signal. Dialog classes take priority over idle-cursor detection, since an
// idle glyph can coincidentally appear inside a dialog's border art.
func (m *Matcher) Classify(lines []string) (agentstate.DetectionSignal, bool) {
	text := strings.ToLower(strings.Join(lines, "\n"))

	for _, class := range m.classes {
		matches := 0
		for _, phrase := range class.Phrases {
			if strings.Contains(text, strings.ToLower(phrase)) {
				matches++
			}
		}
		if matches < class.MinMatches {
			continue
		}
		if class.Permission {
			return signal(agentstate.State{Kind: agentstate.Prompt, Prompt: &agentstate.PromptContext{
				Kind: agentstate.PromptPermission, Subtype: "trust", Ready: true,
			}}), true
		}
		return signal(agentstate.State{Kind: agentstate.Prompt, Prompt: &agentstate.PromptContext{
			Kind: agentstate.PromptSetup, Subtype: class.Name, Ready: true,
		}}), true
	}

	joined := strings.Join(lines, "\n")
	for _, re := range idleCursorGlyphs {
		if re.MatchString(joined) {
			return signal(agentstate.State{Kind: agentstate.Idle}), true
		}
	}
	return agentstate.DetectionSignal{}, false
}

func signal(state agentstate.State) agentstate.DetectionSignal {
	return agentstate.DetectionSignal{State: state, TierID: tierID, Source: agentstate.SourceScreen}
}

var defaultPollInterval = 3 * time.Second

// SetPollInterval overrides the poll cadence; wired to COOP_SCREEN_POLL_MS.
func SetPollInterval(d time.Duration) {
	if d > 0 {
		defaultPollInterval = d
	}
}

// Run polls snapshotLines at a fixed interval, feeding each snapshot
// through Classify and emitting matches. snapshotLines typically wraps
// screen.Screen.Snapshot(false).Lines.
func Run(ctx context.Context, m *Matcher, snapshotLines func() []string, out chan<- agentstate.DetectionSignal) {
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sig, ok := m.Classify(snapshotLines())
			if !ok {
				continue
			}
			select {
			case out <- sig:
			default:
			}
		}
	}
}
