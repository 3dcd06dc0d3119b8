// Package promptenrich implements C6: the task that fills in a prompt's
// option list by re-polling the screen after an initial not-ready
// detection signal, since numbered options usually render a beat after
// the prompt itself is recognized.
package promptenrich

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/coopdev/coop/internal/agentstate"
)

var numberedOption = regexp.MustCompile(`^\s*(\d+)\.\s+(.+?)\s*$`)

var (
	pollInterval = 200 * time.Millisecond
	maxAttempts  = 10
)

// SetTuning overrides the poll interval and attempt cap; exposed for tests
// and for wiring to tuned environment variables at startup.
func SetTuning(interval time.Duration, attempts int) {
	if interval > 0 {
		pollInterval = interval
	}
	if attempts > 0 {
		maxAttempts = attempts
	}
}

// ExtractOptions scans lines for a numbered-option list (e.g. "1. Yes"),
// returning them in ascending numeric order. Returns nil if none found.
func ExtractOptions(lines []string) []string {
	found := map[int]string{}
	maxN := 0
	for _, line := range lines {
		m := numberedOption.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n := 0
		for _, c := range m[1] {
			n = n*10 + int(c-'0')
		}
		found[n] = strings.TrimSpace(m[2])
		if n > maxN {
			maxN = n
		}
	}
	if len(found) == 0 {
		return nil
	}
	options := make([]string, 0, maxN)
	for i := 1; i <= maxN; i++ {
		if v, ok := found[i]; ok {
			options = append(options, v)
		}
	}
	return options
}

// DefaultFallback returns the synthesized option list used when
// enrichment times out: a generic accept/decline pair, since most
// permission and plan prompts boil down to a binary choice.
func DefaultFallback() []string {
	return []string{"Yes", "No"}
}

// Result is delivered once enrichment finishes, successfully or not.
type Result struct {
	Options  []string
	Fallback bool
}

// Run polls snapshotLines up to maxAttempts times, pollInterval apart,
// looking for a numbered-option list. It returns as soon as options are
// found, on timeout with synthesized fallback options, or when ctx is
// cancelled (e.g. the prompt state changed or the session is shutting
// down) — in the cancelled case ok is false and the caller should not
// rewrite the stored prompt.
func Run(ctx context.Context, snapshotLines func() []string) (Result, bool) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return Result{}, false
		case <-ticker.C:
		}
		if opts := ExtractOptions(snapshotLines()); opts != nil {
			return Result{Options: opts}, true
		}
	}
	select {
	case <-ctx.Done():
		return Result{}, false
	default:
	}
	return Result{Options: DefaultFallback(), Fallback: true}, true
}

// ApplyResult mutates p in place per Run's outcome: options populated,
// ready set true, options_fallback set when defaults were synthesized.
func ApplyResult(p *agentstate.PromptContext, r Result) {
	p.Options = r.Options
	p.OptionsFallback = r.Fallback
	p.Ready = true
}
