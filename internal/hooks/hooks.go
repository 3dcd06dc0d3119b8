// Package hooks implements C11: the Start/Stop HTTP endpoints invoked
// from inside the PTY by shell snippets the agent evals, and the
// transcript-copy-on-compact side effect the session loop triggers off
// the start hook's "compact" source.
package hooks

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/coopdev/coop/internal/config"
)

// StartRequest is the decoded payload of POST /api/v1/hooks/start.
type StartRequest struct {
	Source string // startup | resume | clear | compact
}

// ComposeStartScript builds the shell script the start hook eval's,
// preferring a source-specific override over the session's default.
func ComposeStartScript(cfg config.StartConfig, source string) (string, error) {
	script := cfg.Script(source)
	var b strings.Builder
	if script.Text != "" {
		encoded := base64.StdEncoding.EncodeToString([]byte(script.Text))
		fmt.Fprintf(&b, "printf '%%s' %s | base64 -d\n", shellQuote(encoded))
	}
	if script.Shell != "" {
		b.WriteString(script.Shell)
		if !strings.HasSuffix(script.Shell, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// StopDecision is the JSON body returned by POST /api/v1/hooks/stop when
// the agent must be blocked from stopping.
type StopDecision struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

// Resolver tracks the one-shot "allow next stop" flag that
// POST /api/v1/stop/resolve flips in gate mode.
type Resolver struct {
	mu      sync.Mutex
	allowed bool
}

// Resolve flips the one-shot flag, allowing exactly one subsequent Decide
// call to return allow regardless of configured mode.
func (r *Resolver) Resolve() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allowed = true
}

// Decide returns nil when the agent should be allowed to stop (mode=allow,
// or the one-shot resolve flag was set), else a StopDecision instructing
// the agent to continue.
func (r *Resolver) Decide(cfg config.StopConfig) *StopDecision {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.allowed {
		r.allowed = false
		return nil
	}
	switch cfg.Mode {
	case config.StopGate, config.StopSignal:
		reason := cfg.Reason
		if reason == "" {
			reason = "stop held pending orchestrator decision"
		}
		return &StopDecision{Decision: "block", Reason: reason}
	default:
		return nil
	}
}

// SaveTranscript copies the session log at logPath into
// <transcriptDir>/<N>.jsonl, where N is one past the highest existing
// snapshot number, and returns the path written. Snapshots are immutable:
// an existing file is never overwritten.
func SaveTranscript(logPath, transcriptDir string) (string, error) {
	if err := os.MkdirAll(transcriptDir, 0o755); err != nil {
		return "", fmt.Errorf("hooks: create transcript dir: %w", err)
	}
	next, err := nextTranscriptNumber(transcriptDir)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(transcriptDir, fmt.Sprintf("%d.jsonl", next))

	src, err := os.Open(logPath)
	if err != nil {
		return "", fmt.Errorf("hooks: open session log: %w", err)
	}
	defer src.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("hooks: create transcript snapshot: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return "", fmt.Errorf("hooks: copy transcript: %w", err)
	}
	return dst, nil
}

func nextTranscriptNumber(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("hooks: read transcript dir: %w", err)
	}
	max := 0
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".jsonl")
		n, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max + 1, nil
}

// ListTranscripts returns transcript snapshot paths in ascending order.
func ListTranscripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".jsonl") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
