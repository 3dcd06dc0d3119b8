package ptybackend

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/shlex"
)

// Multiplexer names the attach target kind.
type Multiplexer int

const (
	MultiplexerTmux Multiplexer = iota
	MultiplexerScreen
)

// ParseAttachTarget splits a `--attach tmux:NAME` / `--attach screen:NAME`
// flag value into its multiplexer kind and session name.
func ParseAttachTarget(spec string) (Multiplexer, string, error) {
	parts, err := shlex.Split(spec)
	if err != nil || len(parts) != 1 {
		return 0, "", fmt.Errorf("ptybackend: invalid attach target %q", spec)
	}
	idx := strings.IndexByte(parts[0], ':')
	if idx < 0 {
		return 0, "", fmt.Errorf("ptybackend: attach target must be kind:name, got %q", spec)
	}
	kind, name := parts[0][:idx], parts[0][idx+1:]
	switch kind {
	case "tmux":
		return MultiplexerTmux, name, nil
	case "screen":
		return MultiplexerScreen, name, nil
	default:
		return 0, "", fmt.Errorf("ptybackend: unknown multiplexer %q", kind)
	}
}

// Attach polls an existing tmux/screen session's pane content and forwards
// input via send-keys/-X stuff, per spec §4.3's secondary backend variant.
// It never populates the ring buffer from historical pane content — only
// bytes observed after attach flow through the normal pipeline.
type Attach struct {
	mux  Multiplexer
	name string

	mu       sync.Mutex
	lastPane string
	closed   bool
	poll     time.Duration
	done     chan struct{}
}

// NewAttach constructs an Attach backend for the given multiplexer session.
func NewAttach(mux Multiplexer, name string) *Attach {
	return &Attach{mux: mux, name: name, poll: DefaultPollInterval, done: make(chan struct{})}
}

func (a *Attach) Spawn(command string, args []string, env map[string]string, cols, rows int) error {
	// The session already exists; just confirm we can capture it and set
	// the desired geometry.
	if _, err := a.capture(); err != nil {
		return fmt.Errorf("ptybackend: attach to %s: %w", a.name, err)
	}
	if err := a.Resize(cols, rows); err != nil {
		return err
	}
	// Record the pane as it stands now, so only content that appears after
	// attach is returned by ReadNonblocking.
	pane, err := a.capture()
	if err != nil {
		return fmt.Errorf("ptybackend: attach to %s: %w", a.name, err)
	}
	a.mu.Lock()
	a.lastPane = pane
	a.mu.Unlock()
	return nil
}

func (a *Attach) capture() (string, error) {
	var cmd *exec.Cmd
	switch a.mux {
	case MultiplexerTmux:
		cmd = exec.Command("tmux", "capture-pane", "-p", "-t", a.name)
	case MultiplexerScreen:
		// screen has no direct stdout capture; hardcopy is pointed at
		// /dev/stdout so the pane text lands in the command's output.
		cmd = exec.Command("screen", "-S", a.name, "-X", "hardcopy", "/dev/stdout")
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return out.String(), nil
}

// ReadNonblocking returns newly-appeared pane content since the last poll.
// Because there is no event-driven source, callers should rate-limit calls
// to roughly DefaultPollInterval.
func (a *Attach) ReadNonblocking(buf []byte) (int, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return 0, io.EOF
	}
	a.mu.Unlock()

	pane, err := a.capture()
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if pane == a.lastPane {
		return 0, ErrWouldBlock
	}
	delta := diffSuffix(a.lastPane, pane)
	a.lastPane = pane
	n := copy(buf, delta)
	return n, nil
}

// diffSuffix returns the bytes of next that were appended after prev,
// falling back to the whole of next if prev isn't a prefix (e.g. the pane
// scrolled).
func diffSuffix(prev, next string) string {
	if strings.HasPrefix(next, prev) {
		return next[len(prev):]
	}
	return next
}

func (a *Attach) Write(p []byte) (int, error) {
	var cmd *exec.Cmd
	switch a.mux {
	case MultiplexerTmux:
		cmd = exec.Command("tmux", "send-keys", "-t", a.name, "-l", string(p))
	case MultiplexerScreen:
		cmd = exec.Command("screen", "-S", a.name, "-X", "stuff", string(p))
	}
	if err := cmd.Run(); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (a *Attach) Resize(cols, rows int) error {
	switch a.mux {
	case MultiplexerTmux:
		return exec.Command("tmux", "resize-pane", "-t", a.name,
			"-x", strconv.Itoa(cols), "-y", strconv.Itoa(rows)).Run()
	case MultiplexerScreen:
		// screen has no direct programmatic resize-pane equivalent; resizing
		// the controlling terminal that owns the screen session is left to
		// the orchestrator.
		return nil
	}
	return nil
}

func (a *Attach) Signal(kind Signal) error {
	// Attach backends don't own the target process; most signals are
	// meaningless here. Ctrl-C is approximated as a keystroke.
	if kind == SignalInterrupt {
		_, err := a.Write([]byte{0x03})
		return err
	}
	return nil
}

func (a *Attach) ChildPID() int { return 0 }

func (a *Attach) Wait() (ExitStatus, error) {
	// Attach sessions don't terminate from coop's perspective; the caller
	// observes exit only via tier-5 screen heuristics or manual shutdown.
	// Wait unblocks when Close is called so the session loop's reap
	// goroutine doesn't leak.
	<-a.done
	return ExitStatus{}, nil
}

func (a *Attach) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	close(a.done)
	return nil
}
