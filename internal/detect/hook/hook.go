// Package hook implements detector tier 1: a named FIFO that the spawned
// agent's hook scripts write newline-delimited JSON events to. Coop creates
// the FIFO before spawning the child and exports its path via
// COOP_HOOK_PIPE; this package only reads and classifies, since the
// hook-script templates themselves are out of scope.
package hook

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/coopdev/coop/internal/activitylog"
	"github.com/coopdev/coop/internal/agentstate"
	"github.com/coopdev/coop/internal/harness"
)

const tierID = 1

// CreatePipe creates a named FIFO at path, removing any stale file left
// behind by a previous session. Safe to call before the agent process is
// spawned so COOP_HOOK_PIPE can point at a real, readable path.
func CreatePipe(path string) error {
	_ = os.Remove(path)
	if err := unix.Mkfifo(path, 0o600); err != nil {
		return fmt.Errorf("hook: create fifo %s: %w", path, err)
	}
	return nil
}

type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Run opens the FIFO at path and blocks reading newline-delimited JSON
// envelopes until ctx is cancelled or the pipe cannot be opened. Each
// classifiable envelope is sent to out. Run owns the full lifetime of the
// read side of the pipe; it opens it again if a read session ends without
// ctx being cancelled.
func Run(ctx context.Context, path string, driver *harness.Driver, log *activitylog.Logger, out chan<- agentstate.DetectionSignal) {
	if log == nil {
		log = activitylog.Nop()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := readOnce(ctx, path, driver, log, out); err != nil {
			return
		}
	}
}

// readOnce opens the FIFO read-write, so the open does not wait for a
// writer and writers closing never produce EOF, then reads lines until ctx
// is cancelled or the read fails. Returns a non-nil error only when the
// pipe cannot be opened at all, signalling Run to give up.
func readOnce(ctx context.Context, path string, driver *harness.Driver, log *activitylog.Logger, out chan<- agentstate.DetectionSignal) error {
	f, err := openReadWriteNonBlocking(path)
	if err != nil {
		return err
	}
	defer f.Close()

	lines := make(chan []byte)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			handleLine(line, driver, log, out)
		}
	}
}

// openReadWriteNonBlocking opens the FIFO O_RDWR so the read end never
// observes EOF while coop itself holds it open, while still letting the
// scanner goroutine block on actual reads.
func openReadWriteNonBlocking(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR, 0)
}

func handleLine(line []byte, driver *harness.Driver, log *activitylog.Logger, out chan<- agentstate.DetectionSignal) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return
	}
	toolName := extractToolName(env.Payload)
	log.HookEvent(env.Event, toolName)

	if driver == nil || driver.ClassifyHook == nil {
		return
	}
	state, ok := driver.ClassifyHook(env.Event, env.Payload)
	if !ok {
		return
	}
	select {
	case out <- agentstate.DetectionSignal{State: state, TierID: tierID, Source: agentstate.SourceHook}:
	default:
	}
}

type hookPayload struct {
	ToolName string `json:"tool_name"`
}

func extractToolName(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var p hookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return ""
	}
	return p.ToolName
}
