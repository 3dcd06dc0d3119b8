// Package termkeys translates the named keys and signal names that
// transports accept over the wire (POST /input/keys, WS keys:send,
// POST/ws signal) into PTY byte sequences and ptybackend.Signal values,
// grounded on the houx15-agenterm reference's mapNamedKey table.
package termkeys

import (
	"fmt"
	"strings"

	"github.com/coopdev/coop/internal/ptybackend"
)

// EncodeKeys translates named keys into their terminal byte sequences,
// concatenated in order. Unknown names error out rather than being passed
// through raw, since a typo here should not silently type its own name
// into the agent's prompt.
func EncodeKeys(keys []string) ([]byte, error) {
	var out []byte
	for _, k := range keys {
		seq, ok := namedKeySeq(strings.ToLower(strings.TrimSpace(k)))
		if !ok {
			return nil, fmt.Errorf("unknown key %q", k)
		}
		out = append(out, seq...)
	}
	return out, nil
}

func namedKeySeq(key string) (string, bool) {
	switch key {
	case "enter", "return":
		return "\r", true
	case "tab":
		return "\t", true
	case "escape", "esc":
		return "\x1b", true
	case "backspace":
		return "\x7f", true
	case "up":
		return "\x1b[A", true
	case "down":
		return "\x1b[B", true
	case "right":
		return "\x1b[C", true
	case "left":
		return "\x1b[D", true
	case "ctrl-c", "c-c":
		return "\x03", true
	case "ctrl-d", "c-d":
		return "\x04", true
	case "ctrl-z", "c-z":
		return "\x1a", true
	case "ctrl-l", "c-l":
		return "\x0c", true
	case "space":
		return " ", true
	default:
		return "", false
	}
}

// ParseSignalName maps a {name} field to a ptybackend.Signal.
func ParseSignalName(name string) (ptybackend.Signal, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "interrupt", "sigint", "int":
		return ptybackend.SignalInterrupt, true
	case "terminate", "sigterm", "term":
		return ptybackend.SignalTerminate, true
	case "hangup", "sighup", "hup":
		return ptybackend.SignalHangup, true
	case "kill", "sigkill":
		return ptybackend.SignalKill, true
	case "stop", "sigstop", "sigtstp", "tstp":
		return ptybackend.SignalStop, true
	case "continue", "sigcont", "cont":
		return ptybackend.SignalContinue, true
	default:
		return 0, false
	}
}
