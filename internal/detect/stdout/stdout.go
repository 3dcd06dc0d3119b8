// Package stdout implements detector tier 3: a newline-delimited JSON
// scanner fed directly from the PTY read path (a tee off the same bytes
// that feed the ring buffer and screen model), active only when the agent
// was launched in a structured-output mode.
package stdout

import (
	"bytes"

	"github.com/coopdev/coop/internal/agentstate"
	"github.com/coopdev/coop/internal/harness"
)

const tierID = 3

// Parser accumulates PTY bytes into lines and classifies each complete,
// JSON-parseable line via the driver's shared log-line parser. Non-JSON
// lines (terminal UI chrome, banners) are silently dropped.
type Parser struct {
	driver  *harness.Driver
	enabled bool
	out     chan<- agentstate.DetectionSignal
	pending []byte
}

// New creates a Parser. enabled mirrors whether the agent was launched
// with a structured-output flag (e.g. Claude's --output-format
// stream-json); when false, Feed is a no-op so tier 3 never fires.
func New(driver *harness.Driver, enabled bool, out chan<- agentstate.DetectionSignal) *Parser {
	return &Parser{driver: driver, enabled: enabled, out: out}
}

// Feed appends p to the pending buffer and classifies every complete line
// found in it. Safe to call from the session loop's PTY-readable branch on
// every chunk.
func (p *Parser) Feed(chunk []byte) {
	if !p.enabled || p.driver == nil || p.driver.ParseLogLine == nil {
		return
	}
	p.pending = append(p.pending, chunk...)
	for {
		i := bytes.IndexByte(p.pending, '\n')
		if i < 0 {
			break
		}
		line := p.pending[:i]
		p.pending = p.pending[i+1:]
		p.classify(bytes.TrimRight(line, "\r"))
	}
}

func (p *Parser) classify(line []byte) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return
	}
	state, ok := p.driver.ParseLogLine(trimmed)
	if !ok {
		return
	}
	select {
	case p.out <- agentstate.DetectionSignal{State: state, TierID: tierID, Source: agentstate.SourceStdout}:
	default:
	}
}
