// Package generic implements a driver-agnostic harness.Driver for agent
// CLIs with no bespoke hook/log integration. It relies entirely on tiers 4
// (process) and 5 (screen) for state detection.
package generic

import (
	"encoding/json"
	"fmt"

	"github.com/coopdev/coop/internal/agentstate"
	"github.com/coopdev/coop/internal/harness"
)

func init() {
	harness.Register(&harness.Driver{
		Name:           "generic",
		DefaultCommand: "",
		ClassifyHook:   func(string, json.RawMessage) (agentstate.State, bool) { return agentstate.State{}, false },
		ParseLogLine:   func([]byte) (agentstate.State, bool) { return agentstate.State{}, false },
		EncodeNudge:    encodeNudge,
		EncodeRespond:  encodeRespond,
		BuildArgs:      func(_ string, extra []string) []string { return extra },
	})
}

func encodeNudge(message string) []byte {
	return []byte(message + "\r")
}

func encodeRespond(p agentstate.PromptContext, req harness.RespondRequest) []harness.Delivery {
	if req.Option != nil {
		return []harness.Delivery{{Bytes: []byte(fmt.Sprintf("%d\r", *req.Option))}}
	}
	if req.Text != "" {
		return []harness.Delivery{{Bytes: []byte(req.Text + "\r")}}
	}
	return nil
}
