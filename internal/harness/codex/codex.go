// Package codex implements the harness.Driver for OpenAI's Codex CLI.
package codex

import (
	"encoding/json"
	"fmt"

	"github.com/coopdev/coop/internal/agentstate"
	"github.com/coopdev/coop/internal/harness"
)

func init() {
	harness.Register(&harness.Driver{
		Name:           "codex",
		DefaultCommand: "codex",
		ClassifyHook:   classifyHook,
		ParseLogLine:   parseLogLine,
		SessionLogGlob: "~/.codex/sessions/*.jsonl",
		ConfigDirEnv:   "CODEX_HOME",
		EncodeNudge:    encodeNudge,
		EncodeRespond:  encodeRespond,
		BuildArgs:      buildArgs,
	})
}

func buildArgs(resumeID string, extraArgs []string) []string {
	args := []string{"--json"}
	if resumeID != "" {
		args = append(args, "resume", resumeID)
	}
	return append(args, extraArgs...)
}

// classifyHook: Codex does not speak coop's hook protocol natively (it
// reports state via its own structured stdout), so tier 1 never fires for
// this driver. Kept so the tier loop can still dispatch uniformly.
func classifyHook(eventName string, payload json.RawMessage) (agentstate.State, bool) {
	return agentstate.State{}, false
}

type codexEvent struct {
	Type string `json:"type"`
	Msg  struct {
		Type          string          `json:"type"`
		CallID        string          `json:"call_id"`
		Command       json.RawMessage `json:"command"`
		LastAgentText string          `json:"last_agent_message"`
	} `json:"msg"`
}

// parseLogLine classifies Codex's structured event stream using the same
// "unknown degrades to Working" principle spec §9 calls for, since Codex's
// schema is looser than Claude's.
func parseLogLine(line []byte) (agentstate.State, bool) {
	var e codexEvent
	if err := json.Unmarshal(line, &e); err != nil {
		return agentstate.State{}, false
	}
	switch e.Msg.Type {
	case "error", "stream_error":
		return agentstate.State{
			Kind:          agentstate.Error,
			ErrorDetail:   e.Msg.LastAgentText,
			ErrorCategory: agentstate.ClassifyError(e.Msg.LastAgentText),
		}, true
	case "task_complete", "agent_message":
		return agentstate.State{Kind: agentstate.Idle}, true
	case "exec_command_begin", "exec_approval_request", "patch_approval_request":
		return agentstate.State{Kind: agentstate.Working}, true
	default:
		return agentstate.State{Kind: agentstate.Working}, true
	}
}

func encodeNudge(message string) []byte {
	return []byte(message + "\r")
}

func encodeRespond(p agentstate.PromptContext, req harness.RespondRequest) []harness.Delivery {
	switch p.Kind {
	case agentstate.PromptPermission, agentstate.PromptSetup:
		if req.Option != nil {
			return []harness.Delivery{{Bytes: []byte(fmt.Sprintf("%d\r", *req.Option))}}
		}
	case agentstate.PromptPlan:
		if req.Option != nil {
			return []harness.Delivery{{Bytes: []byte(fmt.Sprintf("%d\r", *req.Option))}}
		}
	case agentstate.PromptQuestion:
		if req.Text != "" {
			return []harness.Delivery{{Bytes: []byte(req.Text + "\r")}}
		}
	}
	return nil
}
