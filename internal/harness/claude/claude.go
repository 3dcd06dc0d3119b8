// Package claude implements the harness.Driver for Anthropic's Claude Code
// CLI, grounded on the teacher's claude harness hook/event semantics and
// the Claude-style reference parse rules in the specification.
package claude

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coopdev/coop/internal/agentstate"
	"github.com/coopdev/coop/internal/harness"
)

func init() {
	harness.Register(&harness.Driver{
		Name:            "claude",
		DefaultCommand:  "claude",
		ClassifyHook:    classifyHook,
		ParseLogLine:    parseLogLine,
		SessionLogGlob:  "~/.claude/projects/*/*.jsonl",
		ConfigDirEnv:    "CLAUDE_CONFIG_DIR",
		EncodeNudge:     encodeNudge,
		EncodeRespond:   encodeRespond,
		BuildArgs:       buildArgs,
	})
}

func buildArgs(resumeID string, extraArgs []string) []string {
	args := []string{"--output-format", "stream-json", "--verbose"}
	if resumeID != "" {
		args = append(args, "--resume", resumeID)
	}
	return append(args, extraArgs...)
}

type hookPayload struct {
	HookEventName string          `json:"hook_event_name"`
	ToolName      string          `json:"tool_name"`
	Notification  string          `json:"notification_type"`
	ToolInput     json.RawMessage `json:"tool_input"`
}

// classifyHook implements Tier 1's Claude mapping from spec §4.4:
// notification.idle_prompt → Idle; notification.permission_prompt →
// Prompt(permission); stop → Idle; pre_tool_use.AskUserQuestion →
// Prompt(question); anything else tool-related → Working.
func classifyHook(eventName string, payload json.RawMessage) (agentstate.State, bool) {
	var p hookPayload
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &p)
	}

	switch eventName {
	case "stop", "Stop":
		return agentstate.State{Kind: agentstate.Idle}, true
	case "notification", "Notification":
		switch p.Notification {
		case "idle_prompt":
			return agentstate.State{Kind: agentstate.Idle}, true
		case "permission_prompt":
			return agentstate.State{Kind: agentstate.Prompt, Prompt: &agentstate.PromptContext{
				Kind: agentstate.PromptPermission, Tool: p.ToolName, Ready: false,
			}}, true
		}
		return agentstate.State{}, false
	case "pre_tool_use", "PreToolUse":
		if p.ToolName == "AskUserQuestion" {
			return agentstate.State{Kind: agentstate.Prompt, Prompt: extractQuestionContext(p.ToolInput)}, true
		}
		return agentstate.State{Kind: agentstate.Working}, true
	case "post_tool_use", "PostToolUse":
		return agentstate.State{Kind: agentstate.Working}, true
	case "user_prompt_submit", "UserPromptSubmit":
		return agentstate.State{Kind: agentstate.Working}, true
	case "session_start", "SessionStart":
		return agentstate.State{Kind: agentstate.Starting}, true
	default:
		return agentstate.State{}, false
	}
}

func extractQuestionContext(toolInput json.RawMessage) *agentstate.PromptContext {
	var q struct {
		Questions []struct {
			Question string   `json:"question"`
			Options  []string `json:"options"`
		} `json:"questions"`
	}
	_ = json.Unmarshal(toolInput, &q)
	ctx := &agentstate.PromptContext{Kind: agentstate.PromptQuestion, Ready: true}
	for _, question := range q.Questions {
		ctx.Questions = append(ctx.Questions, agentstate.QuestionContext{
			Text: question.Question, Options: question.Options,
		})
	}
	return ctx
}

type logEntry struct {
	Type    string          `json:"type"`
	Error   json.RawMessage `json:"error"`
	Message struct {
		Content []struct {
			Type  string          `json:"type"`
			Name  string          `json:"name"`
			Text  string          `json:"text"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
	} `json:"message"`
}

// parseLogLine implements the Claude-style reference parse rules from
// spec §4.4 (tier 2 session log / tier 3 stdout JSONL share this).
func parseLogLine(line []byte) (agentstate.State, bool) {
	var e logEntry
	if err := json.Unmarshal(line, &e); err != nil {
		return agentstate.State{}, false
	}
	if len(e.Error) > 0 {
		detail := strings.Trim(string(e.Error), `"`)
		return agentstate.State{
			Kind:          agentstate.Error,
			ErrorDetail:   detail,
			ErrorCategory: agentstate.ClassifyError(detail),
		}, true
	}
	if e.Type != "assistant" {
		return agentstate.State{Kind: agentstate.Working}, true
	}
	if len(e.Message.Content) == 0 {
		return agentstate.State{Kind: agentstate.Idle}, true
	}

	var textOnly = true
	for _, block := range e.Message.Content {
		switch block.Type {
		case "tool_use":
			textOnly = false
			if block.Name == "AskUserQuestion" {
				return agentstate.State{Kind: agentstate.Prompt, Prompt: extractQuestionContext(block.Input)}, true
			}
			return agentstate.State{Kind: agentstate.Working}, true
		case "thinking":
			textOnly = false
		}
	}
	if textOnly {
		return agentstate.State{Kind: agentstate.Idle}, true
	}
	return agentstate.State{Kind: agentstate.Working}, true
}

func encodeNudge(message string) []byte {
	return []byte(message + "\r")
}

// encodeRespond implements the agent-agnostic shape of the encoding table
// from spec §4.7, using Claude's CR-terminated convention.
func encodeRespond(p agentstate.PromptContext, req harness.RespondRequest) []harness.Delivery {
	switch p.Kind {
	case agentstate.PromptPermission, agentstate.PromptSetup:
		if req.Option != nil {
			return []harness.Delivery{{Bytes: []byte(fmt.Sprintf("%d\r", *req.Option))}}
		}
	case agentstate.PromptPlan:
		k := len(p.Options)
		if req.Option != nil && *req.Option < k {
			return []harness.Delivery{{Bytes: []byte(fmt.Sprintf("%d\r", *req.Option))}}
		}
		if req.Option != nil && *req.Option == k && req.Text != "" {
			return []harness.Delivery{
				{Bytes: []byte(fmt.Sprintf("%d\r", k))},
				{Bytes: []byte(req.Text + "\r"), DelayBeforeMS: 100},
			}
		}
	case agentstate.PromptQuestion:
		if len(p.Questions) > 0 && req.Answers != nil {
			return encodeMultiQuestion(req.Answers)
		}
		if req.Option != nil {
			return []harness.Delivery{{Bytes: []byte(fmt.Sprintf("%d\r", *req.Option))}}
		}
		if req.Text != "" {
			return []harness.Delivery{{Bytes: []byte(req.Text + "\r")}}
		}
	}
	return nil
}

func encodeMultiQuestion(answers []string) []harness.Delivery {
	deliveries := make([]harness.Delivery, 0, len(answers))
	for i, a := range answers {
		delay := 0
		if i > 0 {
			delay = 100 // spec §9: treat inter-answer spacing as a tunable
		}
		if i == len(answers)-1 {
			deliveries = append(deliveries, harness.Delivery{Bytes: []byte(a + "\r"), DelayBeforeMS: delay})
		} else {
			deliveries = append(deliveries, harness.Delivery{Bytes: []byte(a), DelayBeforeMS: delay})
		}
	}
	return deliveries
}
