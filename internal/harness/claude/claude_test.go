package claude

import (
	"testing"

	"github.com/coopdev/coop/internal/agentstate"
	"github.com/coopdev/coop/internal/harness"
)

func TestClassifyHookNotificationIdle(t *testing.T) {
	st, ok := classifyHook("notification", []byte(`{"notification_type":"idle_prompt"}`))
	if !ok || st.Kind != agentstate.Idle {
		t.Fatalf("got %+v, %v", st, ok)
	}
}

func TestClassifyHookPermissionPrompt(t *testing.T) {
	st, ok := classifyHook("notification", []byte(`{"notification_type":"permission_prompt","tool_name":"Bash"}`))
	if !ok || st.Kind != agentstate.Prompt || st.Prompt.Kind != agentstate.PromptPermission {
		t.Fatalf("got %+v, %v", st, ok)
	}
}

func TestParseLogLineTextOnlyIsIdle(t *testing.T) {
	st, ok := parseLogLine([]byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"done"}]}}`))
	if !ok || st.Kind != agentstate.Idle {
		t.Fatalf("got %+v, %v", st, ok)
	}
}

func TestParseLogLineToolUseIsWorking(t *testing.T) {
	st, ok := parseLogLine([]byte(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash"}]}}`))
	if !ok || st.Kind != agentstate.Working {
		t.Fatalf("got %+v, %v", st, ok)
	}
}

func TestParseLogLineErrorClassified(t *testing.T) {
	st, ok := parseLogLine([]byte(`{"error":"rate_limit_error: slow down"}`))
	if !ok || st.Kind != agentstate.Error || st.ErrorCategory != agentstate.ErrRateLimited {
		t.Fatalf("got %+v, %v", st, ok)
	}
}

func TestEncodeRespondPlanFeedback(t *testing.T) {
	p := agentstate.PromptContext{Kind: agentstate.PromptPlan, Options: []string{"a", "b"}}
	opt := 2
	deliveries := encodeRespond(p, harness.RespondRequest{Option: &opt, Text: "more detail"})
	if len(deliveries) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(deliveries))
	}
}
