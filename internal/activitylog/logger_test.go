package activitylog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "\n")
}

func TestHookEventFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	l := New(true, path, "claude", "sess-1")
	defer l.Close()

	l.HookEvent("PreToolUse", "Bash")

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	var e map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e["actor"] != "claude" || e["session_id"] != "sess-1" || e["event"] != "hook" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e["hook_event"] != "PreToolUse" || e["tool_name"] != "Bash" {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestHookEventOmitsEmptyToolName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	l := New(true, path, "agent", "sess")
	defer l.Close()

	l.HookEvent("SessionStart", "")

	lines := readLines(t, path)
	if strings.Contains(lines[0], "tool_name") {
		t.Error("expected tool_name to be omitted when empty")
	}
}

func TestDisabledLoggerCreatesNoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	l := New(false, path, "agent", "sess")
	l.HookEvent("PreToolUse", "Bash")
	l.StateChange("idle", "working")
	l.Close()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected no file when disabled")
	}
}

func TestNopLoggerNeverPanics(t *testing.T) {
	l := Nop()
	l.HookEvent("PreToolUse", "Bash")
	l.PermissionDecision("Bash", "allow", "ok")
	l.OtelMetrics(10, 20, 0.01)
	l.OtelConnected("/v1/logs")
	l.StateChange("idle", "working")
	l.Close()
}

func TestStateChangeFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	l := New(true, path, "agent", "sess")
	defer l.Close()

	l.StateChange("working", "idle")

	var e struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := json.Unmarshal([]byte(readLines(t, path)[0]), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.From != "working" || e.To != "idle" {
		t.Fatalf("got %+v", e)
	}
}
