package hooks

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coopdev/coop/internal/config"
)

func TestComposeStartScriptPrefersSourceOverride(t *testing.T) {
	cfg := config.StartConfig{
		EventScript: config.EventScript{Shell: "echo default"},
		Event: map[string]config.EventScript{
			"compact": {Shell: "echo compact"},
		},
	}
	script, err := ComposeStartScript(cfg, "compact")
	if err != nil {
		t.Fatalf("ComposeStartScript: %v", err)
	}
	if !strings.Contains(script, "echo compact") || strings.Contains(script, "echo default") {
		t.Fatalf("unexpected script: %q", script)
	}
}

func TestComposeStartScriptEncodesText(t *testing.T) {
	cfg := config.StartConfig{EventScript: config.EventScript{Text: "export FOO=bar"}}
	script, err := ComposeStartScript(cfg, "startup")
	if err != nil {
		t.Fatalf("ComposeStartScript: %v", err)
	}
	want := base64.StdEncoding.EncodeToString([]byte("export FOO=bar"))
	if !strings.Contains(script, want) || !strings.Contains(script, "base64 -d") {
		t.Fatalf("expected base64-encoded text in script, got %q", script)
	}
}

func TestResolverAllowsStopInAllowMode(t *testing.T) {
	var r Resolver
	if d := r.Decide(config.StopConfig{Mode: config.StopAllow}); d != nil {
		t.Fatalf("expected nil decision in allow mode, got %+v", d)
	}
}

func TestResolverBlocksInGateModeUntilResolved(t *testing.T) {
	var r Resolver
	cfg := config.StopConfig{Mode: config.StopGate, Reason: "waiting on review"}

	d := r.Decide(cfg)
	if d == nil || d.Decision != "block" || d.Reason != "waiting on review" {
		t.Fatalf("expected block decision, got %+v", d)
	}

	r.Resolve()
	if d := r.Decide(cfg); d != nil {
		t.Fatalf("expected resolved stop to be allowed, got %+v", d)
	}

	// One-shot: the next stop after the resolved one is gated again.
	if d := r.Decide(cfg); d == nil {
		t.Fatal("expected gate to re-engage after the one-shot allow was consumed")
	}
}

func TestSaveTranscriptIncrementsNumber(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "session.jsonl")
	if err := os.WriteFile(logPath, []byte(`{"type":"assistant"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	transcriptDir := filepath.Join(dir, "transcripts")

	first, err := SaveTranscript(logPath, transcriptDir)
	if err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}
	if filepath.Base(first) != "1.jsonl" {
		t.Fatalf("expected 1.jsonl, got %s", first)
	}

	second, err := SaveTranscript(logPath, transcriptDir)
	if err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}
	if filepath.Base(second) != "2.jsonl" {
		t.Fatalf("expected 2.jsonl, got %s", second)
	}

	list, err := ListTranscripts(transcriptDir)
	if err != nil || len(list) != 2 {
		t.Fatalf("ListTranscripts: %v, %v", list, err)
	}
}
