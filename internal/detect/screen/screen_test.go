package screen

import (
	"testing"

	"github.com/coopdev/coop/internal/agentstate"
)

func TestClassifyTrustPrompt(t *testing.T) {
	m := NewMatcher(DefaultDialogClasses())
	lines := []string{
		"Do you trust the files in this folder?",
		"Claude Code may read, modify, and execute files.",
		"Do you trust the authors of this code?",
	}
	sig, ok := m.Classify(lines)
	if !ok || sig.State.Kind != agentstate.Prompt || sig.State.Prompt.Kind != agentstate.PromptPermission {
		t.Fatalf("got %+v, %v", sig, ok)
	}
	if sig.State.Prompt.Subtype != "trust" || !sig.State.Prompt.Ready {
		t.Fatalf("unexpected prompt context: %+v", sig.State.Prompt)
	}
}

func TestClassifyRequiresMinMatches(t *testing.T) {
	m := NewMatcher(DefaultDialogClasses())
	_, ok := m.Classify([]string{"Do you trust the files in this folder?"})
	if ok {
		t.Fatal("expected no match with only one phrase present")
	}
}

func TestClassifyIdleCursor(t *testing.T) {
	m := NewMatcher(DefaultDialogClasses())
	sig, ok := m.Classify([]string{"some output", "❯ "})
	if !ok || sig.State.Kind != agentstate.Idle || sig.TierID != 5 {
		t.Fatalf("got %+v, %v", sig, ok)
	}
}

func TestClassifyNoMatch(t *testing.T) {
	m := NewMatcher(DefaultDialogClasses())
	_, ok := m.Classify([]string{"just some regular agent output"})
	if ok {
		t.Fatal("expected no match")
	}
}
