package agentstate

import "testing"

func TestClassifyError(t *testing.T) {
	cases := map[string]ErrorCategory{
		"Authentication_Error: bad key":      ErrUnauthorized,
		"insufficient_credits on account":    ErrOutOfCredits,
		"429 Too Many Requests":              ErrRateLimited,
		"dial tcp: connection refused":       ErrNoInternet,
		"upstream overloaded (503)":          ErrServerError,
		"some totally novel failure message": ErrOther,
	}
	for detail, want := range cases {
		if got := ClassifyError(detail); got != want {
			t.Errorf("ClassifyError(%q) = %q, want %q", detail, got, want)
		}
	}
}

func TestStateEqualConsidersPromptSubtype(t *testing.T) {
	a := State{Kind: Prompt, Prompt: &PromptContext{Kind: PromptPermission, Subtype: "trust"}}
	b := State{Kind: Prompt, Prompt: &PromptContext{Kind: PromptPermission, Subtype: "trust"}}
	c := State{Kind: Prompt, Prompt: &PromptContext{Kind: PromptPermission, Subtype: "other"}}
	if !a.Equal(b) {
		t.Fatal("expected equal prompts with same subtype")
	}
	if a.Equal(c) {
		t.Fatal("expected different subtypes to be unequal")
	}
}

func TestPriorityOrdering(t *testing.T) {
	if Idle.Priority() >= Working.Priority() {
		t.Fatal("Idle should have lower priority than Working")
	}
	if Working.Priority() >= Prompt.Priority() {
		t.Fatal("Working should have lower priority than Prompt")
	}
	if Prompt.Priority() >= Exited.Priority() {
		t.Fatal("Prompt should have lower priority than Exited")
	}
}
