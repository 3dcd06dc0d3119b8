// Package agentstate holds the agent-state tagged union, prompt context,
// error categories, and detection-signal types shared by the detector
// tiers, composite detector, prompt enricher, and session loop.
package agentstate

// Kind identifies which variant of the Agent state tagged union a State
// value holds.
type Kind int

const (
	Starting Kind = iota
	Working
	Idle
	Prompt
	Error
	Parked
	Switching
	Restarting
	Exited
	Unknown
)

// String renders the kind the way it appears on the wire (lowercase).
func (k Kind) String() string {
	switch k {
	case Starting:
		return "starting"
	case Working:
		return "working"
	case Idle:
		return "idle"
	case Prompt:
		return "prompt"
	case Error:
		return "error"
	case Parked:
		return "parked"
	case Switching:
		return "switching"
	case Restarting:
		return "restarting"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// Priority implements the escalation ordering from spec §3: low to high,
// Starting=Unknown=0, Idle=1, Error=Parked=2, Working=3, Prompt=4,
// Restarting=Exited=5.
func (k Kind) Priority() int {
	switch k {
	case Starting, Unknown:
		return 0
	case Idle:
		return 1
	case Error, Parked:
		return 2
	case Working:
		return 3
	case Prompt:
		return 4
	case Restarting, Exited:
		return 5
	default:
		return 0
	}
}

// PromptKind enumerates the elicitation categories a Prompt state can hold.
type PromptKind string

const (
	PromptPermission PromptKind = "permission"
	PromptPlan       PromptKind = "plan"
	PromptQuestion   PromptKind = "question"
	PromptSetup      PromptKind = "setup"
)

// QuestionContext holds one question of a (possibly multi-question)
// question-kind prompt.
type QuestionContext struct {
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

// PromptContext carries the payload for a Prompt state.
type PromptContext struct {
	Kind            PromptKind        `json:"kind"`
	Subtype         string            `json:"subtype,omitempty"`
	Tool            string            `json:"tool,omitempty"`
	Input           string            `json:"input,omitempty"`
	Options         []string          `json:"options,omitempty"`
	OptionsFallback bool              `json:"options_fallback,omitempty"`
	Questions       []QuestionContext `json:"questions,omitempty"`
	QuestionCurrent int               `json:"question_current,omitempty"`
	Ready           bool              `json:"ready"`
}

// ErrorCategory classifies Error-state detail strings per spec §4.12.
type ErrorCategory string

const (
	ErrUnauthorized ErrorCategory = "unauthorized"
	ErrOutOfCredits ErrorCategory = "out_of_credits"
	ErrRateLimited  ErrorCategory = "rate_limited"
	ErrNoInternet   ErrorCategory = "no_internet"
	ErrServerError  ErrorCategory = "server_error"
	ErrOther        ErrorCategory = "other"
)

// ExitInfo carries the optional code/signal payload for the Exited state.
type ExitInfo struct {
	Code   *int    `json:"code,omitempty"`
	Signal *string `json:"signal,omitempty"`
}

// ParkedInfo carries the payload for the Parked state.
type ParkedInfo struct {
	Reason           string `json:"reason"`
	ResumeAtEpochMS  int64  `json:"resume_at_epoch_ms"`
}

// State is the tagged union described in spec §3. Only the field(s)
// matching Kind are meaningful; callers switch on Kind first.
type State struct {
	Kind Kind `json:"state"`

	Prompt        *PromptContext `json:"prompt,omitempty"`
	ErrorDetail   string         `json:"error_detail,omitempty"`
	ErrorCategory ErrorCategory  `json:"error_category,omitempty"`
	Parked        *ParkedInfo    `json:"parked,omitempty"`
	Exit          *ExitInfo      `json:"exit,omitempty"`
}

// Equal reports structural equality considering prompt subtype, used by the
// composite detector's duplicate-suppression rule.
func (s State) Equal(other State) bool {
	if s.Kind != other.Kind {
		return false
	}
	switch s.Kind {
	case Prompt:
		if s.Prompt == nil || other.Prompt == nil {
			return s.Prompt == other.Prompt
		}
		return s.Prompt.Kind == other.Prompt.Kind && s.Prompt.Subtype == other.Prompt.Subtype
	case Error:
		return s.ErrorDetail == other.ErrorDetail && s.ErrorCategory == other.ErrorCategory
	default:
		return true
	}
}

// Source identifies which channel a DetectionSignal came from.
type Source string

const (
	SourceHook   Source = "hook"
	SourceLog    Source = "log"
	SourceStdout Source = "stdout"
	SourceProcess Source = "process"
	SourceScreen Source = "screen"
)

// DetectionSignal is produced by a detector tier and consumed by the
// composite detector (C5).
type DetectionSignal struct {
	State  State
	TierID uint8 // 1 = highest confidence, 5 = lowest
	Source Source
}
