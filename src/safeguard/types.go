package safeguard

import "time"

// ConversationRecord tracks one safeguarded exchange between peers
type ConversationRecord struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	LastMessageAt time.Time `json:"last_message_at"`
	Turns         int       `json:"turns"`
	Completed     bool      `json:"completed"`
	EndReason     string    `json:"end_reason,omitempty"`
	Source        string    `json:"source,omitempty"`
}

// GlobalRateState is shared by every conversation
type GlobalRateState struct {
	// LastResponseAt is the time of the most recently recorded turn. It
	// never moves backwards.
	LastResponseAt time.Time `json:"last_response_at,omitzero"`
}

// State is the persisted blob: all records plus the global rate state
type State struct {
	Conversations map[string]*ConversationRecord `json:"conversations"`
	Global        GlobalRateState                `json:"global"`
}

func newState() *State {
	return &State{Conversations: map[string]*ConversationRecord{}}
}

// Rule names the admission rule that produced a Decision
type Rule string

const (
	RuleCooldown   Rule = "cooldown"
	RuleCompleted  Rule = "completed"
	RuleMaxTurns   Rule = "max_turns"
	RuleExpired    Rule = "expired"
	RuleSelfOrigin Rule = "self_origin"
	RuleOK         Rule = "ok"
)

// Decision is the outcome of Evaluate. A denial is a normal result, not
// an error.
type Decision struct {
	Admit  bool   `json:"admit"`
	Reason string `json:"reason"`
	Rule   Rule   `json:"rule"`
}
