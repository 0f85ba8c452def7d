package orchestrator

import (
	"encoding/json"
	"strings"
	"time"
)

// Action is the verb an agent attaches to its decision. The router
// dispatches on it and nothing else.
type Action string

const (
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionRevise   Action = "revise"
	ActionForward  Action = "forward"
	ActionEscalate Action = "escalate"
	ActionStop     Action = "stop"
)

// actionAliases maps the vocabularies older prompts and supervisors
// produced onto the canonical action set.
var actionAliases = map[string]Action{
	"approve_suggestion":       ActionApprove,
	"reject_suggestion":        ActionReject,
	"ask_student_for_revision": ActionRevise,
	"send_to_principal":        ActionForward,
	"force_stop":               ActionStop,
	"acceptable":               ActionForward,
	"needs_revision":           ActionRevise,
	"feasible":                 ActionApprove,
	"not_feasible":             ActionReject,
	"approved":                 ActionApprove,
	"rejected":                 ActionReject,
}

// ParseAction normalizes s into an Action. Unknown values are kept
// verbatim so the router can treat them as unrecognized.
func ParseAction(s string) Action {
	norm := strings.ToLower(strings.TrimSpace(s))
	if a, ok := actionAliases[norm]; ok {
		return a
	}
	return Action(norm)
}

// Known reports whether a is part of the canonical action set.
func (a Action) Known() bool {
	switch a {
	case ActionApprove, ActionReject, ActionRevise, ActionForward, ActionEscalate, ActionStop:
		return true
	}
	return false
}

// Priority of a proposal, used by the office hierarchy.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Proposal is the artifact under review. It is replaced wholesale on
// every generation and never mutated in place.
type Proposal struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Title     string    `json:"title,omitempty"`
	Text      string    `json:"text"`
	Priority  Priority  `json:"priority,omitempty"`
	Revision  int       `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
}

// Decision is an agent's verdict on the current proposal.
type Decision struct {
	Role   string   `json:"role"`
	Action Action   `json:"action"`
	Score  *float64 `json:"score,omitempty"`
	Note   string   `json:"note,omitempty"`
	// Final marks an evaluator decision that settles the run. Its verdict
	// is delivered to the generator, which ends the run.
	Final     bool      `json:"final,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// MessageType classifies messages on the in-state bus.
type MessageType string

const (
	MessageRequest  MessageType = "request"
	MessageApproval MessageType = "approval"
	MessageStatus   MessageType = "status"
	MessageNote     MessageType = "note"
)

// Message is a unit of agent-to-agent communication carried inside the
// workflow state.
type Message struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Verdict is the final approval record kept by the requesting agent.
type Verdict struct {
	Approved  bool      `json:"approved"`
	Note      string    `json:"note,omitempty"`
	DecidedBy string    `json:"decided_by"`
	DecidedAt time.Time `json:"decided_at"`
}

// TranscriptEntry is one line of conversation history.
type TranscriptEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Outcome summarizes how a run ended.
type Outcome string

const (
	OutcomePending     Outcome = "pending"
	OutcomeApproved    Outcome = "approved"
	OutcomeRejected    Outcome = "rejected"
	OutcomeMaxAttempts Outcome = "max_attempts"
	OutcomeStopped     Outcome = "stopped"
)

// Terminal is the pseudo agent name the router returns to halt a run.
const Terminal = "__end__"

// Step is one agent invocation as seen by callers of Engine.Run.
type Step struct {
	Index    int           `json:"index"`
	ThreadID string        `json:"thread_id"`
	Agent    string        `json:"agent"`
	Next     string        `json:"next"`
	State    State         `json:"state"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// Final reports whether the step ended the run.
func (s Step) Final() bool { return s.Next == Terminal }

// Decision returns the decision recorded by this step, if any.
func (s Step) Decision() *Decision { return s.State.LastDecision }
