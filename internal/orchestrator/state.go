package orchestrator

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// State is the shared workflow state. Agents never mutate the value they
// are handed; every helper below returns a fresh copy.
type State struct {
	ThreadID     string              `json:"thread_id"`
	Workflow     string              `json:"workflow,omitempty"`
	Proposal     *Proposal           `json:"proposal,omitempty"`
	Decisions    map[string]Decision `json:"decisions,omitempty"`
	LastDecision *Decision           `json:"last_decision,omitempty"`
	Attempts     int                 `json:"attempts"`
	Messages     []Message           `json:"messages,omitempty"`
	Next         string              `json:"next,omitempty"`
	Verdict      *Verdict            `json:"verdict,omitempty"`
	Transcript   []TranscriptEntry   `json:"transcript,omitempty"`
	Outcome      Outcome             `json:"outcome,omitempty"`
}

// NewState returns an empty state for a thread.
func NewState(threadID, workflow string) State {
	return State{ThreadID: threadID, Workflow: workflow, Outcome: OutcomePending}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	c := s
	if s.Proposal != nil {
		p := *s.Proposal
		c.Proposal = &p
	}
	if s.LastDecision != nil {
		d := cloneDecision(*s.LastDecision)
		c.LastDecision = &d
	}
	if s.Verdict != nil {
		v := *s.Verdict
		c.Verdict = &v
	}
	if s.Decisions != nil {
		c.Decisions = make(map[string]Decision, len(s.Decisions))
		for k, d := range s.Decisions {
			c.Decisions[k] = cloneDecision(d)
		}
	}
	if s.Messages != nil {
		c.Messages = make([]Message, len(s.Messages))
		for i, m := range s.Messages {
			m.Payload = slices.Clone(m.Payload)
			c.Messages[i] = m
		}
	}
	c.Transcript = slices.Clone(s.Transcript)
	return c
}

func cloneDecision(d Decision) Decision {
	if d.Score != nil {
		v := *d.Score
		d.Score = &v
	}
	return d
}

// WithProposal installs p as the current proposal and clears decisions
// made about the previous one.
func (s State) WithProposal(p Proposal) State {
	c := s.Clone()
	c.Proposal = &p
	c.Decisions = nil
	return c
}

// Decide records d as the latest decision and files it under its role.
func (s State) Decide(d Decision) State {
	c := s.Clone()
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}
	if c.Decisions == nil {
		c.Decisions = make(map[string]Decision)
	}
	c.Decisions[d.Role] = d
	last := cloneDecision(d)
	c.LastDecision = &last
	return c
}

// WithVerdict records the final approval outcome.
func (s State) WithVerdict(v Verdict) State {
	c := s.Clone()
	if v.DecidedAt.IsZero() {
		v.DecidedAt = time.Now().UTC()
	}
	c.Verdict = &v
	return c
}

// Say appends a transcript entry.
func (s State) Say(role, content string) State {
	c := s.Clone()
	c.Transcript = append(c.Transcript, TranscriptEntry{Role: role, Content: content})
	return c
}

// Send appends a message addressed to another agent. The payload is
// JSON-encoded.
func (s State) Send(from, to string, typ MessageType, payload any) (State, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return s, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		raw = data
	}
	c := s.Clone()
	c.Messages = append(c.Messages, Message{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Type:      typ,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	})
	return c, nil
}

// Inbox returns the messages addressed to name, oldest first.
func (s State) Inbox(name string) []Message {
	var out []Message
	for _, m := range s.Messages {
		if m.To == name {
			out = append(out, m)
		}
	}
	return out
}

// Consume removes the given messages from the bus. A consumed message
// can never be delivered again.
func (s State) Consume(ids ...string) State {
	c := s.Clone()
	c.Messages = slices.DeleteFunc(c.Messages, func(m Message) bool {
		return slices.Contains(ids, m.ID)
	})
	return c
}

// DecisionBy returns the decision filed under role, if any.
func (s State) DecisionBy(role string) (Decision, bool) {
	d, ok := s.Decisions[role]
	return d, ok
}

// Roles lists the roles that have decided on the current proposal,
// sorted for stable output.
func (s State) Roles() []string {
	return slices.Sorted(maps.Keys(s.Decisions))
}

// DecodePayload unmarshals a message payload into v.
func DecodePayload(m Message, v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("message %s has no payload", m.ID)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}
