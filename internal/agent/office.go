package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-council/internal/orchestrator"
	"go.uber.org/zap"
)

// ApprovalPayload is carried by approval messages.
type ApprovalPayload struct {
	Approved bool   `json:"approved"`
	Note     string `json:"note,omitempty"`
}

// NotePayload is carried by note messages.
type NotePayload struct {
	Note string `json:"note"`
}

// Task describes the work a Requester submits.
type Task struct {
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Priority    orchestrator.Priority `json:"priority"`
}

// DefaultTask is the office workflow's demo request.
var DefaultTask = Task{
	Title:       "Prepare Q4 Report",
	Description: "Compile financial data and create presentation for Q4 review",
	Priority:    orchestrator.PriorityHigh,
}

// Requester is the generator of the message-bus workflow. It submits its
// task to the first approver and waits for an answer on its inbox.
type Requester struct {
	name   string
	to     string
	task   Task
	logger *zap.Logger
}

// NewRequester creates a requester that sends its task to approver.
func NewRequester(name, approver string, task Task, logger *zap.Logger) *Requester {
	return &Requester{name: name, to: approver, task: task, logger: logger}
}

func (r *Requester) Name() string { return r.name }

// Handle drains the inbox. An approval ends the workflow with a verdict;
// a note asks for a new revision; an empty inbox means submit.
func (r *Requester) Handle(_ context.Context, s orchestrator.State) (orchestrator.State, error) {
	var (
		verdict *orchestrator.Verdict
		revise  bool
	)
	for _, msg := range s.Inbox(r.name) {
		s = s.Consume(msg.ID)
		switch msg.Type {
		case orchestrator.MessageApproval:
			var p ApprovalPayload
			if err := orchestrator.DecodePayload(msg, &p); err != nil {
				return s, fmt.Errorf("%s: %w", r.name, err)
			}
			verdict = &orchestrator.Verdict{Approved: p.Approved, Note: p.Note, DecidedBy: msg.From, DecidedAt: msg.Timestamp}
			r.logger.Info("received decision",
				zap.String("agent", r.name),
				zap.String("from", msg.From),
				zap.Bool("approved", p.Approved))
		case orchestrator.MessageNote:
			var p NotePayload
			if err := orchestrator.DecodePayload(msg, &p); err != nil {
				return s, fmt.Errorf("%s: %w", r.name, err)
			}
			s = s.Say(msg.From, p.Note)
			revise = true
		default:
			r.logger.Debug("ignoring message",
				zap.String("agent", r.name),
				zap.String("type", string(msg.Type)),
				zap.String("from", msg.From))
		}
	}

	if verdict != nil {
		status := "REJECTED"
		if verdict.Approved {
			status = "APPROVED"
		}
		s = s.WithVerdict(*verdict).Say(r.name, fmt.Sprintf("%s by %s: %s", status, verdict.DecidedBy, verdict.Note))
		return s.Decide(orchestrator.Decision{Role: r.name, Action: orchestrator.ActionStop, Note: "workflow complete"}), nil
	}
	if revise {
		r.logger.Info("revising task", zap.String("agent", r.name))
	}
	return r.submit(s)
}

// submit sends the configured task, or resends the current proposal as a
// new revision.
func (r *Requester) submit(s orchestrator.State) (orchestrator.State, error) {
	p := orchestrator.Proposal{
		ID:        uuid.New().String(),
		Author:    r.name,
		Title:     r.task.Title,
		Text:      r.task.Description,
		Priority:  r.task.Priority,
		Revision:  1,
		CreatedAt: time.Now().UTC(),
	}
	if prev := s.Proposal; prev != nil {
		p.Title, p.Text, p.Priority = prev.Title, prev.Text, prev.Priority
		p.Revision = prev.Revision + 1
	}
	s, err := s.WithProposal(p).Send(r.name, r.to, orchestrator.MessageRequest, p)
	if err != nil {
		return s, fmt.Errorf("%s submit: %w", r.name, err)
	}
	r.logger.Info("task submitted",
		zap.String("agent", r.name),
		zap.String("to", r.to),
		zap.String("title", p.Title),
		zap.String("priority", string(p.Priority)),
		zap.Int("revision", p.Revision))
	s = s.Say(r.name, fmt.Sprintf("Starting task: %q [%s]", p.Title, p.Priority))
	return s.Decide(orchestrator.Decision{Role: r.name, Action: orchestrator.ActionForward, Note: fmt.Sprintf("revision %d", p.Revision)}), nil
}

// Approver is one level of the approval chain. It consumes a request,
// applies its strategy and answers over the bus.
type Approver struct {
	name      string
	requester string
	next      string
	strategy  Strategy
	logger    *zap.Logger
}

// NewApprover creates an approver. next is the level above, or "" for the
// top of the chain.
func NewApprover(name, requester, next string, strategy Strategy, logger *zap.Logger) *Approver {
	return &Approver{name: name, requester: requester, next: next, strategy: strategy, logger: logger}
}

func (a *Approver) Name() string { return a.name }

// Handle consumes every request addressed to the approver and decides on
// the newest one.
func (a *Approver) Handle(_ context.Context, s orchestrator.State) (orchestrator.State, error) {
	var (
		p     orchestrator.Proposal
		found bool
	)
	for _, msg := range s.Inbox(a.name) {
		s = s.Consume(msg.ID)
		if msg.Type != orchestrator.MessageRequest {
			continue
		}
		if err := orchestrator.DecodePayload(msg, &p); err != nil {
			return s, fmt.Errorf("%s: %w", a.name, err)
		}
		found = true
	}
	if !found {
		if s.Proposal == nil {
			return s, orchestrator.ContractViolation(a.name, "no request in inbox")
		}
		p = *s.Proposal
	}

	ev := a.strategy(p)
	var (
		err   error
		final bool
	)
	switch ev.Action {
	case orchestrator.ActionApprove, orchestrator.ActionReject:
		final = true
		s, err = s.Send(a.name, a.requester, orchestrator.MessageApproval, ApprovalPayload{Approved: ev.Action == orchestrator.ActionApprove, Note: ev.Note})
	case orchestrator.ActionRevise:
		s, err = s.Send(a.name, a.requester, orchestrator.MessageNote, NotePayload{Note: ev.Note})
	case orchestrator.ActionEscalate, orchestrator.ActionForward:
		if a.next != "" {
			s, err = s.Send(a.name, a.next, orchestrator.MessageRequest, p)
		}
	}
	if err != nil {
		return s, fmt.Errorf("%s reply: %w", a.name, err)
	}

	a.logger.Info("task decided",
		zap.String("agent", a.name),
		zap.String("action", string(ev.Action)),
		zap.String("priority", string(p.Priority)),
		zap.String("note", ev.Note))
	return s.Decide(orchestrator.Decision{Role: a.name, Action: ev.Action, Note: ev.Note, Final: final}).
		Say(a.name, fmt.Sprintf("%s: %s", ev.Action, ev.Note)), nil
}
