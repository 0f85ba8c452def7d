// Package audit fans engine steps out to best-effort sinks.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/nidhogg/nuka-council/internal/orchestrator"
)

// Event is the wire form of a step shared by every external sink. It
// omits the full state so events stay small.
type Event struct {
	ThreadID string                 `json:"thread_id"`
	Workflow string                 `json:"workflow"`
	Index    int                    `json:"index"`
	Agent    string                 `json:"agent"`
	Next     string                 `json:"next"`
	Action   orchestrator.Action    `json:"action,omitempty"`
	Note     string                 `json:"note,omitempty"`
	Score    *float64               `json:"score,omitempty"`
	Attempts int                    `json:"attempts"`
	Proposal string                 `json:"proposal,omitempty"`
	Author   string                 `json:"author,omitempty"`
	Revision int                    `json:"revision,omitempty"`
	Outcome  orchestrator.Outcome   `json:"outcome"`
	Verdict  *orchestrator.Verdict  `json:"verdict,omitempty"`
	Duration time.Duration          `json:"duration"`
	At       time.Time              `json:"at"`
	Messages []orchestrator.Message `json:"messages,omitempty"`
}

// Final reports whether the event ended its run.
func (e Event) Final() bool { return e.Next == orchestrator.Terminal }

// FromStep flattens a step into an Event. Messages are the ones still
// pending after the step, which are the ones the agent just sent.
func FromStep(step orchestrator.Step) Event {
	st := step.State
	ev := Event{
		ThreadID: step.ThreadID,
		Workflow: st.Workflow,
		Index:    step.Index,
		Agent:    step.Agent,
		Next:     step.Next,
		Attempts: st.Attempts,
		Outcome:  st.Outcome,
		Verdict:  st.Verdict,
		Duration: step.Duration,
		At:       step.At,
	}
	if d := step.Decision(); d != nil {
		ev.Action, ev.Note, ev.Score = d.Action, d.Note, d.Score
	}
	if st.Proposal != nil {
		ev.Proposal, ev.Revision, ev.Author = st.Proposal.Text, st.Proposal.Revision, st.Proposal.Author
		if ev.Proposal == "" {
			ev.Proposal = st.Proposal.Title
		}
	}
	for _, m := range st.Messages {
		if m.From == step.Agent {
			ev.Messages = append(ev.Messages, m)
		}
	}
	return ev
}

type multi []orchestrator.Recorder

// Multi returns a recorder that forwards every step to each of rs in
// order. All recorders run even when one fails; the errors are joined.
func Multi(rs ...orchestrator.Recorder) orchestrator.Recorder {
	var out multi
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multi) Record(ctx context.Context, step orchestrator.Step) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, step); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
