package audit

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/nidhogg/nuka-council/internal/orchestrator"
)

func officeStep(t *testing.T) orchestrator.Step {
	t.Helper()
	s := orchestrator.NewState("t1", "office").
		WithProposal(orchestrator.Proposal{Author: "employee", Title: "Prepare Q4 Report", Revision: 1})
	s, err := s.Send("manager", "director", orchestrator.MessageRequest, map[string]string{"title": "Prepare Q4 Report"})
	if err != nil {
		t.Fatal(err)
	}
	s, _ = s.Send("employee", "manager", orchestrator.MessageRequest, nil)
	s = s.Decide(orchestrator.Decision{Role: "manager", Action: orchestrator.ActionEscalate, Note: "Escalating to director (high priority)"})
	return orchestrator.Step{Index: 1, ThreadID: "t1", Agent: "manager", Next: "director", State: s}
}

func TestFromStep(t *testing.T) {
	ev := FromStep(officeStep(t))
	if ev.Action != orchestrator.ActionEscalate || ev.Proposal != "Prepare Q4 Report" || ev.Workflow != "office" {
		t.Errorf("event = %+v", ev)
	}
	if len(ev.Messages) != 1 || ev.Messages[0].To != "director" {
		t.Errorf("messages = %+v, want only the one manager sent", ev.Messages)
	}
	if ev.Final() {
		t.Error("non-terminal step reported final")
	}
}

func TestMulti(t *testing.T) {
	var calls []string
	rec := func(name string, err error) orchestrator.Recorder {
		return orchestrator.RecorderFunc(func(context.Context, orchestrator.Step) error {
			calls = append(calls, name)
			return err
		})
	}
	boom := errors.New("boom")
	m := Multi(rec("a", nil), nil, rec("b", boom), rec("c", nil))
	err := m.Record(context.Background(), orchestrator.Step{})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if strings.Join(calls, ",") != "a,b,c" {
		t.Errorf("calls = %v", calls)
	}
}

func TestConsole(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	c := NewConsole(&buf)

	if err := c.Record(context.Background(), officeStep(t)); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"MANAGER    │", "📋 SEND → DIRECTOR [request]", "ESCALATE Escalating to director"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}

	buf.Reset()
	score := 3.0
	s := orchestrator.NewState("t2", "school").
		WithProposal(orchestrator.Proposal{Author: "student", Text: "Use flashcards", Revision: 1}).
		Decide(orchestrator.Decision{Role: "principal", Action: orchestrator.ActionApprove, Score: &score, Note: "Approved."})
	s.Outcome = orchestrator.OutcomeApproved
	_ = c.Record(context.Background(), orchestrator.Step{Index: 1, ThreadID: "t2", Agent: "principal", Next: orchestrator.Terminal, State: s})
	out = buf.String()
	for _, want := range []string{"APPROVE (score 3) Approved.", "Proposal : Use flashcards", "Outcome  : APPROVED after 2 step(s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}
