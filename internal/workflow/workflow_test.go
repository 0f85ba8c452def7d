package workflow

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/nidhogg/nuka-council/internal/agent"
	"github.com/nidhogg/nuka-council/internal/checkpoint"
	"github.com/nidhogg/nuka-council/internal/orchestrator"
	"github.com/nidhogg/nuka-council/internal/provider"
	"go.uber.org/zap"
)

func TestLookup(t *testing.T) {
	for _, name := range []string{School, SchoolLLM, Office} {
		if _, err := Lookup(name); err != nil {
			t.Errorf("lookup %s: %v", name, err)
		}
	}
	if _, err := Lookup("zoo"); !errors.Is(err, ErrUnknownWorkflow) {
		t.Errorf("err = %v, want ErrUnknownWorkflow", err)
	}
	if _, err := Build("zoo", Options{}, Deps{}); !errors.Is(err, ErrUnknownWorkflow) {
		t.Errorf("build err = %v", err)
	}
}

func TestSchoolTerminates(t *testing.T) {
	p, _ := Lookup(School)
	bound := p.DefaultMaxAttempts * (1 + p.Hierarchy.Depth())
	principal := agent.PrincipalPolicy()

	for seed := uint64(1); seed <= 25; seed++ {
		e, err := Build(School, Options{Seed: seed}, Deps{Logger: zap.NewNop()})
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		res, err := e.Invoke(context.Background(), "", orchestrator.State{})
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		if len(res.Steps) > bound {
			t.Errorf("seed %d: %d steps exceeds bound %d", seed, len(res.Steps), bound)
		}
		switch res.Outcome() {
		case orchestrator.OutcomeApproved:
			if principal.Score(res.State.Proposal.Text) < principal.Threshold {
				t.Errorf("seed %d: approved %q below threshold", seed, res.State.Proposal.Text)
			}
			if last := res.Steps[len(res.Steps)-1]; last.Agent != "principal" {
				t.Errorf("seed %d: approved by %s", seed, last.Agent)
			}
		case orchestrator.OutcomeMaxAttempts:
			if res.State.Attempts != p.DefaultMaxAttempts {
				t.Errorf("seed %d: attempts %d", seed, res.State.Attempts)
			}
		default:
			t.Errorf("seed %d: outcome %q", seed, res.Outcome())
		}
	}
}

func TestSchoolSeedIsDeterministic(t *testing.T) {
	trace := func() []string {
		e, err := Build(School, Options{Seed: 42}, Deps{})
		if err != nil {
			t.Fatal(err)
		}
		res, err := e.Invoke(context.Background(), "t", orchestrator.State{})
		if err != nil {
			t.Fatal(err)
		}
		var out []string
		for _, s := range res.Steps {
			out = append(out, s.Agent+":"+string(s.Decision().Action)+":"+s.State.Proposal.Text)
		}
		return out
	}
	if a, b := trace(), trace(); !slices.Equal(a, b) {
		t.Errorf("runs differ:\n%v\n%v", a, b)
	}
}

func TestPolicyOverride(t *testing.T) {
	strict := agent.TeacherPolicy()
	strict.Threshold = 100
	e, err := Build(School, Options{
		MaxAttempts: 2,
		Policies:    map[string]agent.KeywordPolicy{"teacher": strict},
	}, Deps{})
	if err != nil {
		t.Fatal(err)
	}
	res, err := e.Invoke(context.Background(), "t", orchestrator.State{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome() != orchestrator.OutcomeMaxAttempts || len(res.Steps) != 4 {
		t.Errorf("outcome %q after %d steps, want max_attempts after 4", res.Outcome(), len(res.Steps))
	}
}

type scriptedChat struct{ replies map[string]string }

func (c scriptedChat) Route(_ context.Context, agent string, _ *provider.ChatRequest) (*provider.ChatResponse, error) {
	return &provider.ChatResponse{Content: c.replies[agent]}, nil
}

func TestSchoolLLM(t *testing.T) {
	if _, err := Build(SchoolLLM, Options{}, Deps{}); !errors.Is(err, ErrNoChat) {
		t.Fatalf("err = %v, want ErrNoChat", err)
	}
	chat := scriptedChat{replies: map[string]string{
		"student":   "```json\n{\"idea\": \"Peer tutoring after class\"}\n```",
		"teacher":   `{"assessment": "acceptable", "reason": "supports learning"}`,
		"principal": `{"feasibility": "feasible", "reason": "cheap"}`,
	}}
	e, err := Build(SchoolLLM, Options{Seed: 7}, Deps{Chat: chat})
	if err != nil {
		t.Fatal(err)
	}
	res, err := e.Invoke(context.Background(), "llm", orchestrator.State{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome() != orchestrator.OutcomeApproved || len(res.Steps) != 3 {
		t.Errorf("outcome %q after %d steps", res.Outcome(), len(res.Steps))
	}
	if res.State.Proposal.Text != "Peer tutoring after class" {
		t.Errorf("proposal = %q", res.State.Proposal.Text)
	}
}

func TestOfficeTask(t *testing.T) {
	task := &agent.Task{Title: "Buy pens", Priority: orchestrator.PriorityLow}
	e, err := Build(Office, Options{Task: task}, Deps{})
	if err != nil {
		t.Fatal(err)
	}
	res, err := e.Invoke(context.Background(), "o", orchestrator.State{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome() != orchestrator.OutcomeApproved || len(res.Steps) != 3 || res.State.Proposal.Title != "Buy pens" {
		t.Errorf("outcome %q steps %d proposal %+v", res.Outcome(), len(res.Steps), res.State.Proposal)
	}
}

func TestOfficeTerminates(t *testing.T) {
	for seed := uint64(1); seed <= 25; seed++ {
		e, err := Build(Office, Options{Seed: seed}, Deps{})
		if err != nil {
			t.Fatal(err)
		}
		res, err := e.Invoke(context.Background(), "", orchestrator.State{})
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		if o := res.Outcome(); o != orchestrator.OutcomeApproved && o != orchestrator.OutcomeRejected {
			t.Errorf("seed %d: outcome %q", seed, o)
		}
		if len(res.State.Messages) != 0 {
			t.Errorf("seed %d: %d undelivered messages", seed, len(res.State.Messages))
		}
	}
}

func TestOfficeVerdictOnLastAttempt(t *testing.T) {
	for seed := uint64(1); seed <= 25; seed++ {
		e, err := Build(Office, Options{Seed: seed, MaxAttempts: 1}, Deps{})
		if err != nil {
			t.Fatal(err)
		}
		res, err := e.Invoke(context.Background(), "", orchestrator.State{})
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		if res.State.Verdict == nil {
			t.Fatalf("seed %d: outcome %q without a verdict", seed, res.Outcome())
		}
		if o := res.Outcome(); o != orchestrator.OutcomeApproved && o != orchestrator.OutcomeRejected {
			t.Errorf("seed %d: outcome %q", seed, o)
		}
		if last := res.Steps[len(res.Steps)-1]; last.Agent != "employee" {
			t.Errorf("seed %d: last agent %q, want employee", seed, last.Agent)
		}
		if len(res.State.Messages) != 0 {
			t.Errorf("seed %d: %d undelivered messages", seed, len(res.State.Messages))
		}
	}
}

func TestServiceResume(t *testing.T) {
	cp := checkpoint.NewMemory()
	svc := NewService(Options{Seed: 3}, Deps{Checkpointer: cp})
	ctx := context.Background()

	thread, seq, err := svc.Start(ctx, RunRequest{Workflow: Office, ThreadID: "svc-1"})
	if err != nil {
		t.Fatal(err)
	}
	if thread != "svc-1" {
		t.Errorf("thread = %q", thread)
	}
	for _, err := range seq {
		if err != nil {
			t.Fatal(err)
		}
		break
	}
	saved, err := svc.Checkpoint(ctx, thread)
	if err != nil || saved.Step != 1 || saved.Workflow != Office {
		t.Fatalf("checkpoint = %+v, %v", saved, err)
	}

	res, err := svc.ResumeAndCollect(ctx, thread)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if res.ThreadID != thread || res.Steps[0].Index != 1 || res.Steps[0].Agent != "manager" {
		t.Errorf("resumed at %+v", res.Steps[0])
	}
	if _, err := svc.Resume(ctx, thread); !errors.Is(err, orchestrator.ErrRunFinished) {
		t.Errorf("err = %v, want ErrRunFinished", err)
	}
	if _, err := svc.Resume(ctx, "ghost"); !errors.Is(err, orchestrator.ErrCheckpointNotFound) {
		t.Errorf("err = %v, want ErrCheckpointNotFound", err)
	}
}

func TestServiceInvoke(t *testing.T) {
	svc := NewService(Options{Seed: 9}, Deps{})
	res, err := svc.Invoke(context.Background(), RunRequest{Workflow: School})
	if err != nil {
		t.Fatal(err)
	}
	if res.ThreadID == "" || res.State.Workflow != School {
		t.Errorf("result = %+v", res.State)
	}
	if _, err := svc.Checkpoint(context.Background(), res.ThreadID); err == nil {
		t.Error("expected error without checkpointer")
	}
}
