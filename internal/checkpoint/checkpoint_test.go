package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nidhogg/nuka-council/internal/orchestrator"
	"go.uber.org/zap"
)

func sampleCheckpoint(thread string, step int) orchestrator.Checkpoint {
	s := orchestrator.NewState(thread, "school").
		WithProposal(orchestrator.Proposal{ID: "p1", Author: "student", Text: "Use flashcards", Revision: 1}).
		Decide(orchestrator.Decision{Role: "teacher", Action: orchestrator.ActionForward})
	s.Attempts = 1
	s.Next = "principal"
	return orchestrator.Checkpoint{ThreadID: thread, Workflow: "school", State: s, Next: "principal", Step: step}
}

// exercise runs the behavior every Checkpointer must share.
func exercise(t *testing.T, c orchestrator.Checkpointer) {
	t.Helper()
	ctx := context.Background()

	if _, err := c.Load(ctx, "missing"); !errors.Is(err, orchestrator.ErrCheckpointNotFound) {
		t.Fatalf("load missing: got %v, want ErrCheckpointNotFound", err)
	}

	if err := c.Save(ctx, sampleCheckpoint("t1", 2)); err != nil {
		t.Fatalf("save: %v", err)
	}
	cp, err := c.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cp.Step != 2 || cp.Next != "principal" || cp.Workflow != "school" || cp.SavedAt.IsZero() {
		t.Errorf("checkpoint = %+v", cp)
	}
	if cp.State.Proposal == nil || cp.State.Proposal.Text != "Use flashcards" || cp.State.Attempts != 1 {
		t.Errorf("state not restored: %+v", cp.State)
	}
	if d, ok := cp.State.DecisionBy("teacher"); !ok || d.Action != orchestrator.ActionForward {
		t.Errorf("decision not restored: %+v", cp.State.Decisions)
	}

	// overwrite keeps one row per thread
	next := sampleCheckpoint("t1", 3)
	next.Next = orchestrator.Terminal
	if err := c.Save(ctx, next); err != nil {
		t.Fatalf("save again: %v", err)
	}
	cp, err = c.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cp.Step != 3 || !cp.Finished() {
		t.Errorf("overwrite not applied: step %d next %q", cp.Step, cp.Next)
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	exercise(t, m)
	if ids := m.Threads(); len(ids) != 1 || ids[0] != "t1" {
		t.Errorf("threads = %v", ids)
	}
}

func TestMemoryIsolation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Save(ctx, sampleCheckpoint("t1", 1))
	a, _ := m.Load(ctx, "t1")
	a.State.Proposal.Text = "changed"
	b, _ := m.Load(ctx, "t1")
	if b.State.Proposal.Text != "Use flashcards" {
		t.Error("loaded checkpoint aliases stored data")
	}
}

func TestSQLite(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "data", "council.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	exercise(t, s)
}

func TestSQLiteReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "council.db")
	s, err := OpenSQLite(path, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Save(context.Background(), sampleCheckpoint("t9", 4)); err != nil {
		t.Fatalf("save: %v", err)
	}
	s.Close()

	s, err = OpenSQLite(path, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	cp, err := s.Load(context.Background(), "t9")
	if err != nil || cp.Step != 4 {
		t.Errorf("after reopen: %+v, %v", cp, err)
	}
}

func TestEngineResumeFromSQLite(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "council.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	h := orchestrator.Hierarchy{Generator: "gen", Evaluators: []string{"judge"}}
	r, _ := orchestrator.NewRouter(h, 3)
	gen := orchestrator.NewAgentFunc("gen", func(_ context.Context, st orchestrator.State) (orchestrator.State, error) {
		st = st.WithProposal(orchestrator.Proposal{Text: "idea"})
		return st.Decide(orchestrator.Decision{Role: "gen", Action: orchestrator.ActionForward}), nil
	})
	judge := orchestrator.NewAgentFunc("judge", func(_ context.Context, st orchestrator.State) (orchestrator.State, error) {
		return st.Decide(orchestrator.Decision{Role: "judge", Action: orchestrator.ActionApprove}), nil
	})
	e, err := orchestrator.NewEngine(r, []orchestrator.Agent{gen, judge}, zap.NewNop(), orchestrator.WithCheckpointer(s))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for _, err := range e.Run(ctx, "th", orchestrator.State{}) {
		if err != nil {
			t.Fatal(err)
		}
		break
	}
	seq, err := e.Resume(ctx, "th")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	res, err := orchestrator.Collect(seq)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(res.Steps) != 1 || res.Steps[0].Agent != "judge" || res.Outcome() != orchestrator.OutcomeApproved {
		t.Errorf("resumed steps = %+v outcome %q", res.Steps, res.Outcome())
	}
}
