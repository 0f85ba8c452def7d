//go:build integration

package lineage

import (
	"context"
	"testing"

	"github.com/nidhogg/nuka-council/internal/orchestrator"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	"go.uber.org/zap"
)

func TestLineage(t *testing.T) {
	ctx := context.Background()
	container, err := tcneo4j.Run(ctx, "neo4j:5-community", tcneo4j.WithoutAuthentication())
	if err != nil {
		t.Fatalf("start neo4j: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })
	uri, err := container.BoltUrl(ctx)
	if err != nil {
		t.Fatalf("bolt url: %v", err)
	}

	s, err := NewStore(uri, "", "", zap.NewNop())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer s.Close(ctx)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}

	base := orchestrator.NewState("l1", "school").
		WithProposal(orchestrator.Proposal{Text: "Lets cancel homework forever", Revision: 1})
	score := -2.0
	steps := []orchestrator.Step{
		{Index: 0, ThreadID: "l1", Agent: "student", Next: "teacher",
			State: base.Decide(orchestrator.Decision{Role: "student", Action: orchestrator.ActionForward})},
		{Index: 1, ThreadID: "l1", Agent: "teacher", Next: "student",
			State: base.Decide(orchestrator.Decision{Role: "teacher", Action: orchestrator.ActionRevise, Score: &score})},
		{Index: 2, ThreadID: "l1", Agent: "student", Next: "teacher",
			State: base.Decide(orchestrator.Decision{Role: "student", Action: orchestrator.ActionForward})},
	}
	for _, step := range steps {
		if err := s.Record(ctx, step); err != nil {
			t.Fatalf("record %d: %v", step.Index, err)
		}
	}
	// idempotent
	if err := s.Record(ctx, steps[1]); err != nil {
		t.Fatalf("re-record: %v", err)
	}

	nodes, err := s.Lineage(ctx, "l1")
	if err != nil {
		t.Fatalf("lineage: %v", err)
	}
	if len(nodes) != 3 || nodes[1].Agent != "teacher" || nodes[1].Action != orchestrator.ActionRevise {
		t.Fatalf("nodes = %+v", nodes)
	}

	counts, err := s.AgentActions(ctx, "student")
	if err != nil {
		t.Fatalf("agent actions: %v", err)
	}
	if counts[orchestrator.ActionForward] != 2 {
		t.Errorf("counts = %v", counts)
	}
}
