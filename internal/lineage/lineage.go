// Package lineage records who decided what in each run as a Neo4j graph:
// (:Run)-[:STEP]->(:Decision)-[:BY]->(:Agent), with decisions chained by
// [:NEXT] in step order.
package lineage

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/nidhogg/nuka-council/internal/orchestrator"
	"go.uber.org/zap"
)

// Store handles Neo4j operations for decision lineage.
type Store struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewStore creates a new Neo4j lineage store.
func NewStore(uri, user, password string, logger *zap.Logger) (*Store, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Store{driver: driver, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Ping verifies the Neo4j connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// EnsureSchema creates the uniqueness constraints the MERGEs rely on.
func (s *Store) EnsureSchema(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT run_thread IF NOT EXISTS FOR (r:Run) REQUIRE r.thread_id IS UNIQUE`,
		`CREATE CONSTRAINT agent_name IF NOT EXISTS FOR (a:Agent) REQUIRE a.name IS UNIQUE`,
	}
	for _, q := range stmts {
		if _, err := session.Run(ctx, q, nil); err != nil {
			return fmt.Errorf("ensure lineage schema: %w", err)
		}
	}
	return nil
}

const recordStep = `
MERGE (r:Run {thread_id: $thread})
SET r.workflow = $workflow, r.outcome = $outcome, r.attempts = $attempts, r.updated_at = datetime()
MERGE (a:Agent {name: $agent})
MERGE (d:Decision {thread_id: $thread, step: $step})
SET d.action = $action, d.note = $note, d.score = $score,
    d.proposal = $proposal, d.revision = $revision, d.next = $next
MERGE (r)-[:STEP {index: $step}]->(d)
MERGE (d)-[:BY]->(a)
WITH d
OPTIONAL MATCH (p:Decision {thread_id: $thread, step: $prev})
FOREACH (_ IN CASE WHEN p IS NULL THEN [] ELSE [1] END | MERGE (p)-[:NEXT]->(d))`

// Record implements orchestrator.Recorder. Re-recording a step updates
// it in place.
func (s *Store) Record(ctx context.Context, step orchestrator.Step) error {
	st := step.State
	params := map[string]interface{}{
		"thread":   step.ThreadID,
		"workflow": st.Workflow,
		"outcome":  string(st.Outcome),
		"attempts": st.Attempts,
		"agent":    step.Agent,
		"step":     step.Index,
		"prev":     step.Index - 1,
		"next":     step.Next,
		"action":   "",
		"note":     "",
		"score":    nil,
		"proposal": "",
		"revision": 0,
	}
	if d := step.Decision(); d != nil {
		params["action"] = string(d.Action)
		params["note"] = d.Note
		if d.Score != nil {
			params["score"] = *d.Score
		}
	}
	if p := st.Proposal; p != nil {
		params["proposal"] = p.Text
		params["revision"] = p.Revision
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	if _, err := session.Run(ctx, recordStep, params); err != nil {
		return fmt.Errorf("record lineage %s/%d: %w", step.ThreadID, step.Index, err)
	}
	return nil
}

// Node is one decision in a run's lineage.
type Node struct {
	Step     int                 `json:"step"`
	Agent    string              `json:"agent"`
	Action   orchestrator.Action `json:"action"`
	Note     string              `json:"note,omitempty"`
	Proposal string              `json:"proposal,omitempty"`
	Revision int                 `json:"revision"`
}

// Lineage returns the decisions of a run in step order.
func (s *Store) Lineage(ctx context.Context, threadID string) ([]Node, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (:Run {thread_id: $thread})-[:STEP]->(d:Decision)-[:BY]->(a:Agent)
		 RETURN d.step, a.name, d.action, d.note, d.proposal, d.revision
		 ORDER BY d.step`,
		map[string]interface{}{"thread": threadID})
	if err != nil {
		return nil, fmt.Errorf("query lineage %s: %w", threadID, err)
	}

	var nodes []Node
	for result.Next(ctx) {
		rec := result.Record()
		step, _ := rec.Get("d.step")
		agent, _ := rec.Get("a.name")
		action, _ := rec.Get("d.action")
		note, _ := rec.Get("d.note")
		proposal, _ := rec.Get("d.proposal")
		revision, _ := rec.Get("d.revision")
		n := Node{
			Step:     int(asInt(step)),
			Agent:    asString(agent),
			Action:   orchestrator.Action(asString(action)),
			Note:     asString(note),
			Proposal: asString(proposal),
			Revision: int(asInt(revision)),
		}
		nodes = append(nodes, n)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read lineage %s: %w", threadID, err)
	}
	return nodes, nil
}

// AgentActions counts every action an agent has taken across all runs.
func (s *Store) AgentActions(ctx context.Context, agent string) (map[orchestrator.Action]int, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (d:Decision)-[:BY]->(:Agent {name: $agent})
		 RETURN d.action AS action, count(d) AS n`,
		map[string]interface{}{"agent": agent})
	if err != nil {
		return nil, fmt.Errorf("query agent actions %s: %w", agent, err)
	}
	out := make(map[orchestrator.Action]int)
	for result.Next(ctx) {
		rec := result.Record()
		action, _ := rec.Get("action")
		n, _ := rec.Get("n")
		out[orchestrator.Action(asString(action))] = int(asInt(n))
	}
	return out, result.Err()
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int64 {
	n, _ := v.(int64)
	return n
}
