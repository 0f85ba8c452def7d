package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-council/internal/orchestrator"
)

// StepRow is one persisted step.
type StepRow struct {
	ThreadID  string              `json:"thread_id"`
	Index     int                 `json:"index"`
	Agent     string              `json:"agent"`
	Next      string              `json:"next"`
	Action    orchestrator.Action `json:"action,omitempty"`
	Note      string              `json:"note,omitempty"`
	Score     *float64            `json:"score,omitempty"`
	Attempts  int                 `json:"attempts"`
	Duration  time.Duration       `json:"duration"`
	CreatedAt time.Time           `json:"created_at"`
}

// RunRow summarizes a run.
type RunRow struct {
	ThreadID  string               `json:"thread_id"`
	Workflow  string               `json:"workflow"`
	Outcome   orchestrator.Outcome `json:"outcome"`
	Attempts  int                  `json:"attempts"`
	Steps     int                  `json:"steps"`
	StartedAt time.Time            `json:"started_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Record implements orchestrator.Recorder: it upserts the run summary and
// appends the step in one transaction.
func (s *Store) Record(ctx context.Context, step orchestrator.Step) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	st := step.State
	_, err = tx.Exec(ctx, `
		INSERT INTO runs (thread_id, workflow, outcome, attempts, steps, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (thread_id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			attempts = EXCLUDED.attempts,
			steps = EXCLUDED.steps,
			updated_at = EXCLUDED.updated_at`,
		step.ThreadID, st.Workflow, string(st.Outcome), st.Attempts, step.Index+1, step.At,
	)
	if err != nil {
		return fmt.Errorf("upsert run %s: %w", step.ThreadID, err)
	}

	var (
		action orchestrator.Action
		note   string
		score  *float64
	)
	if d := step.Decision(); d != nil {
		action, note, score = d.Action, d.Note, d.Score
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO steps (thread_id, step_index, agent, next, action, note, score, attempts, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (thread_id, step_index) DO NOTHING`,
		step.ThreadID, step.Index, step.Agent, step.Next, string(action), note, score,
		st.Attempts, step.Duration.Milliseconds(), step.At,
	)
	if err != nil {
		return fmt.Errorf("append step %s/%d: %w", step.ThreadID, step.Index, err)
	}
	return tx.Commit(ctx)
}

// Steps returns the step log of a run in order.
func (s *Store) Steps(ctx context.Context, threadID string) ([]StepRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT thread_id, step_index, agent, next, action, note, score, attempts, duration_ms, created_at
		FROM steps
		WHERE thread_id = $1
		ORDER BY step_index ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("get steps: %w", err)
	}
	defer rows.Close()

	var out []StepRow
	for rows.Next() {
		var (
			r      StepRow
			action string
			ms     int64
		)
		if err := rows.Scan(&r.ThreadID, &r.Index, &r.Agent, &r.Next, &action, &r.Note,
			&r.Score, &r.Attempts, &ms, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		r.Action = orchestrator.Action(action)
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Runs lists the most recently updated runs.
func (s *Store) Runs(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT thread_id, workflow, outcome, attempts, steps, started_at, updated_at
		FROM runs
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var (
			r       RunRow
			outcome string
		)
		if err := rows.Scan(&r.ThreadID, &r.Workflow, &outcome, &r.Attempts, &r.Steps,
			&r.StartedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Outcome = orchestrator.Outcome(outcome)
		out = append(out, r)
	}
	return out, rows.Err()
}
