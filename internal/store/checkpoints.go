package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/nuka-council/internal/orchestrator"
)

// Save upserts the checkpoint for cp.ThreadID.
func (s *Store) Save(ctx context.Context, cp orchestrator.Checkpoint) error {
	state, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if cp.SavedAt.IsZero() {
		cp.SavedAt = time.Now().UTC()
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO checkpoints (thread_id, workflow, next, step, state, saved_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (thread_id) DO UPDATE SET
			workflow = EXCLUDED.workflow,
			next = EXCLUDED.next,
			step = EXCLUDED.step,
			state = EXCLUDED.state,
			saved_at = EXCLUDED.saved_at`,
		cp.ThreadID, cp.Workflow, cp.Next, cp.Step, state, cp.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.ThreadID, err)
	}
	return nil
}

// Load returns the checkpoint for threadID or
// orchestrator.ErrCheckpointNotFound.
func (s *Store) Load(ctx context.Context, threadID string) (*orchestrator.Checkpoint, error) {
	cp := orchestrator.Checkpoint{ThreadID: threadID}
	var state []byte
	err := s.db.QueryRow(ctx, `
		SELECT workflow, next, step, state, saved_at
		FROM checkpoints WHERE thread_id = $1`, threadID,
	).Scan(&cp.Workflow, &cp.Next, &cp.Step, &state, &cp.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load %s: %w", threadID, orchestrator.ErrCheckpointNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", threadID, err)
	}
	if err := json.Unmarshal(state, &cp.State); err != nil {
		return nil, fmt.Errorf("unmarshal state %s: %w", threadID, err)
	}
	return &cp, nil
}
