// Package checkpoint holds orchestrator.Checkpointer implementations.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/nuka-council/internal/orchestrator"
)

func encode(cp orchestrator.Checkpoint) ([]byte, error) {
	if cp.SavedAt.IsZero() {
		cp.SavedAt = time.Now().UTC()
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint %s: %w", cp.ThreadID, err)
	}
	return data, nil
}

func decode(threadID string, data []byte) (*orchestrator.Checkpoint, error) {
	var cp orchestrator.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
	}
	return &cp, nil
}

// Memory keeps checkpoints in process. Entries are stored encoded so a
// loaded checkpoint never aliases a saved one.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-process checkpointer.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Save(_ context.Context, cp orchestrator.Checkpoint) error {
	data, err := encode(cp)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[cp.ThreadID] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) Load(_ context.Context, threadID string) (*orchestrator.Checkpoint, error) {
	m.mu.RLock()
	data, ok := m.data[threadID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("load %s: %w", threadID, orchestrator.ErrCheckpointNotFound)
	}
	return decode(threadID, data)
}

// Threads lists the stored thread ids.
func (m *Memory) Threads() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	return ids
}
