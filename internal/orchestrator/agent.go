package orchestrator

import (
	"context"
	"time"
)

// Agent is a named role in a workflow. Handle receives a private copy of
// the state and returns the successor state.
type Agent interface {
	Name() string
	Handle(ctx context.Context, s State) (State, error)
}

// HandlerFunc adapts a function to the Agent interface.
type HandlerFunc func(ctx context.Context, s State) (State, error)

type funcAgent struct {
	name string
	fn   HandlerFunc
}

// NewAgentFunc wraps fn as an Agent called name.
func NewAgentFunc(name string, fn HandlerFunc) Agent {
	return &funcAgent{name: name, fn: fn}
}

func (a *funcAgent) Name() string { return a.name }

func (a *funcAgent) Handle(ctx context.Context, s State) (State, error) {
	return a.fn(ctx, s)
}

// Recorder receives every step after it completes. Recorders are
// best-effort: the engine logs their errors and moves on.
type Recorder interface {
	Record(ctx context.Context, step Step) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, step Step) error

func (f RecorderFunc) Record(ctx context.Context, step Step) error { return f(ctx, step) }

// Checkpoint is the persisted position of a run: the state after Step
// steps and the agent that runs next.
type Checkpoint struct {
	ThreadID string    `json:"thread_id"`
	Workflow string    `json:"workflow,omitempty"`
	State    State     `json:"state"`
	Next     string    `json:"next"`
	Step     int       `json:"step"`
	SavedAt  time.Time `json:"saved_at"`
}

// Finished reports whether the checkpointed run has ended.
func (c Checkpoint) Finished() bool { return c.Next == Terminal }

// Checkpointer persists run positions keyed by thread id. Load returns
// ErrCheckpointNotFound for unknown threads.
type Checkpointer interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, threadID string) (*Checkpoint, error)
}
