package workflow

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-council/internal/agent"
	"github.com/nidhogg/nuka-council/internal/orchestrator"
	"go.uber.org/zap"
)

// Service starts and resumes runs of any preset. Engines are built per
// run, so per-run options such as the office task never leak.
type Service struct {
	opts   Options
	deps   Deps
	logger *zap.Logger
}

// NewService creates a service sharing opts and deps across runs.
func NewService(opts Options, deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{opts: opts, deps: deps, logger: deps.Logger}
}

// RunRequest describes a new run.
type RunRequest struct {
	Workflow string      `json:"workflow"`
	ThreadID string      `json:"thread_id,omitempty"`
	Task     *agent.Task `json:"task,omitempty"`
}

// Start builds the engine for req and returns its thread id and lazy
// step sequence.
func (s *Service) Start(ctx context.Context, req RunRequest) (string, iter.Seq2[orchestrator.Step, error], error) {
	opts := s.opts
	if req.Task != nil {
		opts.Task = req.Task
	}
	e, err := Build(req.Workflow, opts, s.deps)
	if err != nil {
		return "", nil, err
	}
	thread := req.ThreadID
	if thread == "" {
		thread = uuid.New().String()
	}
	s.logger.Info("run started", zap.String("workflow", req.Workflow), zap.String("thread", thread))
	return thread, e.Run(ctx, thread, orchestrator.NewState(thread, req.Workflow)), nil
}

// Invoke starts a run and drains it.
func (s *Service) Invoke(ctx context.Context, req RunRequest) (*orchestrator.Result, error) {
	thread, seq, err := s.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	res, err := orchestrator.Collect(seq)
	if res != nil {
		res.ThreadID = thread
	}
	return res, err
}

// Checkpoint loads the saved position of a run.
func (s *Service) Checkpoint(ctx context.Context, threadID string) (*orchestrator.Checkpoint, error) {
	if s.deps.Checkpointer == nil {
		return nil, errors.New("no checkpointer configured")
	}
	return s.deps.Checkpointer.Load(ctx, threadID)
}

// Resume continues a checkpointed run with the engine of the workflow it
// was started with.
func (s *Service) Resume(ctx context.Context, threadID string) (iter.Seq2[orchestrator.Step, error], error) {
	cp, err := s.Checkpoint(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", threadID, err)
	}
	e, err := Build(cp.Workflow, s.opts, s.deps)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", threadID, err)
	}
	return e.Resume(ctx, threadID)
}

// ResumeAndCollect resumes a run and drains it.
func (s *Service) ResumeAndCollect(ctx context.Context, threadID string) (*orchestrator.Result, error) {
	seq, err := s.Resume(ctx, threadID)
	if err != nil {
		return nil, err
	}
	res, err := orchestrator.Collect(seq)
	if res != nil {
		res.ThreadID = threadID
	}
	return res, err
}
