package agent

import (
	"context"
	"fmt"

	"github.com/nidhogg/nuka-council/internal/orchestrator"
	"go.uber.org/zap"
)

// Evaluator judges the current proposal and records a decision.
type Evaluator struct {
	name   string
	source EvaluationSource
	logger *zap.Logger
}

// NewEvaluator creates an evaluator agent.
func NewEvaluator(name string, source EvaluationSource, logger *zap.Logger) *Evaluator {
	return &Evaluator{name: name, source: source, logger: logger}
}

func (e *Evaluator) Name() string { return e.name }

// Handle fails with a contract violation when there is nothing to judge.
func (e *Evaluator) Handle(ctx context.Context, s orchestrator.State) (orchestrator.State, error) {
	if s.Proposal == nil {
		return s, orchestrator.ContractViolation(e.name, "no proposal to evaluate")
	}
	ev, err := e.source.Evaluate(ctx, *s.Proposal, EvaluateInput{
		Role:       e.name,
		Decisions:  s.Decisions,
		Transcript: s.Transcript,
	})
	if err != nil {
		return s, fmt.Errorf("%s evaluate: %w", e.name, err)
	}

	fields := []zap.Field{
		zap.String("agent", e.name),
		zap.String("action", string(ev.Action)),
		zap.String("proposal", s.Proposal.ID),
	}
	if ev.Score != nil {
		fields = append(fields, zap.Float64("score", *ev.Score))
	}
	e.logger.Info("proposal evaluated", fields...)

	line := string(ev.Action)
	if ev.Note != "" {
		line += ": " + ev.Note
	}
	return s.Decide(orchestrator.Decision{
		Role:   e.name,
		Action: ev.Action,
		Score:  ev.Score,
		Note:   ev.Note,
	}).Say(e.name, line), nil
}
