package agent

import (
	"context"

	"github.com/nidhogg/nuka-council/internal/orchestrator"
)

// GenerateInput is what a generator knows when asked for a proposal.
type GenerateInput struct {
	ThreadID   string
	Role       string
	Attempt    int
	Previous   *orchestrator.Proposal
	Feedback   []orchestrator.Decision
	Transcript []orchestrator.TranscriptEntry
}

// ProposalSource produces proposals. Implementations may be static
// tables, models, or anything else; the generator only sees this.
type ProposalSource interface {
	Generate(ctx context.Context, in GenerateInput) (orchestrator.Proposal, error)
}

// EvaluateInput is the context an evaluator passes to its source.
type EvaluateInput struct {
	Role       string
	Decisions  map[string]orchestrator.Decision
	Transcript []orchestrator.TranscriptEntry
}

// Evaluation is a source's verdict on a proposal.
type Evaluation struct {
	Action orchestrator.Action
	Score  *float64
	Note   string
}

// EvaluationSource judges proposals.
type EvaluationSource interface {
	Evaluate(ctx context.Context, p orchestrator.Proposal, in EvaluateInput) (Evaluation, error)
}

// ProposalSourceFunc adapts a function to ProposalSource.
type ProposalSourceFunc func(ctx context.Context, in GenerateInput) (orchestrator.Proposal, error)

func (f ProposalSourceFunc) Generate(ctx context.Context, in GenerateInput) (orchestrator.Proposal, error) {
	return f(ctx, in)
}

// EvaluationSourceFunc adapts a function to EvaluationSource.
type EvaluationSourceFunc func(ctx context.Context, p orchestrator.Proposal, in EvaluateInput) (Evaluation, error)

func (f EvaluationSourceFunc) Evaluate(ctx context.Context, p orchestrator.Proposal, in EvaluateInput) (Evaluation, error) {
	return f(ctx, p, in)
}

func scorePtr(v float64) *float64 { return &v }
