package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-council/internal/orchestrator"
	"go.uber.org/zap"
)

// Generator produces a fresh proposal on every invocation and hands it
// to the first evaluator.
type Generator struct {
	name    string
	source  ProposalSource
	retries int
	logger  *zap.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithRetries lets the generator call its source up to n more times when
// it fails. The engine itself never retries.
func WithRetries(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.retries = n
		}
	}
}

// NewGenerator creates a generator agent.
func NewGenerator(name string, source ProposalSource, logger *zap.Logger, opts ...GeneratorOption) *Generator {
	g := &Generator{name: name, source: source, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) Name() string { return g.name }

// Handle asks the source for a proposal, replaces the current one and
// clears decisions made about it.
func (g *Generator) Handle(ctx context.Context, s orchestrator.State) (orchestrator.State, error) {
	in := GenerateInput{
		ThreadID:   s.ThreadID,
		Role:       g.name,
		Attempt:    s.Attempts + 1,
		Previous:   s.Proposal,
		Transcript: s.Transcript,
	}
	for _, role := range s.Roles() {
		if role != g.name {
			in.Feedback = append(in.Feedback, s.Decisions[role])
		}
	}

	var (
		p   orchestrator.Proposal
		err error
	)
	for try := 0; try <= g.retries; try++ {
		p, err = g.source.Generate(ctx, in)
		if err == nil || ctx.Err() != nil {
			break
		}
		g.logger.Warn("proposal source failed",
			zap.String("agent", g.name),
			zap.Int("try", try+1),
			zap.Error(err))
	}
	if err != nil {
		return s, fmt.Errorf("%s generate: %w", g.name, err)
	}

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.Author = g.name
	p.Revision = 1
	if s.Proposal != nil {
		p.Revision = s.Proposal.Revision + 1
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	g.logger.Info("proposal submitted",
		zap.String("agent", g.name),
		zap.Int("revision", p.Revision),
		zap.String("text", p.Text))

	s = s.WithProposal(p).Say(g.name, p.Text)
	return s.Decide(orchestrator.Decision{
		Role:   g.name,
		Action: orchestrator.ActionForward,
		Note:   fmt.Sprintf("revision %d", p.Revision),
	}), nil
}
