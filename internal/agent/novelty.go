package agent

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-council/internal/orchestrator"
	"github.com/nidhogg/nuka-council/internal/vectorstore"
	"go.uber.org/zap"
)

var errEmptyEmbedding = errors.New("empty embedding")

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex is the slice of vectorstore.Index the filter needs.
type VectorIndex interface {
	Nearest(ctx context.Context, vector []float32, match map[string]string) (*vectorstore.SearchResult, error)
	Remember(ctx context.Context, id string, vector []float32, payload map[string]string) error
}

// NoveltyFilter wraps a ProposalSource and redraws proposals that are too
// close to ones already made in the same thread. Index and embedding
// failures let the proposal through.
type NoveltyFilter struct {
	source    ProposalSource
	embedder  Embedder
	index     VectorIndex
	threshold float32
	maxDraws  int
	logger    *zap.Logger
}

// NewNoveltyFilter creates the filter. A proposal whose nearest neighbour
// scores at or above threshold is redrawn, up to maxDraws draws in total.
func NewNoveltyFilter(source ProposalSource, embedder Embedder, index VectorIndex, threshold float32, maxDraws int, logger *zap.Logger) *NoveltyFilter {
	if maxDraws < 1 {
		maxDraws = 3
	}
	return &NoveltyFilter{
		source:    source,
		embedder:  embedder,
		index:     index,
		threshold: threshold,
		maxDraws:  maxDraws,
		logger:    logger,
	}
}

// Generate implements ProposalSource.
func (f *NoveltyFilter) Generate(ctx context.Context, in GenerateInput) (orchestrator.Proposal, error) {
	scope := map[string]string{"thread": in.ThreadID}
	var (
		p   orchestrator.Proposal
		vec []float32
		err error
	)
	for draw := 1; draw <= f.maxDraws; draw++ {
		p, err = f.source.Generate(ctx, in)
		if err != nil {
			return p, err
		}
		vec, err = f.embed(ctx, p.Text)
		if err != nil {
			f.logger.Warn("novelty check skipped", zap.Error(err))
			return p, nil
		}
		hit, err := f.index.Nearest(ctx, vec, scope)
		if err != nil {
			f.logger.Warn("novelty check skipped", zap.Error(err))
			return p, nil
		}
		if hit == nil || hit.Score < f.threshold {
			break
		}
		f.logger.Info("near-duplicate proposal redrawn",
			zap.String("thread", in.ThreadID),
			zap.String("text", p.Text),
			zap.String("similar_to", hit.Payload["text"]),
			zap.Float32("score", hit.Score),
			zap.Int("draw", draw))
	}

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	payload := map[string]string{
		"thread":  in.ThreadID,
		"role":    in.Role,
		"text":    p.Text,
		"attempt": strconv.Itoa(in.Attempt),
	}
	if err := f.index.Remember(ctx, p.ID, vec, payload); err != nil {
		f.logger.Warn("remember proposal", zap.String("id", p.ID), zap.Error(err))
	}
	return p, nil
}

func (f *NoveltyFilter) embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, errEmptyEmbedding
	}
	return vecs[0], nil
}
