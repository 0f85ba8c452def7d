package agent

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/nidhogg/nuka-council/internal/orchestrator"
)

// SchoolIdeas is the default suggestion table for the school workflow.
var SchoolIdeas = []string{
	"Create a study schedule to manage time effectively.",
	"Join a study group to enhance learning through collaboration.",
	"Use flashcards for memorizing key concepts.",
	"Take regular breaks during study sessions to improve focus.",
	"Utilize online resources and tutorials for difficult subjects.",
	"We should organize a science fair",
	"Lets cancel homework forever",
	"We need a new sports ground",
	"Set school timing to 11am",
}

// StaticSource draws proposals from a fixed table with an injected random
// source, so tests can fix the sequence.
type StaticSource struct {
	mu    sync.Mutex
	ideas []string
	rng   *rand.Rand
}

// NewStaticSource creates a table-backed source. A nil rng is seeded
// randomly.
func NewStaticSource(ideas []string, rng *rand.Rand) *StaticSource {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &StaticSource{ideas: ideas, rng: rng}
}

// Generate implements ProposalSource.
func (s *StaticSource) Generate(_ context.Context, _ GenerateInput) (orchestrator.Proposal, error) {
	if len(s.ideas) == 0 {
		return orchestrator.Proposal{}, errors.New("static source: no ideas")
	}
	s.mu.Lock()
	i := s.rng.IntN(len(s.ideas))
	s.mu.Unlock()
	return orchestrator.Proposal{Text: s.ideas[i]}, nil
}

// Sequence returns a source that yields ideas in order and then repeats
// the last one. Useful for scripted demos.
func Sequence(ideas ...string) ProposalSource {
	var (
		mu sync.Mutex
		n  int
	)
	return ProposalSourceFunc(func(context.Context, GenerateInput) (orchestrator.Proposal, error) {
		if len(ideas) == 0 {
			return orchestrator.Proposal{}, errors.New("sequence source: no ideas")
		}
		mu.Lock()
		defer mu.Unlock()
		idea := ideas[min(n, len(ideas)-1)]
		n++
		return orchestrator.Proposal{Text: idea}, nil
	})
}
