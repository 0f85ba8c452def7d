package agent

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/nidhogg/nuka-council/internal/orchestrator"
)

// Strategy is an injected decision function for an approver.
type Strategy func(p orchestrator.Proposal) Evaluation

// Chance returns a number in [0, 1). Randomized strategies draw from it
// so tests can substitute a fixed sequence.
type Chance func() float64

// RandomChance wraps rng as a Chance safe for concurrent use.
func RandomChance(rng *rand.Rand) Chance {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	var mu sync.Mutex
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return rng.Float64()
	}
}

// FixedChance replays values in order and then repeats the last one.
func FixedChance(values ...float64) Chance {
	var (
		mu sync.Mutex
		n  int
	)
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		if len(values) == 0 {
			return 0
		}
		v := values[min(n, len(values)-1)]
		n++
		return v
	}
}

// ManagerStrategy auto-approves low priority work, approves medium
// priority work 80% of the time and escalates everything else.
func ManagerStrategy(chance Chance) Strategy {
	return func(p orchestrator.Proposal) Evaluation {
		switch p.Priority {
		case orchestrator.PriorityLow:
			return Evaluation{Action: orchestrator.ActionApprove, Note: "Manager auto-approved (low priority)"}
		case orchestrator.PriorityMedium:
			if chance() < 0.8 {
				return Evaluation{Action: orchestrator.ActionApprove, Note: "Manager approved"}
			}
			return Evaluation{Action: orchestrator.ActionRevise, Note: "Manager requested revision"}
		default:
			return Evaluation{Action: orchestrator.ActionEscalate, Note: "Escalating to director (high priority)"}
		}
	}
}

// DirectorStrategy approves 60% of the time and escalates the rest.
func DirectorStrategy(chance Chance) Strategy {
	return func(orchestrator.Proposal) Evaluation {
		if chance() < 0.6 {
			return Evaluation{Action: orchestrator.ActionApprove, Note: "Director approved"}
		}
		return Evaluation{Action: orchestrator.ActionEscalate, Note: "Escalating to CEO"}
	}
}

// CEOStrategy approves 70% of the time and rejects the rest.
func CEOStrategy(chance Chance) Strategy {
	return func(orchestrator.Proposal) Evaluation {
		if chance() < 0.7 {
			return Evaluation{Action: orchestrator.ActionApprove, Note: "CEO approved"}
		}
		return Evaluation{Action: orchestrator.ActionReject, Note: "CEO rejected"}
	}
}

// StrategySource lets a Strategy drive a plain Evaluator.
func StrategySource(s Strategy) EvaluationSource {
	return EvaluationSourceFunc(func(_ context.Context, p orchestrator.Proposal, _ EvaluateInput) (Evaluation, error) {
		return s(p), nil
	})
}
