package orchestrator

import (
	"errors"
	"fmt"
	"slices"
)

// DefaultMaxAttempts bounds revision rounds when none is configured.
const DefaultMaxAttempts = 3

// Hierarchy is the chain of agents a proposal travels through: one
// generator followed by evaluators in escalation order.
type Hierarchy struct {
	Generator  string   `json:"generator"`
	Evaluators []string `json:"evaluators"`
}

// Agents returns every agent name in hierarchy order.
func (h Hierarchy) Agents() []string {
	return append([]string{h.Generator}, h.Evaluators...)
}

// Depth is the number of evaluator levels.
func (h Hierarchy) Depth() int { return len(h.Evaluators) }

// Validate checks that the hierarchy names a generator and that no agent
// appears twice.
func (h Hierarchy) Validate() error {
	if h.Generator == "" {
		return errors.New("hierarchy has no generator")
	}
	seen := map[string]bool{}
	for _, name := range h.Agents() {
		if name == "" || name == Terminal {
			return fmt.Errorf("invalid agent name %q", name)
		}
		if seen[name] {
			return fmt.Errorf("agent %q appears twice in hierarchy", name)
		}
		seen[name] = true
	}
	return nil
}

type hop int

const (
	hopTerminal hop = iota
	hopGenerator
	hopNextEvaluator
)

// transitions is the routing table keyed by decision action.
var transitions = map[Action]hop{
	ActionApprove:  hopTerminal,
	ActionStop:     hopTerminal,
	ActionReject:   hopGenerator,
	ActionRevise:   hopGenerator,
	ActionForward:  hopNextEvaluator,
	ActionEscalate: hopNextEvaluator,
}

// Router maps a state to the next agent. It is a pure function of the
// latest decision, the attempt counter and the hierarchy.
type Router struct {
	hierarchy   Hierarchy
	maxAttempts int
}

// NewRouter validates h and returns a router. maxAttempts <= 0 selects
// DefaultMaxAttempts.
func NewRouter(h Hierarchy, maxAttempts int) (*Router, error) {
	if err := h.Validate(); err != nil {
		return nil, fmt.Errorf("new router: %w", err)
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	h.Evaluators = slices.Clone(h.Evaluators)
	return &Router{hierarchy: h, maxAttempts: maxAttempts}, nil
}

// Hierarchy returns the router's hierarchy.
func (r *Router) Hierarchy() Hierarchy { return r.hierarchy }

// MaxAttempts returns the attempt ceiling.
func (r *Router) MaxAttempts() int { return r.maxAttempts }

// Route returns the next agent name or Terminal.
func (r *Router) Route(s State) string {
	next, _ := r.Explain(s)
	return next
}

// Explain is Route plus the rule that fired, for logs.
func (r *Router) Explain(s State) (next, rule string) {
	d := s.LastDecision
	if d != nil && d.Final && d.Role != r.hierarchy.Generator {
		return r.hierarchy.Generator, string(d.Action) + " verdict returns to generator"
	}
	if s.Attempts >= r.maxAttempts {
		return Terminal, "max attempts reached"
	}
	if d == nil {
		return r.hierarchy.Generator, "no decision yet"
	}
	h, ok := transitions[d.Action]
	if !ok {
		return Terminal, fmt.Sprintf("unrecognized action %q", d.Action)
	}
	switch h {
	case hopGenerator:
		return r.hierarchy.Generator, string(d.Action) + " returns to generator"
	case hopNextEvaluator:
		if next := r.above(d.Role); next != "" {
			return next, string(d.Action) + " to next level"
		}
		return Terminal, fmt.Sprintf("no level above %q", d.Role)
	default:
		return Terminal, string(d.Action)
	}
}

// above returns the evaluator one level above role, or "" at the top.
func (r *Router) above(role string) string {
	if role == r.hierarchy.Generator {
		if len(r.hierarchy.Evaluators) == 0 {
			return ""
		}
		return r.hierarchy.Evaluators[0]
	}
	i := slices.Index(r.hierarchy.Evaluators, role)
	if i < 0 || i+1 >= len(r.hierarchy.Evaluators) {
		return ""
	}
	return r.hierarchy.Evaluators[i+1]
}
