package provider

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// ErrNoProvider is returned when no provider is bound and no default exists.
var ErrNoProvider = errors.New("no provider available")

// Router holds the configured providers and decides which one answers for
// each agent. A failing provider is followed by the agent's fallback chain.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
	bindings  map[string]string   // agent name -> provider ID
	fallbacks map[string][]string // agent name -> fallback provider IDs
	defaultID string
	logger    *zap.Logger
}

// NewRouter creates an empty provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		fallbacks: make(map[string][]string),
		logger:    logger,
	}
}

// FromConfig builds a router with one provider per config entry. The
// first entry becomes the default.
func FromConfig(cfgs []ProviderConfig, logger *zap.Logger) (*Router, error) {
	r := NewRouter(logger)
	for _, c := range cfgs {
		p, err := New(c, logger)
		if err != nil {
			return nil, err
		}
		r.Register(p)
	}
	return r, nil
}

// New constructs a provider from its config by type.
func New(c ProviderConfig, logger *zap.Logger) (Provider, error) {
	switch c.Type {
	case "openai", "openai-compatible", "":
		return NewOpenAIProvider(c, logger), nil
	case "anthropic":
		return NewAnthropicProvider(c, logger), nil
	default:
		return nil, fmt.Errorf("provider %s: unsupported type %q", c.ID, c.Type)
	}
}

// Register adds p; the first provider registered becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaultID == "" {
		r.defaultID = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault changes the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultID = providerID
}

// Bind pins an agent to a provider.
func (r *Router) Bind(agent, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[agent] = providerID
}

// SetFallbacks sets the providers tried, in order, when the agent's
// primary provider fails.
func (r *Router) SetFallbacks(agent string, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[agent] = slices.Clone(providerIDs)
}

// Route sends req on behalf of agent.
func (r *Router) Route(ctx context.Context, agent string, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	chain := r.chain(agent)
	r.mu.RUnlock()

	if len(chain) == 0 {
		return nil, fmt.Errorf("route %s: %w", agent, ErrNoProvider)
	}
	var lastErr error
	for i, p := range chain {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if i+1 < len(chain) {
			r.logger.Warn("provider failed, trying next",
				zap.String("agent", agent),
				zap.String("provider", p.ID()),
				zap.Error(err))
		}
	}
	return nil, fmt.Errorf("all providers failed for agent %s: %w", agent, lastErr)
}

// chain returns the primary provider followed by the usable fallbacks.
// Callers hold r.mu.
func (r *Router) chain(agent string) []Provider {
	var out []Provider
	primary := r.defaultID
	if pid, ok := r.bindings[agent]; ok {
		if _, ok := r.providers[pid]; ok {
			primary = pid
		}
	}
	if p, ok := r.providers[primary]; ok {
		out = append(out, p)
	}
	for _, id := range r.fallbacks[agent] {
		if p, ok := r.providers[id]; ok && id != primary {
			out = append(out, p)
		}
	}
	return out
}

// Provider returns a provider by ID.
func (r *Router) Provider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// IDs lists registered provider IDs, sorted.
func (r *Router) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len reports how many providers are registered.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
