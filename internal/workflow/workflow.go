// Package workflow assembles the built-in agent hierarchies into engines.
package workflow

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/nidhogg/nuka-council/internal/agent"
	"github.com/nidhogg/nuka-council/internal/orchestrator"
	"go.uber.org/zap"
)

// Preset names.
const (
	School    = "school"
	SchoolLLM = "school-llm"
	Office    = "office"
)

var (
	// ErrUnknownWorkflow is returned for a name with no preset.
	ErrUnknownWorkflow = errors.New("unknown workflow")
	// ErrNoChat is returned when an LLM-backed preset has no provider.
	ErrNoChat = errors.New("workflow needs an LLM provider")
)

// Options tune a preset. Zero values keep the preset defaults.
type Options struct {
	MaxAttempts int
	MaxSteps    int
	StepTimeout time.Duration
	// Policies override the keyword policy of the named role.
	Policies   map[string]agent.KeywordPolicy
	ProfileDir string
	// Seed fixes the random draws of a preset. Zero seeds randomly.
	Seed    uint64
	Retries int
	// Task is submitted by the office requester.
	Task *agent.Task
}

// Novelty wires the near-duplicate filter in front of generators.
type Novelty struct {
	Embedder  agent.Embedder
	Index     agent.VectorIndex
	Threshold float32
	MaxDraws  int
}

// Deps are the collaborators presets may use.
type Deps struct {
	Logger       *zap.Logger
	Chat         agent.Chatter
	Recorder     orchestrator.Recorder
	Checkpointer orchestrator.Checkpointer
	Novelty      *Novelty
}

// Preset describes one built-in workflow.
type Preset struct {
	Name               string                 `json:"name"`
	Description        string                 `json:"description"`
	Hierarchy          orchestrator.Hierarchy `json:"hierarchy"`
	DefaultMaxAttempts int                    `json:"default_max_attempts"`

	agents func(opts Options, deps Deps, rng *rand.Rand) ([]orchestrator.Agent, error)
}

var presets = []Preset{
	{
		Name:               School,
		Description:        "Student ideas reviewed by a teacher and a principal with keyword scoring.",
		Hierarchy:          orchestrator.Hierarchy{Generator: "student", Evaluators: []string{"teacher", "principal"}},
		DefaultMaxAttempts: 10,
		agents:             schoolAgents,
	},
	{
		Name:               SchoolLLM,
		Description:        "Student, teacher and principal played by a language model.",
		Hierarchy:          orchestrator.Hierarchy{Generator: "student", Evaluators: []string{"teacher", "principal"}},
		DefaultMaxAttempts: 3,
		agents:             schoolLLMAgents,
	},
	{
		Name:               Office,
		Description:        "An employee request escalating through manager, director and CEO over a message bus.",
		Hierarchy:          orchestrator.Hierarchy{Generator: "employee", Evaluators: []string{"manager", "director", "ceo"}},
		DefaultMaxAttempts: 3,
		agents:             officeAgents,
	},
}

// Presets lists the built-in workflows.
func Presets() []Preset {
	return append([]Preset(nil), presets...)
}

// Lookup finds a preset by name.
func Lookup(name string) (Preset, error) {
	for _, p := range presets {
		if p.Name == name {
			return p, nil
		}
	}
	return Preset{}, fmt.Errorf("%w: %q", ErrUnknownWorkflow, name)
}

// Build assembles the engine for the named preset.
func Build(name string, opts Options, deps Deps) (*orchestrator.Engine, error) {
	p, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = p.DefaultMaxAttempts
	}
	router, err := orchestrator.NewRouter(p.Hierarchy, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", name, err)
	}
	agents, err := p.agents(opts, deps, newRand(opts.Seed))
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", name, err)
	}

	engineOpts := []orchestrator.Option{orchestrator.WithWorkflow(name)}
	if deps.Recorder != nil {
		engineOpts = append(engineOpts, orchestrator.WithRecorder(deps.Recorder))
	}
	if deps.Checkpointer != nil {
		engineOpts = append(engineOpts, orchestrator.WithCheckpointer(deps.Checkpointer))
	}
	if opts.MaxSteps > 0 {
		engineOpts = append(engineOpts, orchestrator.WithMaxSteps(opts.MaxSteps))
	}
	if opts.StepTimeout > 0 {
		engineOpts = append(engineOpts, orchestrator.WithStepTimeout(opts.StepTimeout))
	}
	return orchestrator.NewEngine(router, agents, deps.Logger.Named(name), engineOpts...)
}

func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func policy(opts Options, role string, fallback agent.KeywordPolicy) agent.KeywordPolicy {
	if p, ok := opts.Policies[role]; ok {
		return p
	}
	return fallback
}

func withNovelty(src agent.ProposalSource, deps Deps) agent.ProposalSource {
	n := deps.Novelty
	if n == nil || n.Embedder == nil || n.Index == nil {
		return src
	}
	return agent.NewNoveltyFilter(src, n.Embedder, n.Index, n.Threshold, n.MaxDraws, deps.Logger.Named("novelty"))
}

func schoolAgents(opts Options, deps Deps, rng *rand.Rand) ([]orchestrator.Agent, error) {
	log := deps.Logger
	src := withNovelty(agent.NewStaticSource(agent.SchoolIdeas, rng), deps)
	return []orchestrator.Agent{
		agent.NewGenerator("student", src, log, agent.WithRetries(opts.Retries)),
		agent.NewEvaluator("teacher", policy(opts, "teacher", agent.TeacherPolicy()), log),
		agent.NewEvaluator("principal", policy(opts, "principal", agent.PrincipalPolicy()), log),
	}, nil
}

func schoolLLMAgents(opts Options, deps Deps, rng *rand.Rand) ([]orchestrator.Agent, error) {
	if deps.Chat == nil {
		return nil, ErrNoChat
	}
	log := deps.Logger
	student := agent.StudentPersona().WithProfile(agent.LoadProfile(opts.ProfileDir, "student"))
	teacher := agent.TeacherPersona().WithProfile(agent.LoadProfile(opts.ProfileDir, "teacher"))
	principal := agent.PrincipalPersona().WithProfile(agent.LoadProfile(opts.ProfileDir, "principal"))

	retries := opts.Retries
	if retries == 0 {
		retries = 1
	}
	src := withNovelty(agent.NewLLMProposalSource(deps.Chat, student, agent.RandomChance(rng), log), deps)
	return []orchestrator.Agent{
		agent.NewGenerator("student", src, log, agent.WithRetries(retries)),
		agent.NewEvaluator("teacher", agent.NewLLMEvaluationSource(deps.Chat, teacher, agent.TeacherRubric(), log), log),
		agent.NewEvaluator("principal", agent.NewLLMEvaluationSource(deps.Chat, principal, agent.PrincipalRubric(), log), log),
	}, nil
}

func officeAgents(opts Options, deps Deps, rng *rand.Rand) ([]orchestrator.Agent, error) {
	log := deps.Logger
	task := agent.DefaultTask
	if opts.Task != nil {
		task = *opts.Task
		if task.Priority == "" {
			task.Priority = orchestrator.PriorityMedium
		}
	}
	chance := agent.RandomChance(rng)
	return []orchestrator.Agent{
		agent.NewRequester("employee", "manager", task, log),
		agent.NewApprover("manager", "employee", "director", agent.ManagerStrategy(chance), log),
		agent.NewApprover("director", "employee", "ceo", agent.DirectorStrategy(chance), log),
		agent.NewApprover("ceo", "employee", "", agent.CEOStrategy(chance), log),
	}, nil
}
