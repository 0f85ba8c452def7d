package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/nidhogg/nuka-council/internal/orchestrator"
	"github.com/nidhogg/nuka-council/internal/provider"
	"go.uber.org/zap"
)

// Chatter is the slice of provider.Router the LLM sources need.
type Chatter interface {
	Route(ctx context.Context, agent string, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// ideaKind maps a random draw to the flavor of idea requested, so a run
// sees a mix of good and bad proposals.
func ideaKind(draw float64) string {
	switch {
	case draw < 0.3:
		return "practical and budget-friendly"
	case draw < 0.6:
		return "creative but expensive/complex"
	default:
		return "unrealistic or inappropriate"
	}
}

func history(entries []orchestrator.TranscriptEntry) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nPrevious conversation:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%s: %s\n", e.Role, e.Content)
	}
	return b.String()
}

// LLMProposalSource asks a model for one new idea per call.
type LLMProposalSource struct {
	chat    Chatter
	persona Persona
	chance  Chance
	logger  *zap.Logger
}

// NewLLMProposalSource creates a model-backed proposal source.
func NewLLMProposalSource(chat Chatter, persona Persona, chance Chance, logger *zap.Logger) *LLMProposalSource {
	if chance == nil {
		chance = RandomChance(nil)
	}
	return &LLMProposalSource{chat: chat, persona: persona, chance: chance, logger: logger}
}

// Generate implements ProposalSource.
func (s *LLMProposalSource) Generate(ctx context.Context, in GenerateInput) (orchestrator.Proposal, error) {
	kind := ideaKind(s.chance())
	prompt := fmt.Sprintf(`Propose ONE NEW and DIFFERENT idea to improve school (don't repeat previous ideas).%s

IMPORTANT: Generate a %s idea this time.

Rules:
- Keep it short (1 sentence)
- Make it DIFFERENT from any previous ideas in history
- No explanations

Return JSON only:
{"idea": "<string>"}`, history(in.Transcript), kind)

	var reply struct {
		Idea string `json:"idea"`
	}
	if err := askJSON(ctx, s.chat, s.persona, in.Role, prompt, &reply); err != nil {
		return orchestrator.Proposal{}, err
	}
	if strings.TrimSpace(reply.Idea) == "" {
		return orchestrator.Proposal{}, errors.New("model returned an empty idea")
	}
	s.logger.Debug("idea generated", zap.String("kind", kind), zap.String("idea", reply.Idea))
	return orchestrator.Proposal{Text: strings.TrimSpace(reply.Idea)}, nil
}

// Rubric tells an LLM evaluator which JSON field to ask for and how each
// allowed value maps onto an action.
type Rubric struct {
	Field       string
	Instruction string
	Verdicts    map[string]orchestrator.Action
}

// TeacherRubric asks for {"assessment": "acceptable" | "needs_revision"}.
func TeacherRubric() Rubric {
	return Rubric{
		Field:       "assessment",
		Instruction: "Evaluate the following idea ONLY for learning value.",
		Verdicts: map[string]orchestrator.Action{
			"acceptable":     orchestrator.ActionForward,
			"needs_revision": orchestrator.ActionRevise,
		},
	}
}

// PrincipalRubric asks for {"feasibility": "feasible" | "not_feasible"}.
func PrincipalRubric() Rubric {
	return Rubric{
		Field:       "feasibility",
		Instruction: "Judge whether the idea is feasible considering school policy, budget and practicality.",
		Verdicts: map[string]orchestrator.Action{
			"feasible":     orchestrator.ActionApprove,
			"not_feasible": orchestrator.ActionReject,
		},
	}
}

func (r Rubric) options() string {
	opts := make([]string, 0, len(r.Verdicts))
	for k := range r.Verdicts {
		opts = append(opts, fmt.Sprintf("%q", k))
	}
	// map order is random; keep the prompt stable
	slices.Sort(opts)
	return strings.Join(opts, " | ")
}

// LLMEvaluationSource asks a model to grade a proposal against a rubric.
type LLMEvaluationSource struct {
	chat    Chatter
	persona Persona
	rubric  Rubric
	logger  *zap.Logger
}

// NewLLMEvaluationSource creates a model-backed evaluator source.
func NewLLMEvaluationSource(chat Chatter, persona Persona, rubric Rubric, logger *zap.Logger) *LLMEvaluationSource {
	return &LLMEvaluationSource{chat: chat, persona: persona, rubric: rubric, logger: logger}
}

// Evaluate implements EvaluationSource. A value outside the rubric is
// passed through as an unrecognized action, which ends the run.
func (s *LLMEvaluationSource) Evaluate(ctx context.Context, p orchestrator.Proposal, in EvaluateInput) (Evaluation, error) {
	prompt := fmt.Sprintf(`%s%s

Idea: %q

Return JSON only:
{"%s": %s, "reason": "<one short sentence>"}`,
		s.rubric.Instruction, history(in.Transcript), p.Text, s.rubric.Field, s.rubric.options())

	var reply map[string]any
	if err := askJSON(ctx, s.chat, s.persona, in.Role, prompt, &reply); err != nil {
		return Evaluation{}, err
	}
	raw, _ := reply[s.rubric.Field].(string)
	raw = strings.ToLower(strings.TrimSpace(raw))
	action, ok := s.rubric.Verdicts[raw]
	if !ok {
		s.logger.Warn("model answered outside rubric",
			zap.String("agent", in.Role),
			zap.String("field", s.rubric.Field),
			zap.String("value", raw))
		action = orchestrator.ParseAction(raw)
	}
	note, _ := reply["reason"].(string)
	if note == "" {
		note = raw
	}
	return Evaluation{Action: action, Note: note}, nil
}

func askJSON(ctx context.Context, chat Chatter, persona Persona, agent, prompt string, v any) error {
	req := &provider.ChatRequest{
		Model:       persona.Model,
		Temperature: persona.Temperature,
		MaxTokens:   persona.MaxTokens,
		Messages:    []provider.Message{provider.System(persona.SystemPrompt), provider.User(prompt)},
	}
	resp, err := chat.Route(ctx, agent, req)
	if err != nil {
		return fmt.Errorf("ask %s: %w", agent, err)
	}
	if err := provider.DecodeJSON(resp.Content, v); err != nil {
		return fmt.Errorf("ask %s: %w", agent, err)
	}
	return nil
}
