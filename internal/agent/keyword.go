package agent

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/nidhogg/nuka-council/internal/orchestrator"
	"gopkg.in/yaml.v3"
)

// KeywordRule adds Weight to the score once if any of Terms occurs in the
// proposal text (case-insensitive).
type KeywordRule struct {
	Terms  []string `yaml:"terms" json:"terms"`
	Weight float64  `yaml:"weight" json:"weight"`
}

// KeywordPolicy is a deterministic EvaluationSource: it sums rule weights
// and picks Pass when the score reaches Threshold, Fail otherwise.
type KeywordPolicy struct {
	Rules     []KeywordRule       `yaml:"rules" json:"rules"`
	Threshold float64             `yaml:"threshold" json:"threshold"`
	Pass      orchestrator.Action `yaml:"pass" json:"pass"`
	Fail      orchestrator.Action `yaml:"fail" json:"fail"`
	PassNote  string              `yaml:"pass_note" json:"pass_note,omitempty"`
	FailNote  string              `yaml:"fail_note" json:"fail_note,omitempty"`
}

// TeacherPolicy rewards ideas that support learning. A zero score still
// forwards.
func TeacherPolicy() KeywordPolicy {
	return KeywordPolicy{
		Rules: []KeywordRule{
			{Terms: []string{"study", "learn", "focus", "schedule", "flashcards"}, Weight: 2},
			{Terms: []string{"science fair", "group", "collaboration"}, Weight: 1},
			{Terms: []string{"cancel", "no homework"}, Weight: -2},
			{Terms: []string{"11am"}, Weight: -1},
		},
		Threshold: 0,
		Pass:      orchestrator.ActionForward,
		Fail:      orchestrator.ActionRevise,
		PassNote:  "The idea seems reasonable. Forwarding to principal.",
		FailNote:  "Please revise the idea. It may not support learning properly.",
	}
}

// PrincipalPolicy favors cheap academic improvements and penalizes costly
// or policy-breaking ones.
func PrincipalPolicy() KeywordPolicy {
	return KeywordPolicy{
		Rules: []KeywordRule{
			{Terms: []string{"schedule", "flashcards", "online resources", "study", "focus"}, Weight: 3},
			{Terms: []string{"science fair"}, Weight: 1},
			{Terms: []string{"science fair"}, Weight: -1},
			{Terms: []string{"sports ground"}, Weight: -2},
			{Terms: []string{"cancel homework"}, Weight: -3},
			{Terms: []string{"11am"}, Weight: -2},
		},
		Threshold: 1,
		Pass:      orchestrator.ActionApprove,
		Fail:      orchestrator.ActionReject,
		PassNote:  "Approved. This idea is beneficial and feasible.",
		FailNote:  "Rejected. This idea is not practical within school policies or budget.",
	}
}

// Score sums the weights of every matching rule.
func (p KeywordPolicy) Score(text string) float64 {
	text = strings.ToLower(text)
	var score float64
	for _, r := range p.Rules {
		for _, term := range r.Terms {
			if strings.Contains(text, strings.ToLower(term)) {
				score += r.Weight
				break
			}
		}
	}
	return score
}

// Evaluate implements EvaluationSource.
func (p KeywordPolicy) Evaluate(_ context.Context, prop orchestrator.Proposal, _ EvaluateInput) (Evaluation, error) {
	score := p.Score(prop.Title + " " + prop.Text)
	if score >= p.Threshold {
		return Evaluation{Action: p.Pass, Score: scorePtr(score), Note: p.PassNote}, nil
	}
	return Evaluation{Action: p.Fail, Score: scorePtr(score), Note: p.FailNote}, nil
}

// Validate checks that both outcomes are known actions.
func (p KeywordPolicy) Validate() error {
	if !p.Pass.Known() || !p.Fail.Known() {
		return fmt.Errorf("keyword policy: pass %q / fail %q must be known actions", p.Pass, p.Fail)
	}
	return nil
}

type policyFile struct {
	Policies map[string]KeywordPolicy `yaml:"policies"`
}

// LoadPolicies reads role-keyed keyword policies from a YAML file.
func LoadPolicies(path string) (map[string]KeywordPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policies %s: %w", path, err)
	}
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse policies %s: %w", path, err)
	}
	for role, p := range f.Policies {
		p.Pass = orchestrator.ParseAction(string(p.Pass))
		p.Fail = orchestrator.ParseAction(string(p.Fail))
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy %s: %w", role, err)
		}
		f.Policies[role] = p
	}
	return f.Policies, nil
}
