package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nidhogg/nuka-council/internal/orchestrator"
	"github.com/nidhogg/nuka-council/internal/provider"
	"github.com/nidhogg/nuka-council/internal/vectorstore"
	"go.uber.org/zap"
)

func TestKeywordPolicies(t *testing.T) {
	tests := []struct {
		idea      string
		teacher   float64
		principal float64
		tAction   orchestrator.Action
		pAction   orchestrator.Action
	}{
		{SchoolIdeas[0], 2, 3, orchestrator.ActionForward, orchestrator.ActionApprove},
		{SchoolIdeas[1], 3, 3, orchestrator.ActionForward, orchestrator.ActionApprove},
		{SchoolIdeas[2], 2, 3, orchestrator.ActionForward, orchestrator.ActionApprove},
		{SchoolIdeas[3], 2, 3, orchestrator.ActionForward, orchestrator.ActionApprove},
		{SchoolIdeas[4], 0, 3, orchestrator.ActionForward, orchestrator.ActionApprove},
		{SchoolIdeas[5], 1, 0, orchestrator.ActionForward, orchestrator.ActionReject},
		{SchoolIdeas[6], -2, -3, orchestrator.ActionRevise, orchestrator.ActionReject},
		{SchoolIdeas[7], 0, -2, orchestrator.ActionForward, orchestrator.ActionReject},
		{SchoolIdeas[8], -1, -2, orchestrator.ActionRevise, orchestrator.ActionReject},
	}
	teacher, principal := TeacherPolicy(), PrincipalPolicy()
	for _, tt := range tests {
		t.Run(tt.idea, func(t *testing.T) {
			p := orchestrator.Proposal{Text: tt.idea}
			te, _ := teacher.Evaluate(context.Background(), p, EvaluateInput{})
			pe, _ := principal.Evaluate(context.Background(), p, EvaluateInput{})
			if *te.Score != tt.teacher || te.Action != tt.tAction {
				t.Errorf("teacher = %v/%s, want %v/%s", *te.Score, te.Action, tt.teacher, tt.tAction)
			}
			if *pe.Score != tt.principal || pe.Action != tt.pAction {
				t.Errorf("principal = %v/%s, want %v/%s", *pe.Score, pe.Action, tt.principal, tt.pAction)
			}
		})
	}
}

func TestLoadPolicies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	yaml := `policies:
  teacher:
    threshold: 1
    pass: send_to_principal
    fail: revise
    rules:
      - terms: [robot]
        weight: 5
  principal:
    threshold: 0
    pass: approve
    fail: reject
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	policies, err := LoadPolicies(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tp := policies["teacher"]
	if tp.Pass != orchestrator.ActionForward {
		t.Errorf("alias not normalized: %q", tp.Pass)
	}
	if got := tp.Score("Replace teachers with ROBOTS"); got != 5 {
		t.Errorf("score = %v, want 5", got)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(bad, []byte("policies:\n  teacher:\n    pass: ponder\n    fail: revise\n"), 0o644)
	if _, err := LoadPolicies(bad); err == nil {
		t.Error("expected error for unknown pass action")
	}
}

func TestGeneratorAndEvaluator(t *testing.T) {
	gen := NewGenerator("student", Sequence("Lets cancel homework forever", "Use flashcards for memorizing key concepts."), zap.NewNop())
	teacher := NewEvaluator("teacher", TeacherPolicy(), zap.NewNop())
	ctx := context.Background()

	s := orchestrator.NewState("t1", "school")
	s, err := gen.Handle(ctx, s)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if s.Proposal == nil || s.Proposal.Revision != 1 || s.Proposal.Author != "student" || s.Proposal.ID == "" {
		t.Fatalf("proposal = %+v", s.Proposal)
	}
	s, err = teacher.Handle(ctx, s)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if s.LastDecision.Action != orchestrator.ActionRevise || *s.LastDecision.Score != -2 {
		t.Fatalf("decision = %+v", s.LastDecision)
	}

	s, err = gen.Handle(ctx, s)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if s.Proposal.Revision != 2 {
		t.Errorf("revision = %d, want 2", s.Proposal.Revision)
	}
	if _, ok := s.DecisionBy("teacher"); ok {
		t.Error("teacher decision should be cleared by a new proposal")
	}
	if len(s.Transcript) != 3 {
		t.Errorf("transcript = %d entries, want 3", len(s.Transcript))
	}
}

func TestEvaluatorWithoutProposal(t *testing.T) {
	e := NewEvaluator("teacher", TeacherPolicy(), zap.NewNop())
	_, err := e.Handle(context.Background(), orchestrator.NewState("t1", "school"))
	if !errors.Is(err, orchestrator.ErrContractViolation) {
		t.Errorf("err = %v, want contract violation", err)
	}
}

func TestGeneratorRetries(t *testing.T) {
	calls := 0
	flaky := ProposalSourceFunc(func(context.Context, GenerateInput) (orchestrator.Proposal, error) {
		calls++
		if calls < 3 {
			return orchestrator.Proposal{}, errors.New("bad json")
		}
		return orchestrator.Proposal{Text: "ok"}, nil
	})
	if _, err := NewGenerator("student", flaky, zap.NewNop()).Handle(context.Background(), orchestrator.State{}); err == nil {
		t.Fatal("expected failure without retries")
	}
	calls = 0
	s, err := NewGenerator("student", flaky, zap.NewNop(), WithRetries(2)).Handle(context.Background(), orchestrator.State{})
	if err != nil || s.Proposal.Text != "ok" || calls != 3 {
		t.Errorf("err=%v calls=%d", err, calls)
	}
}

func officeEngine(t *testing.T, task Task, manager, director, ceo Chance) *orchestrator.Engine {
	t.Helper()
	return officeEngineMax(t, 3, task, manager, director, ceo)
}

func officeEngineMax(t *testing.T, maxAttempts int, task Task, manager, director, ceo Chance) *orchestrator.Engine {
	t.Helper()
	log := zap.NewNop()
	h := orchestrator.Hierarchy{Generator: "employee", Evaluators: []string{"manager", "director", "ceo"}}
	r, err := orchestrator.NewRouter(h, maxAttempts)
	if err != nil {
		t.Fatal(err)
	}
	e, err := orchestrator.NewEngine(r, []orchestrator.Agent{
		NewRequester("employee", "manager", task, log),
		NewApprover("manager", "employee", "director", ManagerStrategy(manager), log),
		NewApprover("director", "employee", "ceo", DirectorStrategy(director), log),
		NewApprover("ceo", "employee", "", CEOStrategy(ceo), log),
	}, log)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestOfficeEscalationApprovedByCEO(t *testing.T) {
	e := officeEngine(t, DefaultTask, FixedChance(0), FixedChance(0.9), FixedChance(0.1))
	res, err := e.Invoke(context.Background(), "o1", orchestrator.State{})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	want := []string{"employee", "manager", "director", "ceo", "employee"}
	if len(res.Steps) != len(want) {
		t.Fatalf("steps = %d, want %d", len(res.Steps), len(want))
	}
	for i, s := range res.Steps {
		if s.Agent != want[i] {
			t.Fatalf("step %d agent = %q, want %q", i, s.Agent, want[i])
		}
	}
	if res.Outcome() != orchestrator.OutcomeApproved || res.State.Verdict == nil || res.State.Verdict.DecidedBy != "ceo" {
		t.Errorf("outcome=%q verdict=%+v", res.Outcome(), res.State.Verdict)
	}
	if got := res.State.Transcript[len(res.State.Transcript)-1]; got.Role != "employee" || !strings.HasPrefix(got.Content, "APPROVED by ceo") {
		t.Errorf("last transcript entry = %+v", got)
	}
	if len(res.State.Messages) != 0 {
		t.Errorf("unconsumed messages: %+v", res.State.Messages)
	}
}

func TestOfficeRejectionReachesEmployee(t *testing.T) {
	e := officeEngine(t, DefaultTask, FixedChance(0), FixedChance(0.9), FixedChance(0.95))
	res, err := e.Invoke(context.Background(), "o2", orchestrator.State{})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	last := res.Steps[len(res.Steps)-1]
	if last.Agent != "employee" || res.Outcome() != orchestrator.OutcomeRejected {
		t.Fatalf("last agent %q outcome %q, want employee/rejected", last.Agent, res.Outcome())
	}
	if v := res.State.Verdict; v == nil || v.Approved || v.DecidedBy != "ceo" || v.Note != "CEO rejected" {
		t.Errorf("verdict = %+v", v)
	}
	if len(res.State.Messages) != 0 {
		t.Errorf("unconsumed messages: %+v", res.State.Messages)
	}
}

func TestOfficeMediumPriorityRevision(t *testing.T) {
	task := Task{Title: "Order chairs", Priority: orchestrator.PriorityMedium}
	e := officeEngine(t, task, FixedChance(0.9, 0.1), FixedChance(0), FixedChance(0))
	res, err := e.Invoke(context.Background(), "o3", orchestrator.State{})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Outcome() != orchestrator.OutcomeApproved || res.State.Attempts != 1 {
		t.Errorf("outcome %q attempts %d, want approved after one revision", res.Outcome(), res.State.Attempts)
	}
	if res.State.Proposal.Revision != 2 {
		t.Errorf("revision = %d, want 2", res.State.Proposal.Revision)
	}
	if len(res.Steps) != 5 || res.Steps[4].Agent != "employee" {
		t.Errorf("steps = %d, want the employee to take the approval last", len(res.Steps))
	}
}

func TestOfficeFinalRejectionWithinLastAttempt(t *testing.T) {
	e := officeEngineMax(t, 1, DefaultTask, FixedChance(0), FixedChance(0.9), FixedChance(0.95))
	res, err := e.Invoke(context.Background(), "o5", orchestrator.State{})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Outcome() != orchestrator.OutcomeRejected || res.State.Attempts != 0 {
		t.Fatalf("outcome %q attempts %d, want rejected without spending an attempt", res.Outcome(), res.State.Attempts)
	}
	if v := res.State.Verdict; v == nil || v.Approved || v.DecidedBy != "ceo" {
		t.Errorf("verdict = %+v", v)
	}
	if len(res.State.Messages) != 0 {
		t.Errorf("unconsumed messages: %+v", res.State.Messages)
	}
}

func TestOfficeLowPriorityAutoApproved(t *testing.T) {
	task := Task{Title: "Buy pens", Priority: orchestrator.PriorityLow}
	e := officeEngine(t, task, FixedChance(0.99), FixedChance(0.99), FixedChance(0.99))
	res, err := e.Invoke(context.Background(), "o4", orchestrator.State{})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(res.Steps) != 3 || res.Outcome() != orchestrator.OutcomeApproved {
		t.Fatalf("steps %d outcome %q", len(res.Steps), res.Outcome())
	}
	if got := []string{res.Steps[0].Agent, res.Steps[1].Agent, res.Steps[2].Agent}; got[1] != "manager" || got[2] != "employee" {
		t.Errorf("agents = %v, want [employee manager employee]", got)
	}
	if v := res.State.Verdict; v == nil || !v.Approved || v.DecidedBy != "manager" {
		t.Errorf("verdict = %+v", v)
	}
	if len(res.State.Messages) != 0 {
		t.Errorf("unconsumed messages: %+v", res.State.Messages)
	}
}

func TestApproverSendsVerdictToRequester(t *testing.T) {
	a := NewApprover("manager", "employee", "director", ManagerStrategy(FixedChance(0)), zap.NewNop())
	s := orchestrator.NewState("t1", "office").WithProposal(orchestrator.Proposal{Title: "Buy pens", Priority: orchestrator.PriorityLow})
	s, err := a.Handle(context.Background(), s)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if d := s.LastDecision; d == nil || d.Action != orchestrator.ActionApprove || !d.Final {
		t.Fatalf("decision = %+v, want final approve", d)
	}
	if s.Verdict != nil {
		t.Errorf("verdict set by approver: %+v", s.Verdict)
	}
	inbox := s.Inbox("employee")
	if len(inbox) != 1 || inbox[0].Type != orchestrator.MessageApproval {
		t.Fatalf("employee inbox = %+v", inbox)
	}
	var p ApprovalPayload
	if err := orchestrator.DecodePayload(inbox[0], &p); err != nil || !p.Approved {
		t.Errorf("payload = %+v err = %v", p, err)
	}
}

func TestStrategySourceDrivesEvaluator(t *testing.T) {
	e := NewEvaluator("manager", StrategySource(ManagerStrategy(FixedChance(0.9))), zap.NewNop())
	cases := map[orchestrator.Priority]orchestrator.Action{
		orchestrator.PriorityLow:    orchestrator.ActionApprove,
		orchestrator.PriorityMedium: orchestrator.ActionRevise,
		orchestrator.PriorityHigh:   orchestrator.ActionEscalate,
	}
	for prio, want := range cases {
		s := orchestrator.NewState("t1", "office").WithProposal(orchestrator.Proposal{Title: "Buy pens", Priority: prio})
		s, err := e.Handle(context.Background(), s)
		if err != nil {
			t.Fatalf("%s: %v", prio, err)
		}
		if d := s.LastDecision; d == nil || d.Action != want || d.Role != "manager" {
			t.Errorf("%s: decision = %+v, want %s", prio, d, want)
		}
	}
}

func TestApproverWithoutRequest(t *testing.T) {
	a := NewApprover("manager", "employee", "", ManagerStrategy(FixedChance(0)), zap.NewNop())
	if _, err := a.Handle(context.Background(), orchestrator.State{}); !errors.Is(err, orchestrator.ErrContractViolation) {
		t.Errorf("err = %v, want contract violation", err)
	}
}

type fakeChatter struct {
	replies []string
	prompts []string
}

func (f *fakeChatter) Route(_ context.Context, _ string, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	f.prompts = append(f.prompts, req.Messages[len(req.Messages)-1].Content)
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return &provider.ChatResponse{Content: r}, nil
}

func TestLLMSources(t *testing.T) {
	chat := &fakeChatter{replies: []string{"```json\n{\"idea\": \"Weekly tutoring sessions\"}\n```"}}
	src := NewLLMProposalSource(chat, StudentPersona(), FixedChance(0.1), zap.NewNop())
	p, err := src.Generate(context.Background(), GenerateInput{Role: "student",
		Transcript: []orchestrator.TranscriptEntry{{Role: "student", Content: "Add water fountains"}}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if p.Text != "Weekly tutoring sessions" {
		t.Errorf("idea = %q", p.Text)
	}
	if prompt := chat.prompts[0]; !strings.Contains(prompt, "practical and budget-friendly") || !strings.Contains(prompt, "Add water fountains") {
		t.Errorf("prompt missing kind or history: %s", prompt)
	}

	cases := []struct {
		rubric Rubric
		reply  string
		want   orchestrator.Action
	}{
		{TeacherRubric(), `{"assessment": "acceptable"}`, orchestrator.ActionForward},
		{TeacherRubric(), `{"assessment": "needs_revision", "reason": "no learning value"}`, orchestrator.ActionRevise},
		{PrincipalRubric(), `{"feasibility": "feasible"}`, orchestrator.ActionApprove},
		{PrincipalRubric(), `{"feasibility": "not_feasible"}`, orchestrator.ActionReject},
		{PrincipalRubric(), `{"feasibility": "maybe"}`, orchestrator.Action("maybe")},
	}
	for _, c := range cases {
		ev, err := NewLLMEvaluationSource(&fakeChatter{replies: []string{c.reply}}, TeacherPersona(), c.rubric, zap.NewNop()).
			Evaluate(context.Background(), orchestrator.Proposal{Text: "x"}, EvaluateInput{Role: "r"})
		if err != nil {
			t.Fatalf("%s: %v", c.reply, err)
		}
		if ev.Action != c.want {
			t.Errorf("%s -> %q, want %q", c.reply, ev.Action, c.want)
		}
	}

	if _, err := NewLLMEvaluationSource(&fakeChatter{replies: []string{"I think it's fine"}}, TeacherPersona(), TeacherRubric(), zap.NewNop()).
		Evaluate(context.Background(), orchestrator.Proposal{Text: "x"}, EvaluateInput{}); err == nil {
		t.Error("expected error for non-JSON reply")
	}
}

type fakeEmbedder struct{}

// Embed maps each text to a vector keyed on its first byte, so texts
// sharing a first letter are treated as duplicates.
func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(t[0]), 1}
	}
	return out, nil
}

type fakeIndex struct {
	points map[string][]float32
	texts  map[string]string
}

func (f *fakeIndex) Nearest(_ context.Context, v []float32, _ map[string]string) (*vectorstore.SearchResult, error) {
	for id, p := range f.points {
		if p[0] == v[0] {
			return &vectorstore.SearchResult{ID: id, Score: 1, Payload: map[string]string{"text": f.texts[id]}}, nil
		}
	}
	return nil, nil
}

func (f *fakeIndex) Remember(_ context.Context, id string, v []float32, payload map[string]string) error {
	f.points[id] = v
	f.texts[id] = payload["text"]
	return nil
}

func TestNoveltyFilterRedrawsDuplicates(t *testing.T) {
	idx := &fakeIndex{points: map[string][]float32{}, texts: map[string]string{}}
	src := Sequence("study group", "study hall", "flashcards", "field trip")
	f := NewNoveltyFilter(src, fakeEmbedder{}, idx, 0.9, 3, zap.NewNop())
	in := GenerateInput{ThreadID: "t1", Role: "student"}

	first, err := f.Generate(context.Background(), in)
	if err != nil || first.Text != "study group" {
		t.Fatalf("first = %q, %v", first.Text, err)
	}
	second, err := f.Generate(context.Background(), in)
	if err != nil || second.Text != "flashcards" {
		t.Fatalf("second = %q, want flashcards after skipping duplicate, err %v", second.Text, err)
	}
	if len(idx.points) != 2 {
		t.Errorf("remembered %d proposals, want 2", len(idx.points))
	}
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	if got := LoadProfile(dir, "teacher"); got != "" {
		t.Errorf("missing profile = %q", got)
	}
	_ = os.MkdirAll(filepath.Join(dir, "teacher"), 0o755)
	_ = os.WriteFile(filepath.Join(dir, "teacher", "SOUL.md"), []byte("Strict but fair.\n"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "teacher", "RUBRIC.md"), []byte("Learning value only."), 0o644)
	got := LoadProfile(dir, "teacher")
	if got != "Strict but fair.\n\n---\n\nLearning value only." {
		t.Errorf("profile = %q", got)
	}
	if p := TeacherPersona().WithProfile(got); p.SystemPrompt != got {
		t.Error("profile not applied")
	}
}
