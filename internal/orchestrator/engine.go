package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultMaxSteps is the defensive ceiling on agent invocations per run.
	DefaultMaxSteps = 50
	// DefaultStepTimeout bounds a single agent invocation.
	DefaultStepTimeout = 60 * time.Second
)

// Engine drives agents through a workflow until the router returns
// Terminal. One engine can serve many runs; each run owns its state.
type Engine struct {
	workflow     string
	router       *Router
	agents       map[string]Agent
	recorder     Recorder
	checkpointer Checkpointer
	maxSteps     int
	stepTimeout  time.Duration
	logger       *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder attaches a step recorder.
func WithRecorder(r Recorder) Option { return func(e *Engine) { e.recorder = r } }

// WithCheckpointer enables persistence and Resume.
func WithCheckpointer(c Checkpointer) Option { return func(e *Engine) { e.checkpointer = c } }

// WithMaxSteps overrides DefaultMaxSteps.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithStepTimeout overrides DefaultStepTimeout. Zero disables the deadline.
func WithStepTimeout(d time.Duration) Option { return func(e *Engine) { e.stepTimeout = d } }

// WithWorkflow names the workflow in states, logs and checkpoints.
func WithWorkflow(name string) Option { return func(e *Engine) { e.workflow = name } }

// NewEngine wires agents to a router. Every agent in the router's
// hierarchy must be present.
func NewEngine(router *Router, agents []Agent, logger *zap.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		router:      router,
		agents:      make(map[string]Agent, len(agents)),
		maxSteps:    DefaultMaxSteps,
		stepTimeout: DefaultStepTimeout,
		logger:      logger,
	}
	for _, a := range agents {
		e.agents[a.Name()] = a
	}
	for _, name := range router.Hierarchy().Agents() {
		if _, ok := e.agents[name]; !ok {
			return nil, fmt.Errorf("new engine: %w: %q", ErrUnknownAgent, name)
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Workflow returns the configured workflow name.
func (e *Engine) Workflow() string { return e.workflow }

// Router returns the engine's router.
func (e *Engine) Router() *Router { return e.router }

// Run starts a new run from initial and returns its steps as a lazy
// sequence. Nothing happens until the sequence is iterated, and breaking
// out of the loop stops the run after the current step. The sequence
// can be iterated only once. An initial state the router already
// considers finished yields ErrRunFinished.
func (e *Engine) Run(ctx context.Context, threadID string, initial State) iter.Seq2[Step, error] {
	if threadID == "" {
		threadID = uuid.New().String()
	}
	st := initial.Clone()
	st.ThreadID = threadID
	if st.Workflow == "" {
		st.Workflow = e.workflow
	}
	if st.Outcome == "" {
		st.Outcome = OutcomePending
	}
	next, rule := e.router.Explain(st)
	if next == Terminal {
		err := fmt.Errorf("run %s: %w: %s", threadID, ErrRunFinished, rule)
		return func(yield func(Step, error) bool) { yield(Step{}, err) }
	}
	return e.run(ctx, st, next, 0)
}

// Resume continues a checkpointed run from its saved position.
func (e *Engine) Resume(ctx context.Context, threadID string) (iter.Seq2[Step, error], error) {
	if e.checkpointer == nil {
		return nil, errors.New("resume: no checkpointer configured")
	}
	cp, err := e.checkpointer.Load(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", threadID, err)
	}
	if cp.Finished() {
		return nil, fmt.Errorf("resume %s: %w", threadID, ErrRunFinished)
	}
	e.logger.Info("resuming run",
		zap.String("thread", threadID),
		zap.String("next", cp.Next),
		zap.Int("step", cp.Step))
	return e.run(ctx, cp.State, cp.Next, cp.Step), nil
}

// Invoke runs to completion and collects every step.
func (e *Engine) Invoke(ctx context.Context, threadID string, initial State) (*Result, error) {
	return Collect(e.Run(ctx, threadID, initial))
}

func (e *Engine) run(ctx context.Context, st State, next string, index int) iter.Seq2[Step, error] {
	var used atomic.Bool
	return func(yield func(Step, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(Step{}, ErrSequenceConsumed)
			return
		}
		var trace []Step
		for next != Terminal {
			if err := ctx.Err(); err != nil {
				yield(Step{}, fmt.Errorf("run %s: %w", st.ThreadID, err))
				return
			}
			if index >= e.maxSteps {
				e.logger.Error("step budget exceeded",
					zap.String("thread", st.ThreadID),
					zap.Int("limit", e.maxSteps))
				yield(Step{}, &StepBudgetError{Limit: e.maxSteps, Trace: trace})
				return
			}
			agent, ok := e.agents[next]
			if !ok {
				yield(Step{}, fmt.Errorf("step %d: %w: %q", index, ErrUnknownAgent, next))
				return
			}

			start := time.Now()
			out, err := e.invoke(ctx, agent, st)
			if err != nil {
				e.logger.Error("agent failed",
					zap.String("thread", st.ThreadID),
					zap.String("agent", next),
					zap.Error(err))
				yield(Step{}, fmt.Errorf("step %d %s: %w", index, next, err))
				return
			}
			out = e.settle(next, st, out)
			dest, rule := e.router.Explain(out)
			out.Next = dest
			if dest == Terminal {
				out.Outcome = e.outcome(out)
			}

			step := Step{
				Index:    index,
				ThreadID: out.ThreadID,
				Agent:    next,
				Next:     dest,
				State:    out,
				Duration: time.Since(start),
				At:       time.Now().UTC(),
			}
			e.logStep(step, rule)
			e.record(ctx, step)
			e.save(ctx, step)

			trace = append(trace, step)
			st, next = out, dest
			index++
			view := step
			view.State = out.Clone()
			if !yield(view, nil) {
				return
			}
		}
	}
}

func (e *Engine) invoke(ctx context.Context, a Agent, st State) (State, error) {
	if e.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
	}
	return a.Handle(ctx, st.Clone())
}

// settle applies the bookkeeping agents are not trusted with: identity
// fields are pinned and the attempt counter only moves forward, once per
// rejection or revision request by an evaluator. A final decision is a
// verdict, not a request for another attempt.
func (e *Engine) settle(agent string, prev, out State) State {
	out.ThreadID = prev.ThreadID
	out.Workflow = prev.Workflow
	out.Attempts = prev.Attempts
	out.Outcome = prev.Outcome
	d := out.LastDecision
	if d != nil && d.Role == agent && !d.Final && agent != e.router.Hierarchy().Generator {
		if d.Action == ActionRevise || d.Action == ActionReject {
			out.Attempts++
		}
	}
	return out
}

func (e *Engine) outcome(s State) Outcome {
	switch {
	case s.LastDecision != nil && s.LastDecision.Action == ActionApprove:
		return OutcomeApproved
	case s.Verdict != nil && s.Verdict.Approved:
		return OutcomeApproved
	case s.Verdict != nil:
		return OutcomeRejected
	case s.Attempts >= e.router.MaxAttempts():
		return OutcomeMaxAttempts
	default:
		return OutcomeStopped
	}
}

func (e *Engine) logStep(step Step, rule string) {
	fields := []zap.Field{
		zap.String("thread", step.ThreadID),
		zap.Int("step", step.Index),
		zap.String("agent", step.Agent),
		zap.String("next", step.Next),
		zap.String("rule", rule),
		zap.Int("attempts", step.State.Attempts),
	}
	if d := step.Decision(); d != nil {
		fields = append(fields, zap.String("action", string(d.Action)))
	}
	if step.Final() {
		fields = append(fields, zap.String("outcome", string(step.State.Outcome)))
	}
	e.logger.Info("step completed", fields...)
}

func (e *Engine) record(ctx context.Context, step Step) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Record(ctx, step); err != nil {
		e.logger.Warn("record step", zap.String("thread", step.ThreadID), zap.Error(err))
	}
}

func (e *Engine) save(ctx context.Context, step Step) {
	if e.checkpointer == nil {
		return
	}
	cp := Checkpoint{
		ThreadID: step.ThreadID,
		Workflow: step.State.Workflow,
		State:    step.State,
		Next:     step.Next,
		Step:     step.Index + 1,
		SavedAt:  step.At,
	}
	if err := e.checkpointer.Save(ctx, cp); err != nil {
		e.logger.Warn("save checkpoint", zap.String("thread", step.ThreadID), zap.Error(err))
	}
}

// Result is a drained run.
type Result struct {
	ThreadID string `json:"thread_id"`
	State    State  `json:"state"`
	Steps    []Step `json:"steps"`
}

// Outcome returns the final outcome of the run.
func (r *Result) Outcome() Outcome { return r.State.Outcome }

// Collect drains seq. On error the steps taken so far are returned with it.
func Collect(seq iter.Seq2[Step, error]) (*Result, error) {
	res := &Result{}
	for step, err := range seq {
		if err != nil {
			return res, err
		}
		res.ThreadID = step.ThreadID
		res.State = step.State
		res.Steps = append(res.Steps, step)
	}
	return res, nil
}
