package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrContractViolation means an agent was invoked in a state it cannot
	// act on, e.g. an evaluator with no proposal to evaluate.
	ErrContractViolation = errors.New("contract violation")
	// ErrStepBudgetExceeded is matched by *StepBudgetError.
	ErrStepBudgetExceeded = errors.New("step budget exceeded")
	// ErrUnknownAgent means the router named an agent that is not registered.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrSequenceConsumed is yielded when a step sequence is iterated twice.
	ErrSequenceConsumed = errors.New("step sequence already consumed")
	// ErrCheckpointNotFound is returned by checkpointers for unknown threads.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrRunFinished is returned when resuming a thread that already ended.
	ErrRunFinished = errors.New("run already finished")
)

// StepBudgetError aborts a run that took more steps than the engine allows.
// Trace holds every step taken before the abort.
type StepBudgetError struct {
	Limit int
	Trace []Step
}

func (e *StepBudgetError) Error() string {
	last := "none"
	if n := len(e.Trace); n > 0 {
		last = e.Trace[n-1].Agent
	}
	return fmt.Sprintf("step budget exceeded: %d steps (last agent %s)", e.Limit, last)
}

func (e *StepBudgetError) Is(target error) bool { return target == ErrStepBudgetExceeded }

// ContractViolation wraps ErrContractViolation with the offending agent.
func ContractViolation(agent, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", agent, ErrContractViolation, fmt.Sprintf(format, args...))
}
