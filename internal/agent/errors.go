package agent

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyPlan     = errors.New("model returned an empty plan")
	ErrEmptyAnswer   = errors.New("model returned an empty answer")
	ErrEmptyQuestion = errors.New("question is empty")
	ErrCacheClosed   = errors.New("agent cache is shut down")
)

// UpstreamCallError reports a failed or timed out call to an external
// service ("model" or "search").
type UpstreamCallError struct {
	Service string
	Err     error
}

func (e *UpstreamCallError) Error() string {
	return fmt.Sprintf("%s call failed: %v", e.Service, e.Err)
}

func (e *UpstreamCallError) Unwrap() error { return e.Err }

// PlanGenerationError is returned when no plan could be produced. Callers are
// expected to degrade to showing no plan.
type PlanGenerationError struct {
	Err error
}

func (e *PlanGenerationError) Error() string {
	return fmt.Sprintf("plan generation failed: %v", e.Err)
}

func (e *PlanGenerationError) Unwrap() error { return e.Err }

// AgentExecutionError is returned when a reasoning run fails. The session
// history is left as it was before the run.
type AgentExecutionError struct {
	Iterations int
	Err        error
}

func (e *AgentExecutionError) Error() string {
	return fmt.Sprintf("agent execution failed after %d iteration(s): %v", e.Iterations, e.Err)
}

func (e *AgentExecutionError) Unwrap() error { return e.Err }
