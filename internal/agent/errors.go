package agent

import (
	"errors"
	"fmt"
	"time"
)

// Roster errors
var (
	ErrEmptyRoster           = errors.New("roster is empty")
	ErrDuplicateCapability   = errors.New("duplicate capability name")
	ErrUnknownCapability     = errors.New("capability not found in roster")
	ErrMissingCapabilityName = errors.New("capability name is required")
)

// Execution errors
var (
	ErrNoReasoner    = errors.New("capability has no reasoner")
	ErrSwarmBusy     = errors.New("swarm is already running")
	ErrMaxToolRounds = errors.New("reasoning exceeded the maximum number of operation rounds")
	ErrNodePanicked  = errors.New("capability panicked during execution")
)

// ConfigurationError is raised before the loop starts: empty roster,
// unresolved start capability or missing credentials.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Bound names a budget of a swarm run.
type Bound string

const (
	BoundIterations Bound = "max_iterations"
	BoundHandoffs   Bound = "max_handoffs"
	BoundExecution  Bound = "execution_timeout"
	BoundNode       Bound = "node_timeout"
)

// BudgetExceededError reports which bound stopped a run.
type BudgetExceededError struct {
	Bound      Bound
	Limit      string
	Capability string
}

func (e *BudgetExceededError) Error() string {
	msg := fmt.Sprintf("budget exceeded: %s (%s)", e.Bound, e.Limit)
	if e.Capability != "" {
		msg += " while running " + e.Capability
	}
	return msg
}

func countExceeded(b Bound, limit int) *BudgetExceededError {
	return &BudgetExceededError{Bound: b, Limit: fmt.Sprintf("%d", limit)}
}

func timeExceeded(b Bound, limit time.Duration, capability string) *BudgetExceededError {
	return &BudgetExceededError{Bound: b, Limit: limit.String(), Capability: capability}
}

// ReasoningFailure wraps an error raised by a capability's reasoner.
type ReasoningFailure struct {
	Capability string
	Err        error
}

func (e *ReasoningFailure) Error() string {
	return fmt.Sprintf("%s: reasoning failed: %v", e.Capability, e.Err)
}

func (e *ReasoningFailure) Unwrap() error { return e.Err }

// OperationFailure is returned by a reasoner running under
// AbortOnOperationFailure when a bound operation fails.
type OperationFailure struct {
	Operation string
	Message   string
}

func (e *OperationFailure) Error() string {
	return fmt.Sprintf("operation %s failed: %s", e.Operation, e.Message)
}
