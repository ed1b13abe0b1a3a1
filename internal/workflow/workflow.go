// Package workflow runs the fixed pipelines of the system: the five-stage
// orchestrator, the daily run and the proactive batch over every affected
// service. It also dispatches invocation payloads to them, to the swarm and
// to chat.
package workflow

import (
	"errors"
	"fmt"

	"github.com/MIK-RC/aws-aiops/internal/agent"
	"github.com/MIK-RC/aws-aiops/internal/analysis"
	"github.com/MIK-RC/aws-aiops/internal/integrations/storage"
	"github.com/MIK-RC/aws-aiops/internal/tools/builtin"
)

// CapabilityFactory builds named capabilities. *agent.Manager implements it.
type CapabilityFactory interface {
	NewCapability(name string) (*agent.Capability, error)
}

// Dependencies are the collaborators the pipelines call directly.
// Capabilities, when set, supplies the specialist ledgers the pipeline
// records its stage calls on.
type Dependencies struct {
	Logs         builtin.LogSource
	Tickets      builtin.TicketService
	Sink         storage.Sink
	Notifier     builtin.Notifier
	Analyzer     *analysis.Analyzer
	Capabilities CapabilityFactory
}

func (d Dependencies) analyzer() *analysis.Analyzer {
	if d.Analyzer == nil {
		return analysis.New(nil)
	}
	return d.Analyzer
}

// Stage names a step of the orchestrator pipeline.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageKnowledge Stage = "knowledge_check"
	StageAnalyze   Stage = "analyze"
	StageTickets   Stage = "tickets"
	StageReporting Stage = "report"
)

// StageError aborts a pipeline run.
type StageError struct {
	Stage   Stage
	Service string
	Err     error
}

func (e *StageError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("stage %s failed for %s: %v", e.Stage, e.Service, e.Err)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

var (
	ErrMissingTask    = errors.New("task is required")
	ErrMissingMessage = errors.New("message is required")
	ErrInvalidMode    = errors.New("mode must be one of swarm, pipeline, proactive, daily, chat")
	ErrNoChat         = errors.New("chat is not available")
)
