package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MIK-RC/aws-aiops/internal/llm"
	"github.com/MIK-RC/aws-aiops/internal/tools"
	"github.com/MIK-RC/aws-aiops/pkg/logging"
)

// Role is the declared specialty of a capability.
type Role string

const (
	RoleIntake    Role = "intake"
	RoleAnalysis  Role = "analysis"
	RoleTicketing Role = "ticketing"
	RoleStorage   Role = "storage"
	RoleGeneral   Role = "general"
)

// CapabilityConfig is the input of NewCapability.
type CapabilityConfig struct {
	Name        string
	Description string
	Directive   string
	Role        Role
	Operations  *tools.Registry
	Reasoner    Reasoner
	// Preflight reports missing credentials before a swarm run starts.
	Preflight func() error
}

// Capability is a named bundle of operations, a directive and an action ledger.
type Capability struct {
	name        string
	description string
	directive   string
	role        Role
	operations  *tools.Registry
	reasoner    Reasoner
	preflight   func() error
	ledger      *Ledger
}

func NewCapability(cfg CapabilityConfig) (*Capability, error) {
	if cfg.Name == "" {
		return nil, &ConfigurationError{Err: ErrMissingCapabilityName}
	}
	if cfg.Role == "" {
		cfg.Role = RoleGeneral
	}
	if cfg.Description == "" {
		cfg.Description = cfg.Name + " capability"
	}
	return &Capability{
		name:        cfg.Name,
		description: cfg.Description,
		directive:   cfg.Directive,
		role:        cfg.Role,
		operations:  cfg.Operations,
		reasoner:    cfg.Reasoner,
		preflight:   cfg.Preflight,
		ledger:      NewLedger(),
	}, nil
}

func (c *Capability) Name() string                { return c.name }
func (c *Capability) Description() string         { return c.description }
func (c *Capability) Directive() string           { return c.directive }
func (c *Capability) Role() Role                  { return c.role }
func (c *Capability) Operations() *tools.Registry { return c.operations }
func (c *Capability) Ledger() *Ledger             { return c.ledger }

// Invoke runs one reasoning step. Success and failure are both recorded;
// failures are returned as *ReasoningFailure unless the reasoner already
// produced an *OperationFailure.
func (c *Capability) Invoke(ctx context.Context, message string, tc *TaskContext) (*Response, error) {
	return c.InvokeWithHistory(ctx, message, nil, tc)
}

// InvokeWithHistory is Invoke with prior conversation turns, used by chat mode.
func (c *Capability) InvokeWithHistory(ctx context.Context, message string, history []llm.Message, tc *TaskContext) (*Response, error) {
	logging.Debug("agent", "%s invoked: %s", c.name, logging.Truncate(message, 100))

	start := time.Now()
	in := Instruction{
		Message:    message,
		Directive:  c.directive,
		History:    history,
		Operations: c.operations,
		Record:     c.recordOperation,
	}
	if tc != nil {
		in.Context = tc.Render(c.name)
		in.Peers = tc.Peers(c.name)
	}

	resp, err := c.reason(ctx, in)
	if err == nil && resp == nil {
		resp = &Response{}
	}

	if err != nil {
		c.ledger.Append(ActionRecord{
			Kind:        "invoke",
			Description: "Failed to process request",
			Input:       message,
			Success:     false,
			Error:       err.Error(),
			Duration:    time.Since(start),
		})
		logging.Error("agent", err, "%s invocation failed", c.name)
		var opErr *OperationFailure
		if errors.As(err, &opErr) {
			return nil, err
		}
		return nil, &ReasoningFailure{Capability: c.name, Err: err}
	}

	desc := "Processed request"
	if resp.Handoff != nil {
		desc = fmt.Sprintf("Processed request, handoff to %s", resp.Handoff.Target)
	}
	c.ledger.Append(ActionRecord{
		Kind:        "invoke",
		Description: desc,
		Input:       message,
		Output:      resp.Text,
		Success:     true,
		Duration:    time.Since(start),
	})
	logging.Debug("agent", "%s responded in %s", c.name, time.Since(start).Round(time.Millisecond))
	return resp, nil
}

// reason calls the reasoner and turns a panic into ErrNodePanicked so the
// failure still reaches the ledger.
func (c *Capability) reason(ctx context.Context, in Instruction) (resp *Response, err error) {
	if c.reasoner == nil {
		return nil, ErrNoReasoner
	}
	defer func() {
		if p := recover(); p != nil {
			resp, err = nil, fmt.Errorf("%w: %v", ErrNodePanicked, p)
		}
	}()
	return c.reasoner.Reason(ctx, in)
}

func (c *Capability) recordOperation(call OperationCall) {
	rec := ActionRecord{
		Kind:        call.Name,
		Description: "Called " + call.Name,
		Input:       describeParams(call.Params),
		Duration:    call.Duration,
	}
	if call.Result != nil {
		rec.Success = call.Result.Success
		rec.Error = call.Result.Error
		if call.Result.Success {
			rec.Output = fmt.Sprintf("%v", call.Result.Result)
		}
	}
	c.ledger.Append(rec)
}

// RecordAction appends to the ledger. It never fails.
func (c *Capability) RecordAction(r ActionRecord) Action {
	return c.ledger.Append(r)
}

// Reset clears the ledger. Operations and directive are kept.
func (c *Capability) Reset() {
	c.ledger.Reset()
}

func (c *Capability) Stats() LedgerStats { return c.ledger.Stats() }
func (c *Capability) Actions() []Action  { return c.ledger.Actions() }

// ActionSummary renders the ledger with the last ten actions.
func (c *Capability) ActionSummary() string {
	return c.ledger.Summary(c.name, 10)
}

// Check runs the preflight hook, if any.
func (c *Capability) Check() error {
	if c.preflight == nil {
		return nil
	}
	return c.preflight()
}
