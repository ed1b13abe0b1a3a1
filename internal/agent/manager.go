package agent

import (
	"context"
	"fmt"

	"github.com/MIK-RC/aws-aiops/internal/analysis"
	"github.com/MIK-RC/aws-aiops/internal/config"
	"github.com/MIK-RC/aws-aiops/internal/integrations/storage"
	"github.com/MIK-RC/aws-aiops/internal/llm"
	"github.com/MIK-RC/aws-aiops/internal/tools"
	"github.com/MIK-RC/aws-aiops/internal/tools/builtin"
	"github.com/MIK-RC/aws-aiops/pkg/logging"
)

// Capability names of the default roster.
const (
	CapabilityDatadog      = "datadog"
	CapabilityCoding       = "coding"
	CapabilityServiceNow   = "servicenow"
	CapabilityStorage      = "storage"
	CapabilityOrchestrator = "orchestrator"
)

type profile struct {
	role        Role
	description string
	directive   string
}

var defaultProfiles = map[string]profile{
	CapabilityDatadog: {
		role:        RoleIntake,
		description: "Fetches error and warning logs from Datadog and formats them per service",
		directive: "You are the log retrieval specialist of an AIOps team. Fetch error and warning logs " +
			"for the requested window, list the affected services and format each service's logs for analysis. " +
			"Hand off to the coding agent with the formatted logs when analysis is needed.",
	},
	CapabilityCoding: {
		role:        RoleAnalysis,
		description: "Analyzes error patterns, assesses severity and suggests code fixes",
		directive: "You are the code analysis specialist of an AIOps team. Identify error patterns in the " +
			"provided logs, assess their severity and suggest concrete fixes. Hand off to the servicenow agent " +
			"when an incident should be opened, or to the storage agent when a report should be published.",
	},
	CapabilityServiceNow: {
		role:        RoleTicketing,
		description: "Searches, creates and updates ServiceNow incidents",
		directive: "You are the ticketing specialist of an AIOps team. Always search for an active incident " +
			"before creating one. Create incidents only for medium severity or above, with a clear title, " +
			"the analysis summary and the suggested fixes.",
	},
	CapabilityStorage: {
		role:        RoleStorage,
		description: "Publishes markdown reports to object storage and notifies the team",
		directive: "You are the reporting specialist of an AIOps team. Write concise markdown reports of the " +
			"findings, upload them and send a short notification with the report location.",
	},
	CapabilityOrchestrator: {
		role:        RoleGeneral,
		description: "Answers operational questions using logs, analysis and tickets",
		directive: "You are an AIOps assistant. Answer questions about service health using the available " +
			"operations: query logs, analyze error patterns and search or create incidents. Be concise.",
	},
}

// Dependencies are the collaborators bound to the default capabilities.
type Dependencies struct {
	Source   llm.ChunkSource
	Logs     builtin.LogSource
	Tickets  builtin.TicketService
	Sink     storage.Sink
	Notifier builtin.Notifier
	Analyzer *analysis.Analyzer
}

// Manager assembles rosters from configuration and runs swarms and chats.
type Manager struct {
	cfg    *config.Config
	deps   Dependencies
	events *EventBroadcaster
}

// NewManager creates a manager. A nil Analyzer uses the configured keywords.
func NewManager(cfg *config.Config, deps Dependencies) *Manager {
	if deps.Analyzer == nil {
		deps.Analyzer = analysis.New(cfg.Analysis.SeverityKeywords)
	}
	return &Manager{
		cfg:    cfg,
		deps:   deps,
		events: NewEventBroadcaster(),
	}
}

// Events exposes every SwarmEvent of swarms run through the manager.
func (m *Manager) Events() *EventBroadcaster { return m.events }

// SwarmConfig is the configured run budget.
func (m *Manager) SwarmConfig() SwarmConfig {
	return SwarmConfigFrom(m.cfg.RateLimits)
}

func (m *Manager) reasoner() Reasoner {
	policy := ContinueOnOperationFailure
	if m.cfg.RateLimits.AbortOnOperationFailure {
		policy = AbortOnOperationFailure
	}
	return NewLLMReasoner(m.deps.Source,
		WithModel(m.cfg.LLM.Model),
		WithTemperature(m.cfg.LLM.Temperature),
		WithMaxTokens(m.cfg.LLM.MaxTokens),
		WithMaxRounds(m.cfg.LLM.MaxToolRounds),
		WithOperationPolicy(policy),
	)
}

func (m *Manager) operations(name string) []tools.Operation {
	d := m.deps
	switch name {
	case CapabilityDatadog:
		return builtin.LogOperations(d.Logs, builtin.LogOptions{
			MaxLogs:    m.cfg.Datadog.MaxLogsForContext,
			MaxMessage: m.cfg.Datadog.MaxMessageLength,
		})
	case CapabilityCoding:
		return builtin.AnalysisOperations(d.Analyzer)
	case CapabilityServiceNow:
		return builtin.TicketOperations(d.Tickets)
	case CapabilityStorage:
		ops := builtin.StorageOperations(d.Sink, nil)
		if d.Notifier != nil {
			ops = append(ops, builtin.NotifyOperation(d.Notifier, CapabilityStorage))
		}
		return ops
	case CapabilityOrchestrator:
		var ops []tools.Operation
		if d.Logs != nil {
			ops = append(ops, m.operations(CapabilityDatadog)[0])
		}
		ops = append(ops, builtin.AnalysisOperations(d.Analyzer)[0])
		if d.Tickets != nil {
			tickets := builtin.TicketOperations(d.Tickets)
			ops = append(ops, tickets[0], tickets[3])
		}
		return ops
	}
	return nil
}

func (m *Manager) preflight(name string) func() error {
	switch name {
	case CapabilityDatadog:
		return func() error {
			if m.deps.Logs == nil {
				return config.ErrMissingDatadog
			}
			return nil
		}
	case CapabilityServiceNow:
		return func() error {
			if m.deps.Tickets == nil {
				return config.ErrMissingServiceNow
			}
			return nil
		}
	case CapabilityStorage:
		return func() error {
			if m.deps.Sink == nil {
				return config.ErrMissingBucket
			}
			return nil
		}
	}
	return nil
}

// NewCapability builds one of the named default capabilities with a fresh
// ledger. Directives and descriptions can be overridden through config.
func (m *Manager) NewCapability(name string) (*Capability, error) {
	p, ok := defaultProfiles[name]
	if !ok {
		return nil, &ConfigurationError{Reason: name, Err: ErrUnknownCapability}
	}
	if override, ok := m.cfg.Agents[name]; ok {
		if override.Description != "" {
			p.description = override.Description
		}
		if override.Directive != "" {
			p.directive = override.Directive
		}
	}

	// a capability whose collaborator is missing keeps no operations and
	// fails its preflight instead
	check := m.preflight(name)
	var ops *tools.Registry
	if check == nil || check() == nil {
		reg, err := tools.NewRegistry(m.operations(name)...)
		if err != nil {
			return nil, &ConfigurationError{Reason: name, Err: err}
		}
		ops = reg
	}

	return NewCapability(CapabilityConfig{
		Name:        name,
		Description: p.description,
		Directive:   p.directive,
		Role:        p.role,
		Operations:  ops,
		Reasoner:    m.reasoner(),
		Preflight:   check,
	})
}

// NewRoster builds the four specialist capabilities in order: retrieval,
// analysis, ticketing, storage.
func (m *Manager) NewRoster() (*Roster, error) {
	names := []string{CapabilityDatadog, CapabilityCoding, CapabilityServiceNow, CapabilityStorage}
	caps := make([]*Capability, 0, len(names))
	for _, name := range names {
		c, err := m.NewCapability(name)
		if err != nil {
			return nil, err
		}
		caps = append(caps, c)
	}
	return NewRoster(caps...)
}

// RunSwarm runs task on a fresh roster. Events are forwarded to Events()
// in addition to any observer passed in opts.
func (m *Manager) RunSwarm(ctx context.Context, task string, opts ...RunOption) *Result {
	roster, err := m.NewRoster()
	if err != nil {
		return FailedResult(task, err)
	}

	probe := runOptions{}
	for _, opt := range opts {
		opt(&probe)
	}
	observer := probe.observer

	opts = append(opts, WithObserver(func(ev SwarmEvent) {
		m.events.Broadcast(ev)
		if observer != nil {
			observer(ev)
		}
	}))
	return NewSwarm(roster, m.SwarmConfig()).Run(ctx, task, opts...)
}

// ChatReply is the outcome of one chat turn.
type ChatReply struct {
	Response string      `json:"response"`
	Actions  []Action    `json:"actions"`
	Stats    LedgerStats `json:"stats"`
}

// Chat runs one turn of the general orchestrator capability with prior history.
func (m *Manager) Chat(ctx context.Context, message string, history []llm.Message) (*ChatReply, error) {
	c, err := m.NewCapability(CapabilityOrchestrator)
	if err != nil {
		return nil, err
	}
	resp, err := c.InvokeWithHistory(ctx, message, history, nil)
	if err != nil {
		return nil, fmt.Errorf("chat failed: %w", err)
	}
	logging.Debug("agent", "chat turn used %d tokens", resp.Usage.TotalTokens)
	return &ChatReply{
		Response: resp.Text,
		Actions:  c.Actions(),
		Stats:    c.Stats(),
	}, nil
}
