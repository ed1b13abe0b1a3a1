package workflow

import (
	"context"

	"github.com/MIK-RC/aws-aiops/internal/analysis"
	"github.com/MIK-RC/aws-aiops/internal/config"
	"github.com/MIK-RC/aws-aiops/internal/integrations"
	"github.com/MIK-RC/aws-aiops/internal/tools/builtin"
	"github.com/MIK-RC/aws-aiops/pkg/logging"
)

// DailyOptions configure the scheduled analysis run.
type DailyOptions struct {
	TimeFrom      string
	TimeTo        string
	CreateTickets bool
	MinSeverity   analysis.Severity
	DryRun        bool
}

// DailyOptionsFromConfig reads the workflow section.
func DailyOptionsFromConfig(cfg *config.Config) DailyOptions {
	return DailyOptions{
		TimeFrom:      cfg.Workflow.TimeFrom,
		TimeTo:        cfg.Workflow.TimeTo,
		CreateTickets: cfg.Workflow.CreateTickets,
		MinSeverity:   analysis.ParseSeverity(cfg.Workflow.MinSeverity),
		DryRun:        cfg.Workflow.DryRun,
	}
}

// Daily is the scheduled run: fetch, analyze every service, open tickets
// at or above the minimum severity and notify the summary. It skips the
// knowledge base check of the interactive pipeline.
type Daily struct {
	orchestrator *Orchestrator
	notifier     builtin.Notifier
}

func NewDaily(deps Dependencies, opts DailyOptions, limits config.DatadogConfig) *Daily {
	return &Daily{
		orchestrator: NewOrchestrator(deps, OrchestratorOptions{
			TimeFrom:           opts.TimeFrom,
			TimeTo:             opts.TimeTo,
			MinSeverity:        opts.MinSeverity,
			CreateTickets:      opts.CreateTickets,
			DryRun:             opts.DryRun,
			SkipKnowledgeCheck: true,
			MaxLogs:            limits.MaxLogsForContext,
			MaxMessage:         limits.MaxMessageLength,
		}),
		notifier: deps.Notifier,
	}
}

// Orchestrator exposes the pipeline behind the daily run.
func (d *Daily) Orchestrator() *Orchestrator { return d.orchestrator }

// Run executes the daily analysis once.
func (d *Daily) Run(ctx context.Context) *PipelineResult {
	opts := d.orchestrator.Options()
	logging.Info(orchestratorSubject, "daily run %s to %s (dry run: %v)", opts.TimeFrom, opts.TimeTo, opts.DryRun)

	res := d.orchestrator.Execute(ctx, PipelineRequest{Task: "Daily analysis of error and warning logs"})

	if n := d.notifier; n != nil {
		eventType := integrations.EventWorkflowCompleted
		if !res.Success {
			eventType = integrations.EventSwarmFailed
		}
		err := n.NotifySync(ctx, &integrations.Event{
			Type:    eventType,
			Source:  "daily",
			Title:   "Daily AIOps analysis",
			Message: res.Summary,
			Data: map[string]interface{}{
				"run_id":          res.RunID,
				"tickets_created": res.Tickets.Created,
			},
		})
		if err != nil {
			logging.Warn(orchestratorSubject, "daily notification failed: %v", err)
		}
	}
	return res
}
