package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MIK-RC/aws-aiops/internal/agent"
	"github.com/MIK-RC/aws-aiops/internal/analysis"
	"github.com/MIK-RC/aws-aiops/internal/config"
	"github.com/MIK-RC/aws-aiops/internal/integrations"
	"github.com/MIK-RC/aws-aiops/internal/integrations/datadog"
	"github.com/MIK-RC/aws-aiops/internal/integrations/servicenow"
	"github.com/MIK-RC/aws-aiops/pkg/logging"
)

const (
	NoLogsSummary       = "No error/warning logs found in the specified time range."
	AllKnownSummary     = "All issues matched resolved KB tickets; no new analysis required."
	knowledgeSkipNote   = "Resolved ticket(s) found, analysis skipped"
	duplicateSkipNote   = "Duplicate ticket exists, not creating a new one"
	disabledSkipNote    = "Ticket creation disabled"
	DryRunTicketNumber  = "DRY-RUN-XXXX"
	ticketSearchLimit   = 5
	defaultTimeFrom     = "now-1d"
	defaultTimeTo       = "now"
	orchestratorSubject = "workflow"
)

// TicketStatus is the tri-state outcome of the ticket stage for one service.
type TicketStatus string

const (
	TicketCreated TicketStatus = "created"
	TicketSkipped TicketStatus = "skipped"
	TicketFailed  TicketStatus = "failed"
)

// SkipReason says why no ticket was created.
type SkipReason string

const (
	SkipKnowledgeBase SkipReason = "knowledge_base"
	SkipDuplicate     SkipReason = "duplicate"
	SkipBelowSeverity SkipReason = "below_min_severity"
	SkipDisabled      SkipReason = "disabled"
)

// TicketOutcome records what happened to one service in the ticket stages.
type TicketOutcome struct {
	Service  string            `json:"service"`
	Status   TicketStatus      `json:"status"`
	Severity analysis.Severity `json:"severity,omitempty"`
	Numbers  []string          `json:"ticket_numbers,omitempty"`
	Reason   SkipReason        `json:"reason,omitempty"`
	Note     string            `json:"note,omitempty"`
	DryRun   bool              `json:"dry_run,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// TicketSummary groups the outcomes of a run. Created counts only tickets
// whose creation completed.
type TicketSummary struct {
	Created  int             `json:"created"`
	Skipped  int             `json:"skipped"`
	Failed   int             `json:"failed"`
	Outcomes []TicketOutcome `json:"outcomes"`
}

func (s *TicketSummary) add(o TicketOutcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Status {
	case TicketCreated:
		s.Created++
	case TicketSkipped:
		s.Skipped++
	case TicketFailed:
		s.Failed++
	}
}

// StageReport is one line of the activity report.
type StageReport struct {
	Agent  string `json:"agent"`
	Action string `json:"action"`
	Result string `json:"result"`
}

// PipelineRequest selects the window of one orchestrator run.
type PipelineRequest struct {
	Task     string
	TimeFrom string
	TimeTo   string
}

// PipelineResult is the outcome of one orchestrator run.
type PipelineResult struct {
	RunID       string            `json:"run_id"`
	Task        string            `json:"task"`
	TimeFrom    string            `json:"time_from"`
	TimeTo      string            `json:"time_to"`
	Success     bool              `json:"success"`
	Summary     string            `json:"summary"`
	Error       string            `json:"error,omitempty"`
	LogsFetched int               `json:"logs_fetched"`
	Services    []string          `json:"services"`
	Analyses    []analysis.Report `json:"analyses,omitempty"`
	Tickets     TicketSummary     `json:"tickets"`
	StartedAt   time.Time         `json:"started_at"`
	Duration    time.Duration     `json:"duration"`

	err error
}

// Err returns the stage failure behind Error.
func (r *PipelineResult) Err() error { return r.err }

// ToMap is the projection surfaced by the transports.
func (r *PipelineResult) ToMap() map[string]interface{} {
	services := r.Services
	if services == nil {
		services = []string{}
	}
	return map[string]interface{}{
		"success":         r.Success,
		"task":            r.Task,
		"output":          r.Summary,
		"summary":         r.Summary,
		"services":        services,
		"tickets_created": r.Tickets.Created,
		"error":           r.Error,
	}
}

// OrchestratorOptions control the ticket stage and the log context size.
type OrchestratorOptions struct {
	TimeFrom           string
	TimeTo             string
	MinSeverity        analysis.Severity
	CreateTickets      bool
	DryRun             bool
	SkipKnowledgeCheck bool
	MaxLogs            int
	MaxMessage         int
}

// OptionsFromConfig reads the workflow and datadog sections.
func OptionsFromConfig(cfg *config.Config) OrchestratorOptions {
	return OrchestratorOptions{
		TimeFrom:      cfg.Workflow.TimeFrom,
		TimeTo:        cfg.Workflow.TimeTo,
		MinSeverity:   analysis.ParseSeverity(cfg.Workflow.MinSeverity),
		CreateTickets: cfg.Workflow.CreateTickets,
		DryRun:        cfg.Workflow.DryRun,
		MaxLogs:       cfg.Datadog.MaxLogsForContext,
		MaxMessage:    cfg.Datadog.MaxMessageLength,
	}
}

func (o OrchestratorOptions) withDefaults() OrchestratorOptions {
	if o.TimeFrom == "" {
		o.TimeFrom = defaultTimeFrom
	}
	if o.TimeTo == "" {
		o.TimeTo = defaultTimeTo
	}
	if o.MinSeverity == "" {
		o.MinSeverity = analysis.SeverityMedium
	}
	if o.MaxLogs <= 0 {
		o.MaxLogs = 30
	}
	if o.MaxMessage <= 0 {
		o.MaxMessage = 500
	}
	return o
}

// Orchestrator runs the fixed pipeline: fetch, knowledge check, analyze,
// ticket, report. It calls its collaborators directly, without reasoning.
// Runs on the same Orchestrator are serialized.
type Orchestrator struct {
	deps        Dependencies
	opts        OrchestratorOptions
	self        *agent.Capability
	specialists map[string]*agent.Capability

	mu     sync.Mutex
	stages []StageReport
}

func NewOrchestrator(deps Dependencies, opts OrchestratorOptions) *Orchestrator {
	self, _ := agent.NewCapability(agent.CapabilityConfig{
		Name:        agent.CapabilityOrchestrator,
		Description: "Runs the fixed AIOps pipeline",
		Role:        agent.RoleGeneral,
	})
	return &Orchestrator{
		deps:        deps,
		opts:        opts.withDefaults(),
		self:        self,
		specialists: newSpecialists(deps.Capabilities),
	}
}

var specialistRoles = map[string]agent.Role{
	agent.CapabilityDatadog:    agent.RoleIntake,
	agent.CapabilityCoding:     agent.RoleAnalysis,
	agent.CapabilityServiceNow: agent.RoleTicketing,
}

func newSpecialists(factory CapabilityFactory) map[string]*agent.Capability {
	out := make(map[string]*agent.Capability, len(specialistRoles))
	for name, role := range specialistRoles {
		if factory != nil {
			if c, err := factory.NewCapability(name); err == nil {
				out[name] = c
				continue
			}
		}
		out[name], _ = agent.NewCapability(agent.CapabilityConfig{Name: name, Role: role})
	}
	return out
}

// Specialist returns the capability whose ledger records the pipeline's
// calls for name, or nil for names the pipeline never calls.
func (o *Orchestrator) Specialist(name string) *agent.Capability { return o.specialists[name] }

// record appends one stage call to the owning specialist's ledger.
func (o *Orchestrator) record(owner, kind, desc, input, output string, err error, start time.Time) {
	c := o.specialists[owner]
	if c == nil {
		return
	}
	rec := agent.ActionRecord{
		Kind:        kind,
		Description: desc,
		Input:       input,
		Output:      output,
		Success:     err == nil,
		Duration:    time.Since(start),
	}
	if err != nil {
		rec.Output = ""
		rec.Error = err.Error()
	}
	c.RecordAction(rec)
}

// Capability exposes the orchestrator's own ledger.
func (o *Orchestrator) Capability() *agent.Capability { return o.self }

func (o *Orchestrator) Options() OrchestratorOptions { return o.opts }

// StageReports returns the activity lines of the last run.
func (o *Orchestrator) StageReports() []StageReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]StageReport, len(o.stages))
	copy(out, o.stages)
	return out
}

func (o *Orchestrator) note(agentName, action, result string) {
	o.stages = append(o.stages, StageReport{Agent: agentName, Action: action, Result: result})
}

func (o *Orchestrator) check() error {
	if o.deps.Logs == nil {
		return &agent.ConfigurationError{Reason: agent.CapabilityOrchestrator, Err: config.ErrMissingDatadog}
	}
	// a dry run without a ticketing backend skips duplicate detection
	needTickets := !o.opts.SkipKnowledgeCheck || (o.opts.CreateTickets && !o.opts.DryRun)
	if o.deps.Tickets == nil && needTickets {
		return &agent.ConfigurationError{Reason: agent.CapabilityOrchestrator, Err: config.ErrMissingServiceNow}
	}
	return nil
}

// Execute runs the pipeline once. It never returns nil; any stage error
// aborts the run and is reported in the result.
func (o *Orchestrator) Execute(ctx context.Context, req PipelineRequest) *PipelineResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = nil

	res := &PipelineResult{
		RunID:     uuid.New().String(),
		Task:      req.Task,
		TimeFrom:  firstNonEmpty(req.TimeFrom, o.opts.TimeFrom),
		TimeTo:    firstNonEmpty(req.TimeTo, o.opts.TimeTo),
		Services:  []string{},
		StartedAt: time.Now().UTC(),
		Tickets:   TicketSummary{Outcomes: []TicketOutcome{}},
	}
	logging.Info(orchestratorSubject, "starting pipeline %s: %s", res.RunID, logging.Truncate(req.Task, 100))

	if err := o.check(); err != nil {
		return o.finish(res, err)
	}
	err := o.run(ctx, res)
	return o.finish(res, err)
}

func (o *Orchestrator) run(ctx context.Context, res *PipelineResult) error {
	// Stage 1: fetch
	start := time.Now()
	logs, err := o.deps.Logs.Fetch(ctx, datadog.Query{From: res.TimeFrom, To: res.TimeTo})
	o.record(agent.CapabilityDatadog, "fetch_logs", "Fetched logs",
		res.TimeFrom+" to "+res.TimeTo, fmt.Sprintf("%d logs", len(logs)), err, start)
	if err != nil {
		return &StageError{Stage: StageFetch, Err: err}
	}
	res.LogsFetched = len(logs)
	res.Services = datadog.Services(logs)
	o.note(agent.CapabilityDatadog, "Fetched logs", fmt.Sprintf("Retrieved %d logs from %d services", len(logs), len(res.Services)))

	if len(logs) == 0 {
		res.Summary = NoLogsSummary
		return nil
	}

	// Stage 2: knowledge base
	remaining := res.Services
	if !o.opts.SkipKnowledgeCheck {
		remaining = nil
		for _, svc := range res.Services {
			known, err := o.search(ctx, svc, servicenow.SearchKnowledge)
			if err != nil {
				return &StageError{Stage: StageKnowledge, Service: svc, Err: err}
			}
			if len(known) == 0 {
				remaining = append(remaining, svc)
				continue
			}
			res.Tickets.add(TicketOutcome{
				Service: svc,
				Status:  TicketSkipped,
				Numbers: numbers(known),
				Reason:  SkipKnowledgeBase,
				Note:    knowledgeSkipNote,
			})
			o.note(agent.CapabilityServiceNow, "KB check for "+svc, fmt.Sprintf("%d resolved tickets found, skipping analysis", len(known)))
		}
		if len(remaining) == 0 {
			res.Summary = AllKnownSummary
			return nil
		}
	}

	// Stage 3: analyze
	contexts := make(map[string]string, len(remaining))
	for _, svc := range remaining {
		if err := ctx.Err(); err != nil {
			return &StageError{Stage: StageAnalyze, Service: svc, Err: err}
		}
		start := time.Now()
		formatted := datadog.FormatLines(logs, svc, o.opts.MaxLogs, o.opts.MaxMessage)
		contexts[svc] = formatted
		report := o.deps.analyzer().FullAnalysis(formatted, svc)
		res.Analyses = append(res.Analyses, report)
		o.record(agent.CapabilityCoding, "full_analysis", "Analyzed "+svc,
			svc, "severity "+string(report.Severity()), nil, start)
		o.note(agent.CapabilityCoding, "Analyzed "+svc, fmt.Sprintf("Severity: %s, Issues: %d", report.Severity(), len(report.Patterns.ErrorTypes)))
	}

	// Stage 4: tickets
	for _, report := range res.Analyses {
		if err := o.ticket(ctx, res, report, contexts[report.Service]); err != nil {
			return err
		}
	}

	// Stage 5: report
	res.Summary = o.summary(res, nil)
	return nil
}

func (o *Orchestrator) ticket(ctx context.Context, res *PipelineResult, report analysis.Report, logContext string) error {
	svc := report.Service
	sev := report.Severity()
	outcome := TicketOutcome{Service: svc, Severity: sev}

	switch {
	case !o.opts.CreateTickets:
		outcome.Status, outcome.Reason, outcome.Note = TicketSkipped, SkipDisabled, disabledSkipNote
		res.Tickets.add(outcome)
		return nil
	case !sev.AtLeast(o.opts.MinSeverity):
		outcome.Status, outcome.Reason = TicketSkipped, SkipBelowSeverity
		outcome.Note = fmt.Sprintf("Below minimum severity (%s)", o.opts.MinSeverity)
		res.Tickets.add(outcome)
		return nil
	}

	var active []servicenow.Incident
	if o.deps.Tickets != nil {
		found, err := o.search(ctx, svc, servicenow.SearchDecision)
		if err != nil {
			return &StageError{Stage: StageTickets, Service: svc, Err: err}
		}
		active = found
	}
	if len(active) > 0 {
		outcome.Status, outcome.Reason, outcome.Note = TicketSkipped, SkipDuplicate, duplicateSkipNote
		outcome.Numbers = numbers(active)
		res.Tickets.add(outcome)
		o.note(agent.CapabilityServiceNow, "Duplicate check for "+svc, fmt.Sprintf("%d active ticket(s) found", len(active)))
		return nil
	}

	if o.opts.DryRun {
		outcome.Status, outcome.DryRun = TicketCreated, true
		outcome.Numbers = []string{DryRunTicketNumber}
		res.Tickets.add(outcome)
		logging.Info(orchestratorSubject, "[dry run] would create ticket for %s", svc)
		return nil
	}

	start := time.Now()
	inc, err := o.deps.Tickets.Create(ctx, servicenow.TicketFromAnalysis(svc, report, res.Task, logContext))
	var number string
	if inc != nil {
		number = inc.Number
	}
	o.record(agent.CapabilityServiceNow, "create_ticket", "Created ticket for "+svc, svc, number, err, start)
	if err != nil {
		outcome.Status, outcome.Error = TicketFailed, err.Error()
		res.Tickets.add(outcome)
		return &StageError{Stage: StageTickets, Service: svc, Err: fmt.Errorf("failed to create ticket: %w", err)}
	}
	outcome.Status = TicketCreated
	outcome.Numbers = []string{inc.Number}
	res.Tickets.add(outcome)
	o.note(agent.CapabilityServiceNow, "Created ticket for "+svc, "Ticket: "+firstNonEmpty(inc.Number, "N/A"))
	o.notifyTicket(ctx, outcome)
	return nil
}

func (o *Orchestrator) search(ctx context.Context, service string, mode servicenow.SearchMode) ([]servicenow.Incident, error) {
	start := time.Now()
	found, err := o.deps.Tickets.Search(ctx, servicenow.SearchQuery{
		Text:  "[" + service + "]",
		Mode:  mode,
		Limit: ticketSearchLimit,
	})
	o.record(agent.CapabilityServiceNow, "search_incidents", fmt.Sprintf("Searched %s incidents", mode),
		service, fmt.Sprintf("%d found", len(found)), err, start)
	return found, err
}

func (o *Orchestrator) notifyTicket(ctx context.Context, outcome TicketOutcome) {
	if o.deps.Notifier == nil {
		return
	}
	err := o.deps.Notifier.NotifySync(ctx, &integrations.Event{
		Type:    integrations.EventTicketCreated,
		Source:  agent.CapabilityOrchestrator,
		Title:   "Incident created for " + outcome.Service,
		Message: fmt.Sprintf("%s: [%s] %s", strings.Join(outcome.Numbers, ", "), strings.ToUpper(string(outcome.Severity)), outcome.Service),
		Data:    map[string]interface{}{"service": outcome.Service, "severity": outcome.Severity},
	})
	if err != nil {
		logging.Warn(orchestratorSubject, "ticket notification failed: %v", err)
	}
}

func (o *Orchestrator) finish(res *PipelineResult, err error) *PipelineResult {
	res.Duration = time.Since(res.StartedAt)
	res.Success = err == nil
	if err != nil {
		res.err = err
		res.Error = err.Error()
		res.Summary = o.summary(res, err)
		logging.Error(orchestratorSubject, err, "pipeline %s failed", res.RunID)
	}

	desc := "Completed full analysis workflow"
	if err != nil {
		desc = "Full analysis workflow failed"
	}
	o.self.RecordAction(agent.ActionRecord{
		Kind:        "full_workflow",
		Description: desc,
		Input:       res.Task,
		Output:      res.Summary,
		Success:     res.Success,
		Error:       res.Error,
		Duration:    res.Duration,
	})
	logging.Info(orchestratorSubject, "pipeline %s finished: success=%v, tickets created=%d", res.RunID, res.Success, res.Tickets.Created)
	return res
}

func (o *Orchestrator) summary(res *PipelineResult, failure error) string {
	lines := []string{
		"## AIOps Workflow Summary",
		"",
		fmt.Sprintf("**Time Range:** %s to %s", res.TimeFrom, res.TimeTo),
		"",
		"### Log Collection",
		fmt.Sprintf("- Logs retrieved: %d", res.LogsFetched),
		fmt.Sprintf("- Services affected: %s", joinOr(res.Services, "None")),
		"",
	}

	if len(res.Analyses) > 0 {
		lines = append(lines, "### Analysis Results")
		for _, a := range res.Analyses {
			lines = append(lines, fmt.Sprintf("- **%s**: %s severity, %d error types",
				a.Service, strings.ToUpper(string(a.Severity())), len(a.Patterns.ErrorTypes)))
		}
		lines = append(lines, "")
	}

	lines = append(lines, "### Tickets Created")
	created := 0
	for _, t := range res.Tickets.Outcomes {
		if t.Status != TicketCreated {
			continue
		}
		created++
		line := fmt.Sprintf("- %s: [%s] %s", strings.Join(t.Numbers, ", "), strings.ToUpper(string(t.Severity)), t.Service)
		if t.DryRun {
			line += " (dry run)"
		}
		lines = append(lines, line)
	}
	if created == 0 {
		lines = append(lines, "- No tickets created")
	}

	var skipped []string
	for _, t := range res.Tickets.Outcomes {
		if t.Status == TicketCreated {
			continue
		}
		line := fmt.Sprintf("- %s: %s", t.Service, firstNonEmpty(t.Note, t.Error))
		if len(t.Numbers) > 0 {
			line += fmt.Sprintf(" (%s)", strings.Join(t.Numbers, ", "))
		}
		skipped = append(skipped, line)
	}
	if len(skipped) > 0 {
		lines = append(lines, "", "### Tickets Not Created")
		lines = append(lines, skipped...)
	}

	if failure != nil {
		lines = append(lines, "", "**Workflow aborted:** "+failure.Error())
	}
	return strings.Join(lines, "\n")
}

// GenerateReport renders the activity of the last run and the
// orchestrator's own ledger.
func (o *Orchestrator) GenerateReport() string {
	stats := o.self.Stats()
	lines := []string{
		"# AIOps Multi-Agent Activity Report",
		"",
		"**Orchestrator:** " + o.self.Name(),
		fmt.Sprintf("**Total Actions:** %d", stats.Total),
		"",
		"## Agent Actions",
		"",
	}
	for _, s := range o.StageReports() {
		lines = append(lines,
			"### "+s.Agent,
			"- **Action:** "+s.Action,
			"- **Result:** "+s.Result,
			"",
		)
	}
	lines = append(lines, "## Orchestrator Actions", o.self.ActionSummary(), "", "## Specialist Ledgers")
	for _, name := range []string{agent.CapabilityDatadog, agent.CapabilityCoding, agent.CapabilityServiceNow} {
		st := o.specialists[name].Stats()
		lines = append(lines, fmt.Sprintf("- **%s:** %d actions, %d successful", name, st.Total, st.Success))
	}
	return strings.Join(lines, "\n")
}

// Reset clears the ledger and the stage reports.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = nil
	o.self.Reset()
	for _, c := range o.specialists {
		c.Reset()
	}
}

func numbers(incidents []servicenow.Incident) []string {
	out := make([]string, 0, len(incidents))
	for _, inc := range incidents {
		out = append(out, inc.Number)
	}
	return out
}

func joinOr(items []string, def string) string {
	if len(items) == 0 {
		return def
	}
	return strings.Join(items, ", ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
