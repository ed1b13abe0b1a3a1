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
	"github.com/MIK-RC/aws-aiops/internal/integrations/storage"
	"github.com/MIK-RC/aws-aiops/internal/tools/builtin"
	"github.com/MIK-RC/aws-aiops/pkg/logging"
)

const (
	proactiveSubject = "proactive"
	reportTimeLayout = "2006-01-02 15:04:05 UTC"
	maxReportLogs    = 50
)

// Unit is the share of one service in a proactive batch.
type Unit struct {
	Service   string
	Logs      []datadog.Log
	Formatted string
}

// ServiceResult is the outcome of processing one unit.
type ServiceResult struct {
	Service   string            `json:"service"`
	Success   bool              `json:"success"`
	Severity  analysis.Severity `json:"severity"`
	Ticket    *TicketOutcome    `json:"ticket,omitempty"`
	ReportURI string            `json:"report_uri,omitempty"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration"`
}

// TicketNumber is the number of a ticket created for the service, if any.
func (r ServiceResult) TicketNumber() string {
	if r.Ticket == nil || r.Ticket.Status != TicketCreated || len(r.Ticket.Numbers) == 0 {
		return ""
	}
	return r.Ticket.Numbers[0]
}

// Processor handles one unit. Units share no mutable state, so a processor
// may be called from several goroutines at once.
type Processor interface {
	Process(ctx context.Context, u Unit) ServiceResult
}

// ServiceProcessor analyzes a unit deterministically, opens a ticket when
// the severity warrants it and no active one exists, and uploads a report.
type ServiceProcessor struct {
	deps        Dependencies
	minSeverity analysis.Severity
	now         func() time.Time
}

func NewServiceProcessor(deps Dependencies, minSeverity analysis.Severity) *ServiceProcessor {
	if minSeverity == "" {
		minSeverity = analysis.SeverityMedium
	}
	return &ServiceProcessor{deps: deps, minSeverity: minSeverity, now: time.Now}
}

func (p *ServiceProcessor) Process(ctx context.Context, u Unit) ServiceResult {
	start := time.Now()
	logging.Info(proactiveSubject, "processing service %s", u.Service)

	report := p.deps.analyzer().FullAnalysis(u.Formatted, u.Service)
	res := ServiceResult{Service: u.Service, Success: true, Severity: report.Severity()}

	if p.deps.Tickets != nil && res.Severity.AtLeast(p.minSeverity) {
		res.Ticket = p.ticket(ctx, report, u.Formatted)
	}

	content := serviceReport(u.Service, p.now(), report.Severity(), res.TicketNumber(), func(lines []string) []string {
		return appendAnalysis(lines, report)
	}, u.Formatted)
	res.ReportURI = upload(ctx, p.deps.Sink, storage.ReportKey(u.Service, p.now()), content)

	res.Duration = time.Since(start)
	return res
}

func (p *ServiceProcessor) ticket(ctx context.Context, report analysis.Report, logContext string) *TicketOutcome {
	outcome := &TicketOutcome{Service: report.Service, Severity: report.Severity()}

	active, err := p.deps.Tickets.Search(ctx, servicenow.SearchQuery{
		Text:  "[" + report.Service + "]",
		Mode:  servicenow.SearchDecision,
		Limit: ticketSearchLimit,
	})
	if err == nil && len(active) > 0 {
		outcome.Status, outcome.Reason, outcome.Note = TicketSkipped, SkipDuplicate, duplicateSkipNote
		outcome.Numbers = numbers(active)
		return outcome
	}

	inc, err := p.deps.Tickets.Create(ctx, servicenow.TicketFromAnalysis(report.Service, report, "", logContext))
	if err != nil {
		logging.Warn(proactiveSubject, "ticket creation failed for %s: %v", report.Service, err)
		outcome.Status, outcome.Error = TicketFailed, err.Error()
		return outcome
	}
	outcome.Status = TicketCreated
	outcome.Numbers = []string{inc.Number}
	return outcome
}

// SwarmProcessor runs a private swarm per unit, starting at the analysis
// capability. Severity is taken from the deterministic analyzer so the
// batch summary does not depend on the model's wording.
type SwarmProcessor struct {
	cfg      *config.Config
	deps     agent.Dependencies
	sink     storage.Sink
	analyzer *analysis.Analyzer
	observer func(agent.SwarmEvent)
	now      func() time.Time
}

// NewSwarmProcessor builds a processor. observer may be nil.
func NewSwarmProcessor(cfg *config.Config, deps agent.Dependencies, observer func(agent.SwarmEvent)) *SwarmProcessor {
	a := deps.Analyzer
	if a == nil {
		a = analysis.New(cfg.Analysis.SeverityKeywords)
	}
	return &SwarmProcessor{
		cfg:      cfg,
		deps:     deps,
		sink:     deps.Sink,
		analyzer: a,
		observer: observer,
		now:      time.Now,
	}
}

// ticketRecorder remembers the incidents created through it.
type ticketRecorder struct {
	builtin.TicketService

	mu      sync.Mutex
	created []string
}

func (r *ticketRecorder) Create(ctx context.Context, in servicenow.NewIncident) (*servicenow.Incident, error) {
	inc, err := r.TicketService.Create(ctx, in)
	if err == nil && inc != nil {
		r.mu.Lock()
		r.created = append(r.created, inc.Number)
		r.mu.Unlock()
	}
	return inc, err
}

func (r *ticketRecorder) first() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.created) == 0 {
		return ""
	}
	return r.created[0]
}

func (p *SwarmProcessor) Process(ctx context.Context, u Unit) ServiceResult {
	start := time.Now()
	logging.Info(proactiveSubject, "processing service %s with a swarm", u.Service)

	deps := p.deps
	var recorder *ticketRecorder
	if deps.Tickets != nil {
		recorder = &ticketRecorder{TicketService: deps.Tickets}
		deps.Tickets = recorder
	}

	task := fmt.Sprintf(`Analyze the following logs for service '%s' and:
1. Identify error patterns and root causes
2. Assess severity
3. Suggest fixes
4. Create a ServiceNow ticket if severity is medium or higher

Logs:
%s`, u.Service, u.Formatted)

	run := agent.NewManager(p.cfg, deps).RunSwarm(ctx, task,
		agent.WithStart(agent.CapabilityCoding),
		agent.WithObserver(p.observer),
	)

	res := ServiceResult{
		Service:  u.Service,
		Success:  run.Success,
		Severity: p.analyzer.Severity(p.analyzer.Analyze(u.Formatted)),
		Error:    run.Error,
	}
	if recorder != nil {
		if n := recorder.first(); n != "" {
			res.Ticket = &TicketOutcome{Service: u.Service, Status: TicketCreated, Severity: res.Severity, Numbers: []string{n}}
		}
	}

	if run.Success {
		content := serviceReport(u.Service, p.now(), res.Severity, res.TicketNumber(), func(lines []string) []string {
			return append(lines, "## Analysis", "", run.Output, "", run.Summary, "")
		}, "")
		res.ReportURI = upload(ctx, p.sink, storage.ReportKey(u.Service, p.now()), content)
	}

	res.Duration = time.Since(start)
	return res
}

// ProactiveOptions size a proactive batch.
type ProactiveOptions struct {
	TimeFrom   string
	TimeTo     string
	Workers    int
	MaxLogs    int
	MaxMessage int
}

// ProactiveOptionsFromConfig reads the workflow and datadog sections.
func ProactiveOptionsFromConfig(cfg *config.Config) ProactiveOptions {
	return ProactiveOptions{
		TimeFrom:   cfg.Workflow.TimeFrom,
		TimeTo:     cfg.Workflow.TimeTo,
		Workers:    cfg.Workflow.MaxWorkers,
		MaxLogs:    cfg.Datadog.MaxLogsForContext,
		MaxMessage: cfg.Datadog.MaxMessageLength,
	}
}

// ProactiveReport is the outcome of one batch.
type ProactiveReport struct {
	RunID          string          `json:"run_id"`
	Success        bool            `json:"success"`
	Error          string          `json:"error,omitempty"`
	TimeFrom       string          `json:"time_from"`
	TimeTo         string          `json:"time_to"`
	StartedAt      time.Time       `json:"started_at"`
	Duration       time.Duration   `json:"duration"`
	Total          int             `json:"total"`
	Successful     int             `json:"successful"`
	Failed         int             `json:"failed"`
	BySeverity     map[string]int  `json:"by_severity"`
	TicketsCreated int             `json:"tickets_created"`
	Results        []ServiceResult `json:"results"`
	Summary        string          `json:"summary"`
	SummaryURI     string          `json:"summary_uri,omitempty"`
}

// ToMap is the projection surfaced by the transports.
func (r *ProactiveReport) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"success":         r.Success,
		"output":          r.Summary,
		"summary":         r.Summary,
		"services":        r.Total,
		"tickets_created": r.TicketsCreated,
		"summary_uri":     r.SummaryURI,
		"error":           r.Error,
	}
}

// Proactive fetches the window once, splits it per service and processes
// every service on a bounded pool.
type Proactive struct {
	deps      Dependencies
	processor Processor
	pool      *agent.Pool
	opts      ProactiveOptions
	now       func() time.Time
}

func NewProactive(deps Dependencies, processor Processor, opts ProactiveOptions) *Proactive {
	if opts.TimeFrom == "" {
		opts.TimeFrom = defaultTimeFrom
	}
	if opts.TimeTo == "" {
		opts.TimeTo = defaultTimeTo
	}
	if opts.MaxLogs <= 0 {
		opts.MaxLogs = 30
	}
	if opts.MaxMessage <= 0 {
		opts.MaxMessage = 500
	}
	return &Proactive{
		deps:      deps,
		processor: processor,
		pool:      agent.NewPool(opts.Workers),
		opts:      opts,
		now:       time.Now,
	}
}

// Run executes one batch. Failures of single services are reported per
// service; only a failed fetch fails the batch.
func (p *Proactive) Run(ctx context.Context) *ProactiveReport {
	rep := &ProactiveReport{
		RunID:      uuid.New().String(),
		TimeFrom:   p.opts.TimeFrom,
		TimeTo:     p.opts.TimeTo,
		StartedAt:  p.now().UTC(),
		BySeverity: map[string]int{"critical": 0, "high": 0, "medium": 0, "low": 0},
		Results:    []ServiceResult{},
	}
	logging.Info(proactiveSubject, "starting batch %s: %s to %s, %d workers", rep.RunID, rep.TimeFrom, rep.TimeTo, p.pool.Width())

	if p.deps.Logs == nil {
		return p.fail(rep, &agent.ConfigurationError{Reason: proactiveSubject, Err: config.ErrMissingDatadog})
	}
	logs, err := p.deps.Logs.Fetch(ctx, datadog.Query{From: p.opts.TimeFrom, To: p.opts.TimeTo})
	if err != nil {
		return p.fail(rep, &StageError{Stage: StageFetch, Err: err})
	}

	units := p.units(logs)
	if len(units) == 0 {
		rep.Success = true
		rep.Summary = "No services with issues found in the specified time range."
		rep.Duration = time.Since(rep.StartedAt)
		return rep
	}
	logging.Info(proactiveSubject, "found %d services with issues", len(units))

	results := agent.Map(ctx, p.pool, units, p.processor.Process)
	for i, r := range results {
		if r.Service == "" {
			r = ServiceResult{Service: units[i].Service, Severity: analysis.SeverityUnknown, Error: "not processed: " + errString(ctx.Err())}
		}
		rep.Results = append(rep.Results, r)
	}
	p.tally(rep)

	rep.Duration = time.Since(rep.StartedAt)
	rep.Success = true
	rep.Summary = p.summary(rep)
	rep.SummaryURI = upload(ctx, p.deps.Sink, storage.SummaryKey(p.now()), rep.Summary)

	if p.deps.Notifier != nil {
		err := p.deps.Notifier.NotifySync(ctx, &integrations.Event{
			Type:    integrations.EventWorkflowCompleted,
			Source:  proactiveSubject,
			Title:   "Proactive analysis completed",
			Message: rep.Summary,
			Data: map[string]interface{}{
				"services":        rep.Total,
				"tickets_created": rep.TicketsCreated,
				"summary_uri":     rep.SummaryURI,
			},
		})
		if err != nil {
			logging.Warn(proactiveSubject, "summary notification failed: %v", err)
		}
	}

	logging.Info(proactiveSubject, "batch %s done: %d/%d services succeeded", rep.RunID, rep.Successful, rep.Total)
	return rep
}

func (p *Proactive) units(logs []datadog.Log) []Unit {
	groups := datadog.GroupByService(logs)
	services := datadog.Services(logs)
	units := make([]Unit, 0, len(services))
	for _, svc := range services {
		units = append(units, Unit{
			Service:   svc,
			Logs:      groups[svc],
			Formatted: datadog.FormatLines(groups[svc], svc, p.opts.MaxLogs, p.opts.MaxMessage),
		})
	}
	return units
}

func (p *Proactive) tally(rep *ProactiveReport) {
	rep.Total = len(rep.Results)
	for _, r := range rep.Results {
		if !r.Success {
			rep.Failed++
			continue
		}
		rep.Successful++
		if _, ok := rep.BySeverity[string(r.Severity)]; ok {
			rep.BySeverity[string(r.Severity)]++
		}
		if r.TicketNumber() != "" {
			rep.TicketsCreated++
		}
	}
}

func (p *Proactive) fail(rep *ProactiveReport, err error) *ProactiveReport {
	logging.Error(proactiveSubject, err, "batch %s failed", rep.RunID)
	rep.Error = err.Error()
	rep.Summary = "Proactive analysis failed: " + rep.Error
	rep.Duration = time.Since(rep.StartedAt)
	return rep
}

func (p *Proactive) summary(rep *ProactiveReport) string {
	lines := []string{
		"# Proactive Analysis Summary",
		"",
		"Generated: " + p.now().UTC().Format(reportTimeLayout),
		fmt.Sprintf("Time range: %s to %s", rep.TimeFrom, rep.TimeTo),
		"",
		"## Overview",
		fmt.Sprintf("- Services processed: %d", rep.Total),
		fmt.Sprintf("- Successful: %d", rep.Successful),
		fmt.Sprintf("- Failed: %d", rep.Failed),
		fmt.Sprintf("- Tickets created: %d", rep.TicketsCreated),
		"",
		"## Severity Breakdown",
		fmt.Sprintf("- Critical: %d", rep.BySeverity["critical"]),
		fmt.Sprintf("- High: %d", rep.BySeverity["high"]),
		fmt.Sprintf("- Medium: %d", rep.BySeverity["medium"]),
		fmt.Sprintf("- Low: %d", rep.BySeverity["low"]),
		"",
	}

	if rep.TicketsCreated > 0 {
		lines = append(lines, "## Tickets Created")
		for _, r := range rep.Results {
			if n := r.TicketNumber(); n != "" && r.Success {
				lines = append(lines, fmt.Sprintf("- %s: %s (%s)", n, r.Service, strings.ToUpper(string(r.Severity))))
			}
		}
		lines = append(lines, "")
	}

	if rep.Successful > 0 {
		lines = append(lines, "## Service Reports")
		for _, r := range rep.Results {
			if !r.Success {
				continue
			}
			line := fmt.Sprintf("- %s [%s]", r.Service, strings.ToUpper(string(r.Severity)))
			if n := r.TicketNumber(); n != "" {
				line += " - Ticket: " + n
			}
			lines = append(lines, line)
			if r.ReportURI != "" {
				lines = append(lines, "  Report: "+r.ReportURI)
			}
		}
		lines = append(lines, "")
	}

	if rep.Failed > 0 {
		lines = append(lines, "## Failed Services")
		for _, r := range rep.Results {
			if !r.Success {
				lines = append(lines, fmt.Sprintf("- %s: %s", r.Service, r.Error))
			}
		}
		lines = append(lines, "")
	}

	lines = append(lines, fmt.Sprintf("Total execution time: %.2f seconds", rep.Duration.Seconds()))
	return strings.Join(lines, "\n")
}

// serviceReport renders the markdown report of one service. body adds the
// processor specific sections.
func serviceReport(service string, at time.Time, sev analysis.Severity, ticket string, body func([]string) []string, logs string) string {
	lines := []string{
		"# Error Report: " + service,
		"",
		"Generated: " + at.UTC().Format(reportTimeLayout),
		"",
		"## Summary",
		"- Severity: " + strings.ToUpper(string(sev)),
	}
	if ticket != "" {
		lines = append(lines, "- ServiceNow ticket: "+ticket)
	}
	lines = append(lines, "")
	lines = body(lines)

	if logs != "" {
		all := strings.Split(logs, "\n")
		shown := all
		if len(shown) > maxReportLogs {
			shown = shown[:maxReportLogs]
		}
		lines = append(lines, "## Related Logs", "```")
		lines = append(lines, shown...)
		if len(all) > maxReportLogs {
			lines = append(lines, "... (truncated)")
		}
		lines = append(lines, "```")
	}
	return strings.Join(lines, "\n")
}

func appendAnalysis(lines []string, report analysis.Report) []string {
	p := report.Patterns
	lines = append(lines[:len(lines)-1],
		fmt.Sprintf("- Error types: %d", len(p.ErrorTypes)),
		fmt.Sprintf("- Recurring issues: %d", len(p.RecurringIssues)),
		"",
	)
	if len(p.ErrorTypes) > 0 {
		lines = append(lines, "## Errors Detected")
		for _, t := range p.ErrorTypes {
			lines = append(lines, "- "+t)
		}
		lines = append(lines, "")
	}
	if len(p.PotentialCauses) > 0 {
		lines = append(lines, "## Root Cause Analysis")
		for _, c := range p.PotentialCauses {
			lines = append(lines, "- "+c)
		}
		lines = append(lines, "")
	}
	if len(report.Suggestions) > 0 {
		lines = append(lines, "## Suggested Fixes")
		for i, s := range report.Suggestions {
			lines = append(lines,
				fmt.Sprintf("### %d. %s", i+1, firstNonEmpty(s.ErrorType, "General")),
				"**Issue:** "+firstNonEmpty(s.Issue, "N/A"),
				"**Fix:** "+firstNonEmpty(s.Suggestion, "N/A"),
			)
			if s.Prevention != "" {
				lines = append(lines, "**Prevention:** "+s.Prevention)
			}
			lines = append(lines, "")
		}
	}
	return lines
}

// upload stores content and returns its URI. A missing sink or a failed
// upload leaves the URI empty.
func upload(ctx context.Context, sink storage.Sink, key, content string) string {
	if sink == nil {
		return ""
	}
	uri, err := sink.Put(ctx, key, content)
	if err != nil {
		logging.Warn(proactiveSubject, "failed to upload %s: %v", key, err)
		return ""
	}
	return uri
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
