package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MIK-RC/aws-aiops/internal/agent"
	"github.com/MIK-RC/aws-aiops/internal/analysis"
	"github.com/MIK-RC/aws-aiops/internal/config"
	"github.com/MIK-RC/aws-aiops/internal/database/repository"
	"github.com/MIK-RC/aws-aiops/internal/llm"
	"github.com/MIK-RC/aws-aiops/pkg/logging"
)

// Mode selects what an invocation runs.
type Mode string

const (
	ModeSwarm     Mode = "swarm"
	ModePipeline  Mode = "pipeline"
	ModeProactive Mode = "proactive"
	ModeDaily     Mode = "daily"
	ModeChat      Mode = "chat"
)

const (
	dispatchSubject = "dispatch"
	historyLimit    = 20
)

// InvocationOptions override configured budgets and pipeline settings.
// Durations are in seconds.
type InvocationOptions struct {
	MaxIterations    int     `json:"max_iterations,omitempty"`
	MaxHandoffs      int     `json:"max_handoffs,omitempty"`
	ExecutionTimeout float64 `json:"execution_timeout,omitempty"`
	NodeTimeout      float64 `json:"node_timeout,omitempty"`
	TimeFrom         string  `json:"time_from,omitempty"`
	TimeTo           string  `json:"time_to,omitempty"`
	CreateTickets    *bool   `json:"create_tickets,omitempty"`
	MinSeverity      string  `json:"min_severity,omitempty"`
	DryRun           *bool   `json:"dry_run,omitempty"`
}

// Invocation is the payload accepted by every transport.
type Invocation struct {
	Mode       Mode              `json:"mode"`
	Task       string            `json:"task,omitempty"`
	Message    string            `json:"message,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	StartAgent string            `json:"start_agent,omitempty"`
	Options    InvocationOptions `json:"options,omitempty"`

	// RunID, when set by an in-process transport, becomes the outcome's
	// run ID and the swarm run ID.
	RunID string `json:"-"`
}

// ValidationError rejects an invocation before anything runs.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Outcome is the mode independent answer to an invocation.
type Outcome struct {
	RunID     string                 `json:"run_id"`
	Mode      Mode                   `json:"mode"`
	SessionID string                 `json:"session_id,omitempty"`
	Success   bool                   `json:"success"`
	Output    string                 `json:"output"`
	Error     string                 `json:"error,omitempty"`
	Result    map[string]interface{} `json:"result"`
	StartedAt time.Time              `json:"started_at"`
	Duration  time.Duration          `json:"duration"`
}

// SessionStore keeps chat history.
type SessionStore interface {
	Append(ctx context.Context, sessionID string, entries ...repository.SessionEntry) error
	Read(ctx context.Context, sessionID string, limit int) ([]repository.SessionEntry, error)
}

// RunStore keeps the outcome of every invocation.
type RunStore interface {
	Save(ctx context.Context, run *repository.Run) error
}

// Service dispatches invocations to the swarm, the pipelines and chat.
type Service struct {
	cfg      *config.Config
	manager  *agent.Manager
	deps     Dependencies
	agents   agent.Dependencies
	sessions SessionStore
	runs     RunStore
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithSessions(s SessionStore) ServiceOption { return func(svc *Service) { svc.sessions = s } }

func WithRuns(r RunStore) ServiceOption { return func(svc *Service) { svc.runs = r } }

// NewService builds a dispatcher over one manager. The pipelines use the
// same collaborators as the manager's capabilities.
func NewService(cfg *config.Config, deps agent.Dependencies, opts ...ServiceOption) *Service {
	if deps.Analyzer == nil {
		deps.Analyzer = analysis.New(cfg.Analysis.SeverityKeywords)
	}
	manager := agent.NewManager(cfg, deps)
	s := &Service{
		cfg:     cfg,
		manager: manager,
		agents:  deps,
		deps: Dependencies{
			Logs:         deps.Logs,
			Tickets:      deps.Tickets,
			Sink:         deps.Sink,
			Notifier:     deps.Notifier,
			Analyzer:     deps.Analyzer,
			Capabilities: manager,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Manager exposes the manager, for event subscriptions.
func (s *Service) Manager() *agent.Manager { return s.manager }

// Validate normalizes inv in place and reports the first invalid field.
func Validate(inv *Invocation) error {
	inv.Mode = Mode(strings.ToLower(strings.TrimSpace(string(inv.Mode))))
	if inv.Mode == "" {
		inv.Mode = ModeSwarm
	}
	inv.Task = strings.TrimSpace(inv.Task)
	inv.Message = strings.TrimSpace(inv.Message)

	switch inv.Mode {
	case ModeSwarm, ModePipeline:
		if inv.Task == "" {
			return &ValidationError{Field: "task", Err: ErrMissingTask}
		}
	case ModeChat:
		if inv.Message == "" {
			inv.Message = inv.Task
		}
		if inv.Message == "" {
			return &ValidationError{Field: "message", Err: ErrMissingMessage}
		}
	case ModeProactive, ModeDaily:
	default:
		return &ValidationError{Field: "mode", Err: ErrInvalidMode}
	}

	o := inv.Options
	switch {
	case o.MaxIterations < 0:
		return &ValidationError{Field: "options.max_iterations", Err: fmt.Errorf("must not be negative, got %d", o.MaxIterations)}
	case o.MaxHandoffs < 0:
		return &ValidationError{Field: "options.max_handoffs", Err: fmt.Errorf("must not be negative, got %d", o.MaxHandoffs)}
	case o.ExecutionTimeout < 0:
		return &ValidationError{Field: "options.execution_timeout", Err: fmt.Errorf("must not be negative, got %v", o.ExecutionTimeout)}
	case o.NodeTimeout < 0:
		return &ValidationError{Field: "options.node_timeout", Err: fmt.Errorf("must not be negative, got %v", o.NodeTimeout)}
	}
	if o.MinSeverity != "" {
		switch analysis.Severity(strings.ToLower(o.MinSeverity)) {
		case analysis.SeverityCritical, analysis.SeverityHigh, analysis.SeverityMedium, analysis.SeverityLow:
		default:
			return &ValidationError{Field: "options.min_severity", Err: fmt.Errorf("unknown severity %q", o.MinSeverity)}
		}
	}
	if inv.StartAgent != "" && inv.Mode != ModeSwarm {
		return &ValidationError{Field: "start_agent", Err: fmt.Errorf("only valid in %s mode", ModeSwarm)}
	}
	return nil
}

// Invoke validates and runs inv. The returned error is non-nil only for a
// *ValidationError; execution failures are reported in the Outcome.
func (s *Service) Invoke(ctx context.Context, inv Invocation) (*Outcome, error) {
	if err := Validate(&inv); err != nil {
		return nil, err
	}

	started := time.Now().UTC()
	logging.Info(dispatchSubject, "invoking %s", inv.Mode)

	var out *Outcome
	switch inv.Mode {
	case ModeSwarm:
		out = s.swarm(ctx, inv)
	case ModePipeline:
		out = s.pipeline(ctx, inv)
	case ModeProactive:
		out = s.proactive(ctx, inv)
	case ModeDaily:
		out = s.daily(ctx, inv)
	case ModeChat:
		out = s.chat(ctx, inv)
	}
	out.Mode = inv.Mode
	if inv.RunID != "" {
		out.RunID = inv.RunID
	}
	if out.StartedAt.IsZero() {
		out.StartedAt = started
	}
	if out.Duration == 0 {
		out.Duration = time.Since(started)
	}

	s.record(ctx, inv, out)
	return out, nil
}

func (s *Service) runOptions(o InvocationOptions, start, runID string) []agent.RunOption {
	var opts []agent.RunOption
	if runID != "" {
		opts = append(opts, agent.WithRunID(runID))
	}
	if start != "" {
		opts = append(opts, agent.WithStart(start))
	}
	if o.MaxIterations > 0 {
		opts = append(opts, agent.WithMaxIterations(o.MaxIterations))
	}
	if o.MaxHandoffs > 0 {
		opts = append(opts, agent.WithMaxHandoffs(o.MaxHandoffs))
	}
	if o.ExecutionTimeout > 0 {
		opts = append(opts, agent.WithExecutionTimeout(seconds(o.ExecutionTimeout)))
	}
	if o.NodeTimeout > 0 {
		opts = append(opts, agent.WithNodeTimeout(seconds(o.NodeTimeout)))
	}
	return opts
}

func (s *Service) swarm(ctx context.Context, inv Invocation) *Outcome {
	res := s.manager.RunSwarm(ctx, inv.Task, s.runOptions(inv.Options, inv.StartAgent, inv.RunID)...)
	return &Outcome{
		RunID:     res.RunID,
		Success:   res.Success,
		Output:    res.Output,
		Error:     res.Error,
		Result:    res.ToMap(),
		StartedAt: res.StartedAt,
		Duration:  res.Duration,
	}
}

func (s *Service) orchestratorOptions(o InvocationOptions) OrchestratorOptions {
	opts := OptionsFromConfig(s.cfg)
	if o.TimeFrom != "" {
		opts.TimeFrom = o.TimeFrom
	}
	if o.TimeTo != "" {
		opts.TimeTo = o.TimeTo
	}
	if o.CreateTickets != nil {
		opts.CreateTickets = *o.CreateTickets
	}
	if o.MinSeverity != "" {
		opts.MinSeverity = analysis.ParseSeverity(o.MinSeverity)
	}
	if o.DryRun != nil {
		opts.DryRun = *o.DryRun
	}
	return opts
}

func (s *Service) pipeline(ctx context.Context, inv Invocation) *Outcome {
	res := NewOrchestrator(s.deps, s.orchestratorOptions(inv.Options)).
		Execute(ctx, PipelineRequest{Task: inv.Task})
	return pipelineOutcome(res)
}

func (s *Service) daily(ctx context.Context, inv Invocation) *Outcome {
	o := s.orchestratorOptions(inv.Options)
	d := NewDaily(s.deps, DailyOptions{
		TimeFrom:      o.TimeFrom,
		TimeTo:        o.TimeTo,
		CreateTickets: o.CreateTickets,
		MinSeverity:   o.MinSeverity,
		DryRun:        o.DryRun,
	}, s.cfg.Datadog)
	return pipelineOutcome(d.Run(ctx))
}

func pipelineOutcome(res *PipelineResult) *Outcome {
	return &Outcome{
		RunID:     res.RunID,
		Success:   res.Success,
		Output:    res.Summary,
		Error:     res.Error,
		Result:    res.ToMap(),
		StartedAt: res.StartedAt,
		Duration:  res.Duration,
	}
}

// NewProcessor picks the per-service processor configured for proactive runs.
func (s *Service) NewProcessor(minSeverity analysis.Severity) Processor {
	if s.cfg.Workflow.UseLightweightProcessor {
		return NewServiceProcessor(s.deps, minSeverity)
	}
	return NewSwarmProcessor(s.cfg, s.agents, s.manager.Events().Broadcast)
}

func (s *Service) proactive(ctx context.Context, inv Invocation) *Outcome {
	opts := ProactiveOptionsFromConfig(s.cfg)
	if inv.Options.TimeFrom != "" {
		opts.TimeFrom = inv.Options.TimeFrom
	}
	if inv.Options.TimeTo != "" {
		opts.TimeTo = inv.Options.TimeTo
	}
	minSeverity := s.orchestratorOptions(inv.Options).MinSeverity

	rep := NewProactive(s.deps, s.NewProcessor(minSeverity), opts).Run(ctx)
	return &Outcome{
		RunID:     rep.RunID,
		Success:   rep.Success,
		Output:    rep.Summary,
		Error:     rep.Error,
		Result:    rep.ToMap(),
		StartedAt: rep.StartedAt,
		Duration:  rep.Duration,
	}
}

func (s *Service) chat(ctx context.Context, inv Invocation) *Outcome {
	out := &Outcome{RunID: uuid.New().String(), SessionID: inv.SessionID}
	if out.SessionID == "" {
		out.SessionID = uuid.New().String()
	}

	var history []llm.Message
	if s.sessions != nil {
		entries, err := s.sessions.Read(ctx, out.SessionID, historyLimit)
		if err != nil {
			logging.Warn(dispatchSubject, "failed to read session %s: %v", out.SessionID, err)
		}
		for _, e := range entries {
			history = append(history, llm.Message{Role: e.Role, Content: e.Content})
		}
	}

	reply, err := s.manager.Chat(ctx, inv.Message, history)
	if err != nil {
		out.Error = err.Error()
		out.Result = map[string]interface{}{"success": false, "error": out.Error, "session_id": out.SessionID}
		return out
	}

	out.Success = true
	out.Output = reply.Response
	out.Result = map[string]interface{}{
		"success":    true,
		"response":   reply.Response,
		"session_id": out.SessionID,
		"actions":    len(reply.Actions),
	}

	if s.sessions != nil {
		err := s.sessions.Append(ctx, out.SessionID,
			repository.SessionEntry{Role: "user", Content: inv.Message},
			repository.SessionEntry{Role: "assistant", Content: reply.Response},
		)
		if err != nil {
			logging.Warn(dispatchSubject, "failed to append session %s: %v", out.SessionID, err)
		}
	}
	return out
}

func (s *Service) record(ctx context.Context, inv Invocation, out *Outcome) {
	if s.runs == nil {
		return
	}
	task := inv.Task
	if inv.Mode == ModeChat {
		task = inv.Message
	}
	err := s.runs.Save(ctx, &repository.Run{
		ID:        out.RunID,
		Mode:      string(inv.Mode),
		Task:      task,
		SessionID: out.SessionID,
		Success:   out.Success,
		Output:    out.Output,
		Error:     out.Error,
		Result:    out.Result,
		StartedAt: out.StartedAt,
		Duration:  out.Duration,
	})
	if err != nil {
		logging.Warn(dispatchSubject, "failed to save run %s: %v", out.RunID, err)
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
